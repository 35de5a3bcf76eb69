package config

import (
	"time"
)

type Config struct {
	Store     StoreConfig     `mapstructure:"store"`
	Fallback  FallbackConfig  `mapstructure:"fallback"`
	Persist   PersistConfig   `mapstructure:"persist"`
	Cache     CacheConfig     `mapstructure:"cache"`
	Queue     QueueConfig     `mapstructure:"queue"`
	Remote    RemoteConfig    `mapstructure:"remote"`
	Sync      SyncConfig      `mapstructure:"sync"`
	Scheduler SchedulerConfig `mapstructure:"scheduler"`
	Server    ServerConfig    `mapstructure:"server"`
	Logging   LoggingConfig   `mapstructure:"logging"`
}

// StoreConfig configures the embedded durable store.
type StoreConfig struct {
	Path           string  `mapstructure:"path" validate:"required_without=InMemory"`
	InMemory       bool    `mapstructure:"in_memory"`
	SyncWrites     bool    `mapstructure:"sync_writes"`
	GCInterval     string  `mapstructure:"gc_interval"`
	GCDiscardRatio float64 `mapstructure:"gc_discard_ratio" validate:"gte=0,lte=1"`
	QuotaBytes     int64   `mapstructure:"quota_bytes" validate:"gte=0"`
}

func (s StoreConfig) GetGCInterval() time.Duration {
	d, _ := time.ParseDuration(s.GCInterval)
	return d
}

// FallbackConfig configures the flat key-value fallback used for fast restarts.
type FallbackConfig struct {
	Dir           string `mapstructure:"dir"`
	Prefix        string `mapstructure:"prefix" validate:"required"`
	MaxValueBytes int    `mapstructure:"max_value_bytes" validate:"gt=0"`
}

type PersistConfig struct {
	ChannelEnabled bool   `mapstructure:"channel_enabled"`
	InboxSize      int    `mapstructure:"inbox_size" validate:"gt=0"`
	BatchSize      int    `mapstructure:"batch_size" validate:"gt=0"`
	FlushInterval  string `mapstructure:"flush_interval"`
}

func (p PersistConfig) GetFlushInterval() time.Duration {
	d, _ := time.ParseDuration(p.FlushInterval)
	return d
}

type CacheConfig struct {
	MemoryMaxEntries   int    `mapstructure:"memory_max_entries" validate:"gt=0"`
	SessionMaxEntries  int    `mapstructure:"session_max_entries" validate:"gt=0"`
	PriceListTTL       string `mapstructure:"price_list_ttl"`
	ItemDetailsTTL     string `mapstructure:"item_details_ttl"`
	CustomerBalanceTTL string `mapstructure:"customer_balance_ttl"`
}

func (c CacheConfig) GetPriceListTTL() time.Duration {
	d, _ := time.ParseDuration(c.PriceListTTL)
	return d
}

func (c CacheConfig) GetItemDetailsTTL() time.Duration {
	d, _ := time.ParseDuration(c.ItemDetailsTTL)
	return d
}

func (c CacheConfig) GetCustomerBalanceTTL() time.Duration {
	d, _ := time.ParseDuration(c.CustomerBalanceTTL)
	return d
}

type QueueConfig struct {
	MaxEntries int `mapstructure:"max_entries" validate:"gt=0"`
}

type RemoteConfig struct {
	BaseURL   string `mapstructure:"base_url" validate:"omitempty,url"`
	APIKey    string `mapstructure:"api_key"`
	APISecret string `mapstructure:"api_secret"`
	Timeout   string `mapstructure:"timeout"`
}

func (r RemoteConfig) GetTimeout() time.Duration {
	d, _ := time.ParseDuration(r.Timeout)
	return d
}

type SyncConfig struct {
	ShrinkAfterCleanSync bool `mapstructure:"shrink_after_clean_sync"`
	SyncOnReconnect      bool `mapstructure:"sync_on_reconnect"`
}

type SchedulerConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Interval string `mapstructure:"interval"`
}

type ServerConfig struct {
	Port         int      `mapstructure:"port" validate:"gte=0,lte=65535"`
	Host         string   `mapstructure:"host"`
	AuthToken    string   `mapstructure:"auth_token"`
	ReadTimeout  string   `mapstructure:"read_timeout"`
	WriteTimeout string   `mapstructure:"write_timeout"`
	CorsOrigins  []string `mapstructure:"cors_origins"`
}

func (s ServerConfig) GetReadTimeout() time.Duration {
	d, _ := time.ParseDuration(s.ReadTimeout)
	return d
}

func (s ServerConfig) GetWriteTimeout() time.Duration {
	d, _ := time.ParseDuration(s.WriteTimeout)
	return d
}

type LoggingConfig struct {
	Level  string `mapstructure:"level" validate:"omitempty,oneof=debug info warn error"`
	Format string `mapstructure:"format" validate:"omitempty,oneof=json console"`
}
