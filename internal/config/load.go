package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
)

// setDefaults registers the values used when config.yaml omits a key.
func setDefaults(v *viper.Viper) {
	v.SetDefault("store.path", "data/offline")
	v.SetDefault("store.in_memory", false)
	v.SetDefault("store.sync_writes", true)
	v.SetDefault("store.gc_interval", "5m")
	v.SetDefault("store.gc_discard_ratio", 0.5)
	v.SetDefault("store.quota_bytes", 50*1024*1024)

	v.SetDefault("fallback.dir", "data/fallback")
	v.SetDefault("fallback.prefix", "posa_")
	v.SetDefault("fallback.max_value_bytes", 64*1024)

	v.SetDefault("persist.channel_enabled", true)
	v.SetDefault("persist.inbox_size", 1024)
	v.SetDefault("persist.batch_size", 64)
	v.SetDefault("persist.flush_interval", "100ms")

	v.SetDefault("cache.memory_max_entries", 500)
	v.SetDefault("cache.session_max_entries", 2000)
	v.SetDefault("cache.price_list_ttl", "15m")
	v.SetDefault("cache.item_details_ttl", "15m")
	v.SetDefault("cache.customer_balance_ttl", "24h")

	v.SetDefault("queue.max_entries", 1000)

	v.SetDefault("remote.timeout", "30s")

	v.SetDefault("sync.shrink_after_clean_sync", true)
	v.SetDefault("sync.sync_on_reconnect", true)

	v.SetDefault("scheduler.enabled", true)
	v.SetDefault("scheduler.interval", "@every 1m")

	v.SetDefault("server.host", "127.0.0.1")
	v.SetDefault("server.port", 8089)
	v.SetDefault("server.read_timeout", "15s")
	v.SetDefault("server.write_timeout", "30s")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
}

// Default returns a Config populated only from defaults.
func Default() *Config {
	v := viper.New()
	setDefaults(v)
	var cfg Config
	// Defaults always decode.
	_ = v.Unmarshal(&cfg)
	return &cfg
}

// LoadConfig reads the YAML file at path, applies POS_* environment
// overrides and validates the result. A missing file is not an error.
func LoadConfig(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetConfigFile(path)
	v.SetConfigType("yaml")
	v.SetEnvPrefix("POS")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) && !isNotExist(err) {
			return nil, fmt.Errorf("failed to read config %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks struct tags and the duration strings.
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	durations := map[string]string{
		"persist.flush_interval":     c.Persist.FlushInterval,
		"cache.price_list_ttl":       c.Cache.PriceListTTL,
		"cache.item_details_ttl":     c.Cache.ItemDetailsTTL,
		"cache.customer_balance_ttl": c.Cache.CustomerBalanceTTL,
	}
	for key, raw := range durations {
		d, err := time.ParseDuration(raw)
		if err != nil {
			return fmt.Errorf("invalid config: %s: %w", key, err)
		}
		if d <= 0 {
			return fmt.Errorf("invalid config: %s must be positive", key)
		}
	}
	return nil
}

func isNotExist(err error) bool {
	return errors.Is(err, fs.ErrNotExist)
}
