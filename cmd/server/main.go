package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/afero"
	"go.uber.org/zap"

	"pos-offline-core/internal/api"
	"pos-offline-core/internal/cache"
	"pos-offline-core/internal/catalog"
	"pos-offline-core/internal/config"
	"pos-offline-core/internal/database"
	"pos-offline-core/internal/logger"
	"pos-offline-core/internal/mirror"
	"pos-offline-core/internal/persist"
	"pos-offline-core/internal/remote"
	"pos-offline-core/internal/store"
	"pos-offline-core/internal/sync"
)

func main() {
	configPath := flag.String("config", envOr("POS_OFFLINE_CONFIG", "config.yaml"), "path to config.yaml")
	flag.Parse()

	// Load Config
	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		fmt.Printf("Failed to load config: %v\n", err)
		os.Exit(1)
	}

	// Init Logger
	if err := logger.InitLogger(cfg.Logging.Level, cfg.Logging.Format); err != nil {
		fmt.Printf("Failed to init logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	logger.Log.Info("Starting POS offline core")
	ctx := context.Background()

	// Durable store
	db, err := database.Open(database.OptionsFromConfig(cfg.Store))
	if err != nil {
		logger.Log.Fatal("Failed to open offline database",
			zap.String("kind", database.KindOf(err).String()), zap.Error(err))
	}
	offlineStore, err := store.NewBadgerStore(ctx, db)
	if err != nil {
		logger.Log.Fatal("Failed to init offline store", zap.Error(err))
	}
	defer offlineStore.Close()

	// Persistence
	lock := persist.NewWriteLock()
	monitor := store.NewMonitor(offlineStore, lock)
	sink := persist.NewSink(offlineStore, monitor, lock)

	var channel *persist.Channel
	if cfg.Persist.ChannelEnabled {
		channel = persist.NewChannel(cfg.Persist, sink)
		channel.Start()
		monitor.AddListener(channel)
	}
	writer := persist.NewWriter(sink, channel)

	flat, err := persist.NewFlatStore(afero.NewOsFs(), cfg.Fallback)
	if err != nil {
		logger.Log.Warn("Flat fallback disabled", zap.Error(err))
		flat = nil
	}

	// Memory mirror
	m := mirror.New(offlineStore, writer, flat, monitor, mirror.OptionsFromConfig(cfg))
	monitor.AddListener(m)
	if err := m.Load(ctx); err != nil {
		logger.Log.Fatal("Failed to load memory mirror", zap.Error(err))
	}

	// Read caches
	priceSession, err := cache.NewSession[[]store.ItemPrice](cfg.Cache.SessionMaxEntries)
	if err != nil {
		logger.Log.Fatal("Failed to init price session cache", zap.Error(err))
	}
	detailSession, err := cache.NewSession[cache.ItemDetail](cfg.Cache.SessionMaxEntries)
	if err != nil {
		logger.Log.Fatal("Failed to init item detail session cache", zap.Error(err))
	}
	prices := cache.NewPriceListCache(offlineStore, writer, cfg.Cache.GetPriceListTTL(), cfg.Cache.MemoryMaxEntries, priceSession)
	details := cache.NewItemDetailsCache(offlineStore, writer, cfg.Cache.GetItemDetailsTTL(), cfg.Cache.MemoryMaxEntries, detailSession)
	balances := cache.NewBalanceCache(m, cfg.Cache.GetCustomerBalanceTTL(), cfg.Cache.MemoryMaxEntries)

	// Backend
	client := remote.NewClient(cfg.Remote)
	defer client.Close()
	conn := remote.NewConnectivity(m)

	// Reconciliation
	reconciler := sync.NewReconciler(cfg.Sync, m, client, conn, prices, details)
	scheduler := sync.NewScheduler(cfg.Scheduler, reconciler)
	if cfg.Sync.SyncOnReconnect {
		scheduler.SyncOnReconnect(conn)
	}
	maintenance := map[string]func(){
		"cache-cleanup": func() {
			prices.Cleanup()
			details.Cleanup()
		},
		"balance-expiry": func() {
			if _, err := balances.ClearExpired(); err != nil {
				logger.Log.Warn("Failed to expire customer balances", zap.Error(err))
			}
		},
		"queue-cap": func() {
			if m.QueueOverCap(0) {
				if err := m.PurgeOldQueueEntries(0); err != nil {
					logger.Log.Warn("Failed to purge queues", zap.Error(err))
				}
			}
		},
	}
	for name, fn := range maintenance {
		if err := scheduler.Every("@every 10m", name, fn); err != nil {
			logger.Log.Error("Failed to schedule maintenance", zap.String("job", name), zap.Error(err))
		}
	}
	scheduler.Start()

	// Init API
	handler := api.NewHandler(cfg.Server, api.Services{
		Reconciler: reconciler,
		Mirror:     m,
		Conn:       conn,
		Monitor:    monitor,
		Catalog:    catalog.New(offlineStore, writer, monitor),
		Prices:     prices,
		Details:    details,
		Balances:   balances,
	})
	router := handler.Routes()

	// Start Server
	serverAddr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	server := &http.Server{
		Addr:         serverAddr,
		Handler:      router,
		ReadTimeout:  cfg.Server.GetReadTimeout(),
		WriteTimeout: cfg.Server.GetWriteTimeout(),
	}

	go func() {
		logger.Log.Info("Server listening", zap.String("addr", serverAddr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Log.Fatal("Server failed", zap.Error(err))
		}
	}()

	// Graceful Shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Log.Info("Shutting down server...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Log.Error("Server shutdown failed", zap.Error(err))
	}
	conn.Stop()
	scheduler.Stop()

	if err := m.Flush(shutdownCtx); err != nil {
		logger.Log.Error("Failed to flush pending writes", zap.Error(err))
	}
	writer.Close()
	if channel != nil {
		channel.Stop()
	}
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
