package main

import (
	"context"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/afroash/envdash/internal/config"
	"github.com/afroash/envdash/internal/dashboard"
	"github.com/afroash/envdash/internal/deviceapi"
	"github.com/afroash/envdash/internal/eventloop"
	"github.com/afroash/envdash/internal/panel"
	"github.com/afroash/envdash/internal/poller"
	"github.com/afroash/envdash/internal/prefs"
	"github.com/afroash/envdash/internal/server"
	"github.com/afroash/envdash/internal/storage"
)

const version = "v0.3.0"

func main() {
	configPath := flag.String("config", "configs/dashboard.yaml", "path to config file")
	deviceURL := flag.String("url", "", "device API base URL (overrides config)")
	flag.Parse()

	cfg, err := config.LoadAppConfig(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	if *deviceURL != "" {
		cfg.Device.URL = *deviceURL
		cfg.Device.DevMode = false
	}

	logger := config.NewLogger(cfg.Logging, os.Stdout)
	logger.Info().
		Str("version", version).
		Str("device", cfg.Device.BaseURL()).
		Int("devices", len(cfg.Devices)).
		Msg("Starting envdash")
	logger.Debug().Msg(cfg.String())

	// Setup database
	if err := os.MkdirAll(filepath.Dir(cfg.Storage.DBPath), 0755); err != nil {
		log.Fatalf("Failed to create data directory: %v", err)
	}
	sqliteStore, err := storage.NewSQLiteStore(cfg.Storage.DBPath, logger.With().Str("component", "storage").Logger())
	if err != nil {
		log.Fatalf("Failed to create SQLite store: %v", err)
	}

	dbWriter := storage.NewDBWriter(sqliteStore, storage.DBWriterConfig{
		BatchSize:   cfg.Storage.BatchSize,
		FlushPeriod: cfg.Storage.FlushPeriod,
		ChannelSize: cfg.Storage.ChannelSize,
	}, logger.With().Str("component", "dbwriter").Logger())

	retentionCleaner := storage.NewRetentionCleaner(sqliteStore, storage.RetentionCleanerConfig{
		RetentionDays: cfg.Storage.RetentionDays,
		CleanupPeriod: cfg.Storage.CleanupPeriod,
	}, logger.With().Str("component", "retention").Logger())

	fallback, err := prefs.ParseTheme(cfg.Theme.Default)
	if err != nil {
		log.Fatalf("Invalid default theme: %v", err)
	}
	preferences := prefs.Load(sqliteStore, fallback, logger.With().Str("component", "prefs").Logger())

	// Event loop and state machines
	loop := eventloop.New(logger.With().Str("component", "eventloop").Logger())
	loopCtx, stopLoop := context.WithCancel(context.Background())
	loopDone := make(chan struct{})
	go func() {
		loop.Run(loopCtx)
		close(loopDone)
	}()

	device := deviceapi.New(cfg.Device.BaseURL(), &http.Client{}, logger.With().Str("component", "deviceapi").Logger())
	board := dashboard.NewBoard(cfg.Devices, preferences.Theme())
	metrics := server.NewMetrics()

	machine := poller.New(poller.Config{
		Interval:      cfg.Poll.Interval,
		Timeout:       cfg.Poll.Timeout,
		MaxFailures:   cfg.Poll.MaxFailures,
		CountdownFrom: cfg.Poll.Countdown,
		SettleDelay:   cfg.Poll.SettleDelay,
	}, loop, device, board, logger.With().Str("component", "poller").Logger())
	machine.SetObserver(metrics)

	devices := panel.New(panel.Config{
		ProbeTimeout: cfg.Panel.ProbeTimeout,
		WakeTimeout:  cfg.Panel.WakeTimeout,
		ProbeSpacing: cfg.Panel.ProbeSpacing,
		WakeDisplay:  cfg.Panel.WakeDisplay,
		RecheckDelay: cfg.Panel.RecheckDelay,
	}, cfg.Devices, loop, device, board, logger.With().Str("component", "panel").Logger())
	devices.SetRecorder(panel.Recorders{dbWriter, metrics})

	app := dashboard.NewApp(loop, machine, devices, preferences, board, logger.With().Str("component", "app").Logger())

	startCtx, cancelStart := context.WithTimeout(context.Background(), 5*time.Second)
	if err := app.Start(startCtx); err != nil {
		cancelStart()
		log.Fatalf("Failed to start dashboard: %v", err)
	}
	cancelStart()

	router := server.NewRouter(server.RouterConfig{
		Version:        version,
		AllowedOrigins: cfg.Server.AllowedOrigins,
	}, app, sqliteStore, metrics, logger)

	// /ws sets its own deadline on every write after the upgrade
	srv := &http.Server{
		Addr:         cfg.Addr(),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	go func() {
		logger.Info().Str("addr", srv.Addr).Msg("Dashboard listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("Server failed")
		}
	}()

	// Wait for shutdown signal
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	logger.Info().Msg("Shutting down...")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		logger.Error().Err(err).Msg("Server shutdown error")
	}
	if err := app.Stop(ctx); err != nil {
		logger.Warn().Err(err).Msg("Dashboard stop error")
	}
	stopLoop()
	<-loopDone

	dbWriter.Stop()
	retentionCleaner.Stop()
	if err := sqliteStore.Close(); err != nil {
		logger.Error().Err(err).Msg("SQLite close error")
	}

	logger.Info().Msg("Dashboard stopped")
}
