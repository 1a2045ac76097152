package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/afroash/envdash/internal/agent"
	"github.com/afroash/envdash/internal/config"
	"github.com/afroash/envdash/internal/models"
	"github.com/afroash/envdash/internal/sensor"
)

const version = "v0.3.0"

func main() {
	configPath := flag.String("config", "configs/sensord.yaml", "path to config file")
	flag.Parse()

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	logger := config.NewLogger(cfg.Logging, os.Stdout).With().
		Str("sensor_id", cfg.Sensor.ID).
		Logger()

	logger.Info().
		Str("version", version).
		Str("type", cfg.Sensor.Type).
		Str("location", cfg.Sensor.Location).
		Msg("Starting device agent")

	dhtSensor, err := newSensor(cfg.Sensor)
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to open sensor")
	}

	reader := sensor.NewReader(dhtSensor, cfg.Sensor.ReadInterval, logger.With().Str("component", "reader").Logger())
	defer reader.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigChan
		logger.Info().Str("signal", sig.String()).Msg("Received shutdown signal")
		cancel()
	}()

	if err := run(ctx, cfg, reader, logger); err != nil {
		logger.Fatal().Err(err).Msg("Agent failed")
	}
	logger.Info().Msg("Device agent stopped")
}

// newSensor opens the hardware sensor or the software one for development
func newSensor(cfg config.SensorConfig) (sensor.DHTSensor, error) {
	if cfg.Simulated() {
		return sensor.NewSimulatedSensor(22, 45, 0), nil
	}
	return sensor.NewDHT11Reader(cfg.GPIOPin)
}

// newHandler builds the device API on top of reader
func newHandler(cfg *config.Config, reader *sensor.Reader, logger zerolog.Logger) http.Handler {
	info := models.NewSensorInfo(cfg.Sensor.ID, cfg.Sensor.Location, cfg.Sensor.Type, version)
	prober := agent.NewProber(agent.ProbeConfig{
		Timeout:    cfg.Agent.PingTimeout,
		Count:      cfg.Agent.PingCount,
		Privileged: cfg.Agent.PrivilegedPing,
	})
	waker := agent.NewWaker(cfg.Agent.BroadcastAddr)

	// /ping allows for the probe itself plus some slack for the response
	a := agent.New(reader, prober, waker, info, cfg.Agent.PingTimeout+time.Second, logger.With().Str("component", "agent").Logger())
	return a.Router(cfg.Agent.AllowedOrigins)
}

// run samples the sensor and serves the device API until ctx is cancelled
func run(ctx context.Context, cfg *config.Config, reader *sensor.Reader, logger zerolog.Logger) error {
	go reader.Start(ctx)

	srv := &http.Server{
		Addr:         cfg.Agent.Addr(),
		Handler:      newHandler(cfg, reader, logger),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: cfg.Agent.PingTimeout + 5*time.Second,
	}

	errChan := make(chan error, 1)
	go func() {
		logger.Info().Str("addr", srv.Addr).Msg("Device API listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errChan <- err
		}
		close(errChan)
	}()

	select {
	case err := <-errChan:
		if err != nil {
			return fmt.Errorf("listen: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}
