// Command etl converts a directory of NOAA paleoclimate text templates into
// LiPD datasets, optionally publishing the flattened time series to Kafka.
// With SERVE=true it keeps running and serves the conversion API.
package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/couchcryptid/paleo-data-etl/internal/adapter/fs"
	"github.com/couchcryptid/paleo-data-etl/internal/adapter/httpapi"
	kafkaadapter "github.com/couchcryptid/paleo-data-etl/internal/adapter/kafka"
	"github.com/couchcryptid/paleo-data-etl/internal/adapter/mapbox"
	"github.com/couchcryptid/paleo-data-etl/internal/config"
	"github.com/couchcryptid/paleo-data-etl/internal/domain"
	"github.com/couchcryptid/paleo-data-etl/internal/noaa"
	"github.com/couchcryptid/paleo-data-etl/internal/observability"
	"github.com/couchcryptid/paleo-data-etl/internal/pipeline"
)

type readyFunc func(ctx context.Context) error

func (f readyFunc) CheckReadiness(ctx context.Context) error { return f(ctx) }

func main() {
	os.Exit(run())
}

func run() int {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		return 1
	}

	logger := observability.NewLogger(cfg)
	metrics := observability.NewMetrics()

	// Initialize geocoder (feature-flagged via MAPBOX_ENABLED / MAPBOX_TOKEN).
	var geocoder domain.Geocoder
	if cfg.MapboxEnabled {
		client := mapbox.NewClient(cfg.MapboxToken, cfg.MapboxTimeout, metrics, logger)
		geocoder = mapbox.NewCachedGeocoder(client, cfg.MapboxCacheSize, cfg.MapboxCacheTTL, metrics)
		metrics.GeocodeEnabled.Set(1)
		logger.Info("mapbox geocoding enabled",
			"cache_size", cfg.MapboxCacheSize, "cache_ttl", cfg.MapboxCacheTTL, "timeout", cfg.MapboxTimeout)
	} else {
		logger.Info("mapbox geocoding disabled")
	}

	tables := noaa.DefaultFieldTables()
	if cfg.FieldTablesPath != "" {
		tables, err = noaa.LoadFieldTables(cfg.FieldTablesPath)
		if err != nil {
			logger.Error("failed to load field tables", "path", cfg.FieldTablesPath, "error", err)
			return 1
		}
	}
	conv := pipeline.NewConverter(noaa.NewParser(tables), geocoder, logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var p *pipeline.Pipeline
	var closers []func() error
	defer func() {
		for _, c := range closers {
			if err := c(); err != nil {
				logger.Error("close error", "error", err)
			}
		}
	}()

	if cfg.InputDir != "" {
		opts := []pipeline.Option{pipeline.WithWorkers(cfg.Workers)}

		quarantine, err := fs.OpenQuarantine(cfg.QuarantineLog)
		if err != nil {
			logger.Error("failed to open quarantine log", "path", cfg.QuarantineLog, "error", err)
			return 1
		}
		closers = append(closers, quarantine.Close)
		opts = append(opts, pipeline.WithQuarantine(quarantine))

		if cfg.KafkaEnabled {
			writer := kafkaadapter.NewWriter(cfg.KafkaBrokers, cfg.KafkaTimeseriesTopic, logger)
			closers = append(closers, writer.Close)
			opts = append(opts, pipeline.WithPublisher(writer))
			logger.Info("kafka publishing enabled", "brokers", cfg.KafkaBrokers, "topic", cfg.KafkaTimeseriesTopic)
		}

		p = pipeline.New(fs.NewSource(cfg.InputDir), fs.NewStore(cfg.OutputDir), conv, logger, metrics, opts...)
	}

	if !cfg.Serve {
		report, err := p.Run(ctx)
		if err != nil {
			logger.Error("pipeline error", "error", err)
			return 1
		}
		if len(report.Failed()) > 0 {
			return 1
		}
		return 0
	}

	var ready readyFunc = func(context.Context) error { return nil }
	if p != nil {
		ready = p.CheckReadiness
	}
	srv := httpapi.NewServer(cfg.HTTPAddr, conv, ready, logger)

	// Start HTTP server.
	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server error", "error", err)
			stop()
		}
	}()

	// Convert the input directory once while serving.
	batchDone := make(chan struct{})
	if p != nil {
		go func() {
			defer close(batchDone)
			if _, err := p.Run(ctx); err != nil {
				logger.Error("pipeline error", "error", err)
			}
		}()
	} else {
		close(batchDone)
	}

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("http server shutdown error", "error", err)
	}
	select {
	case <-batchDone:
	case <-shutdownCtx.Done():
		logger.Warn("batch still running at shutdown deadline")
	}

	logger.Info("shutdown complete")
	return 0
}
