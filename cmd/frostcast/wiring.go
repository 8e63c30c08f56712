package main

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/sony/gobreaker"

	"github.com/kanna-karuppasamy/frost-forecaster/internal/config"
	"github.com/kanna-karuppasamy/frost-forecaster/internal/influxdb"
	"github.com/kanna-karuppasamy/frost-forecaster/internal/metrics"
	"github.com/kanna-karuppasamy/frost-forecaster/internal/processor"
	"github.com/kanna-karuppasamy/frost-forecaster/internal/state"
	"github.com/kanna-karuppasamy/frost-forecaster/internal/warehouse"
)

// app bundles everything a run needs, plus what has to be closed on exit.
type app struct {
	cfg     *config.Config
	proc    *processor.Processor
	metrics *metrics.Metrics
	closers []func()
}

func (a *app) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
}

func buildApp(ctx context.Context, logger *slog.Logger) (*app, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	logger = logger.With("zone_id", cfg.ZoneID)

	a := &app{cfg: cfg, metrics: metrics.New()}

	influxClient, err := influxdb.NewClient(ctx, cfg.InfluxDB, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create InfluxDB client: %w", err)
	}
	a.closers = append(a.closers, influxClient.Close)

	wh := warehouse.NewBreaker(influxClient, warehouse.BreakerSettings{
		MaxFailures: cfg.Breaker.MaxFailures,
		OpenTimeout: cfg.Breaker.OpenTimeout,
		OnStateChange: func(name string, to gobreaker.State) {
			a.metrics.BreakerState(name, to)
		},
	}, logger)

	blobs, err := openBlobs(cfg.State, a)
	if err != nil {
		a.Close()
		return nil, err
	}

	proc, err := processor.NewProcessor(cfg.ZoneID, cfg.Forecast, wh, state.NewStore(blobs, cfg.State.Prefix), logger,
		processor.WithObserver(a.metrics))
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("failed to create processor: %w", err)
	}
	a.proc = proc
	return a, nil
}

func openBlobs(cfg config.StateConfig, a *app) (state.BlobStore, error) {
	switch cfg.Backend {
	case "sqlite":
		s, err := state.OpenSQLite(cfg.SQLitePath)
		if err != nil {
			return nil, fmt.Errorf("failed to open state database: %w", err)
		}
		a.closers = append(a.closers, func() { _ = s.Close() })
		return s, nil
	case "none":
		return state.Nop{}, nil
	default:
		s, err := state.NewFileStore(cfg.Dir)
		if err != nil {
			return nil, fmt.Errorf("failed to prepare state directory: %w", err)
		}
		return s, nil
	}
}
