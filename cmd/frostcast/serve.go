package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/kanna-karuppasamy/frost-forecaster/internal/api"
	"github.com/kanna-karuppasamy/frost-forecaster/internal/kafka"
	"github.com/kanna-karuppasamy/frost-forecaster/internal/models"
	"github.com/kanna-karuppasamy/frost-forecaster/internal/processor"
	"github.com/kanna-karuppasamy/frost-forecaster/internal/scheduler"
)

func serveCmd(logger *slog.Logger) *cobra.Command {
	var (
		runTimeout      time.Duration
		shutdownTimeout time.Duration
		noKafka         bool
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run forecasts on a schedule, on ingest events and over HTTP",
		RunE: func(cmd *cobra.Command, args []string) error {
			// Create context that can be canceled
			ctx, cancel := context.WithCancel(cmd.Context())
			defer cancel()

			a, err := buildApp(ctx, logger)
			if err != nil {
				return err
			}
			// closed explicitly once consumers and the server have stopped
			cfg := a.cfg
			logger := logger.With("zone_id", cfg.ZoneID)

			var publisher *kafka.Publisher
			if cfg.Kafka.SummaryTopic != "" && !noKafka {
				publisher, err = kafka.NewPublisher(cfg.Kafka.Brokers, cfg.Kafka.SummaryTopic)
				if err != nil {
					a.Close()
					return fmt.Errorf("failed to create summary publisher: %w", err)
				}
			}

			runner := processor.NewRunner(a.proc,
				func(s models.RunSummary) {
					if publisher == nil {
						return
					}
					if err := publisher.Publish(s); err != nil {
						logger.Error("summary_publish_failed", "run_id", s.RunID, "error", err)
					}
				},
				func(err error) {
					a.metrics.RunFailed(cfg.ZoneID)
				},
			)

			sched := scheduler.New(cfg.Server.ScheduleEvery, runTimeout, func(ctx context.Context) error {
				_, err := runner.Run(ctx, processor.Invocation{})
				return err
			}, logger)
			if err := sched.Start(); err != nil {
				a.Close()
				return fmt.Errorf("failed to start scheduler: %w", err)
			}

			var wg sync.WaitGroup

			var consumer *kafka.Consumer
			if cfg.Kafka.IngestTopic != "" && len(cfg.Kafka.Brokers) > 0 && !noKafka {
				consumer, err = kafka.NewConsumer("ingest-consumer", cfg.ZoneID, cfg.Kafka,
					func(ctx context.Context, ev models.IngestEvent) error {
						runCtx, cancel := context.WithTimeout(ctx, runTimeout)
						defer cancel()
						_, err := runner.Run(runCtx, processor.Invocation{IngestID: ev.IngestID})
						return err
					}, logger)
				if err != nil {
					sched.Stop()
					a.Close()
					return fmt.Errorf("failed to create consumer: %w", err)
				}

				wg.Add(1)
				go func() {
					defer wg.Done()
					logger.Info("consumer_starting", "topic", cfg.Kafka.IngestTopic)
					if err := consumer.Consume(ctx); err != nil {
						logger.Error("consumer_error", "error", err)
					}
					logger.Info("consumer_stopped")
				}()
			}

			httpApp := api.NewApp("frostcast")
			api.RegisterRoutes(httpApp, cfg.ZoneID, runner, a.metrics.Handler(), runTimeout)

			serverErr := make(chan error, 1)
			go func() {
				logger.Info("http_server_starting", "addr", cfg.Server.HTTPAddr)
				if err := httpApp.Listen(cfg.Server.HTTPAddr); err != nil {
					serverErr <- err
				}
			}()

			// Handle termination signals
			sigChan := make(chan os.Signal, 1)
			signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

			var exitErr error
			select {
			case sig := <-sigChan:
				logger.Info("shutdown_signal_received", "signal", sig.String())
			case err := <-serverErr:
				exitErr = fmt.Errorf("http server failed: %w", err)
			case <-ctx.Done():
			}

			// Cancel context to stop consumers
			cancel()
			sched.Stop()

			shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer shutdownCancel()

			if err := httpApp.ShutdownWithContext(shutdownCtx); err != nil && !errors.Is(err, context.DeadlineExceeded) {
				logger.Error("http_shutdown_failed", "error", err)
			}

			done := make(chan struct{})
			go func() {
				wg.Wait()
				close(done)
			}()

			select {
			case <-done:
				logger.Info("consumers_stopped")
			case <-shutdownCtx.Done():
				logger.Warn("shutdown_timed_out")
			}

			if consumer != nil {
				if err := consumer.Close(); err != nil {
					logger.Error("consumer_close_failed", "error", err)
				}
			}
			if publisher != nil {
				if err := publisher.Close(); err != nil {
					logger.Error("publisher_close_failed", "error", err)
				}
			}

			// Now it's safe to close the warehouse and state backends
			a.Close()
			logger.Info("shutdown_complete")
			return exitErr
		},
	}

	cmd.Flags().DurationVar(&runTimeout, "run-timeout", 5*time.Minute, "Upper bound on one forecast run")
	cmd.Flags().DurationVar(&shutdownTimeout, "shutdown-timeout", 30*time.Second, "Grace period for in-flight work on exit")
	cmd.Flags().BoolVar(&noKafka, "no-kafka", false, "Disable the ingest consumer and summary publisher")
	return cmd
}
