package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/andygrunwald/fuel-price-scraper/internal/http"
	"github.com/andygrunwald/fuel-price-scraper/internal/metrics"
	"github.com/andygrunwald/fuel-price-scraper/internal/pipeline"
	"github.com/andygrunwald/fuel-price-scraper/internal/scheduler"
)

func runCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Start the continuous ingestion service",
		Long: `Starts the fuel price service. Once a day at the run hour it ingests every
*.jsonl file from the inbox directory and geocodes stations that still lack
coordinates. Metrics, status and health are served over HTTP.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := setupLogger()

			logger.Info().
				Str("version", Version).
				Str("commit", Commit).
				Str("buildDate", BuildDate).
				Str("httpAddr", cfg.HTTPAddr).
				Str("driver", cfg.DatabaseDriver).
				Str("geocoder", cfg.Geocode.Provider).
				Str("inbox", cfg.InboxDir).
				Int("runHour", cfg.RunHour).
				Msg("starting fuel price scraper")

			reg := prometheus.NewRegistry()
			reg.MustRegister(
				collectors.NewGoCollector(),
				collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
			)
			m := metrics.New(reg)

			p, err := newPipeline(m, logger)
			if err != nil {
				return err
			}

			if err := os.MkdirAll(cfg.InboxDir, 0o755); err != nil {
				return fmt.Errorf("creating inbox %s: %w", cfg.InboxDir, err)
			}

			// Setup signal handling
			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			// Long-lived connection for the status endpoint
			statusDB, err := openDB(ctx, m, logger)
			if err != nil {
				return err
			}
			defer statusDB.Close() //nolint:errcheck
			if err := statusDB.Migrate(ctx); err != nil {
				return err
			}

			job := dailyJob(p, cfg.InboxDir, cfg.GeocodingEnabled())
			sched := scheduler.New(job, cfg.RunHour, logger,
				scheduler.WithRanCheck(func(ctx context.Context, now time.Time) (bool, error) {
					last, err := statusDB.LastRun(ctx)
					if err != nil || last == nil {
						return false, err
					}
					return scheduler.SameDay(last.FinishedAt, now), nil
				}),
			)

			status := http.NewStatusHandler(p, sched, statusDB, logger)
			httpServer := http.NewServer(cfg.HTTPAddr, reg, status, logger)

			g, gctx := errgroup.WithContext(ctx)

			g.Go(func() error {
				if err := httpServer.Start(); err != nil {
					return fmt.Errorf("HTTP server: %w", err)
				}
				return nil
			})

			g.Go(func() error {
				<-gctx.Done()

				// Graceful shutdown
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
				defer cancel()
				if err := httpServer.Shutdown(shutdownCtx); err != nil {
					logger.Error().Err(err).Msg("HTTP server shutdown error")
				}
				return nil
			})

			g.Go(func() error {
				if err := sched.Start(gctx); err != nil && !errors.Is(err, context.Canceled) {
					return fmt.Errorf("scheduler: %w", err)
				}
				return nil
			})

			err = g.Wait()
			logger.Info().Msg("shutdown complete")
			return err
		},
	}

	cmd.Flags().IntVar(&cfg.RunHour, "run-hour", cfg.RunHour, "Hour of day (0-23) to run the daily job")
	cmd.Flags().StringVar(&cfg.InboxDir, "inbox", cfg.InboxDir, "Directory with *.jsonl batches to ingest")
	cmd.Flags().StringVar(&cfg.HTTPAddr, "http-addr", cfg.HTTPAddr, "HTTP server address for /metrics, /status, /health")

	return cmd
}

// dailyJob ingests the inbox and then geocodes what is still missing.
func dailyJob(p *pipeline.Pipeline, inbox string, geocoding bool) scheduler.Job {
	return func(ctx context.Context) error {
		if _, err := p.IngestInbox(ctx, inbox); err != nil {
			return fmt.Errorf("ingesting inbox: %w", err)
		}
		if !geocoding {
			return nil
		}
		if _, err := p.Backfill(ctx, 0); err != nil {
			return fmt.Errorf("geocoding backfill: %w", err)
		}
		return nil
	}
}
