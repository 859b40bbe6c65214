package main

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/andygrunwald/fuel-price-scraper/internal/config"
	"github.com/andygrunwald/fuel-price-scraper/internal/metrics"
)

func backfillCmd() *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "backfill",
		Short: "Geocode stored stations that have no coordinates yet",
		Long:  "Looks up coordinates for every stored station without a location, using the configured geocoder.",
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := setupLogger()

			if cfg.Geocode.Provider == config.GeocoderNone {
				return fmt.Errorf("backfill needs a geocoder, set --geocoder")
			}

			p, err := newPipeline(metrics.New(prometheus.NewRegistry()), logger)
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			logger.Info().Int("limit", limit).Msg("starting backfill")

			summary, err := p.Backfill(ctx, limit)
			fmt.Printf("%d candidates, %d resolved, %d unresolved, %d failed\n",
				summary.Candidates, summary.Resolved, summary.Unresolved, summary.Failed)
			return err
		},
	}

	cmd.Flags().IntVar(&limit, "limit", 0, "Maximum number of stations to geocode (0 = all)")

	return cmd
}
