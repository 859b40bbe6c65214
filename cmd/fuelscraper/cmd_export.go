package main

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/andygrunwald/fuel-price-scraper/internal/export"
	"github.com/andygrunwald/fuel-price-scraper/internal/models"
)

func exportCmd() *cobra.Command {
	var out string

	cmd := &cobra.Command{
		Use:   "export",
		Short: "Export geocoded stations with their latest prices as GeoJSON",
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := setupLogger()
			ctx := context.Background()

			db, err := openDB(ctx, nil, logger)
			if err != nil {
				return err
			}
			defer db.Close() //nolint:errcheck

			if err := db.Migrate(ctx); err != nil {
				return err
			}

			stations, err := db.StationsWithLatestPrice(ctx)
			if err != nil {
				return err
			}

			n, err := writeExport(cmd.OutOrStdout(), out, stations)
			if err != nil {
				return err
			}

			logger.Info().Int("features", n).Str("out", out).Msg("exported stations")
			return nil
		},
	}

	cmd.Flags().StringVarP(&out, "out", "o", "", "Output file (default stdout)")

	return cmd
}

// writeExport writes the GeoJSON document to out, or to stdout if out is
// empty or "-".
func writeExport(stdout io.Writer, out string, stations []models.StationPrice) (n int, err error) {
	if out == "" || out == "-" {
		return export.GeoJSON(stdout, stations)
	}

	f, err := os.Create(out)
	if err != nil {
		return 0, fmt.Errorf("creating %s: %w", out, err)
	}
	defer func() {
		if cerr := f.Close(); cerr != nil && err == nil {
			err = fmt.Errorf("closing %s: %w", out, cerr)
		}
	}()

	return export.GeoJSON(f, stations)
}
