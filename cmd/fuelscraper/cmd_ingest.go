package main

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/andygrunwald/fuel-price-scraper/internal/config"
	"github.com/andygrunwald/fuel-price-scraper/internal/metrics"
	"github.com/andygrunwald/fuel-price-scraper/internal/models"
	"github.com/andygrunwald/fuel-price-scraper/internal/source"
)

func ingestCmd() *cobra.Command {
	var noGeocode bool
	var sourceName string

	cmd := &cobra.Command{
		Use:   "ingest [files or URLs...]",
		Short: "Ingest scraped records from JSON Lines files",
		Long: `Reads scraped station records (one JSON object per line) and stores them.
Each file or http(s) feed URL is processed as its own batch. Without arguments,
records are read from stdin.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := setupLogger()

			if noGeocode {
				cfg.Geocode.Provider = config.GeocoderNone
			}

			p, err := newPipeline(metrics.New(prometheus.NewRegistry()), logger)
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			if len(args) == 0 {
				name := sourceName
				if name == "" {
					name = "stdin"
				}
				run, err := p.Run(ctx, source.NewJSONLines(name, cmd.InOrStdin()))
				printSummary(run)
				return err
			}

			for _, path := range args {
				src, err := openInput(ctx, nil, path, sourceName)
				if err != nil {
					return err
				}

				run, err := p.Run(ctx, src)
				src.Close() //nolint:errcheck
				printSummary(run)
				if err != nil {
					return fmt.Errorf("ingesting %s: %w", path, err)
				}
			}

			return nil
		},
	}

	cmd.Flags().BoolVar(&noGeocode, "no-geocode", false, "Store records without geocoding")
	cmd.Flags().StringVar(&sourceName, "source", "", "Source name recorded for the batch (defaults to the file name)")

	return cmd
}

// openInput opens a local file or an http(s) feed URL. A non-empty name
// overrides the name derived from the path.
func openInput(ctx context.Context, client *http.Client, path, name string) (*source.JSONLines, error) {
	var r io.ReadCloser
	if source.IsURL(path) {
		body, urlName, err := source.FetchURL(ctx, client, path)
		if err != nil {
			return nil, fmt.Errorf("fetching %s: %w", path, err)
		}
		r = body
		if name == "" {
			name = urlName
		}
	} else {
		f, err := os.Open(path)
		if err != nil {
			return nil, fmt.Errorf("opening %s: %w", path, err)
		}
		r = f
		if name == "" {
			name = filepath.Base(path)
		}
	}

	return source.NewJSONLines(name, r), nil
}

func printSummary(run *models.BatchRun) {
	if run == nil {
		return
	}
	s := run.Summary
	fmt.Fprintf(os.Stdout, "%s: %d records, %d saved, %d rejected, %d failed\n",
		run.Source, s.Total, s.Saved, s.Rejected, s.Failed)
	fmt.Fprintf(os.Stdout, "  stations created: %d, observations appended: %d, duplicates: %d\n",
		s.StationsCreated, s.ObservationsAppended, s.DuplicateObservations)
	fmt.Fprintf(os.Stdout, "  geocoding: %d resolved, %d unresolved, %d failed, %d skipped\n",
		s.Resolved, s.Unresolved, s.GeocodeFailed, s.GeocodeSkipped)
}
