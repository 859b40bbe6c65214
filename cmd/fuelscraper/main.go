// Package main provides the entry point for the fuel price scraper CLI.
package main

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/andygrunwald/fuel-price-scraper/internal/config"
)

var (
	// Version is set at build time.
	Version = "dev"
	// Commit is set at build time.
	Commit = "none"
	// BuildDate is set at build time.
	BuildDate = "unknown"
)

var cfg *config.Config

func main() {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		fmt.Fprintf(os.Stderr, "Error: loading .env: %v\n", err)
		os.Exit(1)
	}

	cfg = config.DefaultConfig()
	cfg.LoadFromEnv()

	rootCmd := &cobra.Command{
		Use:   "fuelscraper",
		Short: "Fuel Price Scraper - A durable history of German fuel station prices",
		Long: `Fuel Price Scraper ingests fuel prices scraped from gas station finder
websites and keeps a deduplicated history of stations, their locations
and their price observations in SQLite or PostgreSQL.

Features:
  - Idempotent ingestion of JSON Lines batches
  - Address geocoding (Google, Nominatim) with rate limiting and retries
  - Daily inbox processing with a geocoding backfill
  - GeoJSON export of the latest prices
  - Prometheus metrics and status endpoints`,
		SilenceUsage: true,
	}

	// Global flags
	rootCmd.PersistentFlags().StringVar(&cfg.DatabaseDriver, "db-driver", cfg.DatabaseDriver, "Database driver (sqlite, postgres)")
	rootCmd.PersistentFlags().StringVar(&cfg.DatabaseDSN, "db-dsn", cfg.DatabaseDSN, "Database file (sqlite) or connection string (postgres)")
	rootCmd.PersistentFlags().StringVar(&cfg.LogLevel, "log-level", cfg.LogLevel, "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().StringVar(&cfg.LogFormat, "log-format", cfg.LogFormat, "Log format (json, console)")
	rootCmd.PersistentFlags().StringVar(&cfg.Geocode.Provider, "geocoder", cfg.Geocode.Provider, "Geocoder (google, nominatim, none)")
	rootCmd.PersistentFlags().StringVar(&cfg.Geocode.APIKey, "google-api-key", cfg.Geocode.APIKey, "Google Maps API key")
	rootCmd.PersistentFlags().StringVar(&cfg.Geocode.Endpoint, "geocoder-endpoint", cfg.Geocode.Endpoint, "Override of the geocoder endpoint")
	rootCmd.PersistentFlags().DurationVar(&cfg.Geocode.MinDelay, "geocode-min-delay", cfg.Geocode.MinDelay, "Minimum delay between two geocoding requests")
	rootCmd.PersistentFlags().IntVar(&cfg.Geocode.MaxAttempts, "geocode-max-attempts", cfg.Geocode.MaxAttempts, "Geocoding attempts per address")
	rootCmd.PersistentFlags().DurationVar(&cfg.Geocode.Backoff, "geocode-backoff", cfg.Geocode.Backoff, "Delay between two geocoding attempts")

	// Add subcommands
	rootCmd.AddCommand(ingestCmd())
	rootCmd.AddCommand(backfillCmd())
	rootCmd.AddCommand(runCmd())
	rootCmd.AddCommand(exportCmd())
	rootCmd.AddCommand(versionCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func setupLogger() zerolog.Logger {
	var logger zerolog.Logger

	// Set log level
	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	// Set log format
	if cfg.LogFormat == "console" {
		logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}).
			With().
			Timestamp().
			Logger()
	} else {
		logger = zerolog.New(os.Stderr).
			With().
			Timestamp().
			Logger()
	}

	return logger
}
