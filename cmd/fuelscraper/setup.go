package main

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/andygrunwald/fuel-price-scraper/internal/config"
	"github.com/andygrunwald/fuel-price-scraper/internal/database"
	"github.com/andygrunwald/fuel-price-scraper/internal/geocode"
	"github.com/andygrunwald/fuel-price-scraper/internal/metrics"
	"github.com/andygrunwald/fuel-price-scraper/internal/pipeline"
)

// newGeocoder creates the configured geocoder, or nil if geocoding is disabled.
func newGeocoder(c config.GeocodeConfig, logger zerolog.Logger) (geocode.Geocoder, error) {
	opts := []geocode.ClientOption{
		geocode.WithBaseURL(c.Endpoint),
		geocode.WithUserAgent(c.UserAgent),
	}

	switch c.Provider {
	case config.GeocoderGoogle:
		return geocode.NewGoogle(c.APIKey, logger, opts...), nil
	case config.GeocoderNominatim:
		return geocode.NewNominatim(logger, opts...), nil
	case config.GeocoderNone:
		return nil, nil
	default:
		return nil, fmt.Errorf("unsupported geocoder %q", c.Provider)
	}
}

// newGeocodeService wires the geocoder with rate limit and retry policy.
// It returns nil if geocoding is disabled.
func newGeocodeService(c config.GeocodeConfig, m *metrics.Metrics, logger zerolog.Logger) (*geocode.Service, error) {
	g, err := newGeocoder(c, logger)
	if err != nil || g == nil {
		return nil, err
	}

	policy := geocode.DefaultRetryPolicy()
	policy.MaxAttempts = c.MaxAttempts
	policy.Backoff = c.Backoff

	return geocode.NewService(g, logger,
		geocode.WithMinDelay(c.MinDelay),
		geocode.WithRetryPolicy(policy),
		geocode.WithOptions(geocode.Options{Language: c.Language, Region: c.Region}),
		geocode.WithMetrics(m),
	), nil
}

// storeOpener returns a pipeline.Opener for the configured database.
func storeOpener(m *metrics.Metrics, logger zerolog.Logger) pipeline.Opener {
	return func(ctx context.Context) (pipeline.Store, error) {
		db, err := openDB(ctx, m, logger)
		if err != nil {
			return nil, err
		}
		return db, nil
	}
}

func openDB(ctx context.Context, m *metrics.Metrics, logger zerolog.Logger) (*database.DB, error) {
	db, err := database.Open(ctx, cfg.DatabaseDriver, cfg.DatabaseDSN, logger, database.WithMetrics(m))
	if err != nil {
		return nil, fmt.Errorf("connecting to database: %w", err)
	}
	return db, nil
}

// newPipeline validates the configuration and builds the pipeline.
func newPipeline(m *metrics.Metrics, logger zerolog.Logger) (*pipeline.Pipeline, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	service, err := newGeocodeService(cfg.Geocode, m, logger)
	if err != nil {
		return nil, err
	}
	if service == nil {
		logger.Warn().Msg("geocoding is disabled, stations are stored without coordinates")
	}

	return pipeline.New(storeOpener(m, logger), service, logger, pipeline.WithMetrics(m)), nil
}
