// Package config provides configuration structures and loading for the fuel price scraper.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Geocoder names accepted in GeocodeConfig.Provider.
const (
	GeocoderGoogle    = "google"
	GeocoderNominatim = "nominatim"
	GeocoderNone      = "none"
)

// Config holds all configuration for the fuel price scraper.
type Config struct {
	// Database driver (sqlite, postgres)
	DatabaseDriver string
	// Database DSN: a file path for sqlite, a connection string for postgres
	DatabaseDSN string
	// Log level (debug, info, warn, error)
	LogLevel string
	// Log format (json, console)
	LogFormat string
	// HTTP server address
	HTTPAddr string
	// Run hour (0-23) of the daily job
	RunHour int
	// Directory polled for *.jsonl batches by the daily job
	InboxDir string
	// Geocoding settings
	Geocode GeocodeConfig
}

// GeocodeConfig holds configuration for address geocoding.
type GeocodeConfig struct {
	// Geocoder backend (google, nominatim, none)
	Provider string
	// Google Maps API key
	APIKey string
	// Override of the geocoder endpoint
	Endpoint string
	// User-Agent sent to the geocoder
	UserAgent string
	// Result language hint
	Language string
	// Region (country code) hint
	Region string
	// Minimum delay between two geocoding requests
	MinDelay time.Duration
	// Attempts per address including the first one
	MaxAttempts int
	// Delay between two attempts
	Backoff time.Duration
}

// DefaultConfig returns a Config with default values.
func DefaultConfig() *Config {
	return &Config{
		DatabaseDriver: "sqlite",
		DatabaseDSN:    "tankstellen.db",
		LogLevel:       "info",
		LogFormat:      "json",
		HTTPAddr:       ":8080",
		RunHour:        6,
		InboxDir:       "inbox",
		Geocode: GeocodeConfig{
			Provider:    GeocoderGoogle,
			UserAgent:   "fuelscraper (+https://github.com/andygrunwald/fuel-price-scraper)",
			Language:    "de",
			Region:      "de",
			MinDelay:    time.Second,
			MaxAttempts: 3,
			Backoff:     30 * time.Second,
		},
	}
}

// LoadFromEnv loads configuration from environment variables.
// Malformed numbers and durations are ignored and keep the current value.
func (c *Config) LoadFromEnv() {
	if v := os.Getenv("DATABASE_DRIVER"); v != "" {
		c.DatabaseDriver = v
	}
	if v := os.Getenv("DATABASE_DSN"); v != "" {
		c.DatabaseDSN = v
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		c.LogLevel = v
	}
	if v := os.Getenv("LOG_FORMAT"); v != "" {
		c.LogFormat = v
	}
	if v := os.Getenv("HTTP_ADDR"); v != "" {
		c.HTTPAddr = v
	}
	if v := os.Getenv("RUN_HOUR"); v != "" {
		if i, err := strconv.Atoi(v); err == nil && i >= 0 && i <= 23 {
			c.RunHour = i
		}
	}
	if v := os.Getenv("INBOX_DIR"); v != "" {
		c.InboxDir = v
	}

	if v := os.Getenv("GEOCODER"); v != "" {
		c.Geocode.Provider = strings.ToLower(v)
	}
	if v := os.Getenv("GOOGLE_MAPS_API_KEY"); v != "" {
		c.Geocode.APIKey = v
	}
	if v := os.Getenv("GEOCODER_ENDPOINT"); v != "" {
		c.Geocode.Endpoint = v
	}
	if v := os.Getenv("GEOCODER_USER_AGENT"); v != "" {
		c.Geocode.UserAgent = v
	}
	if v := os.Getenv("GEOCODE_LANGUAGE"); v != "" {
		c.Geocode.Language = v
	}
	if v := os.Getenv("GEOCODE_REGION"); v != "" {
		c.Geocode.Region = v
	}
	if v := os.Getenv("GEOCODE_MIN_DELAY"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			c.Geocode.MinDelay = d
		}
	}
	if v := os.Getenv("GEOCODE_MAX_ATTEMPTS"); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			c.Geocode.MaxAttempts = i
		}
	}
	if v := os.Getenv("GEOCODE_BACKOFF"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			c.Geocode.Backoff = d
		}
	}
}

// Validate checks the configuration for values the commands cannot work with.
func (c *Config) Validate() error {
	switch strings.ToLower(c.DatabaseDriver) {
	case "sqlite", "sqlite3", "postgres", "postgresql", "pgx":
	default:
		return fmt.Errorf("unsupported database driver %q", c.DatabaseDriver)
	}
	if c.DatabaseDSN == "" {
		return fmt.Errorf("database DSN is required")
	}
	if c.RunHour < 0 || c.RunHour > 23 {
		return fmt.Errorf("run hour must be between 0 and 23, got %d", c.RunHour)
	}

	g := c.Geocode
	switch g.Provider {
	case GeocoderGoogle:
		if g.APIKey == "" {
			return fmt.Errorf("GOOGLE_MAPS_API_KEY is required for the google geocoder")
		}
	case GeocoderNominatim, GeocoderNone:
	default:
		return fmt.Errorf("unsupported geocoder %q", g.Provider)
	}
	if g.MaxAttempts < 1 {
		return fmt.Errorf("geocode max attempts must be at least 1, got %d", g.MaxAttempts)
	}
	if g.MinDelay < 0 || g.Backoff < 0 {
		return fmt.Errorf("geocode delays must not be negative")
	}

	return nil
}

// GeocodingEnabled reports whether a geocoder is configured.
func (c *Config) GeocodingEnabled() bool {
	return c.Geocode.Provider != GeocoderNone
}
