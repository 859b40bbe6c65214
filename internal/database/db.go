// Package database provides the station store for the fuel price scraper.
// It supports SQLite for local runs and PostgreSQL for shared deployments.
package database

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/rs/zerolog"
	_ "modernc.org/sqlite"

	"github.com/andygrunwald/fuel-price-scraper/internal/metrics"
)

const (
	// DriverSQLite selects the embedded SQLite store.
	DriverSQLite = "sqlite"
	// DriverPostgres selects a PostgreSQL server.
	DriverPostgres = "postgres"
)

// dialect holds the per-driver differences of the store.
type dialect struct {
	name       string
	sqlDriver  string
	dollarArgs bool
	schema     []string
}

var dialects = map[string]dialect{
	DriverSQLite: {
		name:      DriverSQLite,
		sqlDriver: "sqlite",
		schema:    sqliteSchema,
	},
	DriverPostgres: {
		name:       DriverPostgres,
		sqlDriver:  "pgx",
		dollarArgs: true,
		schema:     postgresSchema,
	},
}

var sqliteSchema = []string{
	`CREATE TABLE IF NOT EXISTS stations (
		station_key INTEGER PRIMARY KEY AUTOINCREMENT,
		external_id TEXT NOT NULL UNIQUE,
		name        TEXT NOT NULL DEFAULT '',
		address     TEXT NOT NULL DEFAULT '',
		latitude    REAL,
		longitude   REAL,
		created_at  DATETIME NOT NULL,
		updated_at  DATETIME NOT NULL,
		CHECK ((latitude IS NULL) = (longitude IS NULL))
	)`,
	`CREATE TABLE IF NOT EXISTS price_observations (
		id              INTEGER PRIMARY KEY AUTOINCREMENT,
		station_key     INTEGER NOT NULL REFERENCES stations(station_key),
		price_diesel    REAL,
		price_super     REAL,
		price_super_e10 REAL,
		observed_at     DATETIME NOT NULL,
		created_at      DATETIME NOT NULL,
		UNIQUE (station_key, observed_at)
	)`,
	`CREATE TABLE IF NOT EXISTS crawl_runs (
		id                     TEXT PRIMARY KEY,
		source                 TEXT NOT NULL,
		started_at             DATETIME NOT NULL,
		finished_at            DATETIME NOT NULL,
		total                  INTEGER NOT NULL DEFAULT 0,
		rejected               INTEGER NOT NULL DEFAULT 0,
		saved                  INTEGER NOT NULL DEFAULT 0,
		failed                 INTEGER NOT NULL DEFAULT 0,
		stations_created       INTEGER NOT NULL DEFAULT 0,
		observations_appended  INTEGER NOT NULL DEFAULT 0,
		duplicate_observations INTEGER NOT NULL DEFAULT 0,
		geocode_skipped        INTEGER NOT NULL DEFAULT 0,
		resolved               INTEGER NOT NULL DEFAULT 0,
		unresolved             INTEGER NOT NULL DEFAULT 0,
		geocode_failed         INTEGER NOT NULL DEFAULT 0,
		error                  TEXT
	)`,
	`CREATE INDEX IF NOT EXISTS idx_stations_ungeocoded ON stations(station_key) WHERE latitude IS NULL`,
	`CREATE INDEX IF NOT EXISTS idx_crawl_runs_finished_at ON crawl_runs(finished_at)`,
}

var postgresSchema = []string{
	`CREATE TABLE IF NOT EXISTS stations (
		station_key BIGSERIAL PRIMARY KEY,
		external_id TEXT NOT NULL UNIQUE,
		name        TEXT NOT NULL DEFAULT '',
		address     TEXT NOT NULL DEFAULT '',
		latitude    DOUBLE PRECISION,
		longitude   DOUBLE PRECISION,
		created_at  TIMESTAMPTZ NOT NULL,
		updated_at  TIMESTAMPTZ NOT NULL,
		CHECK ((latitude IS NULL) = (longitude IS NULL))
	)`,
	`CREATE TABLE IF NOT EXISTS price_observations (
		id              BIGSERIAL PRIMARY KEY,
		station_key     BIGINT NOT NULL REFERENCES stations(station_key),
		price_diesel    DOUBLE PRECISION,
		price_super     DOUBLE PRECISION,
		price_super_e10 DOUBLE PRECISION,
		observed_at     TIMESTAMPTZ NOT NULL,
		created_at      TIMESTAMPTZ NOT NULL,
		UNIQUE (station_key, observed_at)
	)`,
	`CREATE TABLE IF NOT EXISTS crawl_runs (
		id                     UUID PRIMARY KEY,
		source                 TEXT NOT NULL,
		started_at             TIMESTAMPTZ NOT NULL,
		finished_at            TIMESTAMPTZ NOT NULL,
		total                  INTEGER NOT NULL DEFAULT 0,
		rejected               INTEGER NOT NULL DEFAULT 0,
		saved                  INTEGER NOT NULL DEFAULT 0,
		failed                 INTEGER NOT NULL DEFAULT 0,
		stations_created       INTEGER NOT NULL DEFAULT 0,
		observations_appended  INTEGER NOT NULL DEFAULT 0,
		duplicate_observations INTEGER NOT NULL DEFAULT 0,
		geocode_skipped        INTEGER NOT NULL DEFAULT 0,
		resolved               INTEGER NOT NULL DEFAULT 0,
		unresolved             INTEGER NOT NULL DEFAULT 0,
		geocode_failed         INTEGER NOT NULL DEFAULT 0,
		error                  TEXT
	)`,
	`CREATE INDEX IF NOT EXISTS idx_stations_ungeocoded ON stations(station_key) WHERE latitude IS NULL`,
	`CREATE INDEX IF NOT EXISTS idx_crawl_runs_finished_at ON crawl_runs(finished_at)`,
}

// DB wraps the database connection and provides operations for stations and prices.
type DB struct {
	db      *sql.DB
	dialect dialect
	logger  zerolog.Logger
	metrics *metrics.Metrics

	// mu guards cache. cache is nil until loaded.
	mu    sync.RWMutex
	cache map[string]int64
}

// Option configures the DB.
type Option func(*DB)

// WithMetrics records database metrics.
func WithMetrics(m *metrics.Metrics) Option {
	return func(d *DB) {
		d.metrics = m
	}
}

// Open creates a new database connection for the given driver and verifies it.
func Open(ctx context.Context, driver, dsn string, logger zerolog.Logger, opts ...Option) (*DB, error) {
	dia, ok := dialects[normalizeDriver(driver)]
	if !ok {
		return nil, fmt.Errorf("unsupported database driver %q", driver)
	}
	if dsn == "" {
		return nil, fmt.Errorf("empty database DSN for driver %s", dia.name)
	}

	db, err := sql.Open(dia.sqlDriver, dsn)
	if err != nil {
		return nil, fmt.Errorf("opening database connection: %w", err)
	}

	// Configure connection pool
	switch dia.name {
	case DriverSQLite:
		db.SetMaxOpenConns(1)
	default:
		db.SetMaxOpenConns(10)
		db.SetMaxIdleConns(5)
		db.SetConnMaxLifetime(5 * time.Minute)
	}

	// Test the connection
	if err := db.PingContext(ctx); err != nil {
		db.Close() //nolint:errcheck
		return nil, fmt.Errorf("pinging database: %w", err)
	}

	if dia.name == DriverSQLite {
		for _, pragma := range []string{
			"PRAGMA journal_mode=WAL",
			"PRAGMA busy_timeout=5000",
			"PRAGMA synchronous=NORMAL",
			"PRAGMA foreign_keys=ON",
		} {
			if _, err := db.ExecContext(ctx, pragma); err != nil {
				db.Close() //nolint:errcheck
				return nil, fmt.Errorf("executing %s: %w", pragma, err)
			}
		}
	}

	d := &DB{
		db:      db,
		dialect: dia,
		logger:  logger.With().Str("component", "database").Str("driver", dia.name).Logger(),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d, nil
}

func normalizeDriver(driver string) string {
	switch strings.ToLower(strings.TrimSpace(driver)) {
	case "", "sqlite", "sqlite3":
		return DriverSQLite
	case "postgres", "postgresql", "pgx":
		return DriverPostgres
	default:
		return driver
	}
}

// Driver returns the normalized driver name.
func (d *DB) Driver() string {
	return d.dialect.name
}

// Migrate creates the tables and indexes if they do not exist yet.
func (d *DB) Migrate(ctx context.Context) error {
	for _, stmt := range d.dialect.schema {
		if _, err := d.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migrating schema: %w", err)
		}
	}
	d.logger.Debug().Int("statements", len(d.dialect.schema)).Msg("schema migrated")
	return nil
}

// Close closes the database connection.
func (d *DB) Close() error {
	return d.db.Close()
}

// Ping checks if the database connection is alive.
func (d *DB) Ping(ctx context.Context) error {
	return d.db.PingContext(ctx)
}

// q adapts a query written with ? placeholders to the dialect.
func (d *DB) q(query string) string {
	if !d.dialect.dollarArgs {
		return query
	}
	return rebind(query)
}

// rebind replaces ? placeholders with $1, $2, ...
// Queries in this package never contain a literal question mark.
func rebind(query string) string {
	var b strings.Builder
	b.Grow(len(query) + 8)
	n := 0
	for i := 0; i < len(query); i++ {
		if query[i] == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteByte(query[i])
	}
	return b.String()
}

func (d *DB) record(operation string, err error) {
	status := "success"
	if err != nil {
		status = "error"
	}
	d.metrics.RecordDBOperation(operation, status)
}
