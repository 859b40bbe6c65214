package database

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/andygrunwald/fuel-price-scraper/internal/models"
)

// newTestDB opens a migrated SQLite store in a temporary directory.
func newTestDB(t *testing.T) *DB {
	t.Helper()
	return openTestDB(t, filepath.Join(t.TempDir(), "test.db"))
}

func openTestDB(t *testing.T, path string) *DB {
	t.Helper()
	db, err := Open(context.Background(), DriverSQLite, path, zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() }) //nolint:errcheck
	require.NoError(t, db.Migrate(context.Background()))
	return db
}

// forEachDriver runs fn against SQLite and, if TEST_POSTGRES_DSN is set, PostgreSQL.
func forEachDriver(t *testing.T, fn func(t *testing.T, db *DB)) {
	t.Run(DriverSQLite, func(t *testing.T) {
		fn(t, newTestDB(t))
	})

	t.Run(DriverPostgres, func(t *testing.T) {
		dsn := os.Getenv("TEST_POSTGRES_DSN")
		if dsn == "" {
			t.Skip("TEST_POSTGRES_DSN not set")
		}
		ctx := context.Background()
		db, err := Open(ctx, DriverPostgres, dsn, zerolog.Nop())
		require.NoError(t, err)
		t.Cleanup(func() { db.Close() }) //nolint:errcheck
		require.NoError(t, db.Migrate(ctx))
		_, err = db.db.ExecContext(ctx, "TRUNCATE price_observations, stations, crawl_runs RESTART IDENTITY CASCADE")
		require.NoError(t, err)
		fn(t, db)
	})
}

func ptr(f float64) *float64 { return &f }

func mustTime(t *testing.T, s string) time.Time {
	t.Helper()
	ts, err := models.ParseObservedAt(s)
	require.NoError(t, err)
	return ts
}

func TestOpen_UnsupportedDriver(t *testing.T) {
	_, err := Open(context.Background(), "mysql", "user@/db", zerolog.Nop())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported database driver")
}

func TestOpen_EmptyDSN(t *testing.T) {
	_, err := Open(context.Background(), DriverSQLite, "", zerolog.Nop())
	require.Error(t, err)
}

func TestOpen_SQLitePragmas(t *testing.T) {
	db := newTestDB(t)
	assert.Equal(t, DriverSQLite, db.Driver())

	var mode string
	require.NoError(t, db.db.QueryRow("PRAGMA journal_mode").Scan(&mode))
	assert.Equal(t, "wal", mode)

	var fk int
	require.NoError(t, db.db.QueryRow("PRAGMA foreign_keys").Scan(&fk))
	assert.Equal(t, 1, fk)
}

func TestNormalizeDriver(t *testing.T) {
	assert.Equal(t, DriverSQLite, normalizeDriver(""))
	assert.Equal(t, DriverSQLite, normalizeDriver("SQLite3"))
	assert.Equal(t, DriverPostgres, normalizeDriver("postgresql"))
	assert.Equal(t, DriverPostgres, normalizeDriver("pgx"))
	assert.Equal(t, "oracle", normalizeDriver("oracle"))
}

func TestMigrate_Idempotent(t *testing.T) {
	forEachDriver(t, func(t *testing.T, db *DB) {
		require.NoError(t, db.Migrate(context.Background()))
		require.NoError(t, db.Migrate(context.Background()))
	})
}

func TestRebind(t *testing.T) {
	assert.Equal(t, "SELECT 1", rebind("SELECT 1"))
	assert.Equal(t,
		"INSERT INTO t (a, b, c) VALUES ($1, $2, $3)",
		rebind("INSERT INTO t (a, b, c) VALUES (?, ?, ?)"),
	)
}

func TestPing(t *testing.T) {
	db := newTestDB(t)
	require.NoError(t, db.Ping(context.Background()))
}
