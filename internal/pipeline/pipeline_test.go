package pipeline

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"

	"github.com/andygrunwald/fuel-price-scraper/internal/database"
	"github.com/andygrunwald/fuel-price-scraper/internal/geocode"
	"github.com/andygrunwald/fuel-price-scraper/internal/metrics"
	"github.com/andygrunwald/fuel-price-scraper/internal/models"
	"github.com/andygrunwald/fuel-price-scraper/internal/source"
)

// mapGeocoder answers from a fixed address table.
type mapGeocoder struct {
	mu        sync.Mutex
	locations map[string]*geocode.Location
	err       error
	calls     int
	onCall    func()
}

func (g *mapGeocoder) Name() string { return "map" }

func (g *mapGeocoder) Geocode(ctx context.Context, address string, opts geocode.Options) (*geocode.Location, error) {
	g.mu.Lock()
	g.calls++
	onCall := g.onCall
	g.mu.Unlock()
	if onCall != nil {
		onCall()
		return nil, ctx.Err()
	}
	if g.err != nil {
		return nil, g.err
	}
	return g.locations[address], nil
}

func (g *mapGeocoder) Calls() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.calls
}

func newService(g geocode.Geocoder) *geocode.Service {
	return geocode.NewService(g, zerolog.Nop(),
		geocode.WithLimiter(rate.NewLimiter(rate.Inf, 1)),
		geocode.WithRetryPolicy(geocode.RetryPolicy{
			MaxAttempts: 3,
			Backoff:     30 * time.Second,
			Sleep:       func(ctx context.Context, d time.Duration) error { return ctx.Err() },
		}),
	)
}

// sqliteOpener returns an opener for a SQLite file plus a handle for assertions.
func sqliteOpener(t *testing.T) (Opener, *database.DB) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "pipeline.db")
	open := func(ctx context.Context) (Store, error) {
		db, err := database.Open(ctx, database.DriverSQLite, path, zerolog.Nop())
		if err != nil {
			return nil, err
		}
		return db, nil
	}

	inspect, err := database.Open(context.Background(), database.DriverSQLite, path, zerolog.Nop())
	require.NoError(t, err)
	require.NoError(t, inspect.Migrate(context.Background()))
	t.Cleanup(func() { inspect.Close() }) //nolint:errcheck
	return open, inspect
}

func jsonl(lines ...string) *source.JSONLines {
	return source.NewJSONLines("test", strings.NewReader(strings.Join(lines, "\n")))
}

func TestPipeline_RunA1Scenario(t *testing.T) {
	open, inspect := sqliteOpener(t)
	g := &mapGeocoder{locations: map[string]*geocode.Location{
		"hauptstraße 1": {Latitude: 50.0, Longitude: 8.0, Address: "Hauptstraße 1, 55116 Mainz"},
	}}
	p := New(open, newService(g), zerolog.Nop())
	ctx := context.Background()

	run, err := p.Run(ctx, jsonl(`{"id":"A1","name":"Shell","address":"Hauptstr. 1","price_diesel":1.50,"last_transmission":"2024-01-01T10:00"}`))
	require.NoError(t, err)
	assert.Equal(t, models.BatchSummary{Total: 1, Saved: 1, StationsCreated: 1, ObservationsAppended: 1, Resolved: 1}, run.Summary)

	run, err = p.Run(ctx, jsonl(`{"id":"A1","name":"Shell","address":"Hauptstr. 1","price_diesel":1.50,"last_transmission":"2024-01-01T11:00"}`))
	require.NoError(t, err)
	assert.Equal(t, models.BatchSummary{Total: 1, Saved: 1, ObservationsAppended: 1, GeocodeSkipped: 1}, run.Summary)
	assert.Equal(t, 1, g.Calls(), "resolved station is never geocoded again")

	station, err := inspect.GetStation(ctx, "A1")
	require.NoError(t, err)
	require.NotNil(t, station)
	assert.Equal(t, 50.0, *station.Latitude)
	assert.Equal(t, 8.0, *station.Longitude)
	assert.Equal(t, "Hauptstraße 1, 55116 Mainz", station.Address)

	history, err := inspect.PriceHistory(ctx, station.Key)
	require.NoError(t, err)
	assert.Len(t, history, 2)
}

func TestPipeline_ReingestingBatchIsIdempotent(t *testing.T) {
	open, inspect := sqliteOpener(t)
	p := New(open, nil, zerolog.Nop())
	ctx := context.Background()

	lines := []string{
		`{"id":"A1","last_transmission":"2024-01-01T10:00","price_diesel":1.5}`,
		`{"id":"B2","last_transmission":"2024-01-01T10:05"}`,
	}

	_, err := p.Run(ctx, jsonl(lines...))
	require.NoError(t, err)
	run, err := p.Run(ctx, jsonl(lines...))
	require.NoError(t, err)

	assert.Equal(t, 2, run.Summary.Saved)
	assert.Equal(t, 2, run.Summary.DuplicateObservations)
	assert.Zero(t, run.Summary.StationsCreated)

	observations, err := inspect.CountObservations(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), observations)
}

func TestPipeline_RejectsInvalidRecordsAndContinues(t *testing.T) {
	open, inspect := sqliteOpener(t)
	p := New(open, nil, zerolog.Nop())

	run, err := p.Run(context.Background(), jsonl(
		`{broken`,
		`{"name":"no id","last_transmission":"2024-01-01T10:00"}`,
		`{"id":"A1","name":"no time"}`,
		`{"id":"B2","last_transmission":"2024-01-01T10:00"}`,
	))

	require.NoError(t, err)
	assert.Equal(t, 4, run.Summary.Total)
	assert.Equal(t, 3, run.Summary.Rejected)
	assert.Equal(t, 1, run.Summary.Saved)

	stations, err := inspect.CountStations(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(1), stations)
}

func TestPipeline_OversizedLineIsRejectedAndBatchContinues(t *testing.T) {
	open, inspect := sqliteOpener(t)
	p := New(open, nil, zerolog.Nop())

	run, err := p.Run(context.Background(), jsonl(
		`{"id":"A1","last_transmission":"2024-01-01T10:00"}`,
		`{"id":"BIG","name":"`+strings.Repeat("x", 2<<20)+`"}`,
		`{"id":"B2","last_transmission":"2024-01-01T10:05"}`,
	))

	require.NoError(t, err)
	assert.Equal(t, 3, run.Summary.Total)
	assert.Equal(t, 1, run.Summary.Rejected)
	assert.Equal(t, 2, run.Summary.Saved)

	station, err := inspect.GetStation(context.Background(), "B2")
	require.NoError(t, err)
	assert.NotNil(t, station)
}

func TestPipeline_GeocodeFailureStillStoresPrices(t *testing.T) {
	open, inspect := sqliteOpener(t)
	g := &mapGeocoder{err: errors.New("connection refused")}
	p := New(open, newService(g), zerolog.Nop())

	run, err := p.Run(context.Background(), jsonl(`{"id":"A1","address":"Hauptstr. 1","price_super":1.80,"last_transmission":"2024-01-01T10:00"}`))

	require.NoError(t, err)
	assert.Equal(t, 1, run.Summary.GeocodeFailed)
	assert.Equal(t, 1, run.Summary.Saved)
	assert.Equal(t, 3, g.Calls())

	station, err := inspect.GetStation(context.Background(), "A1")
	require.NoError(t, err)
	assert.Nil(t, station.Latitude)
}

func TestPipeline_RecordsRunAndLastBatch(t *testing.T) {
	open, inspect := sqliteOpener(t)
	reg := prometheus.NewRegistry()
	m := metrics.New(reg)
	p := New(open, nil, zerolog.Nop(), WithMetrics(m))
	ctx := context.Background()

	assert.Nil(t, p.LastBatch())

	run, err := p.Run(ctx, jsonl(`{"id":"A1","last_transmission":"2024-01-01T10:00"}`, `{bad`))
	require.NoError(t, err)

	last := p.LastBatch()
	require.NotNil(t, last)
	assert.Equal(t, run.ID, last.ID)
	assert.Equal(t, "test", last.Source)

	stored, err := inspect.LastRun(ctx)
	require.NoError(t, err)
	require.NotNil(t, stored)
	assert.Equal(t, run.ID, stored.ID)
	assert.Equal(t, run.Summary, stored.Summary)
	assert.Nil(t, stored.Error)

	assert.Equal(t, float64(1), testutil.ToFloat64(m.RecordsTotal.WithLabelValues("saved")))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.RecordsTotal.WithLabelValues("rejected")))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.StationsStored))
}

func TestPipeline_Backfill(t *testing.T) {
	open, inspect := sqliteOpener(t)
	ctx := context.Background()

	_, err := New(open, nil, zerolog.Nop()).Run(ctx, jsonl(
		`{"id":"A1","address":"Hauptstr. 1","last_transmission":"2024-01-01T10:00"}`,
		`{"id":"A2","address":"Unbekannter Weg 9","last_transmission":"2024-01-01T10:00"}`,
	))
	require.NoError(t, err)

	g := &mapGeocoder{locations: map[string]*geocode.Location{
		"hauptstraße 1": {Latitude: 50.0, Longitude: 8.0, Address: "Hauptstraße 1, Mainz"},
	}}
	summary, err := New(open, newService(g), zerolog.Nop()).Backfill(ctx, 0)

	require.NoError(t, err)
	assert.Equal(t, models.BackfillSummary{Candidates: 2, Resolved: 1, Unresolved: 1}, summary)

	station, err := inspect.GetStation(ctx, "A1")
	require.NoError(t, err)
	require.NotNil(t, station.Latitude)
	assert.Equal(t, 50.0, *station.Latitude)
	assert.Equal(t, "Hauptstraße 1, Mainz", station.Address)

	remaining, err := inspect.UngeocodedStations(ctx, 0)
	require.NoError(t, err)
	require.Len(t, remaining, 1)
	assert.Equal(t, "A2", remaining[0].ExternalID)
}

func TestPipeline_BackfillWithoutGeocoder(t *testing.T) {
	open, _ := sqliteOpener(t)
	_, err := New(open, nil, zerolog.Nop()).Backfill(context.Background(), 0)
	require.ErrorIs(t, err, ErrGeocodingDisabled)
}

func TestIngestInbox(t *testing.T) {
	open, inspect := sqliteOpener(t)
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "2024-01-01.jsonl"), `{"id":"A1","last_transmission":"2024-01-01T10:00"}`)
	writeFile(t, filepath.Join(dir, "2024-01-02.jsonl"), `{"id":"A1","last_transmission":"2024-01-02T10:00"}`)
	writeFile(t, filepath.Join(dir, "notes.txt"), `ignored`)

	runs, err := New(open, nil, zerolog.Nop()).IngestInbox(context.Background(), dir)

	require.NoError(t, err)
	require.Len(t, runs, 2)
	assert.Equal(t, "2024-01-01.jsonl", runs[0].Source)
	assert.Equal(t, "2024-01-02.jsonl", runs[1].Source)
	assert.FileExists(t, filepath.Join(dir, "2024-01-01.jsonl"+DoneSuffix))
	assert.FileExists(t, filepath.Join(dir, "2024-01-02.jsonl"+DoneSuffix))
	assert.NoFileExists(t, filepath.Join(dir, "2024-01-01.jsonl"))
	assert.FileExists(t, filepath.Join(dir, "notes.txt"))

	observations, err := inspect.CountObservations(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(2), observations)

	runs, err = New(open, nil, zerolog.Nop()).IngestInbox(context.Background(), dir)
	require.NoError(t, err)
	assert.Empty(t, runs, "done files are not ingested again")
}
