package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/andygrunwald/fuel-price-scraper/internal/metrics"
	"github.com/andygrunwald/fuel-price-scraper/internal/models"
)

type fakeStats struct {
	pingErr error
	last    *models.BatchRun
}

func (f *fakeStats) Ping(ctx context.Context) error { return f.pingErr }

func (f *fakeStats) CountStations(ctx context.Context) (int64, error) { return 12, nil }

func (f *fakeStats) CountObservations(ctx context.Context) (int64, error) { return 340, nil }

func (f *fakeStats) LastRun(ctx context.Context) (*models.BatchRun, error) { return f.last, nil }

type fakeBatches struct{ last *models.BatchRun }

func (f fakeBatches) LastBatch() *models.BatchRun { return f.last }

type fakeSchedule struct{ next time.Time }

func (f fakeSchedule) IsRunning() bool       { return true }
func (f fakeSchedule) NextRunAt() time.Time  { return f.next }
func (f fakeSchedule) LastRunAt() *time.Time { return nil }

func getStatus(t *testing.T, h http.Handler) models.StatusResponse {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/status", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	var resp models.StatusResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	return resp
}

func TestStatusHandler(t *testing.T) {
	next := time.Date(2024, 1, 2, 6, 0, 0, 0, time.UTC)
	batch := &models.BatchRun{ID: "run-1", Source: "inbox.jsonl", Summary: models.BatchSummary{Total: 3, Saved: 3}}

	h := NewStatusHandler(fakeBatches{last: batch}, fakeSchedule{next: next}, &fakeStats{}, zerolog.Nop())
	resp := getStatus(t, h)

	assert.Equal(t, "healthy", resp.Status)
	assert.True(t, resp.SchedulerRunning)
	require.NotNil(t, resp.NextRunAt)
	assert.True(t, resp.NextRunAt.Equal(next))
	require.NotNil(t, resp.LastBatch)
	assert.Equal(t, "run-1", resp.LastBatch.ID)
	assert.Equal(t, 3, resp.LastBatch.Summary.Saved)
	assert.True(t, resp.Database.Connected)
	assert.Equal(t, int64(12), resp.Database.StationsStored)
	assert.Equal(t, int64(340), resp.Database.ObservationsStored)
}

func TestStatusHandler_FallsBackToStoredRun(t *testing.T) {
	stored := &models.BatchRun{ID: "run-0", Source: "earlier.jsonl"}
	h := NewStatusHandler(fakeBatches{}, nil, &fakeStats{last: stored}, zerolog.Nop())

	resp := getStatus(t, h)

	require.NotNil(t, resp.LastBatch)
	assert.Equal(t, "run-0", resp.LastBatch.ID)
	assert.False(t, resp.SchedulerRunning)
	assert.Nil(t, resp.NextRunAt)
}

func TestStatusHandler_DatabaseDown(t *testing.T) {
	h := NewStatusHandler(nil, nil, &fakeStats{pingErr: errors.New("connection refused")}, zerolog.Nop())

	resp := getStatus(t, h)

	assert.Equal(t, "degraded", resp.Status)
	assert.False(t, resp.Database.Connected)
	assert.Zero(t, resp.Database.StationsStored)
}

func TestHandler_Routes(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := metrics.New(reg)
	m.RecordRecord("saved")

	h := NewHandler(reg, NewStatusHandler(nil, nil, nil, zerolog.Nop()))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "OK", rec.Body.String())

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `fuelscraper_records_total{outcome="saved"} 1`)

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/status", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"status":"degraded"`)
}
