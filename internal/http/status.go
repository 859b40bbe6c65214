package http

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"github.com/andygrunwald/fuel-price-scraper/internal/models"
)

// StatsStore provides the database figures shown on /status.
type StatsStore interface {
	Ping(ctx context.Context) error
	CountStations(ctx context.Context) (int64, error)
	CountObservations(ctx context.Context) (int64, error)
	LastRun(ctx context.Context) (*models.BatchRun, error)
}

// BatchReporter provides the most recent batch of this process.
type BatchReporter interface {
	LastBatch() *models.BatchRun
}

// ScheduleReporter provides the scheduler state.
type ScheduleReporter interface {
	IsRunning() bool
	NextRunAt() time.Time
	LastRunAt() *time.Time
}

// StatusHandler handles the /status endpoint.
type StatusHandler struct {
	batches   BatchReporter
	scheduler ScheduleReporter
	db        StatsStore
	logger    zerolog.Logger
	startTime time.Time
}

// NewStatusHandler creates a new StatusHandler. Any of the collaborators may be nil.
func NewStatusHandler(batches BatchReporter, sched ScheduleReporter, db StatsStore, logger zerolog.Logger) *StatusHandler {
	return &StatusHandler{
		batches:   batches,
		scheduler: sched,
		db:        db,
		logger:    logger.With().Str("component", "status").Logger(),
		startTime: time.Now(),
	}
}

// ServeHTTP implements the http.Handler interface.
func (h *StatusHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	response := models.StatusResponse{
		Status:        "healthy",
		UptimeSeconds: int64(time.Since(h.startTime).Seconds()),
	}

	// Get scheduler status
	if h.scheduler != nil {
		response.SchedulerRunning = h.scheduler.IsRunning()
		response.LastRunAt = h.scheduler.LastRunAt()
		nextRun := h.scheduler.NextRunAt()
		if !nextRun.IsZero() {
			response.NextRunAt = &nextRun
		}
	}

	if h.batches != nil {
		response.LastBatch = h.batches.LastBatch()
	}

	// Get database status
	response.Database = h.getDatabaseStatus(ctx)
	if !response.Database.Connected {
		response.Status = "degraded"
	}

	// Fall back to the run history of earlier processes
	if response.LastBatch == nil && response.Database.Connected {
		last, err := h.db.LastRun(ctx)
		if err != nil {
			h.logger.Warn().Err(err).Msg("failed to load last run")
		}
		response.LastBatch = last
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(response); err != nil {
		http.Error(w, "failed to encode response", http.StatusInternalServerError)
		return
	}
}

func (h *StatusHandler) getDatabaseStatus(ctx context.Context) models.DatabaseStatus {
	status := models.DatabaseStatus{
		Connected: false,
	}

	if h.db == nil {
		return status
	}

	// Check database connection
	if err := h.db.Ping(ctx); err != nil {
		h.logger.Warn().Err(err).Msg("database ping failed")
		return status
	}
	status.Connected = true

	if count, err := h.db.CountStations(ctx); err == nil {
		status.StationsStored = count
	}
	if count, err := h.db.CountObservations(ctx); err == nil {
		status.ObservationsStored = count
	}

	return status
}
