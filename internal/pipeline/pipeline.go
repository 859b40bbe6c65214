// Package pipeline sequences geocoding and persistence for scraped fuel price records.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/andygrunwald/fuel-price-scraper/internal/database"
	"github.com/andygrunwald/fuel-price-scraper/internal/geocode"
	"github.com/andygrunwald/fuel-price-scraper/internal/metrics"
	"github.com/andygrunwald/fuel-price-scraper/internal/models"
	"github.com/andygrunwald/fuel-price-scraper/internal/source"
)

var (
	// ErrNotOpen is returned when records are processed before Open.
	ErrNotOpen = errors.New("pipeline is not open")
	// ErrAlreadyOpen is returned when Open is called twice without Close.
	ErrAlreadyOpen = errors.New("pipeline is already open")
	// ErrGeocodingDisabled is returned by Backfill without a geocoding service.
	ErrGeocodingDisabled = errors.New("geocoding is disabled")
)

// Store is the persistence the pipeline writes to.
type Store interface {
	geocode.Checker

	Migrate(ctx context.Context) error
	SaveRecord(ctx context.Context, rec *models.ScrapedRecord) (database.SaveResult, error)
	UngeocodedStations(ctx context.Context, limit int) ([]models.Station, error)
	UpdateStationLocation(ctx context.Context, stationKey int64, lat, lon float64, address string) (bool, error)
	CountStations(ctx context.Context) (int64, error)
	CountObservations(ctx context.Context) (int64, error)
	RecordRun(ctx context.Context, run *models.BatchRun) error
	Close() error
}

// Opener opens a fresh store. It is called once per batch, so every batch
// starts with a newly loaded identity cache.
type Opener func(ctx context.Context) (Store, error)

// Pipeline validates, geocodes and stores scraped records.
type Pipeline struct {
	open     Opener
	geocoder *geocode.Service
	metrics  *metrics.Metrics
	logger   zerolog.Logger

	mu      sync.Mutex
	store   Store
	service *geocode.Service

	lastMu    sync.RWMutex
	lastBatch *models.BatchRun
}

// Option configures the Pipeline.
type Option func(*Pipeline)

// WithMetrics records pipeline metrics.
func WithMetrics(m *metrics.Metrics) Option {
	return func(p *Pipeline) {
		p.metrics = m
	}
}

// New creates a new Pipeline. A nil geocoder disables geocoding.
func New(open Opener, geocoder *geocode.Service, logger zerolog.Logger, opts ...Option) *Pipeline {
	p := &Pipeline{
		open:     open,
		geocoder: geocoder,
		logger:   logger.With().Str("component", "pipeline").Logger(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Open opens and migrates the store and binds the geocoding service to it.
func (p *Pipeline) Open(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.store != nil {
		return ErrAlreadyOpen
	}

	store, err := p.open(ctx)
	if err != nil {
		return fmt.Errorf("opening store: %w", err)
	}
	if err := store.Migrate(ctx); err != nil {
		store.Close() //nolint:errcheck
		return fmt.Errorf("migrating store: %w", err)
	}

	p.store = store
	if p.geocoder != nil {
		p.service = p.geocoder.WithChecker(store)
	}

	p.logger.Debug().Msg("pipeline opened")
	return nil
}

// Close releases the store. Closing a closed pipeline is a no-op.
func (p *Pipeline) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.store == nil {
		return nil
	}

	err := p.store.Close()
	p.store = nil
	p.service = nil
	if err != nil {
		return fmt.Errorf("closing store: %w", err)
	}

	p.logger.Debug().Msg("pipeline closed")
	return nil
}

func (p *Pipeline) current() (Store, *geocode.Service, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.store == nil {
		return nil, nil, ErrNotOpen
	}
	return p.store, p.service, nil
}

// Process reads all records from src and stores them. The pipeline must be open.
// Single record failures are counted in the summary. A store error other than a
// consistency error or a done context stops the batch; the partial summary is
// returned together with the error.
func (p *Pipeline) Process(ctx context.Context, src source.Source) (models.BatchSummary, error) {
	var summary models.BatchSummary

	store, service, err := p.current()
	if err != nil {
		return summary, err
	}

	for {
		if err := ctx.Err(); err != nil {
			return summary, err
		}

		rec, err := src.Next(ctx)
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			if errors.Is(err, models.ErrInvalidRecord) {
				summary.Total++
				p.reject(&summary, err)
				continue
			}
			return summary, fmt.Errorf("reading source %s: %w", src.Name(), err)
		}

		summary.Total++
		if err := rec.Validate(); err != nil {
			p.reject(&summary, err)
			continue
		}

		if err := p.processRecord(ctx, store, service, rec, &summary); err != nil {
			return summary, err
		}
	}

	return summary, nil
}

// processRecord geocodes and saves one valid record.
func (p *Pipeline) processRecord(ctx context.Context, store Store, service *geocode.Service, rec *models.ScrapedRecord, summary *models.BatchSummary) error {
	var interrupted error

	if service != nil {
		outcome, err := service.Resolve(ctx, rec)
		switch {
		case err != nil && ctx.Err() != nil:
			// Save the record unresolved, then stop.
			interrupted = ctx.Err()
		case err != nil:
			return fmt.Errorf("geocoding station %s: %w", rec.ExternalID, err)
		default:
			countOutcome(summary, outcome)
		}
	}

	res, err := store.SaveRecord(context.WithoutCancel(ctx), rec)
	if err != nil {
		if errors.Is(err, database.ErrConsistency) {
			summary.Failed++
			p.metrics.RecordRecord("failed")
			p.logger.Error().
				Err(err).
				Str("station", rec.ExternalID).
				Msg("failed to save record")
			return interrupted
		}
		return fmt.Errorf("saving station %s: %w", rec.ExternalID, err)
	}

	summary.Saved++
	p.metrics.RecordRecord("saved")
	if res.Created {
		summary.StationsCreated++
	}
	if res.Appended {
		summary.ObservationsAppended++
	} else {
		summary.DuplicateObservations++
	}

	return interrupted
}

func (p *Pipeline) reject(summary *models.BatchSummary, err error) {
	summary.Rejected++
	p.metrics.RecordRecord("rejected")
	p.logger.Warn().Err(err).Msg("rejected record")
}

func countOutcome(summary *models.BatchSummary, outcome geocode.Outcome) {
	switch outcome {
	case geocode.OutcomeSkipped:
		summary.GeocodeSkipped++
	case geocode.OutcomeResolved:
		summary.Resolved++
	case geocode.OutcomeUnresolved:
		summary.Unresolved++
	case geocode.OutcomeFailed:
		summary.GeocodeFailed++
	}
}

// Run processes src as one batch: it opens the pipeline, processes all
// records, records the run and closes the pipeline again on every path.
func (p *Pipeline) Run(ctx context.Context, src source.Source) (*models.BatchRun, error) {
	run := &models.BatchRun{
		ID:        uuid.NewString(),
		Source:    src.Name(),
		StartedAt: time.Now().UTC(),
	}

	logger := p.logger.With().Str("run", run.ID).Str("source", run.Source).Logger()
	logger.Info().Msg("starting batch")

	if err := p.Open(ctx); err != nil {
		return nil, err
	}
	defer func() {
		if err := p.Close(); err != nil {
			logger.Error().Err(err).Msg("failed to close pipeline")
		}
	}()

	summary, err := p.Process(ctx, src)
	run.Summary = summary
	run.FinishedAt = time.Now().UTC()
	if err != nil {
		msg := err.Error()
		run.Error = &msg
	}

	p.finish(ctx, run)

	event := logger.Info()
	if err != nil {
		event = logger.Error().Err(err)
	}
	event.
		Int("total", summary.Total).
		Int("saved", summary.Saved).
		Int("rejected", summary.Rejected).
		Int("failed", summary.Failed).
		Int("stationsCreated", summary.StationsCreated).
		Int("observationsAppended", summary.ObservationsAppended).
		Int("duplicates", summary.DuplicateObservations).
		Int("resolved", summary.Resolved).
		Int("unresolved", summary.Unresolved).
		Int("geocodeFailed", summary.GeocodeFailed).
		Dur("duration", run.FinishedAt.Sub(run.StartedAt)).
		Msg("batch finished")

	return run, err
}

// finish persists the run and publishes it as the last batch.
func (p *Pipeline) finish(ctx context.Context, run *models.BatchRun) {
	p.lastMu.Lock()
	last := *run
	p.lastBatch = &last
	p.lastMu.Unlock()

	p.metrics.RecordLastBatch(run.Source, float64(run.FinishedAt.Unix()))

	store, _, err := p.current()
	if err != nil {
		return
	}

	ctx = context.WithoutCancel(ctx)
	if err := store.RecordRun(ctx, run); err != nil {
		p.logger.Error().Err(err).Str("run", run.ID).Msg("failed to record run")
	}
	p.updateStored(ctx, store)
}

func (p *Pipeline) updateStored(ctx context.Context, store Store) {
	if p.metrics == nil {
		return
	}
	stations, err := store.CountStations(ctx)
	if err != nil {
		p.logger.Warn().Err(err).Msg("failed to count stations")
		return
	}
	observations, err := store.CountObservations(ctx)
	if err != nil {
		p.logger.Warn().Err(err).Msg("failed to count observations")
		return
	}
	p.metrics.RecordStored(stations, observations)
}

// LastBatch returns a copy of the most recently finished batch, or nil.
func (p *Pipeline) LastBatch() *models.BatchRun {
	p.lastMu.RLock()
	defer p.lastMu.RUnlock()
	if p.lastBatch == nil {
		return nil
	}
	last := *p.lastBatch
	return &last
}

// Backfill geocodes stored stations that still lack coordinates. A limit of
// zero or less processes all of them. It manages the pipeline lifecycle itself.
func (p *Pipeline) Backfill(ctx context.Context, limit int) (models.BackfillSummary, error) {
	var summary models.BackfillSummary

	if p.geocoder == nil {
		return summary, ErrGeocodingDisabled
	}

	if err := p.Open(ctx); err != nil {
		return summary, err
	}
	defer func() {
		if err := p.Close(); err != nil {
			p.logger.Error().Err(err).Msg("failed to close pipeline")
		}
	}()

	store, service, err := p.current()
	if err != nil {
		return summary, err
	}

	stations, err := store.UngeocodedStations(ctx, limit)
	if err != nil {
		return summary, fmt.Errorf("listing ungeocoded stations: %w", err)
	}
	summary.Candidates = len(stations)

	p.logger.Info().Int("candidates", len(stations)).Msg("starting geocoding backfill")

	for _, st := range stations {
		if err := ctx.Err(); err != nil {
			return summary, err
		}

		loc, outcome, err := service.Locate(ctx, st.Address)
		if err != nil {
			return summary, err
		}

		switch outcome {
		case geocode.OutcomeResolved:
			updated, err := store.UpdateStationLocation(context.WithoutCancel(ctx), st.Key, loc.Latitude, loc.Longitude, loc.Address)
			if err != nil {
				return summary, fmt.Errorf("updating station %s: %w", st.ExternalID, err)
			}
			if updated {
				summary.Resolved++
				p.logger.Info().
					Str("station", st.ExternalID).
					Float64("latitude", loc.Latitude).
					Float64("longitude", loc.Longitude).
					Msg("backfilled coordinates")
			}
		case geocode.OutcomeUnresolved:
			summary.Unresolved++
		default:
			summary.Failed++
		}
	}

	p.updateStored(context.WithoutCancel(ctx), store)

	p.logger.Info().
		Int("candidates", summary.Candidates).
		Int("resolved", summary.Resolved).
		Int("unresolved", summary.Unresolved).
		Int("failed", summary.Failed).
		Msg("geocoding backfill completed")

	return summary, nil
}
