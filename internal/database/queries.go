package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/andygrunwald/fuel-price-scraper/internal/models"
)

// CountStations returns the total number of stations in the database.
func (d *DB) CountStations(ctx context.Context) (int64, error) {
	var count int64
	err := d.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM stations").Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("counting stations: %w", err)
	}
	return count, nil
}

// CountObservations returns the total number of price observations in the database.
func (d *DB) CountObservations(ctx context.Context) (int64, error) {
	var count int64
	err := d.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM price_observations").Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("counting price observations: %w", err)
	}
	return count, nil
}

// PriceHistory returns all observations of a station ordered by observation time.
func (d *DB) PriceHistory(ctx context.Context, stationKey int64) ([]models.PriceObservation, error) {
	query := `
		SELECT id, station_key, price_diesel, price_super, price_super_e10, observed_at
		FROM price_observations
		WHERE station_key = ?
		ORDER BY observed_at
	`

	rows, err := d.db.QueryContext(ctx, d.q(query), stationKey)
	if err != nil {
		return nil, fmt.Errorf("querying price history of station %d: %w", stationKey, err)
	}
	defer rows.Close() //nolint:errcheck

	var history []models.PriceObservation
	for rows.Next() {
		var p models.PriceObservation
		var diesel, super, e10 sql.NullFloat64
		if err := rows.Scan(&p.ID, &p.StationKey, &diesel, &super, &e10, &p.ObservedAt); err != nil {
			return nil, fmt.Errorf("scanning price observation: %w", err)
		}
		p.PriceDiesel = floatPtr(diesel)
		p.PriceSuper = floatPtr(super)
		p.PriceSuperE10 = floatPtr(e10)
		p.ObservedAt = p.ObservedAt.UTC()
		history = append(history, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating price observations: %w", err)
	}

	return history, nil
}

// StationsWithLatestPrice returns all geocoded stations together with their
// most recent price observation. Stations without observations are omitted.
func (d *DB) StationsWithLatestPrice(ctx context.Context) ([]models.StationPrice, error) {
	query := `
		SELECT s.station_key, s.external_id, s.name, s.address, s.latitude, s.longitude, s.created_at, s.updated_at,
			p.id, p.price_diesel, p.price_super, p.price_super_e10, p.observed_at
		FROM stations s
		JOIN price_observations p ON p.station_key = s.station_key
		WHERE s.latitude IS NOT NULL AND s.longitude IS NOT NULL
			AND p.observed_at = (
				SELECT MAX(observed_at) FROM price_observations latest
				WHERE latest.station_key = s.station_key
			)
		ORDER BY s.station_key
	`

	rows, err := d.db.QueryContext(ctx, query)
	d.record("latest_prices", err)
	if err != nil {
		return nil, fmt.Errorf("querying latest prices: %w", err)
	}
	defer rows.Close() //nolint:errcheck

	var result []models.StationPrice
	for rows.Next() {
		var sp models.StationPrice
		var lat, lon, diesel, super, e10 sql.NullFloat64
		err := rows.Scan(
			&sp.Key, &sp.ExternalID, &sp.Name, &sp.Address, &lat, &lon, &sp.CreatedAt, &sp.UpdatedAt,
			&sp.Latest.ID, &diesel, &super, &e10, &sp.Latest.ObservedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("scanning latest price: %w", err)
		}
		sp.Latitude = floatPtr(lat)
		sp.Longitude = floatPtr(lon)
		sp.Latest.StationKey = sp.Key
		sp.Latest.PriceDiesel = floatPtr(diesel)
		sp.Latest.PriceSuper = floatPtr(super)
		sp.Latest.PriceSuperE10 = floatPtr(e10)
		sp.Latest.ObservedAt = sp.Latest.ObservedAt.UTC()
		result = append(result, sp)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating latest prices: %w", err)
	}

	return result, nil
}

// RecordRun persists a finished pipeline run. An empty ID is replaced by a new UUID.
func (d *DB) RecordRun(ctx context.Context, run *models.BatchRun) error {
	if run.ID == "" {
		run.ID = uuid.NewString()
	}

	query := `
		INSERT INTO crawl_runs (id, source, started_at, finished_at, total, rejected, saved, failed,
			stations_created, observations_appended, duplicate_observations,
			geocode_skipped, resolved, unresolved, geocode_failed, error)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	s := run.Summary
	_, err := d.db.ExecContext(ctx, d.q(query),
		run.ID,
		run.Source,
		run.StartedAt.UTC(),
		run.FinishedAt.UTC(),
		s.Total,
		s.Rejected,
		s.Saved,
		s.Failed,
		s.StationsCreated,
		s.ObservationsAppended,
		s.DuplicateObservations,
		s.GeocodeSkipped,
		s.Resolved,
		s.Unresolved,
		s.GeocodeFailed,
		run.Error,
	)
	d.record("record_run", err)
	if err != nil {
		return fmt.Errorf("recording run %s: %w", run.ID, err)
	}

	d.logger.Debug().
		Str("run", run.ID).
		Str("source", run.Source).
		Msg("recorded run")

	return nil
}

// LastRun returns the most recently finished run, or nil if there is none.
func (d *DB) LastRun(ctx context.Context) (*models.BatchRun, error) {
	query := `
		SELECT id, source, started_at, finished_at, total, rejected, saved, failed,
			stations_created, observations_appended, duplicate_observations,
			geocode_skipped, resolved, unresolved, geocode_failed, error
		FROM crawl_runs
		ORDER BY finished_at DESC
		LIMIT 1
	`

	var run models.BatchRun
	var runErr sql.NullString
	s := &run.Summary
	err := d.db.QueryRowContext(ctx, query).Scan(
		&run.ID,
		&run.Source,
		&run.StartedAt,
		&run.FinishedAt,
		&s.Total,
		&s.Rejected,
		&s.Saved,
		&s.Failed,
		&s.StationsCreated,
		&s.ObservationsAppended,
		&s.DuplicateObservations,
		&s.GeocodeSkipped,
		&s.Resolved,
		&s.Unresolved,
		&s.GeocodeFailed,
		&runErr,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("getting last run: %w", err)
	}

	if runErr.Valid {
		run.Error = &runErr.String
	}
	run.StartedAt = run.StartedAt.UTC()
	run.FinishedAt = run.FinishedAt.UTC()
	return &run, nil
}

func floatPtr(v sql.NullFloat64) *float64 {
	if !v.Valid {
		return nil
	}
	f := v.Float64
	return &f
}
