package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/andygrunwald/fuel-price-scraper/internal/models"
)

// SaveResult describes the effect of SaveRecord.
type SaveResult struct {
	StationKey int64
	// Created is true if the station was inserted by this call.
	Created bool
	// Appended is false if an observation with the same timestamp already existed.
	Appended bool
}

// SaveRecord persists one scraped record in a single transaction:
// it resolves the station identity, refreshes coordinates and address,
// and appends the price observation. Re-saving the same observation is a no-op.
func (d *DB) SaveRecord(ctx context.Context, rec *models.ScrapedRecord) (SaveResult, error) {
	res, err := d.saveRecord(ctx, rec)
	d.record("save_record", err)
	if err != nil {
		return SaveResult{}, err
	}

	rec.StationKey = res.StationKey

	d.logger.Debug().
		Str("station", rec.ExternalID).
		Int64("stationKey", res.StationKey).
		Bool("created", res.Created).
		Bool("appended", res.Appended).
		Time("observedAt", rec.ObservedAt).
		Msg("saved record")

	return res, nil
}

func (d *DB) saveRecord(ctx context.Context, rec *models.ScrapedRecord) (SaveResult, error) {
	if err := d.loadCache(ctx); err != nil {
		return SaveResult{}, err
	}

	now := time.Now().UTC()
	key, known := d.cachedKey(rec.ExternalID)

	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return SaveResult{}, fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	res := SaveResult{StationKey: key}

	if !known {
		query := `
			INSERT INTO stations (external_id, name, address, latitude, longitude, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?)
			RETURNING station_key
		`
		err := tx.QueryRowContext(ctx, d.q(query),
			rec.ExternalID,
			rec.Name,
			rec.Address,
			rec.Latitude,
			rec.Longitude,
			now,
			now,
		).Scan(&res.StationKey)
		if err != nil {
			if isUniqueViolation(err) {
				d.logger.Error().
					Err(err).
					Str("station", rec.ExternalID).
					Msg("station exists in the store but not in the identity cache")
				return SaveResult{}, fmt.Errorf("%w: station %s already stored: %v", ErrConsistency, rec.ExternalID, err)
			}
			return SaveResult{}, fmt.Errorf("inserting station %s: %w", rec.ExternalID, err)
		}
		res.Created = true
	} else if rec.HasCoordinates() || rec.ResolvedAddress != "" {
		var address *string
		if rec.ResolvedAddress != "" {
			address = &rec.ResolvedAddress
		}

		// NULL arguments keep the stored value, so coordinates are never cleared.
		query := `
			UPDATE stations SET
				latitude = COALESCE(?, latitude),
				longitude = COALESCE(?, longitude),
				address = COALESCE(?, address),
				updated_at = ?
			WHERE station_key = ?
		`
		_, err := tx.ExecContext(ctx, d.q(query),
			rec.Latitude,
			rec.Longitude,
			address,
			now,
			key,
		)
		if err != nil {
			return SaveResult{}, fmt.Errorf("updating station %s: %w", rec.ExternalID, err)
		}
	}

	query := `
		INSERT INTO price_observations (station_key, price_diesel, price_super, price_super_e10, observed_at, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT (station_key, observed_at) DO NOTHING
	`
	result, err := tx.ExecContext(ctx, d.q(query),
		res.StationKey,
		rec.PriceDiesel,
		rec.PriceSuper,
		rec.PriceSuperE10,
		rec.ObservedAt.UTC(),
		now,
	)
	if err != nil {
		return SaveResult{}, fmt.Errorf("inserting price observation for station %s: %w", rec.ExternalID, err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return SaveResult{}, fmt.Errorf("reading affected rows: %w", err)
	}
	res.Appended = affected > 0

	if err := tx.Commit(); err != nil {
		return SaveResult{}, fmt.Errorf("committing record of station %s: %w", rec.ExternalID, err)
	}

	if res.Created {
		d.mu.Lock()
		d.cache[rec.ExternalID] = res.StationKey
		d.mu.Unlock()
	}

	return res, nil
}

// loadCache fills the identity cache with all stored stations on first use.
func (d *DB) loadCache(ctx context.Context) error {
	d.mu.RLock()
	loaded := d.cache != nil
	d.mu.RUnlock()
	if loaded {
		return nil
	}

	rows, err := d.db.QueryContext(ctx, "SELECT external_id, station_key FROM stations")
	if err != nil {
		return fmt.Errorf("loading identity cache: %w", err)
	}
	defer rows.Close() //nolint:errcheck

	cache := make(map[string]int64)
	for rows.Next() {
		var externalID string
		var key int64
		if err := rows.Scan(&externalID, &key); err != nil {
			return fmt.Errorf("scanning identity cache row: %w", err)
		}
		cache[externalID] = key
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("iterating identity cache rows: %w", err)
	}

	d.mu.Lock()
	d.cache = cache
	d.mu.Unlock()

	d.logger.Debug().Int("stations", len(cache)).Msg("identity cache loaded")
	return nil
}

func (d *DB) cachedKey(externalID string) (int64, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	key, ok := d.cache[externalID]
	return key, ok
}

// CachedStations returns the number of entries in the identity cache.
func (d *DB) CachedStations() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.cache)
}

// IsGeocoded reports whether the station with the given external id has stored coordinates.
// Unknown stations are not geocoded.
func (d *DB) IsGeocoded(ctx context.Context, externalID string) (bool, error) {
	query := `
		SELECT COUNT(*) FROM stations
		WHERE external_id = ? AND latitude IS NOT NULL AND longitude IS NOT NULL
	`

	var count int
	err := d.db.QueryRowContext(ctx, d.q(query), externalID).Scan(&count)
	d.record("is_geocoded", err)
	if err != nil {
		return false, fmt.Errorf("checking coordinates of station %s: %w", externalID, err)
	}

	return count > 0, nil
}

// GetStation returns the station with the given external id, or nil if it is unknown.
func (d *DB) GetStation(ctx context.Context, externalID string) (*models.Station, error) {
	query := `
		SELECT station_key, external_id, name, address, latitude, longitude, created_at, updated_at
		FROM stations WHERE external_id = ?
	`

	s, err := scanStation(d.db.QueryRowContext(ctx, d.q(query), externalID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("getting station %s: %w", externalID, err)
	}
	return s, nil
}

// UngeocodedStations returns stations without coordinates, oldest first.
// A limit of zero or less returns all of them.
func (d *DB) UngeocodedStations(ctx context.Context, limit int) ([]models.Station, error) {
	query := `
		SELECT station_key, external_id, name, address, latitude, longitude, created_at, updated_at
		FROM stations
		WHERE latitude IS NULL OR longitude IS NULL
		ORDER BY station_key
	`
	var args []any
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := d.db.QueryContext(ctx, d.q(query), args...)
	d.record("ungeocoded_stations", err)
	if err != nil {
		return nil, fmt.Errorf("querying ungeocoded stations: %w", err)
	}
	defer rows.Close() //nolint:errcheck

	var stations []models.Station
	for rows.Next() {
		s, err := scanStation(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning station: %w", err)
		}
		stations = append(stations, *s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating stations: %w", err)
	}

	return stations, nil
}

// UpdateStationLocation sets the coordinates of a station that has none yet.
// A non-empty address replaces the stored one. It reports whether the row was updated;
// stations that already have coordinates are left untouched.
func (d *DB) UpdateStationLocation(ctx context.Context, stationKey int64, lat, lon float64, address string) (bool, error) {
	var addr *string
	if address != "" {
		addr = &address
	}

	query := `
		UPDATE stations SET
			latitude = ?,
			longitude = ?,
			address = COALESCE(?, address),
			updated_at = ?
		WHERE station_key = ? AND latitude IS NULL AND longitude IS NULL
	`
	result, err := d.db.ExecContext(ctx, d.q(query), lat, lon, addr, time.Now().UTC(), stationKey)
	d.record("update_location", err)
	if err != nil {
		return false, fmt.Errorf("updating location of station %d: %w", stationKey, err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("reading affected rows: %w", err)
	}
	return affected > 0, nil
}

// rowScanner is implemented by *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanStation(row rowScanner) (*models.Station, error) {
	var s models.Station
	var lat, lon sql.NullFloat64
	if err := row.Scan(&s.Key, &s.ExternalID, &s.Name, &s.Address, &lat, &lon, &s.CreatedAt, &s.UpdatedAt); err != nil {
		return nil, err
	}
	if lat.Valid && lon.Valid {
		s.Latitude = &lat.Float64
		s.Longitude = &lon.Float64
	}
	s.CreatedAt = s.CreatedAt.UTC()
	s.UpdatedAt = s.UpdatedAt.UTC()
	return &s, nil
}
