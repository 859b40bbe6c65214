// Package models provides shared data types for the fuel price scraper.
package models

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// ErrInvalidRecord is returned for scraped records that cannot enter the pipeline.
var ErrInvalidRecord = errors.New("invalid record")

// observedAtLayouts lists the timestamp formats accepted for ObservedAt.
// Values without a zone are interpreted as UTC.
var observedAtLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05",
	"2006-01-02T15:04",
	"2006-01-02 15:04:05",
	"2006-01-02 15:04",
	"02.01.2006 15:04",
	"02.01.2006 / 15:04",
}

// ScrapedRecord is one station observation from one crawl pass.
type ScrapedRecord struct {
	// ExternalID is the site-assigned station identifier.
	ExternalID string
	// Name is the station name as shown by the site.
	Name string
	// Address is the free text address. It is replaced by the
	// geocoder's canonical address once resolved.
	Address string
	// PriceDiesel, PriceSuper and PriceSuperE10 are optional prices in EUR per liter.
	PriceDiesel   *float64
	PriceSuper    *float64
	PriceSuperE10 *float64
	// ObservedAt is when the site last reported these prices.
	ObservedAt time.Time
	// Source is the site the record was scraped from (e.g., "clevertanken").
	Source string

	// Latitude and Longitude are filled in by geocoding.
	Latitude  *float64
	Longitude *float64
	// ResolvedAddress is the canonical address returned by the geocoder.
	ResolvedAddress string
	// StationKey is assigned by the store.
	StationKey int64
}

// scrapedRecordJSON is the wire shape of a ScrapedRecord.
// Both the crawler item names (id, last_transmission) and the long names are accepted.
type scrapedRecordJSON struct {
	ID               string   `json:"id,omitempty"`
	ExternalID       string   `json:"external_id,omitempty"`
	Name             string   `json:"name"`
	Address          string   `json:"address"`
	PriceDiesel      *float64 `json:"price_diesel,omitempty"`
	PriceSuper       *float64 `json:"price_super,omitempty"`
	PriceSuperE10    *float64 `json:"price_super_e10,omitempty"`
	ObservedAt       string   `json:"observed_at,omitempty"`
	LastTransmission string   `json:"last_transmission,omitempty"`
	Source           string   `json:"source,omitempty"`
	Latitude         *float64 `json:"latitude,omitempty"`
	Longitude        *float64 `json:"longitude,omitempty"`
}

// UnmarshalJSON decodes a record in the crawler's item format.
func (r *ScrapedRecord) UnmarshalJSON(data []byte) error {
	var raw scrapedRecordJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	id := raw.ExternalID
	if id == "" {
		id = raw.ID
	}

	ts := raw.ObservedAt
	if ts == "" {
		ts = raw.LastTransmission
	}
	var observedAt time.Time
	if ts != "" {
		t, err := ParseObservedAt(ts)
		if err != nil {
			return err
		}
		observedAt = t
	}

	*r = ScrapedRecord{
		ExternalID:    strings.TrimSpace(id),
		Name:          strings.TrimSpace(raw.Name),
		Address:       strings.TrimSpace(raw.Address),
		PriceDiesel:   raw.PriceDiesel,
		PriceSuper:    raw.PriceSuper,
		PriceSuperE10: raw.PriceSuperE10,
		ObservedAt:    observedAt,
		Source:        raw.Source,
		Latitude:      raw.Latitude,
		Longitude:     raw.Longitude,
	}
	return nil
}

// MarshalJSON encodes a record using the long field names.
func (r ScrapedRecord) MarshalJSON() ([]byte, error) {
	raw := scrapedRecordJSON{
		ExternalID:    r.ExternalID,
		Name:          r.Name,
		Address:       r.Address,
		PriceDiesel:   r.PriceDiesel,
		PriceSuper:    r.PriceSuper,
		PriceSuperE10: r.PriceSuperE10,
		Source:        r.Source,
		Latitude:      r.Latitude,
		Longitude:     r.Longitude,
	}
	if !r.ObservedAt.IsZero() {
		raw.ObservedAt = r.ObservedAt.Format(time.RFC3339)
	}
	return json.Marshal(raw)
}

// Validate checks the fields the pipeline relies on.
func (r *ScrapedRecord) Validate() error {
	if strings.TrimSpace(r.ExternalID) == "" {
		return fmt.Errorf("%w: missing external id", ErrInvalidRecord)
	}
	if r.ObservedAt.IsZero() {
		return fmt.Errorf("%w: station %s: missing observation time", ErrInvalidRecord, r.ExternalID)
	}
	if (r.Latitude == nil) != (r.Longitude == nil) {
		return fmt.Errorf("%w: station %s: latitude and longitude must be set together", ErrInvalidRecord, r.ExternalID)
	}
	return nil
}

// HasCoordinates reports whether both coordinates are set.
func (r *ScrapedRecord) HasCoordinates() bool {
	return r.Latitude != nil && r.Longitude != nil
}

// SetCoordinates sets latitude and longitude together.
func (r *ScrapedRecord) SetCoordinates(lat, lon float64) {
	r.Latitude = &lat
	r.Longitude = &lon
}

// ParseObservedAt parses a source timestamp in one of the supported layouts.
func ParseObservedAt(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	for _, layout := range observedAtLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("%w: unsupported timestamp %q", ErrInvalidRecord, s)
}

// Station represents a stored station record from the database.
type Station struct {
	Key        int64
	ExternalID string
	Name       string
	Address    string
	Latitude   *float64
	Longitude  *float64
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// PriceObservation represents one stored price snapshot for a station.
type PriceObservation struct {
	ID            int64
	StationKey    int64
	PriceDiesel   *float64
	PriceSuper    *float64
	PriceSuperE10 *float64
	ObservedAt    time.Time
}

// StationPrice is a geocoded station together with its most recent observation.
type StationPrice struct {
	Station
	Latest PriceObservation
}

// BatchSummary counts what happened to the records of one pipeline run.
type BatchSummary struct {
	Total                 int `json:"total"`
	Rejected              int `json:"rejected"`
	Saved                 int `json:"saved"`
	Failed                int `json:"failed"`
	StationsCreated       int `json:"stations_created"`
	ObservationsAppended  int `json:"observations_appended"`
	DuplicateObservations int `json:"duplicate_observations"`
	GeocodeSkipped        int `json:"geocode_skipped"`
	Resolved              int `json:"resolved"`
	Unresolved            int `json:"unresolved"`
	GeocodeFailed         int `json:"geocode_failed"`
}

// BatchRun is a persisted record of one pipeline run.
type BatchRun struct {
	ID         string       `json:"id"`
	Source     string       `json:"source"`
	StartedAt  time.Time    `json:"started_at"`
	FinishedAt time.Time    `json:"finished_at"`
	Summary    BatchSummary `json:"summary"`
	Error      *string      `json:"error,omitempty"`
}

// BackfillSummary counts the outcome of a geocoding backfill.
type BackfillSummary struct {
	Candidates int `json:"candidates"`
	Resolved   int `json:"resolved"`
	Unresolved int `json:"unresolved"`
	Failed     int `json:"failed"`
}

// StatusResponse is the response for the /status endpoint.
type StatusResponse struct {
	Status           string         `json:"status"`
	UptimeSeconds    int64          `json:"uptime_seconds"`
	SchedulerRunning bool           `json:"scheduler_running"`
	NextRunAt        *time.Time     `json:"next_run_at,omitempty"`
	LastRunAt        *time.Time     `json:"last_run_at,omitempty"`
	LastBatch        *BatchRun      `json:"last_batch,omitempty"`
	Database         DatabaseStatus `json:"database"`
}

// DatabaseStatus holds the database connection status.
type DatabaseStatus struct {
	Connected          bool  `json:"connected"`
	StationsStored     int64 `json:"stations_stored"`
	ObservationsStored int64 `json:"observations_stored"`
}
