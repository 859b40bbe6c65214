// Package metrics provides Prometheus metrics for the fuel price scraper.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for the scraper.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	// Pipeline metrics
	RecordsTotal       *prometheus.CounterVec
	LastBatchTimestamp *prometheus.GaugeVec

	// Geocoding metrics
	GeocodeRequestsTotal   *prometheus.CounterVec
	GeocodeRequestDuration prometheus.Histogram
	GeocodeOutcomesTotal   *prometheus.CounterVec

	// Database metrics
	DBOperationsTotal  *prometheus.CounterVec
	StationsStored     prometheus.Gauge
	ObservationsStored prometheus.Gauge
}

// New creates Prometheus metrics and registers them with reg.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		RecordsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "fuelscraper_records_total",
				Help: "Total number of scraped records by pipeline outcome",
			},
			[]string{"outcome"},
		),
		LastBatchTimestamp: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "fuelscraper_last_batch_timestamp",
				Help: "Timestamp of the last finished batch",
			},
			[]string{"source"},
		),
		GeocodeRequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "fuelscraper_geocode_requests_total",
				Help: "Total number of outbound geocoding requests by status",
			},
			[]string{"status"},
		),
		GeocodeRequestDuration: factory.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "fuelscraper_geocode_request_duration_seconds",
				Help:    "Geocoding request duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
		),
		GeocodeOutcomesTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "fuelscraper_geocode_outcomes_total",
				Help: "Total number of geocoding resolutions by outcome",
			},
			[]string{"outcome"},
		),
		DBOperationsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "fuelscraper_db_operations_total",
				Help: "Total number of database operations by type and status",
			},
			[]string{"operation", "status"},
		),
		StationsStored: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "fuelscraper_stations_stored",
				Help: "Number of stations stored in the database",
			},
		),
		ObservationsStored: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "fuelscraper_observations_stored",
				Help: "Number of price observations stored in the database",
			},
		),
	}
}

// RecordRecord records the pipeline outcome of one scraped record.
func (m *Metrics) RecordRecord(outcome string) {
	if m == nil {
		return
	}
	m.RecordsTotal.WithLabelValues(outcome).Inc()
}

// RecordLastBatch records the finish timestamp of a batch.
func (m *Metrics) RecordLastBatch(source string, timestamp float64) {
	if m == nil {
		return
	}
	m.LastBatchTimestamp.WithLabelValues(source).Set(timestamp)
}

// RecordGeocodeRequest records one outbound geocoding request.
func (m *Metrics) RecordGeocodeRequest(status string, duration float64) {
	if m == nil {
		return
	}
	m.GeocodeRequestsTotal.WithLabelValues(status).Inc()
	m.GeocodeRequestDuration.Observe(duration)
}

// RecordGeocodeOutcome records the result of resolving one address.
func (m *Metrics) RecordGeocodeOutcome(outcome string) {
	if m == nil {
		return
	}
	m.GeocodeOutcomesTotal.WithLabelValues(outcome).Inc()
}

// RecordDBOperation records a database operation metric.
func (m *Metrics) RecordDBOperation(operation, status string) {
	if m == nil {
		return
	}
	m.DBOperationsTotal.WithLabelValues(operation, status).Inc()
}

// RecordStored records the current table sizes.
func (m *Metrics) RecordStored(stations, observations int64) {
	if m == nil {
		return
	}
	m.StationsStored.Set(float64(stations))
	m.ObservationsStored.Set(float64(observations))
}
