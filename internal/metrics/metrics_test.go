package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestMetrics_Record(t *testing.T) {
	m := New(prometheus.NewRegistry())

	m.RecordRecord("saved")
	m.RecordRecord("saved")
	m.RecordRecord("rejected")
	m.RecordGeocodeRequest("ok", 0.2)
	m.RecordGeocodeOutcome("resolved")
	m.RecordDBOperation("save_record", "success")
	m.RecordStored(3, 7)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.RecordsTotal.WithLabelValues("saved")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.RecordsTotal.WithLabelValues("rejected")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.GeocodeRequestsTotal.WithLabelValues("ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.GeocodeOutcomesTotal.WithLabelValues("resolved")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.DBOperationsTotal.WithLabelValues("save_record", "success")))
	assert.Equal(t, 3.0, testutil.ToFloat64(m.StationsStored))
	assert.Equal(t, 7.0, testutil.ToFloat64(m.ObservationsStored))
}

func TestMetrics_NilIsNoop(t *testing.T) {
	var m *Metrics

	assert.NotPanics(t, func() {
		m.RecordRecord("saved")
		m.RecordLastBatch("clevertanken", 1)
		m.RecordGeocodeRequest("ok", 0.1)
		m.RecordGeocodeOutcome("resolved")
		m.RecordDBOperation("save_record", "error")
		m.RecordStored(1, 1)
	})
}

func TestNew_SeparateRegistries(t *testing.T) {
	assert.NotPanics(t, func() {
		New(prometheus.NewRegistry())
		New(prometheus.NewRegistry())
	})
}
