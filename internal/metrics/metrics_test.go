package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNilMetricsIsSafe(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.ObserveValidation("single", "High", time.Now())
		m.ObserveOracle("ok", time.Second)
		m.IncSchemaRejection()
		m.ConfigLoad("south-africa", "hit")
		m.JobSubmitted()
		m.JobStarted()
		m.JobFinished("completed")
		m.IncRow("succeeded")
		m.IncTrigger("call", "ok")
		m.IncConfirmation()
		m.ObserveHTTP("GET", "/health", "200", time.Millisecond)
	})
}

func TestJobGauge(t *testing.T) {
	m := New(nil)

	m.JobSubmitted()
	m.JobSubmitted()
	assert.Equal(t, 0.0, testutil.ToFloat64(m.ActiveJobs))

	m.JobStarted()
	m.JobStarted()
	assert.Equal(t, 2.0, testutil.ToFloat64(m.ActiveJobs))

	m.JobFinished("cancelled")
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ActiveJobs))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.BatchJobs.WithLabelValues("cancelled")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.BatchJobs.WithLabelValues("submitted")))
}

func TestRegister(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)

	m.ConfigLoad("kazakhstan", "loaded")
	m.ConfigLoad("kazakhstan", "hit")
	m.ConfigLoad("kazakhstan", "hit")

	assert.Equal(t, 2.0, testutil.ToFloat64(m.ConfigLoads.WithLabelValues("kazakhstan", "hit")))

	families, err := reg.Gather()
	require.NoError(t, err)
	names := make([]string, 0, len(families))
	for _, f := range families {
		names = append(names, f.GetName())
	}
	assert.Contains(t, names, "addrintel_country_config_loads_total")
}
