package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetricsRegisterAndCount(t *testing.T) {
	reg := prometheus.NewRegistry()
	m, err := New(reg)
	require.NoError(t, err)

	m.ZoneResolved("ZONA_SEGURA", "ZONA_SEGURA")
	m.ZoneResolved("ZONA_SEGURA", "ZONA_PRECAUCION")
	m.ZoneReset("ZONA_PELIGROSA")
	m.NotificationDelivered("email", "failed")

	assert.Equal(t, 2.0, testutil.ToFloat64(m.ZoneResolutions))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ZoneLevelChanges.WithLabelValues("ZONA_SEGURA", "ZONA_PRECAUCION")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ZoneLevelChanges.WithLabelValues("ZONA_PELIGROSA", "ZONA_SEGURA")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.NotificationResults.WithLabelValues("email", "failed")))

	_, err = New(reg)
	assert.Error(t, err, "second registration must collide")
}

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	m.ReportCreated()
	m.ZoneResolved("a", "b")
	m.PushClientsChanged(1)
}
