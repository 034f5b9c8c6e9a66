package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg, Source{
		Rooms:       func() int { return 2 },
		Users:       func() int { return 3 },
		Connections: func() int { return 4 },
	})

	m.MessageAccepted()
	m.MessageAccepted()
	m.Rejected("malformed")
	m.Reaped(2, 1)
	m.Persisted(true)
	m.Persisted(false)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.messages))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.rejected.WithLabelValues("malformed")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.evicted))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.pruned))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.persisted.WithLabelValues("failed")))

	families, err := reg.Gather()
	require.NoError(t, err)
	gauges := map[string]float64{}
	for _, f := range families {
		if f.GetMetric()[0].GetGauge() != nil {
			gauges[f.GetName()] = f.GetMetric()[0].GetGauge().GetValue()
		}
	}
	assert.Equal(t, 2.0, gauges["roomrelay_rooms_active"])
	assert.Equal(t, 3.0, gauges["roomrelay_users_online"])
	assert.Equal(t, 4.0, gauges["roomrelay_connections_live"])
}

func TestMetrics_NilIsNoop(t *testing.T) {
	var m *Metrics
	m.MessageAccepted()
	m.Rejected("x")
	m.Reaped(1, 1)
	m.Persisted(true)
}
