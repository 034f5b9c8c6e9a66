package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "roomrelay"

// Source exposes the live counts reported as gauges.
type Source struct {
	Rooms       func() int
	Users       func() int
	Connections func() int
}

// Metrics holds the relay's Prometheus collectors. A nil *Metrics is valid
// and records nothing.
type Metrics struct {
	messages  prometheus.Counter
	rejected  *prometheus.CounterVec
	evicted   prometheus.Counter
	pruned    prometheus.Counter
	persisted *prometheus.CounterVec
}

// New registers the relay collectors with reg.
func New(reg prometheus.Registerer, src Source) *Metrics {
	m := &Metrics{
		messages: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "messages_total",
			Help:      "Chat messages accepted and broadcast.",
		}),
		rejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_rejected_total",
			Help:      "Inbound events answered with an error, by reason.",
		}, []string{"reason"}),
		evicted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reaped_members_total",
			Help:      "Memberships removed by the reaper because their connection died.",
		}),
		pruned: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reaped_connections_total",
			Help:      "Dead connections closed by the reaper.",
		}),
		persisted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "messages_persisted_total",
			Help:      "Persistence outcomes of accepted messages.",
		}, []string{"result"}),
	}

	reg.MustRegister(
		m.messages, m.rejected, m.evicted, m.pruned, m.persisted,
		gauge("rooms_active", "Rooms with at least one member.", src.Rooms),
		gauge("users_online", "Distinct users with at least one room membership.", src.Users),
		gauge("connections_live", "Live websocket connections.", src.Connections),
	)
	return m
}

func gauge(name, help string, fn func() int) prometheus.GaugeFunc {
	return prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      name,
		Help:      help,
	}, func() float64 {
		if fn == nil {
			return 0
		}
		return float64(fn())
	})
}

// MessageAccepted counts a broadcast message.
func (m *Metrics) MessageAccepted() {
	if m == nil {
		return
	}
	m.messages.Inc()
}

// Rejected counts an inbound event answered with an error.
func (m *Metrics) Rejected(reason string) {
	if m == nil {
		return
	}
	m.rejected.WithLabelValues(reason).Inc()
}

// Reaped records the outcome of a reaper sweep.
func (m *Metrics) Reaped(members, connections int) {
	if m == nil {
		return
	}
	m.evicted.Add(float64(members))
	m.pruned.Add(float64(connections))
}

// Persisted records a persistence outcome.
func (m *Metrics) Persisted(ok bool) {
	if m == nil {
		return
	}
	result := "stored"
	if !ok {
		result = "failed"
	}
	m.persisted.WithLabelValues(result).Inc()
}
