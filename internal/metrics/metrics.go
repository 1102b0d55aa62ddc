// Package metrics defines the Prometheus instruments for the chat engine.
// Every method is safe to call on a nil *Metrics so the engine can run without
// a registry (unit tests, tools).
package metrics

import "github.com/prometheus/client_golang/prometheus"

const namespace = "companychat"

// Admission results.
const (
	AdmissionAdmitted     = "admitted"
	AdmissionAnonymous    = "anonymous"
	AdmissionUnresolved   = "unresolved"
	AdmissionRosterFailed = "roster_failed"
)

// Eviction reasons.
const (
	EvictionDisconnect      = "disconnect"
	EvictionDeliveryFailure = "delivery_failure"
)

// Metrics holds the chat engine instruments.
type Metrics struct {
	ActiveConnections prometheus.Gauge
	Admissions        *prometheus.CounterVec
	Broadcasts        *prometheus.CounterVec
	Deliveries        *prometheus.CounterVec
	Evictions         *prometheus.CounterVec
}

// New creates and registers the chat metrics on the given registry.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		ActiveConnections: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "chat",
			Name:      "active_connections",
			Help:      "Number of admitted chat connections.",
		}),
		Admissions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "chat",
			Name:      "admissions_total",
			Help:      "Connection admission attempts by result.",
		}, []string{"result"}),
		Broadcasts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "chat",
			Name:      "broadcasts_total",
			Help:      "Group broadcasts by message kind.",
		}, []string{"kind"}),
		Deliveries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "chat",
			Name:      "deliveries_total",
			Help:      "Per-member delivery attempts by result.",
		}, []string{"result"}),
		Evictions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "chat",
			Name:      "evictions_total",
			Help:      "Members removed from a group by reason.",
		}, []string{"reason"}),
	}

	reg.MustRegister(m.ActiveConnections, m.Admissions, m.Broadcasts, m.Deliveries, m.Evictions)
	return m
}

func (m *Metrics) Admission(result string) {
	if m == nil {
		return
	}
	m.Admissions.WithLabelValues(result).Inc()
	if result == AdmissionAdmitted {
		m.ActiveConnections.Inc()
	}
}

func (m *Metrics) Broadcast(kind string) {
	if m == nil {
		return
	}
	m.Broadcasts.WithLabelValues(kind).Inc()
}

func (m *Metrics) Delivery(ok bool) {
	if m == nil {
		return
	}
	if ok {
		m.Deliveries.WithLabelValues("delivered").Inc()
		return
	}
	m.Deliveries.WithLabelValues("failed").Inc()
}

// Eviction counts a member removed from its group.
func (m *Metrics) Eviction(reason string) {
	if m == nil {
		return
	}
	m.Evictions.WithLabelValues(reason).Inc()
}

// SessionClosed balances a successful Admission.
func (m *Metrics) SessionClosed() {
	if m == nil {
		return
	}
	m.ActiveConnections.Dec()
}
