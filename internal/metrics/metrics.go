package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the collectors of the sync layer.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	ConnectionState   *prometheus.GaugeVec
	ConnectAttempts   *prometheus.CounterVec
	EventsReceived    *prometheus.CounterVec
	EventsDropped     *prometheus.CounterVec
	NotificationsKept prometheus.Counter
	NotificationsDup  prometheus.Counter
	EmitsDropped      *prometheus.CounterVec
	StatusUpdates     *prometheus.CounterVec
	Refetches         *prometheus.CounterVec
	RefetchDuration   prometheus.Histogram
}

// New creates the collectors and registers them on reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		ConnectionState: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "marketplace_sync",
			Name:      "connection_state",
			Help:      "1 for the current realtime connection state, 0 otherwise.",
		}, []string{"state"}),
		ConnectAttempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "marketplace_sync",
			Name:      "connect_attempts_total",
			Help:      "Realtime dial attempts by outcome.",
		}, []string{"outcome"}),
		EventsReceived: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "marketplace_sync",
			Name:      "events_received_total",
			Help:      "Inbound events routed, by type.",
		}, []string{"type"}),
		EventsDropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "marketplace_sync",
			Name:      "events_dropped_total",
			Help:      "Inbound frames ignored, by reason.",
		}, []string{"reason"}),
		NotificationsKept: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "marketplace_sync",
			Name:      "notifications_stored_total",
			Help:      "Notifications added to the store.",
		}),
		NotificationsDup: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "marketplace_sync",
			Name:      "notifications_deduplicated_total",
			Help:      "Notifications suppressed as duplicates.",
		}),
		EmitsDropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "marketplace_sync",
			Name:      "emits_dropped_total",
			Help:      "Outbound events dropped because the connection was not up.",
		}, []string{"event"}),
		StatusUpdates: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "marketplace_sync",
			Name:      "status_updates_total",
			Help:      "Application status events by reconciliation outcome.",
		}, []string{"outcome"}),
		Refetches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "marketplace_sync",
			Name:      "refetches_total",
			Help:      "Activity feed refetches by trigger and outcome.",
		}, []string{"trigger", "outcome"}),
		RefetchDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "marketplace_sync",
			Name:      "refetch_duration_seconds",
			Help:      "Duration of activity feed refetches.",
			Buckets:   prometheus.DefBuckets,
		}),
	}

	if reg != nil {
		reg.MustRegister(
			m.ConnectionState,
			m.ConnectAttempts,
			m.EventsReceived,
			m.EventsDropped,
			m.NotificationsKept,
			m.NotificationsDup,
			m.EmitsDropped,
			m.StatusUpdates,
			m.Refetches,
			m.RefetchDuration,
		)
	}

	return m
}

// SetConnectionState marks state as the only active connection state.
func (m *Metrics) SetConnectionState(state string, all []string) {
	if m == nil {
		return
	}
	for _, s := range all {
		v := 0.0
		if s == state {
			v = 1
		}
		m.ConnectionState.WithLabelValues(s).Set(v)
	}
}

func (m *Metrics) ConnectAttempt(outcome string) {
	if m == nil {
		return
	}
	m.ConnectAttempts.WithLabelValues(outcome).Inc()
}

func (m *Metrics) EventReceived(eventType string) {
	if m == nil {
		return
	}
	m.EventsReceived.WithLabelValues(eventType).Inc()
}

func (m *Metrics) EventDropped(reason string) {
	if m == nil {
		return
	}
	m.EventsDropped.WithLabelValues(reason).Inc()
}

func (m *Metrics) NotificationStored() {
	if m == nil {
		return
	}
	m.NotificationsKept.Inc()
}

func (m *Metrics) NotificationDeduplicated() {
	if m == nil {
		return
	}
	m.NotificationsDup.Inc()
}

func (m *Metrics) EmitDropped(event string) {
	if m == nil {
		return
	}
	m.EmitsDropped.WithLabelValues(event).Inc()
}

func (m *Metrics) StatusUpdate(outcome string) {
	if m == nil {
		return
	}
	m.StatusUpdates.WithLabelValues(outcome).Inc()
}

// Refetch records one refetch outcome and its duration in seconds.
func (m *Metrics) Refetch(trigger, outcome string, seconds float64) {
	if m == nil {
		return
	}
	m.Refetches.WithLabelValues(trigger, outcome).Inc()
	m.RefetchDuration.Observe(seconds)
}
