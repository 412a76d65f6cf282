package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the Prometheus instruments for one replica process.
type Metrics struct {
	// MutationsApplied counts accepted directory mutations by operation.
	MutationsApplied *prometheus.CounterVec
	// UpdatesPublished / PublishFailures track the outbound fan-out per peer
	// message.
	UpdatesPublished prometheus.Counter
	PublishFailures  prometheus.Counter
	// MessagesReceived counts inbound envelopes; MessagesRejected slices
	// rejections by reason (unauthorized_sender, invalid_function, handler).
	MessagesReceived prometheus.Counter
	MessagesRejected *prometheus.CounterVec
	// StaleUpdates counts replicated mutations dropped by the merge guard.
	StaleUpdates prometheus.Counter
}

// New creates and registers all metrics on the default registry. Call once
// per process.
func New() *Metrics {
	return &Metrics{
		MutationsApplied: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "chaindir_mutations_applied_total",
			Help: "Accepted directory mutations by operation",
		}, []string{"op"}),
		UpdatesPublished: promauto.NewCounter(prometheus.CounterOpts{
			Name: "chaindir_updates_published_total",
			Help: "Replication messages handed to the transport",
		}),
		PublishFailures: promauto.NewCounter(prometheus.CounterOpts{
			Name: "chaindir_publish_failures_total",
			Help: "Replication messages the transport failed to accept",
		}),
		MessagesReceived: promauto.NewCounter(prometheus.CounterOpts{
			Name: "chaindir_messages_received_total",
			Help: "Inbound envelopes handed to the router",
		}),
		MessagesRejected: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "chaindir_messages_rejected_total",
			Help: "Inbound envelopes rejected, by reason",
		}, []string{"reason"}),
		StaleUpdates: promauto.NewCounter(prometheus.CounterOpts{
			Name: "chaindir_stale_updates_total",
			Help: "Replicated mutations dropped by the timestamp guard",
		}),
	}
}

// IncMutation records one accepted mutation. All increment helpers are
// nil-safe so components can run without metrics in tests.
func (m *Metrics) IncMutation(op string) {
	if m != nil {
		m.MutationsApplied.WithLabelValues(op).Inc()
	}
}

func (m *Metrics) IncPublished() {
	if m != nil {
		m.UpdatesPublished.Inc()
	}
}

func (m *Metrics) IncPublishFailure() {
	if m != nil {
		m.PublishFailures.Inc()
	}
}

func (m *Metrics) IncReceived() {
	if m != nil {
		m.MessagesReceived.Inc()
	}
}

func (m *Metrics) IncRejected(reason string) {
	if m != nil {
		m.MessagesRejected.WithLabelValues(reason).Inc()
	}
}

func (m *Metrics) IncStale() {
	if m != nil {
		m.StaleUpdates.Inc()
	}
}
