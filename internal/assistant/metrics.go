package assistant

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/ashureev/study-planner/internal/shared"
)

// Metrics counts handled chat turns.
type Metrics struct {
	intents *prometheus.CounterVec
	replies *prometheus.CounterVec
}

// MustNewMetrics registers the assistant collectors with reg.
func MustNewMetrics(reg prometheus.Registerer) *Metrics {
	intents := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "planner",
			Subsystem: "assistant",
			Name:      "intents_total",
			Help:      "Chat turns by resolved intent.",
		},
		[]string{"intent"},
	)
	replies := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "planner",
			Subsystem: "assistant",
			Name:      "replies_total",
			Help:      "Chat replies by source.",
		},
		[]string{"source"},
	)
	return &Metrics{
		intents: shared.MustRegister(reg, intents),
		replies: shared.MustRegister(reg, replies),
	}
}

func (m *Metrics) observe(resp *ChatResponse) {
	if m == nil || resp == nil {
		return
	}
	m.intents.WithLabelValues(string(resp.Intent)).Inc()
	m.replies.WithLabelValues(resp.Source).Inc()
}
