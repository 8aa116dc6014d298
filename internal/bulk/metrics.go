package bulk

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/ashureev/study-planner/internal/shared"
)

// Metrics counts batches and per-item outcomes.
type Metrics struct {
	batches *prometheus.CounterVec
	items   *prometheus.CounterVec
}

var (
	defaultMetricsOnce sync.Once
	sharedMetrics      *Metrics
)

func defaultMetrics() *Metrics {
	defaultMetricsOnce.Do(func() {
		sharedMetrics = MustNewMetrics(prometheus.DefaultRegisterer)
	})
	return sharedMetrics
}

// MustNewMetrics registers the bulk collectors with reg. Registering twice
// against the same registry reuses the existing collectors.
func MustNewMetrics(reg prometheus.Registerer) *Metrics {
	batches := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "planner",
			Subsystem: "bulk",
			Name:      "batches_total",
			Help:      "Bulk batches executed with a non-empty target set.",
		},
		[]string{"op"},
	)
	items := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "planner",
			Subsystem: "bulk",
			Name:      "items_total",
			Help:      "Items processed by bulk batches, by outcome.",
		},
		[]string{"op", "outcome"},
	)
	return &Metrics{
		batches: shared.MustRegister(reg, batches),
		items:   shared.MustRegister(reg, items),
	}
}

func (m *Metrics) observe(op string, res Result) {
	if m == nil {
		return
	}
	m.batches.WithLabelValues(op).Inc()
	m.items.WithLabelValues(op, "success").Add(float64(res.SuccessCount))
	m.items.WithLabelValues(op, "failure").Add(float64(res.FailCount))
}
