package llm

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/ashureev/study-planner/internal/shared"
)

// Metrics records provider latency by outcome.
type Metrics struct {
	latency *prometheus.HistogramVec
}

// MustNewMetrics registers the provider collectors with reg.
func MustNewMetrics(reg prometheus.Registerer) *Metrics {
	latency := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "planner",
			Subsystem: "llm",
			Name:      "request_duration_seconds",
			Help:      "Latency of generative-text provider calls.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"outcome"},
	)
	return &Metrics{latency: shared.MustRegister(reg, latency)}
}

type instrumented struct {
	delegate Generator
	metrics  *Metrics
}

// Instrument wraps g so every call is observed in m.
func Instrument(g Generator, m *Metrics) Generator {
	if m == nil {
		return g
	}
	return &instrumented{delegate: g, metrics: m}
}

func (i *instrumented) GenerateReply(ctx context.Context, prompt string) (string, error) {
	start := time.Now()
	reply, err := i.delegate.GenerateReply(ctx, prompt)
	outcome := "success"
	if err != nil {
		outcome = "error"
	}
	i.metrics.latency.WithLabelValues(outcome).Observe(time.Since(start).Seconds())
	return reply, err
}
