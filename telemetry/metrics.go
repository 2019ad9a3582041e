package telemetry

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// MetricsRecorder exports records as prometheus collectors.
type MetricsRecorder struct {
	requestsTotal   *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
	tokensUsed      *prometheus.CounterVec
}

// NewMetricsRecorder registers the collectors on reg under namespace.
// A nil reg uses the default registerer.
func NewMetricsRecorder(namespace string, reg prometheus.Registerer) *MetricsRecorder {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)

	return &MetricsRecorder{
		requestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "llm_requests_total",
				Help:      "Total number of backend calls",
			},
			[]string{"backend", "model", "operation", "status"},
		),
		requestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "llm_request_duration_seconds",
				Help:      "Backend call duration in seconds",
				Buckets:   []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60},
			},
			[]string{"backend", "model", "operation"},
		),
		tokensUsed: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "llm_tokens_used_total",
				Help:      "Total number of tokens used",
			},
			[]string{"backend", "model", "type"}, // type: prompt, completion
		),
	}
}

// Record updates the collectors from rec.
func (m *MetricsRecorder) Record(_ context.Context, rec Record) {
	status := "success"
	if rec.Failed() {
		status = "error"
	}

	m.requestsTotal.WithLabelValues(rec.BackendID, rec.Model, rec.Operation, status).Inc()
	m.requestDuration.WithLabelValues(rec.BackendID, rec.Model, rec.Operation).
		Observe((time.Duration(rec.DurationMs) * time.Millisecond).Seconds())

	if rec.Operation == OpCountTokens {
		return
	}
	if rec.Usage.Prompt > 0 {
		m.tokensUsed.WithLabelValues(rec.BackendID, rec.Model, "prompt").Add(float64(rec.Usage.Prompt))
	}
	if rec.Usage.Completion > 0 {
		m.tokensUsed.WithLabelValues(rec.BackendID, rec.Model, "completion").Add(float64(rec.Usage.Completion))
	}
}
