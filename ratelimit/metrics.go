/*
Copyright © 2025 Ratekit Authors.

Released under MIT license.
*/

package ratelimit

import "github.com/prometheus/client_golang/prometheus"

const (
	metricsLabelAlgorithm  = "algorithm"
	metricsLabelBacklogged = "backlogged"
)

const (
	metricsValYes = "yes"
	metricsValNo  = "no"
)

// MetricsCollector is an interface for collecting rate limiting metrics.
type MetricsCollector interface {
	// IncRejects increments the counter of denied checks.
	IncRejects(algorithm string, backlogged bool)

	// IncStorageErrors increments the counter of checks that failed because
	// of a storage backend problem.
	IncStorageErrors(algorithm string)
}

// PrometheusMetrics implements MetricsCollector with Prometheus counters.
type PrometheusMetrics struct {
	Rejects       *prometheus.CounterVec
	StorageErrors *prometheus.CounterVec
}

// NewPrometheusMetrics creates a new instance of PrometheusMetrics.
func NewPrometheusMetrics(namespace string) *PrometheusMetrics {
	rejects := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "rate_limit_rejects_total",
		Help:      "Number of rejected requests due to rate limit exceeded.",
	}, []string{metricsLabelAlgorithm, metricsLabelBacklogged})

	storageErrors := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "rate_limit_storage_errors_total",
		Help:      "Number of rate limit checks failed due to storage backend errors.",
	}, []string{metricsLabelAlgorithm})

	return &PrometheusMetrics{Rejects: rejects, StorageErrors: storageErrors}
}

// MustRegister does registration of metrics collector in Prometheus and
// panics if any error occurs.
func (m *PrometheusMetrics) MustRegister() {
	prometheus.MustRegister(m.Rejects, m.StorageErrors)
}

// Unregister cancels registration of metrics collector in Prometheus.
func (m *PrometheusMetrics) Unregister() {
	prometheus.Unregister(m.Rejects)
	prometheus.Unregister(m.StorageErrors)
}

// IncRejects implements MetricsCollector interface.
func (m *PrometheusMetrics) IncRejects(algorithm string, backlogged bool) {
	backloggedVal := metricsValNo
	if backlogged {
		backloggedVal = metricsValYes
	}
	m.Rejects.With(prometheus.Labels{
		metricsLabelAlgorithm:  algorithm,
		metricsLabelBacklogged: backloggedVal,
	}).Inc()
}

// IncStorageErrors implements MetricsCollector interface.
func (m *PrometheusMetrics) IncStorageErrors(algorithm string) {
	m.StorageErrors.With(prometheus.Labels{metricsLabelAlgorithm: algorithm}).Inc()
}

type disabledMetrics struct{}

func (disabledMetrics) IncRejects(string, bool) {}
func (disabledMetrics) IncStorageErrors(string) {}
