/*
Copyright © 2026 Acronis International GmbH.

Released under MIT license.
*/

package migrate

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// DefaultMigrationDurationBuckets is default buckets for the migration
// duration histogram. Migrations are rare, heavyweight operations, so the
// buckets stretch well past typical query latencies.
var DefaultMigrationDurationBuckets = []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30, 60, 300}

const metricsLabelMigration = "migration"

// PrometheusMetrics represents the Prometheus metrics collected by the
// migration runner.
type PrometheusMetrics struct {
	Durations *prometheus.HistogramVec
	Applied   prometheus.Counter
	Failed    prometheus.Counter
}

type prometheusMetricsOptions struct {
	namespace       string
	durationBuckets []float64
	constLabels     prometheus.Labels
}

// PrometheusMetricsOption is a functional option for NewPrometheusMetrics.
type PrometheusMetricsOption func(*prometheusMetricsOptions)

// WithPrometheusNamespace sets the namespace for all collected metrics.
func WithPrometheusNamespace(namespace string) PrometheusMetricsOption {
	return func(o *prometheusMetricsOptions) {
		o.namespace = namespace
	}
}

// WithPrometheusDurationBuckets sets the buckets for the duration histogram.
func WithPrometheusDurationBuckets(buckets []float64) PrometheusMetricsOption {
	return func(o *prometheusMetricsOptions) {
		o.durationBuckets = buckets
	}
}

// WithPrometheusConstLabels sets the constant labels attached to all metrics.
func WithPrometheusConstLabels(labels prometheus.Labels) PrometheusMetricsOption {
	return func(o *prometheusMetricsOptions) {
		o.constLabels = labels
	}
}

// NewPrometheusMetrics creates a new migration metrics collector.
func NewPrometheusMetrics(options ...PrometheusMetricsOption) *PrometheusMetrics {
	opts := prometheusMetricsOptions{durationBuckets: DefaultMigrationDurationBuckets}
	for _, opt := range options {
		opt(&opts)
	}

	durations := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace:   opts.namespace,
		Name:        "migration_duration_seconds",
		Help:        "Duration of a single applied migration.",
		Buckets:     opts.durationBuckets,
		ConstLabels: opts.constLabels,
	}, []string{metricsLabelMigration})
	applied := prometheus.NewCounter(prometheus.CounterOpts{
		Namespace:   opts.namespace,
		Name:        "migrations_applied_total",
		Help:        "Total number of successfully applied migrations.",
		ConstLabels: opts.constLabels,
	})
	failed := prometheus.NewCounter(prometheus.CounterOpts{
		Namespace:   opts.namespace,
		Name:        "migrations_failed_total",
		Help:        "Total number of failed migrations.",
		ConstLabels: opts.constLabels,
	})

	return &PrometheusMetrics{Durations: durations, Applied: applied, Failed: failed}
}

// AllMetrics returns all metrics of the collector.
func (m *PrometheusMetrics) AllMetrics() []prometheus.Collector {
	return []prometheus.Collector{m.Durations, m.Applied, m.Failed}
}

// MustRegister registers all metrics in the default Prometheus registry
// and panics if any of them cannot be registered.
func (m *PrometheusMetrics) MustRegister() {
	prometheus.MustRegister(m.AllMetrics()...)
}

// Unregister removes all metrics from the default Prometheus registry.
func (m *PrometheusMetrics) Unregister() {
	for _, metric := range m.AllMetrics() {
		prometheus.Unregister(metric)
	}
}

// ObserveMigration records the outcome and the duration of one migration.
func (m *PrometheusMetrics) ObserveMigration(migrationName string, duration time.Duration, failed bool) {
	if failed {
		m.Failed.Inc()
		return
	}
	m.Applied.Inc()
	m.Durations.WithLabelValues(migrationName).Observe(duration.Seconds())
}
