package observability

import (
	"context"
	"net/http"

	"github.com/aretw0/basthon/pkg/domain"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the kernel's Prometheus collectors.
type Metrics struct {
	registry    *prometheus.Registry
	evaluations *prometheus.CounterVec
	duration    prometheus.Histogram
	packages    *prometheus.CounterVec
	displays    *prometheus.CounterVec
}

// NewMetrics creates the collectors on a private registry, so several
// kernels in one process do not collide.
func NewMetrics() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		evaluations: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "basthon_evaluations_total",
				Help: "Total number of evaluations by outcome",
			},
			[]string{"status"},
		),
		duration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "basthon_evaluation_duration_seconds",
				Help:    "Duration of evaluations",
				Buckets: prometheus.DefBuckets,
			},
		),
		packages: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "basthon_packages_loaded_total",
				Help: "Total number of packages loaded by kind",
			},
			[]string{"kind"},
		),
		displays: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "basthon_display_events_total",
				Help: "Total number of display events by display type",
			},
			[]string{"display_type"},
		),
	}
	m.registry.MustRegister(m.evaluations, m.duration, m.packages, m.displays)
	return m
}

// Registry exposes the collectors for tests and custom exporters.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// Hooks returns lifecycle hooks that record into the collectors.
func (m *Metrics) Hooks() domain.LifecycleHooks {
	return domain.LifecycleHooks{
		OnEvalFinish: func(_ context.Context, e *domain.EvalEvent) {
			status := "ok"
			if e.Err != nil {
				status = "error"
			}
			m.evaluations.WithLabelValues(status).Inc()
			m.duration.Observe(e.Duration.Seconds())
		},
		OnPackagesLoaded: func(_ context.Context, e *domain.PackageEvent) {
			m.packages.WithLabelValues(string(e.Kind)).Add(float64(len(e.Packages)))
		},
		OnDisplay: func(_ context.Context, e *domain.DisplayEvent) {
			m.displays.WithLabelValues(e.DisplayType).Inc()
		},
	}
}

// Handler serves the collectors in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
