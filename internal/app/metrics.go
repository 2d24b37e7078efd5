package app

import (
	"context"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/vk/monogrid/internal/events"
	"github.com/vk/monogrid/internal/report"
)

const metricsNamespace = "monogrid"

// Metrics holds the run metrics exported on /metrics. Each App owns its
// own registry so that tests and parallel apps do not collide.
type Metrics struct {
	registry *prometheus.Registry

	TasksTotal         *prometheus.CounterVec
	TaskDuration       *prometheus.HistogramVec
	CacheStoreFailures prometheus.Counter
	RunsTotal          *prometheus.CounterVec
}

// NewMetrics creates the metrics on a fresh registry.
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,
		TasksTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "tasks_total",
				Help:      "Finished tasks by verdict and execution type",
			},
			[]string{"verdict", "execution"},
		),
		TaskDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: metricsNamespace,
				Name:      "task_duration_seconds",
				Help:      "Task duration in seconds",
				Buckets:   []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30, 60, 300, 900},
			},
			[]string{"execution"},
		),
		CacheStoreFailures: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "cache_store_failures_total",
				Help:      "Task results that could not be written to the cache",
			},
		),
		RunsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "runs_total",
				Help:      "Finished runs by verdict",
			},
			[]string{"verdict"},
		),
	}
}

// Attach feeds the metrics from bus events.
func (m *Metrics) Attach(bus *events.Bus) (detach func()) {
	unsubs := []func(){
		events.On(bus, func(_ context.Context, ev events.ExecutionEnded) error {
			s := ev.Summary
			m.TasksTotal.WithLabelValues(string(s.Verdict), string(s.Execution)).Inc()
			if s.Execution != report.ExecutionCannotStart {
				m.TaskDuration.WithLabelValues(string(s.Execution)).Observe(s.Duration.Seconds())
			}
			return nil
		}),
		events.On(bus, func(_ context.Context, _ events.CacheStoreFailed) error {
			m.CacheStoreFailures.Inc()
			return nil
		}),
		events.On(bus, func(_ context.Context, ev events.RunEnded) error {
			m.RunsTotal.WithLabelValues(string(ev.Verdict)).Inc()
			return nil
		}),
	}
	return func() {
		for _, u := range unsubs {
			u()
		}
	}
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}
