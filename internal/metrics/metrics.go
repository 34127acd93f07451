// Package metrics exposes Prometheus instruments for the queue and the task
// lifecycle.
package metrics

import (
	"context"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/makeasinger/videoagent/internal/store"
)

const namespace = "videoagent"

// Metrics holds every collector. Each instance owns its registry so tests can
// build as many as they like.
type Metrics struct {
	Registry *prometheus.Registry

	QueueRunning  prometheus.Gauge
	QueueBacklog  prometheus.Gauge
	Attempts      prometheus.Counter
	Retries       prometheus.Counter
	Failures      prometheus.Counter
	StepDuration  *prometheus.HistogramVec
	Transitions   *prometheus.CounterVec
	WebhookEvents *prometheus.CounterVec
}

func New() *Metrics {
	m := &Metrics{
		Registry: prometheus.NewRegistry(),
		QueueRunning: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: "queue", Name: "running",
			Help: "Tasks currently inside the processor.",
		}),
		QueueBacklog: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: "queue", Name: "backlog",
			Help: "Tasks waiting for a processing slot.",
		}),
		Attempts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "queue", Name: "attempts_total",
			Help: "Processor invocations, including retries.",
		}),
		Retries: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "queue", Name: "retries_total",
			Help: "Processor invocations that were retries.",
		}),
		Failures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "queue", Name: "failures_total",
			Help: "Tasks marked failed after exhausting retries.",
		}),
		StepDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace, Subsystem: "engine", Name: "step_duration_seconds",
			Help:    "Time spent generating one step's output.",
			Buckets: []float64{0.5, 1, 5, 15, 30, 60, 120, 300, 600},
		}, []string{"step", "outcome"}),
		Transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "tasks", Name: "transitions_total",
			Help: "Task status transitions by resulting state.",
		}, []string{"state"}),
		WebhookEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "webhook", Name: "deliveries_total",
			Help: "Webhook deliveries by outcome.",
		}, []string{"outcome"}),
	}

	m.Registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.QueueRunning, m.QueueBacklog, m.Attempts, m.Retries, m.Failures,
		m.StepDuration, m.Transitions, m.WebhookEvents,
	)
	return m
}

// TaskListener counts state changes observed by the store.
func (m *Metrics) TaskListener() store.Listener {
	return func(_ context.Context, ev store.Event) error {
		state := ev.Task.Status.State
		if ev.Type == store.EventCreated || state != ev.PreviousState {
			m.Transitions.WithLabelValues(string(state)).Inc()
		}
		return nil
	}
}
