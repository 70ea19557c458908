package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/beatflow/beatflow"
)

// Metrics is an Observer exporting trace and run counters to Prometheus.
// One instance can serve many runs; the underlying collectors are safe for
// concurrent use.
type Metrics struct {
	events   *prometheus.CounterVec
	runs     *prometheus.CounterVec
	duration prometheus.Histogram
}

// NewMetrics creates the collectors and registers them. A nil registerer
// falls back to the default registry.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	m := &Metrics{
		events: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "beatflow_trace_events_total",
			Help: "Trace events emitted, partitioned by event kind.",
		}, []string{"kind"}),
		runs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "beatflow_runs_total",
			Help: "Finished runs, partitioned by terminal status.",
		}, []string{"status"}),
		duration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "beatflow_run_duration_seconds",
			Help:    "Wall-clock duration of finished runs.",
			Buckets: prometheus.DefBuckets,
		}),
	}
	reg.MustRegister(m.events, m.runs, m.duration)
	return m
}

// ObserveEvent implements beatflow.Observer.
func (m *Metrics) ObserveEvent(ev beatflow.Event) {
	m.events.WithLabelValues(string(ev.Kind)).Inc()
}

// ObserveOutcome implements beatflow.OutcomeObserver.
func (m *Metrics) ObserveOutcome(info beatflow.OutcomeInfo) {
	m.runs.WithLabelValues(string(info.Status)).Inc()
	m.duration.Observe(info.Duration.Seconds())
}
