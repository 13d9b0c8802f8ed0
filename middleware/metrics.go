package middleware

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/agentstation/screenflow"
)

// Metrics records stage runs and routing decisions as Prometheus metrics.
// Install Middleware on the stages and register the Metrics value as an
// engine observer to count routes.
type Metrics struct {
	runs     *prometheus.CounterVec
	duration *prometheus.HistogramVec
	routes   *prometheus.CounterVec
}

// NewMetrics creates the collectors and registers them with reg.
func NewMetrics(reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		runs: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "screenflow_stage_runs_total",
				Help: "Total number of stage runs by result",
			},
			[]string{"stage", "result"},
		),
		duration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "screenflow_stage_duration_seconds",
				Help:    "Duration of stage runs",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"stage"},
		),
		routes: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "screenflow_routes_total",
				Help: "Total number of decisions taken at the decision stage",
			},
			[]string{"stage", "outcome"},
		),
	}
	for _, c := range []prometheus.Collector{m.runs, m.duration, m.routes} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

// Middleware counts and times every run of the wrapped stage.
func (m *Metrics) Middleware() Middleware {
	return func(stage screenflow.Stage) screenflow.Stage {
		return Wrap(stage, func(ctx context.Context, state screenflow.StateReader) (screenflow.Update, error) {
			start := time.Now()
			update, err := stage.Run(ctx, state)
			m.duration.WithLabelValues(stage.Name()).Observe(time.Since(start).Seconds())

			result := "ok"
			if err != nil {
				result = "error"
			}
			m.runs.WithLabelValues(stage.Name(), result).Inc()
			return update, err
		})
	}
}

// OnEvent implements screenflow.Observer.
func (m *Metrics) OnEvent(e screenflow.Event) {
	if e.Type == screenflow.EventRoute {
		m.routes.WithLabelValues(e.Stage, string(e.Outcome)).Inc()
	}
}
