package metrics

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/Kilat-Pet-Delivery/service-subscription/internal/application"
)

const (
	namespace = "subscription"
	subsystem = "engine"
)

// breakerStates maps gobreaker state names onto gauge values.
var breakerStates = map[string]float64{
	"closed":    0,
	"half-open": 1,
	"open":      2,
}

// Metrics holds the service's prometheus collectors. It observes transitions,
// gateway calls and renewal sweeps.
type Metrics struct {
	TransitionsTotal   *prometheus.CounterVec
	GatewayCallsTotal  *prometheus.CounterVec
	GatewayDuration    *prometheus.HistogramVec
	BreakerState       *prometheus.GaugeVec
	SweepsTotal        prometheus.Counter
	SweepResults       *prometheus.CounterVec
	SweepDuration      prometheus.Histogram
	LastSweepTimestamp prometheus.Gauge
}

// New registers every collector on reg.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		TransitionsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "transitions_total",
			Help:      "Recorded subscription history events by action and resulting status.",
		}, []string{"action", "status"}),

		GatewayCallsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "gateway",
			Name:      "calls_total",
			Help:      "Payment gateway calls by operation and outcome.",
		}, []string{"op", "outcome"}),

		GatewayDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "gateway",
			Name:      "call_duration_seconds",
			Help:      "Payment gateway call latency in seconds.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"op"}),

		BreakerState: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "gateway",
			Name:      "breaker_state",
			Help:      "Circuit breaker state per operation (0 closed, 1 half-open, 2 open).",
		}, []string{"op"}),

		SweepsTotal: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "sweep",
			Name:      "runs_total",
			Help:      "Completed renewal sweeps.",
		}),

		SweepResults: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "sweep",
			Name:      "results_total",
			Help:      "Subscriptions handled by renewal sweeps by result.",
		}, []string{"result"}),

		SweepDuration: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "sweep",
			Name:      "duration_seconds",
			Help:      "Renewal sweep duration in seconds.",
			Buckets:   prometheus.ExponentialBuckets(0.1, 2, 12),
		}),

		LastSweepTimestamp: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "sweep",
			Name:      "last_run_timestamp_seconds",
			Help:      "Unix time the last renewal sweep finished.",
		}),
	}
}

// OnTransition implements application.TransitionObserver.
func (m *Metrics) OnTransition(_ context.Context, t application.Transition) {
	m.TransitionsTotal.WithLabelValues(string(t.Action), string(t.To)).Inc()
}

// ObserveGatewayCall implements gateway.CallObserver.
func (m *Metrics) ObserveGatewayCall(op, outcome string, elapsed time.Duration) {
	m.GatewayCallsTotal.WithLabelValues(op, outcome).Inc()
	m.GatewayDuration.WithLabelValues(op).Observe(elapsed.Seconds())
}

// ObserveBreakerState implements gateway.CallObserver.
func (m *Metrics) ObserveBreakerState(op string, state string) {
	m.BreakerState.WithLabelValues(op).Set(breakerStates[state])
}

// ObserveSweep implements application.SweepObserver.
func (m *Metrics) ObserveSweep(r application.SweepReport) {
	m.SweepsTotal.Inc()
	m.SweepResults.WithLabelValues("succeeded").Add(float64(r.Succeeded))
	m.SweepResults.WithLabelValues("failed").Add(float64(r.Failed))
	m.SweepResults.WithLabelValues("expired").Add(float64(r.Expired))
	m.SweepResults.WithLabelValues("skipped").Add(float64(r.Skipped))
	m.SweepResults.WithLabelValues("errored").Add(float64(r.Errored))
	m.SweepDuration.Observe(r.Duration.Seconds())
	m.LastSweepTimestamp.Set(float64(r.FinishedAt.Unix()))
}
