// Package metrics exposes forecaster run statistics to Prometheus.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sony/gobreaker"

	"github.com/kanna-karuppasamy/frost-forecaster/internal/models"
)

// Metrics implements processor.Observer.
type Metrics struct {
	registry *prometheus.Registry

	runsTotal      *prometheus.CounterVec
	runDuration    prometheus.Histogram
	backlogTotal   *prometheus.CounterVec
	trainLoss      prometheus.Histogram
	probability    *prometheus.GaugeVec
	lastRunSeconds *prometheus.GaugeVec
	cbState        *prometheus.GaugeVec
}

func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		runsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "frost_runs_total",
			Help: "Forecast runs by outcome (predicted, sentinel, duplicate, failed).",
		}, []string{"zone", "outcome"}),
		runDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "frost_run_duration_seconds",
			Help:    "Histogram of forecast run durations.",
			Buckets: prometheus.DefBuckets,
		}),
		backlogTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "frost_backlog_resolved_total",
			Help: "Matured predictions resolved, by whether they were trained on.",
		}, []string{"zone", "result"}),
		trainLoss: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "frost_train_loss",
			Help:    "Binary cross-entropy of each online training step.",
			Buckets: []float64{0.05, 0.1, 0.2, 0.4, 0.7, 1, 2, 4},
		}),
		probability: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "frost_probability",
			Help: "Latest emitted frost probability (-1 for a sentinel).",
		}, []string{"zone"}),
		lastRunSeconds: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "frost_last_run_timestamp_seconds",
			Help: "Unix time of the last completed run.",
		}, []string{"zone"}),
		cbState: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "cb_state",
			Help: "Circuit breaker state gauge (0 closed, 1 half, 2 open).",
		}, []string{"target"}),
	}

	m.registry.MustRegister(
		m.runsTotal,
		m.runDuration,
		m.backlogTotal,
		m.trainLoss,
		m.probability,
		m.lastRunSeconds,
		m.cbState,
	)
	return m
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry exposes the underlying registry, mainly for tests.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

func (m *Metrics) ObserveRun(s models.RunSummary, elapsed time.Duration) {
	if m == nil {
		return
	}
	outcome := "predicted"
	switch {
	case s.Duplicate:
		outcome = "duplicate"
	case s.Sentinel:
		outcome = "sentinel"
	}
	m.runsTotal.WithLabelValues(s.ZoneID, outcome).Inc()
	m.runDuration.Observe(elapsed.Seconds())
	if s.Duplicate {
		return
	}
	m.backlogTotal.WithLabelValues(s.ZoneID, "trained").Add(float64(s.BacklogTrained))
	m.backlogTotal.WithLabelValues(s.ZoneID, "skipped").Add(float64(s.BacklogSkipped))
	m.probability.WithLabelValues(s.ZoneID).Set(s.Probability)
	m.lastRunSeconds.WithLabelValues(s.ZoneID).SetToCurrentTime()
}

func (m *Metrics) ObserveTrainLoss(loss float64) {
	if m == nil {
		return
	}
	m.trainLoss.Observe(loss)
}

// RunFailed counts a run that ended with an error.
func (m *Metrics) RunFailed(zone string) {
	if m == nil {
		return
	}
	m.runsTotal.WithLabelValues(zone, "failed").Inc()
}

// BreakerState records a circuit breaker transition.
func (m *Metrics) BreakerState(target string, state gobreaker.State) {
	if m == nil {
		return
	}
	m.cbState.WithLabelValues(target).Set(float64(state))
}
