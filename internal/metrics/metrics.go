// Package metrics exposes Prometheus instruments for the sweep and the
// outcome evaluator.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Recorder implements the engine's metrics hooks using Prometheus. A nil
// *Recorder is valid and records nothing.
type Recorder struct {
	registry     *prometheus.Registry
	ticks        *prometheus.CounterVec
	ticksSkipped *prometheus.CounterVec
	tickDuration *prometheus.HistogramVec
	rulesSwept   prometheus.Counter
	fired        *prometheus.CounterVec
	suppressed   *prometheus.CounterVec
	classified   *prometheus.CounterVec
	errorsTotal  *prometheus.CounterVec
}

// New registers the instruments on a private registry.
func New() *Recorder {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Recorder{
		registry: reg,
		ticks: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "alertengine_ticks_total",
			Help: "Completed periodic ticks by task and result",
		}, []string{"task", "result"}),
		ticksSkipped: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "alertengine_ticks_skipped_total",
			Help: "Ticks dropped because the previous tick was still running",
		}, []string{"task"}),
		tickDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "alertengine_tick_duration_seconds",
			Help:    "Duration of periodic ticks in seconds",
			Buckets: prometheus.DefBuckets,
		}, []string{"task"}),
		rulesSwept: factory.NewCounter(prometheus.CounterOpts{
			Name: "alertengine_rules_swept_total",
			Help: "Active rules evaluated by the sweep",
		}),
		fired: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "alertengine_alerts_fired_total",
			Help: "Alert events emitted by trigger type",
		}, []string{"trigger"}),
		suppressed: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "alertengine_alerts_suppressed_total",
			Help: "Matched conditions suppressed by reason",
		}, []string{"reason"}),
		classified: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "alertengine_events_classified_total",
			Help: "Alert events settled by outcome",
		}, []string{"outcome"}),
		errorsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "alertengine_errors_total",
			Help: "Errors encountered by kind",
		}, []string{"kind"}),
	}
}

// Handler serves the registry in the Prometheus exposition format.
func (r *Recorder) Handler() http.Handler {
	if r == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{})
}

// Registry exposes the underlying registry.
func (r *Recorder) Registry() *prometheus.Registry {
	if r == nil {
		return nil
	}
	return r.registry
}

// RecordTick records a completed tick of task.
func (r *Recorder) RecordTick(task string, seconds float64, err error) {
	if r == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	r.ticks.WithLabelValues(task, result).Inc()
	r.tickDuration.WithLabelValues(task).Observe(seconds)
}

// RecordSkipped records n dropped ticks of task.
func (r *Recorder) RecordSkipped(task string, n int) {
	if r == nil {
		return
	}
	r.ticksSkipped.WithLabelValues(task).Add(float64(n))
}

// RecordRulesSwept records how many rules one sweep evaluated.
func (r *Recorder) RecordRulesSwept(n int) {
	if r == nil {
		return
	}
	r.rulesSwept.Add(float64(n))
}

// RecordFired records an emitted alert event.
func (r *Recorder) RecordFired(trigger string) {
	if r == nil {
		return
	}
	r.fired.WithLabelValues(trigger).Inc()
}

// RecordSuppressed records a matched condition dropped by the scorer or the cooldown gate.
func (r *Recorder) RecordSuppressed(reason string) {
	if r == nil {
		return
	}
	r.suppressed.WithLabelValues(reason).Inc()
}

// RecordClassified records a settled alert event.
func (r *Recorder) RecordClassified(outcome string) {
	if r == nil {
		return
	}
	r.classified.WithLabelValues(outcome).Inc()
}

// RecordError records an error occurrence.
func (r *Recorder) RecordError(kind string) {
	if r == nil {
		return
	}
	r.errorsTotal.WithLabelValues(kind).Inc()
}
