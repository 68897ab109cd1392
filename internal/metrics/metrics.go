// Package metrics exposes the synchronizer's Prometheus instruments.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Recorder owns a private registry and the instruments registered on it.
// Every method is safe to call on a nil Recorder.
type Recorder struct {
	registry *prometheus.Registry

	events        *prometheus.CounterVec
	eventDuration *prometheus.HistogramVec
	sweepPages    *prometheus.CounterVec
	sweepDuration prometheus.Histogram
	saves         *prometheus.CounterVec
	tracked       *prometheus.GaugeVec
}

// New constructs a recorder with a fresh registry.
func New() *Recorder {
	registry := prometheus.NewRegistry()
	factory := promauto.With(registry)

	return &Recorder{
		registry: registry,
		events: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "afcstats_events_total",
			Help: "Events handled by the dispatcher, by kind and outcome.",
		}, []string{"kind", "outcome"}),
		eventDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "afcstats_event_duration_seconds",
			Help:    "Time spent handling a single event.",
			Buckets: prometheus.DefBuckets,
		}, []string{"kind"}),
		sweepPages: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "afcstats_sweep_pages_total",
			Help: "Pages touched by sweep passes, by pass.",
		}, []string{"pass"}),
		sweepDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "afcstats_sweep_duration_seconds",
			Help:    "Duration of full reconciliation sweeps.",
			Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600},
		}),
		saves: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "afcstats_saves_total",
			Help: "Chart publish attempts, by outcome.",
		}, []string{"outcome"}),
		tracked: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "afcstats_tracked_pages",
			Help: "Tracked pages per chart bucket.",
		}, []string{"chart"}),
	}
}

// Registry returns the registry the instruments are registered on.
func (r *Recorder) Registry() *prometheus.Registry {
	if r == nil {
		return nil
	}
	return r.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (r *Recorder) Handler() http.Handler {
	if r == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{Registry: r.registry})
}

// ObserveEvent counts a handled event and its duration.
func (r *Recorder) ObserveEvent(kind, outcome string, elapsed time.Duration) {
	if r == nil {
		return
	}
	r.events.WithLabelValues(kind, outcome).Inc()
	r.eventDuration.WithLabelValues(kind).Observe(elapsed.Seconds())
}

// ObserveSweepPass adds the number of pages a sweep pass changed.
func (r *Recorder) ObserveSweepPass(pass string, pages int) {
	if r == nil || pages <= 0 {
		return
	}
	r.sweepPages.WithLabelValues(pass).Add(float64(pages))
}

// ObserveSweep records the duration of a whole sweep.
func (r *Recorder) ObserveSweep(elapsed time.Duration) {
	if r == nil {
		return
	}
	r.sweepDuration.Observe(elapsed.Seconds())
}

// ObserveSave counts a publish attempt.
func (r *Recorder) ObserveSave(outcome string) {
	if r == nil {
		return
	}
	r.saves.WithLabelValues(outcome).Inc()
}

// SetTracked replaces the per-bucket tracked page gauges.
func (r *Recorder) SetTracked(counts map[int]int64) {
	if r == nil {
		return
	}
	r.tracked.Reset()
	for chart, total := range counts {
		r.tracked.WithLabelValues(strconv.Itoa(chart)).Set(float64(total))
	}
}
