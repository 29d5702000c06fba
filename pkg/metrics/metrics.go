// Package metrics defines the Prometheus metric collectors used by the
// pipeline and exposes an HTTP handler for scraping.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	pipelineerrors "github.com/Adithya-Monish-Kumar-K/tf-index-pipeline/pkg/errors"
)

// Metrics holds all Prometheus collectors for the pipeline.
type Metrics struct {
	StageItemsTotal      *prometheus.CounterVec
	StageDuration        *prometheus.HistogramVec
	WorkersInFlight      *prometheus.GaugeVec
	RecordsRejectedTotal *prometheus.CounterVec
	PostingsTotal        prometheus.Counter
	TermsIndexed         prometheus.Gauge
	UploadsSkippedTotal  prometheus.Counter
	CircuitBreakerState  *prometheus.GaugeVec
}

// New creates all collectors and registers them with reg. A nil reg
// registers with the default Prometheus registry.
func New(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	m := &Metrics{
		StageItemsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tfi_stage_items_total",
				Help: "Items processed per pipeline stage by status (ok or an error kind).",
			},
			[]string{"stage", "status"},
		),
		StageDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "tfi_stage_duration_seconds",
				Help:    "Wall-clock duration of each pipeline stage.",
				Buckets: []float64{0.1, 0.5, 1, 5, 15, 30, 60, 300, 900, 1800},
			},
			[]string{"stage"},
		),
		WorkersInFlight: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "tfi_workers_in_flight",
				Help: "Workers currently executing per stage.",
			},
			[]string{"stage"},
		),
		RecordsRejectedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tfi_records_rejected_total",
				Help: "Records that contributed no postings, by reason.",
			},
			[]string{"reason"},
		),
		PostingsTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "tfi_postings_total",
				Help: "Postings appended to the inverted index.",
			},
		),
		TermsIndexed: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "tfi_terms_indexed",
				Help: "Distinct terms in the most recent transform.",
			},
		),
		UploadsSkippedTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "tfi_uploads_skipped_total",
				Help: "Uploads skipped because the object already existed or was unchanged.",
			},
		),
		CircuitBreakerState: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "tfi_circuit_breaker_state",
				Help: "Circuit breaker state (0=closed, 1=open, 2=half-open).",
			},
			[]string{"name"},
		),
	}

	reg.MustRegister(
		m.StageItemsTotal,
		m.StageDuration,
		m.WorkersInFlight,
		m.RecordsRejectedTotal,
		m.PostingsTotal,
		m.TermsIndexed,
		m.UploadsSkippedTotal,
		m.CircuitBreakerState,
	)

	return m
}

// StageObserver tracks in-flight workers and per-item outcomes for one stage.
// It satisfies executor.Observer.
type StageObserver struct {
	stage string
	m     *Metrics
}

// Stage returns an observer labelled with the given stage name. It is safe
// to call on a nil *Metrics, in which case the observer records nothing.
func (m *Metrics) Stage(stage string) *StageObserver {
	return &StageObserver{stage: stage, m: m}
}

func (o *StageObserver) Started() {
	if o.m == nil {
		return
	}
	o.m.WorkersInFlight.WithLabelValues(o.stage).Inc()
}

func (o *StageObserver) Finished(err error) {
	if o.m == nil {
		return
	}
	o.m.WorkersInFlight.WithLabelValues(o.stage).Dec()
	o.m.StageItemsTotal.WithLabelValues(o.stage, pipelineerrors.Kind(err)).Inc()
}

// ObserveDuration records how long the stage took since start.
func (o *StageObserver) ObserveDuration(start time.Time) {
	if o.m == nil {
		return
	}
	o.m.StageDuration.WithLabelValues(o.stage).Observe(time.Since(start).Seconds())
}

// Handler returns the Prometheus scrape HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}
