package metrics

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Recorder implements domain.repository.Metrics using Prometheus.
type Recorder struct {
	fitsTotal          *prometheus.CounterVec
	fitDuration        *prometheus.HistogramVec
	strategyTotal      *prometheus.CounterVec
	covarianceFallback *prometheus.CounterVec
	outliersRemoved    prometheus.Counter
	errorsTotal        *prometheus.CounterVec
}

// New creates a recorder registered with the default Prometheus registry.
func New() *Recorder {
	return NewWithRegisterer(prometheus.DefaultRegisterer)
}

// NewWithRegisterer creates a recorder registered with reg.
func NewWithRegisterer(reg prometheus.Registerer) *Recorder {
	f := promauto.With(reg)
	return &Recorder{
		fitsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "chargefit_fits_total",
				Help: "Total number of fits by kind and outcome",
			},
			[]string{"kind", "result"},
		),
		fitDuration: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "chargefit_fit_duration_seconds",
				Help:    "Duration of fits in seconds",
				Buckets: []float64{0.0005, 0.001, 0.0025, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
			},
			[]string{"kind"},
		),
		strategyTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "chargefit_fit_strategy_total",
				Help: "Winning dataset variant and solver configuration of successful fits",
			},
			[]string{"dataset", "config"},
		),
		covarianceFallback: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "chargefit_covariance_fallback_total",
				Help: "Fits whose parameter errors came from the heuristic fallback",
			},
			[]string{"kind"},
		),
		outliersRemoved: f.NewCounter(
			prometheus.CounterOpts{
				Name: "chargefit_outliers_removed_total",
				Help: "Total number of samples dropped by outlier removal",
			},
		),
		errorsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "chargefit_errors_total",
				Help: "Total number of errors encountered",
			},
			[]string{"type"},
		),
	}
}

// RecordFit records one fit of the given kind (profile, 2d, diagonal).
func (r *Recorder) RecordFit(kind string, success bool, seconds float64) {
	result := "failure"
	if success {
		result = "success"
	}
	r.fitsTotal.WithLabelValues(kind, result).Inc()
	r.fitDuration.WithLabelValues(kind).Observe(seconds)
}

// RecordStrategy records which dataset variant and solver configuration won.
func (r *Recorder) RecordStrategy(dataset string, config int) {
	r.strategyTotal.WithLabelValues(dataset, strconv.Itoa(config)).Inc()
}

func (r *Recorder) RecordCovarianceFallback(kind string) {
	r.covarianceFallback.WithLabelValues(kind).Inc()
}

func (r *Recorder) RecordOutliersRemoved(n int) {
	if n > 0 {
		r.outliersRemoved.Add(float64(n))
	}
}

// RecordError records an error occurrence.
func (r *Recorder) RecordError(kind string) {
	r.errorsTotal.WithLabelValues(kind).Inc()
}
