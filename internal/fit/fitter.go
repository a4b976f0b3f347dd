// Package fit fits power-law Lorentzian profiles to detector charge
// distributions and reconstructs hit positions from them.
package fit

import (
	"math"
	"sync"

	"ChargeFit/internal/solver"
	"ChargeFit/pkg/logger"
)

const (
	DefaultMinUncertainty = 1e-20
	uncertaintyFraction   = 0.05
)

var processLock sync.Mutex

// SharedLocker returns the process-wide lock. Fitters built with
// WithLocker(SharedLocker()) never run solves concurrently.
func SharedLocker() sync.Locker {
	return &processLock
}

// Fitter runs profile, 2-D and diagonal fits. It is safe for concurrent use;
// every single profile fit runs under the fitter's lock.
type Fitter struct {
	mu                  sync.Locker
	log                 *logger.Logger
	chargeUncertainties bool
	robustLoss          bool
	minUncertainty      float64
}

type Option func(*Fitter)

// WithLocker replaces the fitter's private mutex.
func WithLocker(l sync.Locker) Option {
	return func(f *Fitter) {
		if l != nil {
			f.mu = l
		}
	}
}

func WithLogger(l *logger.Logger) Option {
	return func(f *Fitter) {
		if l != nil {
			f.log = l
		}
	}
}

// WithChargeUncertainties toggles per-point weighting by 5% of the profile
// maximum. When disabled every residual has unit weight.
func WithChargeUncertainties(enabled bool) Option {
	return func(f *Fitter) {
		f.chargeUncertainties = enabled
	}
}

// WithRobustLoss toggles the per-config Huber and Cauchy losses. When
// disabled every strategy is a plain weighted least-squares solve and the
// covariance uses the unweighted jacobian.
func WithRobustLoss(enabled bool) Option {
	return func(f *Fitter) {
		f.robustLoss = enabled
	}
}

// WithMinUncertainty sets the floor applied to charge uncertainties and to the
// lower amplitude bound.
func WithMinUncertainty(v float64) Option {
	return func(f *Fitter) {
		if v > 0 {
			f.minUncertainty = v
		}
	}
}

func New(opts ...Option) *Fitter {
	f := &Fitter{
		mu:                  &sync.Mutex{},
		log:                 logger.Nop(),
		chargeUncertainties: true,
		robustLoss:          true,
		minUncertainty:      DefaultMinUncertainty,
	}
	for _, opt := range opts {
		opt(f)
	}
	solver.InitLogging(f.log)
	return f
}

// FitOptions control a single fit call.
type FitOptions struct {
	Verbose        bool `json:"verbose"`
	FilterOutliers bool `json:"filter_outliers"`

	// SamplesCleaned marks samples that already went through RemoveOutliers.
	// FitDiagonal then skips its own sample-level pass.
	SamplesCleaned bool `json:"-"`
}

// Uncertainty returns the per-point charge uncertainty for a profile whose
// largest charge is maxCharge.
func (f *Fitter) Uncertainty(maxCharge float64) float64 {
	if !f.chargeUncertainties {
		return 1
	}
	return math.Max(uncertaintyFraction*maxCharge, f.minUncertainty)
}

type traceFunc func(msg string, fields ...logger.Field)

// trace returns the logger level used for per-attempt diagnostics.
func (f *Fitter) trace(verbose bool) traceFunc {
	if verbose {
		return f.log.Info
	}
	return f.log.Debug
}
