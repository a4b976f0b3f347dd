package fit

import "ChargeFit/internal/solver"

// DatasetVariant names one candidate dataset derived from a profile.
// Threshold is the MAD multiplier handed to FilterOutliers; zero means the
// unfiltered profile.
type DatasetVariant struct {
	Name      string
	Threshold float64
}

// DatasetVariants are tried in order when outlier filtering is enabled.
var DatasetVariants = []DatasetVariant{
	{Name: "conservative", Threshold: ConservativeThreshold},
	{Name: "lenient", Threshold: LenientThreshold},
	{Name: "original"},
}

// SolverConfig is one solver strategy. LossFraction scales the estimated
// amplitude to obtain the robust loss scale in charge units.
type SolverConfig struct {
	LinearSolver      solver.LinearSolver
	TrustRegion       solver.TrustRegion
	FunctionTolerance float64
	GradientTolerance float64
	MaxIterations     int
	Loss              solver.LossKind
	LossFraction      float64
}

// SolverPolicy lists solver strategies in the order they are attempted.
var SolverPolicy = []SolverConfig{
	{solver.DenseQR, solver.LevenbergMarquardt, 1e-15, 1e-15, 2000, solver.HuberLoss, 0.10},
	{solver.DenseQR, solver.LevenbergMarquardt, 1e-12, 1e-12, 1500, solver.CauchyLoss, 0.16},
	{solver.DenseQR, solver.Dogleg, 1e-10, 1e-10, 1000, solver.NoLoss, 0},
	{solver.DenseNormalCholesky, solver.LevenbergMarquardt, 1e-12, 1e-12, 1500, solver.HuberLoss, 0.13},
	{solver.SparseNormalCholesky, solver.LevenbergMarquardt, 1e-12, 1e-12, 1200, solver.CauchyLoss, 0.22},
}

const (
	parameterTolerance         = 1e-15
	maxConsecutiveInvalidSteps = 50
)

// options builds solver options for this config. The loss scale is converted
// from charge units to residual units by dividing by sigma.
func (c SolverConfig) options(amplitude, sigma float64) solver.Options {
	opts := solver.DefaultOptions()
	opts.LinearSolver = c.LinearSolver
	opts.TrustRegion = c.TrustRegion
	opts.FunctionTolerance = c.FunctionTolerance
	opts.GradientTolerance = c.GradientTolerance
	opts.ParameterTolerance = parameterTolerance
	opts.MaxIterations = c.MaxIterations
	opts.MaxConsecutiveInvalidSteps = maxConsecutiveInvalidSteps
	opts.Loss = c.loss(amplitude, sigma)
	return opts
}

func (c SolverConfig) loss(amplitude, sigma float64) solver.Loss {
	if c.Loss == solver.NoLoss {
		return solver.Loss{}
	}
	return solver.Loss{Kind: c.Loss, Scale: c.LossFraction * amplitude / sigma}
}

// CovarianceAttempt is one covariance estimation strategy.
type CovarianceAttempt struct {
	Algorithm              solver.CovarianceAlgorithm
	MinReciprocalCondition float64
}

// CovariancePolicy lists covariance strategies in the order they are attempted.
var CovariancePolicy = []CovarianceAttempt{
	{solver.SVDCovariance, 1e-14},
	{solver.SVDCovariance, 1e-12},
	{solver.SVDCovariance, 1e-10},
	{solver.QRCovariance, 1e-12},
}

// Parameter bounds, in units of pixel spacing where noted.
const (
	centerRange      = 3.0  // pitch
	stageCenterRange = 0.5  // pitch
	gammaMin         = 0.05 // pitch
	gammaMax         = 4.0  // pitch
	betaMin          = 0.2
	betaMax          = 4.0
	stageBetaMin     = 0.9
	stageBetaMax     = 1.1
)
