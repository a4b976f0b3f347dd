package solver

import "fmt"

type LinearSolver int

const (
	DenseQR LinearSolver = iota
	DenseNormalCholesky
	// SparseNormalCholesky factors the normal equations like
	// DenseNormalCholesky. Problems here are small enough that the dense
	// factorization is used for both.
	SparseNormalCholesky
)

func (s LinearSolver) String() string {
	switch s {
	case DenseQR:
		return "dense_qr"
	case DenseNormalCholesky:
		return "dense_normal_cholesky"
	case SparseNormalCholesky:
		return "sparse_normal_cholesky"
	default:
		return fmt.Sprintf("linear_solver(%d)", int(s))
	}
}

type TrustRegion int

const (
	LevenbergMarquardt TrustRegion = iota
	Dogleg
)

func (t TrustRegion) String() string {
	switch t {
	case LevenbergMarquardt:
		return "levenberg_marquardt"
	case Dogleg:
		return "dogleg"
	default:
		return fmt.Sprintf("trust_region(%d)", int(t))
	}
}

type Options struct {
	LinearSolver LinearSolver
	TrustRegion  TrustRegion

	FunctionTolerance  float64
	GradientTolerance  float64
	ParameterTolerance float64

	MaxIterations              int
	MaxConsecutiveInvalidSteps int

	Loss Loss

	InitialTrustRegionRadius float64
	MinTrustRegionRadius     float64
	MaxTrustRegionRadius     float64
	MinRelativeDecrease      float64
	MinLMDiagonal            float64
	MaxLMDiagonal            float64
}

func DefaultOptions() Options {
	return Options{
		LinearSolver:               DenseQR,
		TrustRegion:                LevenbergMarquardt,
		FunctionTolerance:          1e-6,
		GradientTolerance:          1e-10,
		ParameterTolerance:         1e-8,
		MaxIterations:              50,
		MaxConsecutiveInvalidSteps: 5,
		InitialTrustRegionRadius:   1e4,
		MinTrustRegionRadius:       1e-32,
		MaxTrustRegionRadius:       1e16,
		MinRelativeDecrease:        1e-3,
		MinLMDiagonal:              1e-6,
		MaxLMDiagonal:              1e32,
	}
}

// withDefaults fills zero-valued knobs from DefaultOptions.
func (o Options) withDefaults() Options {
	d := DefaultOptions()
	if o.FunctionTolerance <= 0 {
		o.FunctionTolerance = d.FunctionTolerance
	}
	if o.GradientTolerance <= 0 {
		o.GradientTolerance = d.GradientTolerance
	}
	if o.ParameterTolerance <= 0 {
		o.ParameterTolerance = d.ParameterTolerance
	}
	if o.MaxIterations <= 0 {
		o.MaxIterations = d.MaxIterations
	}
	if o.MaxConsecutiveInvalidSteps <= 0 {
		o.MaxConsecutiveInvalidSteps = d.MaxConsecutiveInvalidSteps
	}
	if o.InitialTrustRegionRadius <= 0 {
		o.InitialTrustRegionRadius = d.InitialTrustRegionRadius
	}
	if o.MinTrustRegionRadius <= 0 {
		o.MinTrustRegionRadius = d.MinTrustRegionRadius
	}
	if o.MaxTrustRegionRadius <= 0 {
		o.MaxTrustRegionRadius = d.MaxTrustRegionRadius
	}
	if o.MinRelativeDecrease <= 0 {
		o.MinRelativeDecrease = d.MinRelativeDecrease
	}
	if o.MinLMDiagonal <= 0 {
		o.MinLMDiagonal = d.MinLMDiagonal
	}
	if o.MaxLMDiagonal <= 0 {
		o.MaxLMDiagonal = d.MaxLMDiagonal
	}
	return o
}

type Termination int

const (
	Convergence Termination = iota
	NoConvergence
	Failure
)

func (t Termination) String() string {
	switch t {
	case Convergence:
		return "convergence"
	case NoConvergence:
		return "no_convergence"
	default:
		return "failure"
	}
}

type Summary struct {
	Termination     Termination
	Message         string
	X               []float64
	InitialCost     float64
	FinalCost       float64
	Iterations      int
	SuccessfulSteps int
}

func (s Summary) Converged() bool {
	return s.Termination == Convergence
}
