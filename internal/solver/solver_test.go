package solver

import (
	"errors"
	"math"
	"testing"

	"gonum.org/v1/gonum/mat"
)

func linearProblem(xs, ys []float64) *Problem {
	return NewProblem(len(xs), 2,
		func(dst, p []float64) {
			for i, x := range xs {
				dst[i] = p[0] + p[1]*x - ys[i]
			}
		},
		func(dst *mat.Dense, p []float64) {
			for i, x := range xs {
				dst.Set(i, 0, 1)
				dst.Set(i, 1, x)
			}
		})
}

func TestSolveLinearExact(t *testing.T) {
	xs := []float64{0, 1, 2, 3, 4}
	ys := []float64{1, 3, 5, 7, 9}

	for _, tr := range []TrustRegion{LevenbergMarquardt, Dogleg} {
		for _, ls := range []LinearSolver{DenseQR, DenseNormalCholesky, SparseNormalCholesky} {
			opts := DefaultOptions()
			opts.TrustRegion = tr
			opts.LinearSolver = ls
			sum := Solve(linearProblem(xs, ys), []float64{0, 0}, opts)
			if !sum.Converged() {
				t.Fatalf("%v/%v: expected convergence, got %v (%s)", tr, ls, sum.Termination, sum.Message)
			}
			if math.Abs(sum.X[0]-1) > 1e-6 || math.Abs(sum.X[1]-2) > 1e-6 {
				t.Errorf("%v/%v: got %v, want [1 2]", tr, ls, sum.X)
			}
			if sum.FinalCost > 1e-10 {
				t.Errorf("%v/%v: final cost %g", tr, ls, sum.FinalCost)
			}
		}
	}
}

func TestSolveRespectsBounds(t *testing.T) {
	p := NewProblem(1, 1, func(dst, x []float64) { dst[0] = x[0] - 5 }, nil)
	p.SetUpperBound(0, 3)

	sum := Solve(p, []float64{0}, DefaultOptions())
	if !sum.Converged() {
		t.Fatalf("expected convergence, got %v (%s)", sum.Termination, sum.Message)
	}
	if math.Abs(sum.X[0]-3) > 1e-9 {
		t.Errorf("got x=%g, want 3", sum.X[0])
	}
}

func TestSolveConvergesOnActiveBound(t *testing.T) {
	// Unconstrained optimum is slope 2. With the slope capped at 1.5 the
	// best intercept becomes 2, which only a step over the free intercept
	// reaches.
	xs := []float64{0, 1, 2, 3, 4}
	ys := []float64{1, 3, 5, 7, 9}

	for _, tr := range []TrustRegion{LevenbergMarquardt, Dogleg} {
		for _, ls := range []LinearSolver{DenseQR, DenseNormalCholesky} {
			p := linearProblem(xs, ys)
			p.SetBounds(1, -10, 1.5)

			opts := DefaultOptions()
			opts.TrustRegion = tr
			opts.LinearSolver = ls
			opts.FunctionTolerance = 1e-15
			opts.GradientTolerance = 1e-12
			opts.ParameterTolerance = 1e-15
			opts.MaxIterations = 500

			sum := Solve(p, []float64{0, 0}, opts)
			if sum.Termination != Convergence {
				t.Fatalf("%v/%v: expected convergence, got %v (%s) after %d iterations",
					tr, ls, sum.Termination, sum.Message, sum.Iterations)
			}
			if sum.Iterations >= opts.MaxIterations/2 {
				t.Errorf("%v/%v: took %d iterations", tr, ls, sum.Iterations)
			}
			if sum.X[1] != 1.5 {
				t.Errorf("%v/%v: slope %g, want it pinned at 1.5", tr, ls, sum.X[1])
			}
			if math.Abs(sum.X[0]-2) > 1e-9 {
				t.Errorf("%v/%v: intercept %g, want 2", tr, ls, sum.X[0])
			}
		}
	}
}

func TestSolveClampsInitialPoint(t *testing.T) {
	p := NewProblem(1, 1, func(dst, x []float64) { dst[0] = x[0] - 1 }, nil)
	p.SetBounds(0, 0, 2)

	x0 := []float64{10}
	sum := Solve(p, x0, DefaultOptions())
	if x0[0] != 10 {
		t.Errorf("initial point was modified: %v", x0)
	}
	if sum.InitialCost != 0.5 {
		t.Errorf("initial cost should be evaluated at the clamped point, got %g", sum.InitialCost)
	}
	if math.Abs(sum.X[0]-1) > 1e-6 {
		t.Errorf("got x=%g, want 1", sum.X[0])
	}
}

func TestSolveFiniteDifferenceJacobian(t *testing.T) {
	// y = a·exp(b·x)
	xs := []float64{0, 0.5, 1, 1.5, 2, 2.5}
	ys := make([]float64, len(xs))
	for i, x := range xs {
		ys[i] = 2 * math.Exp(0.7*x)
	}
	p := NewProblem(len(xs), 2, func(dst, q []float64) {
		for i, x := range xs {
			dst[i] = q[0]*math.Exp(q[1]*x) - ys[i]
		}
	}, nil)

	opts := DefaultOptions()
	opts.MaxIterations = 200
	sum := Solve(p, []float64{1, 0.1}, opts)
	if !sum.Converged() {
		t.Fatalf("expected convergence, got %v (%s)", sum.Termination, sum.Message)
	}
	if math.Abs(sum.X[0]-2) > 1e-4 || math.Abs(sum.X[1]-0.7) > 1e-4 {
		t.Errorf("got %v, want [2 0.7]", sum.X)
	}
}

func TestSolveFailures(t *testing.T) {
	p := NewProblem(2, 1, func(dst, x []float64) {
		dst[0] = math.NaN()
		dst[1] = x[0]
	}, nil)
	if sum := Solve(p, []float64{1}, DefaultOptions()); sum.Termination != Failure {
		t.Errorf("NaN residuals: expected failure, got %v", sum.Termination)
	}

	q := linearProblem([]float64{0, 1}, []float64{0, 1})
	if sum := Solve(q, []float64{1, 2, 3}, DefaultOptions()); sum.Termination != Failure {
		t.Errorf("dimension mismatch: expected failure, got %v", sum.Termination)
	}
}

func TestSolveIterationLimit(t *testing.T) {
	xs := []float64{0, 0.5, 1, 1.5, 2, 2.5}
	p := NewProblem(len(xs), 2, func(dst, q []float64) {
		for i, x := range xs {
			dst[i] = q[0]*math.Exp(q[1]*x) - 3*math.Exp(-x)
		}
	}, nil)
	opts := DefaultOptions()
	opts.MaxIterations = 1
	opts.FunctionTolerance = 1e-30
	opts.GradientTolerance = 1e-30
	opts.ParameterTolerance = 1e-30
	sum := Solve(p, []float64{1, 1}, opts)
	if sum.Termination != NoConvergence {
		t.Errorf("expected no convergence, got %v (%s)", sum.Termination, sum.Message)
	}
	if sum.Iterations != 1 {
		t.Errorf("expected 1 iteration, got %d", sum.Iterations)
	}
}

func TestLossEvaluate(t *testing.T) {
	huber := Loss{Kind: HuberLoss, Scale: 2}
	if rho, d := huber.Evaluate(1); rho != 1 || d != 1 {
		t.Errorf("huber inlier: got (%g, %g)", rho, d)
	}
	if rho, d := huber.Evaluate(16); rho != 12 || d != 0.5 {
		t.Errorf("huber outlier: got (%g, %g), want (12, 0.5)", rho, d)
	}

	cauchy := Loss{Kind: CauchyLoss, Scale: 1}
	rho, d := cauchy.Evaluate(1)
	if math.Abs(rho-math.Log(2)) > 1e-15 || d != 0.5 {
		t.Errorf("cauchy: got (%g, %g)", rho, d)
	}

	trivial := Loss{Kind: HuberLoss}
	if rho, d := trivial.Evaluate(9); rho != 9 || d != 1 {
		t.Errorf("zero scale should be trivial, got (%g, %g)", rho, d)
	}
}

func TestCovarianceLinear(t *testing.T) {
	p := linearProblem([]float64{0, 1, 2}, []float64{0, 1, 2})
	want := [][]float64{{5.0 / 6, -0.5}, {-0.5, 0.5}}

	for _, alg := range []CovarianceAlgorithm{SVDCovariance, QRCovariance} {
		cov, err := Covariance(p, []float64{0, 1}, CovarianceOptions{
			Algorithm:              alg,
			MinReciprocalCondition: 1e-12,
		})
		if err != nil {
			t.Fatalf("%v: unexpected error: %v", alg, err)
		}
		for i := 0; i < 2; i++ {
			for j := 0; j < 2; j++ {
				if math.Abs(cov.At(i, j)-want[i][j]) > 1e-12 {
					t.Errorf("%v: cov[%d][%d] = %g, want %g", alg, i, j, cov.At(i, j), want[i][j])
				}
			}
		}
		se := StdErrors(cov)
		if math.Abs(se[1]-math.Sqrt(0.5)) > 1e-12 {
			t.Errorf("%v: std error %g", alg, se[1])
		}
	}
}

func TestCovarianceRankDeficient(t *testing.T) {
	p := NewProblem(3, 2, func(dst, q []float64) {
		for i := range dst {
			dst[i] = q[0] + q[1] - float64(i)
		}
	}, func(dst *mat.Dense, q []float64) {
		for i := 0; i < 3; i++ {
			dst.Set(i, 0, 1)
			dst.Set(i, 1, 1)
		}
	})

	for _, alg := range []CovarianceAlgorithm{SVDCovariance, QRCovariance} {
		_, err := Covariance(p, []float64{1, 1}, CovarianceOptions{
			Algorithm:              alg,
			MinReciprocalCondition: 1e-14,
		})
		if !errors.Is(err, ErrSingular) && !errors.Is(err, ErrIllConditioned) {
			t.Errorf("%v: expected rank deficiency error, got %v", alg, err)
		}
	}
}
