package fit

import (
	"math"
	"testing"

	"ChargeFit/internal/solver"
)

func TestSolverPolicyOrder(t *testing.T) {
	want := []struct {
		ls   solver.LinearSolver
		tr   solver.TrustRegion
		tol  float64
		iter int
		loss solver.LossKind
		frac float64
	}{
		{solver.DenseQR, solver.LevenbergMarquardt, 1e-15, 2000, solver.HuberLoss, 0.10},
		{solver.DenseQR, solver.LevenbergMarquardt, 1e-12, 1500, solver.CauchyLoss, 0.16},
		{solver.DenseQR, solver.Dogleg, 1e-10, 1000, solver.NoLoss, 0},
		{solver.DenseNormalCholesky, solver.LevenbergMarquardt, 1e-12, 1500, solver.HuberLoss, 0.13},
		{solver.SparseNormalCholesky, solver.LevenbergMarquardt, 1e-12, 1200, solver.CauchyLoss, 0.22},
	}
	if len(SolverPolicy) != len(want) {
		t.Fatalf("got %d solver configs, want %d", len(SolverPolicy), len(want))
	}
	for i, w := range want {
		c := SolverPolicy[i]
		if c.LinearSolver != w.ls || c.TrustRegion != w.tr || c.MaxIterations != w.iter ||
			c.FunctionTolerance != w.tol || c.GradientTolerance != w.tol ||
			c.Loss != w.loss || c.LossFraction != w.frac {
			t.Errorf("config %d: got %+v", i, c)
		}
	}
}

func TestSolverConfigOptions(t *testing.T) {
	opts := SolverPolicy[0].options(80, 4)
	if opts.ParameterTolerance != 1e-15 || opts.MaxConsecutiveInvalidSteps != 50 {
		t.Errorf("shared options: %+v", opts)
	}
	if opts.Loss.Kind != solver.HuberLoss || math.Abs(opts.Loss.Scale-2) > 1e-12 {
		t.Errorf("loss scale should be 0.1·80/4 = 2, got %+v", opts.Loss)
	}
	if l := SolverPolicy[2].options(80, 4).Loss; l.Kind != solver.NoLoss {
		t.Errorf("dogleg config should have no loss, got %+v", l)
	}
}

func TestCovariancePolicyOrder(t *testing.T) {
	want := []CovarianceAttempt{
		{solver.SVDCovariance, 1e-14},
		{solver.SVDCovariance, 1e-12},
		{solver.SVDCovariance, 1e-10},
		{solver.QRCovariance, 1e-12},
	}
	if len(CovariancePolicy) != len(want) {
		t.Fatalf("got %d covariance attempts", len(CovariancePolicy))
	}
	for i := range want {
		if CovariancePolicy[i] != want[i] {
			t.Errorf("attempt %d: got %+v, want %+v", i, CovariancePolicy[i], want[i])
		}
	}
}

func TestDatasetVariantOrder(t *testing.T) {
	want := []DatasetVariant{
		{Name: "conservative", Threshold: 2.5},
		{Name: "lenient", Threshold: 3.0},
		{Name: "original"},
	}
	for i := range want {
		if DatasetVariants[i] != want[i] {
			t.Errorf("variant %d: got %+v, want %+v", i, DatasetVariants[i], want[i])
		}
	}
}

func TestSetBounds(t *testing.T) {
	f := New()
	p := newCostModel(Profile{Positions: seq(5), Charges: seq(5)}, 1).problem()
	est := ParameterEstimate{Amplitude: 10, Center: 2, Gamma: 1, Beta: 1, Baseline: -3}
	f.setBounds(p, est, 4, 2)

	checks := []struct {
		i      int
		lo, hi float64
	}{
		{paramAmplitude, 0.1, 6},
		{paramCenter, -4, 8},
		{paramGamma, 0.1, 8},
		{paramBeta, 0.2, 4},
		{paramBaseline, -9, 3},
	}
	for _, c := range checks {
		if math.Abs(p.LowerBound(c.i)-c.lo) > 1e-12 || math.Abs(p.UpperBound(c.i)-c.hi) > 1e-12 {
			t.Errorf("param %d: got [%g, %g], want [%g, %g]", c.i, p.LowerBound(c.i), p.UpperBound(c.i), c.lo, c.hi)
		}
	}
}
