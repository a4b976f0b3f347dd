package fit

import (
	"math"

	"gonum.org/v1/gonum/mat"

	"ChargeFit/internal/solver"
)

// Parameter layout of the power-Lorentzian model.
const (
	paramAmplitude = iota
	paramCenter
	paramGamma
	paramBeta
	paramBaseline
	numParams
)

const (
	minGamma = 1e-12
	minBeta  = 0.1
	minBase  = 1e-12
)

// PowerLorentzian evaluates A / (1 + ((x−m)/γ)²)^β + B for params
// [A, m, γ, β, B]. |γ| and |β| are floored to keep the model finite.
func PowerLorentzian(x float64, params []float64) float64 {
	g := guardAbs(params[paramGamma], minGamma)
	b := guardAbs(params[paramBeta], minBeta)
	t := (x - params[paramCenter]) / g
	base := math.Max(1+t*t, minBase)
	return params[paramAmplitude]*math.Pow(base, -b) + params[paramBaseline]
}

// guardAbs replaces v by ±floor when |v| < floor, keeping the sign of v.
func guardAbs(v, floor float64) float64 {
	if math.Abs(v) >= floor {
		return v
	}
	if v < 0 {
		return -floor
	}
	return floor
}

// costModel produces weighted residuals (model − charge)/σ for a profile.
type costModel struct {
	x, y  []float64
	sigma float64
}

func newCostModel(p Profile, sigma float64) costModel {
	return costModel{x: p.Positions, y: p.Charges, sigma: sigma}
}

func (c costModel) residuals(dst, params []float64) {
	for i, x := range c.x {
		dst[i] = (PowerLorentzian(x, params) - c.y[i]) / c.sigma
	}
}

func (c costModel) jacobian(dst *mat.Dense, params []float64) {
	a := params[paramAmplitude]
	m := params[paramCenter]
	g := guardAbs(params[paramGamma], minGamma)
	b := guardAbs(params[paramBeta], minBeta)

	// the guards are flat below their floors
	dg, db := 1.0, 1.0
	if math.Abs(params[paramGamma]) < minGamma {
		dg = 0
	}
	if math.Abs(params[paramBeta]) < minBeta {
		db = 0
	}

	for i, x := range c.x {
		t := (x - m) / g
		base := math.Max(1+t*t, minBase)
		pw := math.Pow(base, -b)
		common := 2 * b * a * pw / base

		dst.Set(i, paramAmplitude, pw/c.sigma)
		dst.Set(i, paramCenter, common*t/g/c.sigma)
		dst.Set(i, paramGamma, dg*common*t*t/g/c.sigma)
		dst.Set(i, paramBeta, -db*a*pw*math.Log(base)/c.sigma)
		dst.Set(i, paramBaseline, 1/c.sigma)
	}
}

func (c costModel) problem() *solver.Problem {
	return solver.NewProblem(len(c.x), numParams, c.residuals, c.jacobian)
}
