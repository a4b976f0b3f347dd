package solver

import "math"

type LossKind int

const (
	NoLoss LossKind = iota
	HuberLoss
	CauchyLoss
)

func (k LossKind) String() string {
	switch k {
	case HuberLoss:
		return "huber"
	case CauchyLoss:
		return "cauchy"
	default:
		return "trivial"
	}
}

// Loss is a robust loss ρ applied to the squared residual s = r².
// Scale is expressed in residual units.
type Loss struct {
	Kind  LossKind
	Scale float64
}

// Evaluate returns ρ(s) and ρ'(s).
func (l Loss) Evaluate(s float64) (rho, rho1 float64) {
	a := l.Scale
	if l.Kind == NoLoss || !(a > 0) {
		return s, 1
	}
	b := a * a
	switch l.Kind {
	case HuberLoss:
		if s <= b {
			return s, 1
		}
		r := math.Sqrt(s)
		return 2*a*r - b, a / r
	case CauchyLoss:
		sum := 1 + s/b
		return b * math.Log(sum), 1 / sum
	}
	return s, 1
}

// weights fills w with sqrt(ρ'(r²)) and returns the robust cost ½Σρ(r²).
func (l Loss) weights(w, r []float64) float64 {
	var cost float64
	for i, ri := range r {
		rho, rho1 := l.Evaluate(ri * ri)
		cost += rho
		if rho1 < 0 {
			rho1 = 0
		}
		w[i] = math.Sqrt(rho1)
	}
	return 0.5 * cost
}
