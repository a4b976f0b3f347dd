// Package solver implements a small bound-constrained nonlinear least-squares
// minimizer with Levenberg-Marquardt and dogleg trust-region strategies,
// robust loss functions and covariance estimation.
package solver

import (
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/diff/fd"
	"gonum.org/v1/gonum/mat"
)

var (
	ErrDimensionMismatch = errors.New("solver: dimension mismatch")
	ErrSingular          = errors.New("solver: jacobian is rank deficient")
	ErrIllConditioned    = errors.New("solver: jacobian is ill-conditioned")
	ErrNonFinite         = errors.New("solver: non-finite value")
)

// ResidualFunc writes the residual vector evaluated at x into dst.
type ResidualFunc func(dst, x []float64)

// JacobianFunc writes the n×p jacobian of the residuals evaluated at x into dst.
type JacobianFunc func(dst *mat.Dense, x []float64)

// Problem is a least-squares problem over a fixed parameter block with
// per-parameter box constraints.
type Problem struct {
	numResiduals int
	numParams    int
	residuals    ResidualFunc
	jacobian     JacobianFunc
	lower        []float64
	upper        []float64
}

// NewProblem creates an unbounded problem. jac may be nil, in which case the
// jacobian is approximated with central differences.
func NewProblem(numResiduals, numParams int, res ResidualFunc, jac JacobianFunc) *Problem {
	p := &Problem{
		numResiduals: numResiduals,
		numParams:    numParams,
		residuals:    res,
		jacobian:     jac,
		lower:        make([]float64, numParams),
		upper:        make([]float64, numParams),
	}
	for i := range p.lower {
		p.lower[i] = math.Inf(-1)
		p.upper[i] = math.Inf(1)
	}
	return p
}

func (p *Problem) NumResiduals() int { return p.numResiduals }
func (p *Problem) NumParams() int    { return p.numParams }

func (p *Problem) SetLowerBound(i int, v float64) { p.lower[i] = v }
func (p *Problem) SetUpperBound(i int, v float64) { p.upper[i] = v }

// SetBounds sets both bounds of parameter i.
func (p *Problem) SetBounds(i int, lo, hi float64) {
	p.lower[i] = lo
	p.upper[i] = hi
}

func (p *Problem) LowerBound(i int) float64 { return p.lower[i] }
func (p *Problem) UpperBound(i int) float64 { return p.upper[i] }

func (p *Problem) validate(x []float64) error {
	if p.numResiduals <= 0 || p.numParams <= 0 {
		return fmt.Errorf("%w: %d residuals, %d parameters", ErrDimensionMismatch, p.numResiduals, p.numParams)
	}
	if len(x) != p.numParams {
		return fmt.Errorf("%w: got %d parameters, want %d", ErrDimensionMismatch, len(x), p.numParams)
	}
	if p.residuals == nil {
		return errors.New("solver: nil residual function")
	}
	return nil
}

// bounds returns the ordered bounds of parameter i.
func (p *Problem) bounds(i int) (lo, hi float64) {
	lo, hi = p.lower[i], p.upper[i]
	if lo > hi {
		lo, hi = hi, lo
	}
	return lo, hi
}

// project clamps x into the feasible box in place.
func (p *Problem) project(x []float64) {
	for i := range x {
		lo, hi := p.bounds(i)
		if x[i] < lo {
			x[i] = lo
		}
		if x[i] > hi {
			x[i] = hi
		}
	}
}

func (p *Problem) evalJacobian(dst *mat.Dense, x []float64) {
	if p.jacobian != nil {
		p.jacobian(dst, x)
		return
	}
	fd.Jacobian(dst, func(y, x []float64) { p.residuals(y, x) }, x, &fd.JacobianSettings{
		Formula: fd.Central,
	})
}

// Evaluate returns the residuals at x.
func (p *Problem) Evaluate(x []float64) []float64 {
	r := make([]float64, p.numResiduals)
	p.residuals(r, x)
	return r
}
