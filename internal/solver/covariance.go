package solver

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"
)

type CovarianceAlgorithm int

const (
	SVDCovariance CovarianceAlgorithm = iota
	QRCovariance
)

func (a CovarianceAlgorithm) String() string {
	if a == QRCovariance {
		return "qr"
	}
	return "svd"
}

type CovarianceOptions struct {
	Algorithm CovarianceAlgorithm
	// MinReciprocalCondition is the smallest accepted λmin/λmax of JᵀJ.
	MinReciprocalCondition float64
	// Loss reweights the jacobian rows when ApplyLoss is set.
	Loss      Loss
	ApplyLoss bool
}

// Covariance estimates the parameter covariance (JᵀJ)⁻¹ at x.
func Covariance(p *Problem, x []float64, opts CovarianceOptions) (*mat.SymDense, error) {
	if err := p.validate(x); err != nil {
		return nil, err
	}
	n, k := p.numResiduals, p.numParams
	if n < k {
		return nil, fmt.Errorf("%w: %d residuals for %d parameters", ErrSingular, n, k)
	}

	r := p.Evaluate(x)
	if !allFinite(r) {
		return nil, ErrNonFinite
	}
	jac := mat.NewDense(n, k, nil)
	p.evalJacobian(jac, x)

	if opts.ApplyLoss {
		w := make([]float64, n)
		opts.Loss.weights(w, r)
		for i := 0; i < n; i++ {
			for j := 0; j < k; j++ {
				jac.Set(i, j, w[i]*jac.At(i, j))
			}
		}
	}
	for i := 0; i < n; i++ {
		for j := 0; j < k; j++ {
			if !finite(jac.At(i, j)) {
				return nil, ErrNonFinite
			}
		}
	}

	switch opts.Algorithm {
	case QRCovariance:
		return covarianceQR(jac, k, opts.MinReciprocalCondition)
	default:
		return covarianceSVD(jac, k, opts.MinReciprocalCondition)
	}
}

func covarianceSVD(jac *mat.Dense, k int, rcond float64) (*mat.SymDense, error) {
	var svd mat.SVD
	if !svd.Factorize(jac, mat.SVDThin) {
		return nil, fmt.Errorf("%w: svd did not converge", ErrSingular)
	}
	sv := svd.Values(nil)
	if len(sv) < k || !(sv[0] > 0) {
		return nil, ErrSingular
	}
	ratio := sv[k-1] / sv[0]
	if ratio*ratio < rcond {
		return nil, fmt.Errorf("%w: reciprocal condition %g", ErrIllConditioned, ratio*ratio)
	}

	var v mat.Dense
	svd.VTo(&v)
	cov := mat.NewSymDense(k, nil)
	for a := 0; a < k; a++ {
		for b := a; b < k; b++ {
			var s float64
			for i := 0; i < k; i++ {
				s += v.At(a, i) * v.At(b, i) / (sv[i] * sv[i])
			}
			cov.SetSym(a, b, s)
		}
	}
	return cov, nil
}

func covarianceQR(jac *mat.Dense, k int, rcond float64) (*mat.SymDense, error) {
	var qr mat.QR
	qr.Factorize(jac)
	var full mat.Dense
	qr.RTo(&full)
	r := full.Slice(0, k, 0, k)

	lo, hi := math.Inf(1), 0.0
	for i := 0; i < k; i++ {
		d := math.Abs(r.At(i, i))
		lo = math.Min(lo, d)
		hi = math.Max(hi, d)
	}
	if !(hi > 0) {
		return nil, ErrSingular
	}
	if ratio := lo / hi; ratio*ratio < rcond {
		return nil, fmt.Errorf("%w: reciprocal condition %g", ErrIllConditioned, ratio*ratio)
	}

	var rinv mat.Dense
	if err := rinv.Inverse(r); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrIllConditioned, err)
	}
	var c mat.Dense
	c.Mul(&rinv, rinv.T())

	cov := mat.NewSymDense(k, nil)
	for a := 0; a < k; a++ {
		for b := a; b < k; b++ {
			cov.SetSym(a, b, 0.5*(c.At(a, b)+c.At(b, a)))
		}
	}
	return cov, nil
}

// StdErrors returns the square roots of the covariance diagonal.
func StdErrors(cov *mat.SymDense) []float64 {
	k := cov.SymmetricDim()
	out := make([]float64, k)
	for i := range out {
		out[i] = math.Sqrt(math.Abs(cov.At(i, i)))
	}
	return out
}
