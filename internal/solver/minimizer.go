package solver

import (
	"errors"
	"math"
	"sync"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"

	"ChargeFit/pkg/logger"
)

var (
	logOnce sync.Once
	diag    *logger.Logger
)

// InitLogging installs the logger used for solver diagnostics. Only the
// first call has any effect; later calls are ignored.
func InitLogging(l *logger.Logger) {
	logOnce.Do(func() {
		if l == nil {
			l = logger.Nop()
		}
		diag = l
	})
}

func diagnostics() *logger.Logger {
	InitLogging(nil)
	return diag
}

// Solve minimizes ½Σρ(rᵢ²) over the box defined by p starting from x0.
// x0 is clamped into the box first and is not modified.
func Solve(p *Problem, x0 []float64, opts Options) Summary {
	opts = opts.withDefaults()
	if err := p.validate(x0); err != nil {
		return Summary{
			Termination: Failure,
			Message:     err.Error(),
			X:           append([]float64(nil), x0...),
		}
	}

	m := newMinimizer(p, opts)
	sum := m.run(x0)

	diagnostics().Debug("solve finished",
		logger.String("termination", sum.Termination.String()),
		logger.String("message", sum.Message),
		logger.String("trust_region", opts.TrustRegion.String()),
		logger.String("linear_solver", opts.LinearSolver.String()),
		logger.Int("iterations", sum.Iterations),
		logger.Float("initial_cost", sum.InitialCost),
		logger.Float("final_cost", sum.FinalCost),
	)
	return sum
}

type minimizer struct {
	p    *Problem
	opts Options
	n, k int

	x   []float64
	r   []float64
	w   []float64
	rw  []float64
	g   []float64
	jac *mat.Dense
	jw  *mat.Dense
	jtj *mat.SymDense

	// free lists the parameters the next step may move. A parameter on a
	// bound whose gradient points out of the box is held fixed.
	free []int

	cost   float64
	radius float64
	nu     float64
}

func newMinimizer(p *Problem, opts Options) *minimizer {
	n, k := p.numResiduals, p.numParams
	return &minimizer{
		p:    p,
		opts: opts,
		n:    n,
		k:    k,
		x:    make([]float64, k),
		r:    make([]float64, n),
		w:    make([]float64, n),
		rw:   make([]float64, n),
		g:    make([]float64, k),
		jac:  mat.NewDense(n, k, nil),
		jw:   mat.NewDense(n, k, nil),
		jtj:  mat.NewSymDense(k, nil),
		free: make([]int, 0, k),
	}
}

func (m *minimizer) run(x0 []float64) Summary {
	copy(m.x, x0)
	m.p.project(m.x)

	sum := Summary{Termination: Failure}
	finish := func(t Termination, msg string) Summary {
		sum.Termination = t
		sum.Message = msg
		sum.X = append([]float64(nil), m.x...)
		sum.FinalCost = m.cost
		return sum
	}

	m.cost = m.evalCost(m.x, m.r, m.w)
	sum.InitialCost = m.cost
	if !finite(m.cost) {
		return finish(Failure, "initial cost is not finite")
	}
	if !m.linearize() {
		return finish(Failure, "jacobian is not finite")
	}

	m.radius = m.opts.InitialTrustRegionRadius
	m.nu = 2

	h := make([]float64, m.k)
	xNew := make([]float64, m.k)
	rNew := make([]float64, m.n)
	wNew := make([]float64, m.n)
	invalid := 0

	for {
		if m.projectedGradientNorm() <= m.opts.GradientTolerance {
			return finish(Convergence, "gradient tolerance reached")
		}
		if sum.Iterations >= m.opts.MaxIterations {
			return finish(NoConvergence, "maximum number of iterations reached")
		}
		sum.Iterations++

		if !m.step(h) {
			invalid++
			if invalid > m.opts.MaxConsecutiveInvalidSteps {
				return finish(Failure, "too many consecutive invalid steps")
			}
			if m.reject() {
				return finish(Convergence, "minimum trust region radius reached")
			}
			continue
		}

		for i := range xNew {
			xNew[i] = m.x[i] + h[i]
		}
		m.p.project(xNew)
		for i := range h {
			h[i] = xNew[i] - m.x[i]
		}

		stepNorm := floats.Norm(h, 2)
		tol := m.opts.ParameterTolerance
		if stepNorm <= tol*(floats.Norm(m.x, 2)+tol) {
			return finish(Convergence, "parameter tolerance reached")
		}

		newCost := m.evalCost(xNew, rNew, wNew)
		if !finite(newCost) {
			invalid++
			if invalid > m.opts.MaxConsecutiveInvalidSteps {
				return finish(Failure, "too many consecutive invalid steps")
			}
			if m.reject() {
				return finish(Convergence, "minimum trust region radius reached")
			}
			continue
		}
		invalid = 0

		pred := m.predictedReduction(h)
		actual := m.cost - newCost
		if pred > 0 && actual/pred > m.opts.MinRelativeDecrease {
			prev := m.cost
			copy(m.x, xNew)
			copy(m.r, rNew)
			copy(m.w, wNew)
			m.cost = newCost
			sum.SuccessfulSteps++
			m.accept(actual/pred, stepNorm)

			if !m.linearize() {
				return finish(Failure, "jacobian is not finite")
			}
			if math.Abs(actual) <= m.opts.FunctionTolerance*prev {
				return finish(Convergence, "function tolerance reached")
			}
			continue
		}

		if m.reject() {
			return finish(Convergence, "minimum trust region radius reached")
		}
	}
}

// evalCost evaluates residuals and loss weights at x.
func (m *minimizer) evalCost(x, r, w []float64) float64 {
	m.p.residuals(r, x)
	if !allFinite(r) {
		return math.NaN()
	}
	return m.opts.Loss.weights(w, r)
}

// linearize refreshes the weighted jacobian, gradient and normal matrix at m.x.
func (m *minimizer) linearize() bool {
	m.p.evalJacobian(m.jac, m.x)
	for i := 0; i < m.n; i++ {
		wi := m.w[i]
		m.rw[i] = wi * m.r[i]
		for j := 0; j < m.k; j++ {
			v := wi * m.jac.At(i, j)
			if !finite(v) {
				return false
			}
			m.jw.Set(i, j, v)
		}
	}
	g := mat.NewVecDense(m.k, m.g)
	g.MulVec(m.jw.T(), mat.NewVecDense(m.n, m.rw))
	m.jtj.SymOuterK(1, m.jw.T())
	m.updateActive()
	return true
}

// updateActive recomputes the free set at m.x from the current gradient.
func (m *minimizer) updateActive() {
	m.free = m.free[:0]
	for i, xi := range m.x {
		lo, hi := m.p.bounds(i)
		if (xi <= lo && m.g[i] > 0) || (xi >= hi && m.g[i] < 0) {
			continue
		}
		m.free = append(m.free, i)
	}
}

// freeGradient returns the gradient with held parameters zeroed.
func (m *minimizer) freeGradient() []float64 {
	g := make([]float64, m.k)
	for _, j := range m.free {
		g[j] = m.g[j]
	}
	return g
}

// projectedGradientNorm returns ‖x − Π(x − g)‖∞.
func (m *minimizer) projectedGradientNorm() float64 {
	var norm float64
	for i, xi := range m.x {
		v := xi - m.g[i]
		lo, hi := m.p.bounds(i)
		if v < lo {
			v = lo
		}
		if v > hi {
			v = hi
		}
		norm = math.Max(norm, math.Abs(xi-v))
	}
	return norm
}

// predictedReduction is the decrease of the local quadratic model for step h.
func (m *minimizer) predictedReduction(h []float64) float64 {
	hv := mat.NewVecDense(m.k, h)
	var ah mat.VecDense
	ah.MulVec(m.jtj, hv)
	return -(floats.Dot(m.g, h) + 0.5*mat.Dot(hv, &ah))
}

func (m *minimizer) step(h []float64) bool {
	if m.opts.TrustRegion == Dogleg {
		return m.doglegStep(h)
	}
	return m.solveDamped(h, 1/m.radius)
}

func (m *minimizer) accept(rho, stepNorm float64) {
	switch m.opts.TrustRegion {
	case Dogleg:
		if rho > 0.75 {
			m.radius = math.Max(m.radius, 3*stepNorm)
		} else if rho < 0.25 {
			m.radius *= 0.5
		}
	default:
		f := 2*rho - 1
		m.radius /= math.Max(1.0/3.0, 1-f*f*f)
		m.nu = 2
	}
	m.radius = math.Min(m.radius, m.opts.MaxTrustRegionRadius)
}

// reject shrinks the trust region and reports whether it collapsed.
func (m *minimizer) reject() bool {
	switch m.opts.TrustRegion {
	case Dogleg:
		m.radius *= 0.5
	default:
		m.radius /= m.nu
		m.nu *= 2
	}
	return m.radius < m.opts.MinTrustRegionRadius
}

// solveDamped solves (JᵀJ + mu·D)h = −g over the free parameters, with D the
// clamped diagonal of JᵀJ. Held parameters get a zero step.
func (m *minimizer) solveDamped(h []float64, mu float64) bool {
	for i := range h {
		h[i] = 0
	}
	kf := len(m.free)
	if kf == 0 {
		return true
	}
	d := make([]float64, kf)
	for a, j := range m.free {
		d[a] = math.Min(math.Max(m.jtj.At(j, j), m.opts.MinLMDiagonal), m.opts.MaxLMDiagonal)
	}
	hf := mat.NewVecDense(kf, nil)

	switch m.opts.LinearSolver {
	case DenseQR:
		aug := mat.NewDense(m.n+kf, kf, nil)
		for i := 0; i < m.n; i++ {
			for a, j := range m.free {
				aug.Set(i, a, m.jw.At(i, j))
			}
		}
		for a := range d {
			aug.Set(m.n+a, a, math.Sqrt(mu*d[a]))
		}
		rhs := mat.NewVecDense(m.n+kf, nil)
		for i := 0; i < m.n; i++ {
			rhs.SetVec(i, -m.rw[i])
		}
		var qr mat.QR
		qr.Factorize(aug)
		if !usable(qr.SolveVecTo(hf, false, rhs)) {
			return false
		}
	default:
		a := mat.NewSymDense(kf, nil)
		rhs := mat.NewVecDense(kf, nil)
		for r, jr := range m.free {
			for c := r; c < kf; c++ {
				a.SetSym(r, c, m.jtj.At(jr, m.free[c]))
			}
			a.SetSym(r, r, a.At(r, r)+mu*d[r])
			rhs.SetVec(r, -m.g[jr])
		}

		var chol mat.Cholesky
		if chol.Factorize(a) {
			if !usable(chol.SolveVecTo(hf, rhs)) {
				return false
			}
		} else if !usable(hf.SolveVec(a, rhs)) {
			return false
		}
	}
	for a, j := range m.free {
		h[j] = hf.AtVec(a)
	}
	return allFinite(h)
}

// doglegStep computes Powell's dogleg step inside the current radius.
func (m *minimizer) doglegStep(h []float64) bool {
	gn := make([]float64, m.k)
	ok := false
	for mu := 1e-10; mu <= 1e-2; mu *= 100 {
		if m.solveDamped(gn, mu) {
			ok = true
			break
		}
	}
	if !ok {
		return false
	}

	if floats.Norm(gn, 2) <= m.radius {
		copy(h, gn)
		return true
	}

	g := m.freeGradient()
	gNorm := floats.Norm(g, 2)
	if gNorm == 0 {
		return false
	}
	var jg mat.VecDense
	jg.MulVec(m.jw, mat.NewVecDense(m.k, g))
	jgNorm2 := mat.Dot(&jg, &jg)
	if jgNorm2 == 0 {
		floats.ScaleTo(h, -m.radius/gNorm, g)
		return true
	}

	alpha := gNorm * gNorm / jgNorm2
	if alpha*gNorm >= m.radius {
		floats.ScaleTo(h, -m.radius/gNorm, g)
		return true
	}

	c := make([]float64, m.k)
	floats.ScaleTo(c, -alpha, g)
	diff := make([]float64, m.k)
	floats.SubTo(diff, gn, c)

	a := floats.Dot(diff, diff)
	b := 2 * floats.Dot(c, diff)
	cc := floats.Dot(c, c) - m.radius*m.radius
	tau := (-b + math.Sqrt(b*b-4*a*cc)) / (2 * a)
	if !finite(tau) {
		return false
	}
	floats.AddScaledTo(h, c, tau, diff)
	return allFinite(h)
}

// usable accepts nil and condition-number warnings from gonum solves.
func usable(err error) bool {
	if err == nil {
		return true
	}
	var cond mat.Condition
	return errors.As(err, &cond)
}

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}

func allFinite(s []float64) bool {
	for _, v := range s {
		if !finite(v) {
			return false
		}
	}
	return true
}
