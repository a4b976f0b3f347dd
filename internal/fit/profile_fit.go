package fit

import (
	"math"

	"ChargeFit/internal/solver"
	"ChargeFit/pkg/logger"
)

// FitResult is the outcome of a single profile fit. Parameter fields are only
// meaningful when Success is set.
type FitResult struct {
	Amplitude float64 `json:"amplitude"`
	Center    float64 `json:"center"`
	Gamma     float64 `json:"gamma"`
	Beta      float64 `json:"beta"`
	Baseline  float64 `json:"baseline"`

	AmplitudeErr float64 `json:"amplitude_err"`
	CenterErr    float64 `json:"center_err"`
	GammaErr     float64 `json:"gamma_err"`
	BetaErr      float64 `json:"beta_err"`
	BaselineErr  float64 `json:"baseline_err"`

	ReducedChi2       float64 `json:"chi2_reduced"`
	DOF               int     `json:"dof"`
	PValue            float64 `json:"pp"`
	ChargeUncertainty float64 `json:"charge_uncertainty"`
	Success           bool    `json:"success"`

	Diagnostics Diagnostics `json:"diagnostics"`
}

// Diagnostics records which strategy produced a result.
type Diagnostics struct {
	Dataset        string         `json:"dataset,omitempty"`
	Config         int            `json:"config"`
	EstimateMethod EstimateMethod `json:"estimate_method"`
	TwoStage       bool           `json:"two_stage"`
	// CovarianceAttempt indexes CovariancePolicy; -1 means heuristic errors.
	CovarianceAttempt int    `json:"covariance_attempt"`
	Iterations        int    `json:"iterations"`
	Points            int    `json:"points"`
	Termination       string `json:"termination,omitempty"`
}

// Params returns [A, m, γ, β, B].
func (r FitResult) Params() []float64 {
	return []float64{r.Amplitude, r.Center, r.Gamma, r.Beta, r.Baseline}
}

// FitProfile fits the power-Lorentzian model to p. Candidate datasets and
// solver strategies are tried in order and the first acceptable solution is
// returned.
func (f *Fitter) FitProfile(p Profile, centerEstimate, pixelSpacing float64, o FitOptions) FitResult {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.fitProfile(p, centerEstimate, pixelSpacing, o)
}

func (f *Fitter) fitProfile(p Profile, centerEstimate, pitch float64, o FitOptions) FitResult {
	trace := f.trace(o.Verbose)
	if err := p.Validate(); err != nil {
		trace("profile rejected", logger.Error(err))
		return FitResult{}
	}

	datasets := candidateDatasets(p, o.FilterOutliers)
	trace("fitting profile",
		logger.Int("points", p.Len()),
		logger.Int("datasets", len(datasets)),
		logger.Bool("filter_outliers", o.FilterOutliers),
	)

	for _, ds := range datasets {
		est := EstimateParameters(ds.data, centerEstimate, pitch)
		if !est.Valid {
			trace("parameter estimation failed", logger.String("dataset", ds.variant.Name))
			continue
		}
		sigma := f.Uncertainty(ds.data.MaxCharge())

		for ci, cfg := range SolverPolicy {
			att := f.solveTwoStage(ds.data, est, sigma, pitch, cfg)
			if !att.accepted() {
				trace("strategy failed",
					logger.String("dataset", ds.variant.Name),
					logger.Int("config", ci),
					logger.String("termination", att.summary.Termination.String()),
					logger.String("message", att.summary.Message),
				)
				continue
			}

			res := f.buildResult(att, ds, pitch)
			res.Diagnostics.Config = ci
			res.Diagnostics.EstimateMethod = est.Method
			trace("profile fitted",
				logger.String("dataset", ds.variant.Name),
				logger.Int("config", ci),
				logger.String("estimate", est.Method.String()),
				logger.Float("amplitude", res.Amplitude),
				logger.Float("center", res.Center),
				logger.Float("gamma", res.Gamma),
				logger.Float("beta", res.Beta),
				logger.Float("baseline", res.Baseline),
				logger.Float("chi2_reduced", res.ReducedChi2),
			)
			return res
		}
	}

	trace("all fitting strategies failed", logger.Int("points", p.Len()))
	return FitResult{DOF: degreesOfFreedom(p.Len())}
}

type dataset struct {
	variant DatasetVariant
	data    Profile
}

// candidateDatasets lists the datasets to fit. The unfiltered profile is
// always present; filtered variants need at least MinPoints samples.
func candidateDatasets(p Profile, filter bool) []dataset {
	var out []dataset
	for _, v := range DatasetVariants {
		if v.Threshold == 0 {
			out = append(out, dataset{variant: v, data: p})
			continue
		}
		if !filter {
			continue
		}
		if d := FilterOutliers(p, v.Threshold); d.Len() >= MinPoints {
			out = append(out, dataset{variant: v, data: d})
		}
	}
	return out
}

type attempt struct {
	problem  *solver.Problem
	loss     solver.Loss
	summary  solver.Summary
	twoStage bool
}

func (a attempt) params() []float64 { return a.summary.X }

func (a attempt) accepted() bool {
	x := a.summary.X
	return a.summary.Converged() && len(x) == numParams &&
		x[paramAmplitude] > 0 && x[paramGamma] > 0 &&
		x[paramBeta] > 0.1 && x[paramBeta] < 5 &&
		allFinite(x...)
}

// setBounds installs the full-range parameter box derived from est.
func (f *Fitter) setBounds(prob *solver.Problem, est ParameterEstimate, maxCharge, pitch float64) {
	prob.SetBounds(paramAmplitude,
		math.Max(f.minUncertainty, 0.01*est.Amplitude),
		math.Min(1.5*maxCharge, 100*est.Amplitude))
	prob.SetBounds(paramCenter, est.Center-centerRange*pitch, est.Center+centerRange*pitch)
	prob.SetBounds(paramGamma, gammaMin*pitch, gammaMax*pitch)
	prob.SetBounds(paramBeta, betaMin, betaMax)
	span := math.Max(0.5*est.Amplitude, 2*math.Abs(est.Baseline))
	prob.SetBounds(paramBaseline, est.Baseline-span, est.Baseline+span)
}

// solveTwoStage first fits with β pinned near 1 to stabilize the center,
// then releases β with the center held near the stage-one value. If stage
// one fails the full-range solve continues from where it stopped.
func (f *Fitter) solveTwoStage(data Profile, est ParameterEstimate, sigma, pitch float64, cfg SolverConfig) attempt {
	prob := newCostModel(data, sigma).problem()
	f.setBounds(prob, est, data.MaxCharge(), pitch)
	opts := cfg.options(est.Amplitude, sigma)
	if !f.robustLoss {
		opts.Loss = solver.Loss{}
	}

	prob.SetBounds(paramBeta, stageBetaMin, stageBetaMax)
	first := solver.Solve(prob, est.vector(), opts)
	x := first.X

	att := attempt{problem: prob, loss: opts.Loss}
	prob.SetBounds(paramBeta, betaMin, betaMax)
	if first.Converged() && x[paramAmplitude] > 0 && x[paramGamma] > 0 && allFinite(x...) {
		m := x[paramCenter]
		prob.SetBounds(paramCenter, m-stageCenterRange*pitch, m+stageCenterRange*pitch)
		att.twoStage = true
	}
	att.summary = solver.Solve(prob, x, opts)
	return att
}

func (f *Fitter) buildResult(att attempt, ds dataset, pitch float64) FitResult {
	x := att.params()
	res := FitResult{
		Amplitude: x[paramAmplitude],
		Center:    x[paramCenter],
		Gamma:     math.Abs(x[paramGamma]),
		Beta:      x[paramBeta],
		Baseline:  x[paramBaseline],
		Success:   true,
		Diagnostics: Diagnostics{
			Dataset:     ds.variant.Name,
			TwoStage:    att.twoStage,
			Iterations:  att.summary.Iterations,
			Points:      ds.data.Len(),
			Termination: att.summary.Termination.String(),
		},
	}

	errs, covAttempt := parameterErrors(att.problem, x, att.loss, res, pitch, ds.data)
	res.AmplitudeErr = errs[paramAmplitude]
	res.CenterErr = errs[paramCenter]
	res.GammaErr = errs[paramGamma]
	res.BetaErr = errs[paramBeta]
	res.BaselineErr = errs[paramBaseline]
	res.Diagnostics.CovarianceAttempt = covAttempt

	res.DOF = degreesOfFreedom(ds.data.Len())
	res.ReducedChi2 = chiSquare(att.problem, x) / float64(res.DOF)
	res.PValue = pseudoPValue(res.ReducedChi2)
	return res
}

func degreesOfFreedom(n int) int {
	if n-numParams < 1 {
		return 1
	}
	return n - numParams
}

// chiSquare is Σr² of the weighted residuals at x.
func chiSquare(prob *solver.Problem, x []float64) float64 {
	var sum float64
	for _, r := range prob.Evaluate(x) {
		sum += r * r
	}
	return sum
}

// pseudoPValue maps the reduced chi-square onto [0, 1]. It is a goodness
// heuristic, not a chi-square tail probability.
func pseudoPValue(chi2Reduced float64) float64 {
	if chi2Reduced > 0 {
		return 1 - math.Min(1, chi2Reduced/10)
	}
	return 0
}
