package fit

import (
	"math"

	"ChargeFit/internal/solver"
)

// parameterErrors returns one-sigma parameter errors and the index of the
// CovariancePolicy entry that produced them, or -1 when the heuristic
// fallback was used.
func parameterErrors(prob *solver.Problem, x []float64, loss solver.Loss, res FitResult, pitch float64, data Profile) ([numParams]float64, int) {
	var errs [numParams]float64
	for i, ca := range CovariancePolicy {
		cov, err := solver.Covariance(prob, x, solver.CovarianceOptions{
			Algorithm:              ca.Algorithm,
			MinReciprocalCondition: ca.MinReciprocalCondition,
			Loss:                   loss,
			ApplyLoss:              true,
		})
		if err != nil {
			continue
		}
		se := solver.StdErrors(cov)
		if !plausibleErrors(se, res, pitch) {
			continue
		}
		copy(errs[:], se)
		return errs, i
	}

	st := CalculateRobustStatistics(data.Positions, data.Charges)
	return HeuristicErrors(res, pitch, st.MAD), -1
}

func plausibleErrors(se []float64, res FitResult, pitch float64) bool {
	return allFinite(se...) &&
		se[paramAmplitude] < 10*res.Amplitude &&
		se[paramCenter] < 5*pitch
}

// HeuristicErrors derives parameter errors from the fitted values and the
// data spread when the covariance cannot be trusted.
func HeuristicErrors(res FitResult, pitch, mad float64) [numParams]float64 {
	var errs [numParams]float64
	errs[paramAmplitude] = math.Max(0.02*res.Amplitude, 0.1*mad)
	errs[paramCenter] = math.Max(0.02*pitch, res.Gamma/10)
	errs[paramGamma] = math.Max(0.05*res.Gamma, 0.01*pitch)
	errs[paramBeta] = math.Max(0.1*res.Beta, 0.05)
	errs[paramBaseline] = math.Max(0.1*math.Abs(res.Baseline), 0.05*mad)
	return errs
}
