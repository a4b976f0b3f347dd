package fit

import (
	"fmt"
	"math"
)

// EstimateMethod identifies the estimator tier that produced initial parameters.
type EstimateMethod int

const (
	MethodNone EstimateMethod = iota
	MethodPhysics
	MethodRobust
	MethodConservative
)

func (m EstimateMethod) String() string {
	switch m {
	case MethodPhysics:
		return "physics"
	case MethodRobust:
		return "robust"
	case MethodConservative:
		return "conservative"
	default:
		return "none"
	}
}

func (m EstimateMethod) MarshalText() ([]byte, error) {
	return []byte(m.String()), nil
}

func (m *EstimateMethod) UnmarshalText(b []byte) error {
	switch string(b) {
	case "physics":
		*m = MethodPhysics
	case "robust":
		*m = MethodRobust
	case "conservative":
		*m = MethodConservative
	case "none", "":
		*m = MethodNone
	default:
		return fmt.Errorf("unknown estimate method %q", b)
	}
	return nil
}

// ParameterEstimate holds starting values for a fit.
type ParameterEstimate struct {
	Amplitude float64        `json:"amplitude"`
	Center    float64        `json:"center"`
	Gamma     float64        `json:"gamma"`
	Beta      float64        `json:"beta"`
	Baseline  float64        `json:"baseline"`
	Valid     bool           `json:"valid"`
	Method    EstimateMethod `json:"method"`
}

func (e ParameterEstimate) vector() []float64 {
	x := make([]float64, numParams)
	x[paramAmplitude] = e.Amplitude
	x[paramCenter] = e.Center
	x[paramGamma] = e.Gamma
	x[paramBeta] = e.Beta
	x[paramBaseline] = e.Baseline
	return x
}

type estimatorTier struct {
	method   EstimateMethod
	estimate func(p Profile, st RobustStatistics, centerEstimate, pitch float64) (ParameterEstimate, bool)
}

// estimatorTiers are tried in order; the first valid estimate wins.
var estimatorTiers = []estimatorTier{
	{method: MethodPhysics, estimate: physicsEstimate},
	{method: MethodRobust, estimate: robustEstimate},
	{method: MethodConservative, estimate: conservativeEstimate},
}

// EstimatorTiers returns the estimator methods in the order they are tried.
func EstimatorTiers() []EstimateMethod {
	out := make([]EstimateMethod, len(estimatorTiers))
	for i, t := range estimatorTiers {
		out[i] = t.method
	}
	return out
}

// EstimateParameters derives starting values for a power-Lorentzian fit of p.
// Profiles with mismatched lengths or fewer than MinPoints samples yield an
// invalid estimate with MethodNone.
func EstimateParameters(p Profile, centerEstimate, pixelSpacing float64) ParameterEstimate {
	if p.Validate() != nil {
		return ParameterEstimate{}
	}
	st := CalculateRobustStatistics(p.Positions, p.Charges)
	if !st.Valid {
		return ParameterEstimate{}
	}
	for _, tier := range estimatorTiers {
		if est, ok := tier.estimate(p, st, centerEstimate, pixelSpacing); ok {
			est.Valid = true
			est.Method = tier.method
			return est
		}
	}
	return ParameterEstimate{}
}

func physicsEstimate(p Profile, st RobustStatistics, _, pitch float64) (ParameterEstimate, bool) {
	est := ParameterEstimate{
		Center:   st.WeightedMean,
		Baseline: math.Min(st.Min, st.Q25),
		Beta:     1,
	}
	est.Amplitude = st.Max - est.Baseline

	var spread, weights float64
	for i, x := range p.Positions {
		w := math.Max(0, p.Charges[i]-est.Baseline)
		if w > 0.1*est.Amplitude {
			dx := x - est.Center
			spread += w * dx * dx
			weights += w
		}
	}
	if weights > 0 {
		est.Gamma = math.Sqrt(2 * spread / weights)
	} else {
		est.Gamma = 0.7 * pitch
	}
	est.Gamma = math.Max(0.3*pitch, math.Min(3*pitch, est.Gamma))
	est.Amplitude = math.Max(est.Amplitude, 0.1*(st.Max-st.Min))

	ok := est.Amplitude > 0 && est.Gamma > 0 &&
		!math.IsNaN(est.Center) && !math.IsNaN(est.Amplitude) && !math.IsNaN(est.Gamma) &&
		!math.IsNaN(est.Beta) && !math.IsNaN(est.Baseline)
	return est, ok
}

func robustEstimate(_ Profile, st RobustStatistics, _, pitch float64) (ParameterEstimate, bool) {
	est := ParameterEstimate{
		Center:    st.Median,
		Baseline:  st.Q25,
		Amplitude: st.Q75 - st.Q25,
		Gamma:     math.Max(st.MAD, 0.5*pitch),
		Beta:      1,
	}
	return est, est.Amplitude > 0 && est.Gamma > 0
}

func conservativeEstimate(_ Profile, st RobustStatistics, centerEstimate, pitch float64) (ParameterEstimate, bool) {
	return ParameterEstimate{
		Center:    centerEstimate,
		Amplitude: st.Max,
		Gamma:     0.7 * pitch,
		Beta:      1,
	}, true
}
