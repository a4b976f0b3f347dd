package fit

import "math"

const (
	ConservativeThreshold = 2.5
	LenientThreshold      = 3.0
	ExtremeThreshold      = 4.0
)

// FilterOutliers keeps the samples whose charge lies within
// median ± k·MAD. If that would drop below half of the samples the band is
// widened to ExtremeThreshold. When fewer than MinPoints samples survive the
// original profile is returned. Profiles that cannot be fitted at all yield an
// empty profile.
func FilterOutliers(p Profile, k float64) Profile {
	if p.Validate() != nil {
		return Profile{}
	}
	st := CalculateRobustStatistics(p.Positions, p.Charges)
	if !st.Valid {
		return p
	}

	kept := keepWithin(p, st.Median-k*st.MAD, st.Median+k*st.MAD)
	if kept.Len() < p.Len()/2 {
		kept = keepWithin(p, st.Median-ExtremeThreshold*st.MAD, st.Median+ExtremeThreshold*st.MAD)
	}
	if kept.Len() < MinPoints {
		return p
	}
	return kept
}

func keepWithin(p Profile, lo, hi float64) Profile {
	var out Profile
	for i, c := range p.Charges {
		if c >= lo && c <= hi {
			out.Positions = append(out.Positions, p.Positions[i])
			out.Charges = append(out.Charges, p.Charges[i])
		}
	}
	return out
}

// OutlierRemovalResult is the outcome of RemoveOutliers.
type OutlierRemovalResult struct {
	Samples          Samples `json:"samples"`
	OutliersRemoved  int     `json:"outliers_removed"`
	FilteringApplied bool    `json:"filtering_applied"`
	Success          bool    `json:"success"`
}

// RemoveOutliers drops 2-D samples whose charge deviates from the median by
// more than k·MAD. Removal is skipped when it would leave fewer than
// MinPoints samples.
func RemoveOutliers(s Samples, enabled bool, k float64) OutlierRemovalResult {
	n := len(s.Charge)
	if len(s.X) != len(s.Y) || len(s.X) != n {
		return OutlierRemovalResult{}
	}
	unchanged := OutlierRemovalResult{Samples: s, Success: true}
	if !enabled || n < MinPoints {
		return unchanged
	}

	st := CalculateRobustStatistics(s.X, s.Charge)
	if !st.Valid {
		unchanged.Success = false
		return unchanged
	}

	limit := k * st.MAD
	outlier := make([]bool, n)
	count := 0
	for i, c := range s.Charge {
		if math.Abs(c-st.Median) > limit {
			outlier[i] = true
			count++
		}
	}
	if n-count < MinPoints {
		return unchanged
	}

	res := OutlierRemovalResult{
		OutliersRemoved:  count,
		FilteringApplied: true,
		Success:          true,
	}
	res.Samples.X = make([]float64, 0, n-count)
	res.Samples.Y = make([]float64, 0, n-count)
	res.Samples.Charge = make([]float64, 0, n-count)
	for i := range s.Charge {
		if outlier[i] {
			continue
		}
		res.Samples.X = append(res.Samples.X, s.X[i])
		res.Samples.Y = append(res.Samples.Y, s.Y[i])
		res.Samples.Charge = append(res.Samples.Charge, s.Charge[i])
	}
	return res
}
