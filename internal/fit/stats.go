package fit

import (
	"math"
	"sort"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
)

const madScale = 1.4826

// RobustStatistics summarizes the charge values of a profile. WeightedMean is
// the centroid of the positions weighted by charge excess over Q25.
type RobustStatistics struct {
	Mean         float64
	Median       float64
	StdDev       float64
	MAD          float64
	Q25          float64
	Q75          float64
	Min          float64
	Max          float64
	WeightedMean float64
	TotalWeight  float64
	RobustCenter float64
	Valid        bool
}

// CalculateRobustStatistics computes order statistics over charges and a
// charge-weighted centroid over positions. The result is invalid when the
// slices are empty or differ in length.
func CalculateRobustStatistics(positions, charges []float64) RobustStatistics {
	var st RobustStatistics
	n := len(charges)
	if n == 0 || len(positions) != n {
		return st
	}

	sorted := append([]float64(nil), charges...)
	sort.Float64s(sorted)

	st.Min = sorted[0]
	st.Max = sorted[n-1]
	st.Q25 = sorted[n/4]
	st.Q75 = sorted[3*n/4]
	if n%2 == 0 {
		st.Median = (sorted[n/2-1] + sorted[n/2]) / 2
	} else {
		st.Median = sorted[n/2]
	}

	mean, variance := stat.PopMeanVariance(charges, nil)
	st.Mean = mean
	st.StdDev = math.Sqrt(variance)

	dev := make([]float64, n)
	for i, c := range charges {
		dev[i] = math.Abs(c - st.Median)
	}
	sort.Float64s(dev)
	st.MAD = madScale * dev[n/2]
	if math.IsNaN(st.MAD) || math.IsInf(st.MAD, 0) || st.MAD < 1e-12 {
		if finite(st.StdDev) && st.StdDev > 1e-12 {
			st.MAD = st.StdDev
		} else {
			st.MAD = 1e-12
		}
	}

	w := make([]float64, n)
	for i, c := range charges {
		w[i] = math.Max(0, c-st.Q25)
	}
	st.TotalWeight = floats.Sum(w)
	if st.TotalWeight > 0 {
		st.WeightedMean = stat.Mean(positions, w)
	} else {
		st.WeightedMean = stat.Mean(positions, nil)
	}
	st.RobustCenter = st.WeightedMean

	st.Valid = true
	return st
}

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}

func allFinite(s ...float64) bool {
	for _, v := range s {
		if !finite(v) {
			return false
		}
	}
	return true
}
