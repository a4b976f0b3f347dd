package fit

import (
	"math"
	"testing"
)

func TestCalculateRobustStatistics(t *testing.T) {
	st := CalculateRobustStatistics([]float64{0, 1, 2, 3, 4}, []float64{1, 2, 3, 4, 5})
	if !st.Valid {
		t.Fatal("expected valid statistics")
	}

	checks := []struct {
		name string
		got  float64
		want float64
	}{
		{"mean", st.Mean, 3},
		{"median", st.Median, 3},
		{"q25", st.Q25, 2},
		{"q75", st.Q75, 4},
		{"min", st.Min, 1},
		{"max", st.Max, 5},
		{"std", st.StdDev, math.Sqrt2},
		{"mad", st.MAD, 1.4826},
		{"weighted mean", st.WeightedMean, 20.0 / 6.0},
		{"total weight", st.TotalWeight, 6},
		{"robust center", st.RobustCenter, 20.0 / 6.0},
	}
	for _, c := range checks {
		if math.Abs(c.got-c.want) > 1e-12 {
			t.Errorf("%s: got %g, want %g", c.name, c.got, c.want)
		}
	}
}

func TestRobustStatisticsEvenMedian(t *testing.T) {
	st := CalculateRobustStatistics([]float64{0, 1, 2, 3}, []float64{4, 1, 3, 2})
	if st.Median != 2.5 {
		t.Errorf("median: got %g, want 2.5", st.Median)
	}
}

func TestRobustStatisticsInvalid(t *testing.T) {
	if st := CalculateRobustStatistics(nil, nil); st.Valid {
		t.Error("empty input should be invalid")
	}
	if st := CalculateRobustStatistics([]float64{1, 2}, []float64{1}); st.Valid {
		t.Error("mismatched input should be invalid")
	}
}

func TestRobustStatisticsMADFloor(t *testing.T) {
	// constant charges: MAD and std-dev are both zero
	st := CalculateRobustStatistics([]float64{0, 1, 2, 3, 4}, []float64{7, 7, 7, 7, 7})
	if !st.Valid {
		t.Fatal("expected valid statistics")
	}
	if st.MAD != 1e-12 {
		t.Errorf("MAD floor: got %g, want 1e-12", st.MAD)
	}
	// no weight above q25, centroid falls back to the plain mean
	if st.WeightedMean != 2 {
		t.Errorf("weighted mean fallback: got %g, want 2", st.WeightedMean)
	}

	// more than half the charges equal the median: MAD collapses to std-dev
	st = CalculateRobustStatistics([]float64{0, 1, 2, 3, 4}, []float64{5, 5, 5, 5, 10})
	if math.Abs(st.MAD-st.StdDev) > 1e-15 || st.MAD < 1e-12 {
		t.Errorf("MAD should fall back to std-dev %g, got %g", st.StdDev, st.MAD)
	}
}

func TestRobustStatisticsMADNeverBelowFloor(t *testing.T) {
	profiles := [][]float64{
		{1, 2, 3, 4, 5},
		{0, 0, 0, 0, 0},
		{-3, -3, -3, 8, 1e9},
		{1e-30, 2e-30, 3e-30, 4e-30, 5e-30},
	}
	pos := []float64{0, 1, 2, 3, 4}
	for _, charges := range profiles {
		st := CalculateRobustStatistics(pos, charges)
		if !st.Valid || st.MAD < 1e-12 {
			t.Errorf("charges %v: valid=%v MAD=%g", charges, st.Valid, st.MAD)
		}
	}
}
