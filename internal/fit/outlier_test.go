package fit

import (
	"reflect"
	"testing"
)

func seq(n int) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = float64(i)
	}
	return out
}

func TestFilterOutliersRemovesSpike(t *testing.T) {
	p := Profile{
		Positions: seq(8),
		Charges:   []float64{10, 11, 12, 13, 14, 15, 16, 1000},
	}
	got := FilterOutliers(p, ConservativeThreshold)
	want := []float64{10, 11, 12, 13, 14, 15, 16}
	if !reflect.DeepEqual(got.Charges, want) {
		t.Errorf("filtered charges: got %v, want %v", got.Charges, want)
	}
	if !reflect.DeepEqual(got.Positions, seq(7)) {
		t.Errorf("positions not carried with charges: %v", got.Positions)
	}
}

func TestFilterOutliersFixedPoint(t *testing.T) {
	// once no kept charge lies outside the band a further pass is a no-op
	p := Profile{
		Positions: seq(8),
		Charges:   []float64{10, 11, 12, 13, 14, 15, 16, 1000},
	}
	for _, k := range []float64{ConservativeThreshold, LenientThreshold} {
		once := FilterOutliers(p, k)
		twice := FilterOutliers(once, k)
		if !reflect.DeepEqual(once, twice) {
			t.Errorf("k=%g: second pass changed the data: %v -> %v", k, once.Charges, twice.Charges)
		}
	}
}

func TestFilterOutliersSecondPassCanRemoveMore(t *testing.T) {
	// The 100s inflate the first MAD enough to keep the 14. Without them
	// the band tightens and the 14 falls outside.
	p := Profile{
		Positions: seq(11),
		Charges:   []float64{9, 9.5, 10, 10, 10.5, 11, 14, 100, 100, 100, 100},
	}
	once := FilterOutliers(p, ConservativeThreshold)
	if !reflect.DeepEqual(once.Charges, []float64{9, 9.5, 10, 10, 10.5, 11, 14}) {
		t.Fatalf("first pass: %v", once.Charges)
	}
	twice := FilterOutliers(once, ConservativeThreshold)
	if !reflect.DeepEqual(twice.Charges, []float64{9, 9.5, 10, 10, 10.5, 11}) {
		t.Fatalf("second pass: %v", twice.Charges)
	}
	if thrice := FilterOutliers(twice, ConservativeThreshold); !reflect.DeepEqual(thrice, twice) {
		t.Errorf("third pass should be a fixed point: %v", thrice.Charges)
	}

	s := Samples{X: seq(11), Y: seq(11), Charge: p.Charges}
	first := RemoveOutliers(s, true, ConservativeThreshold)
	second := RemoveOutliers(first.Samples, true, ConservativeThreshold)
	if first.OutliersRemoved != 4 || second.OutliersRemoved != 1 {
		t.Errorf("sample remover: removed %d then %d, want 4 then 1", first.OutliersRemoved, second.OutliersRemoved)
	}
}

func TestFilterOutliersKeepsMinimum(t *testing.T) {
	// dropping the spike would leave four samples
	p := Profile{
		Positions: seq(5),
		Charges:   []float64{10, 11, 12, 13, 1000},
	}
	got := FilterOutliers(p, ConservativeThreshold)
	if !reflect.DeepEqual(got, p) {
		t.Errorf("expected original profile, got %v", got.Charges)
	}

	inputs := [][]float64{
		{1, 1, 1, 100, 200, 300},
		{0, 0, 0, 0, 0, 0, 9},
		{5, 4, 3, 2, 1},
		{1, 1e9, 1, 1e9, 1, 1e9},
	}
	for _, charges := range inputs {
		for _, k := range []float64{0.01, ConservativeThreshold, LenientThreshold} {
			out := FilterOutliers(Profile{Positions: seq(len(charges)), Charges: charges}, k)
			if out.Len() < MinPoints {
				t.Errorf("charges %v k=%g: only %d points left", charges, k, out.Len())
			}
		}
	}
}

func TestFilterOutliersWidensBand(t *testing.T) {
	// a tiny k keeps nothing, so the band is widened to 4·MAD which still
	// excludes the spike
	p := Profile{
		Positions: seq(10),
		Charges:   []float64{1, 2, 3, 4, 5, 6, 7, 8, 9, 100},
	}
	got := FilterOutliers(p, 0.1)
	if got.Len() != 9 {
		t.Fatalf("expected 9 points after widening, got %d (%v)", got.Len(), got.Charges)
	}
	for _, c := range got.Charges {
		if c == 100 {
			t.Error("spike survived widened filter")
		}
	}
}

func TestFilterOutliersInvalidInput(t *testing.T) {
	if got := FilterOutliers(Profile{Positions: seq(4), Charges: seq(4)}, 2.5); got.Len() != 0 {
		t.Errorf("expected empty result for 4 points, got %d", got.Len())
	}
	if got := FilterOutliers(Profile{Positions: seq(6), Charges: seq(5)}, 2.5); got.Len() != 0 {
		t.Errorf("expected empty result for mismatched input, got %d", got.Len())
	}
}

func spikyCloud() Samples {
	var s Samples
	for i := 0; i < 5; i++ {
		for j := 0; j < 5; j++ {
			s.X = append(s.X, float64(i))
			s.Y = append(s.Y, float64(j))
			s.Charge = append(s.Charge, 10+0.1*float64(j))
		}
	}
	s.X = append(s.X, 0.5, 3.5)
	s.Y = append(s.Y, 0.5, 3.5)
	s.Charge = append(s.Charge, 1e6, 2e6)
	return s
}

func TestRemoveOutliers(t *testing.T) {
	s := spikyCloud()
	res := RemoveOutliers(s, true, ConservativeThreshold)
	if !res.Success || !res.FilteringApplied {
		t.Fatalf("expected applied filtering, got %+v", res)
	}
	if res.OutliersRemoved != 2 {
		t.Errorf("removed: got %d, want 2", res.OutliersRemoved)
	}
	if res.Samples.Len() != 25 || len(res.Samples.Y) != 25 || len(res.Samples.Charge) != 25 {
		t.Errorf("expected 25 samples left, got %d", res.Samples.Len())
	}
	for _, c := range res.Samples.Charge {
		if c > 100 {
			t.Errorf("spike %g survived", c)
		}
	}
}

func TestRemoveOutliersSkips(t *testing.T) {
	s := spikyCloud()

	res := RemoveOutliers(s, false, ConservativeThreshold)
	if !res.Success || res.FilteringApplied || res.Samples.Len() != s.Len() {
		t.Errorf("disabled removal should return the input untouched, got %+v", res)
	}

	small := Samples{X: seq(4), Y: seq(4), Charge: []float64{1, 1, 1, 1e6}}
	res = RemoveOutliers(small, true, ConservativeThreshold)
	if !res.Success || res.FilteringApplied || res.OutliersRemoved != 0 {
		t.Errorf("small input should be returned untouched, got %+v", res)
	}

	res = RemoveOutliers(Samples{X: seq(5), Y: seq(4), Charge: seq(5)}, true, ConservativeThreshold)
	if res.Success {
		t.Error("mismatched input should not succeed")
	}

	// removing both spikes would leave four samples
	tight := Samples{
		X:      seq(6),
		Y:      seq(6),
		Charge: []float64{10, 11, 12, 13, 1e6, 2e6},
	}
	res = RemoveOutliers(tight, true, ConservativeThreshold)
	if !res.Success || res.FilteringApplied || res.Samples.Len() != 6 {
		t.Errorf("removal below the minimum should be skipped, got %+v", res)
	}
}
