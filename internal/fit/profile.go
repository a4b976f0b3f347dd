package fit

import (
	"errors"
	"fmt"
	"sort"
)

// MinPoints is the smallest number of samples any fit or filter accepts.
const MinPoints = 5

var (
	ErrLengthMismatch = errors.New("fit: positions and charges differ in length")
	ErrTooFewPoints   = errors.New("fit: too few points")
)

// Profile is a 1-D charge profile: Charges[i] was collected at Positions[i].
type Profile struct {
	Positions []float64 `json:"positions"`
	Charges   []float64 `json:"charges"`
}

func (p Profile) Len() int { return len(p.Positions) }

// Validate checks that p can be fitted.
func (p Profile) Validate() error {
	if len(p.Positions) != len(p.Charges) {
		return fmt.Errorf("%w: %d positions, %d charges", ErrLengthMismatch, len(p.Positions), len(p.Charges))
	}
	if len(p.Positions) < MinPoints {
		return fmt.Errorf("%w: %d < %d", ErrTooFewPoints, len(p.Positions), MinPoints)
	}
	return nil
}

func (p Profile) MaxCharge() float64 {
	if len(p.Charges) == 0 {
		return 0
	}
	m := p.Charges[0]
	for _, c := range p.Charges[1:] {
		if c > m {
			m = c
		}
	}
	return m
}

// Clone returns a deep copy of p.
func (p Profile) Clone() Profile {
	return Profile{
		Positions: append([]float64(nil), p.Positions...),
		Charges:   append([]float64(nil), p.Charges...),
	}
}

// sortByPosition orders the samples by ascending position, in place. Ties
// are ordered by charge.
func (p Profile) sortByPosition() {
	sort.Sort(byPosition(p))
}

type byPosition Profile

func (b byPosition) Len() int { return len(b.Positions) }
func (b byPosition) Less(i, j int) bool {
	if b.Positions[i] != b.Positions[j] {
		return b.Positions[i] < b.Positions[j]
	}
	return b.Charges[i] < b.Charges[j]
}
func (b byPosition) Swap(i, j int) {
	b.Positions[i], b.Positions[j] = b.Positions[j], b.Positions[i]
	b.Charges[i], b.Charges[j] = b.Charges[j], b.Charges[i]
}

// Samples is a set of 2-D charge samples.
type Samples struct {
	X      []float64 `json:"x"`
	Y      []float64 `json:"y"`
	Charge []float64 `json:"charge"`
}

func (s Samples) Len() int { return len(s.X) }

func (s Samples) Validate() error {
	if len(s.X) != len(s.Y) || len(s.X) != len(s.Charge) {
		return fmt.Errorf("%w: %d x, %d y, %d charges", ErrLengthMismatch, len(s.X), len(s.Y), len(s.Charge))
	}
	if len(s.X) < MinPoints {
		return fmt.Errorf("%w: %d < %d", ErrTooFewPoints, len(s.X), MinPoints)
	}
	return nil
}
