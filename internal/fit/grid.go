package fit

import (
	"math"
	"sort"

	"ChargeFit/pkg/logger"
)

const groupTolerance = 0.1 // pitch

// Result2D holds the row (X) and column (Y) fits through a charge cluster.
type Result2D struct {
	X       FitResult `json:"x"`
	Y       FitResult `json:"y"`
	Success bool      `json:"success"`

	// Row and Column are the profiles that were fitted, sorted by position.
	Row    Profile `json:"row"`
	Column Profile `json:"column"`
}

// group is a set of samples sharing a row or column coordinate.
type group struct {
	key     float64
	profile Profile
}

// grouping keeps groups ordered by ascending key.
type grouping []group

// add appends a sample to the first group, in key order, whose key lies
// within tol of coord; otherwise a new group keyed by coord is inserted.
// The first match wins even if a later group is closer.
func (g *grouping) add(coord, pos, charge, tol float64) {
	for i := range *g {
		d := math.Abs((*g)[i].key - coord)
		if d < tol || d == 0 {
			gr := &(*g)[i]
			gr.profile.Positions = append(gr.profile.Positions, pos)
			gr.profile.Charges = append(gr.profile.Charges, charge)
			return
		}
	}
	i := sort.Search(len(*g), func(i int) bool { return (*g)[i].key > coord })
	*g = append(*g, group{})
	copy((*g)[i+1:], (*g)[i:])
	(*g)[i] = group{key: coord, profile: Profile{Positions: []float64{pos}, Charges: []float64{charge}}}
}

// nearest returns the group closest to target with at least MinPoints
// samples. Ties resolve to the lower key.
func (g grouping) nearest(target float64) (group, bool) {
	best := -1
	bestDist := math.MaxFloat64
	for i, gr := range g {
		d := math.Abs(gr.key - target)
		if d < bestDist && gr.profile.Len() >= MinPoints {
			bestDist = d
			best = i
		}
	}
	if best < 0 {
		return group{}, false
	}
	return g[best], true
}

// groupRowsAndColumns buckets positive-charge samples into rows (keyed by y,
// holding x positions) and columns (keyed by x, holding y positions).
func groupRowsAndColumns(s Samples, pitch float64) (rows, cols grouping) {
	tol := groupTolerance * pitch
	for i, c := range s.Charge {
		if c <= 0 {
			continue
		}
		rows.add(s.Y[i], s.X[i], c, tol)
		cols.add(s.X[i], s.Y[i], c, tol)
	}
	return rows, cols
}

// Fit2D fits the row nearest centerY along X and the column nearest centerX
// along Y. The result succeeds only when both axes fit.
func (f *Fitter) Fit2D(s Samples, centerX, centerY, pixelSpacing float64, o FitOptions) Result2D {
	var res Result2D
	trace := f.trace(o.Verbose)
	if err := s.Validate(); err != nil {
		trace("2d fit rejected", logger.Error(err))
		return res
	}

	rows, cols := groupRowsAndColumns(s, pixelSpacing)
	trace("starting 2d fit",
		logger.Int("points", s.Len()),
		logger.Int("rows", len(rows)),
		logger.Int("columns", len(cols)),
	)

	if row, ok := rows.nearest(centerY); ok {
		res.Row = row.profile.Clone()
		res.Row.sortByPosition()
		res.X = f.FitProfile(res.Row, centerX, pixelSpacing, o)
		if res.X.Success && f.chargeUncertainties {
			res.X.ChargeUncertainty = uncertaintyFraction * res.Row.MaxCharge()
		}
	}
	if col, ok := cols.nearest(centerX); ok {
		res.Column = col.profile.Clone()
		res.Column.sortByPosition()
		res.Y = f.FitProfile(res.Column, centerY, pixelSpacing, o)
		if res.Y.Success && f.chargeUncertainties {
			res.Y.ChargeUncertainty = uncertaintyFraction * res.Column.MaxCharge()
		}
	}

	res.Success = res.X.Success && res.Y.Success
	trace("2d fit finished",
		logger.Bool("success", res.Success),
		logger.Bool("x", res.X.Success),
		logger.Bool("y", res.Y.Success),
	)
	return res
}
