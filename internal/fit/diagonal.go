package fit

import (
	"math"

	"ChargeFit/pkg/logger"
)

const (
	diagonalTolerance = 0.5 // pitch
	diagonalOutlierK  = ConservativeThreshold
)

// DiagonalResult holds fits along the main (dx ≈ dy) and secondary
// (dx ≈ −dy) diagonals through the cluster center. Both X and Y fits of a
// diagonal are run on the same profile.
type DiagonalResult struct {
	MainX      FitResult `json:"main_x"`
	MainY      FitResult `json:"main_y"`
	SecondaryX FitResult `json:"secondary_x"`
	SecondaryY FitResult `json:"secondary_y"`
	Success    bool      `json:"success"`

	Main      Profile `json:"main"`
	Secondary Profile `json:"secondary"`

	OutliersRemoved int `json:"outliers_removed"`
}

// diagonalProfiles projects positive-charge samples onto both diagonals
// through (centerX, centerY). Coordinates are relative to the center.
func diagonalProfiles(s Samples, centerX, centerY, pitch float64) (main, secondary Profile) {
	tol := diagonalTolerance * pitch
	for i, c := range s.Charge {
		if c <= 0 {
			continue
		}
		dx := s.X[i] - centerX
		dy := s.Y[i] - centerY
		if math.Abs(dx-dy) < tol {
			main.Positions = append(main.Positions, (dx+dy)/2)
			main.Charges = append(main.Charges, c)
		}
		if math.Abs(dx+dy) < tol {
			secondary.Positions = append(secondary.Positions, (dx-dy)/2)
			secondary.Charges = append(secondary.Charges, c)
		}
	}
	main.sortByPosition()
	secondary.sortByPosition()
	return main, secondary
}

// FitDiagonal fits profiles along both diagonals with a √2·pitch spacing and
// a zero center prior. Success requires all four fits to succeed.
func (f *Fitter) FitDiagonal(s Samples, centerX, centerY, pixelSpacing float64, o FitOptions) DiagonalResult {
	var res DiagonalResult
	trace := f.trace(o.Verbose)
	if err := s.Validate(); err != nil {
		trace("diagonal fit rejected", logger.Error(err))
		return res
	}

	data := s
	if o.FilterOutliers && !o.SamplesCleaned {
		removal := RemoveOutliers(s, true, diagonalOutlierK)
		if removal.Success && removal.FilteringApplied {
			data = removal.Samples
			res.OutliersRemoved = removal.OutliersRemoved
		}
	}

	res.Main, res.Secondary = diagonalProfiles(data, centerX, centerY, pixelSpacing)
	pitch := pixelSpacing * math.Sqrt2
	trace("starting diagonal fit",
		logger.Int("points", data.Len()),
		logger.Int("main", res.Main.Len()),
		logger.Int("secondary", res.Secondary.Len()),
	)

	if res.Main.Len() >= MinPoints {
		res.MainX = f.fitWithUncertainty(res.Main, pitch, o)
		res.MainY = f.fitWithUncertainty(res.Main, pitch, o)
	}
	if res.Secondary.Len() >= MinPoints {
		res.SecondaryX = f.fitWithUncertainty(res.Secondary, pitch, o)
		res.SecondaryY = f.fitWithUncertainty(res.Secondary, pitch, o)
	}

	res.Success = res.MainX.Success && res.MainY.Success &&
		res.SecondaryX.Success && res.SecondaryY.Success
	trace("diagonal fit finished",
		logger.Bool("success", res.Success),
		logger.Bool("main_x", res.MainX.Success),
		logger.Bool("main_y", res.MainY.Success),
		logger.Bool("secondary_x", res.SecondaryX.Success),
		logger.Bool("secondary_y", res.SecondaryY.Success),
	)
	return res
}

// fitWithUncertainty fits a diagonal profile around zero and, like the row
// and column fits, reports the charge uncertainty on success.
func (f *Fitter) fitWithUncertainty(p Profile, pitch float64, o FitOptions) FitResult {
	r := f.FitProfile(p, 0, pitch, o)
	if r.Success && f.chargeUncertainties {
		r.ChargeUncertainty = uncertaintyFraction * p.MaxCharge()
	}
	return r
}
