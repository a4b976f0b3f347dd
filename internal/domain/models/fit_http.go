package models

// Requests for the fit HTTP endpoints.

type ProfileFitRequest struct {
	Positions      []float64 `json:"positions" validate:"required,min=5"`
	Charges        []float64 `json:"charges" validate:"required,min=5"`
	CenterEstimate float64   `json:"center_estimate"`
	PixelSpacing   float64   `json:"pixel_spacing" default:"1" validate:"gt=0"`
	FilterOutliers *bool     `json:"filter_outliers"`
	Verbose        bool      `json:"verbose"`
}

type SamplesFitRequest struct {
	EventID        string    `json:"event_id"`
	X              []float64 `json:"x" validate:"required,min=5"`
	Y              []float64 `json:"y" validate:"required,min=5"`
	Charge         []float64 `json:"charge" validate:"required,min=5"`
	CenterX        float64   `json:"center_x"`
	CenterY        float64   `json:"center_y"`
	PixelSpacing   float64   `json:"pixel_spacing" default:"1" validate:"gt=0"`
	FilterOutliers *bool     `json:"filter_outliers"`
	Verbose        bool      `json:"verbose"`
}

type OutlierRequest struct {
	X       []float64 `json:"x" validate:"required"`
	Y       []float64 `json:"y" validate:"required"`
	Charge  []float64 `json:"charge" validate:"required"`
	Enabled *bool     `json:"enabled" default:"true"`
	Sigma   float64   `json:"sigma" default:"2.5" validate:"gt=0"`
}

type FitQuery struct {
	EventID string `query:"event_id"`
	Kind    string `query:"kind" validate:"omitempty,oneof=profile row column diagonal_main diagonal_secondary"`
	From    string `query:"from"`
	To      string `query:"to"`
	Limit   int    `query:"limit" default:"100" validate:"gte=1,lte=5000"`
}
