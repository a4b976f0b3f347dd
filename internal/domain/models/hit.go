package models

// HitEvent is one detector hit as it arrives on the hits topic: the
// per-pixel charges around a track crossing plus the seed center.
type HitEvent struct {
	EventID      string    `json:"event_id" validate:"required"`
	X            []float64 `json:"x" validate:"required,min=5"`
	Y            []float64 `json:"y" validate:"required,min=5"`
	Charge       []float64 `json:"charge" validate:"required,min=5"`
	CenterX      float64   `json:"center_x"`
	CenterY      float64   `json:"center_y"`
	PixelSpacing float64   `json:"pixel_spacing" default:"1" validate:"gt=0"`
	// FilterOutliers nil means the service default.
	FilterOutliers *bool `json:"filter_outliers,omitempty"`
}
