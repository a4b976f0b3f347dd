package models

import (
	"time"

	"ChargeFit/internal/fit"
)

// FitKind names which profile of an event a record was fitted on.
type FitKind string

const (
	KindProfile           FitKind = "profile"
	KindRow               FitKind = "row"
	KindColumn            FitKind = "column"
	KindDiagonalMain      FitKind = "diagonal_main"
	KindDiagonalSecondary FitKind = "diagonal_secondary"
)

// FitRecord is one stored, published and streamed fit.
type FitRecord struct {
	ID        string        `json:"id"`
	EventID   string        `json:"event_id,omitempty"`
	Kind      FitKind       `json:"kind"`
	CreatedAt time.Time     `json:"created_at"`
	Result    fit.FitResult `json:"result"`
}

// HitResult bundles every fit made for one hit event.
type HitResult struct {
	EventID         string             `json:"event_id"`
	Grid            fit.Result2D       `json:"grid"`
	Diagonal        fit.DiagonalResult `json:"diagonal"`
	OutliersRemoved int                `json:"outliers_removed"`
	// Duplicate is set when the event had already been processed.
	Duplicate bool        `json:"duplicate,omitempty"`
	Records   []FitRecord `json:"records,omitempty"`
}

// FitFilter selects stored records.
type FitFilter struct {
	EventID string
	Kind    FitKind
	From    time.Time
	To      time.Time
	Limit   int
}
