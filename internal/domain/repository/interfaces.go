package repository

import (
	"context"

	"ChargeFit/internal/domain/models"
)

// ResultStore persists fit records.
type ResultStore interface {
	Init(ctx context.Context) error // ensure tables
	StoreBatch(ctx context.Context, records []models.FitRecord) error
	Query(ctx context.Context, f models.FitFilter) ([]models.FitRecord, error)
	Health(ctx context.Context) error
}

// ResultPublisher ships fit records to downstream consumers.
type ResultPublisher interface {
	PublishBatch(ctx context.Context, records []models.FitRecord) error
}

// Broadcaster pushes records to live subscribers.
type Broadcaster interface {
	Broadcast(rec models.FitRecord)
}

type Metrics interface {
	RecordFit(kind string, success bool, seconds float64)
	RecordStrategy(dataset string, config int)
	RecordCovarianceFallback(kind string)
	RecordOutliersRemoved(n int)
	RecordError(kind string)
}
