package repository

import (
	"context"
	"time"

	"QuantPipe/internal/domain/models"
)

// FeatureRepository persists FeatureRecords keyed by (symbol, date, feature set).
// UpsertFeatures overwrites any earlier values for the key.
type FeatureRepository interface {
	UpsertFeatures(ctx context.Context, rec models.FeatureRecord) error
	GetFeatures(ctx context.Context, symbol string, date time.Time, set string) (models.FeatureRecord, error)
	// PreviousFeatures returns the latest record strictly before date.
	PreviousFeatures(ctx context.Context, symbol string, before time.Time, set string) (models.FeatureRecord, error)
	ListFeaturesOn(ctx context.Context, date time.Time, set string) ([]models.FeatureRecord, error)
	CountFeaturesOn(ctx context.Context, date time.Time, set string) (int, error)
}
