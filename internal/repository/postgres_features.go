package repository

import (
	"context"
	"time"

	"github.com/jackc/pgtype"
	"github.com/jackc/pgx/v4"

	"QuantPipe/internal/domain/models"
)

func (s *PGStore) UpsertFeatures(ctx context.Context, rec models.FeatureRecord) error {
	values, err := toJSONB(rec.Values)
	if err != nil {
		return err
	}
	_, err = s.pool.Exec(ctx, `
		INSERT INTO technical_features (symbol, date, feature_set, feature_values, computed_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (symbol, date, feature_set) DO UPDATE
		SET feature_values = EXCLUDED.feature_values, computed_at = EXCLUDED.computed_at`,
		rec.Symbol, rec.Date, rec.FeatureSet, values, rec.ComputedAt)
	return wrapErr("upsert features", err)
}

const featureColumns = `symbol, date, feature_set, feature_values, computed_at`

func scanFeature(row pgx.Row) (models.FeatureRecord, error) {
	var (
		rec    models.FeatureRecord
		values pgtype.JSONB
	)
	if err := row.Scan(&rec.Symbol, &rec.Date, &rec.FeatureSet, &values, &rec.ComputedAt); err != nil {
		return rec, err
	}
	rec.Values = make(models.Indicators)
	return rec, fromJSONB(values, &rec.Values)
}

func (s *PGStore) GetFeatures(ctx context.Context, symbol string, date time.Time, set string) (models.FeatureRecord, error) {
	rec, err := scanFeature(s.pool.QueryRow(ctx, `
		SELECT `+featureColumns+` FROM technical_features
		WHERE symbol = $1 AND date = $2 AND feature_set = $3`, symbol, date, set))
	return rec, wrapErr("get features", err)
}

func (s *PGStore) PreviousFeatures(ctx context.Context, symbol string, before time.Time, set string) (models.FeatureRecord, error) {
	rec, err := scanFeature(s.pool.QueryRow(ctx, `
		SELECT `+featureColumns+` FROM technical_features
		WHERE symbol = $1 AND date < $2 AND feature_set = $3
		ORDER BY date DESC LIMIT 1`, symbol, before, set))
	return rec, wrapErr("previous features", err)
}

func (s *PGStore) ListFeaturesOn(ctx context.Context, date time.Time, set string) ([]models.FeatureRecord, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+featureColumns+` FROM technical_features
		WHERE date = $1 AND feature_set = $2
		ORDER BY symbol`, date, set)
	if err != nil {
		return nil, wrapErr("list features", err)
	}
	defer rows.Close()

	var out []models.FeatureRecord
	for rows.Next() {
		rec, err := scanFeature(rows)
		if err != nil {
			return nil, wrapErr("scan features", err)
		}
		out = append(out, rec)
	}
	return out, wrapErr("list features", rows.Err())
}

func (s *PGStore) CountFeaturesOn(ctx context.Context, date time.Time, set string) (int, error) {
	var n int
	err := s.pool.QueryRow(ctx, `
		SELECT COUNT(*) FROM technical_features f
		JOIN trading_universe u ON u.symbol = f.symbol AND u.active
		WHERE f.date = $1 AND f.feature_set = $2`, date, set).Scan(&n)
	return n, wrapErr("count features", err)
}
