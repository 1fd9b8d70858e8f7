package repository

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgtype"

	"QuantPipe/internal/domain/models"
	domrepo "QuantPipe/internal/domain/repository"
	"QuantPipe/pkg/postgres"
)

func (s *PGStore) UpsertModel(ctx context.Context, m *models.Model) error {
	params, err := toJSONB(m.Parameters)
	if err != nil {
		return err
	}
	err = s.pool.QueryRow(ctx, `
		INSERT INTO models (name, version, model_type, parameters, active, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, NOW(), NOW())
		ON CONFLICT (name, version) DO UPDATE
		SET model_type = EXCLUDED.model_type, parameters = EXCLUDED.parameters,
		    active = EXCLUDED.active, updated_at = NOW()
		RETURNING id, created_at, updated_at`,
		m.Name, m.Version, m.Type, params, m.Active).Scan(&m.ID, &m.CreatedAt, &m.UpdatedAt)
	return wrapErr("upsert model", err)
}

func (s *PGStore) ActiveModels(ctx context.Context) ([]models.Model, error) {
	return s.queryModels(ctx, `WHERE active`)
}

func (s *PGStore) ListModels(ctx context.Context) ([]models.Model, error) {
	return s.queryModels(ctx, ``)
}

func (s *PGStore) queryModels(ctx context.Context, where string) ([]models.Model, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, name, version, model_type, parameters, active, created_at, updated_at
		FROM models `+where+` ORDER BY name, version`)
	if err != nil {
		return nil, wrapErr("list models", err)
	}
	defer rows.Close()

	var out []models.Model
	for rows.Next() {
		var (
			m      models.Model
			params pgtype.JSONB
		)
		if err := rows.Scan(&m.ID, &m.Name, &m.Version, &m.Type, &params, &m.Active, &m.CreatedAt, &m.UpdatedAt); err != nil {
			return nil, wrapErr("scan model", err)
		}
		if err := fromJSONB(params, &m.Parameters); err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, wrapErr("list models", rows.Err())
}

func (s *PGStore) StartRun(ctx context.Context, run *models.ModelRun) error {
	meta, err := toJSONB(run.Metadata)
	if err != nil {
		return err
	}
	_, err = s.pool.Exec(ctx, `
		INSERT INTO model_runs (id, model_id, run_date, status, universe_size, started_at, metadata)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		run.ID, run.ModelID, run.RunDate, string(run.Status), run.UniverseSize, run.StartedAt, meta)
	return wrapErr("start model run", err)
}

// CompleteRun inserts signals with conflict-skip and closes the run in the
// same transaction. It returns the number of rows actually inserted.
func (s *PGStore) CompleteRun(ctx context.Context, run *models.ModelRun, signals []models.SignalRecord) (int, error) {
	inserted := 0
	err := postgres.WithTx(ctx, s.pool, func(tx postgres.Tx) error {
		for i := range signals {
			sig := &signals[i]
			meta, err := toJSONB(sig.Metadata)
			if err != nil {
				return err
			}
			tag, err := tx.Exec(ctx, `
				INSERT INTO signals (model_id, model_run_id, symbol, signal_date, signal_type, strength,
				                     confidence, target_price, price, position_size, metadata, created_at)
				VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, NOW())
				ON CONFLICT (model_id, symbol, signal_date) DO NOTHING`,
				sig.ModelID, run.ID, sig.Symbol, sig.Date, string(sig.Kind), sig.Strength,
				sig.Confidence, sig.TargetPrice, sig.Price, sig.PositionSize, meta)
			if err != nil {
				return err
			}
			inserted += int(tag.RowsAffected())
		}

		run.Status = models.StatusCompleted
		run.SignalsGenerated = inserted
		now := time.Now().UTC()
		run.FinishedAt = &now
		return finishRun(ctx, tx, run)
	})
	if err != nil {
		return 0, wrapErr("complete model run", err)
	}
	return inserted, nil
}

func (s *PGStore) FailRun(ctx context.Context, run *models.ModelRun) error {
	run.Status = models.StatusFailed
	if run.FinishedAt == nil {
		now := time.Now().UTC()
		run.FinishedAt = &now
	}
	return wrapErr("fail model run", finishRun(ctx, s.pool, run))
}

func finishRun(ctx context.Context, q postgres.Queryer, run *models.ModelRun) error {
	meta, err := toJSONB(run.Metadata)
	if err != nil {
		return err
	}
	_, err = q.Exec(ctx, `
		UPDATE model_runs
		SET status = $2, signals_generated = $3, errors = $4, finished_at = $5, metadata = $6
		WHERE id = $1`,
		run.ID, string(run.Status), run.SignalsGenerated, run.Errors, run.FinishedAt, meta)
	return err
}

func (s *PGStore) ListSignals(ctx context.Context, f domrepo.SignalFilter) ([]models.SignalRecord, error) {
	var (
		where []string
		args  []interface{}
	)
	add := func(cond string, v interface{}) {
		args = append(args, v)
		where = append(where, fmt.Sprintf(cond, len(args)))
	}
	if f.ModelID != 0 {
		add("model_id = $%d", f.ModelID)
	}
	if f.Symbol != "" {
		add("symbol = $%d", f.Symbol)
	}
	if !f.From.IsZero() {
		add("signal_date >= $%d", f.From)
	}
	if !f.To.IsZero() {
		add("signal_date <= $%d", f.To)
	}
	sql := `SELECT id, model_id, COALESCE(model_run_id::text, ''), symbol, signal_date, signal_type, strength,
	               confidence, target_price, price, position_size, metadata, created_at
	        FROM signals`
	if len(where) > 0 {
		sql += " WHERE " + strings.Join(where, " AND ")
	}
	sql += " ORDER BY signal_date, model_id, symbol"

	rows, err := s.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, wrapErr("list signals", err)
	}
	defer rows.Close()

	var out []models.SignalRecord
	for rows.Next() {
		var (
			sig  models.SignalRecord
			kind string
			meta pgtype.JSONB
		)
		if err := rows.Scan(&sig.ID, &sig.ModelID, &sig.ModelRunID, &sig.Symbol, &sig.Date, &kind, &sig.Strength,
			&sig.Confidence, &sig.TargetPrice, &sig.Price, &sig.PositionSize, &meta, &sig.CreatedAt); err != nil {
			return nil, wrapErr("scan signal", err)
		}
		sig.Kind = models.SignalKind(kind)
		if err := fromJSONB(meta, &sig.Metadata); err != nil {
			return nil, err
		}
		out = append(out, sig)
	}
	return out, wrapErr("list signals", rows.Err())
}
