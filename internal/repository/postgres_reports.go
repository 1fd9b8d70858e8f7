package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgtype"

	"QuantPipe/internal/domain/models"
)

func (s *PGStore) UpsertPerformance(ctx context.Context, r models.PerformanceRecord) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO model_performance (
			model_id, evaluation_date, window_start, window_end, total_trades, winning_trades,
			excluded_signals, total_return, avg_return, win_rate, avg_win, avg_loss, volatility,
			sharpe_ratio, sortino_ratio, max_drawdown, profit_factor, prediction_accuracy,
			confidence_weighted_return, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, NOW())
		ON CONFLICT (model_id, evaluation_date) DO UPDATE SET
			window_start = EXCLUDED.window_start, window_end = EXCLUDED.window_end,
			total_trades = EXCLUDED.total_trades, winning_trades = EXCLUDED.winning_trades,
			excluded_signals = EXCLUDED.excluded_signals, total_return = EXCLUDED.total_return,
			avg_return = EXCLUDED.avg_return, win_rate = EXCLUDED.win_rate, avg_win = EXCLUDED.avg_win,
			avg_loss = EXCLUDED.avg_loss, volatility = EXCLUDED.volatility,
			sharpe_ratio = EXCLUDED.sharpe_ratio, sortino_ratio = EXCLUDED.sortino_ratio,
			max_drawdown = EXCLUDED.max_drawdown, profit_factor = EXCLUDED.profit_factor,
			prediction_accuracy = EXCLUDED.prediction_accuracy,
			confidence_weighted_return = EXCLUDED.confidence_weighted_return, updated_at = NOW()`,
		r.ModelID, r.EvaluationDate, r.WindowStart, r.WindowEnd, r.TotalTrades, r.WinningTrades,
		r.ExcludedSignals, r.TotalReturn, r.AvgReturn, r.WinRate, r.AvgWin, r.AvgLoss, r.Volatility,
		r.Sharpe, r.Sortino, r.MaxDrawdown, r.ProfitFactor, r.PredictionAccuracy, r.ConfidenceWeightedReturn)
	return wrapErr("upsert performance", err)
}

func (s *PGStore) ListPerformance(ctx context.Context, date time.Time) ([]models.PerformanceRecord, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT p.model_id, m.name, p.evaluation_date, p.window_start, p.window_end, p.total_trades,
		       p.winning_trades, p.excluded_signals, p.total_return, p.avg_return, p.win_rate, p.avg_win,
		       p.avg_loss, p.volatility, p.sharpe_ratio, p.sortino_ratio, p.max_drawdown, p.profit_factor,
		       p.prediction_accuracy, p.confidence_weighted_return
		FROM model_performance p JOIN models m ON m.id = p.model_id
		WHERE p.evaluation_date = $1
		ORDER BY m.name`, date)
	if err != nil {
		return nil, wrapErr("list performance", err)
	}
	defer rows.Close()

	var out []models.PerformanceRecord
	for rows.Next() {
		var r models.PerformanceRecord
		if err := rows.Scan(&r.ModelID, &r.ModelName, &r.EvaluationDate, &r.WindowStart, &r.WindowEnd, &r.TotalTrades,
			&r.WinningTrades, &r.ExcludedSignals, &r.TotalReturn, &r.AvgReturn, &r.WinRate, &r.AvgWin,
			&r.AvgLoss, &r.Volatility, &r.Sharpe, &r.Sortino, &r.MaxDrawdown, &r.ProfitFactor,
			&r.PredictionAccuracy, &r.ConfidenceWeightedReturn); err != nil {
			return nil, wrapErr("scan performance", err)
		}
		out = append(out, r)
	}
	return out, wrapErr("list performance", rows.Err())
}

func (s *PGStore) UpsertReport(ctx context.Context, rep models.PerformanceReport) error {
	body, err := toJSONB(rep)
	if err != nil {
		return err
	}
	_, err = s.pool.Exec(ctx, `
		INSERT INTO performance_reports (report_date, total_models, report, created_at)
		VALUES ($1, $2, $3, NOW())
		ON CONFLICT (report_date) DO UPDATE
		SET total_models = EXCLUDED.total_models, report = EXCLUDED.report, created_at = NOW()`,
		rep.ReportDate, rep.TotalModels, body)
	return wrapErr("upsert report", err)
}

func (s *PGStore) GetReport(ctx context.Context, date time.Time) (models.PerformanceReport, error) {
	return s.scanReport(ctx, "get report",
		`SELECT report, created_at FROM performance_reports WHERE report_date = $1`, date)
}

func (s *PGStore) LatestReport(ctx context.Context) (models.PerformanceReport, error) {
	return s.scanReport(ctx, "latest report",
		`SELECT report, created_at FROM performance_reports ORDER BY report_date DESC LIMIT 1`)
}

func (s *PGStore) scanReport(ctx context.Context, op, sql string, args ...interface{}) (models.PerformanceReport, error) {
	var (
		rep       models.PerformanceReport
		body      pgtype.JSONB
		createdAt time.Time
	)
	if err := s.pool.QueryRow(ctx, sql, args...).Scan(&body, &createdAt); err != nil {
		return rep, wrapErr(op, err)
	}
	if err := fromJSONB(body, &rep); err != nil {
		return rep, err
	}
	rep.CreatedAt = createdAt
	return rep, nil
}

func (s *PGStore) UpsertQuality(ctx context.Context, rep models.QualityReport) error {
	body, err := toJSONB(rep)
	if err != nil {
		return err
	}
	_, err = s.pool.Exec(ctx, `
		INSERT INTO data_quality_checks (check_date, score, passed, report, created_at)
		VALUES ($1, $2, $3, $4, NOW())
		ON CONFLICT (check_date) DO UPDATE
		SET score = EXCLUDED.score, passed = EXCLUDED.passed, report = EXCLUDED.report, created_at = NOW()`,
		rep.CheckDate, rep.Score, rep.Passed, body)
	return wrapErr("upsert quality", err)
}

func (s *PGStore) GetQuality(ctx context.Context, date time.Time) (models.QualityReport, error) {
	var (
		rep  models.QualityReport
		body pgtype.JSONB
	)
	err := s.pool.QueryRow(ctx, `SELECT report FROM data_quality_checks WHERE check_date = $1`, date).Scan(&body)
	if err != nil {
		return rep, wrapErr("get quality", err)
	}
	return rep, fromJSONB(body, &rep)
}

func (s *PGStore) CreateRun(ctx context.Context, run *models.PipelineRun) error {
	details, err := toJSONB(run.Details)
	if err != nil {
		return err
	}
	_, err = s.pool.Exec(ctx, `
		INSERT INTO pipeline_runs (id, run_id, logical_date, stage, status, attempts, started_at, finished_at, error, details)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		run.ID, run.RunID, run.LogicalDate, string(run.Stage), string(run.Status), run.Attempts,
		run.StartedAt, run.FinishedAt, run.Error, details)
	return wrapErr("create pipeline run", err)
}

func (s *PGStore) UpdateRun(ctx context.Context, run *models.PipelineRun) error {
	details, err := toJSONB(run.Details)
	if err != nil {
		return err
	}
	tag, err := s.pool.Exec(ctx, `
		UPDATE pipeline_runs
		SET status = $2, attempts = $3, finished_at = $4, error = $5, details = $6
		WHERE id = $1`,
		run.ID, string(run.Status), run.Attempts, run.FinishedAt, run.Error, details)
	if err != nil {
		return wrapErr("update pipeline run", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("update pipeline run %s: %w", run.ID, models.ErrNotFound)
	}
	return nil
}

func (s *PGStore) ListRuns(ctx context.Context, date time.Time) ([]models.PipelineRun, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id::text, run_id, logical_date, stage, status, attempts, started_at, finished_at, error, details
		FROM pipeline_runs WHERE logical_date = $1
		ORDER BY started_at`, date)
	if err != nil {
		return nil, wrapErr("list pipeline runs", err)
	}
	defer rows.Close()

	var out []models.PipelineRun
	for rows.Next() {
		var (
			run           models.PipelineRun
			stage, status string
			details       pgtype.JSONB
		)
		if err := rows.Scan(&run.ID, &run.RunID, &run.LogicalDate, &stage, &status, &run.Attempts,
			&run.StartedAt, &run.FinishedAt, &run.Error, &details); err != nil {
			return nil, wrapErr("scan pipeline run", err)
		}
		run.Stage = models.Stage(stage)
		run.Status = models.RunStatus(status)
		if err := fromJSONB(details, &run.Details); err != nil {
			return nil, err
		}
		out = append(out, run)
	}
	return out, wrapErr("list pipeline runs", rows.Err())
}
