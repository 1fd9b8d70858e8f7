package usecase

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"QuantPipe/internal/domain/models"
	domrepo "QuantPipe/internal/domain/repository"
	mid "QuantPipe/internal/middleware"
	"QuantPipe/pkg/logger"
	"QuantPipe/pkg/util"
)

type RunnerConfig struct {
	MaxAttempts int
	BackoffBase time.Duration
	BackoffMax  time.Duration
	LockTTL     time.Duration
	// Location is the market time zone a missing date is resolved in.
	Location *time.Location
}

// Stages bundles the stage implementations the runner drives.
type Stages struct {
	Ingestion   *Ingestor
	Features    *FeatureBuilder
	Quality     *QualityChecker
	Signals     *SignalGenerator
	Performance *PerformanceEvaluator
}

// Runner executes the daily chain for one logical date.
type Runner struct {
	runs    domrepo.RunRepository
	locker  domrepo.Locker
	pub     domrepo.EventPublisher
	metrics domrepo.Metrics
	l       *logger.Logger
	cfg     RunnerConfig
	stages  map[models.Stage]mid.StageFunc
	after   map[models.Stage][]func(context.Context) error
	now     func() time.Time
	newID   func() string
	sleep   func(context.Context, time.Duration) error
}

func NewRunner(runs domrepo.RunRepository, locker domrepo.Locker, pub domrepo.EventPublisher, metrics domrepo.Metrics, l *logger.Logger, cfg RunnerConfig, st Stages) *Runner {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 3
	}
	if cfg.BackoffBase <= 0 {
		cfg.BackoffBase = 2 * time.Second
	}
	if cfg.BackoffMax <= 0 {
		cfg.BackoffMax = time.Minute
	}
	if cfg.LockTTL <= 0 {
		cfg.LockTTL = 2 * time.Hour
	}
	r := &Runner{
		runs:    runs,
		locker:  locker,
		pub:     pub,
		metrics: metrics,
		l:       l,
		cfg:     cfg,
		stages:  map[models.Stage]mid.StageFunc{},
		after:   map[models.Stage][]func(context.Context) error{},
		now:     time.Now,
		newID:   uuid.NewString,
	}
	if st.Ingestion != nil {
		r.stages[models.StageIngestion] = func(ctx context.Context, date time.Time) (models.StageResult, error) {
			res, err := st.Ingestion.Ingest(ctx, date, nil)
			return models.StageResult{Stage: models.StageIngestion, Details: res.Details()}, err
		}
	}
	if st.Features != nil {
		r.stages[models.StageFeatures] = func(ctx context.Context, date time.Time) (models.StageResult, error) {
			res, err := st.Features.ComputeFeatures(ctx, date)
			return models.StageResult{Stage: models.StageFeatures, Details: res.Details()}, err
		}
	}
	if st.Quality != nil {
		r.stages[models.StageQuality] = func(ctx context.Context, date time.Time) (models.StageResult, error) {
			rep, err := st.Quality.Validate(ctx, date)
			return models.StageResult{Stage: models.StageQuality, Details: map[string]interface{}{
				"score":  rep.Score,
				"passed": rep.Passed,
				"issues": rep.Issues,
			}}, err
		}
	}
	if st.Signals != nil {
		r.stages[models.StageSignals] = func(ctx context.Context, date time.Time) (models.StageResult, error) {
			s, err := st.Signals.GenerateSignals(ctx, date)
			return models.StageResult{Stage: models.StageSignals, Details: map[string]interface{}{
				"models_executed":  s.ModelsExecuted,
				"models_succeeded": s.ModelsSucceeded,
				"total_signals":    s.TotalSignals,
				"alerts":           s.Alerts,
			}}, err
		}
	}
	if st.Performance != nil {
		r.stages[models.StagePerformance] = func(ctx context.Context, date time.Time) (models.StageResult, error) {
			rep, err := st.Performance.EvaluatePerformance(ctx, date)
			return models.StageResult{Stage: models.StagePerformance, Details: map[string]interface{}{
				"total_models":    rep.TotalModels,
				"underperforming": rep.Underperforming,
			}}, err
		}
	}
	return r
}

// AfterStage registers fn to run each time stage completes successfully.
// Hook errors are logged and never fail the stage.
func (r *Runner) AfterStage(stage models.Stage, fn func(context.Context) error) {
	r.after[stage] = append(r.after[stage], fn)
}

// Run executes the requested stages in order. The first failing stage stops
// the chain and every later stage is recorded as skipped.
func (r *Runner) Run(ctx context.Context, req models.RunRequest) ([]models.PipelineRun, error) {
	if req.Date.IsZero() {
		req.Date = util.MarketDay(r.now(), r.cfg.Location)
	}
	req.Date = util.Day(req.Date)
	if req.RunID == "" {
		req.RunID = r.newID()
	}
	l := r.l.With(logger.String("run_id", req.RunID), logger.String("date", util.FormatDate(req.Date)))
	l.Info("pipeline run started", logger.String("trigger", req.Trigger))

	var (
		out    []models.PipelineRun
		failed error
	)
	for _, stage := range req.Ordered() {
		if failed != nil {
			run := r.skip(ctx, req, stage)
			out = append(out, run)
			continue
		}
		run, err := r.runStage(ctx, req, stage, l)
		out = append(out, run)
		if err != nil {
			failed = fmt.Errorf("stage %s: %w", stage, err)
		}
	}
	if failed != nil {
		l.Error("pipeline run failed", logger.Error(failed))
		return out, failed
	}
	l.Info("pipeline run completed", logger.Int("stages", len(out)))
	return out, nil
}

func lockKey(stage models.Stage, date time.Time) string {
	return fmt.Sprintf("pipeline:lock:%s:%s", stage, util.FormatDate(date))
}

func (r *Runner) runStage(ctx context.Context, req models.RunRequest, stage models.Stage, l *logger.Logger) (models.PipelineRun, error) {
	run := models.PipelineRun{
		ID:          r.newID(),
		RunID:       req.RunID,
		LogicalDate: req.Date,
		Stage:       stage,
		Status:      models.StatusRunning,
		StartedAt:   r.now().UTC(),
	}

	fn, ok := r.stages[stage]
	if !ok {
		err := fmt.Errorf("stage %s is not configured", stage)
		return r.finish(ctx, run, models.StageResult{}, err), err
	}

	key := lockKey(stage, req.Date)
	acquired, err := r.locker.TryLock(ctx, key, r.cfg.LockTTL)
	if err != nil {
		err = fmt.Errorf("acquire lock: %w", err)
		return r.finish(ctx, run, models.StageResult{}, err), err
	}
	if !acquired {
		err = fmt.Errorf("%s for %s: %w", stage, util.FormatDate(req.Date), models.ErrLocked)
		return r.finish(ctx, run, models.StageResult{}, err), err
	}
	defer func() {
		if err := r.locker.Unlock(context.WithoutCancel(ctx), key); err != nil {
			l.Warn("release stage lock failed", logger.String("key", key), logger.Error(err))
		}
	}()

	if err := r.runs.CreateRun(ctx, &run); err != nil {
		l.Warn("record pipeline run failed", logger.String("stage", string(stage)), logger.Error(err))
	}

	chained := mid.Chain(fn,
		mid.Retry(mid.RetryPolicy{
			MaxAttempts: r.cfg.MaxAttempts,
			BackoffBase: r.cfg.BackoffBase,
			BackoffMax:  r.cfg.BackoffMax,
			Sleep:       r.sleep,
			OnAttempt: func(attempt int, err error) {
				run.Attempts = attempt
				if err != nil {
					run.Error = err.Error()
					l.Warn("stage attempt failed",
						logger.String("stage", string(stage)),
						logger.Int("attempt", attempt),
						logger.Error(err))
				}
				r.save(ctx, &run)
			},
		}),
		mid.Logging(l, stage),
		mid.Timing(r.metrics, stage),
	)
	res, err := chained(ctx, req.Date)
	if err == nil {
		for _, hook := range r.after[stage] {
			if herr := hook(ctx); herr != nil {
				l.Warn("after-stage hook failed", logger.String("stage", string(stage)), logger.Error(herr))
			}
		}
	}
	return r.finish(ctx, run, res, err), err
}

func (r *Runner) finish(ctx context.Context, run models.PipelineRun, res models.StageResult, err error) models.PipelineRun {
	finished := r.now().UTC()
	run.FinishedAt = &finished
	run.Details = res.Details
	ev := models.PipelineEvent{
		Type:        models.EventStageCompleted,
		RunID:       run.RunID,
		LogicalDate: util.FormatDate(run.LogicalDate),
		Stage:       run.Stage,
		Payload:     res.Details,
		EmittedAt:   finished,
	}
	if err != nil {
		run.Status = models.StatusFailed
		run.Error = err.Error()
		ev.Type = models.EventStageFailed
		ev.Error = run.Error
	} else {
		run.Status = models.StatusCompleted
		run.Error = ""
	}

	r.save(ctx, &run)
	if perr := r.pub.PublishEvent(ctx, ev); perr != nil {
		r.l.Warn("publish stage event failed", logger.Error(perr))
	}
	return run
}

// save updates the run row, inserting it when an earlier insert was lost.
func (r *Runner) save(ctx context.Context, run *models.PipelineRun) {
	err := r.runs.UpdateRun(ctx, run)
	if errors.Is(err, models.ErrNotFound) {
		err = r.runs.CreateRun(ctx, run)
	}
	if err != nil {
		r.l.Warn("record pipeline run failed", logger.String("stage", string(run.Stage)), logger.Error(err))
	}
}

func (r *Runner) skip(ctx context.Context, req models.RunRequest, stage models.Stage) models.PipelineRun {
	now := r.now().UTC()
	run := models.PipelineRun{
		ID:          r.newID(),
		RunID:       req.RunID,
		LogicalDate: req.Date,
		Stage:       stage,
		Status:      models.StatusSkipped,
		StartedAt:   now,
		FinishedAt:  &now,
		Error:       "upstream stage failed",
	}
	if err := r.runs.CreateRun(ctx, &run); err != nil {
		r.l.Warn("record skipped stage failed", logger.Error(err))
	}
	r.metrics.RecordStage(string(stage), string(models.StatusSkipped), 0)
	return run
}
