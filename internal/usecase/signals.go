package usecase

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"QuantPipe/internal/domain/models"
	domrepo "QuantPipe/internal/domain/repository"
	"QuantPipe/internal/domain/service"
	"QuantPipe/internal/services/strategy"
	"QuantPipe/pkg/logger"
	"QuantPipe/pkg/util"
)

type SignalStore interface {
	domrepo.UniverseRepository
	domrepo.BarRepository
	domrepo.FeatureRepository
	domrepo.ModelRepository
	domrepo.SignalRepository
}

type SignalConfig struct {
	FeatureSet     string
	EmitHold       bool
	MinSuccessRate float64
}

// SignalGenerator runs every active model over the day's features.
type SignalGenerator struct {
	store   SignalStore
	pub     domrepo.EventPublisher
	mirror  domrepo.BarMirror
	metrics domrepo.Metrics
	l       *logger.Logger
	cfg     SignalConfig
	now     func() time.Time
	newID   func() string
}

// NewSignalGenerator builds a SignalGenerator. mirror may be nil.
func NewSignalGenerator(store SignalStore, pub domrepo.EventPublisher, mirror domrepo.BarMirror, metrics domrepo.Metrics, l *logger.Logger, cfg SignalConfig) *SignalGenerator {
	if cfg.FeatureSet == "" {
		cfg.FeatureSet = models.DefaultFeatureSet
	}
	if cfg.MinSuccessRate <= 0 {
		cfg.MinSuccessRate = 0.8
	}
	return &SignalGenerator{
		store:   store,
		pub:     pub,
		mirror:  mirror,
		metrics: metrics,
		l:       l,
		cfg:     cfg,
		now:     time.Now,
		newID:   uuid.NewString,
	}
}

// RegisterModels upserts the built-in presets followed by extra models.
// Extra models with invalid parameters are rejected.
func RegisterModels(ctx context.Context, repo domrepo.ModelRepository, extra []models.Model, l *logger.Logger) error {
	all := append(strategy.Presets(), extra...)
	for i := range all {
		m := all[i]
		if _, err := strategy.FromModel(m); err != nil {
			return err
		}
		if err := repo.UpsertModel(ctx, &m); err != nil {
			return fmt.Errorf("register model %s: %w", m.Name, err)
		}
		l.Info("model registered",
			logger.String("model", m.Name),
			logger.String("version", m.Version),
			logger.Int64("id", m.ID),
			logger.Bool("active", m.Active))
	}
	return nil
}

// GenerateSignals evaluates all active models for date. Model failures are
// recorded on their run and do not stop other models; store outages do.
func (g *SignalGenerator) GenerateSignals(ctx context.Context, date time.Time) (models.ExecutionSummary, error) {
	if date.IsZero() {
		date = util.MostRecentTradingDay(g.now())
	}
	date = util.Day(date)
	summary := models.ExecutionSummary{Date: date}

	active, err := g.store.ActiveModels(ctx)
	if err != nil {
		return summary, fmt.Errorf("load models: %w", err)
	}
	universe, err := g.store.ActiveSymbols(ctx)
	if err != nil {
		return summary, fmt.Errorf("load universe: %w", err)
	}
	current, err := g.store.ListFeaturesOn(ctx, date, g.cfg.FeatureSet)
	if err != nil {
		return summary, fmt.Errorf("load features: %w", err)
	}
	sort.Slice(current, func(i, j int) bool { return current[i].Symbol < current[j].Symbol })

	windows, err := g.windows(ctx, date, current)
	if err != nil {
		return summary, err
	}

	var emitted []models.SignalRecord
	for _, m := range active {
		summary.ModelsExecuted++
		sigs, err := g.runModel(ctx, m, date, len(universe), windows)
		if err != nil {
			if errors.Is(err, models.ErrStoreUnavailable) {
				return summary, fmt.Errorf("model %s: %w", m.Name, err)
			}
			g.metrics.RecordError("model_run")
			g.l.Error("model run failed", logger.String("model", m.Name), logger.Error(err))
			continue
		}
		summary.ModelsSucceeded++
		summary.TotalSignals += len(sigs)
		if len(sigs) == 0 {
			summary.ModelsWithoutSigs = append(summary.ModelsWithoutSigs, m.Name)
		}
		emitted = append(emitted, sigs...)
	}

	g.finishSummary(&summary)
	g.report(ctx, summary, emitted)
	return summary, nil
}

// windows pairs each current record with the previous one and the close.
// Symbols without a previous record or a bar are left out.
func (g *SignalGenerator) windows(ctx context.Context, date time.Time, current []models.FeatureRecord) ([]service.FeatureWindow, error) {
	out := make([]service.FeatureWindow, 0, len(current))
	for _, rec := range current {
		prev, err := g.store.PreviousFeatures(ctx, rec.Symbol, date, g.cfg.FeatureSet)
		if errors.Is(err, models.ErrNotFound) {
			g.l.Debug("no previous features", logger.String("symbol", rec.Symbol))
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("previous features %s: %w", rec.Symbol, err)
		}
		bar, err := g.store.GetBar(ctx, rec.Symbol, date)
		if errors.Is(err, models.ErrNotFound) {
			g.l.Warn("feature record without bar", logger.String("symbol", rec.Symbol))
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("bar %s: %w", rec.Symbol, err)
		}
		out = append(out, service.FeatureWindow{
			Symbol:   rec.Symbol,
			Current:  rec.Values,
			Previous: prev.Values,
			Close:    bar.Close,
		})
	}
	return out, nil
}

func (g *SignalGenerator) runModel(ctx context.Context, m models.Model, date time.Time, universeSize int, windows []service.FeatureWindow) ([]models.SignalRecord, error) {
	run := &models.ModelRun{
		ID:           g.newID(),
		ModelID:      m.ID,
		RunDate:      date,
		Status:       models.StatusRunning,
		UniverseSize: universeSize,
		StartedAt:    g.now().UTC(),
	}
	if err := g.store.StartRun(ctx, run); err != nil {
		return nil, fmt.Errorf("start run: %w", err)
	}

	strat, err := strategy.FromModel(m)
	if err != nil {
		return nil, g.fail(ctx, run, err)
	}

	sigs := make([]models.SignalRecord, 0)
	counts := map[models.SignalKind]int{}
	for _, w := range windows {
		d, ok := strat.Evaluate(w)
		if !ok {
			continue
		}
		counts[d.Kind]++
		if d.Kind == models.SignalHold && !g.cfg.EmitHold {
			continue
		}
		meta := d.Metadata
		if meta == nil {
			meta = map[string]interface{}{}
		}
		meta["model"] = m.Name
		sigs = append(sigs, models.SignalRecord{
			ModelID:      m.ID,
			ModelRunID:   run.ID,
			Symbol:       w.Symbol,
			Date:         date,
			Kind:         d.Kind,
			Strength:     d.Strength,
			Confidence:   d.Confidence,
			TargetPrice:  d.TargetPrice,
			Price:        w.Close,
			PositionSize: d.PositionSize,
			Metadata:     meta,
			CreatedAt:    g.now().UTC(),
		})
	}

	run.Metadata = map[string]interface{}{
		"evaluated": len(windows),
		"buy":       counts[models.SignalBuy],
		"sell":      counts[models.SignalSell],
		"hold":      counts[models.SignalHold],
	}
	inserted, err := g.store.CompleteRun(ctx, run, sigs)
	if err != nil {
		return nil, g.fail(ctx, run, err)
	}
	for kind, n := range counts {
		if kind == models.SignalHold && !g.cfg.EmitHold {
			continue
		}
		g.metrics.RecordSignals(m.Name, string(kind), n)
	}
	g.l.Info("model run completed",
		logger.String("model", m.Name),
		logger.String("run_id", run.ID),
		logger.Int("signals", len(sigs)),
		logger.Int("inserted", inserted))
	return sigs, nil
}

func (g *SignalGenerator) fail(ctx context.Context, run *models.ModelRun, cause error) error {
	run.Errors++
	if run.Metadata == nil {
		run.Metadata = map[string]interface{}{}
	}
	run.Metadata["error"] = cause.Error()
	if err := g.store.FailRun(ctx, run); err != nil {
		g.l.Warn("mark run failed", logger.String("run_id", run.ID), logger.Error(err))
	}
	return cause
}

func (g *SignalGenerator) finishSummary(s *models.ExecutionSummary) {
	if s.ModelsExecuted > 0 {
		s.SuccessRate = float64(s.ModelsSucceeded) / float64(s.ModelsExecuted)
	}
	if s.SuccessRate < g.cfg.MinSuccessRate {
		s.Alerts = append(s.Alerts, fmt.Sprintf("model success rate %.1f%% below %.0f%%", s.SuccessRate*100, g.cfg.MinSuccessRate*100))
	}
	if len(s.ModelsWithoutSigs) > 0 {
		s.Alerts = append(s.Alerts, "models without signals: "+strings.Join(s.ModelsWithoutSigs, ", "))
	}
	if s.TotalSignals == 0 {
		s.Alerts = append(s.Alerts, "no signals generated")
	}
}

func (g *SignalGenerator) report(ctx context.Context, s models.ExecutionSummary, emitted []models.SignalRecord) {
	fields := []logger.Field{
		logger.String("date", util.FormatDate(s.Date)),
		logger.Int("models_executed", s.ModelsExecuted),
		logger.Int("models_succeeded", s.ModelsSucceeded),
		logger.Float64("success_rate", s.SuccessRate),
		logger.Int("total_signals", s.TotalSignals),
	}
	if len(s.Alerts) > 0 {
		g.l.Warn("signal execution summary", append(fields, logger.Strings("alerts", s.Alerts))...)
	} else {
		g.l.Info("signal execution summary", fields...)
	}

	ev := models.PipelineEvent{
		Type:        models.EventExecutionSummary,
		LogicalDate: util.FormatDate(s.Date),
		Stage:       models.StageSignals,
		Payload:     s,
		EmittedAt:   g.now().UTC(),
	}
	if err := g.pub.PublishEvent(ctx, ev); err != nil {
		g.l.Warn("publish execution summary failed", logger.Error(err))
	}
	if len(emitted) == 0 {
		return
	}
	if err := g.pub.PublishSignals(ctx, emitted); err != nil {
		g.metrics.RecordError("publish_signals")
		g.l.Warn("publish signals failed", logger.Int("signals", len(emitted)), logger.Error(err))
	}
	if g.mirror != nil {
		if err := g.mirror.MirrorSignals(ctx, emitted); err != nil {
			g.metrics.RecordError("mirror_signals")
			g.l.Warn("mirror signals failed", logger.Error(err))
		}
	}
}
