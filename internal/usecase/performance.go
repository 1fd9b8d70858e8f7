package usecase

import (
	"context"
	"errors"
	"fmt"
	"time"

	"QuantPipe/internal/domain/models"
	domrepo "QuantPipe/internal/domain/repository"
	"QuantPipe/internal/services/performance"
	"QuantPipe/pkg/logger"
	"QuantPipe/pkg/util"
)

type PerformanceStore interface {
	domrepo.BarRepository
	domrepo.ModelRepository
	domrepo.SignalRepository
	domrepo.PerformanceRepository
}

type PerformanceConfig struct {
	WindowDays        int
	HoldingDays       int
	MinSignals        int
	UnderperformBelow float64
}

// PerformanceEvaluator resolves past signals against later closes and
// ranks the models.
type PerformanceEvaluator struct {
	store   PerformanceStore
	pub     domrepo.EventPublisher
	metrics domrepo.Metrics
	l       *logger.Logger
	cfg     PerformanceConfig
	now     func() time.Time
}

func NewPerformanceEvaluator(store PerformanceStore, pub domrepo.EventPublisher, metrics domrepo.Metrics, l *logger.Logger, cfg PerformanceConfig) *PerformanceEvaluator {
	if cfg.WindowDays <= 0 {
		cfg.WindowDays = 30
	}
	if cfg.HoldingDays <= 0 {
		cfg.HoldingDays = 5
	}
	if cfg.MinSignals <= 0 {
		cfg.MinSignals = 10
	}
	if cfg.UnderperformBelow == 0 {
		cfg.UnderperformBelow = -0.02
	}
	return &PerformanceEvaluator{store: store, pub: pub, metrics: metrics, l: l, cfg: cfg, now: time.Now}
}

// EvaluatePerformance writes one PerformanceRecord per model with at least
// one resolvable trade, then the ranked report for date.
func (e *PerformanceEvaluator) EvaluatePerformance(ctx context.Context, date time.Time) (models.PerformanceReport, error) {
	if date.IsZero() {
		date = util.MostRecentTradingDay(e.now())
	}
	date = util.Day(date)
	windowStart := date.AddDate(0, 0, -e.cfg.WindowDays)

	active, err := e.store.ActiveModels(ctx)
	if err != nil {
		return models.PerformanceReport{}, fmt.Errorf("load models: %w", err)
	}

	records := make([]models.PerformanceRecord, 0, len(active))
	for _, m := range active {
		rec, ok, err := e.evaluateModel(ctx, m, windowStart, date)
		if err != nil {
			return models.PerformanceReport{}, fmt.Errorf("evaluate %s: %w", m.Name, err)
		}
		if !ok {
			continue
		}
		if err := e.store.UpsertPerformance(ctx, rec); err != nil {
			return models.PerformanceReport{}, fmt.Errorf("store performance %s: %w", m.Name, err)
		}
		e.metrics.RecordModelSharpe(m.Name, rec.Sharpe)
		records = append(records, rec)
	}

	report := performance.BuildReport(date, records, performance.ReportOptions{
		MinSignals:        e.cfg.MinSignals,
		UnderperformBelow: e.cfg.UnderperformBelow,
	})
	report.CreatedAt = e.now().UTC()
	if err := e.store.UpsertReport(ctx, report); err != nil {
		return report, fmt.Errorf("store report: %w", err)
	}
	e.publish(ctx, report)
	return report, nil
}

func (e *PerformanceEvaluator) evaluateModel(ctx context.Context, m models.Model, from, to time.Time) (models.PerformanceRecord, bool, error) {
	sigs, err := e.store.ListSignals(ctx, domrepo.SignalFilter{ModelID: m.ID, From: from, To: to})
	if err != nil {
		return models.PerformanceRecord{}, false, err
	}

	trades := make([]models.TradeOutcome, 0, len(sigs))
	excluded := 0
	for _, sig := range sigs {
		if sig.Kind.Direction() == 0 {
			continue
		}
		entry, exit, ok, err := e.prices(ctx, sig, to)
		if err != nil {
			return models.PerformanceRecord{}, false, err
		}
		if !ok {
			excluded++
			continue
		}
		if t, ok := performance.Outcome(sig, entry, exit); ok {
			trades = append(trades, t)
		} else {
			excluded++
		}
	}
	if excluded > 0 {
		e.l.Info("signals excluded from evaluation",
			logger.String("model", m.Name),
			logger.Int("excluded", excluded),
			logger.Int("holding_days", e.cfg.HoldingDays))
	}

	rec, ok := performance.Evaluate(trades)
	if !ok {
		e.l.Info("no resolvable trades", logger.String("model", m.Name), logger.Int("signals", len(sigs)))
		return rec, false, nil
	}
	rec.ModelID = m.ID
	rec.ModelName = m.Name
	rec.EvaluationDate = to
	rec.WindowStart = from
	rec.WindowEnd = to
	rec.ExcludedSignals = excluded
	return rec, true, nil
}

// prices returns the entry close on the signal date and the close
// HoldingDays bars later, provided that bar is not after asOf.
func (e *PerformanceEvaluator) prices(ctx context.Context, sig models.SignalRecord, asOf time.Time) (float64, float64, bool, error) {
	entry, err := e.store.GetBar(ctx, sig.Symbol, sig.Date)
	if errors.Is(err, models.ErrNotFound) {
		return 0, 0, false, nil
	}
	if err != nil {
		return 0, 0, false, err
	}
	after, err := e.store.BarsAfter(ctx, sig.Symbol, sig.Date, e.cfg.HoldingDays)
	if err != nil {
		return 0, 0, false, err
	}
	if len(after) < e.cfg.HoldingDays {
		return 0, 0, false, nil
	}
	exit := after[e.cfg.HoldingDays-1]
	if exit.Date.After(asOf) {
		return 0, 0, false, nil
	}
	return entry.Close, exit.Close, true, nil
}

func (e *PerformanceEvaluator) publish(ctx context.Context, report models.PerformanceReport) {
	fields := []logger.Field{
		logger.String("date", util.FormatDate(report.ReportDate)),
		logger.Int("models", report.TotalModels),
		logger.Float64("avg_return", report.AvgReturnAll),
	}
	if report.BestModel != nil {
		fields = append(fields,
			logger.String("best", report.BestModel.ModelName),
			logger.String("worst", report.WorstModel.ModelName))
	}
	if len(report.Underperforming) > 0 {
		fields = append(fields, logger.Strings("underperforming", report.Underperforming))
	}
	e.l.Info("performance report", fields...)

	if err := e.pub.PublishReport(ctx, report); err != nil {
		e.metrics.RecordError("publish_report")
		e.l.Warn("publish report failed", logger.Error(err))
	}
	ev := models.PipelineEvent{
		Type:        models.EventPerformanceReport,
		LogicalDate: util.FormatDate(report.ReportDate),
		Stage:       models.StagePerformance,
		Payload:     report,
		EmittedAt:   e.now().UTC(),
	}
	if err := e.pub.PublishEvent(ctx, ev); err != nil {
		e.l.Warn("publish performance event failed", logger.Error(err))
	}
}
