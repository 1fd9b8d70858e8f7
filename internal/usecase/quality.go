package usecase

import (
	"context"
	"fmt"
	"time"

	"gonum.org/v1/gonum/stat"

	"QuantPipe/internal/domain/models"
	domrepo "QuantPipe/internal/domain/repository"
	"QuantPipe/pkg/logger"
	"QuantPipe/pkg/util"
)

type QualityStore interface {
	domrepo.UniverseRepository
	domrepo.BarRepository
	domrepo.FeatureRepository
	domrepo.QualityRepository
}

type QualityConfig struct {
	FeatureSet       string
	MinCompleteness  float64
	MaxStalenessDays int
}

// QualityChecker scores bar and feature coverage for a date.
type QualityChecker struct {
	store   QualityStore
	pub     domrepo.EventPublisher
	metrics domrepo.Metrics
	l       *logger.Logger
	cfg     QualityConfig
}

func NewQualityChecker(store QualityStore, pub domrepo.EventPublisher, metrics domrepo.Metrics, l *logger.Logger, cfg QualityConfig) *QualityChecker {
	if cfg.FeatureSet == "" {
		cfg.FeatureSet = models.DefaultFeatureSet
	}
	if cfg.MinCompleteness <= 0 {
		cfg.MinCompleteness = 0.8
	}
	if cfg.MaxStalenessDays <= 0 {
		cfg.MaxStalenessDays = 1
	}
	return &QualityChecker{store: store, pub: pub, metrics: metrics, l: l, cfg: cfg}
}

// Validate builds and stores the quality report. A failing check is not an
// error; only store access errors are returned.
func (q *QualityChecker) Validate(ctx context.Context, date time.Time) (models.QualityReport, error) {
	date = util.Day(date)
	rep := models.QualityReport{CheckDate: date}

	universe, err := q.store.ActiveSymbols(ctx)
	if err != nil {
		return rep, fmt.Errorf("load universe: %w", err)
	}
	if rep.BarsPresent, err = q.store.CountBarsOn(ctx, date); err != nil {
		return rep, fmt.Errorf("count bars: %w", err)
	}
	if rep.FeaturesPresent, err = q.store.CountFeaturesOn(ctx, date, q.cfg.FeatureSet); err != nil {
		return rep, fmt.Errorf("count features: %w", err)
	}
	latest, ok, err := q.store.LatestDate(ctx)
	if err != nil {
		return rep, fmt.Errorf("latest bar date: %w", err)
	}

	rep.ExpectedSymbols = len(universe)
	if rep.ExpectedSymbols > 0 {
		rep.BarCompleteness = float64(rep.BarsPresent) / float64(rep.ExpectedSymbols)
		rep.FeatureCompleteness = float64(rep.FeaturesPresent) / float64(rep.ExpectedSymbols)
	} else {
		rep.Issues = append(rep.Issues, "active universe is empty")
	}

	fresh := false
	if ok {
		rep.LatestBarDate = util.Day(latest)
		rep.StalenessDays = max(0, util.DaysBetween(latest, date))
		fresh = rep.StalenessDays <= q.cfg.MaxStalenessDays
		if !fresh {
			rep.Issues = append(rep.Issues, fmt.Sprintf("latest bar is %d days old", rep.StalenessDays))
		}
	} else {
		rep.Issues = append(rep.Issues, "no bars stored")
	}

	if rep.ExpectedSymbols > 0 && rep.BarCompleteness < q.cfg.MinCompleteness {
		rep.Issues = append(rep.Issues, fmt.Sprintf("bar completeness %.1f%% below threshold", rep.BarCompleteness*100))
	}
	if rep.ExpectedSymbols > 0 && rep.FeatureCompleteness < q.cfg.MinCompleteness {
		rep.Issues = append(rep.Issues, fmt.Sprintf("feature completeness %.1f%% below threshold", rep.FeatureCompleteness*100))
	}

	freshness := 0.0
	if fresh {
		freshness = 1
	}
	rep.Score = 100 * stat.Mean([]float64{rep.BarCompleteness, rep.FeatureCompleteness, freshness}, nil)
	rep.Passed = len(rep.Issues) == 0

	if err := q.store.UpsertQuality(ctx, rep); err != nil {
		return rep, fmt.Errorf("store quality report: %w", err)
	}
	q.metrics.RecordQualityScore(rep.Score)

	fields := []logger.Field{
		logger.String("date", util.FormatDate(date)),
		logger.Float64("score", rep.Score),
		logger.Float64("bar_completeness", rep.BarCompleteness),
		logger.Float64("feature_completeness", rep.FeatureCompleteness),
		logger.Int("staleness_days", rep.StalenessDays),
	}
	if rep.Passed {
		q.l.Info("data quality check passed", fields...)
	} else {
		q.metrics.RecordError("quality_check_failed")
		q.l.Error("data quality check failed", append(fields, logger.Strings("issues", rep.Issues))...)
	}

	ev := models.PipelineEvent{
		Type:        models.EventQualityReport,
		LogicalDate: util.FormatDate(date),
		Stage:       models.StageQuality,
		Payload:     rep,
		EmittedAt:   time.Now().UTC(),
	}
	if err := q.pub.PublishEvent(ctx, ev); err != nil {
		q.l.Warn("publish quality event failed", logger.Error(err))
	}
	return rep, nil
}
