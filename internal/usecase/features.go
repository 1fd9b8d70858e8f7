package usecase

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"QuantPipe/internal/domain/models"
	domrepo "QuantPipe/internal/domain/repository"
	"QuantPipe/internal/services/features"
	"QuantPipe/internal/services/strategy"
	"QuantPipe/pkg/logger"
	"QuantPipe/pkg/util"
)

// FeatureStore is the part of the store the feature stage touches.
type FeatureStore interface {
	domrepo.UniverseRepository
	domrepo.BarRepository
	domrepo.FeatureRepository
	domrepo.ModelRepository
}

type FeatureConfig struct {
	FeatureSet   string
	LookbackDays int
	Workers      int
}

// FeatureResult summarises one feature run.
type FeatureResult struct {
	Date         time.Time `json:"date"`
	FeatureSet   string    `json:"feature_set"`
	Computed     int       `json:"computed"`
	SkippedNoBar int       `json:"skipped_no_bar"`
	Failed       int       `json:"failed"`
}

func (r FeatureResult) Details() map[string]interface{} {
	return map[string]interface{}{
		"feature_set":    r.FeatureSet,
		"computed":       r.Computed,
		"skipped_no_bar": r.SkippedNoBar,
		"failed":         r.Failed,
	}
}

// FeatureBuilder computes the technical feature set from stored bars.
type FeatureBuilder struct {
	store   FeatureStore
	metrics domrepo.Metrics
	l       *logger.Logger
	cfg     FeatureConfig
	now     func() time.Time
}

func NewFeatureBuilder(store FeatureStore, metrics domrepo.Metrics, l *logger.Logger, cfg FeatureConfig) *FeatureBuilder {
	if cfg.FeatureSet == "" {
		cfg.FeatureSet = models.DefaultFeatureSet
	}
	if cfg.LookbackDays <= 0 {
		cfg.LookbackDays = 120
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 4
	}
	return &FeatureBuilder{store: store, metrics: metrics, l: l, cfg: cfg, now: time.Now}
}

// Spec returns the base indicator spec widened by every active model's inputs.
func (b *FeatureBuilder) Spec(ctx context.Context) (features.Spec, error) {
	spec := features.DefaultSpec()
	active, err := b.store.ActiveModels(ctx)
	if err != nil {
		return spec, fmt.Errorf("load models: %w", err)
	}
	for _, m := range active {
		strat, err := strategy.FromModel(m)
		if err != nil {
			b.l.Warn("model ignored for features", logger.String("model", m.Name), logger.Error(err))
			continue
		}
		extra, err := features.SpecFromNames(strat.RequiredFeatures())
		if err != nil {
			b.l.Warn("model features not understood", logger.String("model", m.Name), logger.Error(err))
			continue
		}
		spec = spec.Merge(extra)
	}
	return spec, nil
}

// lookback converts the bar requirement into calendar days, with room for
// weekends and holidays.
func (b *FeatureBuilder) lookback(spec features.Spec) int {
	need := spec.MaxLookback()*7/5 + 10
	if need > b.cfg.LookbackDays {
		return need
	}
	return b.cfg.LookbackDays
}

// ComputeFeatures writes one FeatureRecord per active symbol that has a bar
// on date. A zero date means the most recent trading day.
func (b *FeatureBuilder) ComputeFeatures(ctx context.Context, date time.Time) (FeatureResult, error) {
	if date.IsZero() {
		date = util.MostRecentTradingDay(b.now())
	}
	date = util.Day(date)
	res := FeatureResult{Date: date, FeatureSet: b.cfg.FeatureSet}

	spec, err := b.Spec(ctx)
	if err != nil {
		return res, err
	}
	universe, err := b.store.ActiveSymbols(ctx)
	if err != nil {
		return res, fmt.Errorf("load universe: %w", err)
	}
	symbols := make([]string, 0, len(universe))
	for _, s := range universe {
		symbols = append(symbols, s.Symbol)
	}
	from := date.AddDate(0, 0, -b.lookback(spec))

	var (
		mu       sync.Mutex
		storeErr error
	)
	forEachSymbol(ctx, b.cfg.Workers, symbols, func(ctx context.Context, sym string) {
		ok, err := b.computeSymbol(ctx, sym, from, date, spec)
		mu.Lock()
		defer mu.Unlock()
		switch {
		case err != nil:
			res.Failed++
			// every computeSymbol error comes from the store
			if storeErr == nil || (errors.Is(err, models.ErrStoreUnavailable) && !errors.Is(storeErr, models.ErrStoreUnavailable)) {
				storeErr = err
			}
			b.metrics.RecordSymbolFailure(string(models.StageFeatures), models.ErrorKind(err))
			b.l.Warn("feature computation failed", logger.String("symbol", sym), logger.Error(err))
		case !ok:
			res.SkippedNoBar++
			b.l.Debug("no bar on date, features skipped", logger.String("symbol", sym))
		default:
			res.Computed++
		}
	})
	if err := ctx.Err(); err != nil {
		return res, err
	}

	b.l.Info("features computed",
		logger.String("date", util.FormatDate(date)),
		logger.String("feature_set", res.FeatureSet),
		logger.Int("computed", res.Computed),
		logger.Int("skipped_no_bar", res.SkippedNoBar),
		logger.Int("failed", res.Failed))

	if storeErr != nil {
		return res, fmt.Errorf("features: %w", storeErr)
	}
	return res, nil
}

func (b *FeatureBuilder) computeSymbol(ctx context.Context, sym string, from, date time.Time, spec features.Spec) (bool, error) {
	bars, err := b.store.ListBars(ctx, sym, from, date)
	if err != nil {
		return false, fmt.Errorf("load bars %s: %w", sym, err)
	}
	if len(bars) == 0 || !util.Day(bars[len(bars)-1].Date).Equal(date) {
		return false, nil
	}
	rec := models.FeatureRecord{
		Symbol:     sym,
		Date:       date,
		FeatureSet: b.cfg.FeatureSet,
		Values:     features.Compute(bars, spec),
		ComputedAt: b.now().UTC(),
	}
	if err := b.store.UpsertFeatures(ctx, rec); err != nil {
		return false, fmt.Errorf("store features %s: %w", sym, err)
	}
	return true, nil
}
