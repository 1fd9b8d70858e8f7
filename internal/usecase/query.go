package usecase

import (
	"context"
	"errors"
	"fmt"
	"time"

	"QuantPipe/internal/domain/models"
	domrepo "QuantPipe/internal/domain/repository"
	"QuantPipe/pkg/cache"
	"QuantPipe/pkg/logger"
	"QuantPipe/pkg/util"
)

const (
	defaultBarLimit = 500
	maxBarLimit     = 50000
	reportKeyPrefix = "report"
)

// QueryUseCase serves read access to everything the pipeline stores.
// Performance reports go through the cache when one is configured.
type QueryUseCase struct {
	store     domrepo.Store
	cache     cache.Service
	reportTTL time.Duration
	l         *logger.Logger
}

// NewQueryUseCase builds the read side. cache may be nil.
func NewQueryUseCase(store domrepo.Store, c cache.Service, reportTTL time.Duration, l *logger.Logger) *QueryUseCase {
	if reportTTL <= 0 {
		reportTTL = 5 * time.Minute
	}
	if l == nil {
		l = logger.NewNop()
	}
	return &QueryUseCase{store: store, cache: c, reportTTL: reportTTL, l: l}
}

type GetBarsParams struct {
	Symbol string
	From   time.Time
	To     time.Time
	Limit  int
}

type GetBarsResult struct {
	Symbol string             `json:"symbol"`
	From   time.Time          `json:"from"`
	To     time.Time          `json:"to"`
	Count  int                `json:"count"`
	Bars   []models.MarketBar `json:"bars"`
}

// GetBars returns bars for one symbol, oldest first. A zero To means the
// newest stored day and a zero From means one year before To.
func (uc *QueryUseCase) GetBars(ctx context.Context, p GetBarsParams) (*GetBarsResult, error) {
	p.Symbol = util.NormalizeSymbol(p.Symbol)
	if p.Symbol == "" {
		return nil, fmt.Errorf("%w: symbol required", models.ErrInvalidQuery)
	}
	if p.To.IsZero() {
		latest, ok, err := uc.store.LatestBarDate(ctx, p.Symbol)
		if err != nil {
			return nil, fmt.Errorf("latest bar date: %w", err)
		}
		if !ok {
			return nil, fmt.Errorf("bars for %s: %w", p.Symbol, models.ErrNotFound)
		}
		p.To = latest
	}
	p.To = util.Day(p.To)
	if p.From.IsZero() {
		p.From = p.To.AddDate(-1, 0, 0)
	}
	p.From = util.Day(p.From)
	if p.From.After(p.To) {
		return nil, fmt.Errorf("%w: from must be <= to", models.ErrInvalidQuery)
	}
	if p.Limit <= 0 {
		p.Limit = defaultBarLimit
	}
	if p.Limit > maxBarLimit {
		p.Limit = maxBarLimit
	}

	bars, err := uc.store.ListBars(ctx, p.Symbol, p.From, p.To)
	if err != nil {
		return nil, fmt.Errorf("list bars: %w", err)
	}
	// keep the newest bars when the range is larger than the limit
	if len(bars) > p.Limit {
		bars = bars[len(bars)-p.Limit:]
	}

	return &GetBarsResult{
		Symbol: p.Symbol,
		From:   p.From,
		To:     p.To,
		Count:  len(bars),
		Bars:   bars,
	}, nil
}

// GetFeatures returns one feature record. A zero date means the newest
// record for the symbol.
func (uc *QueryUseCase) GetFeatures(ctx context.Context, symbol string, date time.Time, set string) (models.FeatureRecord, error) {
	symbol = util.NormalizeSymbol(symbol)
	if symbol == "" {
		return models.FeatureRecord{}, fmt.Errorf("%w: symbol required", models.ErrInvalidQuery)
	}
	if set == "" {
		set = models.DefaultFeatureSet
	}
	if date.IsZero() {
		return uc.store.PreviousFeatures(ctx, symbol, util.Day(time.Now()).AddDate(0, 0, 1), set)
	}
	return uc.store.GetFeatures(ctx, symbol, util.Day(date), set)
}

func (uc *QueryUseCase) ListModels(ctx context.Context) ([]models.Model, error) {
	return uc.store.ListModels(ctx)
}

type ListSignalsParams struct {
	Date    time.Time
	ModelID int64
	Symbol  string
}

// ListSignals returns signals emitted on one date.
func (uc *QueryUseCase) ListSignals(ctx context.Context, p ListSignalsParams) ([]models.SignalRecord, error) {
	if p.Date.IsZero() {
		return nil, fmt.Errorf("%w: date required", models.ErrInvalidQuery)
	}
	day := util.Day(p.Date)
	return uc.store.ListSignals(ctx, domrepo.SignalFilter{
		ModelID: p.ModelID,
		Symbol:  util.NormalizeSymbol(p.Symbol),
		From:    day,
		To:      day,
	})
}

func (uc *QueryUseCase) ListRuns(ctx context.Context, date time.Time) ([]models.PipelineRun, error) {
	if date.IsZero() {
		return nil, fmt.Errorf("%w: date required", models.ErrInvalidQuery)
	}
	return uc.store.ListRuns(ctx, util.Day(date))
}

func (uc *QueryUseCase) GetQuality(ctx context.Context, date time.Time) (models.QualityReport, error) {
	return uc.store.GetQuality(ctx, util.Day(date))
}

// GetReport returns the report for date, or the newest one when date is zero.
func (uc *QueryUseCase) GetReport(ctx context.Context, date time.Time) (models.PerformanceReport, error) {
	key := cache.GenerateKey(reportKeyPrefix, "latest")
	if !date.IsZero() {
		date = util.Day(date)
		key = cache.GenerateKey(reportKeyPrefix, util.FormatDate(date))
	}

	if uc.cache != nil {
		var rep models.PerformanceReport
		err := uc.cache.Get(ctx, key, &rep)
		if err == nil {
			return rep, nil
		}
		if !errors.Is(err, cache.ErrCacheMiss) {
			uc.l.Warn("report cache read failed", logger.String("key", key), logger.Error(err))
		}
	}

	var (
		rep models.PerformanceReport
		err error
	)
	if date.IsZero() {
		rep, err = uc.store.LatestReport(ctx)
	} else {
		rep, err = uc.store.GetReport(ctx, date)
	}
	if err != nil {
		return models.PerformanceReport{}, err
	}

	if uc.cache != nil {
		if err := uc.cache.Set(ctx, key, rep, uc.reportTTL); err != nil {
			uc.l.Warn("report cache write failed", logger.String("key", key), logger.Error(err))
		}
	}
	return rep, nil
}

// InvalidateReports drops cached reports after the performance stage wrote
// a new one.
func (uc *QueryUseCase) InvalidateReports(ctx context.Context) error {
	if uc.cache == nil {
		return nil
	}
	if err := uc.cache.DeleteByPattern(ctx, cache.BuildPattern(reportKeyPrefix+":")); err != nil {
		return fmt.Errorf("invalidate reports: %w", err)
	}
	return nil
}

// Health pings the store.
func (uc *QueryUseCase) Health(ctx context.Context) error {
	return uc.store.Health(ctx)
}
