package repository

import (
	"context"
	"time"

	"QuantPipe/internal/domain/models"
)

// MarketDataProvider fetches daily OHLCV bars from an upstream API.
type MarketDataProvider interface {
	FetchDailyBars(ctx context.Context, symbol string, from, to time.Time) ([]models.MarketBar, error)
	Name() string
}

type UniverseRepository interface {
	UpsertUniverse(ctx context.Context, symbols []models.UniverseSymbol) error
	ActiveSymbols(ctx context.Context) ([]models.UniverseSymbol, error)
}

// BarRepository persists MarketBars. UpsertBars writes all bars of one call
// in a single transaction; on conflict the latest values win.
type BarRepository interface {
	UpsertBars(ctx context.Context, bars []models.MarketBar) (int, error)
	GetBar(ctx context.Context, symbol string, date time.Time) (models.MarketBar, error)
	ListBars(ctx context.Context, symbol string, from, to time.Time) ([]models.MarketBar, error)
	BarsAfter(ctx context.Context, symbol string, date time.Time, n int) ([]models.MarketBar, error)
	LatestBarDate(ctx context.Context, symbol string) (time.Time, bool, error)
	LatestDate(ctx context.Context) (time.Time, bool, error)
	CountBarsOn(ctx context.Context, date time.Time) (int, error)
}

// SignalFilter narrows ListSignals. Zero values mean no constraint.
type SignalFilter struct {
	ModelID int64
	Symbol  string
	From    time.Time
	To      time.Time
}

type SignalRepository interface {
	StartRun(ctx context.Context, run *models.ModelRun) error
	// CompleteRun inserts signals and marks the run completed atomically.
	// Signals already present for (model, symbol, date) are left untouched.
	CompleteRun(ctx context.Context, run *models.ModelRun, signals []models.SignalRecord) (int, error)
	FailRun(ctx context.Context, run *models.ModelRun) error
	ListSignals(ctx context.Context, f SignalFilter) ([]models.SignalRecord, error)
}

type ModelRepository interface {
	UpsertModel(ctx context.Context, m *models.Model) error
	ActiveModels(ctx context.Context) ([]models.Model, error)
	ListModels(ctx context.Context) ([]models.Model, error)
}

type PerformanceRepository interface {
	UpsertPerformance(ctx context.Context, rec models.PerformanceRecord) error
	ListPerformance(ctx context.Context, date time.Time) ([]models.PerformanceRecord, error)
	UpsertReport(ctx context.Context, rep models.PerformanceReport) error
	GetReport(ctx context.Context, date time.Time) (models.PerformanceReport, error)
	LatestReport(ctx context.Context) (models.PerformanceReport, error)
}

type QualityRepository interface {
	UpsertQuality(ctx context.Context, rep models.QualityReport) error
	GetQuality(ctx context.Context, date time.Time) (models.QualityReport, error)
}

type RunRepository interface {
	CreateRun(ctx context.Context, run *models.PipelineRun) error
	UpdateRun(ctx context.Context, run *models.PipelineRun) error
	ListRuns(ctx context.Context, date time.Time) ([]models.PipelineRun, error)
}

// Store is the full persisted store shared by all stages.
type Store interface {
	UniverseRepository
	BarRepository
	FeatureRepository
	ModelRepository
	SignalRepository
	PerformanceRepository
	QualityRepository
	RunRepository
	Health(ctx context.Context) error
	Close() error
}

// EventPublisher fans pipeline output out to downstream consumers.
type EventPublisher interface {
	PublishSignals(ctx context.Context, signals []models.SignalRecord) error
	PublishReport(ctx context.Context, rep models.PerformanceReport) error
	PublishEvent(ctx context.Context, ev models.PipelineEvent) error
	Close() error
}

// BarMirror copies stored bars to a secondary analytics store.
type BarMirror interface {
	MirrorBars(ctx context.Context, bars []models.MarketBar) error
	MirrorSignals(ctx context.Context, signals []models.SignalRecord) error
}

// Locker guards one stage instance per logical date.
type Locker interface {
	TryLock(ctx context.Context, key string, ttl time.Duration) (bool, error)
	Unlock(ctx context.Context, key string) error
}

type Metrics interface {
	RecordStage(stage, status string, seconds float64)
	RecordProviderRequest(provider, result string)
	RecordSymbolFailure(stage, kind string)
	RecordSignals(model string, kind string, n int)
	RecordModelSharpe(model string, sharpe float64)
	RecordQualityScore(score float64)
	RecordAlert(kind string)
	RecordError(kind string)
	RecordLastPrice(symbol string, price float64)
	RecordLatency(op string, seconds float64)
}
