package usecase

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"QuantPipe/internal/domain/models"
	domrepo "QuantPipe/internal/domain/repository"
	"QuantPipe/internal/repository/memory"
	"QuantPipe/pkg/cache"
	"QuantPipe/pkg/logger"
)

type runnerFixture struct {
	store    *memory.Store
	provider *fakeProvider
	pub      *recordingPublisher
	metrics  *countingMetrics
	locker   *cache.MemoryCache
	runner   *Runner
}

func newRunnerFixture(t *testing.T, symbols ...string) *runnerFixture {
	t.Helper()
	f := &runnerFixture{
		store:    memory.New(),
		provider: newFakeProvider(),
		pub:      &recordingPublisher{},
		metrics:  newCountingMetrics(),
		locker:   cache.NewMemoryCache(),
	}
	t.Cleanup(func() { _ = f.locker.Close() })
	l := logger.NewNop()
	st := Stages{
		Ingestion: NewIngestor(f.provider, f.store, nil, f.metrics, l, IngestionConfig{Universe: universe(symbols...), BackfillDays: 30}),
		Features:  NewFeatureBuilder(f.store, f.metrics, l, FeatureConfig{}),
		Quality:   NewQualityChecker(f.store, f.pub, f.metrics, l, QualityConfig{}),
		Signals:   NewSignalGenerator(f.store, f.pub, nil, f.metrics, l, SignalConfig{}),
		Performance: NewPerformanceEvaluator(f.store, f.pub, f.metrics, l, PerformanceConfig{
			HoldingDays: 1,
		}),
	}
	f.runner = NewRunner(f.store, f.locker, f.pub, f.metrics, l, RunnerConfig{MaxAttempts: 3}, st)
	f.runner.sleep = func(context.Context, time.Duration) error { return nil }
	return f
}

func TestRunnerRunsChainDayByDay(t *testing.T) {
	ctx := context.Background()
	f := newRunnerFixture(t, "AAPL")
	bars := makeBars("AAPL", exampleStart, exampleCloses, exampleVolumes)
	f.provider.bars["AAPL"] = bars
	m := exampleModel()
	require.NoError(t, f.store.UpsertModel(ctx, &m))

	for _, b := range bars {
		runs, err := f.runner.Run(ctx, models.RunRequest{Date: b.Date, Trigger: "test"})
		require.NoError(t, err)
		require.Len(t, runs, len(models.StageOrder))
		for i, r := range runs {
			assert.Equal(t, models.StageOrder[i], r.Stage)
			assert.Equal(t, models.StatusCompleted, r.Status, "stage %s", r.Stage)
			assert.Equal(t, 1, r.Attempts)
		}
	}

	sigs, err := f.store.ListSignals(ctx, domrepo.SignalFilter{})
	require.NoError(t, err)
	require.Len(t, sigs, 1)
	assert.Equal(t, bars[3].Date, sigs[0].Date)

	// the day-4 buy resolves one bar later at 107
	recs, err := f.store.ListPerformance(ctx, bars[4].Date)
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.InDelta(t, 2.0/105, recs[0].TotalReturn, 1e-12)

	stored, err := f.store.ListRuns(ctx, bars[4].Date)
	require.NoError(t, err)
	assert.Len(t, stored, len(models.StageOrder))
	assert.Contains(t, f.pub.eventTypes(), models.EventStageCompleted)

	ok, err := f.locker.TryLock(ctx, lockKey(models.StageSignals, bars[4].Date), time.Minute)
	require.NoError(t, err)
	assert.True(t, ok, "stage locks are released")
}

func TestRunnerStopsChainAndSkipsLaterStages(t *testing.T) {
	ctx := context.Background()
	f := newRunnerFixture(t, "AAPL")
	f.provider.errs["AAPL"] = models.ErrProvider

	runs, err := f.runner.Run(ctx, models.RunRequest{Date: exampleStart})
	require.Error(t, err)
	require.Len(t, runs, len(models.StageOrder))
	assert.Equal(t, models.StatusFailed, runs[0].Status)
	assert.Equal(t, 1, runs[0].Attempts, "non-retryable failures are not retried")
	for _, r := range runs[1:] {
		assert.Equal(t, models.StatusSkipped, r.Status)
	}
	assert.Contains(t, f.pub.eventTypes(), models.EventStageFailed)
	assert.Equal(t, 1, f.metrics.stages["ingestion/failed"])
	assert.Equal(t, 1, f.metrics.stages["signals/skipped"])
}

func TestRunnerRetriesStoreOutage(t *testing.T) {
	ctx := context.Background()
	f := newRunnerFixture(t, "AAPL")
	_, err := f.store.UpsertBars(ctx, makeBars("AAPL", exampleStart, exampleCloses, nil))
	require.NoError(t, err)
	require.NoError(t, f.store.UpsertUniverse(ctx, universe("AAPL")))

	f.store.SetUnavailable(true)
	f.runner.sleep = func(context.Context, time.Duration) error {
		f.store.SetUnavailable(false)
		return nil
	}

	runs, err := f.runner.Run(ctx, models.RunRequest{Date: exampleStart, Stages: []models.Stage{models.StageFeatures}})
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, models.StatusCompleted, runs[0].Status)
	assert.Equal(t, 2, runs[0].Attempts)

	stored, err := f.store.ListRuns(ctx, exampleStart)
	require.NoError(t, err)
	require.Len(t, stored, 1)
	assert.Equal(t, 2, stored[0].Attempts)
	assert.Equal(t, models.StatusCompleted, stored[0].Status)
}

func TestRunnerRejectsConcurrentStage(t *testing.T) {
	ctx := context.Background()
	f := newRunnerFixture(t, "AAPL")
	ok, err := f.locker.TryLock(ctx, lockKey(models.StageFeatures, exampleStart), time.Minute)
	require.NoError(t, err)
	require.True(t, ok)

	runs, err := f.runner.Run(ctx, models.RunRequest{Date: exampleStart, Stages: []models.Stage{models.StageFeatures, models.StageSignals}})
	require.Error(t, err)
	assert.True(t, errors.Is(err, models.ErrLocked))
	assert.Equal(t, models.StatusFailed, runs[0].Status)
	assert.Equal(t, models.StatusSkipped, runs[1].Status)
}

func TestRunnerAfterStageHooks(t *testing.T) {
	ctx := context.Background()
	f := newRunnerFixture(t, "AAPL")
	f.provider.errs["AAPL"] = models.ErrProvider

	var calls []models.Stage
	for _, st := range []models.Stage{models.StageIngestion, models.StagePerformance} {
		st := st
		f.runner.AfterStage(st, func(context.Context) error {
			calls = append(calls, st)
			return errors.New("hook errors are only logged")
		})
	}

	_, err := f.runner.Run(ctx, models.RunRequest{Date: exampleStart, Stages: []models.Stage{models.StageIngestion}})
	require.Error(t, err)
	assert.Empty(t, calls, "hooks run only after success")

	runs, err := f.runner.Run(ctx, models.RunRequest{Date: exampleStart, Stages: []models.Stage{models.StagePerformance}})
	require.NoError(t, err)
	assert.Equal(t, models.StatusCompleted, runs[0].Status)
	assert.Equal(t, []models.Stage{models.StagePerformance}, calls)
}

func TestRunnerDefaultDateUsesMarketZone(t *testing.T) {
	f := newRunnerFixture(t, "AAPL")
	f.runner.cfg.Location = time.FixedZone("EST", -5*3600)
	// 20:30 in New York on Tuesday 2024-03-05
	f.runner.now = func() time.Time { return time.Date(2024, 3, 6, 1, 30, 0, 0, time.UTC) }

	runs, _ := f.runner.Run(context.Background(), models.RunRequest{Stages: []models.Stage{models.StageQuality}})
	require.Len(t, runs, 1)
	assert.Equal(t, "2024-03-05", runs[0].LogicalDate.Format(time.DateOnly))
}
