package usecase

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"QuantPipe/internal/domain/models"
	"QuantPipe/internal/repository/memory"
	"QuantPipe/pkg/logger"
)

func seedStore(t *testing.T, store *memory.Store, bars ...[]models.MarketBar) {
	t.Helper()
	ctx := context.Background()
	var syms []models.UniverseSymbol
	for _, bs := range bars {
		require.NotEmpty(t, bs)
		syms = append(syms, models.UniverseSymbol{Symbol: bs[0].Symbol, Active: true})
		_, err := store.UpsertBars(ctx, bs)
		require.NoError(t, err)
	}
	require.NoError(t, store.UpsertUniverse(ctx, syms))
}

func newTestFeatureBuilder(store *memory.Store) *FeatureBuilder {
	return NewFeatureBuilder(store, newCountingMetrics(), logger.NewNop(), FeatureConfig{Workers: 2})
}

func TestComputeFeaturesOnlyForSymbolsWithBar(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	aapl := makeBars("AAPL", exampleStart, trend(100, 0.5, 60), nil)
	msft := makeBars("MSFT", exampleStart, trend(300, 1, 59), nil)
	seedStore(t, store, aapl, msft)
	require.NoError(t, RegisterModels(ctx, store, nil, logger.NewNop()))

	date := aapl[len(aapl)-1].Date
	res, err := newTestFeatureBuilder(store).ComputeFeatures(ctx, date)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Computed)
	assert.Equal(t, 1, res.SkippedNoBar)
	assert.Zero(t, res.Failed)
	assert.Equal(t, models.DefaultFeatureSet, res.FeatureSet)

	rec, err := store.GetFeatures(ctx, "AAPL", date, models.DefaultFeatureSet)
	require.NoError(t, err)
	for _, name := range []string{"sma_10", "sma_20", "sma_50", "ema_12", "ema_26", "macd", "macd_signal", "rsi_14", "bb_middle", "atr_14", "volume_ratio", "momentum_5d", "volatility_20d"} {
		_, ok := rec.Values.Get(name)
		assert.True(t, ok, "%s should be computed", name)
	}
	// preset-driven inputs
	for _, name := range []string{"sma_5", "sma_15", "sma_30", "rsi_21", "volume_ratio_10", "volume_ratio_30", "momentum_3d", "momentum_10d", "volatility_10d", "volatility_30d"} {
		_, present := rec.Values[name]
		assert.True(t, present, "%s should be in the set", name)
	}
	sma10, _ := rec.Values.Get("sma_10")
	assert.InDelta(t, 127.25, sma10, 1e-9)

	_, err = store.GetFeatures(ctx, "MSFT", date, models.DefaultFeatureSet)
	assert.True(t, errors.Is(err, models.ErrNotFound))
}

func TestComputeFeaturesShortHistoryIsNull(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	bars := makeBars("AAPL", exampleStart, exampleCloses, exampleVolumes)
	seedStore(t, store, bars)

	date := bars[len(bars)-1].Date
	res, err := newTestFeatureBuilder(store).ComputeFeatures(ctx, date)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Computed)

	rec, err := store.GetFeatures(ctx, "AAPL", date, models.DefaultFeatureSet)
	require.NoError(t, err)
	v, present := rec.Values["sma_50"]
	assert.True(t, present)
	assert.Nil(t, v)
}

func TestComputeFeaturesRecomputeIsIdentical(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	bars := makeBars("AAPL", exampleStart, trend(50, -0.25, 40), nil)
	seedStore(t, store, bars)
	b := newTestFeatureBuilder(store)
	date := bars[len(bars)-1].Date

	_, err := b.ComputeFeatures(ctx, date)
	require.NoError(t, err)
	first, err := store.GetFeatures(ctx, "AAPL", date, models.DefaultFeatureSet)
	require.NoError(t, err)

	_, err = b.ComputeFeatures(ctx, date)
	require.NoError(t, err)
	second, err := store.GetFeatures(ctx, "AAPL", date, models.DefaultFeatureSet)
	require.NoError(t, err)
	assert.Equal(t, first.Values, second.Values)

	n, err := store.CountFeaturesOn(ctx, date, models.DefaultFeatureSet)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestComputeFeaturesStoreUnavailable(t *testing.T) {
	store := memory.New()
	store.SetUnavailable(true)
	_, err := newTestFeatureBuilder(store).ComputeFeatures(context.Background(), exampleStart)
	require.Error(t, err)
	assert.True(t, models.Retryable(err))
}

type rejectingFeatureStore struct {
	*memory.Store
	reject string
}

func (s rejectingFeatureStore) UpsertFeatures(ctx context.Context, rec models.FeatureRecord) error {
	if rec.Symbol == s.reject {
		return errors.New("value out of range")
	}
	return s.Store.UpsertFeatures(ctx, rec)
}

func TestComputeFeaturesFailsOnStoreWriteError(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	aapl := makeBars("AAPL", exampleStart, trend(100, 0.5, 30), nil)
	msft := makeBars("MSFT", exampleStart, trend(300, 1, 30), nil)
	seedStore(t, store, aapl, msft)

	b := NewFeatureBuilder(rejectingFeatureStore{Store: store, reject: "MSFT"}, newCountingMetrics(), logger.NewNop(), FeatureConfig{Workers: 2})
	res, err := b.ComputeFeatures(ctx, aapl[len(aapl)-1].Date)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "value out of range")
	assert.False(t, models.Retryable(err))
	assert.Equal(t, 1, res.Computed)
	assert.Equal(t, 1, res.Failed)
}
