package usecase

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"QuantPipe/internal/domain/models"
	"QuantPipe/internal/repository/memory"
	"QuantPipe/pkg/logger"
)

func TestQualityValidate(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	aapl := makeBars("AAPL", exampleStart, trend(100, 1, 30), nil)
	msft := makeBars("MSFT", exampleStart, trend(200, 1, 30), nil)
	seedStore(t, store, aapl, msft)
	date := aapl[len(aapl)-1].Date

	_, err := newTestFeatureBuilder(store).ComputeFeatures(ctx, date)
	require.NoError(t, err)

	pub := &recordingPublisher{}
	q := NewQualityChecker(store, pub, newCountingMetrics(), logger.NewNop(), QualityConfig{})

	rep, err := q.Validate(ctx, date)
	require.NoError(t, err)
	assert.True(t, rep.Passed, "issues: %v", rep.Issues)
	assert.Equal(t, 2, rep.ExpectedSymbols)
	assert.Equal(t, 1.0, rep.BarCompleteness)
	assert.Equal(t, 1.0, rep.FeatureCompleteness)
	assert.Equal(t, 100.0, rep.Score)
	assert.Zero(t, rep.StalenessDays)

	stored, err := store.GetQuality(ctx, date)
	require.NoError(t, err)
	assert.Equal(t, rep.Score, stored.Score)
	assert.Equal(t, []string{models.EventQualityReport}, pub.eventTypes())
}

func TestQualityValidateFailsOnGapsAndStaleness(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	aapl := makeBars("AAPL", exampleStart, trend(100, 1, 5), nil)
	seedStore(t, store, aapl)
	require.NoError(t, store.UpsertUniverse(ctx, universe("MSFT", "NVDA", "AMZN", "GOOGL")))

	later := aapl[len(aapl)-1].Date.AddDate(0, 0, 7)
	q := NewQualityChecker(store, &recordingPublisher{}, newCountingMetrics(), logger.NewNop(), QualityConfig{})

	rep, err := q.Validate(ctx, later)
	require.NoError(t, err, "a failing check is reported, not returned")
	assert.False(t, rep.Passed)
	assert.Equal(t, 5, rep.ExpectedSymbols)
	assert.Zero(t, rep.BarCompleteness)
	assert.Equal(t, 7, rep.StalenessDays)
	assert.Zero(t, rep.Score)
	assert.Len(t, rep.Issues, 3)
}
