package usecase

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"QuantPipe/internal/domain/models"
	domrepo "QuantPipe/internal/domain/repository"
	"QuantPipe/internal/repository/memory"
	"QuantPipe/pkg/logger"
)

// exampleStore holds the worked example bars, one model and features for
// every day.
func exampleStore(t *testing.T, mods ...models.Model) (*memory.Store, []models.MarketBar) {
	t.Helper()
	ctx := context.Background()
	store := memory.New()
	bars := makeBars("AAPL", exampleStart, exampleCloses, exampleVolumes)
	seedStore(t, store, bars)
	for i := range mods {
		require.NoError(t, store.UpsertModel(ctx, &mods[i]))
	}
	fb := newTestFeatureBuilder(store)
	for _, b := range bars {
		_, err := fb.ComputeFeatures(ctx, b.Date)
		require.NoError(t, err)
	}
	return store, bars
}

func newTestSignalGenerator(store *memory.Store, pub *recordingPublisher, emitHold bool) *SignalGenerator {
	g := NewSignalGenerator(store, pub, nil, newCountingMetrics(), logger.NewNop(), SignalConfig{EmitHold: emitHold})
	n := 0
	g.newID = func() string {
		n++
		return fmt.Sprintf("run-%d", n)
	}
	return g
}

func TestGenerateSignalsWorkedExample(t *testing.T) {
	ctx := context.Background()
	store, bars := exampleStore(t, exampleModel())
	pub := &recordingPublisher{}
	g := newTestSignalGenerator(store, pub, false)

	for _, b := range bars {
		_, err := g.GenerateSignals(ctx, b.Date)
		require.NoError(t, err)
	}

	sigs, err := store.ListSignals(ctx, domrepo.SignalFilter{})
	require.NoError(t, err)
	require.Len(t, sigs, 1)
	sig := sigs[0]
	assert.Equal(t, "AAPL", sig.Symbol)
	assert.Equal(t, bars[3].Date, sig.Date)
	assert.Equal(t, models.SignalBuy, sig.Kind)
	assert.Equal(t, 1.0, sig.Strength)
	assert.Equal(t, 105.0, sig.Price)
	require.NotNil(t, sig.TargetPrice)
	assert.Greater(t, *sig.TargetPrice, 105.0)
	assert.Equal(t, "example_momentum", sig.Metadata["model"])

	require.Len(t, pub.signals, 1)
	assert.Equal(t, sig.Confidence, pub.signals[0].Confidence)
}

func TestGenerateSignalsRetryDoesNotDuplicate(t *testing.T) {
	ctx := context.Background()
	store, bars := exampleStore(t, exampleModel())
	g := newTestSignalGenerator(store, &recordingPublisher{}, false)

	for i := 0; i < 2; i++ {
		s, err := g.GenerateSignals(ctx, bars[3].Date)
		require.NoError(t, err)
		assert.Equal(t, 1, s.TotalSignals)
	}
	sigs, err := store.ListSignals(ctx, domrepo.SignalFilter{})
	require.NoError(t, err)
	assert.Len(t, sigs, 1)

	run, ok := store.ModelRun("run-2")
	require.True(t, ok)
	assert.Equal(t, models.StatusCompleted, run.Status)
	assert.Zero(t, run.SignalsGenerated)
}

func TestGenerateSignalsSummaryAndFailedModel(t *testing.T) {
	ctx := context.Background()
	broken := models.Model{Name: "broken", Version: "1.0", Type: "neural", Active: true}
	store, bars := exampleStore(t, exampleModel(), broken)
	pub := &recordingPublisher{}
	g := newTestSignalGenerator(store, pub, false)

	s, err := g.GenerateSignals(ctx, bars[3].Date)
	require.NoError(t, err)
	assert.Equal(t, 2, s.ModelsExecuted)
	assert.Equal(t, 1, s.ModelsSucceeded)
	assert.Equal(t, 0.5, s.SuccessRate)
	assert.Equal(t, 1, s.TotalSignals)
	require.Len(t, s.Alerts, 1)
	assert.Contains(t, s.Alerts[0], "success rate")
	assert.Contains(t, pub.eventTypes(), models.EventExecutionSummary)

	var failed int
	for _, id := range []string{"run-1", "run-2"} {
		run, ok := store.ModelRun(id)
		require.True(t, ok)
		if run.Status == models.StatusFailed {
			failed++
			assert.Contains(t, run.Metadata["error"], "unknown type")
		}
	}
	assert.Equal(t, 1, failed)
}

func TestGenerateSignalsNoSignalAlerts(t *testing.T) {
	ctx := context.Background()
	store, bars := exampleStore(t, exampleModel())
	g := newTestSignalGenerator(store, &recordingPublisher{}, false)

	s, err := g.GenerateSignals(ctx, bars[4].Date)
	require.NoError(t, err)
	assert.Zero(t, s.TotalSignals)
	assert.Equal(t, []string{"example_momentum"}, s.ModelsWithoutSigs)
	assert.Equal(t, []string{"models without signals: example_momentum", "no signals generated"}, s.Alerts)
}

func TestGenerateSignalsEmitHold(t *testing.T) {
	ctx := context.Background()
	strict := exampleModel()
	strict.Parameters["min_confidence"] = 0.99

	for _, emit := range []bool{false, true} {
		t.Run(fmt.Sprintf("emit_hold=%v", emit), func(t *testing.T) {
			store, bars := exampleStore(t, strict)
			g := newTestSignalGenerator(store, &recordingPublisher{}, emit)

			s, err := g.GenerateSignals(ctx, bars[3].Date)
			require.NoError(t, err)
			sigs, err := store.ListSignals(ctx, domrepo.SignalFilter{})
			require.NoError(t, err)
			if !emit {
				assert.Empty(t, sigs)
				assert.Zero(t, s.TotalSignals)
				return
			}
			require.Len(t, sigs, 1)
			assert.Equal(t, models.SignalHold, sigs[0].Kind)
			assert.Zero(t, sigs[0].PositionSize)
			assert.Nil(t, sigs[0].TargetPrice)
		})
	}
}

func TestGenerateSignalsStoreUnavailable(t *testing.T) {
	store, bars := exampleStore(t, exampleModel())
	store.SetUnavailable(true)
	g := newTestSignalGenerator(store, &recordingPublisher{}, false)

	_, err := g.GenerateSignals(context.Background(), bars[3].Date)
	require.Error(t, err)
	assert.True(t, models.Retryable(err))
}

func TestRegisterModelsRejectsInvalidParameters(t *testing.T) {
	store := memory.New()
	bad := models.Model{Name: "bad", Version: "1.0", Type: models.ModelTypeMomentum, Active: true,
		Parameters: map[string]float64{"short_window": 30, "long_window": 10}}

	err := RegisterModels(context.Background(), store, []models.Model{bad}, logger.NewNop())
	require.Error(t, err)
	assert.ErrorIs(t, err, models.ErrInvalidParameters)

	require.NoError(t, RegisterModels(context.Background(), store, nil, logger.NewNop()))
	all, err := store.ListModels(context.Background())
	require.NoError(t, err)
	assert.Len(t, all, 3)
}
