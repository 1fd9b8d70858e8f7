package usecase

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"QuantPipe/internal/domain/models"
	"QuantPipe/internal/repository/memory"
	"QuantPipe/pkg/logger"
)

type plannedSignal struct {
	day  int
	kind models.SignalKind
}

func addSignals(t *testing.T, store *memory.Store, m *models.Model, bars []models.MarketBar, planned ...plannedSignal) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, store.UpsertModel(ctx, m))
	run := &models.ModelRun{ID: m.Name + "-run", ModelID: m.ID, RunDate: bars[0].Date, Status: models.StatusRunning}
	require.NoError(t, store.StartRun(ctx, run))
	sigs := make([]models.SignalRecord, len(planned))
	for i, p := range planned {
		sigs[i] = models.SignalRecord{
			ModelID:    m.ID,
			Symbol:     bars[p.day].Symbol,
			Date:       bars[p.day].Date,
			Kind:       p.kind,
			Confidence: 0.5,
			Price:      bars[p.day].Close,
		}
	}
	_, err := store.CompleteRun(ctx, run, sigs)
	require.NoError(t, err)
}

func newTestEvaluator(store *memory.Store, pub *recordingPublisher) *PerformanceEvaluator {
	return NewPerformanceEvaluator(store, pub, newCountingMetrics(), logger.NewNop(), PerformanceConfig{
		WindowDays:  40,
		HoldingDays: 5,
		MinSignals:  3,
	})
}

func TestEvaluatePerformance(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	bars := makeBars("AAPL", exampleStart, trend(100, 1, 20), nil)
	seedStore(t, store, bars)

	steady := &models.Model{Name: "steady", Version: "1.0", Type: models.ModelTypeMomentum, Active: true}
	addSignals(t, store, steady, bars,
		plannedSignal{0, models.SignalBuy},
		plannedSignal{2, models.SignalSell},
		plannedSignal{3, models.SignalHold},
		plannedSignal{17, models.SignalBuy},
	)
	loser := &models.Model{Name: "loser", Version: "1.0", Type: models.ModelTypeMomentum, Active: true}
	addSignals(t, store, loser, bars, plannedSignal{1, models.SignalSell})
	idle := &models.Model{Name: "idle", Version: "1.0", Type: models.ModelTypeMomentum, Active: true}
	require.NoError(t, store.UpsertModel(ctx, idle))

	pub := &recordingPublisher{}
	date := bars[len(bars)-1].Date
	rep, err := newTestEvaluator(store, pub).EvaluatePerformance(ctx, date)
	require.NoError(t, err)

	recs, err := store.ListPerformance(ctx, date)
	require.NoError(t, err)
	require.Len(t, recs, 2, "models without resolvable trades get no record")

	byName := map[string]models.PerformanceRecord{}
	for _, r := range recs {
		byName[r.ModelName] = r
	}
	s := byName["steady"]
	assert.Equal(t, 2, s.TotalTrades)
	assert.Equal(t, 1, s.WinningTrades)
	assert.Equal(t, 1, s.ExcludedSignals)
	assert.InDelta(t, 0.05-5.0/102, s.TotalReturn, 1e-12)
	assert.Equal(t, 0.5, s.WinRate)
	assert.Greater(t, s.Sharpe, 0.0)
	assert.Equal(t, date.AddDate(0, 0, -40), s.WindowStart)

	l := byName["loser"]
	assert.Equal(t, 1, l.TotalTrades)
	assert.InDelta(t, -5.0/101, l.TotalReturn, 1e-12)

	assert.Equal(t, 2, rep.TotalModels)
	require.NotNil(t, rep.BestModel)
	assert.Equal(t, "steady", rep.BestModel.ModelName)
	assert.Equal(t, "loser", rep.WorstModel.ModelName)
	assert.Equal(t, []string{"loser"}, rep.Underperforming)
	assert.True(t, rep.Rankings[0].InsufficientSample)

	stored, err := store.GetReport(ctx, date)
	require.NoError(t, err)
	assert.Equal(t, rep.TotalModels, stored.TotalModels)
	require.Len(t, pub.reports, 1)
	assert.Contains(t, pub.eventTypes(), models.EventPerformanceReport)
}

func TestEvaluatePerformanceExitMustNotPassEvaluationDate(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	bars := makeBars("AAPL", exampleStart, trend(100, 1, 20), nil)
	seedStore(t, store, bars)
	m := &models.Model{Name: "steady", Version: "1.0", Type: models.ModelTypeMomentum, Active: true}
	addSignals(t, store, m, bars,
		plannedSignal{0, models.SignalBuy},
		plannedSignal{2, models.SignalBuy},
	)

	date := bars[6].Date
	_, err := newTestEvaluator(store, &recordingPublisher{}).EvaluatePerformance(ctx, date)
	require.NoError(t, err)

	recs, err := store.ListPerformance(ctx, date)
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, 1, recs[0].TotalTrades)
	assert.Equal(t, 1, recs[0].ExcludedSignals)
	assert.InDelta(t, 0.05, recs[0].TotalReturn, 1e-12)
}

func TestEvaluatePerformanceWithoutTradesStillReports(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	date := time.Date(2024, 3, 8, 0, 0, 0, 0, time.UTC)

	rep, err := newTestEvaluator(store, &recordingPublisher{}).EvaluatePerformance(ctx, date)
	require.NoError(t, err)
	assert.Zero(t, rep.TotalModels)
	assert.Nil(t, rep.BestModel)

	_, err = store.GetReport(ctx, date)
	assert.NoError(t, err)
}
