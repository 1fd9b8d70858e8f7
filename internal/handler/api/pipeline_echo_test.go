package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"QuantPipe/internal/domain/models"
	"QuantPipe/internal/repository/memory"
	"QuantPipe/internal/usecase"
	"QuantPipe/pkg/cache"
	xlogger "QuantPipe/pkg/logger"
)

type recordingDispatcher struct {
	reqs []models.RunRequest
	err  error
}

func (d *recordingDispatcher) Dispatch(_ context.Context, req models.RunRequest) (string, error) {
	if d.err != nil {
		return "", d.err
	}
	d.reqs = append(d.reqs, req)
	return "run-1", nil
}

type envelope struct {
	Status  int             `json:"status"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

var testDay = time.Date(2024, 3, 8, 0, 0, 0, 0, time.UTC)

func newTestServer(t *testing.T) (*echo.Echo, *memory.Store, *recordingDispatcher) {
	t.Helper()
	store := memory.New()
	ctx := context.Background()
	_, err := store.UpsertBars(ctx, []models.MarketBar{
		{Symbol: "AAPL", Date: testDay.AddDate(0, 0, -1), Open: 100, High: 101, Low: 99, Close: 100, Volume: 1000},
		{Symbol: "AAPL", Date: testDay, Open: 100, High: 103, Low: 99, Close: 102, Volume: 1200},
	})
	require.NoError(t, err)

	mc := cache.NewMemoryCache()
	t.Cleanup(func() { _ = mc.Close() })
	q := usecase.NewQueryUseCase(store, mc, time.Minute, xlogger.NewNop())
	d := &recordingDispatcher{}
	h := NewPipelineEchoHandler(xlogger.NewNop(), q, d, time.FixedZone("EST", -5*3600))
	h.now = func() time.Time { return time.Date(2024, 3, 9, 12, 0, 0, 0, time.UTC) }

	e := echo.New()
	h.RegisterRoutes(e)
	return e, store, d
}

func do(e *echo.Echo, method, target, body string) (*httptest.ResponseRecorder, envelope) {
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	} else {
		req = httptest.NewRequest(method, target, nil)
	}
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	var env envelope
	_ = json.Unmarshal(rec.Body.Bytes(), &env)
	return rec, env
}

func TestHealth(t *testing.T) {
	e, store, _ := newTestServer(t)

	rec, env := do(e, http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, http.StatusOK, env.Status)

	store.SetUnavailable(true)
	rec, env = do(e, http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, http.StatusServiceUnavailable, env.Status)
}

func TestCreateRun(t *testing.T) {
	e, _, d := newTestServer(t)

	rec, env := do(e, http.MethodPost, "/api/v1/pipeline/runs", `{"date":"2024-03-08","stages":["signals","features"]}`)
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())

	var accepted models.RunAccepted
	require.NoError(t, json.Unmarshal(env.Data, &accepted))
	assert.Equal(t, "run-1", accepted.RunID)
	assert.Equal(t, "2024-03-08", accepted.Date)
	assert.Equal(t, []string{"features", "signals"}, accepted.Stages)

	require.Len(t, d.reqs, 1)
	assert.Equal(t, "api", d.reqs[0].Trigger)
	assert.True(t, d.reqs[0].Date.Equal(testDay))
}

func TestCreateRun_DefaultsToMostRecentTradingDay(t *testing.T) {
	e, _, d := newTestServer(t)

	rec, _ := do(e, http.MethodPost, "/api/v1/pipeline/runs", `{}`)
	require.Equal(t, http.StatusAccepted, rec.Code)
	require.Len(t, d.reqs, 1)
	// 2024-03-09 is a Saturday
	assert.True(t, d.reqs[0].Date.Equal(testDay))
	assert.Empty(t, d.reqs[0].Stages)
}

func TestCreateRun_DefaultDateUsesMarketZone(t *testing.T) {
	mc := cache.NewMemoryCache()
	t.Cleanup(func() { _ = mc.Close() })
	d := &recordingDispatcher{}
	h := NewPipelineEchoHandler(xlogger.NewNop(), usecase.NewQueryUseCase(memory.New(), mc, time.Minute, xlogger.NewNop()), d, time.FixedZone("EST", -5*3600))
	// 20:30 in New York on Tuesday 2024-03-05
	h.now = func() time.Time { return time.Date(2024, 3, 6, 1, 30, 0, 0, time.UTC) }
	e := echo.New()
	h.RegisterRoutes(e)

	rec, _ := do(e, http.MethodPost, "/api/v1/pipeline/runs", `{}`)
	require.Equal(t, http.StatusAccepted, rec.Code)
	require.Len(t, d.reqs, 1)
	assert.Equal(t, "2024-03-05", d.reqs[0].Date.Format(time.DateOnly))
}

func TestCreateRun_Validation(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"bad date", `{"date":"08/03/2024"}`},
		{"unknown stage", `{"stages":["backtest"]}`},
		{"malformed json", `{"date":`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e, _, d := newTestServer(t)
			rec, env := do(e, http.MethodPost, "/api/v1/pipeline/runs", tt.body)
			assert.Equal(t, http.StatusBadRequest, rec.Code)
			assert.Equal(t, http.StatusBadRequest, env.Status)
			assert.Empty(t, d.reqs)
		})
	}
}

func TestCreateRun_Locked(t *testing.T) {
	e, _, d := newTestServer(t)
	d.err = models.ErrLocked

	rec, _ := do(e, http.MethodPost, "/api/v1/pipeline/runs", `{}`)
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestBars(t *testing.T) {
	e, _, _ := newTestServer(t)

	rec, env := do(e, http.MethodGet, "/api/v1/bars/aapl?from=2024-03-07&to=2024-03-08", "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var res usecase.GetBarsResult
	require.NoError(t, json.Unmarshal(env.Data, &res))
	assert.Equal(t, "AAPL", res.Symbol)
	assert.Equal(t, 2, res.Count)

	rec, _ = do(e, http.MethodGet, "/api/v1/bars/AAPL?from=2024-03-09&to=2024-03-08", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec, _ = do(e, http.MethodGet, "/api/v1/bars/AAPL?limit=0", "")
	assert.Equal(t, http.StatusOK, rec.Code, "zero limit falls back to the default")

	rec, _ = do(e, http.MethodGet, "/api/v1/bars/MSFT", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestReports(t *testing.T) {
	e, store, _ := newTestServer(t)

	rec, _ := do(e, http.MethodGet, "/api/v1/reports/latest", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	require.NoError(t, store.UpsertReport(context.Background(), models.PerformanceReport{ReportDate: testDay, TotalModels: 2}))

	rec, env := do(e, http.MethodGet, "/api/v1/reports/2024-03-08", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var rep models.PerformanceReport
	require.NoError(t, json.Unmarshal(env.Data, &rep))
	assert.Equal(t, 2, rep.TotalModels)

	rec, _ = do(e, http.MethodGet, "/api/v1/reports/latest", "")
	assert.Equal(t, http.StatusOK, rec.Code)

	rec, _ = do(e, http.MethodGet, "/api/v1/reports/yesterday", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestQualityAndRuns(t *testing.T) {
	e, store, _ := newTestServer(t)
	ctx := context.Background()

	rec, _ := do(e, http.MethodGet, "/api/v1/quality/2024-03-08", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	require.NoError(t, store.UpsertQuality(ctx, models.QualityReport{CheckDate: testDay, Score: 95, Passed: true}))
	rec, env := do(e, http.MethodGet, "/api/v1/quality/2024-03-08", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var q models.QualityReport
	require.NoError(t, json.Unmarshal(env.Data, &q))
	assert.True(t, q.Passed)

	rec, _ = do(e, http.MethodGet, "/api/v1/pipeline/runs", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code, "date is required")

	require.NoError(t, store.CreateRun(ctx, &models.PipelineRun{
		ID: "r1", RunID: "run-1", LogicalDate: testDay, Stage: models.StageIngestion, Status: models.StatusCompleted, StartedAt: testDay,
	}))
	rec, env = do(e, http.MethodGet, "/api/v1/pipeline/runs?date=2024-03-08", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var list struct {
		Rows  []models.PipelineRun `json:"rows"`
		Total int64                `json:"total"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &list))
	assert.Equal(t, int64(1), list.Total)
}

func TestSignalsAndModels(t *testing.T) {
	e, _, _ := newTestServer(t)

	rec, _ := do(e, http.MethodGet, "/api/v1/signals", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec, _ = do(e, http.MethodGet, "/api/v1/signals?date=2024-03-08&model_id=1", "")
	assert.Equal(t, http.StatusOK, rec.Code)

	rec, _ = do(e, http.MethodGet, "/api/v1/models", "")
	assert.Equal(t, http.StatusOK, rec.Code)
}
