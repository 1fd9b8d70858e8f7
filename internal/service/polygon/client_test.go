package polygon

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"QuantPipe/internal/domain/models"
	"QuantPipe/pkg/logger"
)

type countingRecorder struct {
	results []string
}

func (r *countingRecorder) RecordProviderRequest(_, result string) {
	r.results = append(r.results, result)
}

func newTestClient(t *testing.T, handler http.HandlerFunc, retries int) (*Client, *countingRecorder) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	rec := &countingRecorder{}
	c := New(Config{
		APIKey:            "test-key",
		BaseURL:           srv.URL,
		RequestsPerMinute: 6000,
		MaxRetries:        retries,
		BackoffBase:       time.Millisecond,
		BackoffMax:        time.Millisecond,
	}, logger.NewNop(), WithRecorder(rec))
	c.sleep = func(context.Context, time.Duration) error { return nil }
	return c, rec
}

var (
	from = time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	to   = time.Date(2024, 3, 5, 0, 0, 0, 0, time.UTC)
	// midnight New York on 2024-03-04
	sessionMs = time.Date(2024, 3, 4, 5, 0, 0, 0, time.UTC).UnixMilli()
)

func TestFetchDailyBars(t *testing.T) {
	c, rec := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v2/aggs/ticker/AAPL/range/1/day/2024-03-01/2024-03-05", r.URL.Path)
		assert.Equal(t, "test-key", r.URL.Query().Get("apiKey"))
		assert.Equal(t, "true", r.URL.Query().Get("adjusted"))
		assert.Equal(t, "asc", r.URL.Query().Get("sort"))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"status":"OK","ticker":"AAPL","resultsCount":2,"results":[
			{"o":100.123456,"h":101.5,"l":99.25,"c":100.98766,"v":1200300,"vw":100.5,"n":5000,"t":` + itoa(sessionMs) + `},
			{"o":100,"h":99,"l":101,"c":100,"v":10,"t":` + itoa(sessionMs+86400000) + `}
		]}`))
	}, 0)

	bars, err := c.FetchDailyBars(context.Background(), "AAPL", from, to)
	require.NoError(t, err)
	require.Len(t, bars, 1)

	b := bars[0]
	assert.Equal(t, "AAPL", b.Symbol)
	assert.Equal(t, time.Date(2024, 3, 4, 0, 0, 0, 0, time.UTC), b.Date)
	assert.Equal(t, 100.1235, b.Open)
	assert.Equal(t, 100.9877, b.Close)
	assert.Equal(t, int64(1200300), b.Volume)
	require.NotNil(t, b.VWAP)
	require.NotNil(t, b.Trades)
	assert.Equal(t, int64(5000), *b.Trades)
	assert.Equal(t, "polygon", b.Source)
	assert.Equal(t, []string{"ok"}, rec.results)
}

func TestFetchDailyBarsRetriesTransient(t *testing.T) {
	var calls int32
	c, rec := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) < 3 {
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		_, _ = w.Write([]byte(`{"status":"OK","results":[]}`))
	}, 3)

	bars, err := c.FetchDailyBars(context.Background(), "MSFT", from, to)
	require.NoError(t, err)
	assert.Empty(t, bars)
	assert.Equal(t, int32(3), atomic.LoadInt32(&calls))
	assert.Equal(t, []string{"transient", "transient", "ok"}, rec.results)
}

func TestFetchDailyBarsGivesUpAfterRetries(t *testing.T) {
	var calls int32
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusBadGateway)
	}, 2)

	_, err := c.FetchDailyBars(context.Background(), "MSFT", from, to)
	require.Error(t, err)
	assert.ErrorIs(t, err, models.ErrTransientProvider)
	assert.Equal(t, int32(3), atomic.LoadInt32(&calls))
}

func TestFetchDailyBarsProviderErrors(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
		want   error
	}{
		{"forbidden", http.StatusForbidden, `{"status":"ERROR"}`, models.ErrProvider},
		{"error status", http.StatusOK, `{"status":"ERROR","error":"Unknown API Key"}`, models.ErrProvider},
		{"all malformed", http.StatusOK, `{"status":"OK","results":[{"o":1,"h":1,"l":1,"t":1}]}`, models.ErrMalformedData},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var calls int32
			c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
				atomic.AddInt32(&calls, 1)
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			}, 3)

			_, err := c.FetchDailyBars(context.Background(), "X", from, to)
			require.Error(t, err)
			assert.ErrorIs(t, err, tt.want)
			assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
		})
	}
}

func TestBackoff(t *testing.T) {
	assert.Equal(t, time.Second, backoff(time.Second, time.Minute, 0))
	assert.Equal(t, 4*time.Second, backoff(time.Second, time.Minute, 2))
	assert.Equal(t, time.Minute, backoff(time.Second, time.Minute, 10))
}

func itoa(v int64) string { return strconv.FormatInt(v, 10) }
