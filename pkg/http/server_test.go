package http

import (
	"context"
	"net"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type pingHandler struct{}

func (pingHandler) RegisterRoutes(e *echo.Echo) {
	e.GET("/ping/:id", func(c echo.Context) error {
		return SuccessResponse(c, map[string]string{"id": c.Param("id")})
	})
	e.GET("/boom", func(c echo.Context) error {
		panic("boom")
	})
}

func TestServerRecordsRouteMetrics(t *testing.T) {
	s := NewServer(pingHandler{}, WithRegistry(prometheus.NewRegistry()))

	for _, id := range []string{"a", "b"} {
		rec := httptest.NewRecorder()
		s.Echo().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/ping/"+id, nil))
		require.Equal(t, http.StatusOK, rec.Code)
	}

	rec := httptest.NewRecorder()
	s.Echo().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	assert.Contains(t, body, `http_requests_total{method="GET",route="/ping/:id",status="200"} 2`)
}

func TestServerRecoversPanics(t *testing.T) {
	s := NewServer(pingHandler{}, WithRegistry(prometheus.NewRegistry()))

	rec := httptest.NewRecorder()
	s.Echo().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/boom", nil))
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestServerRequestID(t *testing.T) {
	s := NewServer(pingHandler{}, WithRegistry(prometheus.NewRegistry()))

	rec := httptest.NewRecorder()
	s.Echo().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/ping/a", nil))
	assert.Len(t, rec.Header().Get(echo.HeaderXRequestID), 36)

	req := httptest.NewRequest(http.MethodGet, "/ping/a", nil)
	req.Header.Set(echo.HeaderXRequestID, "abc-123")
	rec = httptest.NewRecorder()
	s.Echo().ServeHTTP(rec, req)
	assert.Equal(t, "abc-123", rec.Header().Get(echo.HeaderXRequestID))
}

func TestServerStartFailsOnBusyPort(t *testing.T) {
	first := NewServer(nil, WithHost("127.0.0.1"), WithPort(0), WithRegistry(prometheus.NewRegistry()))
	require.NoError(t, first.Start())
	defer func() { _ = first.Stop(context.Background()) }()

	port := first.Addr().(*net.TCPAddr).Port
	second := NewServer(nil, WithHost("127.0.0.1"), WithPort(port), WithRegistry(prometheus.NewRegistry()))
	assert.Error(t, second.Start())
}
