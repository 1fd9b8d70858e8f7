package http

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type listRequest struct {
	Symbol string   `param:"symbol" validate:"required"`
	Date   string   `query:"date" validate:"omitempty,datetime=2006-01-02"`
	Limit  int      `query:"limit" default:"50" validate:"min=1,max=500"`
	Stages []string `json:"stages" validate:"omitempty,dive,oneof=ingestion features"`
}

func bindContext(method, target, body string) echo.Context {
	e := echo.New()
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	if body != "" {
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	}
	return e.NewContext(req, httptest.NewRecorder())
}

func TestReadAndValidateRequest(t *testing.T) {
	t.Run("defaults applied", func(t *testing.T) {
		c := bindContext(http.MethodGet, "/bars/AAPL", "")
		c.SetParamNames("symbol")
		c.SetParamValues("AAPL")

		var req listRequest
		assert.Nil(t, ReadAndValidateRequest(c, &req))
		assert.Equal(t, "AAPL", req.Symbol)
		assert.Equal(t, 50, req.Limit)
	})

	t.Run("client field names", func(t *testing.T) {
		c := bindContext(http.MethodGet, "/bars?date=2024/01/02&limit=900", `{"stages":["ingestion","bogus"]}`)

		var req listRequest
		res := ReadAndValidateRequest(c, &req)
		errs, ok := res.([]ValidationError)
		require.True(t, ok)

		byField := make(map[string]ValidationError, len(errs))
		for _, e := range errs {
			byField[e.Field] = e
		}
		require.Contains(t, byField, "symbol")
		assert.Equal(t, "ERR_REQUIRED", byField["symbol"].Code)
		require.Contains(t, byField, "date")
		assert.Equal(t, "ERR_DATETIME", byField["date"].Code)
		require.Contains(t, byField, "limit")
		assert.Equal(t, "500", byField["limit"].Params["max"])
		require.Contains(t, byField, "stages[1]")
		assert.Equal(t, "stages[1] must be one of: ingestion, features", byField["stages[1]"].Message)
	})

	t.Run("malformed body", func(t *testing.T) {
		c := bindContext(http.MethodPost, "/bars", `{"stages":`)

		var req listRequest
		errs, ok := ReadAndValidateRequest(c, &req).([]ValidationError)
		require.True(t, ok)
		require.Len(t, errs, 1)
		assert.Equal(t, "ERR_BIND", errs[0].Code)
	})
}
