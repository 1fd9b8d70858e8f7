package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"QuantPipe/internal/domain/models"
	"QuantPipe/internal/usecase"
	xhttp "QuantPipe/pkg/http"
	xlogger "QuantPipe/pkg/logger"
	"QuantPipe/pkg/util"
)

// Query is the read side the handler serves from.
type Query interface {
	GetBars(ctx context.Context, p usecase.GetBarsParams) (*usecase.GetBarsResult, error)
	GetFeatures(ctx context.Context, symbol string, date time.Time, set string) (models.FeatureRecord, error)
	ListModels(ctx context.Context) ([]models.Model, error)
	ListSignals(ctx context.Context, p usecase.ListSignalsParams) ([]models.SignalRecord, error)
	ListRuns(ctx context.Context, date time.Time) ([]models.PipelineRun, error)
	GetQuality(ctx context.Context, date time.Time) (models.QualityReport, error)
	GetReport(ctx context.Context, date time.Time) (models.PerformanceReport, error)
	Health(ctx context.Context) error
}

// PipelineEchoHandler exposes pipeline output and run control over Echo.
type PipelineEchoHandler struct {
	logger     *xlogger.Logger
	query      Query
	dispatcher usecase.Dispatcher
	loc        *time.Location
	now        func() time.Time
}

// NewPipelineEchoHandler builds the handler. loc is the market time zone a
// run without a date is resolved in.
func NewPipelineEchoHandler(logger *xlogger.Logger, query Query, dispatcher usecase.Dispatcher, loc *time.Location) *PipelineEchoHandler {
	if logger == nil {
		logger = xlogger.NewNop()
	}
	return &PipelineEchoHandler{logger: logger, query: query, dispatcher: dispatcher, loc: loc, now: time.Now}
}

func (h *PipelineEchoHandler) RegisterRoutes(e *echo.Echo) {
	e.GET("/health", h.Health)

	g := e.Group("/api/v1")
	g.POST("/pipeline/runs", h.CreateRun)
	g.GET("/pipeline/runs", h.ListRuns)
	g.GET("/bars/:symbol", h.Bars)
	g.GET("/features/:symbol", h.Features)
	g.GET("/models", h.Models)
	g.GET("/signals", h.Signals)
	g.GET("/reports/latest", h.LatestReport)
	g.GET("/reports/:date", h.Report)
	g.GET("/quality/:date", h.Quality)
}

func (h *PipelineEchoHandler) Health(c echo.Context) error {
	if err := h.query.Health(c.Request().Context()); err != nil {
		h.logger.Warn("health check failed", xlogger.Error(err))
		return xhttp.AppErrorResponse(c, xhttp.ServiceUnavailableError("store unavailable").WithError(err))
	}
	return xhttp.SuccessResponse(c, map[string]string{"status": "ok"})
}

func (h *PipelineEchoHandler) CreateRun(c echo.Context) error {
	req := &models.CreateRunRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}

	run := models.RunRequest{Trigger: "api"}
	if req.Date != "" {
		run.Date, _ = util.ParseDate(req.Date)
	} else {
		run.Date = util.MarketDay(h.now(), h.loc)
	}
	for _, name := range req.Stages {
		st, _ := models.ParseStage(name)
		run.Stages = append(run.Stages, st)
	}

	id, err := h.dispatcher.Dispatch(c.Request().Context(), run)
	if err != nil {
		return h.fail(c, "dispatch run", err)
	}

	stages := make([]string, 0, len(run.Ordered()))
	for _, st := range run.Ordered() {
		stages = append(stages, string(st))
	}
	return xhttp.AcceptedResponse(c, models.RunAccepted{RunID: id, Date: util.FormatDate(run.Date), Stages: stages})
}

func (h *PipelineEchoHandler) ListRuns(c echo.Context) error {
	req := &models.ListRunsRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}
	date, _ := util.ParseDate(req.Date)

	runs, err := h.query.ListRuns(c.Request().Context(), date)
	if err != nil {
		return h.fail(c, "list runs", err)
	}
	return xhttp.ListResponse(c, runs, int64(len(runs)))
}

func (h *PipelineEchoHandler) Bars(c echo.Context) error {
	req := &models.BarsRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}
	from, _ := util.ParseDate(req.From)
	to, _ := util.ParseDate(req.To)

	res, err := h.query.GetBars(c.Request().Context(), usecase.GetBarsParams{
		Symbol: req.Symbol,
		From:   from,
		To:     to,
		Limit:  req.Limit,
	})
	if err != nil {
		return h.fail(c, "get bars", err)
	}
	return xhttp.SuccessResponse(c, res)
}

func (h *PipelineEchoHandler) Features(c echo.Context) error {
	req := &models.FeaturesRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}
	date, _ := util.ParseDate(req.Date)

	rec, err := h.query.GetFeatures(c.Request().Context(), req.Symbol, date, req.Set)
	if err != nil {
		return h.fail(c, "get features", err)
	}
	return xhttp.SuccessResponse(c, rec)
}

func (h *PipelineEchoHandler) Models(c echo.Context) error {
	list, err := h.query.ListModels(c.Request().Context())
	if err != nil {
		return h.fail(c, "list models", err)
	}
	return xhttp.ListResponse(c, list, int64(len(list)))
}

func (h *PipelineEchoHandler) Signals(c echo.Context) error {
	req := &models.SignalsRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}
	date, _ := util.ParseDate(req.Date)

	list, err := h.query.ListSignals(c.Request().Context(), usecase.ListSignalsParams{
		Date:    date,
		ModelID: req.ModelID,
		Symbol:  req.Symbol,
	})
	if err != nil {
		return h.fail(c, "list signals", err)
	}
	return xhttp.ListResponse(c, list, int64(len(list)))
}

func (h *PipelineEchoHandler) LatestReport(c echo.Context) error {
	rep, err := h.query.GetReport(c.Request().Context(), time.Time{})
	if err != nil {
		return h.fail(c, "latest report", err)
	}
	c.Response().Header().Set(echo.HeaderCacheControl, "private, max-age=60")
	return xhttp.SuccessResponse(c, rep)
}

func (h *PipelineEchoHandler) Report(c echo.Context) error {
	req := &models.DateParamRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}
	date, _ := util.ParseDate(req.Date)

	rep, err := h.query.GetReport(c.Request().Context(), date)
	if err != nil {
		return h.fail(c, "get report", err)
	}
	return xhttp.SuccessResponse(c, rep)
}

func (h *PipelineEchoHandler) Quality(c echo.Context) error {
	req := &models.DateParamRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}
	date, _ := util.ParseDate(req.Date)

	rep, err := h.query.GetQuality(c.Request().Context(), date)
	if err != nil {
		return h.fail(c, "get quality", err)
	}
	return xhttp.SuccessResponse(c, rep)
}

// fail maps domain errors onto AppErrors. Unexpected errors are logged.
func (h *PipelineEchoHandler) fail(c echo.Context, op string, err error) error {
	switch {
	case errors.Is(err, models.ErrNotFound):
		return xhttp.AppErrorResponse(c, xhttp.NotFoundError(op+": not found").WithParam("operation", op).WithError(err))
	case errors.Is(err, models.ErrInvalidQuery):
		return xhttp.AppErrorResponse(c, xhttp.BadRequestError(err.Error()).WithError(err))
	case errors.Is(err, models.ErrLocked):
		return xhttp.AppErrorResponse(c, xhttp.ConflictError(err.Error()).WithError(err))
	case errors.Is(err, models.ErrStoreUnavailable):
		h.logger.Error(op+" failed", xlogger.Error(err))
		return xhttp.AppErrorResponse(c, xhttp.ServiceUnavailableError("store unavailable").WithError(err))
	}
	h.logger.Error(op+" failed", xlogger.Error(err), xlogger.Int("status", http.StatusInternalServerError))
	return xhttp.AppErrorResponse(c, err)
}
