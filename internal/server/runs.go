package server

import (
	"context"
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"

	"github.com/mohammad-safakhou/newsflow/internal/model"
	"github.com/mohammad-safakhou/newsflow/internal/pipeline"
	"github.com/mohammad-safakhou/newsflow/internal/store"
)

// Runner triggers one pipeline run. Satisfied by pipeline.Orchestrator.
type Runner interface {
	Run(ctx context.Context) (model.RunReport, error)
	RunWith(ctx context.Context, opts pipeline.Options) (model.RunReport, error)
}

// RunsHandler triggers pipeline runs and serves stored run reports.
type RunsHandler struct {
	Runner Runner
	Store  *store.Store
}

func (h *RunsHandler) Register(g *echo.Group, secret []byte) {
	g.Use(func(next echo.HandlerFunc) echo.HandlerFunc { return withAuth(next, secret) })
	g.POST("", h.trigger)
	g.GET("", h.list)
	g.GET("/:id", h.get)
}

// trigger runs the pipeline synchronously and returns the report. Failures
// inside individual sources or channels are annotations on the report, not
// request errors; only a run that could not start at all maps to 503.
func (h *RunsHandler) trigger(c echo.Context) error {
	var req TriggerRunRequest
	if c.Request().ContentLength > 0 {
		if err := c.Bind(&req); err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, err.Error())
		}
	}
	report, err := h.Runner.RunWith(c.Request().Context(), pipeline.Options{Sources: req.Sources, DryRun: req.DryRun})
	if err != nil {
		return echo.NewHTTPError(http.StatusServiceUnavailable, err.Error())
	}
	return c.JSON(http.StatusOK, report)
}

func (h *RunsHandler) list(c echo.Context) error {
	if h.Store == nil {
		return echo.NewHTTPError(http.StatusServiceUnavailable, "run history requires the store")
	}
	limit := 20
	if q := c.QueryParam("limit"); q != "" {
		n, err := strconv.Atoi(q)
		if err != nil || n < 1 {
			return echo.NewHTTPError(http.StatusBadRequest, "limit must be a positive integer")
		}
		limit = n
	}
	runs, err := h.Store.ListRuns(c.Request().Context(), limit)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	if runs == nil {
		runs = []model.RunReport{}
	}
	return c.JSON(http.StatusOK, runs)
}

func (h *RunsHandler) get(c echo.Context) error {
	if h.Store == nil {
		return echo.NewHTTPError(http.StatusServiceUnavailable, "run history requires the store")
	}
	report, ok, err := h.Store.GetRun(c.Request().Context(), c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	if !ok {
		return echo.NewHTTPError(http.StatusNotFound, "run not found")
	}
	return c.JSON(http.StatusOK, report)
}
