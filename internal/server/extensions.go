package server

import (
	"context"
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/mohammad-safakhou/newsflow/internal/extension"
)

// ExtensionService is the slice of the agent the HTTP layer needs.
type ExtensionService interface {
	Submit(ctx context.Context, req extension.Request) (extension.Job, error)
	Job(id string) (extension.Job, bool)
	Jobs() []extension.Job
}

// ExtensionsHandler exposes the extension agent: submit a request for a new
// source plugin and poll the job as it moves through its states.
type ExtensionsHandler struct {
	Agent ExtensionService
}

func (h *ExtensionsHandler) Register(g *echo.Group, secret []byte) {
	g.Use(func(next echo.HandlerFunc) echo.HandlerFunc { return withAuth(next, secret) })
	g.POST("", h.submit)
	g.GET("", h.list)
	g.GET("/:id", h.get)
}

func (h *ExtensionsHandler) submit(c echo.Context) error {
	var req ExtensionSubmitRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	job, err := h.Agent.Submit(c.Request().Context(), extension.Request{
		SourceName:  req.SourceName,
		Description: req.Description,
		URL:         req.URL,
		Topics:      req.Topics,
	})
	if err != nil {
		if errors.Is(err, extension.ErrJobActive) {
			return echo.NewHTTPError(http.StatusConflict, err.Error())
		}
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	return c.JSON(http.StatusAccepted, job)
}

func (h *ExtensionsHandler) list(c echo.Context) error {
	jobs := h.Agent.Jobs()
	if jobs == nil {
		jobs = []extension.Job{}
	}
	return c.JSON(http.StatusOK, jobs)
}

func (h *ExtensionsHandler) get(c echo.Context) error {
	job, ok := h.Agent.Job(c.Param("id"))
	if !ok {
		return echo.NewHTTPError(http.StatusNotFound, "job not found")
	}
	return c.JSON(http.StatusOK, job)
}
