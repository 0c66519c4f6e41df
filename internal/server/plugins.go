package server

import (
	"context"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/mohammad-safakhou/newsflow/internal/plugin"
	"github.com/mohammad-safakhou/newsflow/internal/store"
)

// PluginsHandler manages registry descriptors over HTTP. Writes go to the
// registry first (which rejects unknown modules and bad config) and are then
// mirrored to the store so they survive a restart.
type PluginsHandler struct {
	Registry *plugin.Registry
	Store    *store.Store
}

func (h *PluginsHandler) Register(g *echo.Group, secret []byte) {
	g.Use(func(next echo.HandlerFunc) echo.HandlerFunc { return withAuth(next, secret) })
	g.GET("", h.list)
	g.POST("", h.upsert)
	g.PUT("/:kind/:name/enabled", h.setEnabled)
	g.DELETE("/:kind/:name", h.delete)
}

func (h *PluginsHandler) list(c echo.Context) error {
	kinds := plugin.Kinds
	if q := c.QueryParam("kind"); q != "" {
		kinds = []plugin.Kind{plugin.Kind(q)}
	}
	out := map[string][]plugin.Descriptor{}
	for _, k := range kinds {
		list := h.Registry.Descriptors(k)
		if list == nil {
			list = []plugin.Descriptor{}
		}
		out[string(k)] = list
	}
	return c.JSON(http.StatusOK, out)
}

func (h *PluginsHandler) upsert(c echo.Context) error {
	var req PluginRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	d := req.Descriptor()
	if err := h.Registry.Upsert(d); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if err := h.persist(c.Request().Context(), d); err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusCreated, d)
}

func (h *PluginsHandler) setEnabled(c echo.Context) error {
	var req PluginEnableRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	kind := plugin.Kind(c.Param("kind"))
	name := c.Param("name")
	if err := h.Registry.SetEnabled(kind, name, req.Enabled); err != nil {
		return echo.NewHTTPError(http.StatusNotFound, err.Error())
	}
	if h.Store != nil {
		if _, err := h.Store.SetPluginEnabled(c.Request().Context(), kind, name, req.Enabled); err != nil {
			return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
		}
	}
	return c.NoContent(http.StatusOK)
}

func (h *PluginsHandler) delete(c echo.Context) error {
	kind := plugin.Kind(c.Param("kind"))
	name := c.Param("name")
	if err := h.Registry.Delete(kind, name); err != nil {
		return echo.NewHTTPError(http.StatusNotFound, err.Error())
	}
	if h.Store != nil {
		if err := h.Store.DeletePlugin(c.Request().Context(), kind, name); err != nil {
			return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
		}
	}
	return c.NoContent(http.StatusNoContent)
}

func (h *PluginsHandler) persist(ctx context.Context, d plugin.Descriptor) error {
	if h.Store == nil {
		return nil
	}
	return h.Store.UpsertPlugin(ctx, d)
}
