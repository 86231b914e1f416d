package server

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/mtwn105/decipher-research-agent/internal/sources"
)

// SourcesHandler exposes chunk search and bulk deletion.
type SourcesHandler struct {
	Store *sources.SourceStore
}

func (h *SourcesHandler) Register(g *echo.Group) {
	g.POST("/search", h.search)
	g.DELETE("/notebook/:notebook_id", h.deleteByNotebook)
}

func (h *SourcesHandler) search(c echo.Context) error {
	var req SourceSearchRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if req.Query == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "query required")
	}
	var (
		results []sources.SearchResult
		err     error
	)
	if req.Keyword {
		results, err = h.Store.KeywordSearch(req.Query, req.NotebookID, req.Limit)
	} else {
		results, err = h.Store.Search(c.Request().Context(), req.Query, req.NotebookID, req.Limit)
	}
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	if results == nil {
		results = []sources.SearchResult{}
	}
	return c.JSON(http.StatusOK, map[string]any{"results": results, "total": len(results)})
}

func (h *SourcesHandler) deleteByNotebook(c echo.Context) error {
	notebookID := c.Param("notebook_id")
	n, err := h.Store.DeleteByNotebook(c.Request().Context(), notebookID)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, DeleteSourcesResponse{NotebookID: notebookID, Deleted: n})
}
