package server

import (
	"context"
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/mtwn105/decipher-research-agent/internal/store"
	"github.com/mtwn105/decipher-research-agent/internal/task"
)

// ResearchSubmitter accepts research submissions.
type ResearchSubmitter interface {
	Submit(ctx context.Context, notebookID, topic string, sources []task.ResearchSource) (string, error)
}

// ResearchHandler exposes research task submission and status lookup.
type ResearchHandler struct {
	Manager   ResearchSubmitter
	Tasks     task.TaskRepository
	Notebooks *store.Store
}

func (h *ResearchHandler) Register(g *echo.Group) {
	g.POST("", h.submit)
	g.GET("/:task_id", h.status)
	g.GET("/notebook/:notebook_id", h.listByNotebook)
}

func (h *ResearchHandler) submit(c echo.Context) error {
	var req ResearchRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if req.NotebookID == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "notebook_id required")
	}
	if req.Topic != "" && len(req.Topic) < 3 {
		return echo.NewHTTPError(http.StatusBadRequest, "topic must be at least 3 characters")
	}
	if req.Topic == "" && len(req.Sources) == 0 {
		return echo.NewHTTPError(http.StatusBadRequest, "topic or sources required")
	}
	ctx := c.Request().Context()
	if h.Notebooks != nil {
		if err := h.Notebooks.EnsureNotebook(ctx, req.NotebookID); err != nil {
			return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
		}
	}
	id, err := h.Manager.Submit(ctx, req.NotebookID, req.Topic, req.Sources)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusAccepted, TaskResponse{
		TaskID:     id,
		NotebookID: req.NotebookID,
		Status:     string(task.StatusPending),
		Message:    "Research task accepted",
	})
}

func (h *ResearchHandler) status(c echo.Context) error {
	t, err := h.Tasks.Get(c.Request().Context(), c.Param("task_id"))
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return echo.NewHTTPError(http.StatusNotFound, "task not found")
		}
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, taskStatusResponse(t))
}

func (h *ResearchHandler) listByNotebook(c echo.Context) error {
	tasks, err := h.Tasks.ListByNotebook(c.Request().Context(), c.Param("notebook_id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	items := make([]TaskListItem, 0, len(tasks))
	for _, t := range tasks {
		items = append(items, taskListItem(t))
	}
	return c.JSON(http.StatusOK, TaskList{Tasks: items, Total: len(items)})
}
