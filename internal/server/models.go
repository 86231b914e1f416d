package server

import (
	"time"

	"github.com/mtwn105/decipher-research-agent/internal/pipeline"
	"github.com/mtwn105/decipher-research-agent/internal/task"
)

// ResearchRequest is the POST /api/research payload.
type ResearchRequest struct {
	NotebookID string                `json:"notebook_id"`
	Topic      string                `json:"topic,omitempty"`
	Sources    []task.ResearchSource `json:"sources,omitempty"`
}

// TaskResponse acknowledges an accepted research submission.
type TaskResponse struct {
	TaskID     string `json:"task_id"`
	NotebookID string `json:"notebook_id"`
	Status     string `json:"status"`
	Message    string `json:"message"`
}

// TaskStatusResponse is the full view of one task.
type TaskStatusResponse struct {
	TaskID      string                   `json:"task_id"`
	NotebookID  string                   `json:"notebook_id"`
	Topic       string                   `json:"topic,omitempty"`
	Sources     []task.ResearchSource    `json:"sources,omitempty"`
	Status      string                   `json:"status"`
	CreatedAt   time.Time                `json:"created_at"`
	Result      *pipeline.ResearchResult `json:"result,omitempty"`
	Error       string                   `json:"error,omitempty"`
	CompletedAt *time.Time               `json:"completed_at,omitempty"`
	FailedAt    *time.Time               `json:"failed_at,omitempty"`
}

// TaskListItem is the abbreviated task view in notebook listings.
type TaskListItem struct {
	TaskID      string                `json:"task_id"`
	NotebookID  string                `json:"notebook_id"`
	Topic       string                `json:"topic,omitempty"`
	Sources     []task.ResearchSource `json:"sources,omitempty"`
	Status      string                `json:"status"`
	CreatedAt   time.Time             `json:"created_at"`
	CompletedAt *time.Time            `json:"completed_at,omitempty"`
}

// TaskList wraps notebook task listings.
type TaskList struct {
	Tasks []TaskListItem `json:"tasks"`
	Total int            `json:"total"`
}

// SourceSearchRequest is the POST /api/sources/search payload.
type SourceSearchRequest struct {
	Query      string `json:"query"`
	NotebookID string `json:"notebook_id,omitempty"`
	Limit      int    `json:"limit,omitempty"`
	Keyword    bool   `json:"keyword,omitempty"`
}

// DeleteSourcesResponse reports a bulk delete outcome.
type DeleteSourcesResponse struct {
	NotebookID string `json:"notebook_id"`
	Deleted    int    `json:"deleted"`
}

func taskStatusResponse(t *task.Task) TaskStatusResponse {
	return TaskStatusResponse{
		TaskID:      t.ID,
		NotebookID:  t.NotebookID,
		Topic:       t.Topic,
		Sources:     t.Sources,
		Status:      string(t.Status),
		CreatedAt:   t.CreatedAt,
		Result:      t.Result,
		Error:       t.Error,
		CompletedAt: t.CompletedAt,
		FailedAt:    t.FailedAt,
	}
}

func taskListItem(t *task.Task) TaskListItem {
	return TaskListItem{
		TaskID:      t.ID,
		NotebookID:  t.NotebookID,
		Topic:       t.Topic,
		Sources:     t.Sources,
		Status:      string(t.Status),
		CreatedAt:   t.CreatedAt,
		CompletedAt: t.CompletedAt,
	}
}
