package task

import (
	"time"

	"github.com/mtwn105/decipher-research-agent/internal/pipeline"
)

// Status is the lifecycle state of a research task.
type Status string

const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

// Terminal reports whether the status admits no further transitions.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// NotebookStatus is the processing state surfaced on a notebook.
type NotebookStatus string

const (
	NotebookNotStarted NotebookStatus = "not_started"
	NotebookInProgress NotebookStatus = "in_progress"
	NotebookProcessed  NotebookStatus = "processed"
	NotebookError      NotebookStatus = "error"
)

// SourceType classifies a user-supplied research source.
type SourceType string

const (
	SourceURL    SourceType = "URL"
	SourceManual SourceType = "MANUAL"
	SourceFile   SourceType = "FILE"
)

// ResearchSource is a user-supplied input attached to a research request.
type ResearchSource struct {
	Type    SourceType `json:"type"`
	URL     string     `json:"url,omitempty"`
	Content string     `json:"content,omitempty"`
}

// Task is one research submission and its outcome.
type Task struct {
	ID          string                   `json:"id"`
	NotebookID  string                   `json:"notebook_id"`
	Topic       string                   `json:"topic,omitempty"`
	Sources     []ResearchSource         `json:"sources,omitempty"`
	Status      Status                   `json:"status"`
	Result      *pipeline.ResearchResult `json:"result,omitempty"`
	Error       string                   `json:"error,omitempty"`
	CreatedAt   time.Time                `json:"created_at"`
	CompletedAt *time.Time               `json:"completed_at,omitempty"`
	FailedAt    *time.Time               `json:"failed_at,omitempty"`
}

// Notebook is the research workspace a task writes into.
type Notebook struct {
	ID        string         `json:"id"`
	Title     string         `json:"title,omitempty"`
	Topic     string         `json:"topic,omitempty"`
	Status    NotebookStatus `json:"status"`
	Message   string         `json:"message,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
}
