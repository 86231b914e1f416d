package task

import (
	"context"

	"github.com/mtwn105/decipher-research-agent/internal/pipeline"
)

// TaskRepository persists research tasks.
type TaskRepository interface {
	Create(ctx context.Context, t *Task) error
	UpdateStatus(ctx context.Context, id string, status Status) error
	UpdateResult(ctx context.Context, id string, result *pipeline.ResearchResult) error
	UpdateError(ctx context.Context, id string, message string) error
	Get(ctx context.Context, id string) (*Task, error)
	ListByNotebook(ctx context.Context, notebookID string) ([]*Task, error)
}

// NotebookRepository persists notebook processing state.
type NotebookRepository interface {
	Get(ctx context.Context, id string) (*Notebook, error)
	Update(ctx context.Context, id, title, topic string) error
	UpdateStatus(ctx context.Context, id string, status NotebookStatus, message string) error
}
