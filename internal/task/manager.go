package task

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/mtwn105/decipher-research-agent/internal/agent/telemetry"
	"github.com/mtwn105/decipher-research-agent/internal/pipeline"
)

// FailureMessage is the user-facing notebook message on any failed research
// run. Internal error detail stays on the task record.
const FailureMessage = "Research failed. Please try again."

// Runner executes a research pipeline for a topic.
type Runner interface {
	Run(ctx context.Context, topic string) (pipeline.ResearchResult, error)
}

// SourceIngester stores scraped documents for later retrieval.
type SourceIngester interface {
	AddSource(ctx context.Context, url, title, content, summary, notebookID string, metadata map[string]any) ([]string, error)
}

// Manager owns the task lifecycle: it accepts submissions, runs the
// pipeline in the background and drives task and notebook status.
type Manager struct {
	tasks       TaskRepository
	notebooks   NotebookRepository
	runner      Runner
	sources     SourceIngester
	telemetry   *telemetry.Telemetry
	logger      *log.Logger
	maxAttempts int

	wg sync.WaitGroup
}

// NewManager creates a task manager. sources may be nil, in which case
// scraped documents are not indexed. maxAttempts below 1 defaults to 1.
func NewManager(tasks TaskRepository, notebooks NotebookRepository, runner Runner, sources SourceIngester, tele *telemetry.Telemetry, maxAttempts int) *Manager {
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	return &Manager{
		tasks:       tasks,
		notebooks:   notebooks,
		runner:      runner,
		sources:     sources,
		telemetry:   tele,
		logger:      log.New(log.Writer(), "[TASKS] ", log.LstdFlags),
		maxAttempts: maxAttempts,
	}
}

// Submit records a pending task and starts executing it in the background.
// It returns the task id immediately.
func (m *Manager) Submit(ctx context.Context, notebookID, topic string, sources []ResearchSource) (string, error) {
	t := &Task{
		ID:         uuid.NewString(),
		NotebookID: notebookID,
		Topic:      topic,
		Sources:    sources,
		Status:     StatusPending,
		CreatedAt:  time.Now().UTC(),
	}
	if err := m.tasks.Create(ctx, t); err != nil {
		return "", fmt.Errorf("creating task: %w", err)
	}
	m.logger.Printf("task %s submitted for notebook %s", t.ID, notebookID)

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		m.execute(context.WithoutCancel(ctx), t)
	}()
	return t.ID, nil
}

// Wait blocks until all in-flight executions finish. Used on shutdown and
// in tests.
func (m *Manager) Wait() {
	m.wg.Wait()
}

// execute drives one task to a terminal status. A panic anywhere in the run
// resolves to the failed path, so the caller's goroutine never dies with an
// unresolved task.
func (m *Manager) execute(ctx context.Context, t *Task) {
	defer func() {
		if r := recover(); r != nil {
			m.logger.Printf("task %s panicked: %v", t.ID, r)
			m.fail(ctx, t, fmt.Errorf("internal error: %v", r))
		}
	}()

	if err := m.notebooks.UpdateStatus(ctx, t.NotebookID, NotebookInProgress, ""); err != nil {
		m.logger.Printf("task %s: marking notebook in_progress: %v", t.ID, err)
	}
	if err := m.tasks.UpdateStatus(ctx, t.ID, StatusRunning); err != nil {
		m.logger.Printf("task %s: marking running: %v", t.ID, err)
	}

	switch {
	case t.Topic != "" && len(t.Sources) == 0:
		m.executeTopicResearch(ctx, t)
	default:
		// Source-based and mixed submissions are accepted by the API but
		// not yet executable. The task stays running for observability.
		m.logger.Printf("task %s: unsupported request shape (topic=%t sources=%d), leaving non-terminal", t.ID, t.Topic != "", len(t.Sources))
	}
}

func (m *Manager) executeTopicResearch(ctx context.Context, t *Task) {
	var (
		result pipeline.ResearchResult
		err    error
	)
	for attempt := 1; attempt <= m.maxAttempts; attempt++ {
		result, err = m.runner.Run(ctx, t.Topic)
		if err == nil {
			break
		}
		m.logger.Printf("task %s attempt %d/%d failed: %v", t.ID, attempt, m.maxAttempts, err)
	}
	if err != nil {
		m.fail(ctx, t, err)
		return
	}
	m.complete(ctx, t, &result)
}

func (m *Manager) complete(ctx context.Context, t *Task, result *pipeline.ResearchResult) {
	if err := m.tasks.UpdateResult(ctx, t.ID, result); err != nil {
		m.logger.Printf("task %s: persisting result: %v", t.ID, err)
		m.fail(ctx, t, fmt.Errorf("persisting result: %w", err))
		return
	}
	if err := m.tasks.UpdateStatus(ctx, t.ID, StatusCompleted); err != nil {
		m.logger.Printf("task %s: marking completed: %v", t.ID, err)
	}
	if err := m.notebooks.Update(ctx, t.NotebookID, result.Title, t.Topic); err != nil {
		m.logger.Printf("task %s: updating notebook: %v", t.ID, err)
	}
	if err := m.notebooks.UpdateStatus(ctx, t.NotebookID, NotebookProcessed, ""); err != nil {
		m.logger.Printf("task %s: marking notebook processed: %v", t.ID, err)
	}
	m.ingestSources(ctx, t, result)
	m.telemetry.RecordTaskTerminal(string(StatusCompleted))
	m.logger.Printf("task %s completed for notebook %s", t.ID, t.NotebookID)
}

func (m *Manager) fail(ctx context.Context, t *Task, cause error) {
	if err := m.tasks.UpdateError(ctx, t.ID, cause.Error()); err != nil {
		m.logger.Printf("task %s: recording error: %v", t.ID, err)
	}
	if err := m.tasks.UpdateStatus(ctx, t.ID, StatusFailed); err != nil {
		m.logger.Printf("task %s: marking failed: %v", t.ID, err)
	}
	if err := m.notebooks.UpdateStatus(ctx, t.NotebookID, NotebookError, FailureMessage); err != nil {
		m.logger.Printf("task %s: marking notebook error: %v", t.ID, err)
	}
	m.telemetry.RecordTaskTerminal(string(StatusFailed))
	m.logger.Printf("task %s failed for notebook %s: %v", t.ID, t.NotebookID, cause)
}

func (m *Manager) ingestSources(ctx context.Context, t *Task, result *pipeline.ResearchResult) {
	if m.sources == nil {
		return
	}
	for _, doc := range result.Sources {
		if _, err := m.sources.AddSource(ctx, doc.URL, doc.PageTitle, doc.Content, result.Title, t.NotebookID, nil); err != nil {
			m.logger.Printf("task %s: indexing %s: %v", t.ID, doc.URL, err)
		}
	}
}
