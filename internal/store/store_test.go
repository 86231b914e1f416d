package store

import (
	"context"
	"encoding/json"
	"errors"
	"regexp"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"

	"github.com/mtwn105/decipher-research-agent/internal/pipeline"
	"github.com/mtwn105/decipher-research-agent/internal/task"
)

func newMockStore(t *testing.T) (*Store, sqlmock.Sqlmock, func()) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	return NewWithDB(db), mock, func() { _ = db.Close() }
}

func TestCreateTask(t *testing.T) {
	s, mock, done := newMockStore(t)
	defer done()

	created := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	sources := []task.ResearchSource{{Type: task.SourceURL, URL: "https://x.example"}}
	encoded, _ := json.Marshal(sources)

	mock.ExpectExec(regexp.QuoteMeta(`
        INSERT INTO research_tasks (id, notebook_id, topic, sources, status, created_at)
        VALUES ($1,$2,$3,$4,$5,$6)`)).
		WithArgs("task-1", "nb-1", "robotics", encoded, "pending", created).
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := s.Create(context.Background(), &task.Task{
		ID:         "task-1",
		NotebookID: "nb-1",
		Topic:      "robotics",
		Sources:    sources,
		Status:     task.StatusPending,
		CreatedAt:  created,
	})
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestUpdateStatusStampsTerminalTime(t *testing.T) {
	s, mock, done := newMockStore(t)
	defer done()

	mock.ExpectExec(regexp.QuoteMeta(`UPDATE research_tasks SET status=$2, completed_at=NOW() WHERE id=$1`)).
		WithArgs("task-1", "completed").
		WillReturnResult(sqlmock.NewResult(0, 1))

	if err := s.UpdateStatus(context.Background(), "task-1", task.StatusCompleted); err != nil {
		t.Fatalf("UpdateStatus failed: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestUpdateStatusMissingTask(t *testing.T) {
	s, mock, done := newMockStore(t)
	defer done()

	mock.ExpectExec(regexp.QuoteMeta(`UPDATE research_tasks SET status=$2 WHERE id=$1`)).
		WithArgs("missing", "running").
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := s.UpdateStatus(context.Background(), "missing", task.StatusRunning)
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestGetTask(t *testing.T) {
	s, mock, done := newMockStore(t)
	defer done()

	created := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	completed := created.Add(2 * time.Minute)
	result, _ := json.Marshal(&pipeline.ResearchResult{Title: "Findings", Document: "body"})

	rows := sqlmock.NewRows([]string{
		"id", "notebook_id", "topic", "sources", "status", "result", "error", "created_at", "completed_at", "failed_at",
	}).AddRow("task-1", "nb-1", "robotics", []byte("[]"), "completed", result, nil, created, completed, nil)

	mock.ExpectQuery(regexp.QuoteMeta(`
        SELECT id, notebook_id, topic, sources, status, result, error, created_at, completed_at, failed_at
        FROM research_tasks WHERE id=$1`)).
		WithArgs("task-1").
		WillReturnRows(rows)

	got, err := s.Get(context.Background(), "task-1")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got.Status != task.StatusCompleted {
		t.Errorf("unexpected status %s", got.Status)
	}
	if got.Result == nil || got.Result.Title != "Findings" {
		t.Errorf("result not decoded: %+v", got.Result)
	}
	if got.CompletedAt == nil || !got.CompletedAt.Equal(completed) {
		t.Errorf("completed_at not decoded: %v", got.CompletedAt)
	}
	if got.FailedAt != nil {
		t.Errorf("failed_at should be nil")
	}
}

func TestGetTaskNotFound(t *testing.T) {
	s, mock, done := newMockStore(t)
	defer done()

	mock.ExpectQuery(regexp.QuoteMeta(`FROM research_tasks WHERE id=$1`)).
		WithArgs("missing").
		WillReturnRows(sqlmock.NewRows([]string{"id"}))

	_, err := s.Get(context.Background(), "missing")
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestListByNotebook(t *testing.T) {
	s, mock, done := newMockStore(t)
	defer done()

	created := time.Now().UTC()
	rows := sqlmock.NewRows([]string{
		"id", "notebook_id", "topic", "sources", "status", "result", "error", "created_at", "completed_at", "failed_at",
	}).
		AddRow("t2", "nb-1", "b", []byte("[]"), "pending", nil, nil, created, nil, nil).
		AddRow("t1", "nb-1", "a", []byte("[]"), "failed", nil, "pipeline blew up", created.Add(-time.Hour), nil, created)

	mock.ExpectQuery(regexp.QuoteMeta(`FROM research_tasks WHERE notebook_id=$1 ORDER BY created_at DESC`)).
		WithArgs("nb-1").
		WillReturnRows(rows)

	got, err := s.ListByNotebook(context.Background(), "nb-1")
	if err != nil {
		t.Fatalf("ListByNotebook failed: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 tasks, got %d", len(got))
	}
	if got[1].Error != "pipeline blew up" {
		t.Errorf("error message not decoded: %q", got[1].Error)
	}
}

func TestNotebookStatusUpdate(t *testing.T) {
	s, mock, done := newMockStore(t)
	defer done()

	mock.ExpectExec(regexp.QuoteMeta(`
        UPDATE notebooks SET status=$2, message=$3, updated_at=NOW() WHERE id=$1`)).
		WithArgs("nb-1", "error", "Research failed. Please try again.").
		WillReturnResult(sqlmock.NewResult(0, 1))

	repo := s.Notebooks()
	if err := repo.UpdateStatus(context.Background(), "nb-1", task.NotebookError, "Research failed. Please try again."); err != nil {
		t.Fatalf("UpdateStatus failed: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestGetNotebook(t *testing.T) {
	s, mock, done := newMockStore(t)
	defer done()

	now := time.Now().UTC()
	rows := sqlmock.NewRows([]string{"id", "title", "topic", "status", "message", "created_at", "updated_at"}).
		AddRow("nb-1", "Findings", "robotics", "processed", nil, now, now)

	mock.ExpectQuery(regexp.QuoteMeta(`FROM notebooks WHERE id=$1`)).
		WithArgs("nb-1").
		WillReturnRows(rows)

	got, err := s.GetNotebook(context.Background(), "nb-1")
	if err != nil {
		t.Fatalf("GetNotebook failed: %v", err)
	}
	if got.Status != task.NotebookProcessed || got.Title != "Findings" {
		t.Errorf("unexpected notebook: %+v", got)
	}
}
