package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"regexp"
	"strings"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/labstack/echo/v4"

	"github.com/mtwn105/decipher-research-agent/internal/store"
	"github.com/mtwn105/decipher-research-agent/internal/task"
)

type fakeSubmitter struct {
	notebookID string
	topic      string
	sources    []task.ResearchSource
}

func (f *fakeSubmitter) Submit(ctx context.Context, notebookID, topic string, sources []task.ResearchSource) (string, error) {
	f.notebookID = notebookID
	f.topic = topic
	f.sources = sources
	return "task-xyz", nil
}

func TestSubmitResearch(t *testing.T) {
	e := echo.New()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer db.Close()

	mock.ExpectExec(regexp.QuoteMeta(`INSERT INTO notebooks`)).
		WithArgs("nb-1", "not_started").
		WillReturnResult(sqlmock.NewResult(0, 1))

	submitter := &fakeSubmitter{}
	st := store.NewWithDB(db)
	handler := &ResearchHandler{Manager: submitter, Tasks: st, Notebooks: st}

	req := httptest.NewRequest(http.MethodPost, "/api/research", strings.NewReader(`{"notebook_id":"nb-1","topic":"solar power trends"}`))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()
	ctx := e.NewContext(req, rec)

	if err := handler.submit(ctx); err != nil {
		t.Fatalf("submit: %v", err)
	}
	if rec.Code != http.StatusAccepted {
		t.Fatalf("expected status 202 got %d", rec.Code)
	}

	var resp TaskResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.TaskID != "task-xyz" || resp.Status != "pending" {
		t.Fatalf("unexpected response: %+v", resp)
	}
	if submitter.topic != "solar power trends" || submitter.notebookID != "nb-1" {
		t.Fatalf("submission not forwarded: %+v", submitter)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestSubmitResearchRejectsBadPayloads(t *testing.T) {
	e := echo.New()
	handler := &ResearchHandler{Manager: &fakeSubmitter{}}

	cases := []struct {
		name string
		body string
	}{
		{"missing notebook", `{"topic":"solar power"}`},
		{"short topic", `{"notebook_id":"nb-1","topic":"ab"}`},
		{"no topic or sources", `{"notebook_id":"nb-1"}`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/api/research", strings.NewReader(tc.body))
			req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
			rec := httptest.NewRecorder()
			ctx := e.NewContext(req, rec)

			err := handler.submit(ctx)
			he, ok := err.(*echo.HTTPError)
			if !ok || he.Code != http.StatusBadRequest {
				t.Fatalf("expected 400, got %v", err)
			}
		})
	}
}

func TestTaskStatus(t *testing.T) {
	e := echo.New()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer db.Close()

	created := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	rows := sqlmock.NewRows([]string{
		"id", "notebook_id", "topic", "sources", "status", "result", "error", "created_at", "completed_at", "failed_at",
	}).AddRow("task-1", "nb-1", "solar", []byte("[]"), "failed", nil, "pipeline blew up", created, nil, created.Add(time.Minute))

	mock.ExpectQuery(regexp.QuoteMeta(`FROM research_tasks WHERE id=$1`)).
		WithArgs("task-1").
		WillReturnRows(rows)

	handler := &ResearchHandler{Tasks: store.NewWithDB(db)}

	req := httptest.NewRequest(http.MethodGet, "/api/research/task-1", nil)
	rec := httptest.NewRecorder()
	ctx := e.NewContext(req, rec)
	ctx.SetParamNames("task_id")
	ctx.SetParamValues("task-1")

	if err := handler.status(ctx); err != nil {
		t.Fatalf("status: %v", err)
	}
	var resp TaskStatusResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.Status != "failed" || resp.Error != "pipeline blew up" {
		t.Fatalf("unexpected response: %+v", resp)
	}
	if resp.FailedAt == nil {
		t.Fatal("failed_at missing")
	}
}

func TestTaskStatusNotFound(t *testing.T) {
	e := echo.New()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer db.Close()

	mock.ExpectQuery(regexp.QuoteMeta(`FROM research_tasks WHERE id=$1`)).
		WithArgs("nope").
		WillReturnRows(sqlmock.NewRows([]string{"id"}))

	handler := &ResearchHandler{Tasks: store.NewWithDB(db)}

	req := httptest.NewRequest(http.MethodGet, "/api/research/nope", nil)
	rec := httptest.NewRecorder()
	ctx := e.NewContext(req, rec)
	ctx.SetParamNames("task_id")
	ctx.SetParamValues("nope")

	err = handler.status(ctx)
	he, ok := err.(*echo.HTTPError)
	if !ok || he.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %v", err)
	}
}
