package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	_ "github.com/lib/pq"

	"github.com/mtwn105/decipher-research-agent/internal/pipeline"
	"github.com/mtwn105/decipher-research-agent/internal/task"
)

// ErrNotFound is returned when a task or notebook does not exist.
var ErrNotFound = errors.New("not found")

// Store is the Postgres persistence layer. It implements
// task.TaskRepository and task.NotebookRepository.
type Store struct {
	DB *sql.DB
}

// NewWithDSN constructs the Store using an explicit Postgres DSN.
func NewWithDSN(ctx context.Context, dsn string) (*Store, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, err
	}
	if err := db.PingContext(ctx); err != nil {
		return nil, err
	}
	return &Store{DB: db}, nil
}

// NewWithDB wraps an existing connection, used by tests.
func NewWithDB(db *sql.DB) *Store {
	return &Store{DB: db}
}

func (s *Store) Close() error {
	return s.DB.Close()
}

// Task operations

func (s *Store) Create(ctx context.Context, t *task.Task) error {
	sources, err := json.Marshal(t.Sources)
	if err != nil {
		return fmt.Errorf("encoding sources: %w", err)
	}
	_, err = s.DB.ExecContext(ctx, `
        INSERT INTO research_tasks (id, notebook_id, topic, sources, status, created_at)
        VALUES ($1,$2,$3,$4,$5,$6)`,
		t.ID, t.NotebookID, t.Topic, sources, string(t.Status), t.CreatedAt)
	return err
}

func (s *Store) UpdateStatus(ctx context.Context, id string, status task.Status) error {
	query := `UPDATE research_tasks SET status=$2 WHERE id=$1`
	switch status {
	case task.StatusCompleted:
		query = `UPDATE research_tasks SET status=$2, completed_at=NOW() WHERE id=$1`
	case task.StatusFailed:
		query = `UPDATE research_tasks SET status=$2, failed_at=NOW() WHERE id=$1`
	}
	res, err := s.DB.ExecContext(ctx, query, id, string(status))
	if err != nil {
		return err
	}
	return requireRow(res)
}

func (s *Store) UpdateResult(ctx context.Context, id string, result *pipeline.ResearchResult) error {
	payload, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("encoding result: %w", err)
	}
	res, err := s.DB.ExecContext(ctx, `UPDATE research_tasks SET result=$2 WHERE id=$1`, id, payload)
	if err != nil {
		return err
	}
	return requireRow(res)
}

func (s *Store) UpdateError(ctx context.Context, id string, message string) error {
	res, err := s.DB.ExecContext(ctx, `UPDATE research_tasks SET error=$2 WHERE id=$1`, id, message)
	if err != nil {
		return err
	}
	return requireRow(res)
}

func (s *Store) Get(ctx context.Context, id string) (*task.Task, error) {
	row := s.DB.QueryRowContext(ctx, `
        SELECT id, notebook_id, topic, sources, status, result, error, created_at, completed_at, failed_at
        FROM research_tasks WHERE id=$1`, id)
	t, err := scanTask(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return t, err
}

func (s *Store) ListByNotebook(ctx context.Context, notebookID string) ([]*task.Task, error) {
	rows, err := s.DB.QueryContext(ctx, `
        SELECT id, notebook_id, topic, sources, status, result, error, created_at, completed_at, failed_at
        FROM research_tasks WHERE notebook_id=$1 ORDER BY created_at DESC`, notebookID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*task.Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTask(row rowScanner) (*task.Task, error) {
	var (
		t           task.Task
		status      string
		topic       sql.NullString
		sources     []byte
		result      []byte
		errMsg      sql.NullString
		completedAt sql.NullTime
		failedAt    sql.NullTime
	)
	err := row.Scan(&t.ID, &t.NotebookID, &topic, &sources, &status, &result, &errMsg, &t.CreatedAt, &completedAt, &failedAt)
	if err != nil {
		return nil, err
	}
	t.Status = task.Status(status)
	t.Topic = topic.String
	t.Error = errMsg.String
	if completedAt.Valid {
		ts := completedAt.Time
		t.CompletedAt = &ts
	}
	if failedAt.Valid {
		ts := failedAt.Time
		t.FailedAt = &ts
	}
	if len(sources) > 0 {
		if err := json.Unmarshal(sources, &t.Sources); err != nil {
			return nil, fmt.Errorf("decoding sources: %w", err)
		}
	}
	if len(result) > 0 {
		var r pipeline.ResearchResult
		if err := json.Unmarshal(result, &r); err != nil {
			return nil, fmt.Errorf("decoding result: %w", err)
		}
		t.Result = &r
	}
	return &t, nil
}

// Notebook operations

func (s *Store) GetNotebook(ctx context.Context, id string) (*task.Notebook, error) {
	var (
		n       task.Notebook
		title   sql.NullString
		topic   sql.NullString
		status  string
		message sql.NullString
	)
	err := s.DB.QueryRowContext(ctx, `
        SELECT id, title, topic, status, message, created_at, updated_at
        FROM notebooks WHERE id=$1`, id).
		Scan(&n.ID, &title, &topic, &status, &message, &n.CreatedAt, &n.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	n.Title = title.String
	n.Topic = topic.String
	n.Status = task.NotebookStatus(status)
	n.Message = message.String
	return &n, nil
}

// EnsureNotebook creates the notebook row if it does not exist yet.
func (s *Store) EnsureNotebook(ctx context.Context, id string) error {
	_, err := s.DB.ExecContext(ctx, `
        INSERT INTO notebooks (id, status) VALUES ($1,$2)
        ON CONFLICT (id) DO NOTHING`, id, string(task.NotebookNotStarted))
	return err
}

func (s *Store) UpdateNotebook(ctx context.Context, id, title, topic string) error {
	res, err := s.DB.ExecContext(ctx, `
        UPDATE notebooks SET title=$2, topic=$3, updated_at=NOW() WHERE id=$1`, id, title, topic)
	if err != nil {
		return err
	}
	return requireRow(res)
}

func (s *Store) UpdateNotebookStatus(ctx context.Context, id string, status task.NotebookStatus, message string) error {
	res, err := s.DB.ExecContext(ctx, `
        UPDATE notebooks SET status=$2, message=$3, updated_at=NOW() WHERE id=$1`, id, string(status), message)
	if err != nil {
		return err
	}
	return requireRow(res)
}

func requireRow(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// notebookRepo adapts the notebook methods to task.NotebookRepository
// without colliding with the task method names on Store.
type notebookRepo struct {
	s *Store
}

// Notebooks returns the notebook repository view of the store.
func (s *Store) Notebooks() task.NotebookRepository {
	return notebookRepo{s: s}
}

func (r notebookRepo) Get(ctx context.Context, id string) (*task.Notebook, error) {
	return r.s.GetNotebook(ctx, id)
}

func (r notebookRepo) Update(ctx context.Context, id, title, topic string) error {
	return r.s.UpdateNotebook(ctx, id, title, topic)
}

func (r notebookRepo) UpdateStatus(ctx context.Context, id string, status task.NotebookStatus, message string) error {
	return r.s.UpdateNotebookStatus(ctx, id, status, message)
}

var _ task.TaskRepository = (*Store)(nil)
var _ task.NotebookRepository = notebookRepo{}
