package task

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/mtwn105/decipher-research-agent/internal/pipeline"
)

type fakeTaskRepo struct {
	mu       sync.Mutex
	tasks    map[string]*Task
	statuses []Status
}

func newFakeTaskRepo() *fakeTaskRepo {
	return &fakeTaskRepo{tasks: map[string]*Task{}}
}

func (r *fakeTaskRepo) Create(ctx context.Context, t *Task) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *t
	r.tasks[t.ID] = &cp
	return nil
}

func (r *fakeTaskRepo) UpdateStatus(ctx context.Context, id string, status Status) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tasks[id].Status = status
	r.statuses = append(r.statuses, status)
	return nil
}

func (r *fakeTaskRepo) UpdateResult(ctx context.Context, id string, result *pipeline.ResearchResult) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tasks[id].Result = result
	return nil
}

func (r *fakeTaskRepo) UpdateError(ctx context.Context, id string, message string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tasks[id].Error = message
	return nil
}

func (r *fakeTaskRepo) Get(ctx context.Context, id string) (*Task, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.tasks[id]
	if !ok {
		return nil, errors.New("not found")
	}
	cp := *t
	return &cp, nil
}

func (r *fakeTaskRepo) ListByNotebook(ctx context.Context, notebookID string) ([]*Task, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*Task
	for _, t := range r.tasks {
		if t.NotebookID == notebookID {
			cp := *t
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (r *fakeTaskRepo) terminalCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, s := range r.statuses {
		if s.Terminal() {
			n++
		}
	}
	return n
}

type fakeNotebookRepo struct {
	mu       sync.Mutex
	title    string
	topic    string
	status   NotebookStatus
	message  string
	statuses []NotebookStatus
}

func (r *fakeNotebookRepo) Get(ctx context.Context, id string) (*Notebook, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return &Notebook{ID: id, Title: r.title, Topic: r.topic, Status: r.status, Message: r.message}, nil
}

func (r *fakeNotebookRepo) Update(ctx context.Context, id, title, topic string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.title = title
	r.topic = topic
	return nil
}

func (r *fakeNotebookRepo) UpdateStatus(ctx context.Context, id string, status NotebookStatus, message string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.status = status
	r.message = message
	r.statuses = append(r.statuses, status)
	return nil
}

type fakeRunner struct {
	mu       sync.Mutex
	calls    int
	failures int
	result   pipeline.ResearchResult
	panics   bool
}

func (r *fakeRunner) Run(ctx context.Context, topic string) (pipeline.ResearchResult, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.panics {
		panic("boom")
	}
	r.calls++
	if r.calls <= r.failures {
		return pipeline.ResearchResult{}, errors.New("pipeline blew up")
	}
	return r.result, nil
}

type fakeIngester struct {
	mu   sync.Mutex
	urls []string
}

func (f *fakeIngester) AddSource(ctx context.Context, url, title, content, summary, notebookID string, metadata map[string]any) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.urls = append(f.urls, url)
	return []string{"chunk-1"}, nil
}

func TestSubmitCompletesTopicResearch(t *testing.T) {
	tasks := newFakeTaskRepo()
	notebooks := &fakeNotebookRepo{}
	runner := &fakeRunner{result: pipeline.ResearchResult{
		Title:    "Findings",
		Document: "body",
		Sources: []pipeline.ScrapedDocument{
			{URL: "https://a.example", PageTitle: "A", Content: "text"},
		},
	}}
	ingester := &fakeIngester{}
	m := NewManager(tasks, notebooks, runner, ingester, nil, 1)

	id, err := m.Submit(context.Background(), "nb-1", "quantum computing", nil)
	if err != nil {
		t.Fatalf("Submit failed: %v", err)
	}
	m.Wait()

	got, err := tasks.Get(context.Background(), id)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got.Status != StatusCompleted {
		t.Errorf("expected completed, got %s", got.Status)
	}
	if got.Result == nil || got.Result.Title != "Findings" {
		t.Errorf("result not persisted: %+v", got.Result)
	}
	if notebooks.status != NotebookProcessed {
		t.Errorf("expected notebook processed, got %s", notebooks.status)
	}
	if notebooks.title != "Findings" || notebooks.topic != "quantum computing" {
		t.Errorf("notebook not updated: title=%q topic=%q", notebooks.title, notebooks.topic)
	}
	if len(ingester.urls) != 1 || ingester.urls[0] != "https://a.example" {
		t.Errorf("scraped documents not indexed: %v", ingester.urls)
	}
	if n := tasks.terminalCount(); n != 1 {
		t.Errorf("expected exactly one terminal transition, got %d", n)
	}
}

func TestSubmitFailureSetsGenericNotebookMessage(t *testing.T) {
	tasks := newFakeTaskRepo()
	notebooks := &fakeNotebookRepo{}
	runner := &fakeRunner{failures: 10}
	m := NewManager(tasks, notebooks, runner, nil, nil, 1)

	id, err := m.Submit(context.Background(), "nb-1", "topic", nil)
	if err != nil {
		t.Fatalf("Submit failed: %v", err)
	}
	m.Wait()

	got, _ := tasks.Get(context.Background(), id)
	if got.Status != StatusFailed {
		t.Errorf("expected failed, got %s", got.Status)
	}
	if got.Error != "pipeline blew up" {
		t.Errorf("internal error not recorded: %q", got.Error)
	}
	if notebooks.status != NotebookError {
		t.Errorf("expected notebook error, got %s", notebooks.status)
	}
	if notebooks.message != FailureMessage {
		t.Errorf("expected generic message, got %q", notebooks.message)
	}
	if n := tasks.terminalCount(); n != 1 {
		t.Errorf("expected exactly one terminal transition, got %d", n)
	}
}

func TestSubmitRetriesWithinBudget(t *testing.T) {
	tasks := newFakeTaskRepo()
	notebooks := &fakeNotebookRepo{}
	runner := &fakeRunner{failures: 1, result: pipeline.ResearchResult{Title: "T", Document: "D"}}
	m := NewManager(tasks, notebooks, runner, nil, nil, 2)

	id, _ := m.Submit(context.Background(), "nb-1", "topic", nil)
	m.Wait()

	got, _ := tasks.Get(context.Background(), id)
	if got.Status != StatusCompleted {
		t.Errorf("second attempt should succeed, got %s", got.Status)
	}
	if runner.calls != 2 {
		t.Errorf("expected 2 attempts, got %d", runner.calls)
	}
}

func TestSubmitUnsupportedShapeStaysNonTerminal(t *testing.T) {
	cases := []struct {
		name    string
		topic   string
		sources []ResearchSource
	}{
		{"sources only", "", []ResearchSource{{Type: SourceURL, URL: "https://x.example"}}},
		{"topic and sources", "topic", []ResearchSource{{Type: SourceManual, Content: "notes"}}},
		{"empty", "", nil},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			tasks := newFakeTaskRepo()
			notebooks := &fakeNotebookRepo{}
			runner := &fakeRunner{}
			m := NewManager(tasks, notebooks, runner, nil, nil, 1)

			id, err := m.Submit(context.Background(), "nb-1", tc.topic, tc.sources)
			if err != nil {
				t.Fatalf("Submit failed: %v", err)
			}
			m.Wait()

			got, _ := tasks.Get(context.Background(), id)
			if got.Status.Terminal() {
				t.Errorf("unsupported shape should stay non-terminal, got %s", got.Status)
			}
			if runner.calls != 0 {
				t.Errorf("pipeline should not run for unsupported shape")
			}
		})
	}
}

func TestSubmitRecoversPanic(t *testing.T) {
	tasks := newFakeTaskRepo()
	notebooks := &fakeNotebookRepo{}
	runner := &fakeRunner{panics: true}
	m := NewManager(tasks, notebooks, runner, nil, nil, 1)

	id, _ := m.Submit(context.Background(), "nb-1", "topic", nil)
	m.Wait()

	got, _ := tasks.Get(context.Background(), id)
	if got.Status != StatusFailed {
		t.Errorf("panic should resolve to failed, got %s", got.Status)
	}
	if notebooks.message != FailureMessage {
		t.Errorf("expected generic message after panic, got %q", notebooks.message)
	}
}
