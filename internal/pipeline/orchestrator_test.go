package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/mtwn105/decipher-research-agent/config"
	core "github.com/mtwn105/decipher-research-agent/internal/agent/core"
)

// stubExecutor routes canned responses by agent role and, for fan-out roles,
// by the bound input (search query or url).
type stubExecutor struct {
	planOutput   map[string]any
	planErr      error
	linksByQuery map[string][]map[string]any
	linkErrs     map[string]error
	scrapeByURL  map[string]string
	scrapeErrs   map[string]error
	synthOutputs []map[string]any
	synthCalls   int
}

func (s *stubExecutor) Execute(ctx context.Context, spec core.ExecutorSpec, inputs map[string]any) (core.Result, error) {
	switch {
	case strings.Contains(spec.Role, "planner"):
		if s.planErr != nil {
			return core.Result{}, s.planErr
		}
		return core.Result{Output: s.planOutput, Cost: 0.01, TokensIn: 100, TokensOut: 50}, nil
	case strings.Contains(spec.Role, "link collector"):
		query, _ := inputs["search_query"].(string)
		if err := s.linkErrs[query]; err != nil {
			return core.Result{}, err
		}
		items := make([]any, 0, len(s.linksByQuery[query]))
		for _, l := range s.linksByQuery[query] {
			items = append(items, map[string]any(l))
		}
		return core.Result{Output: map[string]any{"links": items}, Cost: 0.01}, nil
	case spec.Role == "a web scraper":
		url, _ := inputs["url"].(string)
		if err := s.scrapeErrs[url]; err != nil {
			return core.Result{}, err
		}
		content, ok := s.scrapeByURL[url]
		if !ok {
			return core.Result{}, fmt.Errorf("no canned scrape for %s", url)
		}
		return core.Result{Raw: content, Cost: 0.02}, nil
	default:
		out := s.synthOutputs[s.synthCalls%len(s.synthOutputs)]
		s.synthCalls++
		raw, _ := out["__raw"].(string)
		return core.Result{Raw: raw, Output: out, Cost: 0.05, TokensIn: 500, TokensOut: 200}, nil
	}
}

func testPipelineConfig() config.PipelineConfig {
	return config.PipelineConfig{
		MaxConcurrentAgents: 4,
		ExecutorMaxRetries:  1,
		ExecutorMaxSteps:    5,
		StageTimeout:        10 * time.Second,
		FailOnZeroScrapes:   true,
	}
}

func newTestOrchestrator(exec core.Executor, cfg config.PipelineConfig) *Orchestrator {
	return NewOrchestrator(cfg, Executors{
		Planning:  exec,
		Research:  exec,
		Synthesis: exec,
	}, nil, nil, nil, nil)
}

func TestRunFullPipeline(t *testing.T) {
	// Two queries whose link lists overlap on one url. Four canonical links,
	// one of which fails to scrape. The pipeline should still complete with
	// three scraped documents.
	stub := &stubExecutor{
		planOutput: map[string]any{"search_queries": []any{"query one", "query two"}},
		linksByQuery: map[string][]map[string]any{
			"query one": {
				{"url": "https://a.example/1", "title": "A1"},
				{"url": "https://a.example/2", "title": "A2"},
				{"url": "https://shared.example", "title": "Shared"},
			},
			"query two": {
				{"url": "https://shared.example", "title": "Shared dup"},
				{"url": "https://b.example/1", "title": "B1"},
			},
		},
		scrapeByURL: map[string]string{
			"https://a.example/1":    "# A1\n\ncontent one",
			"https://a.example/2":    "# A2\n\ncontent two",
			"https://shared.example": "# Shared\n\nshared content",
		},
		scrapeErrs: map[string]error{
			"https://b.example/1": errors.New("render timeout"),
		},
		synthOutputs: []map[string]any{
			{"__raw": "analysis of the scraped material"},
			{"title": "Research Findings", "blog_post": "# Research Findings\n\nbody"},
		},
	}

	orch := newTestOrchestrator(stub, testPipelineConfig())
	result, err := orch.Run(context.Background(), "test topic")
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if result.Title != "Research Findings" {
		t.Errorf("unexpected title: %q", result.Title)
	}
	if !strings.HasPrefix(result.Document, "# Research Findings") {
		t.Errorf("unexpected document: %q", result.Document)
	}
	if len(result.Links) != 4 {
		t.Fatalf("expected 4 canonical links, got %d", len(result.Links))
	}
	if result.Links[2].URL != "https://shared.example" || result.Links[2].Title != "Shared" {
		t.Errorf("dedup should keep the first-seen title, got %+v", result.Links[2])
	}
	if len(result.Sources) != 3 {
		t.Fatalf("expected 3 scraped documents, got %d", len(result.Sources))
	}
	for _, doc := range result.Sources {
		if doc.URL == "https://b.example/1" {
			t.Errorf("failed scrape should be dropped from sources")
		}
	}
	if result.CostEstimate <= 0 || result.TokensUsed <= 0 {
		t.Errorf("cost and tokens should accumulate, got %.4f / %d", result.CostEstimate, result.TokensUsed)
	}
}

func TestRunPlanningFailureAborts(t *testing.T) {
	stub := &stubExecutor{planErr: errors.New("model unavailable")}
	orch := newTestOrchestrator(stub, testPipelineConfig())

	_, err := orch.Run(context.Background(), "doomed topic")
	if err == nil {
		t.Fatal("expected planning failure")
	}
	var pipelineErr *PipelineError
	if !errors.As(err, &pipelineErr) {
		t.Fatalf("expected *PipelineError, got %T", err)
	}
	if pipelineErr.Stage != "plan" {
		t.Errorf("expected plan stage, got %q", pipelineErr.Stage)
	}
	var planErr *PlanningError
	if !errors.As(err, &planErr) {
		t.Errorf("expected wrapped *PlanningError in %v", err)
	}
}

func TestRunAllCollectorsFailing(t *testing.T) {
	stub := &stubExecutor{
		planOutput: map[string]any{"search_queries": []any{"q1", "q2"}},
		linkErrs: map[string]error{
			"q1": errors.New("search quota exceeded"),
			"q2": errors.New("search quota exceeded"),
		},
	}
	orch := newTestOrchestrator(stub, testPipelineConfig())

	_, err := orch.Run(context.Background(), "topic")
	var collectErr *LinkCollectionError
	if !errors.As(err, &collectErr) {
		t.Fatalf("expected *LinkCollectionError, got %v", err)
	}
	if collectErr.Queries != 2 {
		t.Errorf("expected 2 queries recorded, got %d", collectErr.Queries)
	}
}

func TestRunPartialCollectorFailureContinues(t *testing.T) {
	stub := &stubExecutor{
		planOutput: map[string]any{"search_queries": []any{"good", "bad"}},
		linksByQuery: map[string][]map[string]any{
			"good": {{"url": "https://only.example", "title": "Only"}},
		},
		linkErrs:    map[string]error{"bad": errors.New("timeout")},
		scrapeByURL: map[string]string{"https://only.example": "content"},
		synthOutputs: []map[string]any{
			{"__raw": "analysis"},
			{"title": "T", "blog_post": "B"},
		},
	}
	orch := newTestOrchestrator(stub, testPipelineConfig())

	result, err := orch.Run(context.Background(), "topic")
	if err != nil {
		t.Fatalf("one failing collector should not abort: %v", err)
	}
	if len(result.Links) != 1 {
		t.Errorf("expected 1 link, got %d", len(result.Links))
	}
}

func TestRunZeroScrapesFails(t *testing.T) {
	stub := &stubExecutor{
		planOutput: map[string]any{"search_queries": []any{"q"}},
		linksByQuery: map[string][]map[string]any{
			"q": {{"url": "https://x.example", "title": "X"}},
		},
		scrapeErrs: map[string]error{"https://x.example": errors.New("blocked")},
	}
	orch := newTestOrchestrator(stub, testPipelineConfig())

	_, err := orch.Run(context.Background(), "topic")
	var scrapeErr *ScrapeError
	if !errors.As(err, &scrapeErr) {
		t.Fatalf("expected *ScrapeError with FailOnZeroScrapes, got %v", err)
	}
}

func TestRunZeroScrapesToleratedWhenConfigured(t *testing.T) {
	cfg := testPipelineConfig()
	cfg.FailOnZeroScrapes = false
	stub := &stubExecutor{
		planOutput: map[string]any{"search_queries": []any{"q"}},
		linksByQuery: map[string][]map[string]any{
			"q": {{"url": "https://x.example", "title": "X"}},
		},
		scrapeErrs: map[string]error{"https://x.example": errors.New("blocked")},
		synthOutputs: []map[string]any{
			{"__raw": "analysis from prior knowledge"},
			{"title": "T", "blog_post": "B"},
		},
	}
	orch := newTestOrchestrator(stub, cfg)

	result, err := orch.Run(context.Background(), "topic")
	if err != nil {
		t.Fatalf("zero scrapes should be tolerated when configured: %v", err)
	}
	if len(result.Sources) != 0 {
		t.Errorf("expected no sources, got %d", len(result.Sources))
	}
}

func TestMergeLinks(t *testing.T) {
	lists := [][]WebLink{
		{{URL: "u1", Title: "first"}, {URL: "u2", Title: "second"}},
		{{URL: "u2", Title: "dup"}, {URL: "", Title: "empty"}, {URL: "u3", Title: "third"}},
		{{URL: "u1", Title: "dup again"}},
	}
	merged := MergeLinks(lists)
	if len(merged) != 3 {
		t.Fatalf("expected 3 links, got %d", len(merged))
	}
	want := []WebLink{{URL: "u1", Title: "first"}, {URL: "u2", Title: "second"}, {URL: "u3", Title: "third"}}
	for i, link := range merged {
		if link != want[i] {
			t.Errorf("position %d: got %+v want %+v", i, link, want[i])
		}
	}
}

func TestMergeLinksEmpty(t *testing.T) {
	if got := MergeLinks(nil); len(got) != 0 {
		t.Errorf("expected empty merge, got %v", got)
	}
	if got := MergeLinks([][]WebLink{{}, {}}); len(got) != 0 {
		t.Errorf("expected empty merge, got %v", got)
	}
}
