package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/mtwn105/decipher-research-agent/config"
	core "github.com/mtwn105/decipher-research-agent/internal/agent/core"
	"github.com/mtwn105/decipher-research-agent/internal/agent/telemetry"
	"github.com/mtwn105/decipher-research-agent/internal/cache"
)

const timeLayout = "2006-01-02 15:04:05"

// Executors carries the per-stage executors the orchestrator drives. Stages
// may share an executor; they are routed by configuration.
type Executors struct {
	Planning  core.Executor
	Research  core.Executor
	Synthesis core.Executor
}

// Orchestrator sequences the four research stages and manages parallel
// fan-out within the link-collection and scrape stages.
type Orchestrator struct {
	cfg       config.PipelineConfig
	logger    *log.Logger
	telemetry *telemetry.Telemetry
	executors Executors
	search    core.Tool
	scrape    core.Tool
	cache     *cache.ScrapeCache

	// Concurrency control for fan-out stages.
	semaphore chan struct{}
}

// NewOrchestrator creates an orchestrator. cache may be nil.
func NewOrchestrator(cfg config.PipelineConfig, execs Executors, search, scrape core.Tool, sc *cache.ScrapeCache, tele *telemetry.Telemetry) *Orchestrator {
	width := cfg.MaxConcurrentAgents
	if width <= 0 {
		width = 8
	}
	return &Orchestrator{
		cfg:       cfg,
		logger:    log.New(log.Writer(), "[ORCH] ", log.LstdFlags),
		telemetry: tele,
		executors: execs,
		search:    search,
		scrape:    scrape,
		cache:     sc,
		semaphore: make(chan struct{}, width),
	}
}

// Run executes the full pipeline for a topic. It fails with a *PipelineError
// wrapping the first unrecoverable stage failure.
func (o *Orchestrator) Run(ctx context.Context, topic string) (ResearchResult, error) {
	startTime := time.Now()
	currentTime := startTime.Format(timeLayout)
	o.logger.Printf("starting research pipeline for topic: %s", topic)

	var result ResearchResult

	// Stage 1: Plan
	queries, planRes, err := o.runStage1Plan(ctx, topic, currentTime)
	result.CostEstimate += planRes.Cost
	result.TokensUsed += planRes.TokensIn + planRes.TokensOut
	if err != nil {
		return ResearchResult{}, &PipelineError{Stage: "plan", Err: err}
	}
	o.logger.Printf("planned %d search queries", len(queries))

	// Stage 2: Collect links
	links, collectCost, collectTokens, err := o.runStage2CollectLinks(ctx, topic, currentTime, queries)
	result.CostEstimate += collectCost
	result.TokensUsed += collectTokens
	if err != nil {
		return ResearchResult{}, &PipelineError{Stage: "collect_links", Err: err}
	}
	o.logger.Printf("collected %d unique links", len(links))

	// Stage 3: Scrape
	docs, scrapeCost, scrapeTokens, err := o.runStage3Scrape(ctx, topic, currentTime, links)
	result.CostEstimate += scrapeCost
	result.TokensUsed += scrapeTokens
	if err != nil {
		return ResearchResult{}, &PipelineError{Stage: "scrape", Err: err}
	}
	o.logger.Printf("scraped %d/%d links", len(docs), len(links))

	// Stage 4: Synthesize
	title, document, synthRes, err := o.runStage4Synthesize(ctx, topic, currentTime, docs)
	result.CostEstimate += synthRes.Cost
	result.TokensUsed += synthRes.TokensIn + synthRes.TokensOut
	if err != nil {
		return ResearchResult{}, &PipelineError{Stage: "synthesize", Err: err}
	}

	result.Title = title
	result.Document = document
	result.Links = links
	result.Sources = docs
	result.ProcessingTime = time.Since(startTime)
	if o.telemetry != nil {
		o.telemetry.RecordCost(result.CostEstimate, result.TokensUsed)
	}
	o.logger.Printf("pipeline completed for topic %q in %v (cost $%.4f)", topic, result.ProcessingTime, result.CostEstimate)
	return result, nil
}

func (o *Orchestrator) stageContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if o.cfg.StageTimeout > 0 {
		return context.WithTimeout(ctx, o.cfg.StageTimeout)
	}
	return context.WithCancel(ctx)
}

func (o *Orchestrator) runStage1Plan(ctx context.Context, topic, currentTime string) ([]string, core.Result, error) {
	stageCtx, cancel := o.stageContext(ctx)
	defer cancel()
	start := time.Now()

	res, err := o.executors.Planning.Execute(stageCtx, plannerSpec(o.cfg.ExecutorMaxRetries), map[string]any{
		"topic":        topic,
		"current_time": currentTime,
	})
	if err == nil {
		var queries []string
		queries, err = stringSlice(res.Output["search_queries"])
		if err == nil && len(queries) == 0 {
			err = fmt.Errorf("planner returned no search queries")
		}
		if err == nil {
			o.recordStage("plan", start, nil)
			return queries, res, nil
		}
	}
	o.recordStage("plan", start, err)
	return nil, res, &PlanningError{Err: err}
}

func (o *Orchestrator) runStage2CollectLinks(ctx context.Context, topic, currentTime string, queries []string) ([]WebLink, float64, int64, error) {
	stageCtx, cancel := o.stageContext(ctx)
	defer cancel()
	start := time.Now()

	type outcome struct {
		links []WebLink
		res   core.Result
		err   error
	}
	outcomes := make([]outcome, len(queries))

	var wg sync.WaitGroup
	for i, query := range queries {
		wg.Add(1)
		go func(i int, query string) {
			defer wg.Done()
			o.semaphore <- struct{}{}
			defer func() { <-o.semaphore }()

			spec := linkCollectorSpec([]core.Tool{o.search}, o.cfg.ExecutorMaxRetries, o.cfg.ExecutorMaxSteps)
			res, err := o.executors.Research.Execute(stageCtx, spec, map[string]any{
				"topic":        topic,
				"search_query": query,
				"current_time": currentTime,
			})
			if err != nil {
				outcomes[i] = outcome{res: res, err: err}
				return
			}
			links, perr := parseLinks(res.Output["links"])
			outcomes[i] = outcome{links: links, res: res, err: perr}
		}(i, query)
	}
	wg.Wait()

	var (
		cost     float64
		tokens   int64
		lists    [][]WebLink
		failures int
		lastErr  error
	)
	for i, out := range outcomes {
		cost += out.res.Cost
		tokens += out.res.TokensIn + out.res.TokensOut
		if out.err != nil {
			failures++
			lastErr = out.err
			o.logger.Printf("link collection for query %d failed: %v", i, out.err)
			continue
		}
		lists = append(lists, out.links)
	}

	if failures == len(queries) {
		err := &LinkCollectionError{Queries: len(queries), Err: lastErr}
		o.recordStage("collect_links", start, err)
		return nil, cost, tokens, err
	}

	merged := MergeLinks(lists)
	if len(merged) == 0 {
		err := &LinkCollectionError{Queries: len(queries), Err: fmt.Errorf("no links collected")}
		o.recordStage("collect_links", start, err)
		return nil, cost, tokens, err
	}
	o.recordStage("collect_links", start, nil)
	return merged, cost, tokens, nil
}

func (o *Orchestrator) runStage3Scrape(ctx context.Context, topic, currentTime string, links []WebLink) ([]ScrapedDocument, float64, int64, error) {
	stageCtx, cancel := o.stageContext(ctx)
	defer cancel()
	start := time.Now()

	type outcome struct {
		content string
		res     core.Result
		err     error
	}
	outcomes := make([]outcome, len(links))

	var wg sync.WaitGroup
	for i, link := range links {
		wg.Add(1)
		go func(i int, link WebLink) {
			defer wg.Done()
			o.semaphore <- struct{}{}
			defer func() { <-o.semaphore }()

			if cached, ok := o.cache.Get(stageCtx, link.URL); ok {
				outcomes[i] = outcome{content: cached}
				return
			}

			spec := scraperSpec([]core.Tool{o.scrape}, o.cfg.ExecutorMaxRetries, o.cfg.ExecutorMaxSteps)
			res, err := o.executors.Research.Execute(stageCtx, spec, map[string]any{
				"topic":        topic,
				"url":          link.URL,
				"current_time": currentTime,
			})
			if err != nil {
				outcomes[i] = outcome{res: res, err: err}
				return
			}
			o.cache.Set(stageCtx, link.URL, res.Raw)
			outcomes[i] = outcome{content: res.Raw, res: res}
		}(i, link)
	}
	wg.Wait()

	var (
		docs    []ScrapedDocument
		cost    float64
		tokens  int64
		lastErr error
	)
	for i, out := range outcomes {
		cost += out.res.Cost
		tokens += out.res.TokensIn + out.res.TokensOut
		if out.err != nil {
			// Failed links are dropped from the aggregate, not fatal.
			lastErr = out.err
			o.logger.Printf("scrape failed for %s: %v", links[i].URL, out.err)
			continue
		}
		docs = append(docs, ScrapedDocument{
			URL:       links[i].URL,
			PageTitle: links[i].Title,
			Content:   out.content,
		})
	}

	if len(docs) == 0 && o.cfg.FailOnZeroScrapes {
		if lastErr == nil {
			lastErr = fmt.Errorf("no links to scrape")
		}
		err := &ScrapeError{Links: len(links), Err: lastErr}
		o.recordStage("scrape", start, err)
		return nil, cost, tokens, err
	}
	o.recordStage("scrape", start, nil)
	return docs, cost, tokens, nil
}

func (o *Orchestrator) runStage4Synthesize(ctx context.Context, topic, currentTime string, docs []ScrapedDocument) (string, string, core.Result, error) {
	stageCtx, cancel := o.stageContext(ctx)
	defer cancel()
	start := time.Now()

	scraped, err := json.Marshal(docs)
	if err != nil {
		serr := &SynthesisError{Err: err}
		o.recordStage("synthesize", start, serr)
		return "", "", core.Result{}, serr
	}

	crew := core.NewCrew("research_content", o.executors.Synthesis,
		core.TaskSpec{Name: "research_analysis", Spec: researcherSpec(o.cfg.ExecutorMaxRetries)},
		core.TaskSpec{Name: "content_creation", Spec: contentWriterSpec(o.cfg.ExecutorMaxRetries), UseContext: true},
	)
	res, err := crew.Kickoff(stageCtx, map[string]any{
		"topic":        topic,
		"current_time": currentTime,
		"scraped_data": string(scraped),
	})
	if err != nil {
		serr := &SynthesisError{Err: err}
		o.recordStage("synthesize", start, serr)
		return "", "", res, serr
	}

	title, _ := res.Output["title"].(string)
	document, _ := res.Output["blog_post"].(string)
	if title == "" || document == "" {
		serr := &SynthesisError{Err: fmt.Errorf("writer returned incomplete result")}
		o.recordStage("synthesize", start, serr)
		return "", "", res, serr
	}
	o.recordStage("synthesize", start, nil)
	return title, document, res, nil
}

func (o *Orchestrator) recordStage(stage string, start time.Time, err error) {
	if o.telemetry != nil {
		o.telemetry.RecordStage(stage, time.Since(start), err)
	}
}

// MergeLinks merges link lists into one canonical set, deduplicating by url
// with first-seen order preserved across the input lists in their given order.
func MergeLinks(lists [][]WebLink) []WebLink {
	seen := make(map[string]struct{})
	var merged []WebLink
	for _, list := range lists {
		for _, link := range list {
			if link.URL == "" {
				continue
			}
			if _, ok := seen[link.URL]; ok {
				continue
			}
			seen[link.URL] = struct{}{}
			merged = append(merged, link)
		}
	}
	return merged
}

func stringSlice(v any) ([]string, error) {
	items, ok := v.([]any)
	if !ok {
		return nil, fmt.Errorf("expected a JSON array, got %T", v)
	}
	out := make([]string, 0, len(items))
	for _, it := range items {
		s, ok := it.(string)
		if !ok || s == "" {
			continue
		}
		out = append(out, s)
	}
	return out, nil
}

func parseLinks(v any) ([]WebLink, error) {
	items, ok := v.([]any)
	if !ok {
		return nil, fmt.Errorf("expected a JSON array of links, got %T", v)
	}
	var out []WebLink
	for _, it := range items {
		m, ok := it.(map[string]any)
		if !ok {
			continue
		}
		url, _ := m["url"].(string)
		title, _ := m["title"].(string)
		if url == "" {
			continue
		}
		out = append(out, WebLink{URL: url, Title: title})
	}
	return out, nil
}
