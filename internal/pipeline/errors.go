package pipeline

import "fmt"

// PlanningError reports that the plan stage could not produce search queries.
type PlanningError struct {
	Err error
}

func (e *PlanningError) Error() string { return fmt.Sprintf("planning failed: %v", e.Err) }
func (e *PlanningError) Unwrap() error { return e.Err }

// LinkCollectionError reports that every link-collection invocation failed,
// or that no links were collected at all.
type LinkCollectionError struct {
	Queries int
	Err     error
}

func (e *LinkCollectionError) Error() string {
	return fmt.Sprintf("link collection failed across %d queries: %v", e.Queries, e.Err)
}
func (e *LinkCollectionError) Unwrap() error { return e.Err }

// ScrapeError reports that the scrape stage produced no documents. Individual
// link failures are dropped, not raised; this error surfaces only on zero
// successes when the orchestrator is configured to treat that as fatal.
type ScrapeError struct {
	Links int
	Err   error
}

func (e *ScrapeError) Error() string {
	return fmt.Sprintf("scraping produced no documents from %d links: %v", e.Links, e.Err)
}
func (e *ScrapeError) Unwrap() error { return e.Err }

// SynthesisError reports that the synthesize crew failed or returned a
// non-conforming result.
type SynthesisError struct {
	Err error
}

func (e *SynthesisError) Error() string { return fmt.Sprintf("synthesis failed: %v", e.Err) }
func (e *SynthesisError) Unwrap() error { return e.Err }

// PipelineError wraps the first unrecoverable stage failure surfaced to the
// task manager.
type PipelineError struct {
	Stage string
	Err   error
}

func (e *PipelineError) Error() string { return fmt.Sprintf("pipeline stage %s: %v", e.Stage, e.Err) }
func (e *PipelineError) Unwrap() error { return e.Err }
