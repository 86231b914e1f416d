package pipeline

import (
	"time"
)

// WebLink is a candidate source discovered by the link-collection stage.
// URL is the dedup key for the aggregate link set.
type WebLink struct {
	URL   string `json:"url"`
	Title string `json:"title"`
}

// ScrapedDocument pairs a link with its retrieved page content. Transient:
// produced per link, consumed by the synthesize stage.
type ScrapedDocument struct {
	URL       string `json:"url"`
	PageTitle string `json:"page_title"`
	Content   string `json:"content"`
}

// ResearchResult is the aggregated payload of one pipeline run.
type ResearchResult struct {
	Title          string            `json:"title"`
	Document       string            `json:"blog_post"`
	Links          []WebLink         `json:"links"`
	Sources        []ScrapedDocument `json:"scraped_data"`
	CostEstimate   float64           `json:"cost_estimate"`
	TokensUsed     int64             `json:"tokens_used"`
	ProcessingTime time.Duration     `json:"processing_time"`
}
