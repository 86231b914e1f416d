package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/mtwn105/decipher-research-agent/tools/web_fetch"
	"github.com/mtwn105/decipher-research-agent/tools/web_search"
	"github.com/mtwn105/decipher-research-agent/utils"
)

// SearchEngineTool exposes a WebSearcher to executors as "search_engine".
type SearchEngineTool struct {
	Searcher   web_search.WebSearcher
	MaxResults int
}

func (t *SearchEngineTool) Name() string { return "search_engine" }

func (t *SearchEngineTool) Description() string {
	return `Search the web. args: {"query": "<search query>"}; returns a JSON list of {url, title, snippet}.`
}

func (t *SearchEngineTool) Call(ctx context.Context, args map[string]any) (string, error) {
	query := strings.TrimSpace(utils.Str(args["query"]))
	if query == "" {
		return "", fmt.Errorf("search_engine requires a query argument")
	}
	k := t.MaxResults
	if k <= 0 {
		k = 10
	}
	results, err := t.Searcher.Discover(ctx, query, k)
	if err != nil {
		return "", fmt.Errorf("search %q: %w", query, err)
	}
	out, err := json.Marshal(results)
	if err != nil {
		return "", err
	}
	return string(out), nil
}

// ScrapeTool exposes a WebFetcher to executors as "scrape_as_markdown".
type ScrapeTool struct {
	Fetcher web_fetch.WebFetcher
}

func (t *ScrapeTool) Name() string { return "scrape_as_markdown" }

func (t *ScrapeTool) Description() string {
	return `Fetch a web page and return its readable content. args: {"url": "<page url>"}.`
}

func (t *ScrapeTool) Call(ctx context.Context, args map[string]any) (string, error) {
	url := strings.TrimSpace(utils.Str(args["url"]))
	if url == "" {
		return "", fmt.Errorf("scrape_as_markdown requires a url argument")
	}
	res, err := t.Fetcher.Exec(ctx, url)
	if err != nil {
		return "", fmt.Errorf("scrape %s: %w", url, err)
	}
	if res.Text == "" {
		return "", fmt.Errorf("scrape %s: empty content (status %d)", url, res.Status)
	}
	if res.Title != "" {
		return "# " + res.Title + "\n\n" + res.Text, nil
	}
	return res.Text, nil
}
