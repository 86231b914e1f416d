package main

import (
	"context"
	"encoding/json"
	"os"

	"github.com/spf13/cobra"

	"github.com/mtwn105/decipher-research-agent/config"
	"github.com/mtwn105/decipher-research-agent/internal/agent/core"
	"github.com/mtwn105/decipher-research-agent/internal/agent/telemetry"
	"github.com/mtwn105/decipher-research-agent/internal/cache"
	"github.com/mtwn105/decipher-research-agent/internal/pipeline"
	"github.com/mtwn105/decipher-research-agent/tools/web_fetch"
	"github.com/mtwn105/decipher-research-agent/tools/web_search"
)

// researchCMD runs one pipeline pass for a topic and prints the result,
// without touching Postgres. Useful for trying out prompts and tools.
func researchCMD() *cobra.Command {
	var cfgPath string
	var research = &cobra.Command{
		Use:   "research [topic]",
		Short: "Run a one-shot research pipeline for a topic",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := config.LoadConfig(cfgPath)
			topic := args[0]

			tele := telemetry.NewTelemetry(cfg.Telemetry, nil)
			provider, err := core.NewLLMProvider(cfg.LLM)
			if err != nil {
				return err
			}
			searcher, err := web_search.NewWebSearcher(
				web_search.Provider(cfg.Tools.WebSearch.Provider),
				searcherKey(cfg.Tools.WebSearch),
			)
			if err != nil {
				return err
			}
			fetcher, err := web_fetch.NewWebFetcher(
				web_fetch.FetcherType(cfg.Tools.WebFetch.Fetcher),
				cfg.Tools.WebFetch.Timeout,
				cfg.Tools.WebFetch.MaxChars,
			)
			if err != nil {
				return err
			}

			ctx := context.Background()
			scrapeCache, err := cache.NewScrapeCache(ctx, cfg.Storage.Redis)
			if err != nil {
				scrapeCache = nil
			}

			planning := cfg.LLM.Routing.Planning
			researchModel := cfg.LLM.Routing.Research
			synthesis := cfg.LLM.Routing.Synthesis
			if planning == "" {
				planning = cfg.LLM.Routing.Fallback
			}
			if researchModel == "" {
				researchModel = cfg.LLM.Routing.Fallback
			}
			if synthesis == "" {
				synthesis = cfg.LLM.Routing.Fallback
			}

			orch := pipeline.NewOrchestrator(cfg.Pipeline, pipeline.Executors{
				Planning:  core.NewLLMExecutor(provider, planning, tele),
				Research:  core.NewLLMExecutor(provider, researchModel, tele),
				Synthesis: core.NewLLMExecutor(provider, synthesis, tele),
			},
				&pipeline.SearchEngineTool{Searcher: searcher, MaxResults: cfg.Tools.WebSearch.MaxResults},
				&pipeline.ScrapeTool{Fetcher: fetcher},
				scrapeCache, tele)

			result, err := orch.Run(ctx, topic)
			if err != nil {
				return err
			}
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(result)
		},
	}
	research.PersistentFlags().StringVarP(&cfgPath, "config", "c", "", "config file (default is .)")

	return research
}

func searcherKey(cfg config.WebSearchConfig) string {
	if cfg.Provider == string(web_search.BraveProvider) {
		return cfg.BraveAPIKey
	}
	return cfg.SerperAPIKey
}
