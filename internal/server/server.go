package server

import (
	"context"
	"fmt"
	"log"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	appconfig "github.com/mtwn105/decipher-research-agent/config"
	"github.com/mtwn105/decipher-research-agent/internal/agent/core"
	"github.com/mtwn105/decipher-research-agent/internal/agent/telemetry"
	"github.com/mtwn105/decipher-research-agent/internal/cache"
	"github.com/mtwn105/decipher-research-agent/internal/pipeline"
	"github.com/mtwn105/decipher-research-agent/internal/sources"
	"github.com/mtwn105/decipher-research-agent/internal/store"
	"github.com/mtwn105/decipher-research-agent/internal/task"
	"github.com/mtwn105/decipher-research-agent/tools/web_fetch"
	"github.com/mtwn105/decipher-research-agent/tools/web_search"
)

// Server wires HTTP routes over the task manager, repositories and the
// source store.
type Server struct {
	Echo      *echo.Echo
	Manager   ResearchSubmitter
	Tasks     task.TaskRepository
	Store     *store.Store
	Sources   *sources.SourceStore
	JWTSecret []byte
}

// NewEcho builds the echo instance with recovery, CORS, a unified JSON
// error handler, healthz and prometheus metrics.
func NewEcho() *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.Use(middleware.Recover())
	baseLogger := log.New(log.Writer(), "[HTTP] ", log.LstdFlags)
	e.HTTPErrorHandler = func(err error, c echo.Context) {
		code := http.StatusInternalServerError
		msg := err.Error()
		if he, ok := err.(*echo.HTTPError); ok {
			code = he.Code
			if he.Message != nil {
				msg = fmt.Sprint(he.Message)
			}
		}
		req := c.Request()
		baseLogger.Printf("%d %s %s from %s: %v", code, req.Method, req.URL.Path, c.RealIP(), err)
		if !c.Response().Committed {
			_ = c.JSON(code, map[string]interface{}{"error": msg})
		}
	}
	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins:     []string{"*"},
		AllowMethods:     []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Content-Type", "Authorization", "Cookie"},
		AllowCredentials: true,
	}))

	e.GET("/healthz", func(c echo.Context) error { return c.String(200, "ok") })
	e.GET("/metrics", echo.WrapHandler(promhttp.Handler()))
	return e
}

// RegisterRoutes attaches the API routes. When a JWT secret is configured
// the /api group requires a valid token.
func (s *Server) RegisterRoutes() {
	api := s.Echo.Group("/api")
	if len(s.JWTSecret) > 0 {
		api.Use(func(next echo.HandlerFunc) echo.HandlerFunc { return withAuth(next, s.JWTSecret) })
	}

	rh := &ResearchHandler{Manager: s.Manager, Tasks: s.Tasks, Notebooks: s.Store}
	rh.Register(api.Group("/research"))

	if s.Sources != nil {
		sh := &SourcesHandler{Store: s.Sources}
		sh.Register(api.Group("/sources"))
	}
}

// Run builds the full dependency graph from config and serves until the
// listener fails.
func Run(cfg *appconfig.Config) error {
	ctx := context.Background()
	if err := cfg.Validate(); err != nil {
		return err
	}

	dsn, err := cfg.Storage.Postgres.DSN()
	if err != nil {
		return err
	}
	if err := Migrate("file://migrations", dsn, "up", 0); err != nil {
		log.Printf("[HTTP] migrate: %v", err)
	}
	st, err := store.NewWithDSN(ctx, dsn)
	if err != nil {
		return fmt.Errorf("connecting to postgres: %w", err)
	}

	tele := telemetry.NewTelemetry(cfg.Telemetry, nil)
	provider, err := core.NewLLMProvider(cfg.LLM)
	if err != nil {
		return err
	}

	searcher, err := web_search.NewWebSearcher(
		web_search.Provider(cfg.Tools.WebSearch.Provider),
		searchAPIKey(cfg.Tools.WebSearch),
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

	scrapeCache, err := cache.NewScrapeCache(ctx, cfg.Storage.Redis)
	if err != nil {
		log.Printf("[HTTP] scrape cache disabled: %v", err)
		scrapeCache = nil
	}

	orch := pipeline.NewOrchestrator(cfg.Pipeline, pipeline.Executors{
		Planning:  core.NewLLMExecutor(provider, routeModel(cfg.LLM.Routing.Planning, cfg.LLM.Routing.Fallback), tele),
		Research:  core.NewLLMExecutor(provider, routeModel(cfg.LLM.Routing.Research, cfg.LLM.Routing.Fallback), tele),
		Synthesis: core.NewLLMExecutor(provider, routeModel(cfg.LLM.Routing.Synthesis, cfg.LLM.Routing.Fallback), tele),
	},
		&pipeline.SearchEngineTool{Searcher: searcher, MaxResults: cfg.Tools.WebSearch.MaxResults},
		&pipeline.ScrapeTool{Fetcher: fetcher},
		scrapeCache, tele)

	keywords, err := sources.NewKeywordIndex()
	if err != nil {
		return err
	}
	sourceStore := sources.NewSourceStore(
		cfg.SourceStore, provider,
		sources.NewPgVectorIndex(st.DB, cfg.SourceStore.Collection),
		keywords, tele)

	manager := task.NewManager(st, st.Notebooks(), orch, sourceStore, tele, cfg.Pipeline.TaskMaxAttempts)

	srv := &Server{
		Echo:      NewEcho(),
		Manager:   manager,
		Tasks:     st,
		Store:     st,
		Sources:   sourceStore,
		JWTSecret: []byte(cfg.Server.JWTSecret),
	}
	srv.RegisterRoutes()
	return srv.Echo.Start(cfg.Server.Address)
}

func routeModel(model, fallback string) string {
	if model != "" {
		return model
	}
	return fallback
}

func searchAPIKey(cfg appconfig.WebSearchConfig) string {
	if cfg.Provider == string(web_search.BraveProvider) {
		return cfg.BraveAPIKey
	}
	return cfg.SerperAPIKey
}
