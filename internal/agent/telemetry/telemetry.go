package telemetry

import (
	"log"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/mtwn105/decipher-research-agent/config"
)

// Telemetry tracks pipeline stage outcomes, executor retries and LLM spend.
type Telemetry struct {
	config config.TelemetryConfig
	logger *log.Logger

	stageTotal     *prometheus.CounterVec
	stageDuration  *prometheus.HistogramVec
	executorRetry  *prometheus.CounterVec
	taskTerminal   *prometheus.CounterVec
	chunksIndexed  prometheus.Counter

	mu          sync.Mutex
	totalCost   float64
	totalTokens int64
}

// NewTelemetry creates a telemetry instance and registers its collectors.
// Registration is idempotent across tests via a fresh registry.
func NewTelemetry(cfg config.TelemetryConfig, reg prometheus.Registerer) *Telemetry {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	t := &Telemetry{
		config: cfg,
		logger: log.New(log.Writer(), "[TELEMETRY] ", log.LstdFlags),
		stageTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "pipeline_stage_total",
			Help: "Pipeline stage executions by outcome.",
		}, []string{"stage", "outcome"}),
		stageDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "pipeline_stage_duration_seconds",
			Help:    "Pipeline stage wall time.",
			Buckets: prometheus.ExponentialBuckets(0.5, 2, 10),
		}, []string{"stage"}),
		executorRetry: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "executor_retries_total",
			Help: "Executor attempts beyond the first, by agent role.",
		}, []string{"role"}),
		taskTerminal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "research_tasks_terminal_total",
			Help: "Research tasks reaching a terminal status.",
		}, []string{"status"}),
		chunksIndexed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "source_chunks_indexed_total",
			Help: "Source chunks embedded and upserted.",
		}),
	}
	if cfg.Enabled {
		reg.MustRegister(t.stageTotal, t.stageDuration, t.executorRetry, t.taskTerminal, t.chunksIndexed)
	}
	return t
}

// RecordStage records one stage execution.
func (t *Telemetry) RecordStage(stage string, duration time.Duration, err error) {
	if t == nil || !t.config.Enabled {
		return
	}
	outcome := "success"
	if err != nil {
		outcome = "failure"
	}
	t.stageTotal.WithLabelValues(stage, outcome).Inc()
	t.stageDuration.WithLabelValues(stage).Observe(duration.Seconds())
}

// RecordExecutorRetry counts a failed executor attempt for a role.
func (t *Telemetry) RecordExecutorRetry(role string) {
	if t == nil || !t.config.Enabled {
		return
	}
	t.executorRetry.WithLabelValues(role).Inc()
}

// RecordTaskTerminal counts a task reaching completed or failed.
func (t *Telemetry) RecordTaskTerminal(status string) {
	if t == nil || !t.config.Enabled {
		return
	}
	t.taskTerminal.WithLabelValues(status).Inc()
}

// RecordChunksIndexed counts chunks written to the vector index.
func (t *Telemetry) RecordChunksIndexed(n int) {
	if t == nil || !t.config.Enabled {
		return
	}
	t.chunksIndexed.Add(float64(n))
}

// RecordCost accumulates LLM spend for periodic logging.
func (t *Telemetry) RecordCost(cost float64, tokens int64) {
	if t == nil || !t.config.CostTracking {
		return
	}
	t.mu.Lock()
	t.totalCost += cost
	t.totalTokens += tokens
	t.mu.Unlock()
}

// Totals returns accumulated cost and token usage.
func (t *Telemetry) Totals() (float64, int64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.totalCost, t.totalTokens
}
