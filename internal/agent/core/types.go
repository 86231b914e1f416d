package core

import (
	"context"
)

// ExecutorSpec describes a single agent invocation: who the agent is, what
// it must produce, and how much budget it has to get there.
type ExecutorSpec struct {
	Role           string         `json:"role"`
	Goal           string         `json:"goal"`
	Backstory      string         `json:"backstory"`
	Instructions   string         `json:"instructions"`    // template with {placeholder} bindings
	ExpectedOutput string         `json:"expected_output"` // description of the required JSON shape; empty means raw text
	Context        string         `json:"context,omitempty"`
	MaxRetries     int            `json:"max_retries"`
	MaxSteps       int            `json:"max_steps,omitempty"`
	Tools          []Tool         `json:"-"`
	Options        map[string]any `json:"-"` // temperature, max_tokens overrides
}

// Result is the structured outcome of one executor invocation.
type Result struct {
	Raw        string         `json:"raw"`
	Output     map[string]any `json:"output,omitempty"` // parsed JSON when ExpectedOutput was set
	ModelUsed  string         `json:"model_used"`
	TokensIn   int64          `json:"tokens_in"`
	TokensOut  int64          `json:"tokens_out"`
	Cost       float64        `json:"cost"`
	Steps      int            `json:"steps"`
	Attempts   int            `json:"attempts"`
}

// Tool is an external capability an executor may call during its step loop.
type Tool interface {
	Name() string
	Description() string
	Call(ctx context.Context, args map[string]any) (string, error)
}

// Executor turns a role/goal/instructions spec into a structured result.
// The orchestrator treats it as an opaque capability with bounded retries.
type Executor interface {
	Execute(ctx context.Context, spec ExecutorSpec, inputs map[string]any) (Result, error)
}

// LLMProvider is the contract for LLM backends.
type LLMProvider interface {
	// Generate generates text using the LLM
	Generate(ctx context.Context, prompt string, model string, options map[string]any) (string, error)

	// GenerateWithTokens generates text and returns token usage
	GenerateWithTokens(ctx context.Context, prompt string, model string, options map[string]any) (string, int64, int64, error)

	// Embed generates vector embeddings for the provided inputs.
	Embed(ctx context.Context, model string, input []string) ([][]float32, error)

	// GetAvailableModels returns available models
	GetAvailableModels() []string

	// GetModelInfo returns information about a specific model
	GetModelInfo(model string) (ModelInfo, error)

	// CalculateCost calculates the cost for a given number of tokens
	CalculateCost(inputTokens, outputTokens int64, model string) float64
}

// ModelInfo contains information about an LLM model
type ModelInfo struct {
	Name            string  `json:"name"`
	Provider        string  `json:"provider"`
	MaxTokens       int     `json:"max_tokens"`
	CostPer1KInput  float64 `json:"cost_per_1k_input"`
	CostPer1KOutput float64 `json:"cost_per_1k_output"`
	Description     string  `json:"description"`
}
