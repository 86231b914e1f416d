package core

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strings"

	"github.com/mtwn105/decipher-research-agent/internal/agent/telemetry"
	"github.com/mtwn105/decipher-research-agent/utils"
)

// LLMExecutor drives one agent invocation against an LLM provider: it renders
// the spec into a prompt, runs a bounded tool-call loop, and parses the final
// answer against the expected output shape, retrying inside the spec's
// MaxRetries budget.
type LLMExecutor struct {
	provider  LLMProvider
	model     string
	telemetry *telemetry.Telemetry
	logger    *log.Logger
}

// NewLLMExecutor creates an executor bound to a routing model.
func NewLLMExecutor(provider LLMProvider, model string, tele *telemetry.Telemetry) *LLMExecutor {
	return &LLMExecutor{
		provider:  provider,
		model:     model,
		telemetry: tele,
		logger:    log.New(log.Writer(), "[EXECUTOR] ", log.LstdFlags),
	}
}

// stepMessage is the protocol an agent uses inside the step loop: either a
// tool invocation or a final answer.
type stepMessage struct {
	Tool  string          `json:"tool,omitempty"`
	Args  map[string]any  `json:"args,omitempty"`
	Final json.RawMessage `json:"final,omitempty"`
}

// Execute runs the spec until it produces a conforming result or exhausts
// its retry budget.
func (e *LLMExecutor) Execute(ctx context.Context, spec ExecutorSpec, inputs map[string]any) (Result, error) {
	maxRetries := spec.MaxRetries
	if maxRetries <= 0 {
		maxRetries = 1
	}

	var lastErr error
	result := Result{ModelUsed: e.model}
	for attempt := 1; attempt <= maxRetries; attempt++ {
		result.Attempts = attempt
		out, err := e.runOnce(ctx, spec, inputs, &result)
		if err == nil {
			result.Raw = out.Raw
			result.Output = out.Output
			return result, nil
		}
		lastErr = err
		if ctx.Err() != nil {
			return result, ctx.Err()
		}
		e.logger.Printf("attempt %d/%d for role %q failed: %v", attempt, maxRetries, spec.Role, err)
		if e.telemetry != nil {
			e.telemetry.RecordExecutorRetry(spec.Role)
		}
	}
	return result, fmt.Errorf("executor exhausted %d attempts: %w", maxRetries, lastErr)
}

type attemptOutput struct {
	Raw    string
	Output map[string]any
}

func (e *LLMExecutor) runOnce(ctx context.Context, spec ExecutorSpec, inputs map[string]any, result *Result) (attemptOutput, error) {
	prompt := e.buildPrompt(spec, inputs)
	maxSteps := spec.MaxSteps
	if maxSteps <= 0 || len(spec.Tools) == 0 {
		maxSteps = 1
	}

	transcript := prompt
	for step := 1; step <= maxSteps; step++ {
		result.Steps++
		out, inTok, outTok, err := e.provider.GenerateWithTokens(ctx, transcript, e.model, spec.Options)
		if err != nil {
			return attemptOutput{}, fmt.Errorf("generate: %w", err)
		}
		result.TokensIn += inTok
		result.TokensOut += outTok
		result.Cost += e.provider.CalculateCost(inTok, outTok, e.model)

		msg, perr := parseStepMessage(out)
		if perr != nil || (msg.Tool == "" && msg.Final == nil) {
			// No protocol envelope. Without tools the whole reply is the answer.
			if len(spec.Tools) == 0 {
				return e.finalize(spec, out)
			}
			return attemptOutput{}, fmt.Errorf("malformed step message: %s", truncate(out, 200))
		}

		if msg.Tool != "" {
			tool := findTool(spec.Tools, msg.Tool)
			if tool == nil {
				return attemptOutput{}, fmt.Errorf("unknown tool requested: %s", msg.Tool)
			}
			observation, terr := tool.Call(ctx, msg.Args)
			if terr != nil {
				observation = "tool error: " + terr.Error()
			}
			transcript += fmt.Sprintf("\n\nTOOL CALL: %s(%s)\nOBSERVATION:\n%s\n\nContinue. Respond with the next step message.",
				msg.Tool, compactArgs(msg.Args), truncate(observation, 16000))
			continue
		}

		return e.finalize(spec, string(msg.Final))
	}
	return attemptOutput{}, fmt.Errorf("step budget (%d) exhausted without a final answer", maxSteps)
}

// finalize validates the final answer against the expected output shape.
func (e *LLMExecutor) finalize(spec ExecutorSpec, raw string) (attemptOutput, error) {
	raw = strings.TrimSpace(raw)
	if spec.ExpectedOutput == "" {
		if raw == "" {
			return attemptOutput{}, fmt.Errorf("empty final answer")
		}
		// Strip a quoted string emitted through the {"final": ...} envelope.
		var s string
		if json.Unmarshal([]byte(raw), &s) == nil && s != "" {
			raw = s
		}
		return attemptOutput{Raw: raw}, nil
	}
	obj, err := ExtractJSONObject(raw)
	if err != nil {
		return attemptOutput{}, fmt.Errorf("final answer does not conform to expected output: %w", err)
	}
	return attemptOutput{Raw: raw, Output: obj}, nil
}

func (e *LLMExecutor) buildPrompt(spec ExecutorSpec, inputs map[string]any) string {
	var b strings.Builder
	fmt.Fprintf(&b, "You are %s.\nGOAL: %s\n", spec.Role, spec.Goal)
	if spec.Backstory != "" {
		fmt.Fprintf(&b, "BACKGROUND: %s\n", spec.Backstory)
	}
	b.WriteString("\nTASK:\n")
	b.WriteString(RenderTemplate(spec.Instructions, inputs))
	b.WriteString("\n")
	if spec.Context != "" {
		b.WriteString("\nCONTEXT FROM PREVIOUS TASK:\n")
		b.WriteString(spec.Context)
		b.WriteString("\n")
	}
	if len(spec.Tools) > 0 {
		b.WriteString("\nAVAILABLE TOOLS:\n")
		for _, t := range spec.Tools {
			fmt.Fprintf(&b, "- %s: %s\n", t.Name(), t.Description())
		}
		b.WriteString(`
Work step by step. Each reply must be a single strict JSON object, either
{"tool": "<name>", "args": {...}} to call a tool, or
{"final": <answer>} when you are done.
`)
	}
	if spec.ExpectedOutput != "" {
		fmt.Fprintf(&b, "\nThe final answer must be strict JSON of this shape:\n%s\n", spec.ExpectedOutput)
	}
	return b.String()
}

// RenderTemplate substitutes {key} placeholders with input bindings.
func RenderTemplate(tmpl string, inputs map[string]any) string {
	out := tmpl
	for k, v := range inputs {
		out = strings.ReplaceAll(out, "{"+k+"}", utils.Str(v))
	}
	return out
}

// ExtractJSONObject pulls the first JSON object out of LLM output that may
// carry leading or trailing prose.
func ExtractJSONObject(s string) (map[string]any, error) {
	start := strings.Index(s, "{")
	end := strings.LastIndex(s, "}")
	if start < 0 || end <= start {
		return nil, fmt.Errorf("no JSON object found")
	}
	var obj map[string]any
	if err := json.Unmarshal([]byte(s[start:end+1]), &obj); err != nil {
		return nil, fmt.Errorf("parse JSON object: %w", err)
	}
	return obj, nil
}

func parseStepMessage(s string) (stepMessage, error) {
	start := strings.Index(s, "{")
	end := strings.LastIndex(s, "}")
	if start < 0 || end <= start {
		return stepMessage{}, fmt.Errorf("no JSON in step output")
	}
	var msg stepMessage
	if err := json.Unmarshal([]byte(s[start:end+1]), &msg); err != nil {
		return stepMessage{}, err
	}
	return msg, nil
}

func findTool(tools []Tool, name string) Tool {
	for _, t := range tools {
		if t.Name() == name {
			return t
		}
	}
	return nil
}

func compactArgs(args map[string]any) string {
	if len(args) == 0 {
		return ""
	}
	b, _ := json.Marshal(args)
	return string(b)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
