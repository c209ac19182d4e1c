package llm

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"tenderpipe/internal/jsonx"
	"tenderpipe/internal/logging"
)

// DefaultTimeout applies when a call carries no timeout of its own.
const DefaultTimeout = 120 * time.Second

// AtomicKey is the field the condensation prompt asks the model to fill.
const AtomicKey = "atomic_requirement"

// Call carries the per-call settings a step resolves at run time.
type Call struct {
	Model   string
	Timeout time.Duration
	Images  [][]byte
}

// Result is the outcome of one model call.
type Result struct {
	RawResponse string
	Parsed      any
	Success     bool
	Error       string
}

// Map returns the result in the step-result shape used by pipelines:
// {raw_response, parsed_result, success} or {success:false, error}.
func (r Result) Map() map[string]any {
	if !r.Success {
		m := map[string]any{"success": false, "error": r.Error}
		if r.Parsed != nil {
			m["parsed_result"] = r.Parsed
		}
		return m
	}
	return map[string]any{
		"raw_response":  r.RawResponse,
		"parsed_result": r.Parsed,
		"success":       true,
	}
}

// Processor sends prompts to a Client and post-processes the replies.
type Processor struct {
	client   Client
	defaults Options
}

// NewProcessor wraps client with generation defaults.
func NewProcessor(client Client, defaults Options) *Processor {
	return &Processor{client: client, defaults: defaults}
}

// Client returns the underlying backend.
func (p *Processor) Client() Client { return p.client }

// DefaultModel is the model used when a call names none.
func (p *Processor) DefaultModel() string { return p.defaults.Model }

// Process sends prompt and parses the reply leniently. Transport failures and
// timeouts come back as an unsuccessful Result, never as a panic or error.
func (p *Processor) Process(ctx context.Context, prompt string, call Call) Result {
	timeout := call.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req := ChatRequest{
		Prompt:          prompt,
		Model:           p.defaults.Model,
		Temperature:     p.defaults.Temperature,
		ContextWindow:   p.defaults.ContextWindow,
		MaxOutputTokens: p.defaults.MaxOutputTokens,
		Images:          call.Images,
	}
	if call.Model != "" {
		req.Model = call.Model
	}

	timer := logging.StartTimer(logging.CategoryLLM, "chat "+req.Model)
	raw, err := p.client.Chat(ctx, req)
	timer.StopWithThreshold(timeout / 2)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
			err = fmt.Errorf("request timed out after %v: %w", timeout, err)
		}
		logging.Get(logging.CategoryLLM).Error("%s call failed: %v", p.client.Name(), err)
		return Result{Success: false, Error: err.Error()}
	}

	parsed := jsonx.Extract(raw)
	if jsonx.IsMessageFallback(parsed) {
		logging.LLM("response from %s was not JSON, wrapped as message (%d chars)", req.Model, len(raw))
	}
	return Result{RawResponse: raw, Parsed: parsed, Success: true}
}

const condensePrompt = `You condense one technical tender feature into a short, searchable requirement.

Rules:
- Answer with JSON only: {"atomic_requirement": "<phrase>"}
- The phrase must be 2 to 8 words.
- Keep every number, unit, tolerance and accuracy class exactly as written.
- Drop filler words, list punctuation and anything not needed to search a product catalogue.

Example
Feature: True RMS Volts: all phase-to-phase & phase-to-neutral ±0.5%%
Answer: {"atomic_requirement": "RMS voltage measurement ±0.5%%"}

Feature: %s
Answer:`

// CondensePrompt returns the fixed instruction sent for feature.
func CondensePrompt(feature string) string {
	return fmt.Sprintf(condensePrompt, feature)
}

// Condense asks the model for a 2-8 word atomic requirement. The parsed
// result always holds AtomicKey; a phrase outside the bound is reset to "".
func (p *Processor) Condense(ctx context.Context, feature string, call Call) Result {
	res := p.Process(ctx, CondensePrompt(feature), call)

	atomic := ""
	if res.Success {
		if m, ok := res.Parsed.(map[string]any); ok {
			if s, ok := m[AtomicKey].(string); ok {
				atomic = strings.TrimSpace(s)
			}
		}
	}
	if !ValidAtomic(atomic) {
		if atomic != "" {
			logging.LLM("condensation of %q returned %d words, reset to empty", feature, len(strings.Fields(atomic)))
		}
		atomic = ""
	}

	parsed := map[string]any{AtomicKey: atomic}
	if m, ok := res.Parsed.(map[string]any); ok {
		for k, v := range m {
			if k != AtomicKey {
				parsed[k] = v
			}
		}
	}
	res.Parsed = parsed
	return res
}

// ValidAtomic reports whether s is a 2-8 word phrase.
func ValidAtomic(s string) bool {
	n := len(strings.Fields(s))
	return n >= 2 && n <= 8
}
