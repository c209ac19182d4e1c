// Package llm is the language-model capability used by pipeline steps.
// Backends implement Client; Processor layers prompt handling, timeouts and
// lenient JSON recovery on top.
package llm

import (
	"context"
	"strings"
)

// ChatRequest is one single-turn completion request.
type ChatRequest struct {
	Prompt          string
	Model           string
	Temperature     float64
	ContextWindow   int
	MaxOutputTokens int
	Images          [][]byte
}

// Client is a language-model backend.
type Client interface {
	Chat(ctx context.Context, req ChatRequest) (string, error)
	Name() string
}

// Options are the generation defaults applied to every request.
type Options struct {
	Model           string
	Temperature     float64
	ContextWindow   int
	MaxOutputTokens int
}

// DefaultOptions mirrors the defaults of the application config.
func DefaultOptions() Options {
	return Options{
		Model:           "qwen2.5-coder:7b-instruct",
		Temperature:     0.1,
		ContextWindow:   32768,
		MaxOutputTokens: 4096,
	}
}

var visionMarkers = []string{"moondream", "llava", "vision"}

// IsVisionModel reports whether model accepts image attachments.
func IsVisionModel(model string) bool {
	m := strings.ToLower(model)
	for _, marker := range visionMarkers {
		if strings.Contains(m, marker) {
			return true
		}
	}
	return false
}
