// Package retrieval plans vector-search queries from requirements, runs them
// against a Backend, and reranks the returned candidates.
package retrieval

import (
	"context"
	"fmt"
)

// Candidate is one retrieved record.
type Candidate struct {
	Text     string         `json:"text"`
	Metadata map[string]any `json:"metadata"`
	Score    float64        `json:"score,omitempty"`
	Error    string         `json:"error,omitempty"`
}

// Map returns the candidate in the generic shape stored in step results.
func (c Candidate) Map() map[string]any {
	md := c.Metadata
	if md == nil {
		md = map[string]any{}
	}
	m := map[string]any{"text": c.Text, "metadata": md}
	if c.Score != 0 {
		m["score"] = c.Score
	}
	if c.Error != "" {
		m["error"] = c.Error
	}
	return m
}

// CandidateFromAny converts a generic candidate value back to a Candidate.
// Strings become text-only candidates.
func CandidateFromAny(v any) (Candidate, bool) {
	switch c := v.(type) {
	case Candidate:
		return c, true
	case *Candidate:
		if c == nil {
			return Candidate{}, false
		}
		return *c, true
	case string:
		return Candidate{Text: c, Metadata: map[string]any{}}, true
	case map[string]any:
		out := Candidate{Metadata: map[string]any{}}
		if t, ok := c["text"]; ok && t != nil {
			out.Text = fmt.Sprint(t)
		}
		if md, ok := c["metadata"].(map[string]any); ok {
			out.Metadata = md
		}
		if s, ok := c["score"].(float64); ok {
			out.Score = s
		}
		if e, ok := c["error"].(string); ok {
			out.Error = e
		}
		return out, true
	}
	return Candidate{}, false
}

// Backend is a searchable candidate source, normally a vector collection.
type Backend interface {
	Query(ctx context.Context, text string, topK int) ([]Candidate, error)
}

// BackendFunc adapts a function to Backend.
type BackendFunc func(ctx context.Context, text string, topK int) ([]Candidate, error)

// Query calls f.
func (f BackendFunc) Query(ctx context.Context, text string, topK int) ([]Candidate, error) {
	return f(ctx, text, topK)
}
