package retrieval

import (
	"context"
	"errors"
	"regexp"
	"strings"

	"tenderpipe/internal/logging"
)

// DefaultNResults is the per-query candidate count when a step sets none.
const DefaultNResults = 5

// ErrNoQueries is returned when neither requirements nor the prompt yield a query.
var ErrNoQueries = errors.New("no search queries found in requirements or prompt")

// Params mirrors a step's search_params block.
type Params struct {
	NResults        int  `yaml:"n_results" json:"n_results"`
	IncludeMetadata bool `yaml:"include_metadata" json:"include_metadata"`
}

// Query is one planned search. Clause is set for structured requirements.
type Query struct {
	Clause string
	Text   string
}

// Plan is the set of queries a retrieval step will run.
type Plan struct {
	Structured bool
	Queries    []Query
}

// PlanQueries derives queries from requirements, which may be structured
// ([{clause, features}]) or flat (strings). With no requirements it falls
// back to quoted strings and "- " bullet lines in prompt.
func PlanQueries(requirements any, prompt string) (Plan, error) {
	items := toSlice(requirements)
	if len(items) > 0 {
		if isStructured(items) {
			plan := Plan{Structured: true}
			for _, it := range items {
				m, ok := it.(map[string]any)
				if !ok {
					continue
				}
				clause, _ := m["clause"].(string)
				clause = strings.TrimSpace(clause)
				for _, f := range toSlice(m["features"]) {
					if s, ok := f.(string); ok && strings.TrimSpace(s) != "" {
						plan.Queries = append(plan.Queries, Query{Clause: clause, Text: strings.TrimSpace(s)})
					}
				}
			}
			if len(plan.Queries) > 0 {
				return plan, nil
			}
		} else {
			var plan Plan
			for _, it := range items {
				if s, ok := it.(string); ok && strings.TrimSpace(s) != "" {
					plan.Queries = append(plan.Queries, Query{Text: strings.TrimSpace(s)})
				}
			}
			if len(plan.Queries) > 0 {
				return plan, nil
			}
		}
	}

	var plan Plan
	for _, q := range ExtractQueries(prompt) {
		plan.Queries = append(plan.Queries, Query{Text: q})
	}
	if len(plan.Queries) == 0 {
		return plan, ErrNoQueries
	}
	return plan, nil
}

var (
	quotedPattern = regexp.MustCompile(`"([^"\n]+)"`)
	bulletPattern = regexp.MustCompile(`(?m)^\s*-\s+(.+?)\s*$`)
)

// ExtractQueries scans free text for quoted substrings and bullet lines.
// Duplicates are dropped; first occurrence wins.
func ExtractQueries(text string) []string {
	var out []string
	seen := map[string]bool{}
	add := func(s string) {
		s = strings.TrimSpace(s)
		if s == "" || seen[s] {
			return
		}
		seen[s] = true
		out = append(out, s)
	}
	for _, m := range quotedPattern.FindAllStringSubmatch(text, -1) {
		add(m[1])
	}
	for _, m := range bulletPattern.FindAllStringSubmatch(text, -1) {
		add(m[1])
	}
	return out
}

// Search runs every planned query. A failing query yields a single
// empty candidate carrying the error; the others still run. Structured plans
// nest results as clause -> feature -> candidates.
func Search(ctx context.Context, backend Backend, plan Plan, params Params) map[string]any {
	n := params.NResults
	if n <= 0 {
		n = DefaultNResults
	}

	results := map[string]any{}
	for _, q := range plan.Queries {
		cands := runQuery(ctx, backend, q.Text, n, params.IncludeMetadata)
		if !plan.Structured {
			results[q.Text] = cands
			continue
		}
		group, ok := results[q.Clause].(map[string]any)
		if !ok {
			group = map[string]any{}
			results[q.Clause] = group
		}
		group[q.Text] = cands
	}
	return results
}

func runQuery(ctx context.Context, backend Backend, text string, n int, includeMetadata bool) []any {
	cands, err := backend.Query(ctx, text, n)
	if err != nil {
		logging.Get(logging.CategoryRetrieval).Warn("query %q failed: %v", text, err)
		return []any{Candidate{Metadata: map[string]any{}, Error: err.Error()}.Map()}
	}
	logging.RetrievalDebug("query %q returned %d candidates", text, len(cands))
	out := make([]any, 0, len(cands))
	for _, c := range cands {
		if !includeMetadata {
			c.Metadata = map[string]any{}
		}
		out = append(out, c.Map())
	}
	return out
}

// isStructured reports whether items are clause objects: every item is a map,
// or any item carries a clause. A clause without features contributes nothing.
func isStructured(items []any) bool {
	allMaps := true
	for _, it := range items {
		m, ok := it.(map[string]any)
		if !ok {
			allMaps = false
			continue
		}
		if _, ok := m["clause"]; ok {
			return true
		}
	}
	return allMaps
}

// toSlice normalises the list shapes that flow through a pipeline context.
func toSlice(v any) []any {
	switch s := v.(type) {
	case []any:
		return s
	case []string:
		out := make([]any, len(s))
		for i, x := range s {
			out[i] = x
		}
		return out
	case []map[string]any:
		out := make([]any, len(s))
		for i, x := range s {
			out[i] = x
		}
		return out
	}
	return nil
}
