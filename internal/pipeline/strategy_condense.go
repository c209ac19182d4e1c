package pipeline

import (
	"context"
	"errors"
	"strings"

	"tenderpipe/internal/llm"
	"tenderpipe/internal/logging"
)

// condenseStrategy sends every clause feature through the condensation
// prompt, one at a time, and publishes the non-empty atomic requirements.
type condenseStrategy struct {
	proc *llm.Processor
}

func (s *condenseStrategy) Execute(ctx context.Context, step StepSpec, scope *Scope) any {
	if s.proc == nil {
		return errorResult(errors.New("no language model configured"))
	}
	features := BreakdownFeatures(step, scope)
	logging.Pipeline("step %s: condensing %d features", step.Name, len(features))

	call := llm.Call{Model: step.LLMModel, Timeout: step.TimeoutDuration()}
	mapping := make(map[string]any, len(features))
	featureList := make([]any, 0, len(features))
	atomics := make([]any, 0, len(features))
	failed := 0

	for _, f := range features {
		featureList = append(featureList, f)
		if _, done := mapping[f]; done {
			continue
		}
		res := s.proc.Condense(ctx, f, call)
		atomic := ""
		if m, ok := res.Parsed.(map[string]any); ok {
			atomic, _ = m[llm.AtomicKey].(string)
		}
		if !res.Success || atomic == "" {
			failed++
		}
		mapping[f] = atomic
		if atomic != "" {
			atomics = append(atomics, atomic)
		}
	}

	if failed > 0 {
		logging.Get(logging.CategoryPipeline).Warn("step %s: %d of %d features could not be condensed", step.Name, failed, len(mapping))
	}
	if len(atomics) > 0 {
		scope.Publish(KeyRequirements, atomics)
	}
	return map[string]any{
		"success":             true,
		"mapping":             mapping,
		"features":            featureList,
		"atomic_requirements": atomics,
	}
}

// BreakdownFeatures collects the features a condensation step works on:
// clause features from its dependencies, then the scope's clauses, then the
// scope's requirements.
func BreakdownFeatures(step StepSpec, scope *Scope) []string {
	for _, dep := range step.Dependencies {
		if v, ok := scope.Dependency(dep); ok {
			if fs := clauseFeatures(v); len(fs) > 0 {
				return fs
			}
		}
	}
	if v, ok := scope.Get(KeyClauses); ok {
		if fs := clauseFeatures(v); len(fs) > 0 {
			return fs
		}
	}
	if v, ok := scope.Get(KeyRequirements); ok {
		items, _ := asList(v)
		return nonEmptyStrings(items)
	}
	return nil
}

// clauseFeatures reads [{clause, features}] from a list or from the
// clauses field of a step result (directly or under parsed_result).
func clauseFeatures(v any) []string {
	if m, ok := v.(map[string]any); ok {
		if c, ok := m[KeyClauses]; ok {
			v = c
		} else if p, ok := m["parsed_result"].(map[string]any); ok {
			v = p[KeyClauses]
		}
	}
	items, ok := asList(v)
	if !ok {
		return nil
	}
	var out []string
	for _, it := range items {
		c, ok := it.(map[string]any)
		if !ok {
			continue
		}
		fs, _ := asList(c["features"])
		out = append(out, nonEmptyStrings(fs)...)
	}
	return out
}

func nonEmptyStrings(items []any) []string {
	var out []string
	for _, it := range items {
		if s, ok := it.(string); ok && strings.TrimSpace(s) != "" {
			out = append(out, strings.TrimSpace(s))
		}
	}
	return out
}
