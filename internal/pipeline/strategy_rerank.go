package pipeline

import (
	"context"
	"errors"
	"fmt"

	"tenderpipe/internal/logging"
	"tenderpipe/internal/retrieval"
)

// rerankStrategy reorders the candidates of its first dependency.
type rerankStrategy struct {
	reranker *retrieval.Reranker
}

func (s *rerankStrategy) Execute(ctx context.Context, step StepSpec, scope *Scope) any {
	if len(step.Dependencies) == 0 {
		return errorResult(errors.New("reranker step needs a dependency holding retrieval results"))
	}
	dep := step.Dependencies[0]
	src, ok := scope.Results()[dep]
	if !ok {
		return errorResult(fmt.Errorf("dependency %q has no result", dep))
	}

	if m, ok := src.(map[string]any); ok {
		if inner, has := m["results"]; has {
			src = inner
		} else if IsFailure(m) {
			return errorResult(fmt.Errorf("dependency %q failed: %v", dep, m["error"]))
		}
	}

	// A bare list has no requirement keys to score against.
	if list, ok := asList(src); ok {
		logging.Get(logging.CategoryRerank).Warn("step %s: %s results are a list, passing through unranked", step.Name, dep)
		scope.Publish(KeyRerankedCandidates, list)
		return map[string]any{"success": true, "results": list}
	}

	m, ok := src.(map[string]any)
	if !ok {
		return errorResult(fmt.Errorf("dependency %q results have unexpected type %T", dep, src))
	}
	reranked := s.reranker.RerankResults(ctx, m)
	logging.Rerank("step %s: reranked %d keys", step.Name, len(reranked))
	scope.Publish(KeyRerankedCandidates, reranked)
	return map[string]any{"success": true, "results": reranked}
}
