package pipeline

import (
	"context"
	"errors"
	"fmt"

	"tenderpipe/internal/logging"
	"tenderpipe/internal/render"
	"tenderpipe/internal/retrieval"
)

// BackendRequest identifies the vector collection a retrieval step searches.
type BackendRequest struct {
	Collection     string
	Path           string // database file from the pipeline's collections map; empty means the default store
	EmbeddingModel string
}

// BackendResolver opens the backend for a retrieval step.
type BackendResolver interface {
	Backend(ctx context.Context, req BackendRequest) (retrieval.Backend, error)
}

// BackendResolverFunc adapts a function to BackendResolver.
type BackendResolverFunc func(ctx context.Context, req BackendRequest) (retrieval.Backend, error)

// Backend calls f.
func (f BackendResolverFunc) Backend(ctx context.Context, req BackendRequest) (retrieval.Backend, error) {
	return f(ctx, req)
}

// retrievalStrategy plans queries from the current requirements (or the
// rendered prompt) and runs them against a vector collection.
type retrievalStrategy struct {
	backends          BackendResolver
	renderer          *render.Renderer
	collections       map[string]string
	defaultCollection string
}

func (s *retrievalStrategy) Execute(ctx context.Context, step StepSpec, scope *Scope) any {
	if s.backends == nil {
		return errorResult(errors.New("no vector backend configured"))
	}

	prompt := ""
	if step.PromptTemplate != "" {
		var err error
		if prompt, err = s.renderer.Render(step.PromptTemplate, scope.Data()); err != nil {
			return errorResult(fmt.Errorf("render prompt: %w", err))
		}
	}
	reqs, _ := scope.Get(KeyRequirements)
	plan, err := retrieval.PlanQueries(reqs, prompt)
	if err != nil {
		return errorResult(err)
	}

	collection := step.Collection
	if collection == "" {
		collection = s.defaultCollection
	}
	req := BackendRequest{
		Collection:     collection,
		Path:           s.collections[collection],
		EmbeddingModel: step.EmbeddingModel,
	}
	backend, err := s.backends.Backend(ctx, req)
	if err != nil {
		return errorResult(fmt.Errorf("open collection %q: %w", collection, err))
	}

	timer := logging.StartTimer(logging.CategoryRetrieval, "search "+collection)
	results := retrieval.Search(ctx, backend, plan, step.SearchParams)
	timer.Stop()
	logging.Retrieval("step %s: %d queries against %s (structured=%v)", step.Name, len(plan.Queries), collection, plan.Structured)

	scope.Publish(KeyRetrievalResults, results)
	return map[string]any{
		"success":       true,
		"results":       results,
		"collection":    collection,
		"total_queries": len(plan.Queries),
	}
}
