package pipeline

import (
	"context"
	"fmt"
	"runtime/debug"
	"time"

	"tenderpipe/internal/llm"
	"tenderpipe/internal/logging"
	"tenderpipe/internal/render"
	"tenderpipe/internal/retrieval"
)

// Deps are the collaborators the dispatcher's strategies use. Nil fields
// get defaults where one exists; steps needing a missing collaborator fail
// with an error envelope.
type Deps struct {
	Processor         *llm.Processor
	Renderer          *render.Renderer
	Transforms        *Registry
	Backends          BackendResolver
	Reranker          *retrieval.Reranker
	Collections       map[string]string
	DefaultCollection string
}

// Dispatcher runs steps in declaration order.
type Dispatcher struct {
	strategies map[Kind]Strategy
}

// NewDispatcher wires one strategy per step kind.
func NewDispatcher(deps Deps) *Dispatcher {
	if deps.Renderer == nil {
		deps.Renderer = render.New()
	}
	if deps.Transforms == nil {
		deps.Transforms = DefaultTransforms()
	}
	if deps.Reranker == nil {
		deps.Reranker = retrieval.NewReranker(retrieval.LexicalScorer{}, retrieval.DefaultTopN)
	}
	single := &llmStrategy{proc: deps.Processor, renderer: deps.Renderer}
	return &Dispatcher{strategies: map[Kind]Strategy{
		KindLLM:      single,
		KindFanOut:   &fanOutStrategy{llm: single},
		KindCondense: &condenseStrategy{proc: deps.Processor},
		KindNative:   &nativeStrategy{transforms: deps.Transforms, renderer: deps.Renderer},
		KindRerank:   &rerankStrategy{reranker: deps.Reranker},
		KindRetrieval: &retrievalStrategy{
			backends:          deps.Backends,
			renderer:          deps.Renderer,
			collections:       deps.Collections,
			defaultCollection: deps.DefaultCollection,
		},
	}}
}

// Execute runs steps strictly in order against runCtx and returns the step
// results, which are also runCtx's step_results. A failing step records an
// error envelope and the next step still runs. Keys a step publishes are
// merged into runCtx after it finishes.
func (d *Dispatcher) Execute(ctx context.Context, steps []StepSpec, runCtx Context, rc RunConfig) map[string]any {
	results := runCtx.Results()
	for i, step := range steps {
		step = withRunOverrides(step, rc)
		kind := Classify(step)

		if err := ctx.Err(); err != nil {
			results[step.Name] = errorResult(fmt.Errorf("run cancelled before step: %w", err))
			continue
		}

		logging.Pipeline("step %d/%d: %s (%s)", i+1, len(steps), step.Name, kind)
		scope := NewScope(runCtx, step, rc)
		start := time.Now()
		result := d.run(ctx, kind, step, scope)
		results[step.Name] = result
		scope.mergeInto(runCtx)

		if IsFailure(result) {
			logging.PipelineWarn("step %s failed after %v: %v", step.Name, time.Since(start), result.(map[string]any)["error"])
		} else {
			logging.PipelineDebug("step %s done in %v, published %v", step.Name, time.Since(start), scope.Published())
		}
	}
	return results
}

func (d *Dispatcher) run(ctx context.Context, kind Kind, step StepSpec, scope *Scope) (result any) {
	defer func() {
		if r := recover(); r != nil {
			logging.Get(logging.CategoryPipeline).Error("step %s panicked: %v\n%s", step.Name, r, debug.Stack())
			result = errorResult(fmt.Errorf("step %s panicked: %v", step.Name, r))
		}
	}()
	s, ok := d.strategies[kind]
	if !ok {
		return errorResult(fmt.Errorf("no strategy for %s steps", kind))
	}
	return s.Execute(ctx, step, scope)
}

// withRunOverrides fills unset model fields from the run config.
func withRunOverrides(step StepSpec, rc RunConfig) StepSpec {
	if step.LLMModel == "" {
		step.LLMModel = rc.LLMModel
	}
	if step.EmbeddingModel == "" {
		step.EmbeddingModel = rc.EmbeddingModel
	}
	return step
}
