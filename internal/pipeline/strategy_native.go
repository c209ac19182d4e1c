package pipeline

import (
	"context"
	"fmt"

	"tenderpipe/internal/render"
)

// nativeStrategy runs a registered transform.
type nativeStrategy struct {
	transforms *Registry
	renderer   *render.Renderer
}

func (s *nativeStrategy) Execute(ctx context.Context, step StepSpec, scope *Scope) any {
	t, ok := s.transforms.Get(step.TransformName())
	if !ok {
		if step.Code != "" {
			return errorResult(fmt.Errorf("step %q: %w", step.Name, ErrCodeNotSupported))
		}
		return errorResult(fmt.Errorf("step %q: %w: %s", step.Name, ErrUnknownTransform, step.TransformName()))
	}

	args, _ := s.renderer.RenderTree(step.With, scope.Data()).(map[string]any)
	env := &TransformEnv{Step: step, Scope: scope, Args: args}
	out, err := t.Fn(ctx, env)
	if err != nil {
		return errorResult(fmt.Errorf("transform %s: %w", t.Name, err))
	}
	return out
}
