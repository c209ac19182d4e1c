package pipeline

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"tenderpipe/internal/llm"
	"tenderpipe/internal/logging"
	"tenderpipe/internal/render"
)

// Strategy executes one kind of step. Implementations never return an
// error: failures become a {success:false, error} result.
type Strategy interface {
	Execute(ctx context.Context, step StepSpec, scope *Scope) any
}

// errorResult is the soft-fail envelope recorded for a failed step.
func errorResult(err error) map[string]any {
	return map[string]any{"success": false, "error": err.Error()}
}

// IsFailure reports whether a step result is an error envelope.
func IsFailure(result any) bool {
	m, ok := result.(map[string]any)
	if !ok {
		return false
	}
	ok, present := m["success"].(bool)
	return present && !ok
}

// llmStrategy renders prompt_template and sends it to the model.
type llmStrategy struct {
	proc     *llm.Processor
	renderer *render.Renderer
}

func (s *llmStrategy) Execute(ctx context.Context, step StepSpec, scope *Scope) any {
	if s.proc == nil {
		return errorResult(errors.New("no language model configured"))
	}
	if strings.TrimSpace(step.PromptTemplate) == "" {
		return errorResult(fmt.Errorf("step %q has no prompt_template", step.Name))
	}
	prompt, err := s.renderer.Render(step.PromptTemplate, scope.Data())
	if err != nil {
		return errorResult(fmt.Errorf("render prompt: %w", err))
	}
	return s.proc.Process(ctx, prompt, s.call(step, scope)).Map()
}

func (s *llmStrategy) call(step StepSpec, scope *Scope) llm.Call {
	call := llm.Call{Model: step.LLMModel, Timeout: step.TimeoutDuration()}
	if img := s.visionImage(step, scope); img != nil {
		call.Images = [][]byte{img}
	}
	return call
}

// visionImage loads drawing_image_path when the step's model accepts images.
func (s *llmStrategy) visionImage(step StepSpec, scope *Scope) []byte {
	v, ok := scope.Get(KeyDrawingImagePath)
	if !ok {
		return nil
	}
	path, _ := v.(string)
	if path == "" {
		return nil
	}
	model := step.LLMModel
	if model == "" {
		model = s.proc.DefaultModel()
	}
	if !llm.IsVisionModel(model) {
		return nil
	}
	img, err := os.ReadFile(path)
	if err != nil {
		logging.Get(logging.CategoryLLM).Warn("could not read image for vision model %s: %v", model, err)
		return nil
	}
	logging.LLMDebug("attaching %s (%d bytes) for %s", path, len(img), model)
	return img
}

// fanOutStrategy runs the llm strategy once per foreach item, in order.
type fanOutStrategy struct {
	llm *llmStrategy
}

func (s *fanOutStrategy) Execute(ctx context.Context, step StepSpec, scope *Scope) any {
	items, err := ResolveForeach(step.Foreach, scope)
	if err != nil {
		logging.Get(logging.CategoryPipeline).Error("step %s: %v", step.Name, err)
		res := errorResult(err)
		res["fatal"] = true
		return res
	}

	template := step.Input
	if strings.TrimSpace(template) == "" {
		template = step.PromptTemplate
	}
	logging.Pipeline("step %s: foreach over %d items", step.Name, len(items))

	out := make([]any, len(items))
	for i, item := range items {
		out[i] = s.runItem(ctx, step, scope, template, i, item)
	}
	return out
}

func (s *fanOutStrategy) runItem(ctx context.Context, step StepSpec, scope *Scope, template string, i int, item any) any {
	if s.llm.proc == nil {
		return errorResult(errors.New("no language model configured"))
	}
	if err := ctx.Err(); err != nil {
		return errorResult(err)
	}
	extra := map[string]any{}
	if m, ok := item.(map[string]any); ok {
		for k, v := range m {
			extra[k] = v
		}
	}
	extra["item"] = item
	extra["index"] = i

	prompt, err := s.llm.renderer.Render(template, scope.child(extra))
	if err != nil {
		return errorResult(fmt.Errorf("item %d: render prompt: %w", i, err))
	}
	return s.llm.proc.Process(ctx, prompt, s.llm.call(step, scope)).Map()
}
