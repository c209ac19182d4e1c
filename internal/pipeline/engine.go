// Package pipeline runs YAML-declared document pipelines: inputs are
// ingested, processing steps execute in declaration order over a shared
// run context, requirements are reconciled and outputs are written.
package pipeline

import (
	"context"
	"fmt"
	"io"
	"time"

	"tenderpipe/internal/config"
	"tenderpipe/internal/discovery"
	"tenderpipe/internal/llm"
	"tenderpipe/internal/logging"
	"tenderpipe/internal/output"
	"tenderpipe/internal/render"
	"tenderpipe/internal/report"
	"tenderpipe/internal/requirements"
	"tenderpipe/internal/retrieval"
)

// Engine executes pipeline files. It holds long-lived collaborators only;
// everything that belongs to one run travels in RunConfig and Context.
type Engine struct {
	cfg          *config.Config
	processor    *llm.Processor
	renderer     *render.Renderer
	transforms   *Registry
	backends     BackendResolver
	reranker     *retrieval.Reranker
	materializer *output.Materializer
	reports      *report.Generator
	now          func() time.Time
}

// Option configures an Engine.
type Option func(*Engine)

// WithTransforms replaces the transform registry.
func WithTransforms(r *Registry) Option { return func(e *Engine) { e.transforms = r } }

// WithBackends replaces the vector backend resolver.
func WithBackends(b BackendResolver) Option { return func(e *Engine) { e.backends = b } }

// WithReranker replaces the reranker.
func WithReranker(r *retrieval.Reranker) Option { return func(e *Engine) { e.reranker = r } }

// WithReportGenerator replaces the spreadsheet generator.
func WithReportGenerator(g *report.Generator) Option { return func(e *Engine) { e.reports = g } }

// WithClock sets the clock used for run timestamps.
func WithClock(now func() time.Time) Option { return func(e *Engine) { e.now = now } }

// NewEngine creates an engine. A nil cfg means config.DefaultConfig().
func NewEngine(cfg *config.Config, processor *llm.Processor, opts ...Option) *Engine {
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	e := &Engine{
		cfg:       cfg,
		processor: processor,
		renderer:  render.New(),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.transforms == nil {
		e.transforms = DefaultTransforms()
	}
	if e.backends == nil {
		e.backends = NewStoreBackends(cfg.Embedding, cfg.VectorStore.Path)
	}
	if e.reranker == nil {
		e.reranker = retrieval.NewReranker(retrieval.LexicalScorer{}, cfg.Reranker.TopN)
	}
	e.materializer = output.NewMaterializer(e.renderer, e.reports)
	return e
}

// Transforms returns the registry native steps resolve against.
func (e *Engine) Transforms() *Registry { return e.transforms }

// Close releases backends that hold resources.
func (e *Engine) Close() error {
	if c, ok := e.backends.(io.Closer); ok {
		return c.Close()
	}
	return nil
}

// RunOptions are the per-run parameters of RunPrompt.
type RunOptions struct {
	Inputs         map[string]any
	LLMModel       string
	EmbeddingModel string
	OutputDir      string
	// Context seeds extra run-context keys such as drawing_image_path.
	Context map[string]any
}

// RunResult is the outcome of one run.
type RunResult struct {
	Success         bool           `json:"success"`
	RunID           string         `json:"run_id,omitempty"`
	PipelineResults map[string]any `json:"pipeline_results,omitempty"`
	OutputFiles     []string       `json:"output_files,omitempty"`
	Warnings        []string       `json:"warnings,omitempty"`
	Error           string         `json:"error,omitempty"`
}

// Map returns the result in generic form.
func (r RunResult) Map() map[string]any {
	if !r.Success {
		return map[string]any{"success": false, "error": r.Error}
	}
	files := make([]any, len(r.OutputFiles))
	for i, f := range r.OutputFiles {
		files[i] = f
	}
	return map[string]any{
		"success":          true,
		"run_id":           r.RunID,
		"pipeline_results": r.PipelineResults,
		"output_files":     files,
	}
}

func failed(err error) RunResult {
	logging.Get(logging.CategoryPipeline).Error("run failed: %v", err)
	return RunResult{Success: false, Error: err.Error()}
}

// RunPrompt loads the pipeline at path and runs it.
func (e *Engine) RunPrompt(ctx context.Context, path string, opts RunOptions) RunResult {
	pc, err := LoadConfig(path)
	if err != nil {
		return failed(err)
	}
	return e.Run(ctx, pc, opts)
}

// Run executes a parsed pipeline. Only setup problems (validation, inputs,
// databases) fail the run; step failures are recorded in the results.
func (e *Engine) Run(ctx context.Context, pc *PipelineConfig, opts RunOptions) RunResult {
	timer := logging.StartTimer(logging.CategoryPipeline, "run "+pc.Name)
	defer timer.Stop()

	warnings, err := pc.Validate(e.transforms)
	if err != nil {
		return failed(err)
	}
	for _, w := range warnings {
		logging.PipelineWarn("%s", w)
	}

	rc := NewRunConfig(e.now())
	rc.LLMModel = opts.LLMModel
	rc.EmbeddingModel = opts.EmbeddingModel
	rc.OutputDir = opts.OutputDir
	if rc.OutputDir == "" {
		rc.OutputDir = e.cfg.Paths.Outputs
	}
	logging.Pipeline("run %s: pipeline %q, %d steps, %d outputs", rc.RunID, pc.Name, len(pc.Steps), len(pc.Outputs))

	inputs, err := ProcessInputs(pc.Inputs, opts.Inputs)
	if err != nil {
		return failed(err)
	}
	dbs, closeDBs, err := openDatabases(ctx, pc)
	if err != nil {
		return failed(err)
	}
	defer closeDBs()

	runCtx := NewContext(inputs, dbs)
	for k, v := range opts.Context {
		if _, fixed := runCtx[k]; !fixed {
			runCtx[k] = v
		}
	}

	collections := make(map[string]string, len(pc.Collections))
	for name, p := range pc.Collections {
		collections[name] = pc.ResolvePath(p)
	}
	dispatcher := NewDispatcher(Deps{
		Processor:         e.processor,
		Renderer:          e.renderer,
		Transforms:        e.transforms,
		Backends:          e.backends,
		Reranker:          e.reranker,
		Collections:       collections,
		DefaultCollection: e.cfg.VectorStore.DefaultCollection,
	})
	results := dispatcher.Execute(ctx, pc.Steps, runCtx, rc)

	reconcileRun(runCtx)
	runCtx[KeyRun] = rc.Map()

	files := e.materializer.Materialize(pc.Outputs, runCtx, output.Target{Dir: rc.OutputDir, TemplateDir: pc.Dir()})
	logging.Pipeline("run %s finished: %d step results, %d output files", rc.RunID, len(results), len(files))

	return RunResult{
		Success:         true,
		RunID:           rc.RunID,
		PipelineResults: results,
		OutputFiles:     files,
		Warnings:        warnings,
	}
}

// openDatabases opens every configured database. A missing file is a
// configuration error.
func openDatabases(ctx context.Context, pc *PipelineConfig) (map[string]any, func(), error) {
	dbs := make(map[string]any, len(pc.Databases))
	var opened []*discovery.Database
	closeAll := func() {
		for _, db := range opened {
			if err := db.Close(); err != nil {
				logging.Get(logging.CategoryDiscovery).Warn("close %s: %v", db.Path(), err)
			}
		}
	}
	for name, p := range pc.Databases {
		db, err := discovery.Open(ctx, pc.ResolvePath(p))
		if err != nil {
			closeAll()
			return nil, nil, &ConfigError{Op: "databases", Err: fmt.Errorf("%s: %w", name, err)}
		}
		opened = append(opened, db)
		dbs[name] = db
		logging.Pipeline("%s: %d functions auto-discovered", name, len(db.Functions()))
	}
	return dbs, closeAll, nil
}

// reconcileRun repairs run-level keys after all steps ran: requirements are
// re-derived when a clause extraction step exists, and the rerank step's
// results become reranked_candidates.
func reconcileRun(runCtx Context) {
	results := runCtx.Results()

	if step, ok := results[extractClausesStep]; ok {
		doc := documentContent(runCtx.Inputs()["analysis_file"])
		reqs, source := requirements.Reconcile(doc, step)
		if len(reqs) > 0 {
			runCtx[KeyRequirements] = stringsToAny(reqs)
			logging.Reconcile("requirements set from %s: %d entries", source, len(reqs))
		} else {
			logging.Get(logging.CategoryReconcile).Warn("no requirements could be reconciled from %s", extractClausesStep)
		}
	}

	if r, ok := results[rerankStep].(map[string]any); ok {
		if cands, ok := r["results"]; ok {
			runCtx[KeyRerankedCandidates] = cands
		}
	}
}

func documentContent(v any) string {
	switch d := v.(type) {
	case map[string]any:
		s, _ := d["content"].(string)
		return s
	case string:
		return d
	}
	return ""
}

