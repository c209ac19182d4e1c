package pipeline

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// Well-known context keys.
const (
	KeyInputs             = "inputs"
	KeyDatabases          = "databases"
	KeyDatabaseSchemas    = "database_schemas"
	KeyStepResults        = "step_results"
	KeyRequirements       = "requirements"
	KeyRun                = "run"
	KeyClauses            = "clauses"
	KeyRetrievalResults   = "retrieval_results"
	KeyRerankedCandidates = "reranked_candidates"
	KeyDrawingImagePath   = "drawing_image_path"

	depPrefix = "dep_"
)

// Context is the run-level state shared by every step of one run.
type Context map[string]any

// schemaSource is satisfied by database handles that can describe themselves.
type schemaSource interface {
	SchemaInfo() map[string]any
}

// NewContext creates a run context holding inputs, database handles, their
// schema summaries under database_schemas and an empty step_results map.
func NewContext(inputs map[string]any, databases map[string]any) Context {
	if inputs == nil {
		inputs = map[string]any{}
	}
	if databases == nil {
		databases = map[string]any{}
	}
	schemas := make(map[string]any, len(databases))
	for name, db := range databases {
		if s, ok := db.(schemaSource); ok {
			schemas[name] = s.SchemaInfo()
		}
	}
	return Context{
		KeyInputs:          inputs,
		KeyDatabases:       databases,
		KeyDatabaseSchemas: schemas,
		KeyStepResults:     map[string]any{},
	}
}

// Results returns the step_results map, creating it if needed.
func (c Context) Results() map[string]any {
	if r, ok := c[KeyStepResults].(map[string]any); ok {
		return r
	}
	r := map[string]any{}
	c[KeyStepResults] = r
	return r
}

// Inputs returns the processed inputs.
func (c Context) Inputs() map[string]any {
	m, _ := c[KeyInputs].(map[string]any)
	return m
}

// RunConfig carries per-run settings. It is threaded through the dispatcher
// and every strategy and never kept on the engine.
type RunConfig struct {
	RunID          string
	Timestamp      time.Time
	LLMModel       string
	EmbeddingModel string
	OutputDir      string
}

// NewRunConfig stamps a fresh run id and timestamp.
func NewRunConfig(now time.Time) RunConfig {
	return RunConfig{RunID: uuid.NewString(), Timestamp: now}
}

// Map returns the template view of the run config.
func (rc RunConfig) Map() map[string]any {
	return map[string]any{
		"run_id":          rc.RunID,
		"timestamp":       rc.Timestamp.Format(time.RFC3339),
		"date":            rc.Timestamp.Format("2006-01-02"),
		"llm_model":       rc.LLMModel,
		"embedding_model": rc.EmbeddingModel,
		"output_dir":      rc.OutputDir,
	}
}

// Scope is the view one step gets of the run. Its values are a shallow copy
// of the run context, so new top-level keys stay local unless published.
type Scope struct {
	shared    Context
	values    map[string]any
	run       RunConfig
	published []string
	pending   map[string]any
}

// NewScope builds the per-step scope: a shallow copy of runCtx with a copy
// of results under step_results, the run config under run, and every
// available dependency under dep_<name>.
func NewScope(runCtx Context, step StepSpec, rc RunConfig) *Scope {
	values := make(map[string]any, len(runCtx)+len(step.Dependencies)+2)
	for k, v := range runCtx {
		values[k] = v
	}
	results := runCtx.Results()
	snapshot := make(map[string]any, len(results))
	for k, v := range results {
		snapshot[k] = v
	}
	values[KeyStepResults] = snapshot
	values[KeyRun] = rc.Map()
	for _, dep := range step.Dependencies {
		if r, ok := results[dep]; ok {
			values[depPrefix+dep] = r
		}
	}
	return &Scope{shared: runCtx, values: values, run: rc, pending: map[string]any{}}
}

// Data returns the template data for this step.
func (s *Scope) Data() map[string]any { return s.values }

// Get returns a scope value.
func (s *Scope) Get(key string) (any, bool) {
	v, ok := s.values[key]
	return v, ok
}

// Run returns the run config.
func (s *Scope) Run() RunConfig { return s.run }

// Results returns the snapshot of step results taken when the step started.
func (s *Scope) Results() map[string]any {
	m, _ := s.values[KeyStepResults].(map[string]any)
	return m
}

// Inputs returns the processed pipeline inputs.
func (s *Scope) Inputs() map[string]any {
	m, _ := s.values[KeyInputs].(map[string]any)
	return m
}

// Dependency returns the result of a declared dependency.
func (s *Scope) Dependency(name string) (any, bool) {
	v, ok := s.values[depPrefix+name]
	return v, ok
}

// Dependencies returns every dep_<name> entry keyed by step name.
func (s *Scope) Dependencies() map[string]any {
	out := map[string]any{}
	for k, v := range s.values {
		if name, ok := strings.CutPrefix(k, depPrefix); ok && name != "" {
			out[name] = v
		}
	}
	return out
}

// Publish makes key visible in the run context once the step finishes. The
// value is also visible to the rest of this step immediately.
func (s *Scope) Publish(key string, value any) {
	if _, seen := s.pending[key]; !seen {
		s.published = append(s.published, key)
	}
	s.pending[key] = value
	s.values[key] = value
}

// Published returns the published keys in publish order.
func (s *Scope) Published() []string {
	return append([]string(nil), s.published...)
}

// mergeInto copies published keys into the run context.
func (s *Scope) mergeInto(runCtx Context) {
	for _, k := range s.published {
		runCtx[k] = s.pending[k]
	}
}

// child returns a scope for one foreach item. Values are copied so item
// keys stay local; publishing from an item is not supported.
func (s *Scope) child(extra map[string]any) map[string]any {
	values := make(map[string]any, len(s.values)+len(extra))
	for k, v := range s.values {
		values[k] = v
	}
	for k, v := range extra {
		values[k] = v
	}
	return values
}
