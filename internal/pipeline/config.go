package pipeline

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"tenderpipe/internal/llm"
	"tenderpipe/internal/output"
	"tenderpipe/internal/retrieval"
)

// Input types.
const (
	InputFile    = "file"
	InputText    = "text"
	InputOption  = "option"
	InputNumber  = "number"
	InputBoolean = "boolean"
)

// PipelineConfig is a parsed pipeline document. It is loaded once per run
// and not modified afterwards.
type PipelineConfig struct {
	Name        string            `yaml:"name"`
	Description string            `yaml:"description,omitempty"`
	Inputs      []InputSpec       `yaml:"inputs"`
	Databases   map[string]string `yaml:"databases,omitempty"`
	Collections map[string]string `yaml:"collections,omitempty"`
	Steps       []StepSpec        `yaml:"processing_steps"`
	Outputs     []output.Spec     `yaml:"outputs"`

	path string
}

// InputSpec declares one pipeline input.
type InputSpec struct {
	Name        string `yaml:"name"`
	Type        string `yaml:"type"`
	Required    bool   `yaml:"required,omitempty"`
	Description string `yaml:"description,omitempty"`
	Default     any    `yaml:"default,omitempty"`
	Options     []any  `yaml:"options,omitempty"`
}

// StepSpec declares one processing step.
type StepSpec struct {
	Name           string           `yaml:"name"`
	Type           string           `yaml:"type"`
	PromptTemplate string           `yaml:"prompt_template,omitempty"`
	Input          string           `yaml:"input,omitempty"`
	Code           string           `yaml:"code,omitempty"`
	Transform      string           `yaml:"transform,omitempty"`
	With           map[string]any   `yaml:"with,omitempty"`
	Dependencies   []string         `yaml:"dependencies,omitempty"`
	Timeout        int              `yaml:"timeout,omitempty"` // seconds
	Foreach        string           `yaml:"foreach,omitempty"`
	Breakdown      bool             `yaml:"breakdown,omitempty"`
	SearchParams   retrieval.Params `yaml:"search_params,omitempty"`
	Collection     string           `yaml:"collection,omitempty"`
	LLMModel       string           `yaml:"llm_model,omitempty"`
	EmbeddingModel string           `yaml:"embedding_model,omitempty"`
}

// TimeoutDuration returns the step timeout, defaulting to llm.DefaultTimeout.
func (s StepSpec) TimeoutDuration() time.Duration {
	if s.Timeout <= 0 {
		return llm.DefaultTimeout
	}
	return time.Duration(s.Timeout) * time.Second
}

// TransformName is the registry key a native step runs.
func (s StepSpec) TransformName() string {
	if s.Transform != "" {
		return s.Transform
	}
	return s.Name
}

// LoadConfig reads and parses a pipeline file. Every failure is a *ConfigError.
func LoadConfig(path string) (*PipelineConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, configErrorf("load pipeline", "pipeline file not found: %s", path)
		}
		return nil, &ConfigError{Op: "load pipeline", Err: err}
	}
	cfg, err := ParseConfig(data)
	if err != nil {
		return nil, err
	}
	cfg.path = path
	return cfg, nil
}

// ParseConfig parses pipeline YAML. A document with no content is an error.
func ParseConfig(data []byte) (*PipelineConfig, error) {
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, configErrorf("parse pipeline", "pipeline file is empty")
	}
	var probe map[string]any
	if err := yaml.Unmarshal(data, &probe); err != nil {
		return nil, &ConfigError{Op: "parse pipeline", Err: err}
	}
	if len(probe) == 0 {
		return nil, configErrorf("parse pipeline", "pipeline file is empty")
	}

	var cfg PipelineConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, &ConfigError{Op: "parse pipeline", Err: err}
	}
	return &cfg, nil
}

// Path returns the file the config was loaded from, if any.
func (c *PipelineConfig) Path() string { return c.path }

// Dir returns the directory relative paths are resolved against.
func (c *PipelineConfig) Dir() string {
	if c.path == "" {
		return "."
	}
	return filepath.Dir(c.path)
}

// Step returns the step named name.
func (c *PipelineConfig) Step(name string) (StepSpec, bool) {
	for _, s := range c.Steps {
		if s.Name == name {
			return s, true
		}
	}
	return StepSpec{}, false
}

// ResolvePath resolves p against the pipeline directory when p does not
// exist relative to the working directory.
func (c *PipelineConfig) ResolvePath(p string) string {
	if p == "" || filepath.IsAbs(p) {
		return p
	}
	if _, err := os.Stat(p); err == nil {
		return p
	}
	return filepath.Join(c.Dir(), p)
}

// Validate checks the pipeline. Structural problems are returned as a
// *ConfigError; anything that still lets the run proceed comes back as a
// warning. transforms may be nil.
func (c *PipelineConfig) Validate(transforms *Registry) ([]string, error) {
	if transforms == nil {
		transforms = DefaultTransforms()
	}
	var warnings []string
	warn := func(format string, args ...any) {
		warnings = append(warnings, fmt.Sprintf(format, args...))
	}

	if len(c.Steps) == 0 && len(c.Outputs) == 0 {
		return nil, configErrorf("validate", "pipeline declares no processing_steps and no outputs")
	}

	inputs := map[string]bool{}
	for i, in := range c.Inputs {
		if in.Name == "" {
			return nil, configErrorf("validate", "input %d has no name", i)
		}
		if inputs[in.Name] {
			return nil, configErrorf("validate", "duplicate input name %q", in.Name)
		}
		inputs[in.Name] = true
		switch in.Type {
		case InputFile, InputText, InputOption, InputNumber, InputBoolean:
		case "":
			warn("input %q has no type, treated as text", in.Name)
		default:
			warn("input %q has unknown type %q, treated as text", in.Name, in.Type)
		}
		if in.Type == InputOption && in.Default != nil && len(in.Options) > 0 && !containsOption(in.Options, in.Default) {
			warn("input %q default %v is not one of its options", in.Name, in.Default)
		}
	}

	seen := map[string]int{}
	extractionAt := -1
	for i, s := range c.Steps {
		if s.Name == "" {
			return nil, configErrorf("validate", "processing step %d has no name", i)
		}
		if j, dup := seen[s.Name]; dup {
			return nil, configErrorf("validate", "duplicate step name %q (steps %d and %d)", s.Name, j, i)
		}
		for _, dep := range s.Dependencies {
			if _, ok := seen[dep]; !ok {
				warn("step %q depends on %q, which is not declared before it; it will see no result", s.Name, dep)
			}
		}
		seen[s.Name] = i

		if !KnownStepType(s.Type) {
			warn("step %q has unknown type %q, it will run as a single-shot llm step", s.Name, s.Type)
		}
		if s.Foreach != "" && s.Type != "llm" {
			warn("step %q sets foreach but is type %q; foreach only applies to llm steps", s.Name, s.Type)
		}

		kind := Classify(s)
		if kind == KindNative && !transforms.Has(s.TransformName()) {
			if s.Code != "" {
				warn("step %q carries inline code and no registered transform; it will fail", s.Name)
			} else {
				warn("step %q names no registered transform (%q)", s.Name, s.TransformName())
			}
		}
		if kind == KindRerank && len(s.Dependencies) == 0 {
			warn("reranker step %q has no dependencies to read candidates from", s.Name)
		}
		if isExtractionStep(s) && extractionAt == -1 {
			extractionAt = i
		}
	}

	if extractionAt >= 0 {
		for i, s := range c.Steps[:extractionAt] {
			if Classify(s) == KindRetrieval {
				warn("retrieval step %q (step %d) runs before requirement extraction %q and will not see its requirements",
					s.Name, i, c.Steps[extractionAt].Name)
			}
		}
	}

	for i, o := range c.Outputs {
		if !output.KnownType(o.Type) {
			warn("output %d has unknown type %q", i, o.Type)
		}
		if o.Filename == "" {
			warn("output %d has no filename", i)
		}
		if o.LLMStep != "" {
			if _, ok := seen[o.LLMStep]; !ok {
				warn("output %d reads llm_step %q, which is not a declared step", i, o.LLMStep)
			}
		}
	}

	return warnings, nil
}

// isExtractionStep reports whether s produces the requirements that later
// retrieval steps search for.
func isExtractionStep(s StepSpec) bool {
	if s.Name == extractClausesStep || Classify(s) == KindCondense {
		return true
	}
	if Classify(s) == KindNative {
		switch s.TransformName() {
		case "load_clauses", "extract_requirements":
			return true
		}
	}
	return false
}

func containsOption(options []any, v any) bool {
	want := fmt.Sprint(v)
	for _, o := range options {
		if fmt.Sprint(o) == want {
			return true
		}
	}
	return false
}
