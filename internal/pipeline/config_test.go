package pipeline

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tenderpipe/internal/output"
)

func TestParseConfigRejectsEmpty(t *testing.T) {
	for _, doc := range []string{"", "   \n", "# only a comment\n"} {
		_, err := ParseConfig([]byte(doc))
		require.Error(t, err)
		assert.True(t, IsConfigError(err), "%q: %v", doc, err)
	}
}

func TestLoadConfigMissingFile(t *testing.T) {
	_, err := LoadConfig(filepath.Join(t.TempDir(), "absent.yaml"))
	require.Error(t, err)
	assert.True(t, IsConfigError(err))
	assert.Contains(t, err.Error(), "not found")
}

func TestLoadConfigFields(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tender.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
name: Tender compliance
inputs:
  - name: analysis_file
    type: file
    required: true
  - name: strictness
    type: option
    options: [low, high]
    default: high
databases:
  meters: data/meters.db
collections:
  meters_semantic: data/vectors.db
processing_steps:
  - name: search
    type: vector_search
    collection: meters_semantic
    timeout: 30
    search_params:
      n_results: 7
      include_metadata: true
  - name: summarize
    type: llm
    prompt_template: "{{ .requirements }}"
    dependencies: [search]
outputs:
  - type: json
    filename: "{{ .run.run_id }}.json"
`), 0644))

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, "Tender compliance", cfg.Name)
	require.Len(t, cfg.Inputs, 2)
	assert.Equal(t, []any{"low", "high"}, cfg.Inputs[1].Options)
	assert.Equal(t, "data/meters.db", cfg.Databases["meters"])

	search, ok := cfg.Step("search")
	require.True(t, ok)
	assert.Equal(t, 7, search.SearchParams.NResults)
	assert.True(t, search.SearchParams.IncludeMetadata)
	assert.Equal(t, "30s", search.TimeoutDuration().String())
	assert.Equal(t, KindRetrieval, Classify(search))

	summarize, _ := cfg.Step("summarize")
	assert.Equal(t, "2m0s", summarize.TimeoutDuration().String())
	assert.Equal(t, filepath.Dir(path), cfg.Dir())
	assert.Equal(t, filepath.Join(filepath.Dir(path), "data/vectors.db"), cfg.ResolvePath("data/vectors.db"))

	warnings, err := cfg.Validate(nil)
	require.NoError(t, err)
	assert.Empty(t, warnings)
}

func TestValidateErrors(t *testing.T) {
	tests := []struct {
		name string
		cfg  PipelineConfig
		want string
	}{
		{"nothing to do", PipelineConfig{Name: "x"}, "no processing_steps"},
		{"unnamed step", PipelineConfig{Steps: []StepSpec{{Type: "llm"}}}, "has no name"},
		{"duplicate step", PipelineConfig{Steps: []StepSpec{{Name: "a"}, {Name: "a"}}}, "duplicate step name"},
		{"duplicate input", PipelineConfig{
			Inputs: []InputSpec{{Name: "f", Type: "file"}, {Name: "f", Type: "text"}},
			Steps:  []StepSpec{{Name: "a"}},
		}, "duplicate input"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := tt.cfg.Validate(nil)
			require.Error(t, err)
			assert.True(t, IsConfigError(err))
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestValidateWarnings(t *testing.T) {
	cfg := PipelineConfig{
		Inputs: []InputSpec{{Name: "level", Type: "option", Options: []any{"a", "b"}, Default: "c"}},
		Steps: []StepSpec{
			{Name: "llamaindex_search", Dependencies: []string{"extract_clauses"}},
			{Name: "extract_clauses", Type: "llm", PromptTemplate: "x"},
			{Name: "odd", Type: "spreadsheet_magic"},
			{Name: "loop", Type: "python", Foreach: "context['clauses']", Transform: "literal"},
			{Name: "inline", Type: "python", Code: "result = 1"},
		},
		Outputs: []output.Spec{{Type: "custom_excel", Filename: "r.xlsx", LLMStep: "missing_step"}},
	}
	warnings, err := cfg.Validate(nil)
	require.NoError(t, err)

	joined := strings.Join(warnings, "\n")
	for _, want := range []string{
		`default c is not one of its options`,
		`"llamaindex_search" depends on "extract_clauses", which is not declared before it`,
		`unknown type "spreadsheet_magic"`,
		`"loop" sets foreach but is type "python"`,
		`"inline" carries inline code`,
		`llm_step "missing_step"`,
		`retrieval step "llamaindex_search"`,
	} {
		assert.Contains(t, joined, want)
	}
}

func TestClassify(t *testing.T) {
	tests := []struct {
		step StepSpec
		want Kind
	}{
		{StepSpec{Name: "llm_breakdown_features", Type: "python"}, KindCondense},
		{StepSpec{Name: "x", Type: "llm", Breakdown: true}, KindCondense},
		{StepSpec{Name: "llamaindex_q", Type: "python"}, KindNative},
		{StepSpec{Name: "x", Type: "transform"}, KindNative},
		{StepSpec{Name: "x", Type: "reranker"}, KindRerank},
		{StepSpec{Name: "x", Type: "chroma"}, KindRetrieval},
		{StepSpec{Name: "llamaindex_q"}, KindRetrieval},
		{StepSpec{Name: "x", Type: "llm", Foreach: "context['chunks']"}, KindFanOut},
		{StepSpec{Name: "x", Type: "custom", Foreach: "context['chunks']"}, KindLLM},
		{StepSpec{Name: "x", Type: "llm"}, KindLLM},
		{StepSpec{Name: "x"}, KindLLM},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, Classify(tt.step), "%+v", tt.step)
	}
}
