// Package output writes the final artifacts of a pipeline run: JSON, markdown,
// text and compliance spreadsheets. A single failing output is logged and
// skipped; the remaining outputs are still written.
package output

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"tenderpipe/internal/jsonx"
	"tenderpipe/internal/logging"
	"tenderpipe/internal/render"
	"tenderpipe/internal/report"
)

// Output types.
const (
	TypeJSON        = "json"
	TypeMarkdown    = "markdown"
	TypeText        = "text"
	TypeSpreadsheet = "spreadsheet"
	TypeCustomExcel = "custom_excel"
	TypeExcel       = "excel"
)

const (
	defaultMarkdown = "# Results\n\n{{ toPrettyJson .step_results }}\n"
	defaultText     = "{{ .step_results }}"
)

// Spec declares one output of a pipeline.
type Spec struct {
	Type      string `yaml:"type" json:"type"`
	Filename  string `yaml:"filename" json:"filename"`
	Condition string `yaml:"condition,omitempty" json:"condition,omitempty"`
	Data      any    `yaml:"data,omitempty" json:"data,omitempty"`
	Content   string `yaml:"content,omitempty" json:"content,omitempty"`
	Template  string `yaml:"template,omitempty" json:"template,omitempty"`
	LLMStep   string `yaml:"llm_step,omitempty" json:"llm_step,omitempty"`
}

// IsSpreadsheet reports whether the spec produces a workbook.
func (s Spec) IsSpreadsheet() bool {
	switch s.Type {
	case TypeSpreadsheet, TypeCustomExcel, TypeExcel:
		return true
	}
	return false
}

// KnownType reports whether t is a supported output type.
func KnownType(t string) bool {
	switch t {
	case TypeJSON, TypeMarkdown, TypeText, TypeSpreadsheet, TypeCustomExcel, TypeExcel:
		return true
	}
	return false
}

// Target says where a run's outputs go.
type Target struct {
	// Dir receives every output file.
	Dir string
	// TemplateDir resolves relative markdown template paths, usually the
	// directory of the pipeline file.
	TemplateDir string
}

// Materializer renders output specs against a completed run context.
type Materializer struct {
	renderer *render.Renderer
	reports  *report.Generator
}

// NewMaterializer creates a Materializer. Nil arguments get defaults.
func NewMaterializer(r *render.Renderer, g *report.Generator) *Materializer {
	if r == nil {
		r = render.New()
	}
	if g == nil {
		g = report.NewGenerator()
	}
	return &Materializer{renderer: r, reports: g}
}

// Materialize writes every spec whose condition holds and returns the paths
// that were written successfully, in spec order.
func (m *Materializer) Materialize(specs []Spec, data map[string]any, target Target) []string {
	log := logging.Get(logging.CategoryOutput)
	var written []string

	for i, spec := range specs {
		if !KnownType(spec.Type) {
			log.Warn("output %d: unknown type %q, skipped", i, spec.Type)
			continue
		}
		if spec.Condition != "" {
			ok, err := m.renderer.Condition(spec.Condition, data)
			if err != nil {
				log.Warn("output %d: could not evaluate condition %q: %v", i, spec.Condition, err)
				continue
			}
			if !ok {
				log.Debug("output %d: condition %q is false", i, spec.Condition)
				continue
			}
		}

		name, err := m.renderer.Render(spec.Filename, data)
		if err != nil {
			log.Warn("output %d: filename %q: %v", i, spec.Filename, err)
			continue
		}
		name = strings.TrimSpace(name)
		if name == "" {
			log.Warn("output %d: empty filename, skipped", i)
			continue
		}
		path := filepath.Join(target.Dir, name)
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			log.Error("output %s: %v", path, err)
			continue
		}

		if err := m.write(spec, path, data, target); err != nil {
			log.Error("output %s: %v", path, err)
			continue
		}
		logging.Output("wrote %s output %s", spec.Type, path)
		written = append(written, path)
	}
	return written
}

func (m *Materializer) write(spec Spec, path string, data map[string]any, target Target) error {
	switch {
	case spec.Type == TypeJSON:
		return m.writeJSON(spec, path, data)
	case spec.Type == TypeMarkdown:
		return m.writeMarkdown(spec, path, data, target)
	case spec.Type == TypeText:
		return m.writeText(spec, path, data)
	case spec.IsSpreadsheet():
		return m.writeSpreadsheet(spec, path, data)
	}
	return fmt.Errorf("unsupported output type %q", spec.Type)
}

func (m *Materializer) writeJSON(spec Spec, path string, data map[string]any) error {
	var value any
	switch d := spec.Data.(type) {
	case nil:
		value = data["step_results"]
	case string:
		rendered, err := m.renderer.Render(d, data)
		if err != nil {
			return err
		}
		stripped := jsonx.StripCodeFences(rendered)
		var parsed any
		if err := json.Unmarshal([]byte(stripped), &parsed); err != nil {
			logging.Get(logging.CategoryOutput).Debug("json output %s kept as string: %v", path, err)
			value = stripped
		} else {
			value = parsed
		}
	default:
		value = m.renderer.RenderTree(d, data)
	}

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	if err := enc.Encode(Sanitize(value)); err != nil {
		return fmt.Errorf("encode json: %w", err)
	}
	return os.WriteFile(path, buf.Bytes(), 0644)
}

func (m *Materializer) writeMarkdown(spec Spec, path string, data map[string]any, target Target) error {
	source := spec.Content
	if spec.Template != "" {
		if b, err := os.ReadFile(resolveTemplate(spec.Template, target.TemplateDir)); err == nil {
			source = string(b)
		} else {
			logging.Get(logging.CategoryOutput).Warn("markdown template %s unavailable: %v", spec.Template, err)
		}
	}
	if source == "" {
		source = defaultMarkdown
	}
	content, err := m.renderer.Render(source, safeData(data))
	if err != nil {
		return err
	}
	return os.WriteFile(path, []byte(content), 0644)
}

func (m *Materializer) writeText(spec Spec, path string, data map[string]any) error {
	source := spec.Content
	if source == "" {
		source = defaultText
	}
	content, err := m.renderer.Render(source, data)
	if err != nil {
		return err
	}
	return os.WriteFile(path, []byte(jsonx.StripCodeFences(content)), 0644)
}

// writeSpreadsheet always writes a workbook. Without a usable LLM step
// the generator receives the raw text (or nothing) and falls back.
func (m *Materializer) writeSpreadsheet(spec Spec, path string, data map[string]any) error {
	log := logging.Get(logging.CategoryOutput)

	var source any
	results, _ := data["step_results"].(map[string]any)
	step, found := results[spec.LLMStep]
	switch {
	case spec.LLMStep == "":
		log.Warn("spreadsheet %s has no llm_step, writing fallback report", path)
	case !found:
		log.Warn("llm step %q not found in pipeline results, writing fallback report", spec.LLMStep)
	default:
		raw := rawResponse(step)
		if obj, ok := jsonx.ExtractObject(jsonx.StripCodeFences(raw)); ok {
			source = obj
		} else {
			log.Warn("could not extract JSON from %q response (%d chars)", spec.LLMStep, len(raw))
			source = raw
		}
	}

	outcome, err := m.reports.Generate(path, source)
	if err != nil {
		return err
	}
	logging.Output("compliance report %s: %s", path, outcome)
	return nil
}

func rawResponse(step any) string {
	m, ok := step.(map[string]any)
	if !ok {
		return ""
	}
	if s, ok := m["raw_response"].(string); ok {
		return s
	}
	return ""
}

func resolveTemplate(name, dir string) string {
	if filepath.IsAbs(name) || dir == "" {
		return name
	}
	if _, err := os.Stat(name); err == nil {
		return name
	}
	return filepath.Join(dir, name)
}

// safeData replaces step_results with its JSON-safe form so template
// functions such as toPrettyJson never fail on handles.
func safeData(data map[string]any) map[string]any {
	out := make(map[string]any, len(data))
	for k, v := range data {
		out[k] = v
	}
	out["step_results"] = Sanitize(data["step_results"])
	return out
}

// Sanitize returns a copy of v that encoding/json can always encode. Values
// that fail to marshal are replaced with their fmt representation.
func Sanitize(v any) any {
	switch val := v.(type) {
	case nil, string, bool, float64, float32, int, int64, int32:
		return val
	case map[string]any:
		m := make(map[string]any, len(val))
		for k, item := range val {
			m[k] = Sanitize(item)
		}
		return m
	case []any:
		s := make([]any, len(val))
		for i, item := range val {
			s[i] = Sanitize(item)
		}
		return s
	case []string:
		s := make([]any, len(val))
		for i, item := range val {
			s[i] = item
		}
		return s
	case []map[string]any:
		s := make([]any, len(val))
		for i, item := range val {
			s[i] = Sanitize(item)
		}
		return s
	}
	if _, err := json.Marshal(v); err != nil {
		return fmt.Sprint(v)
	}
	return v
}
