// Package render expands pipeline templates against the run context.
//
// Templates use text/template syntax with the sprig function map, so a prompt
// reads {{ .inputs.analysis_file.content }} and filters look like
// {{ .requirements | toJson }}. Missing keys render as the empty string.
package render

import (
	"bytes"
	"fmt"
	"strings"
	"sync"
	"text/template"

	"github.com/Masterminds/sprig/v3"
)

const noValue = "<no value>"

// Renderer renders template strings. It is safe for concurrent use and
// caches parsed templates by source text.
type Renderer struct {
	funcs template.FuncMap
	cache sync.Map // string -> *template.Template
}

// New returns a Renderer with the sprig functions plus a few helpers.
func New() *Renderer {
	funcs := sprig.TxtFuncMap()
	funcs["tojson"] = funcs["toJson"]
	funcs["words"] = func(s string) int { return len(strings.Fields(s)) }
	funcs["bullets"] = func(items []any) string {
		var b strings.Builder
		for _, it := range items {
			fmt.Fprintf(&b, "- %v\n", it)
		}
		return b.String()
	}
	return &Renderer{funcs: funcs}
}

// Render executes text against data. Text without "{{" is returned untouched.
func (r *Renderer) Render(text string, data map[string]any) (string, error) {
	if !strings.Contains(text, "{{") {
		return text, nil
	}
	tmpl, err := r.parse(text)
	if err != nil {
		return "", err
	}
	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("execute template: %w", err)
	}
	return strings.ReplaceAll(buf.String(), noValue, ""), nil
}

func (r *Renderer) parse(text string) (*template.Template, error) {
	if t, ok := r.cache.Load(text); ok {
		return t.(*template.Template), nil
	}
	t, err := template.New("tpl").Funcs(r.funcs).Parse(text)
	if err != nil {
		return nil, fmt.Errorf("parse template: %w", err)
	}
	r.cache.Store(text, t)
	return t, nil
}

// Condition renders expr as a boolean. An expression that is not already a
// template is wrapped in {{ }}. The result is true only when it renders to
// true, 1 or yes (case-insensitive).
func (r *Renderer) Condition(expr string, data map[string]any) (bool, error) {
	expr = strings.TrimSpace(expr)
	if expr == "" {
		return true, nil
	}
	if !strings.Contains(expr, "{{") {
		expr = "{{ " + expr + " }}"
	}
	out, err := r.Render(expr, data)
	if err != nil {
		return false, err
	}
	switch strings.ToLower(strings.TrimSpace(out)) {
	case "true", "1", "yes":
		return true, nil
	}
	return false, nil
}

// RenderTree walks maps and slices and renders every string leaf that holds
// an interpolation marker. A leaf that fails to render keeps its source text.
// The input is never mutated.
func (r *Renderer) RenderTree(v any, data map[string]any) any {
	switch val := v.(type) {
	case string:
		if !strings.Contains(val, "{{") {
			return val
		}
		out, err := r.Render(val, data)
		if err != nil {
			return val
		}
		return out
	case map[string]any:
		m := make(map[string]any, len(val))
		for k, item := range val {
			m[k] = r.RenderTree(item, data)
		}
		return m
	case []any:
		s := make([]any, len(val))
		for i, item := range val {
			s[i] = r.RenderTree(item, data)
		}
		return s
	case []string:
		s := make([]any, len(val))
		for i, item := range val {
			s[i] = r.RenderTree(item, data)
		}
		return s
	default:
		return v
	}
}
