package pipeline

import (
	"fmt"
	"regexp"
	"strings"
)

// foreachPattern accepts context['key'] and context['key']['sub'], with
// single or double quotes.
var foreachPattern = regexp.MustCompile(`^context\[\s*['"]([^'"]+)['"]\s*\](?:\[\s*['"]([^'"]+)['"]\s*\])?$`)

// ResolveForeach evaluates a foreach expression. The top-level key is looked
// up in the step scope, then the run context, then inputs, then prior
// results; the first hit wins. An unknown key or an expression outside the
// grammar fails with ErrUnresolvedForeach. A value that is not a list
// resolves to an empty list.
func ResolveForeach(expr string, scope *Scope) ([]any, error) {
	expr = strings.TrimSpace(expr)
	m := foreachPattern.FindStringSubmatch(expr)
	if m == nil {
		return nil, fmt.Errorf("%w: %q does not match context['key'] or context['key']['sub']", ErrUnresolvedForeach, expr)
	}
	key, sub := m[1], m[2]

	val, ok := lookupForeachKey(key, scope)
	if !ok {
		return nil, fmt.Errorf("%w: could not resolve key %q in step context, run context, inputs or results", ErrUnresolvedForeach, key)
	}
	if sub != "" {
		if nested, isMap := val.(map[string]any); isMap {
			val = nested[sub]
		}
	}

	items, isList := asList(val)
	if !isList {
		return []any{}, nil
	}
	return items, nil
}

func lookupForeachKey(key string, scope *Scope) (any, bool) {
	if v, ok := scope.Get(key); ok {
		return v, true
	}
	runCtx := scope.shared
	if runCtx == nil {
		return nil, false
	}
	if v, ok := runCtx[key]; ok {
		return v, true
	}
	if v, ok := runCtx.Inputs()[key]; ok {
		return v, true
	}
	if v, ok := runCtx.Results()[key]; ok {
		return v, true
	}
	return nil, false
}

func asList(v any) ([]any, bool) {
	switch s := v.(type) {
	case []any:
		return s, true
	case []string:
		return stringsToAny(s), true
	case []map[string]any:
		out := make([]any, len(s))
		for i, x := range s {
			out[i] = x
		}
		return out, true
	}
	return nil, false
}
