package requirements

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
	"unicode/utf8"

	"tenderpipe/internal/jsonx"
	"tenderpipe/internal/logging"
)

// Thresholds for the granularity and quality passes.
const (
	ClauseLengthThreshold = 100
	MinFragmentLength     = 10
	MinRequirementLength  = 8
	MinRequirementTokens  = 2
)

var listItemPattern = regexp.MustCompile(`(?m)^\s*(?:•|-|\*|\d+[.)]|[a-z]\))\s+(.+)$`)

// Source names where a reconciled list came from.
type Source string

const (
	SourceClauses Source = "document_clauses"
	SourceBullets Source = "document_bullets"
	SourceLegacy  Source = "step_result"
	SourceNone    Source = "none"
)

// Reconcile derives the requirement list for a run. Requirements re-read
// from the analysis document win over the extraction step's own output.
// The returned list is always flat and filtered; it may be empty.
func Reconcile(document string, stepResult any) ([]string, Source) {
	var reqs []any
	source := SourceNone

	if document != "" {
		if found := FromAnalysis(document, ModeClauses); len(found) > 0 {
			reqs, source = toAny(found), SourceClauses
		} else if found := FromAnalysis(document, ModeBullets); len(found) > 0 {
			reqs, source = toAny(found), SourceBullets
		}
	}
	if len(reqs) == 0 {
		if legacy := FromStepResult(stepResult); len(legacy) > 0 {
			reqs, source = legacy, SourceLegacy
		}
	}
	logging.Reconcile("requirements source: %s (%d raw items)", source, len(reqs))

	if allLongText(reqs) {
		texts := make([]string, len(reqs))
		for i, r := range reqs {
			texts[i] = r.(string)
		}
		atomic := FlattenClauseTexts(texts)
		logging.Reconcile("flattened %d clause texts into %d atomic requirements", len(texts), len(atomic))
		reqs = toAny(atomic)
	}

	flat := Flatten(reqs)
	out := Filter(flat)
	if dropped := len(flat) - len(out); dropped > 0 {
		logging.ReconcileDebug("filtered out %d fragment requirements", dropped)
	}
	return out, source
}

// FromStepResult reads a "requirements" list out of an extraction step
// result: the result's own field, its parsed_result, then its raw_response
// text parsed as JSON. A bare string result is parsed as JSON too.
func FromStepResult(result any) []any {
	switch r := result.(type) {
	case map[string]any:
		if list, ok := r["requirements"].([]any); ok {
			return list
		}
		if parsed, ok := r["parsed_result"].(map[string]any); ok {
			if list, ok := parsed["requirements"].([]any); ok {
				return list
			}
		}
		if raw, ok := r["raw_response"].(string); ok {
			return requirementsFromJSON(raw)
		}
	case string:
		return requirementsFromJSON(r)
	}
	return nil
}

func requirementsFromJSON(text string) []any {
	var obj map[string]any
	if err := json.Unmarshal([]byte(text), &obj); err != nil {
		var ok bool
		if obj, ok = jsonx.ExtractObject(text); !ok {
			logging.ReconcileDebug("step result is not JSON")
			return nil
		}
	}
	list, _ := obj["requirements"].([]any)
	return list
}

func allLongText(reqs []any) bool {
	if len(reqs) == 0 {
		return false
	}
	for _, r := range reqs {
		s, ok := r.(string)
		if !ok || utf8.RuneCountInString(s) <= ClauseLengthThreshold {
			return false
		}
	}
	return true
}

// FlattenClauseTexts explodes full clause paragraphs into list items, or
// into sentences longer than MinFragmentLength when a clause has no list.
func FlattenClauseTexts(clauses []string) []string {
	var out []string
	for _, clause := range clauses {
		matches := listItemPattern.FindAllStringSubmatch(clause, -1)
		if len(matches) > 0 {
			for _, m := range matches {
				if item := strings.TrimSpace(m[1]); item != "" {
					out = append(out, item)
				}
			}
			continue
		}
		for _, s := range SplitSentences(clause) {
			if utf8.RuneCountInString(s) > MinFragmentLength {
				out = append(out, s)
			}
		}
	}
	return out
}

// SplitSentences splits after '.', '!' or '?' followed by whitespace.
func SplitSentences(text string) []string {
	var out []string
	start := 0
	for i := 0; i < len(text); i++ {
		switch text[i] {
		case '.', '!', '?':
		default:
			continue
		}
		j := i + 1
		for j < len(text) && isSpace(text[j]) {
			j++
		}
		if j == i+1 {
			continue
		}
		if s := strings.TrimSpace(text[start : i+1]); s != "" {
			out = append(out, s)
		}
		start = j
		i = j - 1
	}
	if s := strings.TrimSpace(text[start:]); s != "" {
		out = append(out, s)
	}
	return out
}

func isSpace(b byte) bool {
	return b == ' ' || b == '\n' || b == '\t' || b == '\r' || b == '\f' || b == '\v'
}

// Flatten collapses any requirement shape into one list of strings:
// {requirements:[...]}, clause objects {clause, features, text}, strings,
// or a bare string. A clause contributes its own text, then each feature.
func Flatten(v any) []string {
	if m, ok := v.(map[string]any); ok {
		if inner, ok := m["requirements"]; ok {
			v = inner
		}
	}
	var flat []string
	switch reqs := v.(type) {
	case []string:
		flat = append(flat, reqs...)
	case []any:
		for _, r := range reqs {
			switch item := r.(type) {
			case string:
				flat = append(flat, item)
			case map[string]any:
				flat = append(flat, flattenClause(item)...)
			case Clause:
				flat = append(flat, flattenClause(item.Map())...)
			}
		}
	case []Clause:
		for _, c := range reqs {
			flat = append(flat, flattenClause(c.Map())...)
		}
	case []map[string]any:
		for _, c := range reqs {
			flat = append(flat, flattenClause(c)...)
		}
	case string:
		flat = []string{reqs}
	}

	out := make([]string, 0, len(flat))
	for _, s := range flat {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}

func flattenClause(c map[string]any) []string {
	var out []string
	if clause, ok := c["clause"]; ok && !isEmpty(clause) {
		out = append(out, fmt.Sprint(clause))
	}
	switch features := c["features"].(type) {
	case []any:
		for _, f := range features {
			if !isEmpty(f) {
				out = append(out, fmt.Sprint(f))
			}
		}
	case []string:
		for _, f := range features {
			if strings.TrimSpace(f) != "" {
				out = append(out, f)
			}
		}
	}
	if text, ok := c["text"]; ok && !isEmpty(text) {
		out = append(out, fmt.Sprint(text))
	}
	return out
}

func isEmpty(v any) bool {
	if v == nil {
		return true
	}
	if s, ok := v.(string); ok {
		return strings.TrimSpace(s) == ""
	}
	return false
}

// IsAtomic reports whether s looks like a complete searchable phrase:
// at least MinRequirementLength characters and MinRequirementTokens
// tokens, not ending in ',', ';' or ':'.
func IsAtomic(s string) bool {
	s = strings.TrimSpace(s)
	if utf8.RuneCountInString(s) < MinRequirementLength {
		return false
	}
	if strings.HasSuffix(s, ",") || strings.HasSuffix(s, ";") || strings.HasSuffix(s, ":") {
		return false
	}
	return len(strings.Fields(s)) >= MinRequirementTokens
}

// Filter trims each entry and keeps the atomic ones, in order.
func Filter(reqs []string) []string {
	out := make([]string, 0, len(reqs))
	for _, r := range reqs {
		if r = strings.TrimSpace(r); IsAtomic(r) {
			out = append(out, r)
		}
	}
	return out
}

func toAny(ss []string) []any {
	out := make([]any, len(ss))
	for i, s := range ss {
		out[i] = s
	}
	return out
}
