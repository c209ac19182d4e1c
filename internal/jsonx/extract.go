// Package jsonx recovers JSON values from free-form model output.
//
// Precedence, highest first:
//  1. the whole text after code-fence stripping, if it parses;
//  2. balanced brace-delimited substrings, longest first;
//  3. a {"message": text} passthrough wrapping the original text.
package jsonx

import (
	"encoding/json"
	"sort"
	"strings"
)

// MessageKey is the key used when output cannot be parsed at all.
const MessageKey = "message"

// StripCodeFences removes a leading ``` or ```json fence line and a trailing
// ``` fence. An unterminated opening fence is still removed.
func StripCodeFences(s string) string {
	trimmed := strings.TrimSpace(s)
	if strings.HasPrefix(trimmed, "```") {
		if nl := strings.Index(trimmed, "\n"); nl != -1 {
			trimmed = trimmed[nl+1:]
		} else {
			trimmed = strings.TrimLeft(trimmed[3:], "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ")
		}
	}
	trimmed = strings.TrimSpace(trimmed)
	trimmed = strings.TrimSuffix(trimmed, "```")
	return strings.TrimSpace(trimmed)
}

// Candidates returns every balanced {...} substring of s, longest first.
// Ties keep their position order. Braces inside JSON strings are skipped.
func Candidates(s string) []string {
	var out []string
	for start := 0; start < len(s); start++ {
		if s[start] != '{' {
			continue
		}
		if end := matchBrace(s, start); end != -1 {
			out = append(out, s[start:end+1])
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return len(out[i]) > len(out[j]) })
	return out
}

func matchBrace(s string, start int) int {
	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(s); i++ {
		c := s[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return i
			}
		}
	}
	return -1
}

// ExtractObject returns the largest JSON object that parses out of text.
func ExtractObject(text string) (map[string]any, bool) {
	cleaned := StripCodeFences(text)
	var whole map[string]any
	if err := json.Unmarshal([]byte(cleaned), &whole); err == nil && whole != nil {
		return whole, true
	}
	for _, c := range Candidates(cleaned) {
		var obj map[string]any
		if err := json.Unmarshal([]byte(c), &obj); err == nil && obj != nil {
			return obj, true
		}
	}
	return nil, false
}

// Parse returns the JSON object the text holds, or an array when the whole
// cleaned text is one. Bare scalars and null are not results.
func Parse(text string) (any, bool) {
	cleaned := StripCodeFences(text)
	var v any
	if err := json.Unmarshal([]byte(cleaned), &v); err == nil {
		switch v.(type) {
		case map[string]any, []any:
			return v, true
		}
	}
	if obj, ok := ExtractObject(cleaned); ok {
		return obj, true
	}
	return nil, false
}

// Extract never fails: unparseable text comes back as {"message": text}.
func Extract(text string) any {
	if v, ok := Parse(text); ok {
		return v
	}
	return map[string]any{MessageKey: text}
}

// IsMessageFallback reports whether v is the passthrough produced by Extract.
func IsMessageFallback(v any) bool {
	m, ok := v.(map[string]any)
	if !ok || len(m) != 1 {
		return false
	}
	_, ok = m[MessageKey].(string)
	return ok
}
