package jsonx

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStripCodeFences(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"json fence", "```json\n{\"a\":1}\n```", `{"a":1}`},
		{"bare fence", "```\nplain\n```", "plain"},
		{"unterminated", "```json\n{not valid json", "{not valid json"},
		{"no fence", "  hello  ", "hello"},
		{"single line", "```json{\"a\":1}```", `{"a":1}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, StripCodeFences(tt.in))
		})
	}
}

func TestExtractSingleObjectWithProse(t *testing.T) {
	raw := "Sure! Here is the result:\n```json\n{\"requirements\": [\"RMS voltage ±0.5%\"], \"count\": 1}\n```\nLet me know."

	got := Extract(raw)

	want := map[string]any{"requirements": []any{"RMS voltage ±0.5%"}, "count": float64(1)}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("Extract() mismatch (-want +got):\n%s", diff)
	}
}

func TestExtractNoJSONFallsBackToMessage(t *testing.T) {
	raw := "the model refused to answer"
	got := Extract(raw)
	assert.Equal(t, map[string]any{"message": raw}, got)
	assert.True(t, IsMessageFallback(got))
}

func TestExtractPrefersLongestCandidate(t *testing.T) {
	raw := `noise {"a": 1} more noise {"b": {"c": 2}, "d": [1, 2]} tail`
	obj, ok := ExtractObject(raw)
	require.True(t, ok)
	assert.Contains(t, obj, "b")
	assert.Contains(t, obj, "d")
}

func TestExtractFallsBackToShorterCandidate(t *testing.T) {
	// The outer candidate is balanced but not valid JSON.
	raw := `{oops {"ok": true} }`
	obj, ok := ExtractObject(raw)
	require.True(t, ok)
	assert.Equal(t, map[string]any{"ok": true}, obj)
}

func TestCandidatesIgnoreBracesInStrings(t *testing.T) {
	raw := `{"text": "a } brace", "n": 1}`
	cands := Candidates(raw)
	require.NotEmpty(t, cands)
	assert.Equal(t, raw, cands[0])
}

func TestParseArray(t *testing.T) {
	v, ok := Parse("```json\n[\"a\", \"b\"]\n```")
	require.True(t, ok)
	assert.Equal(t, []any{"a", "b"}, v)
}

func TestMalformedFencedResponse(t *testing.T) {
	_, ok := ExtractObject("```json\n{not valid json")
	assert.False(t, ok)
}

func TestExtractScalarRepliesFallBackToMessage(t *testing.T) {
	for _, raw := range []string{"42", "null", "true", `"RMS voltage"`, "```json\nnull\n```"} {
		t.Run(raw, func(t *testing.T) {
			got := Extract(raw)
			assert.Equal(t, map[string]any{"message": raw}, got)
			assert.True(t, IsMessageFallback(got))

			_, ok := Parse(raw)
			assert.False(t, ok)
		})
	}
}
