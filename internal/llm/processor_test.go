package llm

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestProcessParsesFencedJSON(t *testing.T) {
	client := NewScriptedClient("```json\n{\"clauses\": [{\"clause\": \"1.20 Meters\"}]}\n```")
	p := NewProcessor(client, DefaultOptions())

	res := p.Process(context.Background(), "extract", Call{Model: "llama3.1:8b"})

	require.True(t, res.Success)
	parsed, ok := res.Parsed.(map[string]any)
	require.True(t, ok)
	assert.Contains(t, parsed, "clauses")

	calls := client.Calls()
	require.Len(t, calls, 1)
	assert.Equal(t, "llama3.1:8b", calls[0].Model, "call model overrides default")
	assert.Equal(t, 0.1, calls[0].Temperature)
	assert.Equal(t, 4096, calls[0].MaxOutputTokens)
}

func TestProcessWrapsProse(t *testing.T) {
	p := NewProcessor(NewScriptedClient("just words"), DefaultOptions())

	res := p.Process(context.Background(), "x", Call{})

	require.True(t, res.Success)
	assert.Equal(t, map[string]any{"message": "just words"}, res.Parsed)
	m := res.Map()
	assert.Equal(t, "just words", m["raw_response"])
	assert.Equal(t, true, m["success"])
}

func TestProcessTransportError(t *testing.T) {
	client := &ScriptedClient{Handler: func(ChatRequest) (string, error) {
		return "", errors.New("connection refused")
	}}
	p := NewProcessor(client, DefaultOptions())

	res := p.Process(context.Background(), "x", Call{})

	assert.False(t, res.Success)
	assert.Contains(t, res.Error, "connection refused")
	assert.Equal(t, map[string]any{"success": false, "error": res.Error}, res.Map())
}

func TestProcessTimeout(t *testing.T) {
	client := &ScriptedClient{Handler: func(ChatRequest) (string, error) {
		return "", context.DeadlineExceeded
	}}
	p := NewProcessor(client, DefaultOptions())

	res := p.Process(context.Background(), "x", Call{Timeout: 10 * time.Millisecond})

	assert.False(t, res.Success)
	assert.Contains(t, res.Error, "timed out")
}

func TestCondense(t *testing.T) {
	const feature = "True RMS Volts: all phase-to-phase & phase-to-neutral ±0.5%"

	tests := []struct {
		name  string
		reply string
		want  string
	}{
		{"valid phrase", `{"atomic_requirement": "RMS voltage measurement ±0.5%"}`, "RMS voltage measurement ±0.5%"},
		{"too long", `{"atomic_requirement": "measure true RMS volts on all phase to phase and phase to neutral ±0.5%"}`, ""},
		{"single word", `{"atomic_requirement": "voltage"}`, ""},
		{"missing key", `{"something": "else"}`, ""},
		{"not json", "I cannot help", ""},
		{"wrong type", `{"atomic_requirement": ["a", "b"]}`, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client := NewScriptedClient(tt.reply)
			p := NewProcessor(client, DefaultOptions())

			res := p.Condense(context.Background(), feature, Call{})

			parsed, ok := res.Parsed.(map[string]any)
			require.True(t, ok)
			got := parsed[AtomicKey].(string)
			assert.Equal(t, tt.want, got)
			if got != "" {
				assert.True(t, ValidAtomic(got))
			}
			assert.Contains(t, client.Calls()[0].Prompt, feature)
		})
	}
}

func TestCondenseScenarioKeepsTolerance(t *testing.T) {
	client := &ScriptedClient{Handler: func(req ChatRequest) (string, error) {
		if strings.Contains(req.Prompt, "phase-to-neutral ±0.5%\nAnswer:") {
			return `{"atomic_requirement": "RMS voltage measurement ±0.5%"}`, nil
		}
		return `{"atomic_requirement": ""}`, nil
	}}
	p := NewProcessor(client, DefaultOptions())

	res := p.Condense(context.Background(), "True RMS Volts: all phase-to-phase & phase-to-neutral ±0.5%", Call{})

	atomic := res.Parsed.(map[string]any)[AtomicKey].(string)
	assert.Contains(t, atomic, "±0.5%")
	n := len(strings.Fields(atomic))
	assert.True(t, n >= 2 && n <= 8)
}

func TestCondenseFailureStillHasKey(t *testing.T) {
	client := &ScriptedClient{Handler: func(ChatRequest) (string, error) { return "", errors.New("down") }}
	res := NewProcessor(client, DefaultOptions()).Condense(context.Background(), "feature text", Call{})

	assert.False(t, res.Success)
	assert.Equal(t, "", res.Parsed.(map[string]any)[AtomicKey])
}

func TestIsVisionModel(t *testing.T) {
	assert.True(t, IsVisionModel("moondream:latest"))
	assert.True(t, IsVisionModel("llava:13b"))
	assert.False(t, IsVisionModel("qwen2.5-coder:7b-instruct"))
}
