package llm

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tenderpipe/internal/config"
)

func TestOllamaClientChat(t *testing.T) {
	var got ollamaChatRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/chat", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		_ = json.NewEncoder(w).Encode(map[string]any{
			"message": map[string]any{"role": "assistant", "content": "  {\"ok\": true}  "},
			"done":    true,
		})
	}))
	defer srv.Close()

	c := NewOllamaClient(srv.URL + "/")
	out, err := c.Chat(context.Background(), ChatRequest{
		Prompt:          "hello",
		Model:           "moondream",
		Temperature:     0.1,
		ContextWindow:   32768,
		MaxOutputTokens: 4096,
		Images:          [][]byte{[]byte("png")},
	})

	require.NoError(t, err)
	assert.Equal(t, `{"ok": true}`, out)
	assert.False(t, got.Stream)
	assert.Equal(t, 32768, got.Options.NumCtx)
	assert.Equal(t, 4096, got.Options.NumPredict)
	require.Len(t, got.Messages, 1)
	assert.Equal(t, []string{"cG5n"}, got.Messages[0].Images)
}

func TestOllamaClientErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":"model not found"}`, http.StatusNotFound)
	}))
	defer srv.Close()

	_, err := NewOllamaClient(srv.URL).Chat(context.Background(), ChatRequest{Prompt: "x", Model: "nope"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "404")
}

func TestOpenAIClientRetriesOn429(t *testing.T) {
	var hits int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer k", r.Header.Get("Authorization"))
		if atomic.AddInt32(&hits, 1) == 1 {
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		_, _ = w.Write([]byte(`{"choices":[{"message":{"content":"done"}}]}`))
	}))
	defer srv.Close()

	c := NewOpenAIClientWithConfig(OpenAIConfig{
		APIKey: "k", BaseURL: srv.URL, Timeout: 5 * time.Second, MaxRetries: 2, Backoff: time.Millisecond,
	})
	out, err := c.Chat(context.Background(), ChatRequest{Prompt: "x", Model: "gpt-4o-mini"})

	require.NoError(t, err)
	assert.Equal(t, "done", out)
	assert.Equal(t, int32(2), atomic.LoadInt32(&hits))
}

func TestOpenAIClientDoesNotRetryBadRequest(t *testing.T) {
	var hits int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		http.Error(w, "bad", http.StatusBadRequest)
	}))
	defer srv.Close()

	c := NewOpenAIClientWithConfig(OpenAIConfig{BaseURL: srv.URL, Timeout: time.Second, MaxRetries: 3, Backoff: time.Millisecond})
	_, err := c.Chat(context.Background(), ChatRequest{Prompt: "x"})

	assert.Error(t, err)
	assert.Equal(t, int32(1), atomic.LoadInt32(&hits))
}

func TestNewClientFromConfig(t *testing.T) {
	ctx := context.Background()

	c, err := NewClientFromConfig(ctx, config.LLMConfig{Provider: "ollama", BaseURL: "http://h:1"})
	require.NoError(t, err)
	_, ok := c.(*OllamaClient)
	assert.True(t, ok)

	c, err = NewClientFromConfig(ctx, config.LLMConfig{Provider: "openai", APIKey: "k"})
	require.NoError(t, err)
	_, ok = c.(*OpenAIClient)
	assert.True(t, ok)

	c, err = NewClientFromConfig(ctx, config.LLMConfig{Provider: "mock"})
	require.NoError(t, err)
	out, err := c.Chat(ctx, ChatRequest{Prompt: "hi", Model: "m"})
	require.NoError(t, err)
	assert.JSONEq(t, `{"model":"m","echo":"hi"}`, out)

	_, err = NewClientFromConfig(ctx, config.LLMConfig{Provider: "gemini"})
	assert.Error(t, err, "gemini needs a key")

	_, err = NewClientFromConfig(ctx, config.LLMConfig{Provider: "zai"})
	assert.Error(t, err)
}

func TestOptionsFromConfig(t *testing.T) {
	opts := OptionsFromConfig(config.LLMConfig{Model: "m", Temperature: 0.3})
	assert.Equal(t, "m", opts.Model)
	assert.Equal(t, 0.3, opts.Temperature)
	assert.Equal(t, 32768, opts.ContextWindow)
}
