package llm

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"tenderpipe/internal/logging"
)

// OllamaClient talks to a local Ollama server through /api/chat.
type OllamaClient struct {
	baseURL    string
	httpClient *http.Client
}

type ollamaMessage struct {
	Role    string   `json:"role"`
	Content string   `json:"content"`
	Images  []string `json:"images,omitempty"`
}

type ollamaOptions struct {
	Temperature float64 `json:"temperature"`
	NumCtx      int     `json:"num_ctx,omitempty"`
	NumPredict  int     `json:"num_predict,omitempty"`
}

type ollamaChatRequest struct {
	Model    string          `json:"model"`
	Messages []ollamaMessage `json:"messages"`
	Stream   bool            `json:"stream"`
	Options  ollamaOptions   `json:"options"`
}

type ollamaChatResponse struct {
	Message ollamaMessage `json:"message"`
	Done    bool          `json:"done"`
	Error   string        `json:"error,omitempty"`
}

// NewOllamaClient creates a client for the server at baseURL.
// The HTTP timeout is a ceiling; per-call timeouts come from the context.
func NewOllamaClient(baseURL string) *OllamaClient {
	if baseURL == "" {
		baseURL = "http://localhost:11434"
	}
	return &OllamaClient{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: 10 * time.Minute},
	}
}

// Name returns the backend name.
func (c *OllamaClient) Name() string { return "ollama" }

// Chat sends a single user message and returns the assistant reply.
func (c *OllamaClient) Chat(ctx context.Context, req ChatRequest) (string, error) {
	msg := ollamaMessage{Role: "user", Content: req.Prompt}
	for _, img := range req.Images {
		msg.Images = append(msg.Images, base64.StdEncoding.EncodeToString(img))
	}
	body := ollamaChatRequest{
		Model:    req.Model,
		Messages: []ollamaMessage{msg},
		Stream:   false,
		Options: ollamaOptions{
			Temperature: req.Temperature,
			NumCtx:      req.ContextWindow,
			NumPredict:  req.MaxOutputTokens,
		},
	}
	jsonData, err := json.Marshal(body)
	if err != nil {
		return "", fmt.Errorf("failed to marshal request: %w", err)
	}

	logging.LLMDebug("[Ollama] chat: model=%s prompt_len=%d images=%d", req.Model, len(req.Prompt), len(req.Images))

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/chat", bytes.NewReader(jsonData))
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return "", fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("failed to read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("ollama returned status %d: %s", resp.StatusCode, string(data))
	}

	var out ollamaChatResponse
	if err := json.Unmarshal(data, &out); err != nil {
		return "", fmt.Errorf("failed to parse response: %w", err)
	}
	if out.Error != "" {
		return "", fmt.Errorf("ollama error: %s", out.Error)
	}
	return strings.TrimSpace(out.Message.Content), nil
}
