package llm

import (
	"context"
	"fmt"
	"sync"
)

// ScriptedClient is an offline Client. Handler, when set, answers every
// request; otherwise Responses are returned in order and the last one repeats.
type ScriptedClient struct {
	Handler   func(req ChatRequest) (string, error)
	Responses []string

	mu    sync.Mutex
	calls []ChatRequest
}

// NewScriptedClient returns a client replaying responses.
func NewScriptedClient(responses ...string) *ScriptedClient {
	return &ScriptedClient{Responses: responses}
}

// Name returns the backend name.
func (c *ScriptedClient) Name() string { return "mock" }

// Chat records the request and returns the scripted reply.
func (c *ScriptedClient) Chat(ctx context.Context, req ChatRequest) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	c.mu.Lock()
	n := len(c.calls)
	c.calls = append(c.calls, req)
	c.mu.Unlock()

	if c.Handler != nil {
		return c.Handler(req)
	}
	if len(c.Responses) == 0 {
		return "", fmt.Errorf("no scripted response for call %d", n+1)
	}
	if n >= len(c.Responses) {
		n = len(c.Responses) - 1
	}
	return c.Responses[n], nil
}

// Calls returns a copy of every request seen so far.
func (c *ScriptedClient) Calls() []ChatRequest {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]ChatRequest(nil), c.calls...)
}
