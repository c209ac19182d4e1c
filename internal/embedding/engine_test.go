package embedding

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tenderpipe/internal/config"
)

func TestCosineSimilarity(t *testing.T) {
	sim, err := CosineSimilarity([]float32{1, 0}, []float32{1, 0})
	require.NoError(t, err)
	assert.InDelta(t, 1.0, sim, 1e-9)

	sim, err = CosineSimilarity([]float32{1, 0}, []float32{0, 1})
	require.NoError(t, err)
	assert.InDelta(t, 0.0, sim, 1e-9)

	sim, err = CosineSimilarity([]float32{0, 0}, []float32{1, 1})
	require.NoError(t, err)
	assert.Zero(t, sim)

	_, err = CosineSimilarity([]float32{1}, []float32{1, 2})
	assert.Error(t, err)
}

func TestFindTopKStableOrder(t *testing.T) {
	corpus := [][]float32{{0, 1}, {1, 0}, {1, 0}, {1, 1}, {1}}
	got := FindTopK([]float32{1, 0}, corpus, 3)

	require.Len(t, got, 3)
	assert.Equal(t, 1, got[0].Index)
	assert.Equal(t, 2, got[1].Index, "ties keep corpus order")
	assert.Equal(t, 3, got[2].Index)
}

func TestTerms(t *testing.T) {
	got := Terms("Accuracy class 0.5, supports ±0.5% (Class 0.2S).")
	assert.Equal(t, []string{"accuracy", "class", "0.5", "supports", "±0.5%", "class", "0.2s"}, got)
}

func TestHashingEngineDeterministicAndNormalised(t *testing.T) {
	e := NewHashingEngine(128)
	ctx := context.Background()

	a, err := e.Embed(ctx, "Accuracy class 0.5")
	require.NoError(t, err)
	b, err := e.Embed(ctx, "Accuracy class 0.5")
	require.NoError(t, err)
	assert.Equal(t, a, b)
	assert.Len(t, a, 128)

	var norm float64
	for _, v := range a {
		norm += float64(v * v)
	}
	assert.InDelta(t, 1.0, norm, 1e-4)

	near, _ := e.Embed(ctx, "meter with accuracy class 0.5")
	far, _ := e.Embed(ctx, "ethernet switch with 24 ports")
	simClose, _ := CosineSimilarity(a, near)
	simFar, _ := CosineSimilarity(a, far)
	assert.Greater(t, simClose, simFar)

	empty, err := e.Embed(ctx, "")
	require.NoError(t, err)
	assert.Len(t, empty, 128)
}

func TestOllamaEngine(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/embeddings":
			var req ollamaEmbedRequest
			_ = json.NewDecoder(r.Body).Decode(&req)
			assert.Equal(t, "nomic-embed-text", req.Model)
			_ = json.NewEncoder(w).Encode(ollamaEmbedResponse{Embedding: []float32{0.1, 0.2, 0.3}})
		case "/api/tags":
			_, _ = w.Write([]byte(`{"models":[]}`))
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	e, err := NewOllamaEngine(srv.URL, "", 3)
	require.NoError(t, err)
	ctx := context.Background()

	require.NoError(t, e.HealthCheck(ctx))
	vecs, err := e.EmbedBatch(ctx, []string{"a", "b"})
	require.NoError(t, err)
	assert.Len(t, vecs, 2)
	assert.Equal(t, "ollama:nomic-embed-text", e.Name())
}

func TestNewEngine(t *testing.T) {
	ctx := context.Background()

	e, err := NewEngine(ctx, config.EmbeddingConfig{Provider: "hashing", Dimensions: 64}, "")
	require.NoError(t, err)
	assert.Equal(t, 64, e.Dimensions())

	e, err = NewEngine(ctx, config.EmbeddingConfig{Provider: "ollama", Model: "a"}, "override")
	require.NoError(t, err)
	assert.Equal(t, "ollama:override", e.Name())

	_, err = NewEngine(ctx, config.EmbeddingConfig{Provider: "genai"}, "")
	assert.Error(t, err)

	_, err = NewEngine(ctx, config.EmbeddingConfig{Provider: "chroma"}, "")
	assert.Error(t, err)
}
