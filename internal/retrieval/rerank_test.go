package retrieval

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tenderpipe/internal/embedding"
)

var accuracyCandidates = []Candidate{
	{Text: "Accuracy class 0.2S, high precision revenue meter."},
	{Text: "Accuracy class 1.0, basic energy monitoring."},
	{Text: "Accuracy class 0.5, supports all required features."},
	{Text: "No accuracy class specified."},
}

func TestLexicalRerankScenario(t *testing.T) {
	r := NewReranker(LexicalScorer{}, 3)

	ranked, err := r.Rerank(context.Background(), "Accuracy class 0.5 or better", accuracyCandidates)

	require.NoError(t, err)
	require.LessOrEqual(t, len(ranked), 3)
	assert.True(t, strings.Contains(ranked[0].Text, "Accuracy class 0.5"), "top candidate: %q", ranked[0].Text)
	for i := 1; i < len(ranked); i++ {
		assert.GreaterOrEqual(t, ranked[i-1].Score, ranked[i].Score)
	}
}

func TestRerankTiesKeepRetrievalOrder(t *testing.T) {
	r := NewReranker(LexicalScorer{}, 3)

	ranked, err := r.Rerank(context.Background(), "zigbee", accuracyCandidates)

	require.NoError(t, err)
	require.Len(t, ranked, 3)
	assert.Equal(t, accuracyCandidates[0].Text, ranked[0].Text)
	assert.Equal(t, accuracyCandidates[1].Text, ranked[1].Text)
	assert.Equal(t, accuracyCandidates[2].Text, ranked[2].Text)
}

type failingScorer struct{ failOn string }

func (f failingScorer) Name() string { return "failing" }

func (f failingScorer) Score(ctx context.Context, query string, texts []string) ([]float64, error) {
	if query == f.failOn {
		return nil, errors.New("model crashed")
	}
	return LexicalScorer{}.Score(ctx, query, texts)
}

func TestRerankResultsIsolatesFailures(t *testing.T) {
	asAny := func(cs []Candidate) []any {
		out := make([]any, len(cs))
		for i, c := range cs {
			out[i] = c.Map()
		}
		return out
	}
	results := map[string]any{
		"Accuracy class 0.5 or better": asAny(accuracyCandidates),
		"broken":                       asAny(accuracyCandidates),
		"1.20 Meters": map[string]any{
			"Accuracy class 1.0": asAny(accuracyCandidates),
		},
	}

	out := NewReranker(failingScorer{failOn: "broken"}, 3).RerankResults(context.Background(), results)

	assert.Equal(t, []any{}, out["broken"])
	top := out["Accuracy class 0.5 or better"].([]any)
	require.Len(t, top, 3)
	assert.Contains(t, top[0].(map[string]any)["text"], "0.5")

	nested := out["1.20 Meters"].(map[string]any)["Accuracy class 1.0"].([]any)
	require.Len(t, nested, 3)
	assert.Contains(t, nested[0].(map[string]any)["text"], "1.0")
}

func TestRerankSkipsErrorCandidates(t *testing.T) {
	results := map[string]any{
		"q": []any{map[string]any{"text": "", "metadata": map[string]any{}, "error": "down"}},
	}
	out := NewReranker(LexicalScorer{}, 3).RerankResults(context.Background(), results)
	assert.Equal(t, []any{}, out["q"])
}

func TestEmbeddingScorer(t *testing.T) {
	s := EmbeddingScorer{Engine: embedding.NewHashingEngine(1024)}
	r := NewReranker(s, 2)

	ranked, err := r.Rerank(context.Background(), "accuracy class 0.5 supporting required features", accuracyCandidates)

	require.NoError(t, err)
	require.Len(t, ranked, 2)
	assert.Contains(t, ranked[0].Text, "0.5")
}

func TestHTTPScorer(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/rerank", r.URL.Path)
		var req rerankRequest
		_ = json.NewDecoder(r.Body).Decode(&req)
		assert.Equal(t, "bge-reranker-base", req.Model)
		_ = json.NewEncoder(w).Encode([]rerankHit{{Index: 1, Score: 0.9}, {Index: 0, Score: 0.1}})
	}))
	defer srv.Close()

	scores, err := NewHTTPScorer(srv.URL+"/", "bge-reranker-base").Score(context.Background(), "q", []string{"a", "b"})

	require.NoError(t, err)
	assert.Equal(t, []float64{0.1, 0.9}, scores)
}

func TestCandidateFromAny(t *testing.T) {
	c, ok := CandidateFromAny(map[string]any{"text": "x", "metadata": map[string]any{"k": "v"}, "score": 0.5})
	require.True(t, ok)
	assert.Equal(t, Candidate{Text: "x", Metadata: map[string]any{"k": "v"}, Score: 0.5}, c)

	c, ok = CandidateFromAny("plain")
	require.True(t, ok)
	assert.Equal(t, "plain", c.Text)

	_, ok = CandidateFromAny(42)
	assert.False(t, ok)
}
