package retrieval

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
	"unicode"

	"tenderpipe/internal/embedding"
)

// =============================================================================
// LEXICAL SCORER
// =============================================================================

// LexicalScorer scores by weighted term overlap. Terms carrying digits
// (accuracy classes, tolerances, ratings) weigh double, and filler words are
// ignored. It needs no model, so it is the default scorer.
type LexicalScorer struct{}

// Name returns the scorer name.
func (LexicalScorer) Name() string { return "lexical" }

// Score returns the weighted share of query terms present in each text.
func (LexicalScorer) Score(ctx context.Context, query string, texts []string) ([]float64, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	qterms := uniqueStrings(keywords(query))
	var total float64
	for _, t := range qterms {
		total += termWeight(t)
	}

	scores := make([]float64, len(texts))
	if total == 0 {
		return scores, nil
	}
	for i, text := range texts {
		have := map[string]bool{}
		for _, t := range keywords(text) {
			have[t] = true
		}
		var hit float64
		for _, t := range qterms {
			if have[t] {
				hit += termWeight(t)
			}
		}
		scores[i] = hit / total
	}
	return scores, nil
}

func termWeight(term string) float64 {
	for _, r := range term {
		if unicode.IsDigit(r) {
			return 2
		}
	}
	return 1
}

func keywords(text string) []string {
	terms := embedding.Terms(text)
	out := terms[:0]
	for _, t := range terms {
		if !isCommonWord(t) {
			out = append(out, t)
		}
	}
	return out
}

func isCommonWord(word string) bool {
	return commonWords[word]
}

var commonWords = map[string]bool{
	"the": true, "a": true, "an": true, "is": true, "are": true, "be": true,
	"to": true, "of": true, "in": true, "for": true, "on": true, "with": true,
	"at": true, "by": true, "from": true, "as": true, "and": true, "or": true,
	"shall": true, "must": true, "should": true, "will": true, "may": true,
	"than": true, "better": true, "all": true, "any": true, "each": true,
	"this": true, "that": true, "these": true, "it": true, "its": true,
	"per": true, "least": true, "minimum": true, "required": true, "requirement": true,
}

func uniqueStrings(in []string) []string {
	seen := make(map[string]bool, len(in))
	out := make([]string, 0, len(in))
	for _, s := range in {
		if !seen[s] {
			seen[s] = true
			out = append(out, s)
		}
	}
	return out
}

// =============================================================================
// EMBEDDING SCORER
// =============================================================================

// EmbeddingScorer scores by cosine similarity of embeddings.
type EmbeddingScorer struct {
	Engine embedding.Engine
}

// Name returns the scorer name.
func (s EmbeddingScorer) Name() string { return "embedding:" + s.Engine.Name() }

// Score embeds the query and texts and compares them.
func (s EmbeddingScorer) Score(ctx context.Context, query string, texts []string) ([]float64, error) {
	qv, err := embedding.EmbedQuery(ctx, s.Engine, query)
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}
	vecs, err := s.Engine.EmbedBatch(ctx, texts)
	if err != nil {
		return nil, fmt.Errorf("embed candidates: %w", err)
	}
	scores := make([]float64, len(texts))
	for i, v := range vecs {
		sim, err := embedding.CosineSimilarity(qv, v)
		if err != nil {
			return nil, err
		}
		scores[i] = sim
	}
	return scores, nil
}

// =============================================================================
// HTTP CROSS-ENCODER SCORER
// =============================================================================

// HTTPScorer calls a cross-encoder rerank service (text-embeddings-inference
// style): POST {endpoint}/rerank {query, texts} -> [{index, score}].
type HTTPScorer struct {
	endpoint string
	model    string
	client   *http.Client
}

// NewHTTPScorer creates a scorer for the service at endpoint.
func NewHTTPScorer(endpoint, model string) *HTTPScorer {
	return &HTTPScorer{
		endpoint: strings.TrimRight(endpoint, "/"),
		model:    model,
		client:   &http.Client{Timeout: 60 * time.Second},
	}
}

// Name returns the scorer name.
func (s *HTTPScorer) Name() string { return "http:" + s.endpoint }

type rerankRequest struct {
	Query string   `json:"query"`
	Texts []string `json:"texts"`
	Model string   `json:"model,omitempty"`
}

type rerankHit struct {
	Index int     `json:"index"`
	Score float64 `json:"score"`
}

// Score posts one batch per query.
func (s *HTTPScorer) Score(ctx context.Context, query string, texts []string) ([]float64, error) {
	body, err := json.Marshal(rerankRequest{Query: query, Texts: texts, Model: s.model})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.endpoint+"/rerank", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("rerank request failed: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		data, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("rerank service returned status %d: %s", resp.StatusCode, string(data))
	}

	var hits []rerankHit
	if err := json.NewDecoder(resp.Body).Decode(&hits); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}
	scores := make([]float64, len(texts))
	for _, h := range hits {
		if h.Index < 0 || h.Index >= len(texts) {
			return nil, fmt.Errorf("rerank service returned index %d out of range", h.Index)
		}
		scores[h.Index] = h.Score
	}
	return scores, nil
}
