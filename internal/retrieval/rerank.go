package retrieval

import (
	"context"
	"fmt"
	"sort"

	"tenderpipe/internal/logging"
)

// DefaultTopN is how many candidates survive reranking per requirement.
const DefaultTopN = 3

// Scorer rates how well each text answers query. Higher is better.
type Scorer interface {
	Score(ctx context.Context, query string, texts []string) ([]float64, error)
	Name() string
}

// Reranker reorders candidates with a Scorer and keeps the best topN.
type Reranker struct {
	scorer Scorer
	topN   int
}

// NewReranker creates a reranker; topN <= 0 means DefaultTopN.
func NewReranker(scorer Scorer, topN int) *Reranker {
	if topN <= 0 {
		topN = DefaultTopN
	}
	return &Reranker{scorer: scorer, topN: topN}
}

// Rerank scores every candidate against query, sorts descending and keeps
// topN. The sort is stable, so equal scores keep retrieval order.
func (r *Reranker) Rerank(ctx context.Context, query string, cands []Candidate) ([]Candidate, error) {
	if len(cands) == 0 {
		return []Candidate{}, nil
	}
	texts := make([]string, len(cands))
	for i, c := range cands {
		texts[i] = c.Text
	}
	scores, err := r.scorer.Score(ctx, query, texts)
	if err != nil {
		return nil, err
	}
	if len(scores) != len(cands) {
		return nil, fmt.Errorf("%s returned %d scores for %d candidates", r.scorer.Name(), len(scores), len(cands))
	}

	ranked := make([]Candidate, len(cands))
	for i, c := range cands {
		c.Score = scores[i]
		ranked[i] = c
	}
	sort.SliceStable(ranked, func(i, j int) bool { return ranked[i].Score > ranked[j].Score })
	if len(ranked) > r.topN {
		ranked = ranked[:r.topN]
	}
	return ranked, nil
}

// RerankResults reranks a generic retrieval result map. Keys map either to
// candidate lists or, for structured retrieval, to nested feature maps, which
// keep their nesting. A scorer failure empties only the affected key.
func (r *Reranker) RerankResults(ctx context.Context, results map[string]any) map[string]any {
	out := make(map[string]any, len(results))
	for key, val := range results {
		if nested, ok := val.(map[string]any); ok {
			out[key] = r.RerankResults(ctx, nested)
			continue
		}
		cands := candidatesFrom(val)
		ranked, err := r.Rerank(ctx, key, cands)
		if err != nil {
			logging.Get(logging.CategoryRerank).Warn("rerank failed for %q: %v", key, err)
			out[key] = []any{}
			continue
		}
		list := make([]any, len(ranked))
		for i, c := range ranked {
			list[i] = c.Map()
		}
		out[key] = list
	}
	return out
}

func candidatesFrom(v any) []Candidate {
	var out []Candidate
	switch s := v.(type) {
	case []Candidate:
		return s
	case []any:
		for _, item := range s {
			if c, ok := CandidateFromAny(item); ok && c.Error == "" {
				out = append(out, c)
			}
		}
	case []map[string]any:
		for _, item := range s {
			if c, ok := CandidateFromAny(item); ok && c.Error == "" {
				out = append(out, c)
			}
		}
	}
	return out
}
