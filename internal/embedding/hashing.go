package embedding

import (
	"context"
	"fmt"
	"hash/fnv"
	"math"
	"strings"
	"unicode"
)

// =============================================================================
// HASHING EMBEDDING ENGINE
// =============================================================================

// HashingEngine maps text to a fixed-size vector by feature hashing of
// lowercased terms and their character trigrams. It needs no model server,
// is deterministic, and places texts sharing terms close together.
type HashingEngine struct {
	dimensions int
}

// NewHashingEngine creates a hashing engine; dimensions defaults to 384.
func NewHashingEngine(dimensions int) *HashingEngine {
	if dimensions <= 0 {
		dimensions = 384
	}
	return &HashingEngine{dimensions: dimensions}
}

// Embed generates an L2-normalised embedding for text.
func (e *HashingEngine) Embed(ctx context.Context, text string) ([]float32, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	vec := make([]float64, e.dimensions)
	for _, term := range Terms(text) {
		e.add(vec, "w:"+term, 1.0)
		runes := []rune(term)
		for i := 0; i+3 <= len(runes); i++ {
			e.add(vec, "g:"+string(runes[i:i+3]), 0.25)
		}
	}

	var norm float64
	for _, v := range vec {
		norm += v * v
	}
	out := make([]float32, e.dimensions)
	if norm == 0 {
		return out, nil
	}
	norm = math.Sqrt(norm)
	for i, v := range vec {
		out[i] = float32(v / norm)
	}
	return out, nil
}

func (e *HashingEngine) add(vec []float64, feature string, weight float64) {
	h := fnv.New64a()
	_, _ = h.Write([]byte(feature))
	sum := h.Sum64()
	idx := int(sum % uint64(e.dimensions))
	if sum>>63 == 1 {
		weight = -weight
	}
	vec[idx] += weight
}

// EmbedBatch embeds each text in turn.
func (e *HashingEngine) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, t := range texts {
		v, err := e.Embed(ctx, t)
		if err != nil {
			return nil, fmt.Errorf("failed to embed text %d: %w", i, err)
		}
		out[i] = v
	}
	return out, nil
}

// Dimensions returns the vector size.
func (e *HashingEngine) Dimensions() int { return e.dimensions }

// Name returns the engine name.
func (e *HashingEngine) Name() string { return fmt.Sprintf("hashing:%d", e.dimensions) }

// Terms lowercases text and splits it into terms. Decimal points, percent
// signs and ± stay attached so "±0.5%" and "0.2S" survive as single terms.
func Terms(text string) []string {
	fields := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r) && !strings.ContainsRune(".%±", r)
	})
	out := fields[:0]
	for _, f := range fields {
		f = strings.Trim(f, ".")
		if f != "" {
			out = append(out, f)
		}
	}
	return out
}
