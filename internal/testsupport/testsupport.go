// Package testsupport provides deterministic stand-ins for the engine's
// two injected collaborators, namespace.EmbeddingProvider and
// namespace.SemanticAnalyzer, so the rest of the module can be exercised
// in tests without a real model or classifier attached. The core is
// written against the interfaces only, so any deterministic implementation
// of them is a legitimate collaborator.
package testsupport

import (
	"context"
	"crypto/sha256"
	"math"

	"sutragraph/internal/graph"
	"sutragraph/internal/sutraid"
)

// HashEmbedder derives a fixed-dimension, L2-normalized vector from a
// sha256 digest of the content. Two calls on identical content always
// produce the identical vector, which is what deterministic tests need;
// it is not a semantically meaningful embedding.
type HashEmbedder struct {
	Dim int
}

// NewHashEmbedder creates a HashEmbedder producing vectors of dim floats.
func NewHashEmbedder(dim int) *HashEmbedder {
	if dim <= 0 {
		dim = 16
	}
	return &HashEmbedder{Dim: dim}
}

// GenerateOne implements namespace.EmbeddingProvider.
func (h *HashEmbedder) GenerateOne(ctx context.Context, content []byte) ([]float32, error) {
	return h.vectorFor(content), nil
}

// GenerateBatch implements namespace.EmbeddingProvider.
func (h *HashEmbedder) GenerateBatch(ctx context.Context, contents [][]byte) ([][]float32, error) {
	out := make([][]float32, len(contents))
	for i, c := range contents {
		out[i] = h.vectorFor(c)
	}
	return out, nil
}

func (h *HashEmbedder) vectorFor(content []byte) []float32 {
	vec := make([]float32, h.Dim)
	digest := content
	var sum [32]byte
	for i := range vec {
		sum = sha256.Sum256(append(digest, byte(i)))
		digest = sum[:]
		// map an unsigned byte pair to a signed float in [-1, 1]
		v := int16(sum[0])<<8 | int16(sum[1])
		vec[i] = float32(v) / float32(math.MaxInt16)
	}
	normalize(vec)
	return vec
}

func normalize(vec []float32) {
	var sumSq float64
	for _, v := range vec {
		sumSq += float64(v) * float64(v)
	}
	norm := math.Sqrt(sumSq)
	if norm == 0 {
		return
	}
	for i := range vec {
		vec[i] = float32(float64(vec[i]) / norm)
	}
}

// KeywordAnalyzer is a minimal SemanticAnalyzer: it classifies every
// concept as a Fact, and treats two concepts as conflicting only when one
// explicitly names the other in its NegationOf list — the same rule
// graph.Semantic.Conflicts already implements, exposed here so tests can
// inject a SemanticAnalyzer without writing a bespoke classifier.
type KeywordAnalyzer struct{}

// Classify implements namespace.SemanticAnalyzer.
func (KeywordAnalyzer) Classify(ctx context.Context, content []byte) (*graph.Semantic, error) {
	return &graph.Semantic{Type: graph.Fact}, nil
}

// Conflicts implements namespace.SemanticAnalyzer.
func (KeywordAnalyzer) Conflicts(a, b *graph.Semantic, subject sutraid.ConceptId) bool {
	return a.Conflicts(b, subject)
}
