// Package embedder defines the embedding capability the cache consumes
// (embed_batch in spec terms) and the behavioural wrapper (timeout
// bounding) every concrete embedder is expected to honor. The model
// itself — Ollama, a local GGUF runtime, whatever a host application
// wires in — lives outside this module; Embedder is the seam.
package embedder

import (
	"context"
	"math"
)

// Default batching and timeout tunables (spec §4.4).
const (
	// DefaultBatchSize is the number of texts callers should prefer to
	// batch per EmbedBatch call. Implementations must not require it.
	DefaultBatchSize = 32

	// MaxBatchSize bounds batch size to avoid unbounded memory use.
	MaxBatchSize = 256

	// DefaultPerItemTimeout is multiplied by batch length to produce
	// the timeout for one EmbedBatch call.
	DefaultPerItemTimeout = 2 // seconds per item
)

// Embedder generates fixed-dimension dense vector embeddings from text.
// A fixed model must be deterministic: Embed(text) always returns the
// same vector for the same text.
type Embedder interface {
	// Embed generates an embedding for a single text.
	Embed(ctx context.Context, text string) ([]float32, error)

	// EmbedBatch generates embeddings for multiple texts. Implementations
	// may process texts independently; callers must not assume batching
	// changes results, only throughput.
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)

	// Dimensions returns the fixed embedding dimension D for this model.
	Dimensions() int

	// ModelName identifies the model.
	ModelName() string
}

// normalizeVector scales v to unit length, leaving a zero vector as-is.
func normalizeVector(v []float32) []float32 {
	var sumSquares float64
	for _, x := range v {
		sumSquares += float64(x) * float64(x)
	}
	magnitude := math.Sqrt(sumSquares)
	if magnitude == 0 {
		return v
	}
	out := make([]float32, len(v))
	for i, x := range v {
		out[i] = float32(float64(x) / magnitude)
	}
	return out
}
