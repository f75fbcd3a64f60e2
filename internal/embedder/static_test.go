package embedder

import (
	"context"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func vectorMagnitude(v []float32) float64 {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	return math.Sqrt(sum)
}

func TestStaticEmbedder_Embed_ReturnsCorrectDimensions(t *testing.T) {
	e := NewStaticEmbedder()

	vec, err := e.Embed(context.Background(), "Fix login bug")

	require.NoError(t, err)
	assert.Len(t, vec, StaticDimensions)
}

func TestStaticEmbedder_Embed_VectorIsNormalized(t *testing.T) {
	e := NewStaticEmbedder()

	vec, err := e.Embed(context.Background(), "Auth fails on empty password")
	require.NoError(t, err)

	assert.InDelta(t, 1.0, vectorMagnitude(vec), 0.001)
}

func TestStaticEmbedder_Embed_IsDeterministic(t *testing.T) {
	e := NewStaticEmbedder()
	text := "Database schema design"

	v1, err1 := e.Embed(context.Background(), text)
	v2, err2 := e.Embed(context.Background(), text)

	require.NoError(t, err1)
	require.NoError(t, err2)
	assert.Equal(t, v1, v2)
}

func TestStaticEmbedder_Embed_EmptyTextReturnsZeroVector(t *testing.T) {
	e := NewStaticEmbedder()

	vec, err := e.Embed(context.Background(), "   ")

	require.NoError(t, err)
	for _, x := range vec {
		assert.Equal(t, float32(0), x)
	}
}

func TestStaticEmbedder_Embed_SimilarTextsAreCloser(t *testing.T) {
	e := NewStaticEmbedder()
	ctx := context.Background()

	rust1, _ := e.Embed(ctx, "Rust async programming")
	rust2, _ := e.Embed(ctx, "async Rust")
	unrelated, _ := e.Embed(ctx, "Frontend UI components")

	simRust := cosine(rust1, rust2)
	simUnrelated := cosine(rust1, unrelated)

	assert.Greater(t, simRust, simUnrelated)
}

func TestStaticEmbedder_EmbedBatch_MatchesIndividualEmbed(t *testing.T) {
	e := NewStaticEmbedder()
	ctx := context.Background()
	texts := []string{"alpha", "beta", "gamma"}

	batch, err := e.EmbedBatch(ctx, texts)
	require.NoError(t, err)
	require.Len(t, batch, len(texts))

	for i, text := range texts {
		single, err := e.Embed(ctx, text)
		require.NoError(t, err)
		assert.Equal(t, single, batch[i])
	}
}

func TestStaticEmbedder_EmbedBatch_Empty(t *testing.T) {
	e := NewStaticEmbedder()

	batch, err := e.EmbedBatch(context.Background(), nil)

	require.NoError(t, err)
	assert.Empty(t, batch)
}

func cosine(a, b []float32) float64 {
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}
