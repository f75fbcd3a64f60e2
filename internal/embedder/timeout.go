package embedder

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// ErrEmbeddingTimeout is returned when a batch call exceeds
// PerItemTimeout * len(batch).
type ErrEmbeddingTimeout struct {
	Seconds float64
}

func (e *ErrEmbeddingTimeout) Error() string {
	return fmt.Sprintf("embedding timed out after %.1fs", e.Seconds)
}

// ErrEmbeddingModel wraps an error returned by the underlying model call.
type ErrEmbeddingModel struct {
	Err error
}

func (e *ErrEmbeddingModel) Error() string { return fmt.Sprintf("embedding model error: %v", e.Err) }
func (e *ErrEmbeddingModel) Unwrap() error  { return e.Err }

// TimeoutEmbedder wraps an Embedder with a hard per-batch timeout of
// PerItemTimeout * len(batch). Callers that exceed it receive
// ErrEmbeddingTimeout and may log and continue with remaining batches;
// the wrapper itself does not retry.
type TimeoutEmbedder struct {
	inner          Embedder
	perItemTimeout time.Duration
}

// NewTimeoutEmbedder wraps inner with the given per-item timeout. A
// zero perItemTimeout defaults to DefaultPerItemTimeout seconds.
func NewTimeoutEmbedder(inner Embedder, perItemTimeout time.Duration) *TimeoutEmbedder {
	if perItemTimeout <= 0 {
		perItemTimeout = DefaultPerItemTimeout * time.Second
	}
	return &TimeoutEmbedder{inner: inner, perItemTimeout: perItemTimeout}
}

// Embed implements Embedder.
func (t *TimeoutEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	vecs, err := t.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}

// EmbedBatch implements Embedder, bounding the call by
// perItemTimeout * len(texts).
func (t *TimeoutEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return [][]float32{}, nil
	}

	budget := time.Duration(len(texts)) * t.perItemTimeout
	cctx, cancel := context.WithTimeout(ctx, budget)
	defer cancel()

	type outcome struct {
		vecs [][]float32
		err  error
	}
	done := make(chan outcome, 1)
	go func() {
		vecs, err := t.inner.EmbedBatch(cctx, texts)
		done <- outcome{vecs: vecs, err: err}
	}()

	select {
	case <-cctx.Done():
		if errors.Is(cctx.Err(), context.DeadlineExceeded) {
			return nil, &ErrEmbeddingTimeout{Seconds: budget.Seconds()}
		}
		return nil, cctx.Err()
	case o := <-done:
		if o.err != nil {
			return nil, &ErrEmbeddingModel{Err: o.err}
		}
		return o.vecs, nil
	}
}

// Dimensions implements Embedder.
func (t *TimeoutEmbedder) Dimensions() int { return t.inner.Dimensions() }

// ModelName implements Embedder.
func (t *TimeoutEmbedder) ModelName() string { return t.inner.ModelName() }
