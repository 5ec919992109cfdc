package ai

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type countingEmbedder struct {
	calls atomic.Int32
}

func (c *countingEmbedder) EmbedText(_ context.Context, _ string) ([]float32, error) {
	c.calls.Add(1)
	return []float32{1}, nil
}

func (c *countingEmbedder) EmbedTexts(_ context.Context, texts []string) ([][]float32, error) {
	c.calls.Add(1)
	out := make([][]float32, len(texts))
	for i := range out {
		out[i] = []float32{1}
	}
	return out, nil
}

func TestNewRateLimitedEmbedder_Unlimited(t *testing.T) {
	inner := &countingEmbedder{}
	assert.Same(t, Embedder(inner), NewRateLimitedEmbedder(inner, 0, 1))
}

func TestRateLimitedEmbedder_Throttles(t *testing.T) {
	inner := &countingEmbedder{}
	e := NewRateLimitedEmbedder(inner, 20, 1)

	start := time.Now()
	for range 3 {
		_, err := e.EmbedText(context.Background(), "x")
		require.NoError(t, err)
	}
	// first call uses the burst token, the next two wait ~50ms each
	assert.GreaterOrEqual(t, time.Since(start), 80*time.Millisecond)
	assert.Equal(t, int32(3), inner.calls.Load())
}

func TestRateLimitedEmbedder_BatchLargerThanBurst(t *testing.T) {
	inner := &countingEmbedder{}
	e := NewRateLimitedEmbedder(inner, 1000, 2)

	out, err := e.EmbedTexts(context.Background(), []string{"a", "b", "c", "d", "e"})
	require.NoError(t, err)
	assert.Len(t, out, 5)
	assert.Equal(t, int32(1), inner.calls.Load())
}

func TestRateLimitedEmbedder_ContextCancelled(t *testing.T) {
	inner := &countingEmbedder{}
	e := NewRateLimitedEmbedder(inner, 0.001, 1)

	_, err := e.EmbedText(context.Background(), "uses the burst")
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	_, err = e.EmbedText(ctx, "must wait")
	assert.Error(t, err)
	assert.Equal(t, int32(1), inner.calls.Load())
}
