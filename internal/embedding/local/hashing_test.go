package local

import (
	"context"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"doctriage/internal/domain"
	"doctriage/internal/vectorstore"
)

func norm(v []float32) float64 {
	s := 0.0
	for _, x := range v {
		s += float64(x) * float64(x)
	}
	return math.Sqrt(s)
}

func TestEmbed_DeterministicAndNormalized(t *testing.T) {
	e := NewEmbedder(64)
	ctx := context.Background()

	a, err := e.Embed(ctx, "Convolutional networks for image deblurring", domain.IntentDocument)
	require.NoError(t, err)
	b, err := NewEmbedder(64).Embed(ctx, "Convolutional networks for image deblurring", domain.IntentQuery)
	require.NoError(t, err)

	assert.Len(t, a, 64)
	assert.Equal(t, a, b)
	assert.InDelta(t, 1.0, norm(a), 1e-5)
}

func TestEmbed_SimilarTextScoresHigher(t *testing.T) {
	e := NewEmbedder(0)
	ctx := context.Background()
	doc, _ := e.Embed(ctx, "image deblurring with convolutional networks", domain.IntentDocument)
	near, _ := e.Embed(ctx, "deblurring images", domain.IntentQuery)
	far, _ := e.Embed(ctx, "process scheduling in operating systems kernels", domain.IntentQuery)

	assert.Len(t, doc, DefaultDimension)
	assert.Greater(t, vectorstore.Cosine(doc, near), vectorstore.Cosine(doc, far))
}

func TestEmbed_OnlyStopwords(t *testing.T) {
	v, err := NewEmbedder(16).Embed(context.Background(), "the and of", domain.IntentDocument)
	require.NoError(t, err)
	assert.Len(t, v, 16)
	assert.Equal(t, 0.0, norm(v))
}

func TestName(t *testing.T) {
	e := NewEmbedder(8)
	assert.Equal(t, "local", e.Name())
	assert.Equal(t, 8, e.Dimension())
}
