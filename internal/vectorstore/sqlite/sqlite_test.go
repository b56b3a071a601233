package sqlite

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"doctriage/internal/domain"
	"doctriage/internal/vectorstore"
	"doctriage/internal/vectorstore/storetest"
)

func TestStorage(t *testing.T) {
	storetest.Run(t, func(t *testing.T) vectorstore.Storage {
		s, err := Open(context.Background(), t.TempDir())
		require.NoError(t, err)
		return s
	})
}

func TestEmbeddingBlob(t *testing.T) {
	v := []float32{0, 1.5, -2.25, 3.0e-8}
	b := EncodeEmbedding(v)
	assert.Len(t, b, 16)
	assert.Equal(t, v, DecodeEmbedding(b))
	assert.Empty(t, DecodeEmbedding(nil))
}

func TestList_InsertionOrder(t *testing.T) {
	ctx := context.Background()
	s, err := Open(ctx, t.TempDir())
	require.NoError(t, err)
	defer s.Close()

	for _, id := range []string{"/z.pdf", "/a.pdf", "/m.pdf"} {
		require.NoError(t, s.Upsert(ctx, domain.Papers, []domain.Record{
			domain.NewPaperRecord(id, "text", "NLP", []float32{1}),
		}))
	}
	// re-upsert keeps the row where it was
	require.NoError(t, s.Upsert(ctx, domain.Papers, []domain.Record{
		domain.NewPaperRecord("/z.pdf", "updated", "NLP", []float32{1}),
	}))

	all, err := s.List(ctx, domain.Papers)
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, "/z.pdf", all[0].ID)
	assert.Equal(t, "updated", all[0].Document)
	assert.Equal(t, "/a.pdf", all[1].ID)
	assert.Equal(t, "/m.pdf", all[2].ID)
}
