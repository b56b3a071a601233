// Package storetest holds the behaviour every vectorstore.Storage backend
// must share. Backend packages call Run from their own tests.
package storetest

import (
	"context"
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"doctriage/internal/domain"
	"doctriage/internal/vectorstore"
)

// Factory returns a fresh, empty store.
type Factory func(t *testing.T) vectorstore.Storage

func Run(t *testing.T, open Factory) {
	t.Run("SearchOrder", func(t *testing.T) { searchOrder(t, open(t)) })
	t.Run("UpsertReplaces", func(t *testing.T) { upsertReplaces(t, open(t)) })
	t.Run("CollectionsAreSeparate", func(t *testing.T) { collectionsAreSeparate(t, open(t)) })
	t.Run("EmptyCollection", func(t *testing.T) { emptyCollection(t, open(t)) })
}

func ids(records []domain.Record) []string {
	out := make([]string, len(records))
	for i, r := range records {
		out[i] = r.ID
	}
	sort.Strings(out)
	return out
}

func searchOrder(t *testing.T, s vectorstore.Storage) {
	ctx := context.Background()
	defer s.Close()
	require.NoError(t, s.Upsert(ctx, domain.Papers, []domain.Record{
		domain.NewPaperRecord("/p/a.pdf", "about vision", "Computer Vision", []float32{1, 0, 0}),
		domain.NewPaperRecord("/p/b.pdf", "about language", "NLP", []float32{0, 1, 0}),
		domain.NewPaperRecord("/p/c.pdf", "mostly vision", "Computer Vision", []float32{0.9, 0.1, 0}),
		domain.NewPaperRecord("/p/d.pdf", "kernels", "Operating Systems", []float32{0, 0, 1}),
	}))

	res, err := s.Search(ctx, domain.Papers, []float32{1, 0, 0}, 2)
	require.NoError(t, err)
	require.Len(t, res, 2)
	assert.Equal(t, "/p/a.pdf", res[0].Record.ID)
	assert.Equal(t, "/p/c.pdf", res[1].Record.ID)
	assert.GreaterOrEqual(t, res[0].Score, res[1].Score)
	assert.InDelta(t, 1.0, res[0].Score, 1e-4)
	assert.Equal(t, "Computer Vision", res[0].Record.Category())
	assert.Equal(t, "/p/a.pdf", res[0].Record.Source())
	assert.Equal(t, "about vision", res[0].Record.Document)
}

func upsertReplaces(t *testing.T, s vectorstore.Storage) {
	ctx := context.Background()
	defer s.Close()
	require.NoError(t, s.Upsert(ctx, domain.Papers, []domain.Record{
		domain.NewPaperRecord("/p/a.pdf", "old", "Others", []float32{1, 0}),
	}))
	require.NoError(t, s.Upsert(ctx, domain.Papers, []domain.Record{
		domain.NewPaperRecord("/p/a.pdf", "new", "NLP", []float32{0, 1}),
	}))

	all, err := s.List(ctx, domain.Papers)
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Equal(t, "new", all[0].Document)
	assert.Equal(t, "NLP", all[0].Category())
	assert.InDeltaSlice(t, []float32{0, 1}, all[0].Embedding, 1e-6)
}

func collectionsAreSeparate(t *testing.T, s vectorstore.Storage) {
	ctx := context.Background()
	defer s.Close()
	require.NoError(t, s.Upsert(ctx, domain.Papers, []domain.Record{
		domain.NewPaperRecord("/x/same", "paper", "NLP", []float32{1, 0}),
	}))
	require.NoError(t, s.Upsert(ctx, domain.Images, []domain.Record{
		domain.NewImageRecord("/x/same", "a beach at sunset", []float32{1, 0}),
		domain.NewImageRecord("/x/other.jpg", "a dog", []float32{0, 1}),
	}))

	papers, err := s.List(ctx, domain.Papers)
	require.NoError(t, err)
	images, err := s.List(ctx, domain.Images)
	require.NoError(t, err)
	assert.Equal(t, []string{"/x/same"}, ids(papers))
	assert.Equal(t, []string{"/x/other.jpg", "/x/same"}, ids(images))
	assert.Equal(t, "paper", papers[0].Document)
}

func emptyCollection(t *testing.T, s vectorstore.Storage) {
	ctx := context.Background()
	defer s.Close()
	res, err := s.Search(ctx, domain.Images, []float32{1, 0}, 3)
	require.NoError(t, err)
	assert.Empty(t, res)
	all, err := s.List(ctx, domain.Images)
	require.NoError(t, err)
	assert.Empty(t, all)
}
