package bolt

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"doctriage/internal/domain"
	"doctriage/internal/vectorstore"
	"doctriage/internal/vectorstore/storetest"
)

func TestStorage(t *testing.T) {
	storetest.Run(t, func(t *testing.T) vectorstore.Storage {
		s, err := Open(t.TempDir())
		require.NoError(t, err)
		return s
	})
}

func TestStorage_PersistsAcrossReopen(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "db")
	ctx := context.Background()

	s, err := Open(dir)
	require.NoError(t, err)
	require.NoError(t, s.Upsert(ctx, domain.Images, []domain.Record{
		domain.NewImageRecord("/img/cat.jpg", "a cat", []float32{0.5, 0.5}),
	}))
	require.NoError(t, s.Close())
	assert.FileExists(t, filepath.Join(dir, FileName))

	s, err = Open(dir)
	require.NoError(t, err)
	defer s.Close()
	all, err := s.List(ctx, domain.Images)
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Equal(t, "a cat", all[0].Document)
	assert.Equal(t, "/img/cat.jpg", all[0].Source())
}
