package vector

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kadirpekel/reagent/pkg/config"
)

func TestChromemStore_RoundTrip(t *testing.T) {
	ctx := context.Background()
	s, err := NewChromemStore(ctx, config.ChromemConfig{Collection: "docs"}, 0)
	require.NoError(t, err)

	c := chunk("a", 0)
	c.Metadata = map[string]any{"tokens": 12}
	require.NoError(t, s.Upsert(ctx, c, []float32{1, 0, 0}))
	require.NoError(t, s.Upsert(ctx, chunk("b", 0), []float32{0, 1, 0}))

	got, err := s.Query(ctx, []float32{1, 0.1, 0}, 5, 0.7)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "a_chunk_0", got[0].Chunk.ID)
	assert.Equal(t, "a.txt", got[0].Chunk.Filename)
	assert.Equal(t, "12", got[0].Chunk.Metadata["tokens"])

	assert.ErrorIs(t, s.Upsert(ctx, chunk("c", 0), []float32{1, 0}), ErrDimensionMismatch)

	require.NoError(t, s.DeleteDocument(ctx, "a"))
	docs, err := s.Documents(ctx, 0)
	require.NoError(t, err)
	require.Len(t, docs, 1)
	assert.Equal(t, "b", docs[0].ID)
}

func TestChromemStore_PersistentCatalog(t *testing.T) {
	ctx := context.Background()
	cfg := config.ChromemConfig{Collection: "docs", PersistPath: t.TempDir()}

	s, err := NewChromemStore(ctx, cfg, 0)
	require.NoError(t, err)
	require.NoError(t, s.Upsert(ctx, chunk("a", 0), []float32{1, 0}))
	require.NoError(t, s.Upsert(ctx, chunk("a", 1), []float32{0, 1}))
	require.NoError(t, s.Close())

	reopened, err := NewChromemStore(ctx, cfg, 0)
	require.NoError(t, err)
	assert.Equal(t, 2, reopened.Dimension())

	docs, err := reopened.Documents(ctx, 0)
	require.NoError(t, err)
	require.Len(t, docs, 1)
	assert.Equal(t, 2, docs[0].Chunks)

	got, err := reopened.Query(ctx, []float32{0, 1}, 1, 0)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "a_chunk_1", got[0].Chunk.ID)
}
