package vector

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kadirpekel/reagent/pkg/config"
)

// fakeClock advances one second per call.
func fakeClock() func() time.Time {
	t := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	return func() time.Time {
		t = t.Add(time.Second)
		return t
	}
}

func chunk(doc string, i int) Chunk {
	return Chunk{
		ID:          fmt.Sprintf("%s_chunk_%d", doc, i),
		DocumentID:  doc,
		Content:     fmt.Sprintf("content %s %d", doc, i),
		Filename:    doc + ".txt",
		ContentType: "text/plain",
		Index:       i,
		Total:       1,
		Size:        1024,
	}
}

func TestDocumentIndex_QueryThresholdAndOrder(t *testing.T) {
	ctx := context.Background()
	idx, err := NewDocumentIndex(WithClock(fakeClock()))
	require.NoError(t, err)

	require.NoError(t, idx.Upsert(ctx, chunk("a", 0), []float32{1, 0, 0}))
	require.NoError(t, idx.Upsert(ctx, chunk("b", 0), []float32{1, 1, 0}))
	require.NoError(t, idx.Upsert(ctx, chunk("c", 0), []float32{0, 1, 0}))

	got, err := idx.Query(ctx, []float32{1, 0, 0}, 5, 0.5)
	require.NoError(t, err)
	require.Len(t, got, 2, "orthogonal chunk must be filtered by threshold")
	assert.Equal(t, "a_chunk_0", got[0].Chunk.ID)
	assert.InDelta(t, 1.0, got[0].Similarity, 1e-6)
	assert.Equal(t, "b_chunk_0", got[1].Chunk.ID)
	assert.InDelta(t, 0.7071, got[1].Similarity, 1e-3)

	got, err = idx.Query(ctx, []float32{1, 0, 0}, 1, 0)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "a_chunk_0", got[0].Chunk.ID)
}

func TestDocumentIndex_TiesMostRecentFirst(t *testing.T) {
	ctx := context.Background()
	idx, err := NewDocumentIndex(WithClock(fakeClock()))
	require.NoError(t, err)

	for _, doc := range []string{"old", "mid", "new"} {
		require.NoError(t, idx.Upsert(ctx, chunk(doc, 0), []float32{0, 2, 0}))
	}
	got, err := idx.Query(ctx, []float32{0, 1, 0}, 3, 0.9)
	require.NoError(t, err)
	require.Len(t, got, 3)
	assert.Equal(t, []string{"new_chunk_0", "mid_chunk_0", "old_chunk_0"},
		[]string{got[0].Chunk.ID, got[1].Chunk.ID, got[2].Chunk.ID})

	// Re-upserting refreshes recency.
	require.NoError(t, idx.Upsert(ctx, chunk("old", 0), []float32{0, 3, 0}))
	got, err = idx.Query(ctx, []float32{0, 1, 0}, 1, 0.9)
	require.NoError(t, err)
	assert.Equal(t, "old_chunk_0", got[0].Chunk.ID)
	assert.Equal(t, 3, idx.Len())
}

func TestDocumentIndex_DimensionMismatch(t *testing.T) {
	ctx := context.Background()
	idx, err := NewDocumentIndex()
	require.NoError(t, err)

	require.NoError(t, idx.Upsert(ctx, chunk("a", 0), []float32{1, 2, 3}))
	assert.Equal(t, 3, idx.Dimension())

	assert.ErrorIs(t, idx.Upsert(ctx, chunk("b", 0), []float32{1, 2}), ErrDimensionMismatch)
	_, err = idx.Query(ctx, []float32{1, 2, 3, 4}, 3, 0)
	assert.ErrorIs(t, err, ErrDimensionMismatch)

	fixed, err := NewDocumentIndex(WithDimension(4))
	require.NoError(t, err)
	_, err = fixed.Query(ctx, []float32{1, 2, 3}, 3, 0)
	assert.ErrorIs(t, err, ErrDimensionMismatch, "configured dimension applies before any upsert")
}

func TestDocumentIndex_RejectsZeroVector(t *testing.T) {
	idx, _ := NewDocumentIndex()
	assert.ErrorIs(t, idx.Upsert(context.Background(), chunk("a", 0), []float32{0, 0}), ErrZeroVector)
}

func TestDocumentIndex_DocumentsAndDelete(t *testing.T) {
	ctx := context.Background()
	idx, err := NewDocumentIndex(WithClock(fakeClock()))
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		require.NoError(t, idx.Upsert(ctx, chunk("first", i), []float32{1, float32(i), 0}))
	}
	require.NoError(t, idx.Upsert(ctx, chunk("second", 0), []float32{0, 0, 1}))

	docs, err := idx.Documents(ctx, 0)
	require.NoError(t, err)
	require.Len(t, docs, 2)
	assert.Equal(t, "second", docs[0].ID, "most recent first")
	assert.Equal(t, 3, docs[1].Chunks)
	assert.Equal(t, "first.txt", docs[1].Filename)
	assert.EqualValues(t, 1024, docs[1].Size)

	docs, _ = idx.Documents(ctx, 1)
	assert.Len(t, docs, 1)

	require.NoError(t, idx.DeleteDocument(ctx, "first"))
	assert.Equal(t, 1, idx.Len())
	assert.ErrorIs(t, idx.DeleteDocument(ctx, "first"), ErrDocumentNotFound)

	got, err := idx.Query(ctx, []float32{1, 0, 0}, 5, 0)
	require.NoError(t, err)
	for _, r := range got {
		assert.NotEqual(t, "first", r.Chunk.DocumentID)
	}
}

func TestDocumentIndex_RetainChunks(t *testing.T) {
	ctx := context.Background()
	idx, err := NewDocumentIndex(WithClock(fakeClock()))
	require.NoError(t, err)
	for i := range 3 {
		require.NoError(t, idx.Upsert(ctx, chunk("a", i), []float32{1, float32(i), 0}))
	}
	require.NoError(t, idx.Upsert(ctx, chunk("b", 0), []float32{0, 0, 1}))

	require.NoError(t, idx.RetainChunks(ctx, "a", []string{"a_chunk_0"}))
	assert.Equal(t, 2, idx.Len())
	docs, err := idx.Documents(ctx, 0)
	require.NoError(t, err)
	require.Len(t, docs, 2)
	for _, d := range docs {
		assert.Equal(t, 1, d.Chunks, d.ID)
	}

	require.NoError(t, idx.RetainChunks(ctx, "missing", nil))
	require.NoError(t, idx.RetainChunks(ctx, "b", nil))
	assert.Equal(t, 1, idx.Len())
}

func TestDocumentIndex_LargeUsesGraph(t *testing.T) {
	ctx := context.Background()
	idx, err := NewDocumentIndex(WithHNSW(HNSWOptions{Seed: 9}))
	require.NoError(t, err)

	vecs := randomVectors(exactScanLimit*2, 16, 21)
	for i, v := range vecs {
		require.NoError(t, idx.Upsert(ctx, chunk(fmt.Sprintf("d%d", i), 0), v))
	}
	got, err := idx.Query(ctx, vecs[42], 3, 0.5)
	require.NoError(t, err)
	require.NotEmpty(t, got)
	assert.Equal(t, "d42_chunk_0", got[0].Chunk.ID)
}

func TestDocumentIndex_Closed(t *testing.T) {
	ctx := context.Background()
	idx, _ := NewDocumentIndex()
	require.NoError(t, idx.Close())

	assert.ErrorIs(t, idx.Upsert(ctx, chunk("a", 0), []float32{1}), ErrIndexUnavailable)
	_, err := idx.Query(ctx, []float32{1}, 1, 0)
	assert.ErrorIs(t, err, ErrIndexUnavailable)
	_, err = idx.Documents(ctx, 10)
	assert.ErrorIs(t, err, ErrIndexUnavailable)
}

func TestDocumentIndex_SnapshotReplay(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	snap, err := OpenBadgerSnapshot(dir)
	require.NoError(t, err)
	idx, err := NewDocumentIndex(WithSnapshot(snap), WithClock(fakeClock()))
	require.NoError(t, err)

	require.NoError(t, idx.Upsert(ctx, chunk("keep", 0), []float32{1, 0}))
	require.NoError(t, idx.Upsert(ctx, chunk("drop", 0), []float32{0, 1}))
	require.NoError(t, idx.Upsert(ctx, chunk("tie", 0), []float32{1, 0}))
	require.NoError(t, idx.DeleteDocument(ctx, "drop"))
	require.NoError(t, idx.Close())

	snap, err = OpenBadgerSnapshot(dir)
	require.NoError(t, err)
	restored, err := NewDocumentIndex(WithSnapshot(snap))
	require.NoError(t, err)
	defer restored.Close()

	assert.Equal(t, 2, restored.Len())
	assert.Equal(t, 2, restored.Dimension())

	got, err := restored.Query(ctx, []float32{1, 0}, 5, 0.5)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "tie_chunk_0", got[0].Chunk.ID, "recency survives restart")

	docs, err := restored.Documents(ctx, 0)
	require.NoError(t, err)
	require.Len(t, docs, 2)
	assert.Equal(t, "tie", docs[0].ID)
}

func TestNew_Providers(t *testing.T) {
	ctx := context.Background()

	s, err := New(ctx, &config.VectorConfig{Provider: config.VectorHNSW}, 8)
	require.NoError(t, err)
	assert.Equal(t, "hnsw", s.Name())
	assert.Equal(t, 8, s.Dimension())

	s, err = New(ctx, &config.VectorConfig{Provider: config.VectorChromem, Chromem: config.ChromemConfig{Collection: "docs"}}, 0)
	require.NoError(t, err)
	assert.Equal(t, "chromem", s.Name())

	_, err = New(ctx, &config.VectorConfig{Provider: "faiss"}, 8)
	assert.Error(t, err)
}
