package vector

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"
)

// exactScanLimit is the size below which Query scores every chunk instead
// of walking the graph.
const exactScanLimit = 256

type indexedChunk struct {
	chunk Chunk
	vec   []float32
	key   uint64
}

// DocumentIndex is the in-process Store: an HNSW graph over chunk
// embeddings plus the chunk table and document catalog.
type DocumentIndex struct {
	mu      sync.RWMutex
	dim     int
	opts    HNSWOptions
	engine  Index
	chunks  map[string]*indexedChunk
	byKey   map[uint64]*indexedChunk
	catalog *catalog
	seq     sequence
	snap    Snapshotter
	closed  bool
	logger  *slog.Logger
}

var _ Store = (*DocumentIndex)(nil)

// Option configures a DocumentIndex.
type Option func(*DocumentIndex)

// WithDimension fixes the dimension up front instead of at first upsert.
func WithDimension(dim int) Option {
	return func(d *DocumentIndex) { d.dim = dim }
}

// WithHNSW sets the graph parameters.
func WithHNSW(opts HNSWOptions) Option {
	return func(d *DocumentIndex) { d.opts = opts }
}

// WithSnapshot writes every change through s and replays it on open.
func WithSnapshot(s Snapshotter) Option {
	return func(d *DocumentIndex) { d.snap = s }
}

// WithClock overrides the time source used for upload times and recency.
func WithClock(now func() time.Time) Option {
	return func(d *DocumentIndex) { d.seq.now = now }
}

// NewDocumentIndex creates an index, replaying the snapshot when one is set.
func NewDocumentIndex(opts ...Option) (*DocumentIndex, error) {
	d := &DocumentIndex{
		chunks:  make(map[string]*indexedChunk),
		byKey:   make(map[uint64]*indexedChunk),
		catalog: newCatalog(),
		seq:     sequence{now: time.Now},
		logger:  slog.With("component", "vector"),
	}
	for _, opt := range opts {
		opt(d)
	}
	if d.dim > 0 {
		if err := d.initEngine(d.dim); err != nil {
			return nil, err
		}
	}
	if d.snap != nil {
		if err := d.replay(); err != nil {
			return nil, fmt.Errorf("failed to replay snapshot: %w", err)
		}
	}
	return d, nil
}

func (d *DocumentIndex) initEngine(dim int) error {
	engine, err := NewHNSW(dim, d.opts)
	if err != nil {
		return err
	}
	d.dim, d.engine = dim, engine
	return nil
}

func (d *DocumentIndex) replay() error {
	var records []Record
	if err := d.snap.Load(func(r Record) error {
		records = append(records, r)
		return nil
	}); err != nil {
		return err
	}
	slices.SortFunc(records, func(a, b Record) int {
		switch {
		case a.Seq < b.Seq:
			return -1
		case a.Seq > b.Seq:
			return 1
		}
		return 0
	})

	d.mu.Lock()
	defer d.mu.Unlock()
	for _, r := range records {
		if d.engine == nil {
			if err := d.initEngine(len(r.Embedding)); err != nil {
				return err
			}
		}
		if err := d.insertLocked(r.Chunk, r.Embedding, r.Seq, r.UploadedAt); err != nil {
			d.logger.Warn("Skipping snapshot record", "chunk_id", r.Chunk.ID, "error", err)
			continue
		}
		d.seq.observe(r.Seq)
	}
	if len(records) > 0 {
		d.logger.Info("Restored embedding index", "chunks", len(d.chunks), "documents", len(d.catalog.docs))
	}
	return nil
}

// Name implements Store.
func (d *DocumentIndex) Name() string { return "hnsw" }

// Dimension implements Store.
func (d *DocumentIndex) Dimension() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.dim
}

// Len returns the number of indexed chunks.
func (d *DocumentIndex) Len() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.chunks)
}

// Upsert implements Store.
func (d *DocumentIndex) Upsert(ctx context.Context, chunk Chunk, embedding []float32) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if chunk.ID == "" || chunk.DocumentID == "" {
		return fmt.Errorf("chunk id and document id are required")
	}
	if isZero(embedding) {
		return ErrZeroVector
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	if d.closed {
		return ErrIndexUnavailable
	}
	if d.engine == nil {
		if err := d.initEngine(len(embedding)); err != nil {
			return err
		}
	}
	if len(embedding) != d.dim {
		return fmt.Errorf("%w: got %d, want %d", ErrDimensionMismatch, len(embedding), d.dim)
	}

	seq := d.seq.next()
	uploadedAt, ok := d.catalog.uploadedAt(chunk.DocumentID)
	if !ok {
		uploadedAt = time.Unix(0, int64(seq)).UTC()
	}
	vec := slices.Clone(embedding)

	if d.snap != nil {
		rec := Record{Chunk: chunk, Embedding: vec, Seq: seq, UploadedAt: uploadedAt}
		if err := d.snap.Put(rec); err != nil {
			return fmt.Errorf("failed to persist chunk %s: %w", chunk.ID, err)
		}
	}
	return d.insertLocked(chunk, vec, seq, uploadedAt)
}

func (d *DocumentIndex) insertLocked(chunk Chunk, vec []float32, seq uint64, uploadedAt time.Time) error {
	if old, ok := d.chunks[chunk.ID]; ok {
		d.engine.Delete(old.key)
		delete(d.byKey, old.key)
		if old.chunk.DocumentID != chunk.DocumentID {
			d.catalog.remove(old.chunk.DocumentID, chunk.ID)
		}
	}
	// The recency stamp doubles as the engine key; a re-upsert gets a new one.
	if err := d.engine.Insert(seq, vec); err != nil {
		delete(d.chunks, chunk.ID)
		d.catalog.remove(chunk.DocumentID, chunk.ID)
		return err
	}
	ic := &indexedChunk{chunk: chunk, vec: vec, key: seq}
	d.chunks[chunk.ID] = ic
	d.byKey[seq] = ic
	d.catalog.add(chunk, uploadedAt, seq)
	return nil
}

// Query implements Store.
func (d *DocumentIndex) Query(ctx context.Context, embedding []float32, k int, threshold float32) ([]Result, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	d.mu.RLock()
	defer d.mu.RUnlock()

	if d.closed {
		return nil, ErrIndexUnavailable
	}
	if d.dim > 0 && len(embedding) != d.dim {
		return nil, fmt.Errorf("%w: got %d, want %d", ErrDimensionMismatch, len(embedding), d.dim)
	}
	if isZero(embedding) {
		return nil, ErrZeroVector
	}
	if k <= 0 || len(d.chunks) == 0 {
		return nil, nil
	}

	var hits []rankedResult
	if len(d.chunks) <= exactScanLimit {
		hits = make([]rankedResult, 0, len(d.chunks))
		for _, ic := range d.chunks {
			hits = append(hits, rankedResult{
				Result: Result{Chunk: ic.chunk, Similarity: CosineSimilarity(embedding, ic.vec)},
				seq:    ic.key,
			})
		}
	} else {
		// Over-fetch so ties at the cut-off survive the recency ordering.
		matches, err := d.engine.Search(embedding, min(len(d.chunks), 4*k+16))
		if err != nil {
			return nil, err
		}
		hits = make([]rankedResult, 0, len(matches))
		for _, m := range matches {
			ic, ok := d.byKey[m.ID]
			if !ok {
				continue
			}
			hits = append(hits, rankedResult{
				Result: Result{Chunk: ic.chunk, Similarity: m.Similarity},
				seq:    ic.key,
			})
		}
	}
	return rank(hits, k, threshold), nil
}

// Documents implements Store.
func (d *DocumentIndex) Documents(ctx context.Context, limit int) ([]Document, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		return nil, ErrIndexUnavailable
	}
	return d.catalog.list(limit), nil
}

// DeleteDocument implements Store.
func (d *DocumentIndex) DeleteDocument(ctx context.Context, documentID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return ErrIndexUnavailable
	}

	ids := d.catalog.chunkIDs(documentID)
	if len(ids) == 0 {
		return fmt.Errorf("%w: %s", ErrDocumentNotFound, documentID)
	}
	return d.dropLocked(documentID, ids)
}

// RetainChunks implements Store.
func (d *DocumentIndex) RetainChunks(ctx context.Context, documentID string, keep []string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return ErrIndexUnavailable
	}
	return d.dropLocked(documentID, d.catalog.stale(documentID, keep))
}

func (d *DocumentIndex) dropLocked(documentID string, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	if d.snap != nil {
		if err := d.snap.Delete(ids...); err != nil {
			return fmt.Errorf("failed to delete chunks of %s from snapshot: %w", documentID, err)
		}
	}
	for _, id := range ids {
		ic, ok := d.chunks[id]
		if !ok {
			continue
		}
		d.engine.Delete(ic.key)
		delete(d.byKey, ic.key)
		delete(d.chunks, id)
		d.catalog.remove(documentID, id)
	}
	return nil
}

// Close marks the index unavailable and closes the snapshot.
func (d *DocumentIndex) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return nil
	}
	d.closed = true
	if d.snap != nil {
		return d.snap.Close()
	}
	return nil
}
