// Package vector stores document chunk embeddings and answers cosine
// similarity queries over them.
//
// The in-process backend pairs an HNSW graph (the ANN engine) with a chunk
// table, a document catalog and an optional badger snapshot. The chromem and
// qdrant backends satisfy the same Store contract.
package vector

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrDimensionMismatch is returned when a vector does not match the
	// dimension the index was fixed to.
	ErrDimensionMismatch = errors.New("embedding dimension mismatch")

	// ErrIndexUnavailable is returned after Close or when a remote backend
	// cannot be reached.
	ErrIndexUnavailable = errors.New("embedding index unavailable")

	// ErrZeroVector is returned for vectors with zero norm, which have no
	// cosine similarity.
	ErrZeroVector = errors.New("zero-norm vector")

	// ErrDocumentNotFound is returned by DeleteDocument for unknown ids.
	ErrDocumentNotFound = errors.New("document not found")
)

// Chunk is one piece of an ingested document.
type Chunk struct {
	ID          string         `json:"id" msgpack:"id"`
	DocumentID  string         `json:"document_id" msgpack:"document_id"`
	Content     string         `json:"content" msgpack:"content"`
	Filename    string         `json:"filename" msgpack:"filename"`
	ContentType string         `json:"content_type" msgpack:"content_type"`
	Index       int            `json:"chunk_index" msgpack:"chunk_index"`
	Total       int            `json:"total_chunks" msgpack:"total_chunks"`
	Size        int64          `json:"file_size" msgpack:"file_size"`
	Metadata    map[string]any `json:"metadata,omitempty" msgpack:"metadata,omitempty"`
}

// Document is a catalog entry describing an ingested document.
type Document struct {
	ID          string    `json:"id"`
	Filename    string    `json:"filename"`
	ContentType string    `json:"content_type"`
	Size        int64     `json:"size"`
	Chunks      int       `json:"chunks"`
	UploadedAt  time.Time `json:"uploaded_at"`
}

// Result is a single query hit.
type Result struct {
	Chunk      Chunk   `json:"chunk"`
	Similarity float32 `json:"similarity"`
}

// Store is the Embedding Index contract used by tools and ingestion.
//
// Implementations are safe for concurrent use.
type Store interface {
	// Upsert inserts or replaces a chunk. Replacing refreshes its recency.
	Upsert(ctx context.Context, chunk Chunk, embedding []float32) error

	// Query returns up to k chunks with similarity >= threshold ordered by
	// descending similarity, ties broken by most recent insertion first.
	Query(ctx context.Context, embedding []float32, k int, threshold float32) ([]Result, error)

	// Documents lists the catalog, most recently uploaded first. A limit
	// <= 0 returns everything.
	Documents(ctx context.Context, limit int) ([]Document, error)

	// DeleteDocument removes a document and all its chunks.
	DeleteDocument(ctx context.Context, documentID string) error

	// RetainChunks removes the chunks of documentID whose ids are not in
	// keep. Unknown documents are a no-op.
	RetainChunks(ctx context.Context, documentID string, keep []string) error

	// Dimension reports the fixed dimension, or 0 while still unset.
	Dimension() int

	// Name identifies the backend.
	Name() string

	Close() error
}
