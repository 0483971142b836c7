// SPDX-License-Identifier: AGPL-3.0
// Copyright 2025 Kadir Pekel
//
// Licensed under the GNU Affero General Public License v3.0 (AGPL-3.0) (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     https://www.gnu.org/licenses/agpl-3.0.en.html
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package vector

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/philippgille/chromem-go"

	"github.com/kadirpekel/reagent/pkg/config"
)

const metaPrefix = "meta."

// ChromemStore implements Store on chromem-go. Search is exact; with a
// persist path every write goes to disk.
//
// The catalog lives in a second collection whose documents all carry the
// one-dimensional embedding {1}, so a query for {1} enumerates it.
type ChromemStore struct {
	mu      sync.RWMutex
	db      *chromem.DB
	chunks  *chromem.Collection
	docs    *chromem.Collection
	catalog *catalog
	seq     sequence
	dim     int
	closed  bool
}

var _ Store = (*ChromemStore)(nil)

var catalogEmbedding = []float32{1}

// NewChromemStore opens the chromem database. dim may be 0 to fix the
// dimension at first upsert.
func NewChromemStore(ctx context.Context, cfg config.ChromemConfig, dim int) (*ChromemStore, error) {
	db := chromem.NewDB()
	if cfg.PersistPath != "" {
		if err := os.MkdirAll(cfg.PersistPath, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create persist directory: %w", err)
		}
		var err error
		db, err = chromem.NewPersistentDB(cfg.PersistPath, cfg.Compress)
		if err != nil {
			return nil, fmt.Errorf("failed to open chromem database at %s: %w", cfg.PersistPath, err)
		}
	}

	// Embeddings are always computed upstream.
	noEmbed := func(context.Context, string) ([]float32, error) {
		return nil, fmt.Errorf("chromem: embeddings must be precomputed")
	}
	chunks, err := db.GetOrCreateCollection(cfg.Collection, nil, noEmbed)
	if err != nil {
		return nil, fmt.Errorf("failed to get/create collection %q: %w", cfg.Collection, err)
	}
	docs, err := db.GetOrCreateCollection(cfg.Collection+"_catalog", nil, noEmbed)
	if err != nil {
		return nil, fmt.Errorf("failed to get/create catalog collection: %w", err)
	}

	s := &ChromemStore{
		db:      db,
		chunks:  chunks,
		docs:    docs,
		catalog: newCatalog(),
		seq:     sequence{now: time.Now},
		dim:     dim,
	}
	if err := s.loadCatalog(ctx); err != nil {
		return nil, err
	}
	slog.Info("Opened chromem vector store",
		"collection", cfg.Collection,
		"persist_path", cfg.PersistPath,
		"chunks", chunks.Count())
	return s, nil
}

func (s *ChromemStore) loadCatalog(ctx context.Context) error {
	n := s.docs.Count()
	if n == 0 {
		return nil
	}
	entries, err := s.docs.QueryEmbedding(ctx, catalogEmbedding, n, nil, nil)
	if err != nil {
		return fmt.Errorf("failed to load catalog: %w", err)
	}
	for _, e := range entries {
		doc, seq, dim := documentFromStrings(e.ID, e.Metadata)
		var ids []string
		if e.Content != "" {
			ids = strings.Split(e.Content, "\n")
		}
		s.catalog.restore(doc, ids, seq)
		s.seq.observe(seq)
		if s.dim == 0 {
			s.dim = dim
		}
	}
	return nil
}

// Name implements Store.
func (s *ChromemStore) Name() string { return config.VectorChromem }

// Dimension implements Store.
func (s *ChromemStore) Dimension() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.dim
}

// Upsert implements Store.
func (s *ChromemStore) Upsert(ctx context.Context, chunk Chunk, embedding []float32) error {
	if chunk.ID == "" || chunk.DocumentID == "" {
		return fmt.Errorf("chunk id and document id are required")
	}
	if isZero(embedding) {
		return ErrZeroVector
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrIndexUnavailable
	}
	if s.dim == 0 {
		s.dim = len(embedding)
	}
	if len(embedding) != s.dim {
		return fmt.Errorf("%w: got %d, want %d", ErrDimensionMismatch, len(embedding), s.dim)
	}

	seq := s.seq.next()
	uploadedAt, ok := s.catalog.uploadedAt(chunk.DocumentID)
	if !ok {
		uploadedAt = time.Unix(0, int64(seq)).UTC()
	}

	doc := chromem.Document{
		ID:        chunk.ID,
		Content:   chunk.Content,
		Metadata:  chunkToStrings(chunk, seq),
		Embedding: append([]float32(nil), embedding...),
	}
	if err := s.chunks.AddDocument(ctx, doc); err != nil {
		return fmt.Errorf("failed to upsert chunk %s: %w", chunk.ID, err)
	}

	s.catalog.add(chunk, uploadedAt, seq)
	return s.saveCatalogEntry(ctx, chunk.DocumentID)
}

func (s *ChromemStore) saveCatalogEntry(ctx context.Context, documentID string) error {
	e, ok := s.catalog.entry(documentID)
	if !ok {
		return s.docs.Delete(ctx, nil, nil, documentID)
	}
	meta := documentToStrings(e.doc, e.seq)
	meta["dimension"] = strconv.Itoa(s.dim)
	err := s.docs.AddDocument(ctx, chromem.Document{
		ID:        documentID,
		Content:   strings.Join(s.catalog.chunkIDs(documentID), "\n"),
		Metadata:  meta,
		Embedding: catalogEmbedding,
	})
	if err != nil {
		return fmt.Errorf("failed to update catalog for %s: %w", documentID, err)
	}
	return nil
}

// Query implements Store.
func (s *ChromemStore) Query(ctx context.Context, embedding []float32, k int, threshold float32) ([]Result, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, ErrIndexUnavailable
	}
	if s.dim > 0 && len(embedding) != s.dim {
		return nil, fmt.Errorf("%w: got %d, want %d", ErrDimensionMismatch, len(embedding), s.dim)
	}
	if isZero(embedding) {
		return nil, ErrZeroVector
	}
	n := s.chunks.Count()
	if k <= 0 || n == 0 {
		return nil, nil
	}

	// chromem rejects nResults above the collection size.
	found, err := s.chunks.QueryEmbedding(ctx, embedding, min(n, 4*k+16), nil, nil)
	if err != nil {
		return nil, fmt.Errorf("chromem query failed: %w", err)
	}
	hits := make([]rankedResult, 0, len(found))
	for _, r := range found {
		chunk, seq := chunkFromStrings(r.ID, r.Content, r.Metadata)
		hits = append(hits, rankedResult{Result: Result{Chunk: chunk, Similarity: r.Similarity}, seq: seq})
	}
	return rank(hits, k, threshold), nil
}

// Documents implements Store.
func (s *ChromemStore) Documents(_ context.Context, limit int) ([]Document, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, ErrIndexUnavailable
	}
	return s.catalog.list(limit), nil
}

// DeleteDocument implements Store.
func (s *ChromemStore) DeleteDocument(ctx context.Context, documentID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrIndexUnavailable
	}

	ids := s.catalog.chunkIDs(documentID)
	if len(ids) == 0 {
		return fmt.Errorf("%w: %s", ErrDocumentNotFound, documentID)
	}
	return s.dropLocked(ctx, documentID, ids)
}

// RetainChunks implements Store.
func (s *ChromemStore) RetainChunks(ctx context.Context, documentID string, keep []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrIndexUnavailable
	}
	return s.dropLocked(ctx, documentID, s.catalog.stale(documentID, keep))
}

func (s *ChromemStore) dropLocked(ctx context.Context, documentID string, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	if err := s.chunks.Delete(ctx, nil, nil, ids...); err != nil {
		return fmt.Errorf("failed to delete chunks of %s: %w", documentID, err)
	}
	for _, id := range ids {
		s.catalog.remove(documentID, id)
	}
	return s.saveCatalogEntry(ctx, documentID)
}

// Close implements Store. Persistent databases are already on disk.
func (s *ChromemStore) Close() error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	return nil
}

func chunkToStrings(c Chunk, seq uint64) map[string]string {
	m := map[string]string{
		"document_id":  c.DocumentID,
		"filename":     c.Filename,
		"content_type": c.ContentType,
		"chunk_index":  strconv.Itoa(c.Index),
		"total_chunks": strconv.Itoa(c.Total),
		"file_size":    strconv.FormatInt(c.Size, 10),
		"seq":          strconv.FormatUint(seq, 10),
	}
	for k, v := range c.Metadata {
		m[metaPrefix+k] = fmt.Sprint(v)
	}
	return m
}

func chunkFromStrings(id, content string, m map[string]string) (Chunk, uint64) {
	c := Chunk{
		ID:          id,
		Content:     content,
		DocumentID:  m["document_id"],
		Filename:    m["filename"],
		ContentType: m["content_type"],
	}
	c.Index, _ = strconv.Atoi(m["chunk_index"])
	c.Total, _ = strconv.Atoi(m["total_chunks"])
	c.Size, _ = strconv.ParseInt(m["file_size"], 10, 64)
	seq, _ := strconv.ParseUint(m["seq"], 10, 64)
	for k, v := range m {
		if name, ok := strings.CutPrefix(k, metaPrefix); ok {
			if c.Metadata == nil {
				c.Metadata = make(map[string]any)
			}
			c.Metadata[name] = v
		}
	}
	return c, seq
}

func documentToStrings(d Document, seq uint64) map[string]string {
	return map[string]string{
		"filename":     d.Filename,
		"content_type": d.ContentType,
		"size":         strconv.FormatInt(d.Size, 10),
		"uploaded_at":  d.UploadedAt.Format(time.RFC3339Nano),
		"seq":          strconv.FormatUint(seq, 10),
	}
}

func documentFromStrings(id string, m map[string]string) (doc Document, seq uint64, dim int) {
	doc = Document{ID: id, Filename: m["filename"], ContentType: m["content_type"]}
	doc.Size, _ = strconv.ParseInt(m["size"], 10, 64)
	doc.UploadedAt, _ = time.Parse(time.RFC3339Nano, m["uploaded_at"])
	seq, _ = strconv.ParseUint(m["seq"], 10, 64)
	dim, _ = strconv.Atoi(m["dimension"])
	return doc, seq, dim
}
