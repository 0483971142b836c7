// Copyright 2025 Kadir Pekel
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
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
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/qdrant/go-client/qdrant"

	"github.com/kadirpekel/reagent/pkg/config"
)

// qdrantNamespace derives point UUIDs from chunk ids.
var qdrantNamespace = uuid.MustParse("9a1f3c52-6f0e-4f7a-9d1e-2c58a0b8e4d1")

// QdrantStore implements Store on a remote qdrant server (gRPC). Chunks
// live in the configured collection; the catalog in "<collection>_catalog".
type QdrantStore struct {
	client     *qdrant.Client
	collection string
	catalogCol string

	mu      sync.RWMutex
	catalog *catalog
	seq     sequence
	dim     int
	closed  bool
}

var _ Store = (*QdrantStore)(nil)

// NewQdrantStore connects, creates missing collections and loads the catalog.
func NewQdrantStore(ctx context.Context, cfg config.QdrantConfig, dim int) (*QdrantStore, error) {
	client, err := qdrant.NewClient(&qdrant.Config{
		Host:   cfg.Host,
		Port:   cfg.Port,
		APIKey: cfg.APIKey,
		UseTLS: cfg.UseTLS,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: failed to create qdrant client for %s:%d: %w", ErrIndexUnavailable, cfg.Host, cfg.Port, err)
	}

	s := &QdrantStore{
		client:     client,
		collection: cfg.Collection,
		catalogCol: cfg.Collection + "_catalog",
		catalog:    newCatalog(),
		seq:        sequence{now: time.Now},
		dim:        dim,
	}
	if err := s.open(ctx); err != nil {
		client.Close()
		return nil, err
	}
	slog.Info("Connected to qdrant", "host", cfg.Host, "port", cfg.Port, "collection", cfg.Collection)
	return s, nil
}

func (s *QdrantStore) open(ctx context.Context) error {
	exists, err := s.client.CollectionExists(ctx, s.collection)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrIndexUnavailable, err)
	}
	if exists {
		info, err := s.client.GetCollectionInfo(ctx, s.collection)
		if err != nil {
			return fmt.Errorf("%w: %w", ErrIndexUnavailable, err)
		}
		size := int(info.GetConfig().GetParams().GetVectorsConfig().GetParams().GetSize())
		if s.dim > 0 && size > 0 && size != s.dim {
			return fmt.Errorf("%w: collection %s has %d dimensions, embedder produces %d",
				ErrDimensionMismatch, s.collection, size, s.dim)
		}
		s.dim = size
	} else if s.dim > 0 {
		if err := s.createCollection(ctx, s.collection, s.dim); err != nil {
			return err
		}
	}

	exists, err = s.client.CollectionExists(ctx, s.catalogCol)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrIndexUnavailable, err)
	}
	if !exists {
		return s.createCollection(ctx, s.catalogCol, 1)
	}
	return s.loadCatalog(ctx)
}

func (s *QdrantStore) createCollection(ctx context.Context, name string, dim int) error {
	err := s.client.CreateCollection(ctx, &qdrant.CreateCollection{
		CollectionName: name,
		VectorsConfig: qdrant.NewVectorsConfig(&qdrant.VectorParams{
			Size:     uint64(dim),
			Distance: qdrant.Distance_Cosine,
		}),
	})
	if err != nil && !strings.Contains(err.Error(), "already exists") {
		return fmt.Errorf("failed to create collection %s: %w", name, err)
	}
	return nil
}

func (s *QdrantStore) loadCatalog(ctx context.Context) error {
	limit := uint32(10000)
	points, err := s.client.Scroll(ctx, &qdrant.ScrollPoints{
		CollectionName: s.catalogCol,
		Limit:          &limit,
		WithPayload:    qdrant.NewWithPayload(true),
	})
	if err != nil {
		return fmt.Errorf("%w: failed to load catalog: %w", ErrIndexUnavailable, err)
	}
	for _, p := range points {
		doc, ids, seq := documentFromPayload(p.GetPayload())
		s.catalog.restore(doc, ids, seq)
		s.seq.observe(seq)
	}
	return nil
}

// Name implements Store.
func (s *QdrantStore) Name() string { return config.VectorQdrant }

// Dimension implements Store.
func (s *QdrantStore) Dimension() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.dim
}

// Upsert implements Store.
func (s *QdrantStore) Upsert(ctx context.Context, chunk Chunk, embedding []float32) error {
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
		if err := s.createCollection(ctx, s.collection, len(embedding)); err != nil {
			return err
		}
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

	payload, err := chunkPayload(chunk, seq)
	if err != nil {
		return err
	}
	wait := true
	_, err = s.client.Upsert(ctx, &qdrant.UpsertPoints{
		CollectionName: s.collection,
		Wait:           &wait,
		Points: []*qdrant.PointStruct{{
			Id:      qdrant.NewID(pointID(chunk.ID)),
			Vectors: qdrant.NewVectors(embedding...),
			Payload: payload,
		}},
	})
	if err != nil {
		return fmt.Errorf("%w: failed to upsert chunk %s: %w", ErrIndexUnavailable, chunk.ID, err)
	}

	s.catalog.add(chunk, uploadedAt, seq)
	return s.saveCatalogEntry(ctx, chunk.DocumentID)
}

func (s *QdrantStore) saveCatalogEntry(ctx context.Context, documentID string) error {
	e, ok := s.catalog.entry(documentID)
	if !ok {
		_, err := s.client.Delete(ctx, &qdrant.DeletePoints{
			CollectionName: s.catalogCol,
			Points: &qdrant.PointsSelector{
				PointsSelectorOneOf: &qdrant.PointsSelector_Points{
					Points: &qdrant.PointsIdsList{Ids: []*qdrant.PointId{qdrant.NewID(pointID(documentID))}},
				},
			},
		})
		return err
	}

	payload, err := documentPayload(e.doc, s.catalog.chunkIDs(documentID), e.seq)
	if err != nil {
		return err
	}
	_, err = s.client.Upsert(ctx, &qdrant.UpsertPoints{
		CollectionName: s.catalogCol,
		Points: []*qdrant.PointStruct{{
			Id:      qdrant.NewID(pointID(documentID)),
			Vectors: qdrant.NewVectors(1),
			Payload: payload,
		}},
	})
	if err != nil {
		return fmt.Errorf("failed to update catalog for %s: %w", documentID, err)
	}
	return nil
}

// Query implements Store.
func (s *QdrantStore) Query(ctx context.Context, embedding []float32, k int, threshold float32) ([]Result, error) {
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
	if k <= 0 || s.dim == 0 {
		return nil, nil
	}

	limit := uint64(4*k + 16)
	points, err := s.client.Query(ctx, &qdrant.QueryPoints{
		CollectionName: s.collection,
		Query:          qdrant.NewQuery(embedding...),
		Limit:          &limit,
		ScoreThreshold: &threshold,
		WithPayload:    qdrant.NewWithPayload(true),
	})
	if err != nil {
		return nil, fmt.Errorf("%w: qdrant query failed: %w", ErrIndexUnavailable, err)
	}

	hits := make([]rankedResult, 0, len(points))
	for _, p := range points {
		chunk, seq := chunkFromPayload(p.GetPayload())
		hits = append(hits, rankedResult{Result: Result{Chunk: chunk, Similarity: p.GetScore()}, seq: seq})
	}
	return rank(hits, k, threshold), nil
}

// Documents implements Store.
func (s *QdrantStore) Documents(_ context.Context, limit int) ([]Document, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, ErrIndexUnavailable
	}
	return s.catalog.list(limit), nil
}

// DeleteDocument implements Store.
func (s *QdrantStore) DeleteDocument(ctx context.Context, documentID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrIndexUnavailable
	}

	ids := s.catalog.chunkIDs(documentID)
	if len(ids) == 0 {
		return fmt.Errorf("%w: %s", ErrDocumentNotFound, documentID)
	}
	_, err := s.client.Delete(ctx, &qdrant.DeletePoints{
		CollectionName: s.collection,
		Points: &qdrant.PointsSelector{
			PointsSelectorOneOf: &qdrant.PointsSelector_Filter{
				Filter: keywordFilter("document_id", documentID),
			},
		},
	})
	if err != nil {
		return fmt.Errorf("%w: failed to delete document %s: %w", ErrIndexUnavailable, documentID, err)
	}
	for _, id := range ids {
		s.catalog.remove(documentID, id)
	}
	return s.saveCatalogEntry(ctx, documentID)
}

// RetainChunks implements Store.
func (s *QdrantStore) RetainChunks(ctx context.Context, documentID string, keep []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrIndexUnavailable
	}

	stale := s.catalog.stale(documentID, keep)
	if len(stale) == 0 {
		return nil
	}
	ids := make([]*qdrant.PointId, len(stale))
	for n, id := range stale {
		ids[n] = qdrant.NewID(pointID(id))
	}
	wait := true
	_, err := s.client.Delete(ctx, &qdrant.DeletePoints{
		CollectionName: s.collection,
		Wait:           &wait,
		Points: &qdrant.PointsSelector{
			PointsSelectorOneOf: &qdrant.PointsSelector_Points{
				Points: &qdrant.PointsIdsList{Ids: ids},
			},
		},
	})
	if err != nil {
		return fmt.Errorf("%w: failed to prune document %s: %w", ErrIndexUnavailable, documentID, err)
	}
	for _, id := range stale {
		s.catalog.remove(documentID, id)
	}
	return s.saveCatalogEntry(ctx, documentID)
}

// Close implements Store.
func (s *QdrantStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	return s.client.Close()
}

func pointID(key string) string {
	return uuid.NewSHA1(qdrantNamespace, []byte(key)).String()
}

func keywordFilter(key, value string) *qdrant.Filter {
	return &qdrant.Filter{
		Must: []*qdrant.Condition{{
			ConditionOneOf: &qdrant.Condition_Field{
				Field: &qdrant.FieldCondition{
					Key: key,
					Match: &qdrant.Match{
						MatchValue: &qdrant.Match_Keyword{Keyword: value},
					},
				},
			},
		}},
	}
}

func toPayload(m map[string]any) (map[string]*qdrant.Value, error) {
	payload := make(map[string]*qdrant.Value, len(m))
	for k, v := range m {
		val, err := qdrant.NewValue(v)
		if err != nil {
			return nil, fmt.Errorf("failed to convert payload value %s: %w", k, err)
		}
		payload[k] = val
	}
	return payload, nil
}

func chunkPayload(c Chunk, seq uint64) (map[string]*qdrant.Value, error) {
	m := map[string]any{
		"chunk_id":     c.ID,
		"document_id":  c.DocumentID,
		"content":      c.Content,
		"filename":     c.Filename,
		"content_type": c.ContentType,
		"chunk_index":  int64(c.Index),
		"total_chunks": int64(c.Total),
		"file_size":    c.Size,
		"seq":          int64(seq),
	}
	for k, v := range c.Metadata {
		m[metaPrefix+k] = fmt.Sprint(v)
	}
	return toPayload(m)
}

func chunkFromPayload(p map[string]*qdrant.Value) (Chunk, uint64) {
	c := Chunk{
		ID:          p["chunk_id"].GetStringValue(),
		DocumentID:  p["document_id"].GetStringValue(),
		Content:     p["content"].GetStringValue(),
		Filename:    p["filename"].GetStringValue(),
		ContentType: p["content_type"].GetStringValue(),
		Index:       int(p["chunk_index"].GetIntegerValue()),
		Total:       int(p["total_chunks"].GetIntegerValue()),
		Size:        p["file_size"].GetIntegerValue(),
	}
	for k, v := range p {
		if name, ok := strings.CutPrefix(k, metaPrefix); ok {
			if c.Metadata == nil {
				c.Metadata = make(map[string]any)
			}
			c.Metadata[name] = v.GetStringValue()
		}
	}
	return c, uint64(p["seq"].GetIntegerValue())
}

func documentPayload(d Document, chunkIDs []string, seq uint64) (map[string]*qdrant.Value, error) {
	ids := make([]any, len(chunkIDs))
	for i, id := range chunkIDs {
		ids[i] = id
	}
	return toPayload(map[string]any{
		"document_id":  d.ID,
		"filename":     d.Filename,
		"content_type": d.ContentType,
		"size":         d.Size,
		"uploaded_at":  d.UploadedAt.Format(time.RFC3339Nano),
		"seq":          int64(seq),
		"chunk_ids":    ids,
	})
}

func documentFromPayload(p map[string]*qdrant.Value) (Document, []string, uint64) {
	d := Document{
		ID:          p["document_id"].GetStringValue(),
		Filename:    p["filename"].GetStringValue(),
		ContentType: p["content_type"].GetStringValue(),
		Size:        p["size"].GetIntegerValue(),
	}
	d.UploadedAt, _ = time.Parse(time.RFC3339Nano, p["uploaded_at"].GetStringValue())
	var ids []string
	for _, v := range p["chunk_ids"].GetListValue().GetValues() {
		ids = append(ids, v.GetStringValue())
	}
	return d, ids, uint64(p["seq"].GetIntegerValue())
}
