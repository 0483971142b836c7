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

package rag

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/kadirpekel/reagent/pkg/config"
	"github.com/kadirpekel/reagent/pkg/observability"
	"github.com/kadirpekel/reagent/pkg/utils"
	"github.com/kadirpekel/reagent/pkg/vector"
)

// embedBatchSize is the number of chunks sent per embedding request.
const embedBatchSize = 16

// Embedder computes embeddings for a batch of texts, preserving order.
type Embedder interface {
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
}

// Document is a raw upload.
type Document struct {
	// ID is generated when empty. Re-ingesting an existing ID replaces its chunks.
	ID          string
	Filename    string
	ContentType string
	Data        []byte
}

// IngestResult reports what was indexed.
type IngestResult struct {
	DocumentID  string `json:"document_id"`
	Filename    string `json:"filename"`
	ContentType string `json:"content_type"`
	Chunks      int    `json:"chunks"`
	Tokens      int    `json:"tokens"`
}

// Ingester runs extract, chunk, embed and upsert for uploaded documents.
type Ingester struct {
	store       vector.Store
	embedder    Embedder
	extractors  *Extractors
	chunker     Chunker
	counter     *utils.TokenCounter
	concurrency int
	logger      *slog.Logger
}

type IngesterOption func(*Ingester)

func WithExtractors(e *Extractors) IngesterOption {
	return func(i *Ingester) { i.extractors = e }
}

func WithTokenCounter(tc *utils.TokenCounter) IngesterOption {
	return func(i *Ingester) { i.counter = tc }
}

func NewIngester(cfg *config.RAGConfig, store vector.Store, embedder Embedder, opts ...IngesterOption) (*Ingester, error) {
	if store == nil || embedder == nil {
		return nil, fmt.Errorf("ingester needs a vector store and an embedder")
	}
	if cfg == nil {
		cfg = &config.RAGConfig{}
	}
	i := &Ingester{
		store:       store,
		embedder:    embedder,
		extractors:  DefaultExtractors(),
		chunker:     NewChunker(cfg.ChunkSize, cfg.ChunkOverlap),
		concurrency: max(cfg.EmbedConcurrency, 1),
		logger:      slog.With("component", "ingest"),
	}
	for _, opt := range opts {
		opt(i)
	}
	if i.counter == nil {
		i.counter = utils.NewTokenCounter("text-embedding-ada-002")
	}
	return i, nil
}

// Ingest indexes doc. Existing chunks of the same document id are only
// touched after every new chunk has been embedded and matches the index
// dimension. A failed upsert can leave old and new chunks mixed, never an
// empty document.
func (i *Ingester) Ingest(ctx context.Context, doc Document) (res IngestResult, err error) {
	start := time.Now()
	if doc.ID == "" {
		doc.ID = uuid.NewString()
	}

	ctx, span := observability.GetTracer("reagent.rag").Start(ctx, observability.SpanIngest,
		trace.WithAttributes(
			attribute.String("document.id", doc.ID),
			attribute.String("document.filename", doc.Filename),
		))
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
		observability.GetGlobalMetrics().RecordIngest(ctx, res.Chunks, time.Since(start), err)
	}()

	fail := func(stage string, err error) (IngestResult, error) {
		return IngestResult{}, &IngestError{DocumentID: doc.ID, Filename: doc.Filename, Stage: stage, Err: err}
	}

	text, contentType, err := i.extractors.Extract(ctx, doc.ContentType, doc.Filename, doc.Data)
	if err != nil {
		return fail("extract", err)
	}
	pieces := i.chunker.Split(text)
	if len(pieces) == 0 {
		return fail("chunk", ErrEmptyDocument)
	}

	embeddings, err := i.embed(ctx, pieces)
	if err != nil {
		return fail("embed", err)
	}

	if dim := i.store.Dimension(); dim > 0 {
		for _, vec := range embeddings {
			if len(vec) != dim {
				return fail("embed", fmt.Errorf("%w: got %d, want %d", vector.ErrDimensionMismatch, len(vec), dim))
			}
		}
	}

	// New chunks overwrite old ones by id; leftovers of a longer previous
	// version are pruned only once every upsert succeeded.
	ids := make([]string, 0, len(pieces))
	size := int64(len(doc.Data))
	tokens := 0
	for n, content := range pieces {
		count := i.counter.Count(content)
		tokens += count
		chunk := vector.Chunk{
			ID:          fmt.Sprintf("%s_chunk_%d", doc.ID, n),
			DocumentID:  doc.ID,
			Content:     content,
			Filename:    doc.Filename,
			ContentType: contentType,
			Index:       n,
			Total:       len(pieces),
			Size:        size,
			Metadata: map[string]any{
				"chunk_size": len(content),
				"tokens":     count,
			},
		}
		if err := i.store.Upsert(ctx, chunk, embeddings[n]); err != nil {
			return fail("upsert", err)
		}
		ids = append(ids, chunk.ID)
	}
	if err := i.store.RetainChunks(ctx, doc.ID, ids); err != nil {
		return fail("replace", err)
	}

	i.logger.Info("Document ingested",
		"document_id", doc.ID, "filename", doc.Filename, "content_type", contentType,
		"chunks", len(pieces), "tokens", tokens, "duration", time.Since(start))

	return IngestResult{
		DocumentID:  doc.ID,
		Filename:    doc.Filename,
		ContentType: contentType,
		Chunks:      len(pieces),
		Tokens:      tokens,
	}, nil
}

// embed fans batches out to at most concurrency workers.
func (i *Ingester) embed(ctx context.Context, pieces []string) ([][]float32, error) {
	out := make([][]float32, len(pieces))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(i.concurrency)

	for lo := 0; lo < len(pieces); lo += embedBatchSize {
		hi := min(lo+embedBatchSize, len(pieces))
		g.Go(func() error {
			vecs, err := i.embedder.EmbedBatch(gctx, pieces[lo:hi])
			if err != nil {
				return err
			}
			if len(vecs) != hi-lo {
				return fmt.Errorf("embedder returned %d vectors for %d texts", len(vecs), hi-lo)
			}
			copy(out[lo:hi], vecs)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

// IngestFile reads and indexes a local file. The document id is derived
// from the absolute path, so ingesting the same file again replaces it.
func (i *Ingester) IngestFile(ctx context.Context, path string) (IngestResult, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return IngestResult{}, err
	}
	data, err := os.ReadFile(abs)
	if err != nil {
		return IngestResult{}, fmt.Errorf("failed to read %s: %w", path, err)
	}
	return i.Ingest(ctx, Document{
		ID:       FileDocumentID(abs),
		Filename: filepath.Base(abs),
		Data:     data,
	})
}

// FileDocumentID is the stable document id of a local file.
func FileDocumentID(absPath string) string {
	return uuid.NewSHA1(uuid.NameSpaceURL, []byte("file://"+absPath)).String()
}

// RemoveFile drops the chunks of a previously ingested local file.
func (i *Ingester) RemoveFile(ctx context.Context, path string) error {
	abs, err := filepath.Abs(path)
	if err != nil {
		return err
	}
	err = i.store.DeleteDocument(ctx, FileDocumentID(abs))
	if errors.Is(err, vector.ErrDocumentNotFound) {
		return nil
	}
	return err
}
