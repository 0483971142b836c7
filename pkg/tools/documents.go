package tools

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/kadirpekel/reagent/pkg/config"
	"github.com/kadirpekel/reagent/pkg/observability"
	"github.com/kadirpekel/reagent/pkg/vector"
)

const (
	previewLength    = 200
	maxListDocuments = 100
)

// QueryEmbedder turns a search query into a vector.
type QueryEmbedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

type documentSearchArgs struct {
	Query               string  `json:"query" jsonschema:"required,description=What to search for in the documents"`
	MaxResults          int     `json:"max_results,omitempty" jsonschema:"description=Maximum number of results,default=5"`
	SimilarityThreshold float64 `json:"similarity_threshold,omitempty" jsonschema:"description=Minimum similarity score between 0 and 1,default=0.7"`
}

// NewDocumentSearchTool searches the embedding index by semantic similarity.
func NewDocumentSearchTool(cfg config.DocumentSearchConfig, store vector.Store, embedder QueryEmbedder) (Tool, error) {
	if store == nil || embedder == nil {
		return nil, fmt.Errorf("document_search needs a vector store and an embedder")
	}
	if cfg.MaxResults <= 0 {
		cfg.MaxResults = 5
	}
	if cfg.SimilarityThreshold <= 0 {
		cfg.SimilarityThreshold = 0.7
	}

	return NewFunctionTool(FunctionConfig{
		Name: config.ToolDocumentSearch,
		Description: "Search through uploaded documents using semantic similarity. Use this to find " +
			"relevant information from previously uploaded files.",
		Example: `document_search(query="financial projections Q4", max_results=3)`,
	}, func(ctx context.Context, args documentSearchArgs) (ToolResult, error) {
		k := args.MaxResults
		if k <= 0 {
			k = cfg.MaxResults
		}
		threshold := args.SimilarityThreshold
		if threshold <= 0 {
			threshold = cfg.SimilarityThreshold
		}

		start := time.Now()
		ctx, span := observability.GetTracer("reagent.tools").Start(ctx, observability.SpanRetrieval,
			trace.WithAttributes(attribute.Int("retrieval.k", k)))
		defer span.End()

		emb, err := embedder.Embed(ctx, args.Query)
		if err != nil {
			if ctx.Err() != nil {
				return ToolResult{}, ctx.Err()
			}
			return failure(config.ToolDocumentSearch, "Document search failed: "+err.Error()), nil
		}
		results, err := store.Query(ctx, emb, k, float32(threshold))
		observability.GetGlobalMetrics().RecordRetrieval(ctx, time.Since(start), len(results))
		if err != nil {
			span.RecordError(err)
			res := failure(config.ToolDocumentSearch, "Document search failed: "+err.Error())
			res.Err = fmt.Errorf("%w: %w", ErrToolExecution, err)
			return res, nil
		}

		meta := map[string]any{
			"query":         args.Query,
			"results_count": len(results),
			"search_type":   "documents",
		}
		if len(results) == 0 {
			return ToolResult{
				Success:  true,
				Content:  fmt.Sprintf("No documents found matching '%s' with similarity threshold %v", args.Query, threshold),
				Metadata: meta,
			}, nil
		}
		return ToolResult{
			Success:  true,
			Content:  formatDocumentHits(args.Query, results),
			Metadata: meta,
		}, nil
	})
}

func formatDocumentHits(query string, results []vector.Result) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Document search results for '%s':\n\n", query)
	for i, r := range results {
		if i > 0 {
			b.WriteString("\n")
		}
		filename := r.Chunk.Filename
		if filename == "" {
			filename = "Unknown"
		}
		fmt.Fprintf(&b, "%d. **%s** (Similarity: %.1f%%)\n   Content: %s\n   Document ID: %s\n",
			i+1, filename, float64(r.Similarity)*100, preview(r.Chunk.Content), r.Chunk.DocumentID)
	}
	return b.String()
}

func preview(s string) string {
	runes := []rune(s)
	if len(runes) <= previewLength {
		return s
	}
	return string(runes[:previewLength]) + "..."
}

type listDocumentsArgs struct {
	Limit int `json:"limit,omitempty" jsonschema:"description=Maximum number of documents to list,default=20"`
}

// NewListDocumentsTool lists the index catalog, most recent first.
func NewListDocumentsTool(cfg config.ListDocumentsConfig, store vector.Store) (Tool, error) {
	if store == nil {
		return nil, fmt.Errorf("list_documents needs a vector store")
	}
	if cfg.Limit <= 0 {
		cfg.Limit = 20
	}

	return NewFunctionTool(FunctionConfig{
		Name: config.ToolListDocuments,
		Description: "List all available documents that can be searched. Use this to see what " +
			"documents are available before searching.",
		Example: `list_documents(limit=10)`,
	}, func(ctx context.Context, args listDocumentsArgs) (ToolResult, error) {
		limit := args.Limit
		if limit <= 0 {
			limit = cfg.Limit
		}
		limit = min(limit, maxListDocuments)

		docs, err := store.Documents(ctx, limit)
		if err != nil {
			res := failure(config.ToolListDocuments, "Failed to list documents: "+err.Error())
			res.Err = fmt.Errorf("%w: %w", ErrToolExecution, err)
			return res, nil
		}
		if len(docs) == 0 {
			return ToolResult{
				Success:  true,
				Content:  "No documents are currently available. Upload documents to make them searchable.",
				Metadata: map[string]any{"documents_count": 0},
			}, nil
		}

		entries := make([]string, 0, len(docs))
		for _, d := range docs {
			contentType := d.ContentType
			if contentType == "" {
				contentType = "unknown type"
			}
			entries = append(entries, fmt.Sprintf("• **%s** (%s, %.1f KB)\n  Chunks: %d\n  Uploaded: %s\n  Document ID: %s",
				d.Filename, contentType, float64(d.Size)/1024, d.Chunks, d.UploadedAt.UTC().Format(time.RFC3339), d.ID))
		}
		return ToolResult{
			Success:  true,
			Content:  fmt.Sprintf("Available Documents (%d):\n\n", len(docs)) + strings.Join(entries, "\n\n"),
			Metadata: map[string]any{"documents_count": len(docs)},
		}, nil
	})
}
