package vectorindex

import (
	"context"
	"fmt"
	"strings"

	"document-portal/internal/apperr"
	"document-portal/internal/model"
)

// QueryEmbedder embeds a single query string.
type QueryEmbedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// Retriever is the read-only query side of a loaded index.
type Retriever struct {
	index    *Index
	embedder QueryEmbedder
}

func NewRetriever(index *Index, embedder QueryEmbedder) *Retriever {
	return &Retriever{index: index, embedder: embedder}
}

// Retrieve returns the min(k, chunk count) chunks most similar to query.
func (r *Retriever) Retrieve(ctx context.Context, query string, k int) ([]model.ScoredChunk, error) {
	const op = "retrieve"
	if k <= 0 {
		return nil, apperr.WithSession(apperr.Validation(op, fmt.Sprintf("k must be positive, got %d", k)), r.index.SessionID)
	}
	if strings.TrimSpace(query) == "" {
		return nil, apperr.WithSession(apperr.Validation(op, "query is empty"), r.index.SessionID)
	}
	vec, err := r.embedder.Embed(ctx, query)
	if err != nil {
		return nil, apperr.WithSession(err, r.index.SessionID)
	}
	if len(vec) != r.index.Dimension {
		return nil, apperr.IndexMismatch(op, r.index.SessionID, r.index.StoragePath,
			fmt.Errorf("query embedding has dimension %d, index has %d", len(vec), r.index.Dimension))
	}
	return r.index.SearchVector(vec, k), nil
}
