package service

import (
	"context"
	"fmt"

	"biochat/internal/domain"
)

// Retriever answers similarity queries against the vector index.
type Retriever struct {
	embedder domain.Embedder
	store    domain.VectorStore
}

func NewRetriever(embedder domain.Embedder, store domain.VectorStore) *Retriever {
	return &Retriever{embedder: embedder, store: store}
}

// Retrieve returns the topK chunks closest to query. A query that embeds to the
// zero vector has no direction and yields no results.
func (r *Retriever) Retrieve(ctx context.Context, query string, topK int) ([]domain.SearchResult, error) {
	vec, err := r.embedder.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}
	// Detect zero vector (no tokens)
	zero := true
	for _, v := range vec {
		if v != 0 {
			zero = false
			break
		}
	}
	if zero {
		return nil, nil
	}
	res, err := r.store.Search(ctx, vec, topK)
	if err != nil {
		return nil, fmt.Errorf("search index: %w", err)
	}
	return res, nil
}
