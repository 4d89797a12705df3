package retriever

import (
	"context"

	"kgrag/backend/internal/state"
)

// Embedder turns a query into a vector.
type Embedder interface {
	EmbedQuery(ctx context.Context, text string) ([]float32, error)
}

// HybridSearcher runs combined vector and keyword search.
type HybridSearcher interface {
	HybridSearch(ctx context.Context, text string, embedding []float32, k int) ([]state.Chunk, error)
}

// HybridIndex is a VectorIndex backed by the graph's vector and full-text indexes.
type HybridIndex struct {
	embedder Embedder
	searcher HybridSearcher
}

func NewHybridIndex(embedder Embedder, searcher HybridSearcher) *HybridIndex {
	return &HybridIndex{embedder: embedder, searcher: searcher}
}

func (h *HybridIndex) SimilaritySearch(ctx context.Context, query string, k int) ([]state.Chunk, error) {
	vector, err := h.embedder.EmbedQuery(ctx, query)
	if err != nil {
		return nil, err
	}
	return h.searcher.HybridSearch(ctx, query, vector, k)
}
