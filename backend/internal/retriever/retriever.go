package retriever

import (
	"context"
	"strings"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"kgrag/backend/internal/state"
	"kgrag/backend/pkg/logger"
	"kgrag/backend/pkg/tracing"
)

// DefaultTopK is the number of chunks returned by unstructured retrieval.
const DefaultTopK = 4

// GraphStore looks up relationship facts around a named entity.
type GraphStore interface {
	EntityRelationships(ctx context.Context, name string, limit int) ([]string, error)
}

// VectorIndex returns the chunks most similar to a query.
type VectorIndex interface {
	SimilaritySearch(ctx context.Context, query string, k int) ([]state.Chunk, error)
}

// Retriever merges graph facts and similar chunks into one context block.
type Retriever struct {
	entities *EntityChain
	graph    GraphStore
	index    VectorIndex
	topK     int
	relLimit int
	logger   *zap.Logger
}

type Option func(*Retriever)

// WithTopK sets how many chunks unstructured retrieval returns.
func WithTopK(k int) Option {
	return func(r *Retriever) {
		if k > 0 {
			r.topK = k
		}
	}
}

// WithRelationshipLimit caps the facts fetched per entity.
func WithRelationshipLimit(n int) Option {
	return func(r *Retriever) {
		if n > 0 {
			r.relLimit = n
		}
	}
}

func New(entities *EntityChain, graph GraphStore, index VectorIndex, opts ...Option) *Retriever {
	r := &Retriever{
		entities: entities,
		graph:    graph,
		index:    index,
		topK:     DefaultTopK,
		logger:   logger.Named("retriever"),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Structured returns the relationship facts of every entity named in the
// question, one per line. It never fails: extraction or lookup errors only
// mean fewer lines, possibly none.
func (r *Retriever) Structured(ctx context.Context, question string) string {
	names, err := r.entities.Extract(ctx, question)
	if err != nil {
		r.logger.Warn("Entity extraction failed", zap.Error(err))
		return ""
	}
	r.logger.Info("Extracted entities", zap.Strings("names", names))

	var lines []string
	for _, name := range names {
		rels, err := r.graph.EntityRelationships(ctx, name, r.relLimit)
		if err != nil {
			r.logger.Warn("Relationship lookup failed", zap.String("entity", name), zap.Error(err))
			continue
		}
		if len(rels) == 0 {
			r.logger.Debug("No relationships found", zap.String("entity", name))
			continue
		}
		lines = append(lines, rels...)
	}
	return strings.TrimSpace(strings.Join(lines, "\n"))
}

// Unstructured returns the text of the TopK chunks most similar to question.
func (r *Retriever) Unstructured(ctx context.Context, question string) ([]string, error) {
	chunks, err := r.index.SimilaritySearch(ctx, question, r.topK)
	if err != nil {
		return nil, err
	}
	if len(chunks) > r.topK {
		chunks = chunks[:r.topK]
	}

	texts := make([]string, len(chunks))
	for i, c := range chunks {
		texts[i] = c.Text
	}
	return texts, nil
}

// Retrieve builds the full context for question.
func (r *Retriever) Retrieve(ctx context.Context, question string) (_ string, err error) {
	ctx, span := tracing.Start(ctx, "retriever.Retrieve", attribute.Int("top_k", r.topK))
	defer func() { tracing.End(span, err) }()

	r.logger.Info("Search query", zap.String("question", question))

	structured := r.Structured(ctx, question)
	unstructured, err := r.Unstructured(ctx, question)
	if err != nil {
		return "", err
	}

	span.SetAttributes(
		attribute.Int("structured_lines", countLines(structured)),
		attribute.Int("chunks", len(unstructured)),
	)
	return FormatContext(structured, unstructured), nil
}

// FormatContext lays out both retrieval results the way the answer prompt
// expects them.
func FormatContext(structured string, chunks []string) string {
	return "Structured data:\n" + structured + "\nUnstructured data:\n" + strings.Join(chunks, "#Document ")
}

func countLines(s string) int {
	if s == "" {
		return 0
	}
	return strings.Count(s, "\n") + 1
}
