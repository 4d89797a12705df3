package ingest

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"kgrag/backend/internal/graph"
	"kgrag/backend/internal/state"
	apperrors "kgrag/backend/pkg/errors"
	"kgrag/backend/pkg/logger"
	"kgrag/backend/pkg/tracing"
)

// DefaultEmbedBatchSize is the number of chunks embedded per request.
const DefaultEmbedBatchSize = 32

// ErrNoDocuments is returned when the loader finds nothing for the topic.
var ErrNoDocuments = errors.New("no documents loaded")

type Loader interface {
	Load(ctx context.Context, query string) ([]state.Document, error)
}

type Splitter interface {
	SplitDocuments(docs []state.Document) ([]state.Document, error)
}

type Extractor interface {
	Convert(ctx context.Context, chunks []state.Document) ([]state.GraphDocument, error)
}

// Store is the part of the graph repository the pipeline writes to.
type Store interface {
	IsEmpty(ctx context.Context) (bool, error)
	EnsureSchema(ctx context.Context, dimensions int) error
	AddGraphDocuments(ctx context.Context, docs []state.GraphDocument) error
	DocumentsWithoutEmbedding(ctx context.Context, limit int) ([]state.Document, error)
	SetDocumentEmbeddings(ctx context.Context, embeddings map[string][]float32) error
}

type Embedder interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
}

// Result summarizes one pipeline run.
type Result struct {
	Skipped       bool          `json:"skipped"`
	Documents     int           `json:"documents"`
	Chunks        int           `json:"chunks"`
	Nodes         int           `json:"nodes"`
	Relationships int           `json:"relationships"`
	Embedded      int           `json:"embedded"`
	Duration      time.Duration `json:"duration"`
}

// Pipeline populates the graph and the vector index from an encyclopedia topic.
type Pipeline struct {
	loader     Loader
	splitter   Splitter
	extractor  Extractor
	store      Store
	embedder   Embedder
	dimensions int
	batchSize  int
	logger     *zap.Logger
}

// Config holds the pipeline's tunables.
type Config struct {
	Dimensions     int
	EmbedBatchSize int
}

func NewPipeline(loader Loader, splitter Splitter, extractor Extractor, store Store, embedder Embedder, cfg Config) *Pipeline {
	if cfg.EmbedBatchSize <= 0 {
		cfg.EmbedBatchSize = DefaultEmbedBatchSize
	}
	return &Pipeline{
		loader:     loader,
		splitter:   splitter,
		extractor:  extractor,
		store:      store,
		embedder:   embedder,
		dimensions: cfg.Dimensions,
		batchSize:  cfg.EmbedBatchSize,
		logger:     logger.Named("ingest"),
	}
}

// Run ingests topic unless the graph already holds data, in which case it
// returns a skipped result without loading or extracting anything. Indexes and
// missing chunk embeddings are ensured either way.
func (p *Pipeline) Run(ctx context.Context, topic string) (res Result, err error) {
	ctx, span := tracing.Start(ctx, "ingest.Run", attribute.String("topic", topic))
	defer func() { tracing.End(span, err) }()

	start := time.Now()
	defer func() { res.Duration = time.Since(start) }()

	empty, err := p.store.IsEmpty(ctx)
	if err != nil {
		return res, apperrors.NewIngestStageFailed("check graph", err)
	}
	if !empty {
		p.logger.Info("Graph already populated, skipping ingestion")
		res.Skipped = true
		return p.finishExisting(ctx, res)
	}

	p.logger.Info("Loading documents", zap.String("topic", topic))
	docs, err := p.loader.Load(ctx, topic)
	if err != nil {
		return res, apperrors.NewIngestStageFailed("load", err)
	}
	if len(docs) == 0 {
		return res, apperrors.NewIngestStageFailed("load", ErrNoDocuments)
	}
	res.Documents = len(docs)

	chunks, err := p.splitter.SplitDocuments(docs)
	if err != nil {
		return res, apperrors.NewIngestStageFailed("split", err)
	}
	res.Chunks = len(chunks)
	p.logger.Info("Documents split", zap.Int("documents", len(docs)), zap.Int("chunks", len(chunks)))

	graphDocs, err := p.extractor.Convert(ctx, chunks)
	if err != nil {
		return res, apperrors.NewIngestStageFailed("extract", err)
	}
	for _, gd := range graphDocs {
		res.Nodes += len(gd.Nodes)
		res.Relationships += len(gd.Relationships)
	}

	if err := p.store.EnsureSchema(ctx, p.dimensions); err != nil {
		return res, apperrors.NewIngestStageFailed("schema", err)
	}
	if err := p.store.AddGraphDocuments(ctx, graphDocs); err != nil {
		return res, apperrors.NewIngestStageFailed("insert", err)
	}

	embedded, err := p.embedMissing(ctx)
	res.Embedded = embedded
	if err != nil {
		return res, apperrors.NewIngestStageFailed("embed", err)
	}

	p.logger.Info("Ingestion finished",
		zap.Int("documents", res.Documents),
		zap.Int("chunks", res.Chunks),
		zap.Int("nodes", res.Nodes),
		zap.Int("relationships", res.Relationships),
		zap.Int("embedded", res.Embedded),
	)
	return res, nil
}

// finishExisting brings an already populated graph up to date: indexes are
// created if missing and chunks left without a vector are embedded.
func (p *Pipeline) finishExisting(ctx context.Context, res Result) (Result, error) {
	if err := p.store.EnsureSchema(ctx, p.dimensions); err != nil {
		return res, apperrors.NewIngestStageFailed("schema", err)
	}
	embedded, err := p.embedMissing(ctx)
	res.Embedded = embedded
	if err != nil {
		return res, apperrors.NewIngestStageFailed("embed", err)
	}
	if embedded > 0 {
		p.logger.Info("Embedded stored chunks", zap.Int("embedded", embedded))
	}
	return res, nil
}

// embedMissing embeds stored chunks that have no vector yet, one batch at a
// time, until none are left.
func (p *Pipeline) embedMissing(ctx context.Context) (int, error) {
	total := 0
	done := make(map[string]bool)
	for {
		batch, err := p.store.DocumentsWithoutEmbedding(ctx, p.batchSize)
		if err != nil {
			return total, err
		}
		if len(batch) == 0 {
			return total, nil
		}

		texts := make([]string, len(batch))
		for i, doc := range batch {
			texts[i] = doc.Text
		}
		vectors, err := p.embedder.Embed(ctx, texts)
		if err != nil {
			return total, err
		}
		if len(vectors) != len(batch) {
			return total, fmt.Errorf("expected %d embeddings, got %d", len(batch), len(vectors))
		}

		embeddings := make(map[string][]float32, len(batch))
		for i, doc := range batch {
			id := graph.DocumentID(doc)
			if done[id] {
				return total, fmt.Errorf("document %s still has no embedding after being embedded", id)
			}
			done[id] = true
			embeddings[id] = vectors[i]
		}
		if err := p.store.SetDocumentEmbeddings(ctx, embeddings); err != nil {
			return total, err
		}
		total += len(batch)
		p.logger.Debug("Embedded batch", zap.Int("batch", len(batch)), zap.Int("total", total))
	}
}
