package app

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"kgrag/backend/internal/adapter"
	"kgrag/backend/internal/chain"
	"kgrag/backend/internal/extract"
	"kgrag/backend/internal/graph"
	"kgrag/backend/internal/ingest"
	"kgrag/backend/internal/loader"
	"kgrag/backend/internal/retriever"
	"kgrag/backend/internal/session"
	"kgrag/backend/pkg/config"
	"kgrag/backend/pkg/logger"
	"kgrag/backend/pkg/tracing"
)

// App holds the wired components shared by every entry point.
type App struct {
	Config   *config.Config
	Repo     *graph.Repository
	LLM      *adapter.LLMAdapter
	Chain    *chain.Chain
	Pipeline *ingest.Pipeline
	Sessions *session.Store

	shutdownTracing func(context.Context) error
	logger          *zap.Logger
}

// New connects to Neo4j and builds the ingestion pipeline and the question
// answering chain from cfg.
func New(ctx context.Context, cfg *config.Config, serviceName string) (*App, error) {
	log := logger.Get()
	shutdown := tracing.Init(ctx, serviceName, cfg.OtelEnabled, log)

	driver, err := graph.Connect(ctx, cfg.Neo4jURI, cfg.Neo4jUser, cfg.Neo4jPassword)
	if err != nil {
		_ = shutdown(ctx)
		return nil, err
	}
	repo := graph.NewRepository(driver, cfg.Neo4jDatabase)

	llm := adapter.NewLLMAdapter(cfg.LLMBaseURL, cfg.LLMAPIKey, cfg.ModelID,
		adapter.WithTemperature(cfg.LLMTemperature))
	embedder := adapter.NewEmbeddingAdapter(cfg.EmbeddingBaseURL, cfg.EmbeddingAPIKey, cfg.EmbeddingModel)

	tokenizer, err := loader.NewTiktokenTokenizer(cfg.Encoding)
	if err != nil {
		_ = repo.Close()
		_ = shutdown(ctx)
		return nil, fmt.Errorf("failed to load tokenizer: %w", err)
	}
	splitter, err := loader.NewTokenSplitter(tokenizer, cfg.ChunkSize, cfg.ChunkOverlap)
	if err != nil {
		_ = repo.Close()
		_ = shutdown(ctx)
		return nil, err
	}

	pipeline := ingest.NewPipeline(
		loader.NewWikipediaLoader(cfg.WikiLang, cfg.WikiMaxDocs),
		splitter,
		extract.NewGraphExtractor(llm, extract.WithConcurrency(cfg.ExtractConcurrency)),
		repo,
		embedder,
		ingest.Config{
			Dimensions:     cfg.EmbeddingDimensions,
			EmbedBatchSize: cfg.EmbedBatchSize,
		},
	)

	ret := retriever.New(
		retriever.NewEntityChain(llm),
		repo,
		retriever.NewHybridIndex(embedder, repo),
		retriever.WithTopK(cfg.RetrieverTopK),
	)

	log.Info("Components initialized",
		zap.String("model", cfg.ModelID),
		zap.String("embedding_model", cfg.EmbeddingModel),
		zap.Int("top_k", cfg.RetrieverTopK),
	)

	return &App{
		Config:          cfg,
		Repo:            repo,
		LLM:             llm,
		Chain:           chain.New(llm, ret),
		Pipeline:        pipeline,
		Sessions:        session.NewStore(),
		shutdownTracing: shutdown,
		logger:          log,
	}, nil
}

// Close releases the Neo4j driver and flushes pending spans.
func (a *App) Close(ctx context.Context) {
	if err := a.Repo.Close(); err != nil {
		a.logger.Warn("Failed to close Neo4j driver", zap.Error(err))
	}
	if err := a.shutdownTracing(ctx); err != nil {
		a.logger.Warn("Failed to flush traces", zap.Error(err))
	}
}
