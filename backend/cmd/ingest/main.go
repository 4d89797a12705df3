package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"kgrag/backend/internal/app"
	"kgrag/backend/pkg/config"
	"kgrag/backend/pkg/logger"
)

func main() {
	topic := flag.String("topic", "", "Encyclopedia search query (defaults to WIKI_TOPIC)")
	schemaOnly := flag.Bool("schema-only", false, "Only create constraints and indexes")
	flag.Parse()

	exitCode := 0
	defer func() {
		if exitCode != 0 {
			os.Exit(exitCode)
		}
	}()

	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		panic(fmt.Sprintf("Failed to load configuration: %v", err))
	}

	// Initialize logger
	if err := logger.Init(cfg.Env, cfg.LogLevel); err != nil {
		panic(fmt.Sprintf("Failed to initialize logger: %v", err))
	}
	defer logger.Sync()

	log := logger.Get()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	application, err := app.New(ctx, cfg, "kgrag-ingest")
	if err != nil {
		log.Fatal("Failed to initialize application", zap.Error(err))
	}
	defer application.Close(context.Background())

	if *schemaOnly {
		if err := application.Repo.EnsureSchema(ctx, cfg.EmbeddingDimensions); err != nil {
			log.Fatal("Schema setup failed", zap.Error(err))
		}
		log.Info("Schema ready")
		return
	}

	query := *topic
	if query == "" {
		query = cfg.WikiTopic
	}

	log.Info("Starting ingestion", zap.String("topic", query))
	res, err := application.Pipeline.Run(ctx, query)
	if err != nil {
		log.Error("Ingestion failed", zap.Error(err))
		exitCode = 1
		return
	}
	if res.Skipped {
		log.Info("Graph already populated. Nothing to do.")
		return
	}

	log.Info("Ingestion completed successfully!",
		zap.Int("documents", res.Documents),
		zap.Int("chunks", res.Chunks),
		zap.Int("nodes", res.Nodes),
		zap.Int("relationships", res.Relationships),
		zap.Int("embedded", res.Embedded),
		zap.Duration("duration", res.Duration),
	)
}
