package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"go.uber.org/zap"

	"kgrag/backend/internal/app"
	"kgrag/backend/internal/state"
	"kgrag/backend/pkg/config"
	"kgrag/backend/pkg/logger"
)

type questionAnswerer interface {
	Invoke(ctx context.Context, question string, history []state.Turn) (string, error)
}

func main() {
	exitCode := 0
	defer func() {
		if exitCode != 0 {
			os.Exit(exitCode)
		}
	}()

	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	// Initialize logger
	if err := logger.Init(cfg.Env, cfg.LogLevel); err != nil {
		panic(fmt.Sprintf("Failed to initialize logger: %v", err))
	}
	defer logger.Sync()

	log := logger.Get()

	ctx := context.Background()
	application, err := app.New(ctx, cfg, "kgrag-chat")
	if err != nil {
		log.Fatal("Failed to initialize application", zap.Error(err))
	}
	defer application.Close(context.Background())

	res, err := application.Pipeline.Run(ctx, cfg.WikiTopic)
	if err != nil {
		log.Error("Ingestion failed", zap.Error(err))
		exitCode = 1
		return
	}
	log.Info("Ingestion done", zap.Bool("skipped", res.Skipped))

	fmt.Printf("Ask questions about %s. Type 'quit' to exit.\n", cfg.WikiTopic)
	runLoop(ctx, application.Chain, os.Stdin, os.Stdout)
}

// runLoop reads questions until EOF or a quit command. Failed questions are
// reported and left out of the history.
func runLoop(ctx context.Context, chain questionAnswerer, in io.Reader, out io.Writer) {
	var history []state.Turn
	scanner := bufio.NewScanner(in)

	for {
		fmt.Fprint(out, "Question: ")
		if !scanner.Scan() {
			fmt.Fprintln(out)
			return
		}

		question := strings.TrimSpace(scanner.Text())
		if question == "" {
			continue
		}
		switch strings.ToLower(question) {
		case "quit", "exit", "q":
			return
		}

		answer, err := chain.Invoke(ctx, question, history)
		if err != nil {
			fmt.Fprintf(out, "Error: %v\n", err)
			continue
		}

		fmt.Fprintf(out, "Answer: %s\n\n", answer)
		history = append(history, state.Turn{Question: question, Answer: answer})
	}
}
