package adapter

import (
	"context"
	"fmt"
	"strings"

	"github.com/sashabaranov/go-openai"
	"go.uber.org/zap"

	apperrors "kgrag/backend/pkg/errors"
	"kgrag/backend/pkg/logger"
)

// EmbeddingAdapter calls an OpenAI-compatible /v1/embeddings endpoint, such as a
// text-embeddings-inference server hosting all-MiniLM-L6-v2.
type EmbeddingAdapter struct {
	client *openai.Client
	model  string
	logger *zap.Logger
}

// NewEmbeddingAdapter creates an embedding client. baseURL is the server root.
func NewEmbeddingAdapter(baseURL, apiKey, model string) *EmbeddingAdapter {
	if apiKey == "" {
		apiKey = "dummy-key"
	}
	config := openai.DefaultConfig(apiKey)
	config.BaseURL = strings.TrimRight(baseURL, "/") + "/v1"

	return &EmbeddingAdapter{
		client: openai.NewClientWithConfig(config),
		model:  model,
		logger: logger.Named("embedding"),
	}
}

// Embed returns one vector per input text, in input order.
func (e *EmbeddingAdapter) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	resp, err := e.client.CreateEmbeddings(ctx, openai.EmbeddingRequest{
		Input: texts,
		Model: openai.EmbeddingModel(e.model),
	})
	if err != nil {
		return nil, apperrors.NewLLMRequestFailed(e.model, 1, isTransient(err), err)
	}
	if len(resp.Data) != len(texts) {
		return nil, apperrors.NewLLMRequestFailed(e.model, 1, false,
			fmt.Errorf("expected %d embeddings, got %d", len(texts), len(resp.Data)))
	}

	vectors := make([][]float32, len(texts))
	for _, d := range resp.Data {
		if d.Index < 0 || d.Index >= len(vectors) {
			return nil, apperrors.NewLLMRequestFailed(e.model, 1, false,
				fmt.Errorf("embedding index %d out of range", d.Index))
		}
		vectors[d.Index] = d.Embedding
	}

	e.logger.Debug("Embedded texts", zap.Int("count", len(texts)))
	return vectors, nil
}

// EmbedQuery embeds a single search query.
func (e *EmbeddingAdapter) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	vectors, err := e.Embed(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vectors[0], nil
}
