package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "kgrag/backend/pkg/errors"
)

func setRequired(t *testing.T) {
	t.Setenv("NEO4J_PASSWORD", "secret")
	t.Setenv("LLM_API_KEY", "gsk_test")
}

func TestLoad_Defaults(t *testing.T) {
	setRequired(t)

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "8080", cfg.Port)
	assert.Equal(t, "bolt://localhost:7687", cfg.Neo4jURI)
	assert.Equal(t, "llama-3.3-70b-versatile", cfg.ModelID)
	assert.Equal(t, "Elizabeth I", cfg.WikiTopic)
	assert.Equal(t, 3, cfg.WikiMaxDocs)
	assert.Equal(t, 512, cfg.ChunkSize)
	assert.Equal(t, 24, cfg.ChunkOverlap)
	assert.Equal(t, 4, cfg.RetrieverTopK)
	assert.Equal(t, 384, cfg.EmbeddingDimensions)
	assert.False(t, cfg.OtelEnabled)
	assert.True(t, cfg.IsDevelopment())
}

func TestLoad_Overrides(t *testing.T) {
	setRequired(t)
	t.Setenv("RETRIEVER_TOP_K", "6")
	t.Setenv("LLM_TEMPERATURE", "0.3")
	t.Setenv("OTEL_ENABLED", "yes")
	t.Setenv("ENV", "production")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 6, cfg.RetrieverTopK)
	assert.InDelta(t, 0.3, cfg.LLMTemperature, 1e-9)
	assert.True(t, cfg.OtelEnabled)
	assert.True(t, cfg.IsProduction())
}

func TestLoad_MissingAPIKey(t *testing.T) {
	t.Setenv("NEO4J_PASSWORD", "secret")
	t.Setenv("LLM_API_KEY", "")

	_, err := Load()
	require.Error(t, err)
	assert.True(t, apperrors.IsErrorType(err, apperrors.ErrorTypeConfig))
	assert.Contains(t, err.Error(), "LLM_API_KEY")
}

func TestValidate_ChunkOverlap(t *testing.T) {
	setRequired(t)
	t.Setenv("CHUNK_SIZE", "100")
	t.Setenv("CHUNK_OVERLAP", "100")

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "CHUNK_OVERLAP")
}
