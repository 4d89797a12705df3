package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/joho/godotenv"

	apperrors "kgrag/backend/pkg/errors"
)

// Config holds all application configuration
type Config struct {
	// App
	Port     string
	Env      string
	LogLevel string

	// Neo4j
	Neo4jURI      string
	Neo4jUser     string
	Neo4jPassword string
	Neo4jDatabase string

	// Chat model (any OpenAI-compatible endpoint, e.g. Groq or LiteLLM)
	LLMBaseURL     string
	LLMAPIKey      string
	ModelID        string
	LLMTemperature float64

	// Embeddings (OpenAI-compatible /v1/embeddings)
	EmbeddingBaseURL    string
	EmbeddingAPIKey     string
	EmbeddingModel      string
	EmbeddingDimensions int

	// Source documents
	WikiTopic   string
	WikiLang    string
	WikiMaxDocs int

	// Pipeline tuning
	ChunkSize          int
	ChunkOverlap       int
	Encoding           string
	ExtractConcurrency int
	EmbedBatchSize     int
	RetrieverTopK      int

	// Discord
	DiscordBotToken string

	// Tracing
	OtelEnabled bool
}

// Load reads configuration from environment variables
func Load() (*Config, error) {
	// Try to load .env file, but don't fail if it doesn't exist
	_ = godotenv.Load()

	cfg := &Config{
		Port:                getEnv("PORT", "8080"),
		Env:                 getEnv("ENV", "development"),
		LogLevel:            getEnv("LOG_LEVEL", ""),
		Neo4jURI:            getEnv("NEO4J_URI", "bolt://localhost:7687"),
		Neo4jUser:           getEnv("NEO4J_USER", "neo4j"),
		Neo4jPassword:       getEnv("NEO4J_PASSWORD", ""),
		Neo4jDatabase:       getEnv("NEO4J_DATABASE", ""),
		LLMBaseURL:          getEnv("LLM_BASE_URL", "https://api.groq.com/openai"),
		LLMAPIKey:           getEnv("LLM_API_KEY", ""),
		ModelID:             getEnv("MODEL_ID", "llama-3.3-70b-versatile"),
		LLMTemperature:      getEnvFloat("LLM_TEMPERATURE", 0),
		EmbeddingBaseURL:    getEnv("EMBEDDING_BASE_URL", "http://localhost:8081"),
		EmbeddingAPIKey:     getEnv("EMBEDDING_API_KEY", ""),
		EmbeddingModel:      getEnv("EMBEDDING_MODEL", "sentence-transformers/all-MiniLM-L6-v2"),
		EmbeddingDimensions: getEnvInt("EMBEDDING_DIMENSIONS", 384),
		WikiTopic:           getEnv("WIKI_TOPIC", "Elizabeth I"),
		WikiLang:            getEnv("WIKI_LANG", "en"),
		WikiMaxDocs:         getEnvInt("WIKI_MAX_DOCS", 3),
		ChunkSize:           getEnvInt("CHUNK_SIZE", 512),
		ChunkOverlap:        getEnvInt("CHUNK_OVERLAP", 24),
		Encoding:            getEnv("TOKEN_ENCODING", "r50k_base"),
		ExtractConcurrency:  getEnvInt("EXTRACT_CONCURRENCY", 4),
		EmbedBatchSize:      getEnvInt("EMBED_BATCH_SIZE", 32),
		RetrieverTopK:       getEnvInt("RETRIEVER_TOP_K", 4),
		DiscordBotToken:     getEnv("DISCORD_BOT_TOKEN", ""),
		OtelEnabled:         getEnvBool("OTEL_ENABLED", false),
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return cfg, nil
}

// Validate checks that required configuration values are set
func (c *Config) Validate() error {
	if c.Neo4jURI == "" {
		return apperrors.NewConfigMissingRequired("NEO4J_URI")
	}
	if c.Neo4jUser == "" {
		return apperrors.NewConfigMissingRequired("NEO4J_USER")
	}
	if c.Neo4jPassword == "" {
		return apperrors.NewConfigMissingRequired("NEO4J_PASSWORD")
	}
	if c.LLMBaseURL == "" {
		return apperrors.NewConfigMissingRequired("LLM_BASE_URL")
	}
	if c.LLMAPIKey == "" {
		return apperrors.NewConfigMissingRequired("LLM_API_KEY")
	}
	if c.ModelID == "" {
		return apperrors.NewConfigMissingRequired("MODEL_ID")
	}
	if c.EmbeddingDimensions <= 0 {
		return apperrors.NewConfigValidationFailed("EMBEDDING_DIMENSIONS", "must be positive")
	}
	if c.ChunkSize <= 0 {
		return apperrors.NewConfigValidationFailed("CHUNK_SIZE", "must be positive")
	}
	if c.ChunkOverlap < 0 || c.ChunkOverlap >= c.ChunkSize {
		return apperrors.NewConfigValidationFailed("CHUNK_OVERLAP", "must be in [0, CHUNK_SIZE)")
	}
	if c.RetrieverTopK <= 0 {
		return apperrors.NewConfigValidationFailed("RETRIEVER_TOP_K", "must be positive")
	}
	if c.WikiMaxDocs <= 0 {
		return apperrors.NewConfigValidationFailed("WIKI_MAX_DOCS", "must be positive")
	}
	return nil
}

// IsDevelopment returns true if running in development mode
func (c *Config) IsDevelopment() bool {
	return c.Env == "development"
}

// IsProduction returns true if running in production mode
func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		var result float64
		if _, err := fmt.Sscanf(value, "%f", &result); err == nil {
			return result
		}
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		var result int
		if _, err := fmt.Sscanf(value, "%d", &result); err == nil {
			return result
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	switch strings.ToLower(strings.TrimSpace(os.Getenv(key))) {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	}
	return defaultValue
}
