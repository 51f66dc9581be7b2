// Package embedding generates vector embeddings for generated instances so
// the marketplace can search datasets semantically. Supports a local Ollama
// server and Google GenAI.
package embedding

import (
	"context"
	"fmt"

	"expertmine/internal/logging"
)

// Engine generates vector embeddings for text.
type Engine interface {
	// Embed generates an embedding for a single text.
	Embed(ctx context.Context, text string) ([]float32, error)

	// EmbedBatch generates embeddings for multiple texts.
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)

	// Dimensions returns the dimensionality of embeddings.
	Dimensions() int

	// Name returns the engine name.
	Name() string
}

// Config holds embedding engine configuration.
type Config struct {
	// Provider: "ollama" or "genai"
	Provider string `json:"provider" yaml:"provider"`

	OllamaEndpoint string `json:"ollama_endpoint" yaml:"ollama_endpoint"` // Default: "http://localhost:11434"
	OllamaModel    string `json:"ollama_model" yaml:"ollama_model"`       // Default: "embeddinggemma"

	GenAIAPIKey string `json:"genai_api_key" yaml:"genai_api_key"`
	GenAIModel  string `json:"genai_model" yaml:"genai_model"` // Default: "gemini-embedding-001"

	// TaskType for GenAI: "SEMANTIC_SIMILARITY", "RETRIEVAL_QUERY", "RETRIEVAL_DOCUMENT"
	TaskType string `json:"task_type" yaml:"task_type"`
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		Provider:       "ollama",
		OllamaEndpoint: "http://localhost:11434",
		OllamaModel:    "embeddinggemma",
		GenAIModel:     "gemini-embedding-001",
		TaskType:       "RETRIEVAL_DOCUMENT",
	}
}

// NewEngine creates an embedding engine based on configuration.
func NewEngine(cfg Config) (Engine, error) {
	logging.Embedding("Creating embedding engine with provider=%s", cfg.Provider)

	var engine Engine
	var err error

	switch cfg.Provider {
	case "ollama", "":
		engine, err = NewOllamaEngine(cfg.OllamaEndpoint, cfg.OllamaModel)
	case "genai":
		engine, err = NewGenAIEngine(cfg.GenAIAPIKey, cfg.GenAIModel, cfg.TaskType)
	default:
		return nil, fmt.Errorf("unsupported embedding provider: %s (use 'ollama' or 'genai')", cfg.Provider)
	}

	if err != nil {
		logging.Get(logging.CategoryEmbedding).Error("Failed to create embedding engine: %v", err)
		return nil, err
	}

	logging.Embedding("Embedding engine ready: name=%s, dimensions=%d", engine.Name(), engine.Dimensions())
	return engine, nil
}
