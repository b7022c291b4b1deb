// Package embedder provides interfaces and implementations for text embedding.
package embedder

import "context"

// Embedder defines the interface for text embedding services.
type Embedder interface {
	// Embed generates an embedding vector for a single text input.
	Embed(ctx context.Context, text string) ([]float32, error)

	// EmbedBatch generates embedding vectors for multiple text inputs.
	// Returns a slice of embeddings in the same order as the input texts.
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)

	// Dimension returns the dimensionality of the embedding vectors.
	Dimension() int

	// ModelName returns the name of the embedding model being used.
	ModelName() string
}

// Model names served by the embedding backends. The text model handles
// prose and the code model handles source fragments. Both produce
// 768-dimensional vectors so either can fill the same vector column.
const (
	TextModel = "gte-base-en-v1.5"
	CodeModel = "coderank"
)

// ModelConfig holds configuration for a specific embedding model.
type ModelConfig struct {
	Dimension     int // Embedding dimension
	ContextLength int // Max tokens the model can process
}

// KnownModels maps embedding model names to their configurations.
var KnownModels = map[string]ModelConfig{
	TextModel: {
		Dimension:     768,
		ContextLength: 8192,
	},
	CodeModel: {
		Dimension:     768,
		ContextLength: 4096,
	},
}

// GetModelConfig returns the configuration for a model, or defaults if unknown.
func GetModelConfig(modelName string) ModelConfig {
	if cfg, ok := KnownModels[modelName]; ok {
		return cfg
	}
	// Conservative defaults for unknown models
	return ModelConfig{
		Dimension:     768,
		ContextLength: 2048,
	}
}
