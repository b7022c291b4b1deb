// Package vectorstore provides the vector storage backends for indexed chunks.
package vectorstore

import (
	"context"
	"errors"
)

// ErrNotFound is returned when a chunk lookup matches nothing.
var ErrNotFound = errors.New("chunk not found")

// DefaultDimension matches the embedding models served by the backend.
const DefaultDimension = 768

// SparseVector represents a sparse vector with indices and values
type SparseVector struct {
	Indices []uint32
	Values  []float32
}

// ChunkRecord is a fully enriched chunk ready for vector storage.
type ChunkRecord struct {
	ID           string
	Text         string
	Summary      string
	Vector       []float32     // Dense vector from embedding model
	SparseVector *SparseVector // Optional sparse vector for keyword search
	IsCode       bool
	Language     string
	RelativePath string
	ChunkIndex   int
	StartChar    int
	EndChar      int
	ModelUsed    string
	ProjectID    string
	DatasetID    string
	Scope        string
	Metadata     map[string]any
}

// SearchResult represents a chunk returned from similarity search
type SearchResult struct {
	ID           string
	Text         string
	Summary      string
	IsCode       bool
	Language     string
	RelativePath string
	ChunkIndex   int
	ModelUsed    string
	ProjectID    string
	DatasetID    string
	Scope        string
	Similarity   float64
}

// SearchFilters narrows a similarity search to a chunk kind.
type SearchFilters struct {
	// IsCode keeps only code chunks when true, only prose when false.
	// Nil matches both.
	IsCode *bool
}

// ScopeStats aggregates chunk counts for one scope within a collection.
type ScopeStats struct {
	Scope       string
	TotalChunks int
	CodeChunks  int
	TextChunks  int
}

// ChunkWriter is the write-side contract every vector backend satisfies.
// Both stores receive the same chunk records so an indexing run stays
// consistent across them even when one backend fails.
type ChunkWriter interface {
	// EnsureCollection creates the collection if it does not already exist.
	EnsureCollection(ctx context.Context, collection string, dimension int) error

	// UpsertChunks writes chunks in batches and returns how many were stored.
	UpsertChunks(ctx context.Context, collection string, chunks []ChunkRecord) (int, error)
}
