package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/knoguchi/webindex/internal/embedder"
	"github.com/knoguchi/webindex/internal/scope"
	"github.com/knoguchi/webindex/internal/vectorstore"
)

// DefaultSearchLimit caps result counts when a request does not set one.
const DefaultSearchLimit = 10

// ErrEmptyQuery rejects search requests without a query.
var ErrEmptyQuery = errors.New("query is required")

// SearchRequest is a chunk similarity query.
type SearchRequest struct {
	Query      string `json:"query"`
	Project    string `json:"project,omitempty"`
	Dataset    string `json:"dataset,omitempty"`
	Scope      string `json:"scope,omitempty"`
	FilterCode *bool  `json:"filter_code,omitempty"`
	FilterText *bool  `json:"filter_text,omitempty"`
	Limit      int    `json:"limit"`
}

// ChunkResult is one retrieved chunk.
type ChunkResult struct {
	ID              string  `json:"id"`
	ChunkText       string  `json:"chunk_text"`
	Summary         string  `json:"summary"`
	IsCode          bool    `json:"is_code"`
	Language        string  `json:"language"`
	RelativePath    string  `json:"relative_path"`
	ChunkIndex      int     `json:"chunk_index"`
	SimilarityScore float64 `json:"similarity_score"`
	ModelUsed       string  `json:"model_used"`
	ProjectID       string  `json:"project_id"`
	DatasetID       string  `json:"dataset_id"`
	Scope           string  `json:"scope"`
}

// SearchResponse carries ranked results for one query.
type SearchResponse struct {
	Query   string        `json:"query"`
	Results []ChunkResult `json:"results"`
	Total   int           `json:"total"`
}

// ScopeInfo summarizes one collection's contents.
type ScopeInfo struct {
	Scope          string `json:"scope"`
	CollectionName string `json:"collection_name"`
	ChunkCount     int    `json:"chunk_count"`
	CodeChunks     int    `json:"code_chunks"`
	TextChunks     int    `json:"text_chunks"`
}

// ChunkStore is the query-side contract of the relational vector store.
type ChunkStore interface {
	Search(ctx context.Context, collection string, vector []float32, limit int, filters vectorstore.SearchFilters) ([]vectorstore.SearchResult, error)
	GetChunk(ctx context.Context, collection, id string) (*vectorstore.SearchResult, error)
	CollectionStats(ctx context.Context, collection string) ([]vectorstore.ScopeStats, error)
	ListCollections(ctx context.Context) ([]string, error)
}

// SearchConfig wires a SearchService.
type SearchConfig struct {
	// Embedder embeds queries. Always the text model; code chunks are
	// found through their summaries and the is_code filter.
	Embedder embedder.Embedder

	Store ChunkStore

	// DefaultScope applies when a request names no scope.
	DefaultScope string

	// Logger defaults to slog.Default().
	Logger *slog.Logger
}

// SearchService answers retrieval queries against the relational vector
// store.
type SearchService struct {
	embedder     embedder.Embedder
	store        ChunkStore
	defaultScope string
	logger       *slog.Logger
}

// NewSearchService creates the query-side service.
func NewSearchService(cfg SearchConfig) *SearchService {
	defaultScope := cfg.DefaultScope
	if defaultScope == "" {
		defaultScope = string(scope.LevelLocal)
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &SearchService{
		embedder:     cfg.Embedder,
		store:        cfg.Store,
		defaultScope: defaultScope,
		logger:       logger,
	}
}

// SearchChunks embeds the query and runs a cosine similarity search in
// the collection the request's scope resolves to.
func (s *SearchService) SearchChunks(ctx context.Context, req SearchRequest) (*SearchResponse, error) {
	if req.Query == "" {
		return nil, ErrEmptyQuery
	}

	limit := req.Limit
	if limit <= 0 {
		limit = DefaultSearchLimit
	}

	requested := req.Scope
	if requested == "" {
		requested = s.defaultScope
	}
	level := scope.Resolve(req.Project, req.Dataset, requested)
	collection, err := scope.CollectionName(req.Project, req.Dataset, level)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve collection: %w", err)
	}

	isCode, contradictory := resolveCodeFilter(req.FilterCode, req.FilterText)
	if contradictory {
		return &SearchResponse{Query: req.Query, Results: []ChunkResult{}}, nil
	}

	vector, err := s.embedder.Embed(ctx, req.Query)
	if err != nil {
		return nil, fmt.Errorf("failed to embed query: %w", err)
	}

	results, err := s.store.Search(ctx, collection, vector, limit, vectorstore.SearchFilters{IsCode: isCode})
	if err != nil {
		return nil, fmt.Errorf("failed to search chunks: %w", err)
	}

	out := make([]ChunkResult, len(results))
	for i, result := range results {
		out[i] = chunkResult(result)
	}

	return &SearchResponse{Query: req.Query, Results: out, Total: len(out)}, nil
}

// GetChunk looks a chunk up by id across every collection.
func (s *SearchService) GetChunk(ctx context.Context, id string) (*ChunkResult, error) {
	collections, err := s.store.ListCollections(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list collections: %w", err)
	}

	for _, collection := range collections {
		chunk, err := s.store.GetChunk(ctx, collection, id)
		if errors.Is(err, vectorstore.ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("failed to get chunk: %w", err)
		}

		result := chunkResult(*chunk)
		return &result, nil
	}

	return nil, vectorstore.ErrNotFound
}

// ListScopes reports chunk statistics per collection and scope,
// optionally narrowed to one project's collections.
func (s *SearchService) ListScopes(ctx context.Context, project string) ([]ScopeInfo, error) {
	collections, err := s.store.ListCollections(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list collections: %w", err)
	}

	prefix := ""
	if project != "" {
		if name, err := scope.CollectionName(project, "", scope.LevelProject); err == nil {
			prefix = name
		}
	}

	infos := make([]ScopeInfo, 0, len(collections))
	for _, collection := range collections {
		if prefix != "" && !strings.HasPrefix(collection, prefix) {
			continue
		}

		stats, err := s.store.CollectionStats(ctx, collection)
		if err != nil {
			s.logger.Warn("failed to read collection stats",
				"collection", collection,
				"error", err)
			continue
		}

		for _, st := range stats {
			infos = append(infos, ScopeInfo{
				Scope:          st.Scope,
				CollectionName: collection,
				ChunkCount:     st.TotalChunks,
				CodeChunks:     st.CodeChunks,
				TextChunks:     st.TextChunks,
			})
		}
	}

	return infos, nil
}

// resolveCodeFilter folds the two request filters into one is_code
// predicate: filter_code selects code chunks directly, filter_text
// inverts. Requesting code-only and text-only at once matches nothing.
func resolveCodeFilter(filterCode, filterText *bool) (isCode *bool, contradictory bool) {
	var want *bool
	if filterCode != nil {
		v := *filterCode
		want = &v
	}
	if filterText != nil {
		v := !*filterText
		if want != nil && *want != v {
			return nil, true
		}
		want = &v
	}
	return want, false
}

// chunkResult converts a store row to the API shape.
func chunkResult(r vectorstore.SearchResult) ChunkResult {
	return ChunkResult{
		ID:              r.ID,
		ChunkText:       r.Text,
		Summary:         r.Summary,
		IsCode:          r.IsCode,
		Language:        r.Language,
		RelativePath:    r.RelativePath,
		ChunkIndex:      r.ChunkIndex,
		SimilarityScore: r.Similarity,
		ModelUsed:       r.ModelUsed,
		ProjectID:       r.ProjectID,
		DatasetID:       r.DatasetID,
		Scope:           r.Scope,
	}
}
