package vectorstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"
)

const (
	// Schema holds every vector table managed by this store.
	Schema = "claude_context"

	tablePrefix = "chunks_"

	// pgUpsertBatchSize bounds the rows queued per pipelined batch.
	pgUpsertBatchSize = 100

	sourceTypeWeb = "web"
)

// chunkColumns is the projection shared by search and point lookups. The
// summary and routing fields live inside the metadata JSONB so a single
// unified table shape serves both code and prose chunks.
const chunkColumns = `id,
	COALESCE(content, '') AS content,
	COALESCE(metadata->>'summary', '') AS summary,
	COALESCE((metadata->>'is_code')::boolean, false) AS is_code,
	COALESCE(lang, '') AS lang,
	COALESCE(relative_path, '') AS relative_path,
	COALESCE((metadata->>'chunk_index')::int, 0) AS chunk_index,
	COALESCE(metadata->>'model_used', '') AS model_used,
	COALESCE(project_id::text, '') AS project_id,
	COALESCE(dataset_id::text, '') AS dataset_id,
	COALESCE(metadata->>'scope', '') AS scope`

// PgVectorStore persists chunk embeddings in Postgres using the pgvector
// extension. Tables are created per collection under a dedicated schema.
type PgVectorStore struct {
	pool *pgxpool.Pool
}

// NewPgVectorStore wraps an existing connection pool. The pool must have
// pgvector type support registered on its connections.
func NewPgVectorStore(pool *pgxpool.Pool) *PgVectorStore {
	return &PgVectorStore{pool: pool}
}

// tableIdent returns the fully qualified table identifier for a collection.
func tableIdent(collection string) string {
	return Schema + "." + tablePrefix + sanitizeIdent(collection)
}

// sanitizeIdent keeps identifiers safe to interpolate into DDL and queries.
// Table and index names cannot be bound as statement parameters.
func sanitizeIdent(name string) string {
	var b strings.Builder
	b.Grow(len(name))
	for _, r := range name {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '_':
			b.WriteRune(r)
		case r >= 'A' && r <= 'Z':
			b.WriteRune(r + ('a' - 'A'))
		default:
			b.WriteRune('_')
		}
	}
	return b.String()
}

// EnsureCollection creates the chunk table and its indexes if missing.
func (s *PgVectorStore) EnsureCollection(ctx context.Context, collection string, dimension int) error {
	if dimension <= 0 {
		dimension = DefaultDimension
	}
	ident := sanitizeIdent(collection)
	table := tableIdent(collection)

	if _, err := s.pool.Exec(ctx, "CREATE SCHEMA IF NOT EXISTS "+Schema); err != nil {
		return fmt.Errorf("failed to create schema: %w", err)
	}
	if _, err := s.pool.Exec(ctx, "CREATE EXTENSION IF NOT EXISTS vector"); err != nil {
		return fmt.Errorf("failed to enable pgvector extension: %w", err)
	}

	ddl := fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
		id TEXT PRIMARY KEY,
		vector vector(%d),
		content TEXT,
		relative_path TEXT,
		start_line INTEGER,
		end_line INTEGER,
		file_extension TEXT,
		project_id UUID,
		dataset_id UUID,
		source_type TEXT,
		repo TEXT,
		branch TEXT,
		sha TEXT,
		lang TEXT,
		symbol JSONB,
		metadata JSONB DEFAULT '{}'::jsonb,
		created_at TIMESTAMPTZ DEFAULT NOW()
	)`, table, dimension)
	if _, err := s.pool.Exec(ctx, ddl); err != nil {
		return fmt.Errorf("failed to create table %s: %w", table, err)
	}

	indexes := []string{
		fmt.Sprintf("CREATE INDEX IF NOT EXISTS %s_vector_idx ON %s USING ivfflat (vector vector_cosine_ops) WITH (lists = 100)", ident, table),
		fmt.Sprintf("CREATE INDEX IF NOT EXISTS %s_project_idx ON %s (project_id)", ident, table),
		fmt.Sprintf("CREATE INDEX IF NOT EXISTS %s_dataset_idx ON %s (dataset_id)", ident, table),
		fmt.Sprintf("CREATE INDEX IF NOT EXISTS %s_source_type_idx ON %s (source_type)", ident, table),
		fmt.Sprintf("CREATE INDEX IF NOT EXISTS %s_metadata_idx ON %s USING gin (metadata)", ident, table),
	}
	for _, stmt := range indexes {
		if _, err := s.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("failed to create index on %s: %w", table, err)
		}
	}
	return nil
}

// UpsertChunks writes chunks in batches of 100. Conflicting ids refresh the
// vector, content and metadata so re-crawls stay idempotent.
func (s *PgVectorStore) UpsertChunks(ctx context.Context, collection string, chunks []ChunkRecord) (int, error) {
	if len(chunks) == 0 {
		return 0, nil
	}
	table := tableIdent(collection)
	query := fmt.Sprintf(`INSERT INTO %s
		(id, vector, content, relative_path, start_line, end_line, project_id, dataset_id, source_type, lang, metadata)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (id) DO UPDATE SET
			vector = EXCLUDED.vector,
			content = EXCLUDED.content,
			metadata = EXCLUDED.metadata`, table)

	stored := 0
	for start := 0; start < len(chunks); start += pgUpsertBatchSize {
		end := start + pgUpsertBatchSize
		if end > len(chunks) {
			end = len(chunks)
		}

		batch := &pgx.Batch{}
		for _, rec := range chunks[start:end] {
			metadataJSON, err := json.Marshal(rec.mergedMetadata())
			if err != nil {
				return stored, fmt.Errorf("failed to marshal chunk metadata: %w", err)
			}
			batch.Queue(query,
				rec.ID,
				pgvector.NewVector(rec.Vector),
				rec.Text,
				rec.RelativePath,
				rec.StartChar,
				rec.EndChar,
				nullableID(rec.ProjectID),
				nullableID(rec.DatasetID),
				sourceTypeWeb,
				rec.Language,
				metadataJSON,
			)
		}
		if err := s.sendBatch(ctx, batch); err != nil {
			return stored, err
		}
		stored = end
	}
	return stored, nil
}

func (s *PgVectorStore) sendBatch(ctx context.Context, batch *pgx.Batch) error {
	results := s.pool.SendBatch(ctx, batch)
	defer results.Close()

	for i := 0; i < batch.Len(); i++ {
		if _, err := results.Exec(); err != nil {
			return fmt.Errorf("failed to upsert chunk batch: %w", err)
		}
	}
	return nil
}

// Search runs cosine similarity search over one collection.
func (s *PgVectorStore) Search(ctx context.Context, collection string, vector []float32, limit int, filters SearchFilters) ([]SearchResult, error) {
	if limit <= 0 {
		limit = 10
	}
	table := tableIdent(collection)

	query := fmt.Sprintf("SELECT %s,\n\t1 - (vector <=> $1::vector) AS similarity\n\tFROM %s", chunkColumns, table)
	args := []any{pgvector.NewVector(vector), limit}
	if filters.IsCode != nil {
		query += " WHERE COALESCE((metadata->>'is_code')::boolean, false) = $3"
		args = append(args, *filters.IsCode)
	}
	query += " ORDER BY vector <=> $1::vector LIMIT $2"

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to search %s: %w", table, err)
	}
	defer rows.Close()

	var results []SearchResult
	for rows.Next() {
		r, err := scanChunk(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan search result: %w", err)
		}
		results = append(results, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read search results: %w", err)
	}
	return results, nil
}

// GetChunk fetches a single chunk by id from one collection.
// Returns ErrNotFound when no row matches.
func (s *PgVectorStore) GetChunk(ctx context.Context, collection, id string) (*SearchResult, error) {
	table := tableIdent(collection)
	query := fmt.Sprintf("SELECT %s,\n\t0::float8 AS similarity\n\tFROM %s WHERE id = $1", chunkColumns, table)

	r, err := scanChunk(s.pool.QueryRow(ctx, query, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get chunk: %w", err)
	}
	return &r, nil
}

// CollectionStats aggregates chunk counts per scope for one collection.
func (s *PgVectorStore) CollectionStats(ctx context.Context, collection string) ([]ScopeStats, error) {
	table := tableIdent(collection)
	query := fmt.Sprintf(`SELECT
		COALESCE(metadata->>'scope', '') AS scope,
		COUNT(*) AS total,
		COUNT(*) FILTER (WHERE COALESCE((metadata->>'is_code')::boolean, false)) AS code
	FROM %s GROUP BY 1 ORDER BY 1`, table)

	rows, err := s.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to read stats for %s: %w", table, err)
	}
	defer rows.Close()

	var stats []ScopeStats
	for rows.Next() {
		var st ScopeStats
		var total, code int64
		if err := rows.Scan(&st.Scope, &total, &code); err != nil {
			return nil, fmt.Errorf("failed to scan collection stats: %w", err)
		}
		st.TotalChunks = int(total)
		st.CodeChunks = int(code)
		st.TextChunks = int(total - code)
		stats = append(stats, st)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read collection stats: %w", err)
	}
	return stats, nil
}

// ListCollections returns every collection that has a chunk table.
func (s *PgVectorStore) ListCollections(ctx context.Context) ([]string, error) {
	query := `SELECT table_name FROM information_schema.tables
		WHERE table_schema = $1 AND table_name LIKE 'chunks\_%'
		ORDER BY table_name`

	rows, err := s.pool.Query(ctx, query, Schema)
	if err != nil {
		return nil, fmt.Errorf("failed to list collections: %w", err)
	}
	defer rows.Close()

	var collections []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("failed to scan table name: %w", err)
		}
		collections = append(collections, strings.TrimPrefix(name, tablePrefix))
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read table names: %w", err)
	}
	return collections, nil
}

// mergedMetadata folds the routing fields into the free-form metadata map so
// one JSONB column round-trips everything search needs back out.
func (c ChunkRecord) mergedMetadata() map[string]any {
	meta := make(map[string]any, len(c.Metadata)+5)
	for k, v := range c.Metadata {
		meta[k] = v
	}
	meta["summary"] = c.Summary
	meta["is_code"] = c.IsCode
	meta["chunk_index"] = c.ChunkIndex
	meta["model_used"] = c.ModelUsed
	meta["scope"] = c.Scope
	return meta
}

// nullableID maps an empty id string to SQL NULL for UUID columns.
func nullableID(id string) any {
	if id == "" {
		return nil
	}
	return id
}

func scanChunk(row pgx.Row) (SearchResult, error) {
	var r SearchResult
	err := row.Scan(
		&r.ID,
		&r.Text,
		&r.Summary,
		&r.IsCode,
		&r.Language,
		&r.RelativePath,
		&r.ChunkIndex,
		&r.ModelUsed,
		&r.ProjectID,
		&r.DatasetID,
		&r.Scope,
		&r.Similarity,
	)
	return r, err
}

// Ensure PgVectorStore implements ChunkWriter
var _ ChunkWriter = (*PgVectorStore)(nil)
