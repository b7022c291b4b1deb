package postgres

import (
	"context"
	"crypto/sha256"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/url"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/pgvector/pgvector-go"

	"github.com/knoguchi/webindex/internal/repository"
)

const projectByNameQuery = `SELECT id, name, description, is_active, is_global, created_at
	FROM claude_context.projects WHERE name = $1`

const datasetByNameQuery = `SELECT id, project_id, name, status, is_global, created_at
	FROM claude_context.datasets WHERE project_id = $1 AND name = $2`

const chunkUpsertQuery = `INSERT INTO claude_context.chunks
		(id, dataset_id, web_page_id, source_type, chunk_index, text, summary, embedding, metadata)
	VALUES ($1, $2, $3, 'web', $4, $5, $6, $7, $8)
	ON CONFLICT (id) DO UPDATE SET
		text = EXCLUDED.text,
		summary = EXCLUDED.summary,
		embedding = EXCLUDED.embedding,
		metadata = EXCLUDED.metadata`

// queryRunner is satisfied by both the pool and a transaction.
type queryRunner interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// MetadataRepo persists crawl artifacts into the canonical metadata tables.
type MetadataRepo struct {
	db     *DB
	logger *slog.Logger
}

// NewMetadataRepo creates a metadata repository backed by PostgreSQL.
func NewMetadataRepo(db *DB, logger *slog.Logger) *MetadataRepo {
	if logger == nil {
		logger = slog.Default()
	}
	return &MetadataRepo{db: db, logger: logger}
}

// EnsureProject returns the named project, creating it when missing.
func (r *MetadataRepo) EnsureProject(ctx context.Context, name string) (*repository.Project, error) {
	return ensureProject(ctx, r.db.Pool, name)
}

// EnsureDataset returns the named dataset under a project, creating it when
// missing.
func (r *MetadataRepo) EnsureDataset(ctx context.Context, projectID uuid.UUID, name string) (*repository.Dataset, error) {
	return ensureDataset(ctx, r.db.Pool, projectID, name)
}

// UpsertWebPages ensures the project and dataset rows exist and upserts the
// crawled pages in a single transaction. Pages without markdown are skipped.
func (r *MetadataRepo) UpsertWebPages(ctx context.Context, project, dataset string, pages []repository.PageUpsert) (*repository.PageIngestResult, error) {
	tx, err := r.db.Pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	proj, err := ensureProject(ctx, tx, project)
	if err != nil {
		return nil, err
	}
	ds, err := ensureDataset(ctx, tx, proj.ID, dataset)
	if err != nil {
		return nil, err
	}

	pageIDs := make(map[string]uuid.UUID, len(pages))
	for _, page := range pages {
		if page.Markdown == "" {
			continue
		}
		id, err := upsertWebPage(ctx, tx, ds.ID, page)
		if err != nil {
			return nil, err
		}
		pageIDs[page.URL] = id
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("failed to commit transaction: %w", err)
	}

	return &repository.PageIngestResult{
		ProjectID: proj.ID,
		DatasetID: ds.ID,
		PageIDs:   pageIDs,
	}, nil
}

// UpsertChunks writes embedded chunks tied to previously stored pages.
// Entries without a vector or without a matching page id are skipped.
func (r *MetadataRepo) UpsertChunks(ctx context.Context, datasetID uuid.UUID, pageIDs map[string]uuid.UUID, chunks []repository.ChunkUpsert) (int, error) {
	batch := &pgx.Batch{}
	for i, chunk := range chunks {
		if len(chunk.Embedding) == 0 {
			continue
		}
		pageID, ok := pageIDs[chunk.SourcePath]
		if !ok {
			r.logger.Warn("skipping chunk without a canonical page",
				"index", i,
				"source_path", chunk.SourcePath)
			continue
		}

		meta := chunk.Metadata
		if meta == nil {
			meta = map[string]any{}
		}
		metadataJSON, err := json.Marshal(meta)
		if err != nil {
			return 0, fmt.Errorf("failed to marshal chunk metadata: %w", err)
		}

		batch.Queue(chunkUpsertQuery,
			repository.ChunkID(pageID, chunk.ChunkIndex, chunk.Text),
			datasetID,
			pageID,
			chunk.ChunkIndex,
			chunk.Text,
			chunk.Summary,
			pgvector.NewVector(chunk.Embedding),
			metadataJSON,
		)
	}
	if batch.Len() == 0 {
		return 0, nil
	}

	results := r.db.Pool.SendBatch(ctx, batch)
	defer results.Close()

	for i := 0; i < batch.Len(); i++ {
		if _, err := results.Exec(); err != nil {
			return 0, fmt.Errorf("failed to upsert chunks: %w", err)
		}
	}
	return batch.Len(), nil
}

func ensureProject(ctx context.Context, q queryRunner, name string) (*repository.Project, error) {
	if name == "" {
		name = repository.DefaultName
	}

	p, err := scanProject(q.QueryRow(ctx, projectByNameQuery, name))
	if err == nil {
		return p, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("failed to query project: %w", err)
	}

	_, err = q.Exec(ctx, `INSERT INTO claude_context.projects (id, name, description, is_active, is_global)
		VALUES ($1, $2, '', true, false)
		ON CONFLICT (name) DO NOTHING`,
		repository.ProjectID(name), name)
	if err != nil {
		return nil, fmt.Errorf("failed to insert project %q: %w", name, err)
	}

	// Re-read so a concurrent insert still yields the winning row.
	p, err = scanProject(q.QueryRow(ctx, projectByNameQuery, name))
	if err != nil {
		return nil, fmt.Errorf("failed to upsert project %q: %w", name, err)
	}
	return p, nil
}

func ensureDataset(ctx context.Context, q queryRunner, projectID uuid.UUID, name string) (*repository.Dataset, error) {
	if name == "" {
		name = repository.DefaultName
	}

	ds, err := scanDataset(q.QueryRow(ctx, datasetByNameQuery, projectID, name))
	if err == nil {
		return ds, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("failed to query dataset: %w", err)
	}

	_, err = q.Exec(ctx, `INSERT INTO claude_context.datasets (id, project_id, name, status, is_global)
		VALUES ($1, $2, $3, 'active', false)
		ON CONFLICT (project_id, name) DO NOTHING`,
		repository.DatasetID(name), projectID, name)
	if err != nil {
		return nil, fmt.Errorf("failed to insert dataset %q: %w", name, err)
	}

	ds, err = scanDataset(q.QueryRow(ctx, datasetByNameQuery, projectID, name))
	if err != nil {
		return nil, fmt.Errorf("failed to upsert dataset %q: %w", name, err)
	}
	return ds, nil
}

func upsertWebPage(ctx context.Context, q queryRunner, datasetID uuid.UUID, page repository.PageUpsert) (uuid.UUID, error) {
	metadataJSON, err := json.Marshal(pageMetadata(page))
	if err != nil {
		return uuid.Nil, fmt.Errorf("failed to marshal page metadata: %w", err)
	}

	id := repository.PageID(datasetID, page.URL)
	_, err = q.Exec(ctx, `INSERT INTO claude_context.web_pages
			(id, dataset_id, url, title, content, status, metadata, crawled_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, 'indexed', $6, NOW(), NOW())
		ON CONFLICT (dataset_id, url) DO UPDATE SET
			title = EXCLUDED.title,
			content = EXCLUDED.content,
			status = 'indexed',
			metadata = EXCLUDED.metadata,
			updated_at = NOW()`,
		id, datasetID, page.URL, page.Title, page.Markdown, metadataJSON)
	if err != nil {
		return uuid.Nil, fmt.Errorf("failed to upsert web page %s: %w", page.URL, err)
	}
	return id, nil
}

// pageMetadata builds the metadata document stored alongside a page row.
func pageMetadata(page repository.PageUpsert) map[string]any {
	meta := map[string]any{
		"source_url": page.SourceURL,
		"word_count": page.WordCount,
		"char_count": page.CharCount,
	}
	if u, err := url.Parse(page.URL); err == nil {
		meta["domain"] = u.Host
	}
	if page.Markdown != "" {
		meta["content_hash"] = fmt.Sprintf("%x", sha256.Sum256([]byte(page.Markdown)))
	}
	if page.HTML != "" {
		meta["html_content"] = page.HTML
	}
	return meta
}

func scanProject(row pgx.Row) (*repository.Project, error) {
	var p repository.Project
	err := row.Scan(&p.ID, &p.Name, &p.Description, &p.IsActive, &p.IsGlobal, &p.CreatedAt)
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func scanDataset(row pgx.Row) (*repository.Dataset, error) {
	var ds repository.Dataset
	err := row.Scan(&ds.ID, &ds.ProjectID, &ds.Name, &ds.Status, &ds.IsGlobal, &ds.CreatedAt)
	if err != nil {
		return nil, err
	}
	return &ds, nil
}

// Ensure MetadataRepo implements the repository interface
var _ repository.MetadataRepository = (*MetadataRepo)(nil)
