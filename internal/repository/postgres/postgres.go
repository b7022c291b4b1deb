// Package postgres implements the canonical metadata store on PostgreSQL.
package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

// DB wraps a PostgreSQL connection pool
type DB struct {
	Pool *pgxpool.Pool
}

// New creates a new PostgreSQL connection pool
func New(ctx context.Context, databaseURL string) (*DB, error) {
	config, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse database URL: %w", err)
	}

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	// Verify connection
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &DB{Pool: pool}, nil
}

// Close closes the connection pool
func (db *DB) Close() {
	db.Pool.Close()
}

// Migrate provisions the canonical metadata schema. Every statement is
// idempotent so it runs unconditionally on startup.
func (db *DB) Migrate(ctx context.Context) error {
	const ddl = `
CREATE EXTENSION IF NOT EXISTS vector;

CREATE SCHEMA IF NOT EXISTS claude_context;

CREATE TABLE IF NOT EXISTS claude_context.projects (
  id          UUID PRIMARY KEY,
  name        TEXT NOT NULL UNIQUE,
  description TEXT NOT NULL DEFAULT '',
  is_active   BOOLEAN NOT NULL DEFAULT TRUE,
  is_global   BOOLEAN NOT NULL DEFAULT FALSE,
  created_at  TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE TABLE IF NOT EXISTS claude_context.datasets (
  id         UUID PRIMARY KEY,
  project_id UUID NOT NULL,
  name       TEXT NOT NULL,
  status     TEXT NOT NULL DEFAULT 'active',
  is_global  BOOLEAN NOT NULL DEFAULT FALSE,
  created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
  UNIQUE (project_id, name)
);

CREATE TABLE IF NOT EXISTS claude_context.web_pages (
  id         UUID PRIMARY KEY,
  dataset_id UUID NOT NULL,
  url        TEXT NOT NULL,
  title      TEXT NOT NULL DEFAULT '',
  content    TEXT NOT NULL DEFAULT '',
  status     TEXT NOT NULL DEFAULT 'crawled',
  metadata   JSONB NOT NULL DEFAULT '{}'::jsonb,
  crawled_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
  updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
  UNIQUE (dataset_id, url)
);

CREATE TABLE IF NOT EXISTS claude_context.chunks (
  id          UUID PRIMARY KEY,
  dataset_id  UUID NOT NULL,
  web_page_id UUID NOT NULL,
  source_type TEXT NOT NULL DEFAULT 'web',
  chunk_index INTEGER NOT NULL DEFAULT 0,
  text        TEXT NOT NULL DEFAULT '',
  summary     TEXT NOT NULL DEFAULT '',
  embedding   vector(768),
  metadata    JSONB NOT NULL DEFAULT '{}'::jsonb,
  created_at  TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE INDEX IF NOT EXISTS web_pages_dataset_idx ON claude_context.web_pages (dataset_id);
CREATE INDEX IF NOT EXISTS chunks_dataset_idx ON claude_context.chunks (dataset_id);
CREATE INDEX IF NOT EXISTS chunks_web_page_idx ON claude_context.chunks (web_page_id);
`
	if _, err := db.Pool.Exec(ctx, ddl); err != nil {
		return fmt.Errorf("failed to migrate metadata schema: %w", err)
	}
	return nil
}
