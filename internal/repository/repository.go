// Package repository defines the canonical metadata models and data access
// interfaces for projects, datasets and crawled pages.
package repository

import (
	"context"
	"crypto/sha256"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// ErrNotFound is returned when a requested entity does not exist
var ErrNotFound = errors.New("not found")

// DefaultName is used when a project or dataset name is not provided.
const DefaultName = "default"

// Project groups the datasets that belong to one indexed corpus.
type Project struct {
	ID          uuid.UUID
	Name        string
	Description string
	IsActive    bool
	IsGlobal    bool
	CreatedAt   time.Time
}

// Dataset is one crawl target inside a project.
type Dataset struct {
	ID        uuid.UUID
	ProjectID uuid.UUID
	Name      string
	Status    string
	IsGlobal  bool
	CreatedAt time.Time
}

// PageUpsert carries one crawled page into the canonical store.
type PageUpsert struct {
	URL       string
	SourceURL string
	Title     string
	Markdown  string
	HTML      string
	WordCount int
	CharCount int
}

// ChunkUpsert carries one embedded chunk into the canonical store.
// SourcePath keys into the page id map returned by UpsertWebPages.
type ChunkUpsert struct {
	SourcePath string
	ChunkIndex int
	Text       string
	Summary    string
	Embedding  []float32
	Metadata   map[string]any
}

// PageIngestResult reports the canonical ids produced by UpsertWebPages.
type PageIngestResult struct {
	ProjectID uuid.UUID
	DatasetID uuid.UUID
	// PageIDs maps page URLs to their canonical ids.
	PageIDs map[string]uuid.UUID
}

// MetadataRepository defines operations for the canonical metadata store
type MetadataRepository interface {
	// EnsureProject returns the named project, creating it when missing.
	// An empty name falls back to DefaultName.
	EnsureProject(ctx context.Context, name string) (*Project, error)

	// EnsureDataset returns the named dataset under a project, creating it
	// when missing. An empty name falls back to DefaultName.
	EnsureDataset(ctx context.Context, projectID uuid.UUID, name string) (*Dataset, error)

	// UpsertWebPages ensures the project and dataset rows exist and writes
	// the crawled pages in one transaction. Pages without markdown are
	// skipped.
	UpsertWebPages(ctx context.Context, project, dataset string, pages []PageUpsert) (*PageIngestResult, error)

	// UpsertChunks writes embedded chunks tied to previously stored pages
	// and returns how many rows were written. Chunks without a vector or
	// without a known page are skipped.
	UpsertChunks(ctx context.Context, datasetID uuid.UUID, pageIDs map[string]uuid.UUID, chunks []ChunkUpsert) (int, error)
}

// ProjectID derives the deterministic id for a project name.
func ProjectID(name string) uuid.UUID {
	if name == "" {
		name = DefaultName
	}
	return uuid.NewSHA1(uuid.NameSpaceDNS, []byte(name))
}

// DatasetID derives the deterministic id for a dataset name.
func DatasetID(name string) uuid.UUID {
	if name == "" {
		name = DefaultName
	}
	return uuid.NewSHA1(uuid.NameSpaceDNS, []byte(name))
}

// PageID derives the canonical page id for a URL within a dataset.
func PageID(datasetID uuid.UUID, url string) uuid.UUID {
	return uuid.NewSHA1(uuid.NameSpaceURL, []byte(datasetID.String()+":"+url))
}

// ChunkID derives a stable chunk id from its page, position and content so
// re-crawled chunks overwrite their previous rows in every store.
func ChunkID(pageID uuid.UUID, chunkIndex int, text string) uuid.UUID {
	digest := sha256.Sum256([]byte(text))
	seed := fmt.Sprintf("%s:%d:%x", pageID, chunkIndex, digest)
	return uuid.NewSHA1(uuid.NameSpaceURL, []byte(seed))
}
