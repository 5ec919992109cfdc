package storage

import (
	"context"

	"github.com/poiesic/strata/core"
)

// DocumentFilter narrows ListDocuments. Zero values match everything.
type DocumentFilter struct {
	CategoryID     string
	GoldStatus     core.GoldStatus
	IncludeDeleted bool
	Limit          int
}

// DocumentRepository provides operations for managing documents.
type DocumentRepository interface {
	// CreateDocument stores a new document.
	// Returns ErrDuplicateKey if a document with the same ID exists.
	CreateDocument(ctx context.Context, doc *core.Document) error

	// GetDocument retrieves a document by ID, including soft-deleted ones.
	// Returns an error wrapping core.ErrNotFound if it doesn't exist.
	GetDocument(ctx context.Context, id string) (*core.Document, error)

	// UpdateDocument replaces an existing document and bumps UpdatedAt.
	// Returns an error wrapping core.ErrNotFound if it doesn't exist.
	UpdateDocument(ctx context.Context, doc *core.Document) error

	// ListDocuments returns documents matching filter, oldest first.
	ListDocuments(ctx context.Context, filter DocumentFilter) ([]*core.Document, error)
}

// CategoryRepository provides operations for managing document categories.
type CategoryRepository interface {
	// UpsertCategory creates or replaces a category.
	UpsertCategory(ctx context.Context, cat *core.DocumentCategory) error

	// GetCategory retrieves a category by ID.
	// Returns an error wrapping core.ErrNotFound if it doesn't exist.
	GetCategory(ctx context.Context, id string) (*core.DocumentCategory, error)

	// ListCategories returns every category ordered by name.
	ListCategories(ctx context.Context) ([]*core.DocumentCategory, error)
}

// ChunkRepository provides operations for Silver chunks and their Gold
// distribution records.
type ChunkRepository interface {
	// ReplaceChunks atomically deletes every chunk and distribution record of
	// doc, inserts the given ones and stores doc. On error nothing changes.
	ReplaceChunks(ctx context.Context, doc *core.Document, chunks []*core.SilverChunk, dists []*core.GoldDistribution) error

	// GetChunks returns a document's chunks ordered by chunk index.
	GetChunks(ctx context.Context, documentID string) ([]*core.SilverChunk, error)

	// GetChunk retrieves a single chunk by ID.
	// Returns an error wrapping core.ErrNotFound if it doesn't exist.
	GetChunk(ctx context.Context, id string) (*core.SilverChunk, error)

	// GetDistributions returns a document's distribution records ordered by chunk index.
	GetDistributions(ctx context.Context, documentID string) ([]*core.GoldDistribution, error)

	// UpdateDistribution replaces a single distribution record.
	UpdateDistribution(ctx context.Context, dist *core.GoldDistribution) error
}

// Repository combines every repository backed by one storage engine.
type Repository interface {
	DocumentRepository
	CategoryRepository
	ChunkRepository

	// Close closes the storage backend and releases resources.
	Close() error
}
