package badger

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/poiesic/strata/core"
	"github.com/poiesic/strata/storage"
	"github.com/timshannon/badgerhold/v4"
)

// Repository implements storage.Repository on a badgerhold store.
type Repository struct {
	backend *Backend
}

var _ storage.Repository = (*Repository)(nil)

// NewRepository creates a Repository over an open backend. Closing the
// repository does not close the backend.
func NewRepository(backend *Backend) (*Repository, error) {
	if backend == nil {
		return nil, errors.New("backend cannot be nil")
	}
	return &Repository{backend: backend}, nil
}

// Close implements storage.Repository. The backend is owned by the caller.
func (r *Repository) Close() error {
	return nil
}

func (r *Repository) check(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if r.backend.IsClosed() {
		return storage.ErrStorageClosed
	}
	return nil
}

func notFound(kind, id string) error {
	return fmt.Errorf("%w: %s %s", core.ErrNotFound, kind, id)
}

// CreateDocument implements storage.DocumentRepository.
func (r *Repository) CreateDocument(ctx context.Context, doc *core.Document) error {
	if err := r.check(ctx); err != nil {
		return err
	}
	if err := core.ValidateDocument(doc); err != nil {
		return fmt.Errorf("%w: %w", storage.ErrInvalidRecord, err)
	}
	now := time.Now().UTC()
	if doc.CreatedAt.IsZero() {
		doc.CreatedAt = now
	}
	doc.UpdatedAt = now
	if err := r.backend.store.Insert(doc.ID, doc); err != nil {
		if errors.Is(err, badgerhold.ErrKeyExists) {
			return fmt.Errorf("%w: document %s", storage.ErrDuplicateKey, doc.ID)
		}
		return fmt.Errorf("insert document: %w", err)
	}
	return nil
}

// GetDocument implements storage.DocumentRepository.
func (r *Repository) GetDocument(ctx context.Context, id string) (*core.Document, error) {
	if err := r.check(ctx); err != nil {
		return nil, err
	}
	var doc core.Document
	if err := r.backend.store.Get(id, &doc); err != nil {
		if errors.Is(err, badgerhold.ErrNotFound) {
			return nil, notFound("document", id)
		}
		return nil, fmt.Errorf("get document: %w", err)
	}
	return &doc, nil
}

// UpdateDocument implements storage.DocumentRepository.
func (r *Repository) UpdateDocument(ctx context.Context, doc *core.Document) error {
	if err := r.check(ctx); err != nil {
		return err
	}
	doc.UpdatedAt = time.Now().UTC()
	if err := r.backend.store.Update(doc.ID, doc); err != nil {
		if errors.Is(err, badgerhold.ErrNotFound) {
			return notFound("document", doc.ID)
		}
		return fmt.Errorf("update document: %w", err)
	}
	return nil
}

// ListDocuments implements storage.DocumentRepository.
func (r *Repository) ListDocuments(ctx context.Context, filter storage.DocumentFilter) ([]*core.Document, error) {
	if err := r.check(ctx); err != nil {
		return nil, err
	}
	var query *badgerhold.Query
	if filter.CategoryID != "" {
		query = badgerhold.Where("CategoryID").Eq(filter.CategoryID).Index("CategoryID")
	}
	if filter.GoldStatus != "" {
		if query == nil {
			query = badgerhold.Where("GoldStatus").Eq(filter.GoldStatus)
		} else {
			query = query.And("GoldStatus").Eq(filter.GoldStatus)
		}
	}
	if query == nil {
		query = badgerhold.Where("ID").Ne("")
	}
	query = query.SortBy("CreatedAt")

	var docs []core.Document
	if err := r.backend.store.Find(&docs, query); err != nil {
		return nil, fmt.Errorf("list documents: %w", err)
	}
	out := make([]*core.Document, 0, len(docs))
	for i := range docs {
		if docs[i].Deleted() && !filter.IncludeDeleted {
			continue
		}
		out = append(out, &docs[i])
		if filter.Limit > 0 && len(out) == filter.Limit {
			break
		}
	}
	return out, nil
}

// UpsertCategory implements storage.CategoryRepository.
func (r *Repository) UpsertCategory(ctx context.Context, cat *core.DocumentCategory) error {
	if err := r.check(ctx); err != nil {
		return err
	}
	if err := core.ValidateCategory(cat); err != nil {
		return fmt.Errorf("%w: %w", storage.ErrInvalidRecord, err)
	}
	now := time.Now().UTC()
	if cat.CreatedAt.IsZero() {
		cat.CreatedAt = now
	}
	cat.UpdatedAt = now
	if err := r.backend.store.Upsert(cat.ID, cat); err != nil {
		return fmt.Errorf("upsert category: %w", err)
	}
	return nil
}

// GetCategory implements storage.CategoryRepository.
func (r *Repository) GetCategory(ctx context.Context, id string) (*core.DocumentCategory, error) {
	if err := r.check(ctx); err != nil {
		return nil, err
	}
	var cat core.DocumentCategory
	if err := r.backend.store.Get(id, &cat); err != nil {
		if errors.Is(err, badgerhold.ErrNotFound) {
			return nil, notFound("category", id)
		}
		return nil, fmt.Errorf("get category: %w", err)
	}
	return &cat, nil
}

// ListCategories implements storage.CategoryRepository.
func (r *Repository) ListCategories(ctx context.Context) ([]*core.DocumentCategory, error) {
	if err := r.check(ctx); err != nil {
		return nil, err
	}
	var cats []core.DocumentCategory
	if err := r.backend.store.Find(&cats, nil); err != nil {
		return nil, fmt.Errorf("list categories: %w", err)
	}
	out := make([]*core.DocumentCategory, len(cats))
	for i := range cats {
		out[i] = &cats[i]
	}
	slices.SortFunc(out, func(a, b *core.DocumentCategory) int {
		return strings.Compare(a.Name, b.Name)
	})
	return out, nil
}
