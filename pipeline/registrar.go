package pipeline

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"path"
	"strings"
	"time"

	"github.com/poiesic/strata/blob"
	"github.com/poiesic/strata/core"
	"github.com/poiesic/strata/extract"
	"github.com/poiesic/strata/queue"
	"github.com/poiesic/strata/storage"
)

// Upload is a document submitted for ingestion.
type Upload struct {
	Name       string
	MimeType   string // detected from Name and content when empty
	CategoryID string
	Data       []byte
}

// Registrar stores uploaded bytes, creates the document record and starts
// Bronze.
type Registrar struct {
	repo       storage.Repository
	blobs      blob.Store
	bronze     queue.Queue
	bronzeOpts queue.Options
	now        func() time.Time
	logger     *slog.Logger
}

// Register confirms an upload. The returned document is PENDING in every
// stage and a Bronze job is queued for it.
func (r *Registrar) Register(ctx context.Context, up Upload) (*core.Document, error) {
	if len(up.Data) == 0 {
		return nil, ErrEmptyUpload
	}
	if up.CategoryID != "" {
		if _, err := r.repo.GetCategory(ctx, up.CategoryID); err != nil {
			return nil, err
		}
	}

	mimeType := up.MimeType
	if mimeType == "" {
		mimeType = extract.DetectMime(up.Name, up.Data)
	}
	mimeType = extract.NormalizeMime(mimeType)

	id := core.NewDocumentID()
	key := storageKey(id, up.Name)
	if err := r.blobs.Put(ctx, key, bytes.NewReader(up.Data), int64(len(up.Data)), mimeType); err != nil {
		return nil, fmt.Errorf("store upload: %w", err)
	}

	now := r.now()
	doc := &core.Document{
		ID:         id,
		Name:       up.Name,
		MimeType:   mimeType,
		StorageKey: key,
		SizeBytes:  int64(len(up.Data)),
		CategoryID: up.CategoryID,
		Bronze:     core.StageState{Status: core.StagePending},
		Silver:     core.StageState{Status: core.StagePending},
		GoldStatus: core.GoldPending,
		CreatedAt:  now,
	}
	if err := r.repo.CreateDocument(ctx, doc); err != nil {
		if derr := r.blobs.Delete(ctx, key); derr != nil {
			r.logger.Warn("failed to remove orphaned upload", "key", key, "err", derr)
		}
		return nil, err
	}

	if _, err := r.bronze.Enqueue(ctx, queue.Job{DocumentID: id}, r.bronzeOpts); err != nil {
		return doc, fmt.Errorf("enqueue bronze: %w", err)
	}
	r.logger.Info("document registered", "document", id, "name", up.Name, "mime", mimeType, "bytes", len(up.Data))
	return doc, nil
}

// storageKey builds a blob key that keeps the original file name readable.
func storageKey(id, name string) string {
	base := path.Base(strings.ReplaceAll(name, "\\", "/"))
	if base == "." || base == "/" || base == "" {
		base = "upload"
	}
	return "documents/" + id + "/" + base
}
