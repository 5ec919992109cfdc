package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/poiesic/strata/blob"
	"github.com/poiesic/strata/core"
	"github.com/poiesic/strata/extract"
	"github.com/poiesic/strata/queue"
	"github.com/poiesic/strata/storage"
)

// Bronze extracts text and metadata from stored document bytes.
type Bronze struct {
	docs       storage.DocumentRepository
	blobs      blob.Store
	extractors *extract.Registry
	silver     queue.Queue
	silverOpts queue.Options
	fallback   queue.Queue
	legacyOpts queue.Options
	now        func() time.Time
	logger     *slog.Logger
}

// ProcessDocument runs Bronze for one document and enqueues Silver.
//
// It fails with core.ErrNotFound when the document is missing,
// core.ErrUnsupported when no extractor handles its mime type and
// core.ErrExtractionFailed when the extractor cannot read it.
func (b *Bronze) ProcessDocument(ctx context.Context, id string) error {
	logger := b.logger.With("document", id)

	doc, err := loadDocument(ctx, b.docs, id)
	if err != nil {
		return err
	}

	doc.Bronze.Status = core.StageProcessing
	doc.Bronze.Attempts++
	doc.Bronze.StartedAt = b.now()
	doc.Bronze.Error = ""
	if err := b.docs.UpdateDocument(ctx, doc); err != nil {
		return fmt.Errorf("mark bronze processing: %w", err)
	}

	data, err := b.blobs.Get(ctx, doc.StorageKey)
	if err != nil {
		return b.fail(ctx, doc, fmt.Errorf("read blob %s: %w", doc.StorageKey, err))
	}

	res, meta, err := b.extractors.Extract(ctx, doc.MimeType, data)
	if err != nil {
		return b.fail(ctx, doc, err)
	}
	if strings.TrimSpace(res.Text) == "" {
		return b.fail(ctx, doc, fmt.Errorf("%w: %w", core.ErrExtractionFailed, ErrNoText))
	}

	doc.ExtractedText = res.Text
	doc.Metadata = meta
	doc.Bronze.Status = core.StageCompleted
	doc.Bronze.FinishedAt = b.now()
	doc.Silver = core.StageState{Status: core.StagePending}
	if err := b.docs.UpdateDocument(ctx, doc); err != nil {
		return fmt.Errorf("mark bronze completed: %w", err)
	}
	logger.Info("bronze completed", "extractor", meta.Extractor, "chars", len(res.Text), "title", meta.Title)

	job := queue.Job{DocumentID: doc.ID}
	if _, err := b.silver.Enqueue(ctx, job, b.silverOpts); err != nil {
		logger.Warn("silver enqueue failed, falling back to embedding queue", "err", err)
		if _, ferr := b.fallback.Enqueue(ctx, job, b.legacyOpts); ferr != nil {
			return fmt.Errorf("enqueue silver: %w; enqueue embedding: %w", err, ferr)
		}
	}
	return nil
}

// fail records cause on the document's Bronze state and returns it.
func (b *Bronze) fail(ctx context.Context, doc *core.Document, cause error) error {
	doc.Bronze.Status = core.StageFailed
	doc.Bronze.Error = cause.Error()
	doc.Bronze.FinishedAt = b.now()
	if err := b.docs.UpdateDocument(ctx, doc); err != nil {
		b.logger.Error("failed to record bronze failure", "document", doc.ID, "err", err)
	}
	return cause
}
