package backfill

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/poiesic/strata/core"
	"github.com/poiesic/strata/queue"
	"github.com/poiesic/strata/storage"
)

// Stage names understood by the precondition filter. They match the
// pipeline's queue names.
const (
	StageBronze = "bronze"
	StageSilver = "silver"
	StageGold   = "gold"
)

// Enqueuer queues one stage job for a document.
type Enqueuer interface {
	Enqueue(ctx context.Context, stage, documentID string) (*queue.Message, error)
}

// Config holds configuration for a backfill run.
type Config struct {
	// Stage is the queue to fill
	Stage string

	// CategoryID limits the run to one category when set
	CategoryID string

	// GoldStatus limits the run to documents in this aggregate state when set
	GoldStatus core.GoldStatus

	// BatchSize is the number of documents handled per batch
	BatchSize int

	// ReportInterval is how often to report progress (number of documents)
	ReportInterval int

	// MaxRetries is the maximum number of enqueue attempts per document
	MaxRetries int

	// RetryDelay is the base delay for exponential backoff
	RetryDelay time.Duration
}

// DefaultConfig returns a Config that refills the Gold queue.
func DefaultConfig() *Config {
	return &Config{
		Stage:          StageGold,
		BatchSize:      DefaultBatchSize,
		ReportInterval: 100,
		MaxRetries:     3,
		RetryDelay:     1 * time.Second,
	}
}

// Result counts what a run did.
type Result struct {
	Enqueued int
	Skipped  int // precondition not met
}

// Backfiller re-enqueues a stage across documents.
type Backfiller struct {
	docs     storage.DocumentRepository
	enqueuer Enqueuer
	config   *Config
	progress io.Writer
	logger   *slog.Logger
}

// NewBackfiller creates a new backfiller.
// progress: where to write progress output (typically os.Stderr)
func NewBackfiller(docs storage.DocumentRepository, enqueuer Enqueuer, config *Config, progress io.Writer) (*Backfiller, error) {
	if docs == nil {
		return nil, ErrRepositoryRequired
	}
	if enqueuer == nil {
		return nil, ErrEnqueuerRequired
	}
	if config == nil {
		config = DefaultConfig()
	}
	if !validStage(config.Stage) {
		return nil, fmt.Errorf("unknown stage %q", config.Stage)
	}
	if config.MaxRetries <= 0 {
		return nil, queue.ErrInvalidMaxAttempts
	}
	if progress == nil {
		progress = io.Discard
	}
	return &Backfiller{
		docs:     docs,
		enqueuer: enqueuer,
		config:   config,
		progress: progress,
		logger:   slog.Default().With("component", "backfill", "stage", config.Stage),
	}, nil
}

func validStage(stage string) bool {
	return stage == StageBronze || stage == StageSilver || stage == StageGold
}

// Eligible reports whether a document meets the precondition of stage.
// Bronze can always run again.
func Eligible(stage string, doc *core.Document) bool {
	switch stage {
	case StageSilver:
		return doc.Bronze.Status == core.StageCompleted
	case StageGold:
		return doc.Silver.Status == core.StageCompleted
	}
	return true
}

// Run enqueues the configured stage for every matching live document.
func (b *Backfiller) Run(ctx context.Context) (Result, error) {
	var res Result
	iterator := NewDocumentIterator(b.docs, storage.DocumentFilter{
		CategoryID: b.config.CategoryID,
		GoldStatus: b.config.GoldStatus,
	}, b.config.BatchSize)

	total, err := iterator.Count(ctx)
	if err != nil {
		return res, fmt.Errorf("failed to count documents: %w", err)
	}
	if total == 0 {
		fmt.Fprintf(b.progress, "No documents to backfill\n")
		return res, nil
	}
	fmt.Fprintf(b.progress, "Backfilling %s for %s documents (batch size: %d)\n",
		b.config.Stage, humanize.Comma(int64(total)), b.config.BatchSize)

	progress := NewProgress(b.progress, b.config.Stage, total, b.config.ReportInterval)
	progress.Begin()

	err = iterator.ForEach(ctx, func(docs []*core.Document) error {
		var enqueued, skipped int
		defer func() {
			res.Enqueued += enqueued
			res.Skipped += skipped
			progress.Add(enqueued, skipped)
		}()
		for _, doc := range docs {
			if !Eligible(b.config.Stage, doc) {
				b.logger.Debug("skipping document", "document", doc.ID)
				skipped++
				continue
			}
			err := queue.RetryWithBackoff(ctx, func() error {
				_, err := b.enqueuer.Enqueue(ctx, b.config.Stage, doc.ID)
				return err
			}, b.config.MaxRetries, b.config.RetryDelay)
			if err != nil {
				return fmt.Errorf("failed to enqueue %s: %w", doc.ID, err)
			}
			enqueued++
		}
		return nil
	})
	if err != nil {
		return res, err
	}
	progress.End()

	fmt.Fprintf(b.progress, "Backfill complete. Enqueued %s, skipped %s in %v\n",
		humanize.Comma(int64(res.Enqueued)), humanize.Comma(int64(res.Skipped)), progress.Elapsed().Round(time.Millisecond))
	return res, nil
}
