package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"time"

	"github.com/poiesic/strata/annotate"
	"github.com/poiesic/strata/chunking"
	"github.com/poiesic/strata/core"
	"github.com/poiesic/strata/queue"
	"github.com/poiesic/strata/storage"
)

// Silver chunks extracted text, annotates every chunk and commits the chunks
// with their distribution records in one transaction.
type Silver struct {
	repo      storage.Repository
	chunkOpts []chunking.Option
	gold      queue.Queue
	goldOpts  queue.Options
	purge     func(ctx context.Context, documentID string)
	now       func() time.Time
	logger    *slog.Logger
}

// ProcessDocument runs Silver for one document and enqueues Gold.
//
// It fails with core.ErrNotFound when the document is missing and
// core.ErrPreconditionFailed when Bronze has not completed or left no text.
func (s *Silver) ProcessDocument(ctx context.Context, id string) error {
	doc, err := s.process(ctx, id)
	if err != nil {
		return err
	}
	if _, err := s.gold.Enqueue(ctx, queue.Job{DocumentID: doc.ID}, s.goldOpts); err != nil {
		return fmt.Errorf("enqueue gold: %w", err)
	}
	return nil
}

// process does everything but the Gold handoff.
func (s *Silver) process(ctx context.Context, id string) (*core.Document, error) {
	logger := s.logger.With("document", id)

	doc, err := loadDocument(ctx, s.repo, id)
	if err != nil {
		return nil, err
	}
	if doc.Bronze.Status != core.StageCompleted {
		return nil, fmt.Errorf("%w: bronze is %s", core.ErrPreconditionFailed, doc.Bronze.Status)
	}
	if strings.TrimSpace(doc.ExtractedText) == "" {
		return nil, fmt.Errorf("%w: no extracted text", core.ErrPreconditionFailed)
	}

	cat, err := resolveCategory(ctx, s.repo, doc, logger)
	if err != nil {
		return nil, err
	}

	doc.Silver.Status = core.StageProcessing
	doc.Silver.Attempts++
	doc.Silver.StartedAt = s.now()
	doc.Silver.Error = ""
	if err := s.repo.UpdateDocument(ctx, doc); err != nil {
		return nil, fmt.Errorf("mark silver processing: %w", err)
	}

	chunker, err := chunking.FromConfig(chunkingConfig(cat), s.chunkOpts...)
	if err != nil {
		return nil, s.fail(ctx, doc.ID, fmt.Errorf("%w: chunking config: %w", core.ErrPreconditionFailed, err))
	}
	pieces := chunker.Split(doc.ExtractedText)
	if len(pieces) == 0 {
		return nil, s.fail(ctx, doc.ID, fmt.Errorf("%w: text produced no chunks", core.ErrPreconditionFailed))
	}
	if issues := chunking.Check(pieces); len(issues) > 0 {
		logger.Warn("chunks below quality gate", "count", len(issues), "first", issues[0].String())
	}

	chunks, dists := buildChunks(doc.ID, pieces, targetSet(cat))

	now := s.now()
	doc.Silver.Status = core.StageCompleted
	doc.Silver.FinishedAt = now
	doc.SilverChunkCount = len(chunks)
	doc.GoldStatus = core.GoldPending
	doc.GoldError = ""
	doc.GoldDistributedAt = nil
	if err := s.repo.ReplaceChunks(ctx, doc, chunks, dists); err != nil {
		return nil, s.fail(ctx, doc.ID, err)
	}
	logger.Info("silver completed", "chunks", len(chunks))

	// Target rows from a previous run may belong to chunk indexes that no
	// longer exist.
	if s.purge != nil {
		s.purge(ctx, doc.ID)
	}
	return doc, nil
}

// buildChunks annotates every piece and pairs it with a distribution record.
func buildChunks(documentID string, pieces []chunking.Chunk, targets []core.TargetLayer) ([]*core.SilverChunk, []*core.GoldDistribution) {
	chunks := make([]*core.SilverChunk, len(pieces))
	dists := make([]*core.GoldDistribution, len(pieces))
	for i, p := range pieces {
		a := annotate.Annotate(p.Text)
		chunkID := core.ChunkID(documentID, p.Index)
		chunks[i] = &core.SilverChunk{
			ID:               chunkID,
			DocumentID:       documentID,
			ChunkIndex:       p.Index,
			Content:          p.Text,
			TokenCount:       p.Tokens,
			StartOffset:      p.Start,
			EndOffset:        p.End,
			Sections:         a.Sections,
			HasTable:         a.HasTable,
			HasImage:         a.HasImage,
			Entities:         a.Entities,
			Status:           core.StageCompleted,
			BelowQualityGate: p.BelowQualityGate,
		}
		dists[i] = newDistribution(documentID, chunkID, p.Index, targets)
	}
	return chunks, dists
}

// newDistribution starts every target in the set PENDING and every other
// target SKIPPED.
func newDistribution(documentID, chunkID string, index int, targets []core.TargetLayer) *core.GoldDistribution {
	d := &core.GoldDistribution{
		ID:            core.DistributionID(chunkID),
		SilverChunkID: chunkID,
		DocumentID:    documentID,
		ChunkIndex:    index,
		Targets:       make(map[core.TargetLayer]*core.TargetState, len(core.AllTargets)),
	}
	for _, layer := range core.AllTargets {
		status := core.DeliverySkipped
		if slices.Contains(targets, layer) {
			status = core.DeliveryPending
		}
		d.Targets[layer] = &core.TargetState{Status: status}
	}
	return d
}

// fail records cause on a fresh copy of the document so nothing from the
// rolled back commit leaks into storage.
func (s *Silver) fail(ctx context.Context, id string, cause error) error {
	doc, err := s.repo.GetDocument(ctx, id)
	if err != nil {
		s.logger.Error("failed to record silver failure", "document", id, "err", err)
		return cause
	}
	doc.Silver.Status = core.StageFailed
	doc.Silver.Error = cause.Error()
	doc.Silver.FinishedAt = s.now()
	if err := s.repo.UpdateDocument(ctx, doc); err != nil {
		s.logger.Error("failed to record silver failure", "document", id, "err", err)
	}
	return cause
}
