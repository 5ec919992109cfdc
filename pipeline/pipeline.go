package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/panjf2000/ants/v2"
	"github.com/poiesic/strata/ai"
	"github.com/poiesic/strata/blob"
	"github.com/poiesic/strata/chunking"
	"github.com/poiesic/strata/core"
	"github.com/poiesic/strata/extract"
	"github.com/poiesic/strata/queue"
	"github.com/poiesic/strata/storage"
	"github.com/poiesic/strata/stores"
)

// documentPurger is implemented by stores that can drop a document's rows.
type documentPurger interface {
	DeleteDocument(ctx context.Context, documentID string) error
}

// Pipeline wires the stages to their queues and consumers.
type Pipeline struct {
	repo   storage.Repository
	queues Queues

	analytics stores.AnalyticsStore
	graph     stores.GraphStore
	vectors   stores.VectorStore
	embedder  ai.Embedder

	stageConfigs     map[string]StageConfig
	chunkOpts        []chunking.Option
	chunkParallelism int
	pollInterval     time.Duration
	now              func() time.Time
	logger           *slog.Logger

	registrar *Registrar
	bronze    *Bronze
	silver    *Silver
	gold      *Gold
	goldPool  *ants.Pool
	consumers []*queue.Consumer
}

// Option configures a Pipeline.
type Option func(*Pipeline) error

// WithAnalytics sets the target A store.
func WithAnalytics(s stores.AnalyticsStore) Option {
	return func(p *Pipeline) error {
		p.analytics = s
		return nil
	}
}

// WithGraph sets the target B store.
func WithGraph(s stores.GraphStore) Option {
	return func(p *Pipeline) error {
		p.graph = s
		return nil
	}
}

// WithVectors sets the target C store and the embedder feeding it.
func WithVectors(s stores.VectorStore, embedder ai.Embedder) Option {
	return func(p *Pipeline) error {
		p.vectors = s
		p.embedder = embedder
		return nil
	}
}

// WithStageConfig overrides retries and concurrency of one stage.
func WithStageConfig(stage string, cfg StageConfig) Option {
	return func(p *Pipeline) error {
		if _, ok := p.stageConfigs[stage]; !ok {
			return fmt.Errorf("%w: %q", ErrUnknownStage, stage)
		}
		if cfg.Attempts < 1 {
			return fmt.Errorf("%s: %w", stage, queue.ErrInvalidMaxAttempts)
		}
		if cfg.Concurrency < 0 {
			return fmt.Errorf("%s: concurrency cannot be negative", stage)
		}
		p.stageConfigs[stage] = cfg
		return nil
	}
}

// WithChunkerOptions appends options to every chunker Silver builds, e.g. a
// tiktoken counter.
func WithChunkerOptions(opts ...chunking.Option) Option {
	return func(p *Pipeline) error {
		p.chunkOpts = append(p.chunkOpts, opts...)
		return nil
	}
}

// WithChunkParallelism delivers up to n chunks of a document at once.
// Default is 1, which delivers chunks sequentially.
func WithChunkParallelism(n int) Option {
	return func(p *Pipeline) error {
		if n < 1 {
			return fmt.Errorf("chunk parallelism must be at least 1, got %d", n)
		}
		p.chunkParallelism = n
		return nil
	}
}

// WithPollInterval sets how long idle consumers sleep between polls.
func WithPollInterval(d time.Duration) Option {
	return func(p *Pipeline) error {
		if d <= 0 {
			return fmt.Errorf("poll interval must be positive, got %s", d)
		}
		p.pollInterval = d
		return nil
	}
}

// WithClock replaces time.Now for stage timestamps.
func WithClock(now func() time.Time) Option {
	return func(p *Pipeline) error {
		p.now = now
		return nil
	}
}

// WithLogger sets a custom logger.
// Default is slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(p *Pipeline) error {
		if logger == nil {
			logger = slog.Default()
		}
		p.logger = logger
		return nil
	}
}

// NewPipeline creates a pipeline. Stores not supplied through options are
// treated as unavailable and their deliveries are SKIPPED.
func NewPipeline(repo storage.Repository, blobs blob.Store, extractors *extract.Registry, queues Queues, opts ...Option) (*Pipeline, error) {
	if repo == nil {
		return nil, ErrRepositoryRequired
	}
	if blobs == nil {
		return nil, ErrBlobStoreRequired
	}
	if extractors == nil {
		return nil, ErrExtractorsRequired
	}
	if !queues.complete() {
		return nil, ErrQueuesRequired
	}

	p := &Pipeline{
		repo:             repo,
		queues:           queues,
		stageConfigs:     DefaultStageConfigs(),
		chunkParallelism: 1,
		pollInterval:     500 * time.Millisecond,
		now:              func() time.Time { return time.Now().UTC() },
		logger:           slog.Default(),
	}
	for _, opt := range opts {
		if err := opt(p); err != nil {
			return nil, err
		}
	}

	if p.chunkParallelism > 1 {
		pool, err := ants.NewPool(p.chunkParallelism)
		if err != nil {
			return nil, err
		}
		p.goldPool = pool
	}

	p.registrar = &Registrar{
		repo:       repo,
		blobs:      blobs,
		bronze:     queues.Bronze,
		bronzeOpts: p.stageConfigs[StageBronze].Options(),
		now:        p.now,
		logger:     p.logger.With("component", "registrar"),
	}
	p.bronze = &Bronze{
		docs:       repo,
		blobs:      blobs,
		extractors: extractors,
		silver:     queues.Silver,
		silverOpts: p.stageConfigs[StageSilver].Options(),
		fallback:   queues.Embedding,
		legacyOpts: p.stageConfigs[QueueEmbedding].Options(),
		now:        p.now,
		logger:     p.logger.With("stage", StageBronze),
	}
	p.silver = &Silver{
		repo:      repo,
		chunkOpts: p.chunkOpts,
		gold:      queues.Gold,
		goldOpts:  p.stageConfigs[StageGold].Options(),
		purge:     p.purgeTargets,
		now:       p.now,
		logger:    p.logger.With("stage", StageSilver),
	}
	p.gold = &Gold{
		repo:      repo,
		analytics: p.analytics,
		graph:     p.graph,
		vectors:   p.vectors,
		embedder:  p.embedder,
		pool:      p.goldPool,
		now:       p.now,
		logger:    p.logger.With("stage", StageGold),
	}

	handlers := map[string]queue.Handler{
		StageBronze:    p.bronze.ProcessDocument,
		StageSilver:    p.silver.ProcessDocument,
		StageGold:      p.gold.DistributeDocument,
		QueueEmbedding: p.processLegacy,
	}
	// Gold and the legacy queue both call the embedder, so they draw from
	// one pool of Gold's size.
	var embedSlots chan struct{}
	if n := p.stageConfigs[StageGold].Concurrency; n > 0 {
		embedSlots = make(chan struct{}, n)
	}
	for _, name := range Stages {
		q, _ := queues.ByName(name)
		cfg := p.stageConfigs[name]
		limit := queue.WithConcurrency(cfg.Concurrency)
		if embedSlots != nil && (name == StageGold || name == QueueEmbedding) {
			limit = queue.WithSharedSlots(embedSlots)
		}
		c, err := queue.NewConsumer(q, handlers[name],
			limit,
			queue.WithPollInterval(p.pollInterval),
			queue.WithExhaustedHook(p.exhausted(name)),
			queue.WithConsumerLogger(p.logger),
		)
		if err != nil {
			p.Release()
			return nil, err
		}
		p.consumers = append(p.consumers, c)
	}
	return p, nil
}

// Register stores an upload and queues Bronze for it.
func (p *Pipeline) Register(ctx context.Context, up Upload) (*core.Document, error) {
	return p.registrar.Register(ctx, up)
}

// Bronze returns the Bronze stage.
func (p *Pipeline) Bronze() *Bronze { return p.bronze }

// Silver returns the Silver stage.
func (p *Pipeline) Silver() *Silver { return p.silver }

// Gold returns the Gold stage.
func (p *Pipeline) Gold() *Gold { return p.gold }

// Enqueue queues a job for a document on the named stage.
func (p *Pipeline) Enqueue(ctx context.Context, stage, documentID string) (*queue.Message, error) {
	q, err := p.queues.ByName(stage)
	if err != nil {
		return nil, err
	}
	if _, err := loadDocument(ctx, p.repo, documentID); err != nil {
		return nil, err
	}
	return q.Enqueue(ctx, queue.Job{DocumentID: documentID}, p.stageConfigs[stage].Options())
}

// RetryFailedDistributions resets FAILED deliveries of a document to PENDING
// and queues a Gold job for them, so the retry runs on the Gold consumer
// under its concurrency limit. It returns how many deliveries were reset;
// with none reset nothing is queued. One-shot callers follow it with Drain.
func (p *Pipeline) RetryFailedDistributions(ctx context.Context, documentID string) (int, error) {
	reset, err := p.gold.ResetFailed(ctx, documentID)
	if err != nil || reset == 0 {
		return reset, err
	}
	if _, err := p.Enqueue(ctx, StageGold, documentID); err != nil {
		return reset, fmt.Errorf("queue gold retry: %w", err)
	}
	p.logger.Info("retrying failed deliveries", "document", documentID, "reset", reset)
	return reset, nil
}

// Summary returns per-target delivery counts for a document.
func (p *Pipeline) Summary(ctx context.Context, documentID string) (*core.DistributionSummary, error) {
	return Summary(ctx, p.repo, documentID)
}

// Stats counts pending and dead jobs of every stage queue.
func (p *Pipeline) Stats(ctx context.Context) ([]queue.Stats, error) {
	out := make([]queue.Stats, 0, len(p.consumers))
	for _, c := range p.consumers {
		s, err := c.Queue().Stats(ctx)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, nil
}

// Run consumes every stage queue until ctx is done.
func (p *Pipeline) Run(ctx context.Context) error {
	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		errs []error
	)
	for _, c := range p.consumers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := c.Run(ctx); err != nil {
				mu.Lock()
				errs = append(errs, err)
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	return errors.Join(errs...)
}

// Drain handles every ready job of every stage, repeating until a full pass
// finds nothing to do. Delayed retries are left in their queues. It returns
// the number of jobs handled.
func (p *Pipeline) Drain(ctx context.Context) (int, error) {
	total := 0
	for {
		pass := 0
		for _, c := range p.consumers {
			n, err := c.Drain(ctx)
			pass += n
			if err != nil {
				return total + pass, err
			}
		}
		total += pass
		if pass == 0 {
			return total, nil
		}
	}
}

// DeleteDocument soft-deletes a document and removes its target rows where
// the stores support it. Every stage treats a deleted document as not found.
func (p *Pipeline) DeleteDocument(ctx context.Context, id string) error {
	doc, err := p.repo.GetDocument(ctx, id)
	if err != nil {
		return err
	}
	if doc.Deleted() {
		return nil
	}
	now := p.now()
	doc.DeletedAt = &now
	if err := p.repo.UpdateDocument(ctx, doc); err != nil {
		return err
	}
	p.purgeTargets(ctx, id)
	p.logger.Info("document deleted", "document", id)
	return nil
}

// purgeTargets removes a document's vector points and analytics rows,
// logging failures.
func (p *Pipeline) purgeTargets(ctx context.Context, id string) {
	if p.vectors != nil {
		if err := p.vectors.DeleteByDocument(ctx, id); err != nil {
			p.logger.Warn("failed to delete vector points", "document", id, "err", err)
		}
	}
	if purger, ok := p.analytics.(documentPurger); ok && p.analytics.IsReady() {
		if err := purger.DeleteDocument(ctx, id); err != nil {
			p.logger.Warn("failed to delete analytics rows", "document", id, "err", err)
		}
	}
}

// processLegacy handles the single-stage embedding queue: Silver and Gold
// run inline with no further handoff.
func (p *Pipeline) processLegacy(ctx context.Context, job queue.Job) error {
	if _, err := p.silver.process(ctx, job.DocumentID); err != nil {
		return err
	}
	return p.gold.DistributeDocument(ctx, job.DocumentID)
}

// exhausted records a terminal job failure on the document.
func (p *Pipeline) exhausted(stage string) queue.ExhaustedFunc {
	return func(ctx context.Context, msg *queue.Message, cause error) {
		doc, err := p.repo.GetDocument(ctx, msg.Job.DocumentID)
		if err != nil {
			p.logger.Warn("cannot record exhausted job", "stage", stage, "document", msg.Job.DocumentID, "err", err)
			return
		}
		text := fmt.Sprintf("%s failed after %d attempts: %v", stage, msg.Attempt, cause)
		switch stage {
		case StageBronze:
			doc.Bronze.Status = core.StageFailed
			doc.Bronze.Error = text
		case StageSilver, QueueEmbedding:
			if doc.Silver.Status != core.StageCompleted {
				doc.Silver.Status = core.StageFailed
				doc.Silver.Error = text
			} else {
				doc.GoldError = text
			}
		case StageGold:
			doc.GoldError = text
			if doc.GoldStatus == core.GoldProcessing {
				doc.GoldStatus = core.GoldPartial
			}
		}
		if err := p.repo.UpdateDocument(ctx, doc); err != nil {
			p.logger.Error("cannot record exhausted job", "stage", stage, "document", doc.ID, "err", err)
		}
	}
}

// Release releases worker pools. The pipeline should not be used after
// calling Release.
func (p *Pipeline) Release() {
	for _, c := range p.consumers {
		c.Release()
	}
	if p.goldPool != nil {
		p.goldPool.Release()
	}
}
