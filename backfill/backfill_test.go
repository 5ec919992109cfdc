package backfill

import (
	"bytes"
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/poiesic/strata/core"
	"github.com/poiesic/strata/queue"
	"github.com/poiesic/strata/storage"
	"github.com/poiesic/strata/storage/badger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeEnqueuer struct {
	mu       sync.Mutex
	failures int
	calls    int
	queued   []string
	err      error
}

func (f *fakeEnqueuer) Enqueue(_ context.Context, stage, id string) (*queue.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	if f.failures > 0 {
		f.failures--
		return nil, errors.New("redis: connection reset")
	}
	f.queued = append(f.queued, id)
	return &queue.Message{ID: id, Queue: stage, Job: queue.Job{DocumentID: id}}, nil
}

func newRepo(t *testing.T) storage.Repository {
	t.Helper()
	repo, backend, err := badger.NewMemoryRepository()
	require.NoError(t, err)
	t.Cleanup(func() { backend.Close() })
	return repo
}

func addDocument(t *testing.T, repo storage.Repository, category string, silver core.StageStatus) *core.Document {
	t.Helper()
	doc := &core.Document{
		ID:         core.NewDocumentID(),
		Name:       "doc.txt",
		MimeType:   "text/plain",
		CategoryID: category,
		Bronze:     core.StageState{Status: core.StageCompleted},
		Silver:     core.StageState{Status: silver},
		GoldStatus: core.GoldPending,
	}
	require.NoError(t, repo.CreateDocument(context.Background(), doc))
	return doc
}

func testConfig(stage string) *Config {
	cfg := DefaultConfig()
	cfg.Stage = stage
	cfg.BatchSize = 2
	cfg.ReportInterval = 1
	cfg.RetryDelay = time.Millisecond
	return cfg
}

func TestNewBackfiller(t *testing.T) {
	repo := newRepo(t)

	_, err := NewBackfiller(nil, &fakeEnqueuer{}, nil, nil)
	assert.ErrorIs(t, err, ErrRepositoryRequired)

	_, err = NewBackfiller(repo, nil, nil, nil)
	assert.ErrorIs(t, err, ErrEnqueuerRequired)

	_, err = NewBackfiller(repo, &fakeEnqueuer{}, &Config{Stage: "platinum", MaxRetries: 1}, nil)
	assert.Error(t, err)

	_, err = NewBackfiller(repo, &fakeEnqueuer{}, &Config{Stage: StageGold}, nil)
	assert.ErrorIs(t, err, queue.ErrInvalidMaxAttempts)

	b, err := NewBackfiller(repo, &fakeEnqueuer{}, nil, nil)
	require.NoError(t, err)
	assert.Equal(t, StageGold, b.config.Stage)
}

func TestBackfiller_Run(t *testing.T) {
	repo := newRepo(t)
	ready := []*core.Document{
		addDocument(t, repo, "", core.StageCompleted),
		addDocument(t, repo, "", core.StageCompleted),
		addDocument(t, repo, "", core.StageCompleted),
	}
	addDocument(t, repo, "", core.StagePending)

	enq := &fakeEnqueuer{}
	var out bytes.Buffer
	b, err := NewBackfiller(repo, enq, testConfig(StageGold), &out)
	require.NoError(t, err)

	res, err := b.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, Result{Enqueued: 3, Skipped: 1}, res)
	for _, d := range ready {
		assert.Contains(t, enq.queued, d.ID)
	}
	assert.Contains(t, out.String(), "Backfilling gold for 4 documents")
	assert.Contains(t, out.String(), "4/4 (100.0%)")
	assert.Contains(t, out.String(), "Enqueued 3, skipped 1")
}

func TestBackfiller_RetriesEnqueue(t *testing.T) {
	repo := newRepo(t)
	doc := addDocument(t, repo, "", core.StageCompleted)

	enq := &fakeEnqueuer{failures: 2}
	b, err := NewBackfiller(repo, enq, testConfig(StageSilver), nil)
	require.NoError(t, err)

	res, err := b.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, res.Enqueued)
	assert.Equal(t, 3, enq.calls)
	assert.Equal(t, []string{doc.ID}, enq.queued)
}

func TestBackfiller_GivesUp(t *testing.T) {
	repo := newRepo(t)
	addDocument(t, repo, "", core.StageCompleted)

	enq := &fakeEnqueuer{failures: 10}
	b, err := NewBackfiller(repo, enq, testConfig(StageBronze), nil)
	require.NoError(t, err)

	_, err = b.Run(context.Background())
	assert.Error(t, err)
	assert.Equal(t, 3, enq.calls)
}

func TestBackfiller_PermanentErrorIsNotRetried(t *testing.T) {
	repo := newRepo(t)
	addDocument(t, repo, "", core.StageCompleted)

	enq := &fakeEnqueuer{err: queue.Permanent(core.ErrNotFound)}
	b, err := NewBackfiller(repo, enq, testConfig(StageGold), nil)
	require.NoError(t, err)

	_, err = b.Run(context.Background())
	assert.ErrorIs(t, err, core.ErrNotFound)
	assert.Equal(t, 1, enq.calls)
}

func TestBackfiller_CategoryFilter(t *testing.T) {
	repo := newRepo(t)
	ctx := context.Background()
	require.NoError(t, repo.UpsertCategory(ctx, &core.DocumentCategory{
		ID: "contracts", Name: "Contracts", Chunking: core.DefaultChunkingConfig(), Active: true,
	}))
	in := addDocument(t, repo, "contracts", core.StageCompleted)
	addDocument(t, repo, "", core.StageCompleted)

	enq := &fakeEnqueuer{}
	cfg := testConfig(StageGold)
	cfg.CategoryID = "contracts"
	b, err := NewBackfiller(repo, enq, cfg, nil)
	require.NoError(t, err)

	res, err := b.Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Enqueued)
	assert.Equal(t, []string{in.ID}, enq.queued)
}

func TestBackfiller_NothingToDo(t *testing.T) {
	var out bytes.Buffer
	b, err := NewBackfiller(newRepo(t), &fakeEnqueuer{}, testConfig(StageGold), &out)
	require.NoError(t, err)

	res, err := b.Run(context.Background())
	require.NoError(t, err)
	assert.Zero(t, res)
	assert.Equal(t, "No documents to backfill\n", out.String())
}

func TestEligible(t *testing.T) {
	doc := &core.Document{Bronze: core.StageState{Status: core.StageCompleted}}
	assert.True(t, Eligible(StageBronze, doc))
	assert.True(t, Eligible(StageSilver, doc))
	assert.False(t, Eligible(StageGold, doc))

	doc.Silver.Status = core.StageCompleted
	assert.True(t, Eligible(StageGold, doc))

	assert.True(t, Eligible(StageBronze, &core.Document{}))
	assert.False(t, Eligible(StageSilver, &core.Document{}))
}

func TestDocumentIterator_Batches(t *testing.T) {
	repo := newRepo(t)
	for range 5 {
		addDocument(t, repo, "", core.StageCompleted)
	}
	deleted := addDocument(t, repo, "", core.StageCompleted)
	now := time.Now()
	deleted.DeletedAt = &now
	require.NoError(t, repo.UpdateDocument(context.Background(), deleted))

	it := NewDocumentIterator(repo, storage.DocumentFilter{}, 2)
	count, err := it.Count(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 5, count)

	var sizes []int
	err = it.ForEach(context.Background(), func(docs []*core.Document) error {
		sizes = append(sizes, len(docs))
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, []int{2, 2, 1}, sizes)
}

func TestDocumentIterator_StopsOnError(t *testing.T) {
	repo := newRepo(t)
	for range 3 {
		addDocument(t, repo, "", core.StageCompleted)
	}
	boom := errors.New("boom")
	calls := 0
	err := NewDocumentIterator(repo, storage.DocumentFilter{}, 1).ForEach(context.Background(), func([]*core.Document) error {
		calls++
		return boom
	})
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, 1, calls)
}

func TestDocumentIterator_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := NewDocumentIterator(newRepo(t), storage.DocumentFilter{}, 0).ForEach(ctx, func([]*core.Document) error {
		return nil
	})
	assert.ErrorIs(t, err, context.Canceled)
}
