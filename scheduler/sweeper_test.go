package scheduler

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/poiesic/strata/core"
	"github.com/poiesic/strata/storage"
	"github.com/poiesic/strata/storage/badger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeRetrier struct {
	mu    sync.Mutex
	ids   []string
	err   error
	reset int
}

func (f *fakeRetrier) RetryFailedDistributions(_ context.Context, id string) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ids = append(f.ids, id)
	return f.reset, f.err
}

func (f *fakeRetrier) calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.ids...)
}

func newRepo(t *testing.T) storage.Repository {
	t.Helper()
	repo, backend, err := badger.NewMemoryRepository()
	require.NoError(t, err)
	t.Cleanup(func() { backend.Close() })
	return repo
}

// addDocument stores a document with one chunk whose vector delivery has the
// given status and retry count.
func addDocument(t *testing.T, repo storage.Repository, gold core.GoldStatus, vector core.DeliveryStatus, retries int) string {
	t.Helper()
	ctx := context.Background()
	doc := &core.Document{
		ID:         core.NewDocumentID(),
		Name:       "doc.txt",
		MimeType:   "text/plain",
		Bronze:     core.StageState{Status: core.StageCompleted},
		Silver:     core.StageState{Status: core.StageCompleted},
		GoldStatus: gold,
	}
	require.NoError(t, repo.CreateDocument(ctx, doc))

	chunkID := core.ChunkID(doc.ID, 0)
	chunk := &core.SilverChunk{ID: chunkID, DocumentID: doc.ID, Content: "text", Status: core.StageCompleted}
	dist := &core.GoldDistribution{
		ID:            core.DistributionID(chunkID),
		SilverChunkID: chunkID,
		DocumentID:    doc.ID,
		Targets: map[core.TargetLayer]*core.TargetState{
			core.TargetAnalytics: {Status: core.DeliveryCompleted},
			core.TargetGraph:     {Status: core.DeliverySkipped},
			core.TargetVector:    {Status: vector, RetryCount: retries},
		},
	}
	require.NoError(t, repo.ReplaceChunks(ctx, doc, []*core.SilverChunk{chunk}, []*core.GoldDistribution{dist}))
	return doc.ID
}

func TestNewRetrySweeper(t *testing.T) {
	repo := newRepo(t)

	_, err := NewRetrySweeper(nil, &fakeRetrier{})
	assert.Error(t, err)
	_, err = NewRetrySweeper(repo, nil)
	assert.Error(t, err)
	_, err = NewRetrySweeper(repo, &fakeRetrier{}, WithMaxRetries(0))
	assert.Error(t, err)
	_, err = NewRetrySweeper(repo, &fakeRetrier{}, WithTimeout(0))
	assert.Error(t, err)

	s, err := NewRetrySweeper(repo, &fakeRetrier{}, WithLogger(nil))
	require.NoError(t, err)
	assert.Equal(t, DefaultMaxRetries, s.maxRetries)
}

func TestSweep(t *testing.T) {
	repo := newRepo(t)
	retryable := addDocument(t, repo, core.GoldPartial, core.DeliveryFailed, 1)
	addDocument(t, repo, core.GoldPartial, core.DeliveryFailed, 3)
	addDocument(t, repo, core.GoldCompleted, core.DeliveryCompleted, 0)

	retrier := &fakeRetrier{reset: 1}
	s, err := NewRetrySweeper(repo, retrier, WithMaxRetries(3))
	require.NoError(t, err)

	stats, err := s.Sweep(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, stats.Documents)
	assert.Equal(t, 1, stats.Retried)
	assert.Equal(t, 1, stats.Reset)
	assert.Equal(t, 1, stats.Exhausted)
	assert.Zero(t, stats.Errors)
	assert.Equal(t, []string{retryable}, retrier.calls())
}

func TestSweep_CountsRetrierErrors(t *testing.T) {
	repo := newRepo(t)
	addDocument(t, repo, core.GoldPartial, core.DeliveryFailed, 0)
	addDocument(t, repo, core.GoldPartial, core.DeliveryFailed, 0)

	retrier := &fakeRetrier{err: errors.New("store write failed")}
	s, err := NewRetrySweeper(repo, retrier)
	require.NoError(t, err)

	stats, err := s.Sweep(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, stats.Errors)
	assert.Zero(t, stats.Retried)
	assert.Len(t, retrier.calls(), 2)
}

func TestSweep_Cancelled(t *testing.T) {
	repo := newRepo(t)
	addDocument(t, repo, core.GoldPartial, core.DeliveryFailed, 0)

	s, err := NewRetrySweeper(repo, &fakeRetrier{})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = s.Sweep(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestStart(t *testing.T) {
	repo := newRepo(t)
	id := addDocument(t, repo, core.GoldPartial, core.DeliveryFailed, 0)

	retrier := &fakeRetrier{}
	s, err := NewRetrySweeper(repo, retrier)
	require.NoError(t, err)

	assert.Error(t, s.Start("not a schedule"))

	require.NoError(t, s.Start("* * * * * *"))
	defer s.Stop()
	assert.Eventually(t, func() bool {
		calls := retrier.calls()
		return len(calls) > 0 && calls[0] == id
	}, 3*time.Second, 50*time.Millisecond)
}
