package queue

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestDB(t *testing.T) *badger.DB {
	t.Helper()
	db, err := badger.Open(badger.DefaultOptions("").WithInMemory(true).WithLogger(nil))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func newTestQueue(t *testing.T, name string) *BadgerQueue {
	t.Helper()
	q, err := NewBadgerQueue(openTestDB(t), name)
	require.NoError(t, err)
	return q
}

func TestNewBadgerQueue_Validation(t *testing.T) {
	_, err := NewBadgerQueue(nil, "q")
	assert.Error(t, err)
	_, err = NewBadgerQueue(openTestDB(t), "")
	assert.ErrorIs(t, err, ErrQueueNameRequired)
	_, err = NewBadgerQueue(openTestDB(t), "q", WithVisibilityTimeout(0))
	assert.Error(t, err)
}

func TestBadgerQueue_FIFO(t *testing.T) {
	q := newTestQueue(t, "bronze")
	ctx := context.Background()

	for _, id := range []string{"a", "b", "c"} {
		_, err := q.Enqueue(ctx, Job{DocumentID: id}, DefaultOptions())
		require.NoError(t, err)
	}

	for _, want := range []string{"a", "b", "c"} {
		msg, err := q.Receive(ctx)
		require.NoError(t, err)
		assert.Equal(t, want, msg.Job.DocumentID)
		assert.Equal(t, 1, msg.Attempt)
		assert.Equal(t, "bronze", msg.Queue)
		require.NoError(t, q.Ack(ctx, msg))
	}

	_, err := q.Receive(ctx)
	assert.ErrorIs(t, err, ErrNoMessage)

	stats, err := q.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, Stats{Name: "bronze"}, stats)
}

func TestBadgerQueue_EmptyJob(t *testing.T) {
	q := newTestQueue(t, "bronze")
	_, err := q.Enqueue(context.Background(), Job{}, DefaultOptions())
	assert.ErrorIs(t, err, ErrEmptyJob)
}

func TestBadgerQueue_InFlightHidden(t *testing.T) {
	q := newTestQueue(t, "silver")
	ctx := context.Background()

	_, err := q.Enqueue(ctx, Job{DocumentID: "doc"}, DefaultOptions())
	require.NoError(t, err)
	_, err = q.Receive(ctx)
	require.NoError(t, err)

	_, err = q.Receive(ctx)
	assert.ErrorIs(t, err, ErrNoMessage)

	stats, err := q.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Pending)
}

func TestBadgerQueue_VisibilityTimeoutRedelivers(t *testing.T) {
	q := newTestQueue(t, "silver")
	ctx := context.Background()
	clock := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	q.now = func() time.Time { return clock }

	_, err := q.Enqueue(ctx, Job{DocumentID: "doc"}, DefaultOptions())
	require.NoError(t, err)
	first, err := q.Receive(ctx)
	require.NoError(t, err)

	clock = clock.Add(DefaultVisibilityTimeout + time.Second)
	second, err := q.Receive(ctx)
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, 2, second.Attempt)
}

func TestBadgerQueue_RetryDelays(t *testing.T) {
	q := newTestQueue(t, "gold")
	ctx := context.Background()

	_, err := q.Enqueue(ctx, Job{DocumentID: "doc"}, DefaultOptions())
	require.NoError(t, err)
	msg, err := q.Receive(ctx)
	require.NoError(t, err)

	require.NoError(t, q.Retry(ctx, msg, time.Hour, errors.New("store down")))
	assert.Equal(t, "store down", msg.LastError)

	_, err = q.Receive(ctx)
	assert.ErrorIs(t, err, ErrNoMessage)

	require.NoError(t, q.Retry(ctx, msg, 0, nil))
	again, err := q.Receive(ctx)
	require.NoError(t, err)
	assert.Equal(t, msg.ID, again.ID)
	assert.Equal(t, 2, again.Attempt)
	assert.Equal(t, "store down", again.LastError)
}

func TestBadgerQueue_Fail(t *testing.T) {
	q := newTestQueue(t, "gold")
	ctx := context.Background()

	_, err := q.Enqueue(ctx, Job{DocumentID: "doc"}, DefaultOptions())
	require.NoError(t, err)
	msg, err := q.Receive(ctx)
	require.NoError(t, err)
	require.NoError(t, q.Fail(ctx, msg, errors.New("corrupt")))

	_, err = q.Receive(ctx)
	assert.ErrorIs(t, err, ErrNoMessage)

	dead, err := q.Dead(ctx)
	require.NoError(t, err)
	require.Len(t, dead, 1)
	assert.Equal(t, "doc", dead[0].Job.DocumentID)
	assert.Equal(t, "corrupt", dead[0].LastError)
	assert.False(t, dead[0].FailedAt.IsZero())

	stats, err := q.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, stats.Pending)
	assert.Equal(t, 1, stats.Dead)
}

func TestBadgerQueue_Isolation(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	bronze, err := NewBadgerQueue(db, "bronze")
	require.NoError(t, err)
	silver, err := NewBadgerQueue(db, "silver")
	require.NoError(t, err)

	_, err = bronze.Enqueue(ctx, Job{DocumentID: "doc"}, DefaultOptions())
	require.NoError(t, err)

	_, err = silver.Receive(ctx)
	assert.ErrorIs(t, err, ErrNoMessage)
	msg, err := bronze.Receive(ctx)
	require.NoError(t, err)
	assert.Equal(t, "doc", msg.Job.DocumentID)
}

func TestBadgerQueue_IndexKeyRoundTrip(t *testing.T) {
	q := newTestQueue(t, "q")
	ts := time.Date(2025, 6, 1, 12, 0, 0, 123, time.UTC)
	gotTS, gotID, err := q.parseIndexKey(q.indexKey(ts, "abc-123"))
	require.NoError(t, err)
	assert.True(t, ts.Equal(gotTS))
	assert.Equal(t, "abc-123", gotID)

	_, _, err = q.parseIndexKey([]byte("queue:q:index:notanumber:x"))
	assert.Error(t, err)
}
