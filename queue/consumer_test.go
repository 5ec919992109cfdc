package queue

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/poiesic/strata/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewConsumer_Validation(t *testing.T) {
	q := newTestQueue(t, "q")
	handler := func(context.Context, Job) error { return nil }

	_, err := NewConsumer(nil, handler)
	assert.ErrorIs(t, err, ErrQueueRequired)
	_, err = NewConsumer(q, nil)
	assert.ErrorIs(t, err, ErrHandlerRequired)
	_, err = NewConsumer(q, handler, WithConcurrency(-1))
	assert.Error(t, err)
	_, err = NewConsumer(q, handler, WithSharedSlots(nil))
	assert.Error(t, err)
}

func TestConsumer_DrainAcks(t *testing.T) {
	q := newTestQueue(t, "q")
	ctx := context.Background()

	var seen []string
	c, err := NewConsumer(q, func(_ context.Context, job Job) error {
		seen = append(seen, job.DocumentID)
		return nil
	})
	require.NoError(t, err)

	for i := range 3 {
		_, err := q.Enqueue(ctx, Job{DocumentID: fmt.Sprintf("doc-%d", i)}, DefaultOptions())
		require.NoError(t, err)
	}

	n, err := c.Drain(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, n)
	assert.Equal(t, []string{"doc-0", "doc-1", "doc-2"}, seen)

	stats, err := q.Stats(ctx)
	require.NoError(t, err)
	assert.Zero(t, stats.Pending)
}

func TestConsumer_RetriesThenExhausts(t *testing.T) {
	q := newTestQueue(t, "q")
	ctx := context.Background()

	calls := 0
	var exhausted *Message
	var exhaustedErr error
	c, err := NewConsumer(q,
		func(context.Context, Job) error {
			calls++
			return errors.New("flaky")
		},
		WithExhaustedHook(func(_ context.Context, msg *Message, err error) {
			exhausted = msg
			exhaustedErr = err
		}),
	)
	require.NoError(t, err)

	_, err = q.Enqueue(ctx, Job{DocumentID: "doc"}, NewOptions(3, 0))
	require.NoError(t, err)

	n, err := c.Drain(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, n)
	assert.Equal(t, 3, calls)
	require.NotNil(t, exhausted)
	assert.Equal(t, 3, exhausted.Attempt)
	assert.EqualError(t, exhaustedErr, "flaky")

	dead, err := q.Dead(ctx)
	require.NoError(t, err)
	assert.Len(t, dead, 1)
}

func TestConsumer_NonRetryableFailsImmediately(t *testing.T) {
	tests := []struct {
		name string
		err  error
	}{
		{name: "permanent", err: Permanent(errors.New("bad"))},
		{name: "not found", err: fmt.Errorf("%w: document x", core.ErrNotFound)},
		{name: "precondition", err: fmt.Errorf("%w: bronze pending", core.ErrPreconditionFailed)},
		{name: "unsupported", err: fmt.Errorf("%w: image/png", core.ErrUnsupported)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			q := newTestQueue(t, "q")
			ctx := context.Background()
			calls := 0
			hooked := 0
			c, err := NewConsumer(q,
				func(context.Context, Job) error {
					calls++
					return tt.err
				},
				WithExhaustedHook(func(context.Context, *Message, error) { hooked++ }),
			)
			require.NoError(t, err)
			_, err = q.Enqueue(ctx, Job{DocumentID: "doc"}, NewOptions(5, 0))
			require.NoError(t, err)

			_, err = c.Drain(ctx)
			require.NoError(t, err)
			assert.Equal(t, 1, calls)
			assert.Equal(t, 1, hooked)
		})
	}
}

func TestConsumer_RecoversPanics(t *testing.T) {
	q := newTestQueue(t, "q")
	ctx := context.Background()
	c, err := NewConsumer(q, func(context.Context, Job) error {
		panic("boom")
	})
	require.NoError(t, err)
	_, err = q.Enqueue(ctx, Job{DocumentID: "doc"}, NewOptions(1, 0))
	require.NoError(t, err)

	_, err = c.Drain(ctx)
	require.NoError(t, err)
	dead, err := q.Dead(ctx)
	require.NoError(t, err)
	require.Len(t, dead, 1)
	assert.Contains(t, dead[0].LastError, "boom")
}

func TestConsumer_RunRespectsConcurrency(t *testing.T) {
	q := newTestQueue(t, "q")
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	const jobs = 6
	var running, peak atomic.Int32
	var wg sync.WaitGroup
	wg.Add(jobs)
	c, err := NewConsumer(q,
		func(context.Context, Job) error {
			defer wg.Done()
			n := running.Add(1)
			for {
				p := peak.Load()
				if n <= p || peak.CompareAndSwap(p, n) {
					break
				}
			}
			time.Sleep(10 * time.Millisecond)
			running.Add(-1)
			return nil
		},
		WithConcurrency(2),
		WithPollInterval(5*time.Millisecond),
	)
	require.NoError(t, err)

	for i := range jobs {
		_, err := q.Enqueue(ctx, Job{DocumentID: fmt.Sprintf("doc-%d", i)}, DefaultOptions())
		require.NoError(t, err)
	}

	done := make(chan error, 1)
	go func() { done <- c.Run(ctx) }()

	wg.Wait()
	cancel()
	require.NoError(t, <-done)
	assert.LessOrEqual(t, peak.Load(), int32(2))
	assert.GreaterOrEqual(t, peak.Load(), int32(1))
}

func TestConsumer_SharedSlotsSpanConsumers(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	const perQueue = 4
	var running, peak atomic.Int32
	var wg sync.WaitGroup
	wg.Add(2 * perQueue)
	handler := func(context.Context, Job) error {
		defer wg.Done()
		n := running.Add(1)
		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}
		time.Sleep(10 * time.Millisecond)
		running.Add(-1)
		return nil
	}

	slots := make(chan struct{}, 1)
	var consumers []*Consumer
	for _, name := range []string{"gold", "embedding"} {
		q := newTestQueue(t, name)
		for i := range perQueue {
			_, err := q.Enqueue(ctx, Job{DocumentID: fmt.Sprintf("%s-%d", name, i)}, DefaultOptions())
			require.NoError(t, err)
		}
		c, err := NewConsumer(q, handler,
			WithConcurrency(4),
			WithSharedSlots(slots),
			WithPollInterval(5*time.Millisecond),
		)
		require.NoError(t, err)
		consumers = append(consumers, c)
	}

	done := make(chan error, len(consumers))
	for _, c := range consumers {
		go func() { done <- c.Run(ctx) }()
	}

	wg.Wait()
	cancel()
	for range consumers {
		require.NoError(t, <-done)
	}
	assert.Equal(t, int32(1), peak.Load())
}
