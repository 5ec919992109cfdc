package queue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/panjf2000/ants/v2"
	"github.com/poiesic/strata/core"
)

// Handler processes one job. A nil return acknowledges the message.
type Handler func(ctx context.Context, job Job) error

// ExhaustedFunc is called once when a message fails terminally, either
// because its attempts ran out or because the error is not retryable.
type ExhaustedFunc func(ctx context.Context, msg *Message, err error)

// Consumer polls a queue and dispatches messages to a handler on a worker pool.
type Consumer struct {
	queue        Queue
	handler      Handler
	concurrency  int // 0 is unbounded
	pollInterval time.Duration
	onExhausted  ExhaustedFunc
	logger       *slog.Logger

	pool  *ants.Pool
	slots chan struct{}
	wg    sync.WaitGroup
}

// ConsumerOption configures a Consumer.
type ConsumerOption func(*Consumer) error

// WithConcurrency caps the number of jobs handled at once. Zero means unbounded.
func WithConcurrency(n int) ConsumerOption {
	return func(c *Consumer) error {
		if n < 0 {
			return fmt.Errorf("concurrency cannot be negative, got %d", n)
		}
		c.concurrency = n
		return nil
	}
}

// WithSharedSlots limits the consumer with a semaphore other consumers may
// hold too. Together they handle at most cap(slots) jobs at once. It
// overrides WithConcurrency.
func WithSharedSlots(slots chan struct{}) ConsumerOption {
	return func(c *Consumer) error {
		if cap(slots) == 0 {
			return errors.New("shared slots need a positive capacity")
		}
		c.slots = slots
		return nil
	}
}

// WithPollInterval sets how long Run sleeps when the queue is empty.
// Default is 500ms.
func WithPollInterval(d time.Duration) ConsumerOption {
	return func(c *Consumer) error {
		if d <= 0 {
			return fmt.Errorf("poll interval must be positive, got %s", d)
		}
		c.pollInterval = d
		return nil
	}
}

// WithExhaustedHook registers fn to run when a message fails terminally.
func WithExhaustedHook(fn ExhaustedFunc) ConsumerOption {
	return func(c *Consumer) error {
		c.onExhausted = fn
		return nil
	}
}

// WithConsumerLogger sets a custom logger.
// Default is slog.Default().
func WithConsumerLogger(logger *slog.Logger) ConsumerOption {
	return func(c *Consumer) error {
		if logger == nil {
			logger = slog.Default()
		}
		c.logger = logger
		return nil
	}
}

// NewConsumer creates a consumer for q.
func NewConsumer(q Queue, handler Handler, opts ...ConsumerOption) (*Consumer, error) {
	if q == nil {
		return nil, ErrQueueRequired
	}
	if handler == nil {
		return nil, ErrHandlerRequired
	}
	c := &Consumer{
		queue:        q,
		handler:      handler,
		pollInterval: 500 * time.Millisecond,
		logger:       slog.Default(),
	}
	for _, opt := range opts {
		if err := opt(c); err != nil {
			return nil, err
		}
	}
	c.logger = c.logger.With("queue", q.Name())

	// ants treats a non-positive size as an unbounded pool
	size := -1
	switch {
	case c.slots != nil:
		c.concurrency = cap(c.slots)
		size = c.concurrency
	case c.concurrency > 0:
		size = c.concurrency
		c.slots = make(chan struct{}, c.concurrency)
	}
	pool, err := ants.NewPool(size)
	if err != nil {
		return nil, err
	}
	c.pool = pool
	return c, nil
}

// Queue returns the consumed queue.
func (c *Consumer) Queue() Queue {
	return c.queue
}

func (c *Consumer) acquire(ctx context.Context) bool {
	if c.slots == nil {
		return true
	}
	select {
	case c.slots <- struct{}{}:
		return true
	case <-ctx.Done():
		return false
	}
}

func (c *Consumer) release() {
	if c.slots != nil {
		<-c.slots
	}
}

func (c *Consumer) sleep(ctx context.Context) bool {
	timer := time.NewTimer(c.pollInterval)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}

// Run consumes messages until ctx is done, then waits for in-flight jobs and
// releases the worker pool. Jobs interrupted by shutdown are redelivered
// after the visibility timeout.
func (c *Consumer) Run(ctx context.Context) error {
	c.logger.Info("consumer started", "concurrency", c.concurrency)
	defer func() {
		c.wg.Wait()
		c.pool.Release()
		c.logger.Info("consumer stopped")
	}()

	for {
		if !c.acquire(ctx) {
			return nil
		}
		msg, err := c.queue.Receive(ctx)
		if err != nil {
			c.release()
			if ctx.Err() != nil {
				return nil
			}
			if !errors.Is(err, ErrNoMessage) {
				c.logger.Error("receive failed", "err", err)
			}
			if !c.sleep(ctx) {
				return nil
			}
			continue
		}

		c.wg.Add(1)
		err = c.pool.Submit(func() {
			defer c.wg.Done()
			defer c.release()
			c.handle(ctx, msg)
		})
		if err != nil {
			c.wg.Done()
			c.release()
			c.logger.Error("submit failed", "id", msg.ID, "err", err)
			if err := c.queue.Retry(ctx, msg, c.pollInterval, err); err != nil {
				c.logger.Error("requeue failed", "id", msg.ID, "err", err)
			}
		}
	}
}

// Drain synchronously handles every message that is ready now and returns
// how many were handled. It is used by one-shot CLI commands and tests.
func (c *Consumer) Drain(ctx context.Context) (int, error) {
	n := 0
	for {
		msg, err := c.queue.Receive(ctx)
		if errors.Is(err, ErrNoMessage) {
			return n, nil
		}
		if err != nil {
			return n, err
		}
		c.handle(ctx, msg)
		n++
	}
}

// Retryable reports whether err should consume another attempt.
func Retryable(err error) bool {
	return !IsPermanent(err) && core.Retryable(err)
}

func (c *Consumer) call(ctx context.Context, job Job) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panic: %v", r)
		}
	}()
	return c.handler(ctx, job)
}

func (c *Consumer) handle(ctx context.Context, msg *Message) {
	logger := c.logger.With("id", msg.ID, "document", msg.Job.DocumentID, "attempt", msg.Attempt)
	err := c.call(ctx, msg.Job)
	if err == nil {
		if err := c.queue.Ack(ctx, msg); err != nil {
			logger.Error("ack failed", "err", err)
		}
		return
	}

	if Retryable(err) && !msg.Exhausted() {
		delay := msg.Options.Delay(msg.Attempt)
		logger.Warn("job failed, will retry", "delay", delay, "err", err)
		if err := c.queue.Retry(ctx, msg, delay, err); err != nil {
			logger.Error("retry failed", "err", err)
		}
		return
	}

	logger.Error("job failed terminally", "err", err)
	if c.onExhausted != nil {
		c.onExhausted(ctx, msg, err)
	}
	if err := c.queue.Fail(ctx, msg, err); err != nil {
		logger.Error("dead-letter failed", "err", err)
	}
}

// Release frees the worker pool of a consumer that was only drained and
// never run. Run releases the pool itself.
func (c *Consumer) Release() {
	c.pool.Release()
}
