package queue

import (
	"context"
	"time"
)

// BackoffExponential doubles the delay after every failed attempt.
const BackoffExponential = "exponential"

// BackoffFixed waits the same delay after every failed attempt.
const BackoffFixed = "fixed"

// Job is the payload of every stage message.
type Job struct {
	DocumentID string `json:"documentId"`
}

// Backoff describes the delay between attempts.
type Backoff struct {
	Type    string `json:"type"`
	DelayMs int64  `json:"delayMs"`
}

// Options bound how often and how patiently a job is retried.
type Options struct {
	Attempts int     `json:"attempts"`
	Backoff  Backoff `json:"backoff"`
}

// DefaultOptions returns three attempts with a one second exponential backoff.
func DefaultOptions() Options {
	return NewOptions(3, time.Second)
}

// NewOptions returns exponential backoff options.
func NewOptions(attempts int, delay time.Duration) Options {
	return Options{
		Attempts: attempts,
		Backoff:  Backoff{Type: BackoffExponential, DelayMs: delay.Milliseconds()},
	}
}

// Delay returns the wait before the attempt following the given failed
// attempt (1-based): base * 2^(attempt-1) for exponential backoff.
func (o Options) Delay(attempt int) time.Duration {
	return o.Backoff.delay(attempt)
}

func (b Backoff) delay(attempt int) time.Duration {
	base := time.Duration(b.DelayMs) * time.Millisecond
	if b.Type == BackoffFixed || attempt <= 1 {
		return base
	}
	return ExponentialDelay(base, attempt)
}

// ExponentialDelay calculates baseDelay * 2^(attempt-1).
func ExponentialDelay(baseDelay time.Duration, attempt int) time.Duration {
	delay := baseDelay
	for i := 1; i < attempt; i++ {
		delay *= 2
	}
	return delay
}

// Message is a job as stored by a queue.
type Message struct {
	ID         string    `json:"id"`
	Queue      string    `json:"queue"`
	Job        Job       `json:"job"`
	Options    Options   `json:"options"`
	Attempt    int       `json:"attempt"` // receives so far
	EnqueuedAt time.Time `json:"enqueuedAt"`
	VisibleAt  time.Time `json:"visibleAt"`
	LastError  string    `json:"lastError,omitempty"`
	FailedAt   time.Time `json:"failedAt,omitzero"`
}

// Exhausted reports whether the message has used every allowed attempt.
func (m *Message) Exhausted() bool {
	return m.Attempt >= m.Options.Attempts
}

// Stats counts a queue's messages.
type Stats struct {
	Name    string
	Pending int // waiting, delayed or in flight
	Dead    int
}

// Queue is a durable at-least-once message queue.
type Queue interface {
	// Name returns the queue name.
	Name() string

	// Enqueue stores a job that becomes visible immediately.
	Enqueue(ctx context.Context, job Job, opts Options) (*Message, error)

	// Receive claims the oldest visible message, incrementing its attempt
	// counter and hiding it for the visibility timeout.
	// Returns ErrNoMessage when nothing is ready.
	Receive(ctx context.Context) (*Message, error)

	// Ack removes a processed message.
	Ack(ctx context.Context, msg *Message) error

	// Retry makes a message visible again after delay, recording cause.
	Retry(ctx context.Context, msg *Message, delay time.Duration, cause error) error

	// Fail moves a message to the dead set, recording cause.
	Fail(ctx context.Context, msg *Message, cause error) error

	// Dead lists messages that failed terminally, oldest first.
	Dead(ctx context.Context) ([]*Message, error)

	// Stats counts pending and dead messages.
	Stats(ctx context.Context) (Stats, error)
}
