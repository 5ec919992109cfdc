package queue

import "errors"

var (
	// ErrNoMessage is returned by Receive when no message is ready.
	ErrNoMessage = errors.New("no messages in queue")

	// ErrInvalidMaxAttempts is returned when maxAttempts is <= 0.
	ErrInvalidMaxAttempts = errors.New("maxAttempts must be greater than 0")

	// ErrQueueNameRequired is returned when a queue is created without a name.
	ErrQueueNameRequired = errors.New("queue name is required")

	// ErrQueueRequired is returned when a consumer is created without a queue.
	ErrQueueRequired = errors.New("queue is required")

	// ErrHandlerRequired is returned when a consumer is created without a handler.
	ErrHandlerRequired = errors.New("handler is required")

	// ErrEmptyJob is returned when a job has no document id.
	ErrEmptyJob = errors.New("job has no document id")
)

// permanentError marks an error that must not be retried.
type permanentError struct {
	err error
}

func (p *permanentError) Error() string { return p.err.Error() }
func (p *permanentError) Unwrap() error { return p.err }

// Permanent wraps err so the consumer treats it as terminal on the first
// attempt. Permanent(nil) returns nil.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// IsPermanent reports whether err or anything it wraps was marked Permanent.
func IsPermanent(err error) bool {
	var p *permanentError
	return errors.As(err, &p)
}
