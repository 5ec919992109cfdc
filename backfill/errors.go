package backfill

import "errors"

var (
	// ErrEnqueuerRequired is returned when no enqueuer is provided.
	ErrEnqueuerRequired = errors.New("enqueuer is required")

	// ErrRepositoryRequired is returned when no document repository is provided.
	ErrRepositoryRequired = errors.New("document repository is required")
)
