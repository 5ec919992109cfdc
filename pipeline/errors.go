package pipeline

import "errors"

var (
	// ErrRepositoryRequired is returned when a repository is not provided.
	ErrRepositoryRequired = errors.New("repository required")

	// ErrBlobStoreRequired is returned when a blob store is not provided.
	ErrBlobStoreRequired = errors.New("blob store required")

	// ErrExtractorsRequired is returned when an extractor registry is not provided.
	ErrExtractorsRequired = errors.New("extractor registry required")

	// ErrQueuesRequired is returned when a stage queue is missing.
	ErrQueuesRequired = errors.New("bronze, silver, gold and embedding queues required")

	// ErrUnknownStage is returned for a stage name that does not exist.
	ErrUnknownStage = errors.New("unknown stage")

	// ErrEmptyUpload is returned when an upload carries no bytes.
	ErrEmptyUpload = errors.New("upload is empty")

	// ErrNoText is returned when extraction yields only whitespace.
	ErrNoText = errors.New("document contains no text")
)
