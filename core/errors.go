package core

import "errors"

// Pipeline error taxonomy.
var (
	// ErrNotFound indicates a referenced document, chunk or category is absent.
	ErrNotFound = errors.New("not found")

	// ErrPreconditionFailed indicates a prior stage has not completed.
	ErrPreconditionFailed = errors.New("precondition failed")

	// ErrUnsupported indicates no extractor handles the document's mime type.
	ErrUnsupported = errors.New("unsupported mime type")

	// ErrExtractionFailed indicates the extractor could not read the document.
	ErrExtractionFailed = errors.New("extraction failed")

	// ErrStoreUnavailable indicates a target store is down or not provisioned.
	ErrStoreUnavailable = errors.New("store unavailable")

	// ErrStoreError indicates a transient failure while writing to a store.
	ErrStoreError = errors.New("store error")
)

// Domain validation errors
var (
	// ErrInvalidDocument indicates a Document failed validation.
	ErrInvalidDocument = errors.New("invalid document")

	// ErrInvalidCategory indicates a DocumentCategory failed validation.
	ErrInvalidCategory = errors.New("invalid category")

	// ErrInvalidChunkingConfig indicates chunk size or overlap are out of range.
	ErrInvalidChunkingConfig = errors.New("invalid chunking config")

	// ErrInvalidTargetLayer indicates an unknown gold target layer.
	ErrInvalidTargetLayer = errors.New("invalid target layer")
)

// Retryable reports whether the queue substrate should retry a job that failed with err.
// NotFound, Precondition and Unsupported need a caller to act first.
func Retryable(err error) bool {
	if err == nil {
		return false
	}
	return !errors.Is(err, ErrNotFound) &&
		!errors.Is(err, ErrPreconditionFailed) &&
		!errors.Is(err, ErrUnsupported)
}
