package ai

import "errors"

var (
	// ErrEmptyEmbedding indicates the backend answered without a vector.
	ErrEmptyEmbedding = errors.New("embedding backend returned no vector")

	// ErrDimensionMismatch indicates the backend returned a vector of unexpected size.
	ErrDimensionMismatch = errors.New("embedding dimension mismatch")

	// ErrUnknownProvider indicates the configured provider name is not supported.
	ErrUnknownProvider = errors.New("unknown ai provider")
)
