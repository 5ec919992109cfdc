package blob

import (
	"context"
	"errors"
	"io"
)

// ErrInvalidKey indicates a key that is empty or escapes the store root.
var ErrInvalidKey = errors.New("invalid blob key")

// Store persists document bytes by key.
type Store interface {
	Put(ctx context.Context, key string, r io.Reader, size int64, contentType string) error
	Get(ctx context.Context, key string) ([]byte, error)
	Delete(ctx context.Context, key string) error
}
