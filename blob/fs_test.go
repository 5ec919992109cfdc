package blob

import (
	"bytes"
	"context"
	"testing"

	"github.com/poiesic/strata/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFSStore_RoundTrip(t *testing.T) {
	ctx := context.Background()
	s, err := NewFSStore(t.TempDir())
	require.NoError(t, err)

	require.NoError(t, s.Put(ctx, "docs/a.txt", bytes.NewReader([]byte("hello")), 5, "text/plain"))
	data, err := s.Get(ctx, "docs/a.txt")
	require.NoError(t, err)
	assert.Equal(t, []byte("hello"), data)

	require.NoError(t, s.Delete(ctx, "docs/a.txt"))
	_, err = s.Get(ctx, "docs/a.txt")
	assert.ErrorIs(t, err, core.ErrNotFound)

	// deleting twice is fine
	assert.NoError(t, s.Delete(ctx, "docs/a.txt"))
}

func TestFSStore_RejectsEscapingKeys(t *testing.T) {
	s, err := NewFSStore(t.TempDir())
	require.NoError(t, err)
	for _, key := range []string{"", "../etc/passwd", "a/../../b"} {
		_, err := s.Get(context.Background(), key)
		assert.ErrorIs(t, err, ErrInvalidKey, key)
	}
}
