package graph

import (
	"context"
	"testing"

	"github.com/dgraph-io/badger/v4"
	"github.com/poiesic/strata/core"
	"github.com/poiesic/strata/stores"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) (*BadgerStore, *badger.DB) {
	t.Helper()
	db, err := badger.Open(badger.DefaultOptions("").WithInMemory(true).WithLogger(nil))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	s, err := NewBadgerStore(db)
	require.NoError(t, err)
	return s, db
}

func TestBadgerStore_VertexUpsert(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	res := s.UpsertVertex(ctx, stores.Vertex{ID: "chunk-1", Label: "Chunk", Props: map[string]any{"index": 0}})
	require.True(t, res.IsOk())
	assert.Equal(t, "chunk-1", res.RecordID)

	res = s.UpsertVertex(ctx, stores.Vertex{ID: "chunk-1", Label: "Chunk", Props: map[string]any{"index": 1}})
	require.True(t, res.IsOk())

	v, err := s.GetVertex(ctx, "chunk-1")
	require.NoError(t, err)
	assert.EqualValues(t, 1, v.Props["index"])

	_, err = s.GetVertex(ctx, "nope")
	assert.ErrorIs(t, err, core.ErrNotFound)

	assert.Equal(t, stores.StatusError, s.UpsertVertex(ctx, stores.Vertex{}).Status)
}

func TestBadgerStore_Edges(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	require.True(t, s.UpsertVertex(ctx, stores.Vertex{ID: "chunk-1", Label: "Chunk"}).IsOk())
	require.True(t, s.UpsertVertex(ctx, stores.Vertex{ID: "entity-1", Label: "CPF"}).IsOk())

	edge := stores.Edge{From: "chunk-1", To: "entity-1", Label: "MENTIONS", Props: map[string]any{"confidence": 0.95}}
	first := s.InsertEdge(ctx, edge)
	require.True(t, first.IsOk())
	assert.Equal(t, core.EdgeID("chunk-1", "MENTIONS", "entity-1"), first.RecordID)

	// same endpoints and label produce the same edge
	require.True(t, s.InsertEdge(ctx, edge).IsOk())
	out, err := s.OutEdges(ctx, "chunk-1")
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Equal(t, "entity-1", out[0].To)
	assert.Equal(t, 0.95, out[0].Props["confidence"])

	missing := s.InsertEdge(ctx, stores.Edge{From: "chunk-1", To: "entity-404", Label: "MENTIONS"})
	assert.Equal(t, stores.StatusError, missing.Status)
	assert.ErrorIs(t, missing.Err, ErrMissingVertex)
}

func TestBadgerStore_ClosedIsUnavailable(t *testing.T) {
	s, db := newTestStore(t)
	require.NoError(t, db.Close())

	res := s.UpsertVertex(context.Background(), stores.Vertex{ID: "v", Label: "Chunk"})
	assert.True(t, res.IsUnavailable())
	assert.ErrorIs(t, res.Err, core.ErrStoreUnavailable)
}
