package graph

import (
	"context"
	"os"
	"testing"

	"github.com/poiesic/strata/stores"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecordTableNames(t *testing.T) {
	assert.Equal(t, "graph_vertices", VertexRecord{}.TableName())
	assert.Equal(t, "graph_edges", EdgeRecord{}.TableName())
}

// TestGormStore_Live runs against PostgreSQL when STRATA_TEST_POSTGRES is set.
func TestGormStore_Live(t *testing.T) {
	dsn := os.Getenv("STRATA_TEST_POSTGRES")
	if dsn == "" {
		t.Skip("STRATA_TEST_POSTGRES not set")
	}
	s, err := OpenPostgres(dsn, nil)
	require.NoError(t, err)
	defer s.Close()
	ctx := context.Background()

	require.True(t, s.UpsertVertex(ctx, stores.Vertex{ID: "test-chunk", Label: "Chunk"}).IsOk())
	require.True(t, s.UpsertVertex(ctx, stores.Vertex{ID: "test-entity", Label: "EMAIL"}).IsOk())
	res := s.InsertEdge(ctx, stores.Edge{From: "test-chunk", To: "test-entity", Label: "MENTIONS"})
	require.True(t, res.IsOk(), res.Error())
	assert.True(t, s.InsertEdge(ctx, stores.Edge{From: "test-chunk", To: "test-entity", Label: "MENTIONS"}).IsOk())
}
