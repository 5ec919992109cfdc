package stores

import (
	"context"
	"time"
)

// ChunkRow is the denormalized record written to the analytics engine.
type ChunkRow struct {
	ChunkID      string
	DocumentID   string
	DocumentName string
	CategoryID   string
	CategoryName string
	ChunkIndex   int
	Content      string
	TokenCount   int
	CharCount    int
	EntityCount  int
	HasTable     bool
	HasImage     bool
	Entities     string // JSON array
	Sections     string // JSON array
	CreatedAt    time.Time
}

// AnalyticsStore is the SQL analytics engine (target A).
type AnalyticsStore interface {
	// IsReady reports whether schema bootstrap has succeeded.
	IsReady() bool

	// Execute runs a parameterized statement and returns its rows.
	Execute(ctx context.Context, query string, args ...any) ([]map[string]any, error)

	// InsertChunk writes one chunk row keyed by chunk id, replacing an existing row.
	InsertChunk(ctx context.Context, row ChunkRow) Result

	Close() error
}

// Vertex is a property graph vertex.
type Vertex struct {
	ID    string
	Label string
	Props map[string]any
}

// Edge is a directed property graph edge.
type Edge struct {
	ID    string
	From  string
	To    string
	Label string
	Props map[string]any
}

// GraphStore is the property graph (target B).
type GraphStore interface {
	// UpsertVertex creates or replaces a vertex.
	UpsertVertex(ctx context.Context, v Vertex) Result

	// InsertEdge creates or replaces an edge between two existing vertices.
	InsertEdge(ctx context.Context, e Edge) Result

	Close() error
}

// Point is one vector with its payload.
type Point struct {
	ID      string
	Vector  []float32
	Payload map[string]any
}

// VectorFilter restricts a vector search. Zero values match everything.
type VectorFilter struct {
	DocumentID string
}

// VectorMatch is one search hit.
type VectorMatch struct {
	ID      string
	Score   float32
	Payload map[string]any
}

// VectorStore is the vector index (target C).
type VectorStore interface {
	// UpsertVectors writes points keyed by id, replacing existing ones.
	UpsertVectors(ctx context.Context, points []Point) Result

	// SearchVectors returns up to limit points scoring at least threshold,
	// best first.
	SearchVectors(ctx context.Context, vector []float32, limit int, threshold float32, filter VectorFilter) ([]VectorMatch, error)

	// DeleteByDocument removes every point whose payload names the document.
	DeleteByDocument(ctx context.Context, documentID string) error

	Close() error
}

// Payload keys shared by every vector store.
const (
	PayloadDocumentID = "document_id"
	PayloadChunkIndex = "chunk_index"
)
