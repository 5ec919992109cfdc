package core

import (
	"encoding/hex"
	"strconv"

	"github.com/go-crypt/x/blake2b"
	"github.com/google/uuid"
)

// chunkNamespace scopes the name-based UUIDs generated for chunks.
var chunkNamespace = uuid.MustParse("6f1c2a7e-3b0d-5c8e-9a41-d2f7b3e8c915")

// NewDocumentID returns a fresh random document id.
func NewDocumentID() string {
	return uuid.NewString()
}

// ChunkID derives the id of a chunk from its document and position. Re-chunking a
// document therefore yields the same ids, so downstream stores overwrite instead
// of duplicating.
func ChunkID(documentID string, index int) string {
	return uuid.NewSHA1(chunkNamespace, []byte(documentID+":"+strconv.Itoa(index))).String()
}

// DistributionID derives the distribution record id for a chunk.
func DistributionID(chunkID string) string {
	return "dist-" + chunkID
}

// IDFromContent generates a deterministic ID from text content using BLAKE2b hashing.
// This ensures that identical content produces identical IDs.
func IDFromContent(text string) string {
	h, _ := blake2b.New(8, nil) // 8 bytes = 64 bits
	h.Write([]byte(text))
	return hex.EncodeToString(h.Sum(nil))
}

// EntityVertexID is the graph vertex id for an entity value of a given type.
func EntityVertexID(entityType, value string) string {
	return "entity-" + IDFromContent(entityType+"\x00"+value)
}

// ChunkVertexID is the graph vertex id for a chunk.
func ChunkVertexID(chunkID string) string {
	return "chunk-" + chunkID
}

// EdgeID is the deterministic id of an edge between two vertices.
func EdgeID(from, label, to string) string {
	return "edge-" + IDFromContent(from+"|"+label+"|"+to)
}
