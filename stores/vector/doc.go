// Package vector implements the vector index target.
//
// BadgerStore is an embedded exact-search index that scores every stored
// point by cosine similarity. QdrantStore delegates to a Qdrant collection.
// Point ids are chunk ids, so re-delivering a chunk overwrites its point.
package vector
