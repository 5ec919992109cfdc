// Package storage provides the storage abstraction layer for strata.
//
// This package defines repository interfaces that decouple the pipeline stages
// from the storage engine holding documents, categories, Silver chunks and Gold
// distribution records.
//
// # Architecture
//
// The storage layer follows the Repository pattern:
//
//   - DocumentRepository: documents and their per-stage state
//   - CategoryRepository: chunking and distribution settings
//   - ChunkRepository: Silver chunks and Gold distribution records
//   - Repository: all of the above over one engine
//
// ChunkRepository.ReplaceChunks is the only multi-record write that must be
// atomic: a Silver run either replaces every chunk, every distribution record
// and the document together, or changes nothing.
//
// # Usage
//
//	repo, err := badger.NewRepository(backend)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer repo.Close()
//
// Use in tests with in-memory storage:
//
//	repo, backend, err := badger.NewMemoryRepository()
//
// # Thread Safety
//
// All repository implementations must be thread-safe and support
// concurrent access from multiple goroutines.
//
// # Errors
//
// Lookups of missing records return errors wrapping core.ErrNotFound so
// callers can classify them with errors.Is without importing this package.
package storage
