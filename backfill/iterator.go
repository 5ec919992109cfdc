// Copyright 2025 Poiesic Systems
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package backfill

import (
	"context"

	"github.com/poiesic/strata/core"
	"github.com/poiesic/strata/storage"
)

const (
	// DefaultBatchSize is the default number of documents handed to each callback
	DefaultBatchSize = 100
)

// DocumentIterator iterates over live documents in batches.
type DocumentIterator struct {
	repo      storage.DocumentRepository
	filter    storage.DocumentFilter
	batchSize int
}

// NewDocumentIterator creates a new document iterator.
// batchSize: number of documents per batch (defaults when <= 0)
func NewDocumentIterator(repo storage.DocumentRepository, filter storage.DocumentFilter, batchSize int) *DocumentIterator {
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}
	return &DocumentIterator{
		repo:      repo,
		filter:    filter,
		batchSize: batchSize,
	}
}

// Count returns how many documents the iterator will visit.
func (it *DocumentIterator) Count(ctx context.Context) (int, error) {
	docs, err := it.repo.ListDocuments(ctx, it.filter)
	if err != nil {
		return 0, err
	}
	return len(docs), nil
}

// ForEach calls fn for each batch of documents, oldest first.
// Iteration stops on the first error from fn.
// Context cancellation is checked between batches.
func (it *DocumentIterator) ForEach(ctx context.Context, fn func([]*core.Document) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	docs, err := it.repo.ListDocuments(ctx, it.filter)
	if err != nil {
		return err
	}

	for i := 0; i < len(docs); i += it.batchSize {
		end := min(i+it.batchSize, len(docs))
		if err := fn(docs[i:end]); err != nil {
			return err
		}
		if err := ctx.Err(); err != nil {
			return err
		}
	}
	return nil
}
