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


package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/poiesic/strata/core"
	"github.com/poiesic/strata/queue"
	"github.com/poiesic/strata/storage"
)

// Stage and queue names.
const (
	StageBronze = "bronze"
	StageSilver = "silver"
	StageGold   = "gold"
	// QueueEmbedding is the legacy single-stage queue Bronze falls back to
	// when Silver cannot be enqueued.
	QueueEmbedding = "embedding"
)

// Stages lists the stage queues in processing order.
var Stages = []string{StageBronze, StageSilver, StageGold, QueueEmbedding}

// StageConfig controls retries and concurrency of one stage consumer.
type StageConfig struct {
	Attempts    int
	Backoff     time.Duration // base delay, doubled after each failed attempt
	Concurrency int           // 0 is unbounded
}

// Options converts the config into job options.
func (c StageConfig) Options() queue.Options {
	return queue.NewOptions(c.Attempts, c.Backoff)
}

// DefaultStageConfigs returns three attempts with a one second exponential
// backoff for every stage. The embedding-dependent stages run one job at a
// time so a single embedding backend is never overloaded. When Gold is
// bounded, Gold and the embedding queue share Gold's limit between them.
func DefaultStageConfigs() map[string]StageConfig {
	return map[string]StageConfig{
		StageBronze:    {Attempts: 3, Backoff: time.Second},
		StageSilver:    {Attempts: 3, Backoff: time.Second},
		StageGold:      {Attempts: 3, Backoff: time.Second, Concurrency: 1},
		QueueEmbedding: {Attempts: 3, Backoff: time.Second, Concurrency: 1},
	}
}

// Queues holds one durable queue per stage.
type Queues struct {
	Bronze    queue.Queue
	Silver    queue.Queue
	Gold      queue.Queue
	Embedding queue.Queue
}

// ByName returns the queue for a stage name.
func (q Queues) ByName(name string) (queue.Queue, error) {
	switch name {
	case StageBronze:
		return q.Bronze, nil
	case StageSilver:
		return q.Silver, nil
	case StageGold:
		return q.Gold, nil
	case QueueEmbedding:
		return q.Embedding, nil
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownStage, name)
}

func (q Queues) complete() bool {
	return q.Bronze != nil && q.Silver != nil && q.Gold != nil && q.Embedding != nil
}

// loadDocument fetches a live document. Soft-deleted documents are reported
// as not found.
func loadDocument(ctx context.Context, docs storage.DocumentRepository, id string) (*core.Document, error) {
	doc, err := docs.GetDocument(ctx, id)
	if err != nil {
		return nil, err
	}
	if doc.Deleted() {
		return nil, fmt.Errorf("%w: document %s is deleted", core.ErrNotFound, id)
	}
	return doc, nil
}

// resolveCategory returns the document's category when it exists and is
// active, and nil otherwise.
func resolveCategory(ctx context.Context, cats storage.CategoryRepository, doc *core.Document, logger *slog.Logger) (*core.DocumentCategory, error) {
	if doc.CategoryID == "" {
		return nil, nil
	}
	cat, err := cats.GetCategory(ctx, doc.CategoryID)
	if errors.Is(err, core.ErrNotFound) {
		logger.Warn("category not found, using defaults", "category", doc.CategoryID)
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if !cat.Active {
		logger.Info("category inactive, using defaults", "category", cat.ID)
		return nil, nil
	}
	return cat, nil
}

// chunkingConfig returns the category's chunking settings or the defaults.
func chunkingConfig(cat *core.DocumentCategory) core.ChunkingConfig {
	if cat == nil {
		return core.DefaultChunkingConfig()
	}
	return cat.Chunking
}

// targetSet returns the category's target layers, or every layer when the
// document has no usable category.
func targetSet(cat *core.DocumentCategory) []core.TargetLayer {
	if cat == nil {
		return core.AllTargets
	}
	return cat.TargetGoldLayers
}
