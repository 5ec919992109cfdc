package search

import (
	"context"
	"errors"
	"log/slog"
	"slices"
	"strings"

	"github.com/poiesic/strata/ai"
	"github.com/poiesic/strata/annotate"
	"github.com/poiesic/strata/core"
	"github.com/poiesic/strata/storage"
	"github.com/poiesic/strata/stores"
)

// DefaultThreshold is the minimum cosine similarity of a semantic hit.
const DefaultThreshold = 0.60

// DefaultLimit is used when a query sets no limit.
const DefaultLimit = 10

// Hit is one ranked chunk.
type Hit struct {
	ChunkID    string
	DocumentID string
	ChunkIndex int
	Content    string
	Similarity float32 // raw vector score
	Score      float32 // after re-ranking
	Entities   []core.Entity
}

// Query narrows a search.
type Query struct {
	Text       string
	Limit      int
	DocumentID string  // optional
	MinScore   float32 // zero uses the searcher threshold
}

// Searcher ranks chunks in the vector target against a text query.
type Searcher struct {
	vectors   stores.VectorStore
	docs      storage.DocumentRepository
	embedder  ai.Embedder
	threshold float32
	logger    *slog.Logger
}

// Option configures a Searcher.
type Option func(*Searcher) error

// WithLogger sets a custom logger.
// Default is slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(s *Searcher) error {
		if logger == nil {
			logger = slog.Default()
		}
		s.logger = logger
		return nil
	}
}

// WithThreshold sets the minimum similarity of a semantic hit.
// Default is DefaultThreshold.
func WithThreshold(threshold float32) Option {
	return func(s *Searcher) error {
		if threshold < -1 || threshold > 1 {
			return errors.New("threshold must be between -1 and 1")
		}
		s.threshold = threshold
		return nil
	}
}

// NewSearcher creates a new searcher.
func NewSearcher(
	vectors stores.VectorStore,
	docs storage.DocumentRepository,
	provider ai.AIProvider,
	opts ...Option,
) (*Searcher, error) {
	if vectors == nil {
		return nil, ErrVectorStoreRequired
	}
	if docs == nil {
		return nil, ErrRepositoryRequired
	}
	if provider == nil {
		return nil, ErrAIProviderRequired
	}

	s := &Searcher{
		vectors:   vectors,
		docs:      docs,
		embedder:  provider.Embedder(),
		threshold: DefaultThreshold,
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		if err := opt(s); err != nil {
			return nil, err
		}
	}
	return s, nil
}

// FindSimilar returns up to q.Limit chunks ranked by relevance score.
func (s *Searcher) FindSimilar(ctx context.Context, q Query) ([]*Hit, error) {
	return s.FindSimilarWithMonitor(ctx, q, nil)
}

// FindSimilarWithMonitor is FindSimilar with a monitor receiving callbacks at
// each step of the search.
func (s *Searcher) FindSimilarWithMonitor(ctx context.Context, q Query, monitor SearchMonitor) ([]*Hit, error) {
	if monitor == nil {
		monitor = &noopMonitor{}
	}
	text := strings.TrimSpace(q.Text)
	if text == "" {
		return nil, ErrEmptyQuery
	}
	limit := q.Limit
	if limit <= 0 {
		limit = DefaultLimit
	}
	threshold := s.threshold
	if q.MinScore != 0 {
		threshold = q.MinScore
	}

	monitor.Start(text)

	// 1. Semantic search
	embedding, err := s.embedder.EmbedText(ctx, text)
	if err != nil {
		s.logger.Error("error generating embedding for query", "query", text, "err", err)
		return nil, err
	}
	// Over-fetch so deleted documents and re-ranking do not starve the result.
	matches, err := s.vectors.SearchVectors(ctx, embedding, limit*2, threshold, stores.VectorFilter{DocumentID: q.DocumentID})
	if err != nil {
		s.logger.Error("error querying for similar chunks", "err", err)
		return nil, err
	}
	ids := make([]string, len(matches))
	for i, m := range matches {
		ids[i] = m.ID
	}
	monitor.AfterSemanticSearch(ids)

	// 2. Entities in the query
	queryEntities := annotate.Entities(text)
	monitor.AfterQueryEntityExtraction(queryEntities)
	wanted := make(map[string]bool, len(queryEntities))
	for _, e := range queryEntities {
		wanted[e.Type+"|"+e.Value] = true
	}

	// 3. Score
	live := make(map[string]bool)
	hits := make([]*Hit, 0, len(matches))
	for _, m := range matches {
		hit := hitFromMatch(m)
		ok, err := s.liveDocument(ctx, hit.DocumentID, live)
		if err != nil {
			return nil, err
		}
		if !ok {
			continue
		}

		hit.Score = hit.Similarity
		if mentionsAny(hit.Entities, wanted) {
			// Entity match: boost by 1.5x
			hit.Score *= 1.5
			monitor.EntityHit(hit)
		} else {
			monitor.SemanticHit(hit)
		}
		if containsAllQueryWords(hit.Content, text) {
			hit.Score += 0.3
		}
		hits = append(hits, hit)
	}

	slices.SortStableFunc(hits, func(a, b *Hit) int {
		switch {
		case a.Score > b.Score:
			return -1
		case a.Score < b.Score:
			return 1
		}
		return 0
	})
	if len(hits) > limit {
		hits = hits[:limit]
	}
	monitor.Finish(hits)
	return hits, nil
}

// liveDocument reports whether a document exists and is not deleted,
// caching answers in seen.
func (s *Searcher) liveDocument(ctx context.Context, id string, seen map[string]bool) (bool, error) {
	if ok, cached := seen[id]; cached {
		return ok, nil
	}
	doc, err := s.docs.GetDocument(ctx, id)
	switch {
	case errors.Is(err, core.ErrNotFound):
		seen[id] = false
	case err != nil:
		return false, err
	default:
		seen[id] = !doc.Deleted()
	}
	if !seen[id] {
		s.logger.Debug("dropping hit from unavailable document", "document", id)
	}
	return seen[id], nil
}

func mentionsAny(entities []core.Entity, wanted map[string]bool) bool {
	for _, e := range entities {
		if wanted[e.Type+"|"+e.Value] {
			return true
		}
	}
	return false
}

// hitFromMatch reads the payload written by Gold. Numbers may come back as
// float64 after a JSON round trip.
func hitFromMatch(m stores.VectorMatch) *Hit {
	hit := &Hit{ChunkID: m.ID, Similarity: m.Score}
	if v, ok := m.Payload["chunk_id"].(string); ok && v != "" {
		hit.ChunkID = v
	}
	hit.DocumentID, _ = m.Payload[stores.PayloadDocumentID].(string)
	hit.Content, _ = m.Payload["content"].(string)
	hit.ChunkIndex = toInt(m.Payload[stores.PayloadChunkIndex])

	list, _ := m.Payload["entities"].([]any)
	for _, item := range list {
		e, ok := item.(map[string]any)
		if !ok {
			continue
		}
		entity := core.Entity{Start: toInt(e["start"]), End: toInt(e["end"])}
		entity.Type, _ = e["type"].(string)
		entity.Value, _ = e["value"].(string)
		entity.Confidence, _ = e["confidence"].(float64)
		hit.Entities = append(hit.Entities, entity)
	}
	return hit
}

func toInt(v any) int {
	switch n := v.(type) {
	case int:
		return n
	case int64:
		return int(n)
	case float64:
		return int(n)
	}
	return 0
}
