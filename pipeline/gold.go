package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"strconv"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/panjf2000/ants/v2"
	"github.com/poiesic/strata/ai"
	"github.com/poiesic/strata/core"
	"github.com/poiesic/strata/storage"
	"github.com/poiesic/strata/stores"
)

// Graph labels written by the graph target.
const (
	LabelDocument = "Document"
	LabelChunk    = "Chunk"
	LabelEntity   = "Entity"
	EdgeHasChunk  = "HAS_CHUNK"
	EdgeMentions  = "MENTIONS"
)

// errNoEmbedder is recorded when a vector store is configured without an embedder.
var errNoEmbedder = errors.New("no embedder configured")

// Gold delivers chunks to the analytics, graph and vector targets.
// A nil store is treated as unavailable and its deliveries are SKIPPED.
type Gold struct {
	repo      storage.Repository
	analytics stores.AnalyticsStore
	graph     stores.GraphStore
	vectors   stores.VectorStore
	embedder  ai.Embedder
	pool      *ants.Pool // nil delivers chunks sequentially
	now       func() time.Time
	logger    *slog.Logger
}

// DistributeDocument attempts every PENDING delivery of a document and
// recomputes its aggregate gold status. Target failures are recorded on the
// distribution records and never returned; an error means the records
// themselves could not be read or written.
func (g *Gold) DistributeDocument(ctx context.Context, id string) error {
	logger := g.logger.With("document", id)

	doc, err := loadDocument(ctx, g.repo, id)
	if err != nil {
		return err
	}
	if doc.Silver.Status != core.StageCompleted {
		return fmt.Errorf("%w: silver is %s", core.ErrPreconditionFailed, doc.Silver.Status)
	}
	cat, err := resolveCategory(ctx, g.repo, doc, logger)
	if err != nil {
		return err
	}
	chunks, err := g.repo.GetChunks(ctx, id)
	if err != nil {
		return err
	}
	dists, err := g.repo.GetDistributions(ctx, id)
	if err != nil {
		return err
	}
	byID := make(map[string]*core.SilverChunk, len(chunks))
	for _, c := range chunks {
		byID[c.ID] = c
	}

	doc.GoldStatus = core.GoldProcessing
	if err := g.repo.UpdateDocument(ctx, doc); err != nil {
		return fmt.Errorf("mark gold processing: %w", err)
	}

	if err := g.deliverAll(ctx, doc, cat, byID, dists); err != nil {
		return err
	}
	return g.finish(ctx, id, dists, logger)
}

// ResetFailed sets every FAILED delivery of a document back to PENDING and
// returns how many were reset. The next DistributeDocument attempts them.
func (g *Gold) ResetFailed(ctx context.Context, id string) (int, error) {
	if _, err := loadDocument(ctx, g.repo, id); err != nil {
		return 0, err
	}
	dists, err := g.repo.GetDistributions(ctx, id)
	if err != nil {
		return 0, err
	}
	reset := 0
	for _, d := range dists {
		changed := false
		for _, layer := range core.AllTargets {
			ts := d.Target(layer)
			if ts.Status != core.DeliveryFailed {
				continue
			}
			ts.Status = core.DeliveryPending
			ts.UpdatedAt = g.now()
			changed = true
			reset++
		}
		if changed {
			if err := g.repo.UpdateDistribution(ctx, d); err != nil {
				return reset, err
			}
		}
	}
	return reset, nil
}

func (g *Gold) deliverAll(ctx context.Context, doc *core.Document, cat *core.DocumentCategory, byID map[string]*core.SilverChunk, dists []*core.GoldDistribution) error {
	if g.pool == nil {
		for _, d := range dists {
			if err := g.deliverChunk(ctx, doc, cat, byID[d.SilverChunkID], d); err != nil {
				return err
			}
		}
		return nil
	}

	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		firstErr error
	)
	record := func(err error) {
		mu.Lock()
		defer mu.Unlock()
		if firstErr == nil {
			firstErr = err
		}
	}
	for _, d := range dists {
		wg.Add(1)
		err := g.pool.Submit(func() {
			defer wg.Done()
			if err := g.deliverChunk(ctx, doc, cat, byID[d.SilverChunkID], d); err != nil {
				record(err)
			}
		})
		if err != nil {
			wg.Done()
			record(err)
		}
	}
	wg.Wait()
	return firstErr
}

// deliverChunk delivers one chunk to each of its PENDING targets and stores
// the updated record.
func (g *Gold) deliverChunk(ctx context.Context, doc *core.Document, cat *core.DocumentCategory, chunk *core.SilverChunk, d *core.GoldDistribution) error {
	changed := false
	for _, layer := range core.AllTargets {
		ts := d.Target(layer)
		if ts.Status != core.DeliveryPending {
			continue
		}
		var res stores.Result
		if chunk == nil {
			res = stores.Failed(fmt.Errorf("%w: chunk %s", core.ErrNotFound, d.SilverChunkID))
		} else {
			res = g.deliver(ctx, layer, doc, cat, chunk)
		}
		g.apply(ts, res)
		changed = true
		if res.Status == stores.StatusError {
			g.logger.Warn("delivery failed",
				"document", doc.ID, "chunk", d.ChunkIndex, "target", layer.String(), "err", res.Err)
		}
	}
	if !changed {
		return nil
	}
	return g.repo.UpdateDistribution(ctx, d)
}

func (g *Gold) deliver(ctx context.Context, layer core.TargetLayer, doc *core.Document, cat *core.DocumentCategory, chunk *core.SilverChunk) (res stores.Result) {
	defer func() {
		if r := recover(); r != nil {
			res = stores.Failed(fmt.Errorf("delivery panic: %v", r))
		}
	}()
	switch layer {
	case core.TargetAnalytics:
		return g.deliverAnalytics(ctx, doc, cat, chunk)
	case core.TargetGraph:
		return g.deliverGraph(ctx, doc, chunk)
	case core.TargetVector:
		return g.deliverVector(ctx, doc, cat, chunk)
	}
	return stores.Failed(fmt.Errorf("%w: %q", core.ErrInvalidTargetLayer, layer))
}

func (g *Gold) apply(ts *core.TargetState, res stores.Result) {
	ts.UpdatedAt = g.now()
	if len(res.Details) > 0 {
		if ts.Details == nil {
			ts.Details = make(map[string]string, len(res.Details))
		}
		maps.Copy(ts.Details, res.Details)
	}
	switch res.Status {
	case stores.StatusOk:
		ts.Status = core.DeliveryCompleted
		ts.RecordID = res.RecordID
		ts.LastError = ""
	case stores.StatusUnavailable:
		ts.Status = core.DeliverySkipped
		ts.LastError = res.Error()
	default:
		ts.Status = core.DeliveryFailed
		ts.LastError = res.Error()
		ts.RetryCount++
	}
}

func (g *Gold) deliverAnalytics(ctx context.Context, doc *core.Document, cat *core.DocumentCategory, chunk *core.SilverChunk) stores.Result {
	if g.analytics == nil || !g.analytics.IsReady() {
		return stores.Unavailable(errors.New("analytics engine not ready"))
	}
	entities, err := json.Marshal(entityPayload(chunk.Entities))
	if err != nil {
		return stores.Failed(err)
	}
	sections, err := json.Marshal(sectionPayload(chunk.Sections))
	if err != nil {
		return stores.Failed(err)
	}
	row := stores.ChunkRow{
		ChunkID:      chunk.ID,
		DocumentID:   doc.ID,
		DocumentName: doc.Name,
		CategoryID:   doc.CategoryID,
		ChunkIndex:   chunk.ChunkIndex,
		Content:      chunk.Content,
		TokenCount:   chunk.TokenCount,
		CharCount:    utf8.RuneCountInString(chunk.Content),
		EntityCount:  len(chunk.Entities),
		HasTable:     chunk.HasTable,
		HasImage:     chunk.HasImage,
		Entities:     string(entities),
		Sections:     string(sections),
		CreatedAt:    chunk.CreatedAt,
	}
	if cat != nil {
		row.CategoryName = cat.Name
	}
	return g.analytics.InsertChunk(ctx, row)
}

func (g *Gold) deliverGraph(ctx context.Context, doc *core.Document, chunk *core.SilverChunk) stores.Result {
	if g.graph == nil {
		return stores.Unavailable(errors.New("graph store not configured"))
	}
	docVertex := "document-" + doc.ID
	chunkVertex := core.ChunkVertexID(chunk.ID)

	res := g.graph.UpsertVertex(ctx, stores.Vertex{
		ID:    chunkVertex,
		Label: LabelChunk,
		Props: map[string]any{
			"chunk_id":     chunk.ID,
			"document_id":  doc.ID,
			"chunk_index":  chunk.ChunkIndex,
			"token_count":  chunk.TokenCount,
			"entity_count": len(chunk.Entities),
			"has_table":    chunk.HasTable,
			"has_image":    chunk.HasImage,
			"preview":      preview(chunk.Content, 200),
		},
	})
	if !res.IsOk() {
		return res
	}

	res = g.graph.UpsertVertex(ctx, stores.Vertex{
		ID:    docVertex,
		Label: LabelDocument,
		Props: map[string]any{"name": doc.Name, "mime_type": doc.MimeType, "category_id": doc.CategoryID},
	})
	if !res.IsOk() {
		return res
	}
	res = g.graph.InsertEdge(ctx, stores.Edge{
		From:  docVertex,
		To:    chunkVertex,
		Label: EdgeHasChunk,
		Props: map[string]any{"chunk_index": chunk.ChunkIndex},
	})
	if !res.IsOk() {
		return res
	}

	for _, e := range chunk.Entities {
		entityVertex := core.EntityVertexID(e.Type, e.Value)
		res = g.graph.UpsertVertex(ctx, stores.Vertex{
			ID:    entityVertex,
			Label: LabelEntity,
			Props: map[string]any{"type": e.Type, "value": e.Value},
		})
		if !res.IsOk() {
			return res
		}
		res = g.graph.InsertEdge(ctx, stores.Edge{
			From:  chunkVertex,
			To:    entityVertex,
			Label: EdgeMentions,
			Props: map[string]any{"confidence": e.Confidence, "start": e.Start, "end": e.End},
		})
		if !res.IsOk() {
			return res
		}
	}
	return stores.Ok(chunkVertex, map[string]string{
		"vertex":   chunkVertex,
		"entities": strconv.Itoa(len(chunk.Entities)),
	})
}

// deliverVector embeds the chunk and upserts it keyed by chunk id. An
// embedding failure is a FAILED delivery: the vector target has no fallback.
func (g *Gold) deliverVector(ctx context.Context, doc *core.Document, cat *core.DocumentCategory, chunk *core.SilverChunk) stores.Result {
	if g.vectors == nil {
		return stores.Unavailable(errors.New("vector store not configured"))
	}
	if g.embedder == nil {
		return stores.Failed(errNoEmbedder)
	}
	vec, err := g.embedder.EmbedText(ctx, chunk.Content)
	if err != nil {
		return stores.Failed(fmt.Errorf("embed chunk: %w", err))
	}
	if len(vec) == 0 {
		return stores.Failed(ai.ErrEmptyEmbedding)
	}

	payload := map[string]any{
		stores.PayloadDocumentID: doc.ID,
		stores.PayloadChunkIndex: chunk.ChunkIndex,
		"chunk_id":               chunk.ID,
		"document_name":          doc.Name,
		"category_id":            doc.CategoryID,
		"content":                chunk.Content,
		"token_count":            chunk.TokenCount,
		"has_table":              chunk.HasTable,
		"has_image":              chunk.HasImage,
		"sections":               sectionPayload(chunk.Sections),
		"entities":               entityPayload(chunk.Entities),
	}
	if cat != nil && cat.Chunking.EmbeddingModel != "" {
		payload["embedding_model"] = cat.Chunking.EmbeddingModel
	}

	res := g.vectors.UpsertVectors(ctx, []stores.Point{{ID: chunk.ID, Vector: vec, Payload: payload}})
	if !res.IsOk() {
		return res
	}
	details := map[string]string{"dimension": strconv.Itoa(len(vec))}
	maps.Copy(details, res.Details)
	return stores.Ok(chunk.ID, details)
}

// finish folds the records into the document's aggregate gold status.
func (g *Gold) finish(ctx context.Context, id string, dists []*core.GoldDistribution, logger *slog.Logger) error {
	doc, err := g.repo.GetDocument(ctx, id)
	if err != nil {
		return err
	}
	summary := core.Summarize(id, dists)
	now := g.now()

	doc.GoldStatus = summary.Status
	doc.GoldError = ""
	for _, layer := range core.AllTargets {
		c := summary.Targets[layer]
		if c.Completed == 0 || c.Pending+c.Processing+c.Failed > 0 {
			continue
		}
		if doc.GoldDistributedAt == nil {
			doc.GoldDistributedAt = make(map[core.TargetLayer]time.Time, len(core.AllTargets))
		}
		if _, ok := doc.GoldDistributedAt[layer]; !ok {
			doc.GoldDistributedAt[layer] = now
		}
	}
	if summary.Status != core.GoldCompleted {
		doc.GoldError = firstFailure(dists)
	}
	if err := g.repo.UpdateDocument(ctx, doc); err != nil {
		return fmt.Errorf("update gold status: %w", err)
	}

	logger.Info("gold distribution finished",
		"status", summary.Status,
		"chunks", summary.Chunks,
		"analytics", summary.Targets[core.TargetAnalytics],
		"graph", summary.Targets[core.TargetGraph],
		"vector", summary.Targets[core.TargetVector])
	return nil
}

func firstFailure(dists []*core.GoldDistribution) string {
	for _, d := range dists {
		for _, layer := range core.AllTargets {
			ts := d.Target(layer)
			if ts.Status == core.DeliveryFailed {
				return fmt.Sprintf("chunk %d %s: %s", d.ChunkIndex, layer, ts.LastError)
			}
		}
	}
	return ""
}

func entityPayload(entities []core.Entity) []any {
	out := make([]any, len(entities))
	for i, e := range entities {
		out[i] = map[string]any{
			"type":       e.Type,
			"value":      e.Value,
			"confidence": e.Confidence,
			"start":      e.Start,
			"end":        e.End,
		}
	}
	return out
}

func sectionPayload(sections []core.Section) []any {
	out := make([]any, len(sections))
	for i, s := range sections {
		out[i] = map[string]any{"level": s.Level, "title": s.Title}
	}
	return out
}

// preview returns at most n runes of s.
func preview(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	r := []rune(s)
	return string(r[:n])
}
