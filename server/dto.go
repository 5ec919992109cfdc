package server

import (
	"time"

	"github.com/poiesic/strata/core"
	"github.com/poiesic/strata/queue"
	"github.com/poiesic/strata/search"
)

type stageResponse struct {
	Status     core.StageStatus `json:"status"`
	Error      string           `json:"error,omitempty"`
	Attempts   int              `json:"attempts"`
	StartedAt  *time.Time       `json:"started_at,omitempty"`
	FinishedAt *time.Time       `json:"finished_at,omitempty"`
}

func optionalTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}

func newStageResponse(s core.StageState) stageResponse {
	return stageResponse{
		Status:     s.Status,
		Error:      s.Error,
		Attempts:   s.Attempts,
		StartedAt:  optionalTime(s.StartedAt),
		FinishedAt: optionalTime(s.FinishedAt),
	}
}

type metadataResponse struct {
	Title     string            `json:"title,omitempty"`
	Author    string            `json:"author,omitempty"`
	Date      string            `json:"date,omitempty"`
	Version   string            `json:"version,omitempty"`
	Words     int               `json:"words"`
	Lines     int               `json:"lines"`
	Chars     int               `json:"chars"`
	Extractor string            `json:"extractor,omitempty"`
	Extra     map[string]string `json:"extra,omitempty"`
}

type documentResponse struct {
	ID                string               `json:"id"`
	Name              string               `json:"name"`
	MimeType          string               `json:"mime_type"`
	SizeBytes         int64                `json:"size_bytes"`
	CategoryID        string               `json:"category_id,omitempty"`
	Metadata          metadataResponse     `json:"metadata"`
	Bronze            stageResponse        `json:"bronze"`
	Silver            stageResponse        `json:"silver"`
	SilverChunkCount  int                  `json:"silver_chunk_count"`
	GoldStatus        core.GoldStatus      `json:"gold_status"`
	GoldError         string               `json:"gold_error,omitempty"`
	GoldDistributedAt map[string]time.Time `json:"gold_distributed_at,omitempty"`
	CreatedAt         time.Time            `json:"created_at"`
	UpdatedAt         time.Time            `json:"updated_at"`
	DeletedAt         *time.Time           `json:"deleted_at,omitempty"`
}

func newDocumentResponse(d *core.Document) documentResponse {
	resp := documentResponse{
		ID:         d.ID,
		Name:       d.Name,
		MimeType:   d.MimeType,
		SizeBytes:  d.SizeBytes,
		CategoryID: d.CategoryID,
		Metadata: metadataResponse{
			Title:     d.Metadata.Title,
			Author:    d.Metadata.Author,
			Date:      d.Metadata.Date,
			Version:   d.Metadata.Version,
			Words:     d.Metadata.Words,
			Lines:     d.Metadata.Lines,
			Chars:     d.Metadata.Chars,
			Extractor: d.Metadata.Extractor,
			Extra:     d.Metadata.Extra,
		},
		Bronze:           newStageResponse(d.Bronze),
		Silver:           newStageResponse(d.Silver),
		SilverChunkCount: d.SilverChunkCount,
		GoldStatus:       d.GoldStatus,
		GoldError:        d.GoldError,
		CreatedAt:        d.CreatedAt,
		UpdatedAt:        d.UpdatedAt,
		DeletedAt:        d.DeletedAt,
	}
	if len(d.GoldDistributedAt) > 0 {
		resp.GoldDistributedAt = make(map[string]time.Time, len(d.GoldDistributedAt))
		for layer, at := range d.GoldDistributedAt {
			resp.GoldDistributedAt[layer.String()] = at
		}
	}
	return resp
}

type entityResponse struct {
	Type       string  `json:"type"`
	Value      string  `json:"value"`
	Confidence float64 `json:"confidence"`
	Start      int     `json:"start"`
	End        int     `json:"end"`
}

func newEntities(entities []core.Entity) []entityResponse {
	out := make([]entityResponse, len(entities))
	for i, e := range entities {
		out[i] = entityResponse{Type: e.Type, Value: e.Value, Confidence: e.Confidence, Start: e.Start, End: e.End}
	}
	return out
}

type chunkResponse struct {
	ID               string           `json:"id"`
	Index            int              `json:"index"`
	Content          string           `json:"content"`
	TokenCount       int              `json:"token_count"`
	StartOffset      int              `json:"start_offset"`
	EndOffset        int              `json:"end_offset"`
	Sections         []string         `json:"sections,omitempty"`
	HasTable         bool             `json:"has_table"`
	HasImage         bool             `json:"has_image"`
	Entities         []entityResponse `json:"entities"`
	BelowQualityGate bool             `json:"below_quality_gate"`
}

func newChunkResponse(c *core.SilverChunk) chunkResponse {
	sections := make([]string, len(c.Sections))
	for i, s := range c.Sections {
		sections[i] = s.Title
	}
	return chunkResponse{
		ID:               c.ID,
		Index:            c.ChunkIndex,
		Content:          c.Content,
		TokenCount:       c.TokenCount,
		StartOffset:      c.StartOffset,
		EndOffset:        c.EndOffset,
		Sections:         sections,
		HasTable:         c.HasTable,
		HasImage:         c.HasImage,
		Entities:         newEntities(c.Entities),
		BelowQualityGate: c.BelowQualityGate,
	}
}

type countsResponse struct {
	Completed  int `json:"completed"`
	Pending    int `json:"pending"`
	Processing int `json:"processing"`
	Failed     int `json:"failed"`
	Skipped    int `json:"skipped"`
}

type summaryResponse struct {
	DocumentID string                    `json:"document_id"`
	Chunks     int                       `json:"chunks"`
	Status     core.GoldStatus           `json:"status"`
	Targets    map[string]countsResponse `json:"targets"`
}

func newSummaryResponse(s *core.DistributionSummary) summaryResponse {
	resp := summaryResponse{
		DocumentID: s.DocumentID,
		Chunks:     s.Chunks,
		Status:     s.Status,
		Targets:    make(map[string]countsResponse, len(s.Targets)),
	}
	for layer, c := range s.Targets {
		resp.Targets[layer.String()] = countsResponse(c)
	}
	return resp
}

type categoryRequest struct {
	Name           string   `json:"name" binding:"required"`
	Strategy       string   `json:"strategy" binding:"omitempty,oneof=paragraph fixed"`
	ChunkSize      int      `json:"chunk_size" binding:"min=0"`
	ChunkOverlap   int      `json:"chunk_overlap" binding:"min=0"`
	EmbeddingModel string   `json:"embedding_model"`
	Targets        []string `json:"targets"`
	Active         *bool    `json:"active"`
}

// category builds the stored category. Omitted chunking fields take the
// defaults and omitted targets mean every target.
func (r categoryRequest) category(id string) (*core.DocumentCategory, error) {
	chunking := core.DefaultChunkingConfig()
	if r.Strategy != "" {
		chunking.Strategy = core.ChunkingStrategy(r.Strategy)
	}
	if r.ChunkSize > 0 {
		chunking.ChunkSize = r.ChunkSize
	}
	if r.ChunkOverlap > 0 || r.ChunkSize > 0 {
		chunking.ChunkOverlap = r.ChunkOverlap
	}
	chunking.EmbeddingModel = r.EmbeddingModel

	targets := append([]core.TargetLayer(nil), core.AllTargets...)
	if r.Targets != nil {
		targets = targets[:0]
		for _, t := range r.Targets {
			layer, err := core.ParseTargetLayer(t)
			if err != nil {
				return nil, err
			}
			targets = append(targets, layer)
		}
	}

	active := true
	if r.Active != nil {
		active = *r.Active
	}
	cat := &core.DocumentCategory{
		ID:               id,
		Name:             r.Name,
		Chunking:         chunking,
		TargetGoldLayers: targets,
		Active:           active,
	}
	return cat, core.ValidateCategory(cat)
}

type categoryResponse struct {
	ID             string    `json:"id"`
	Name           string    `json:"name"`
	Strategy       string    `json:"strategy"`
	ChunkSize      int       `json:"chunk_size"`
	ChunkOverlap   int       `json:"chunk_overlap"`
	EmbeddingModel string    `json:"embedding_model,omitempty"`
	Targets        []string  `json:"targets"`
	Active         bool      `json:"active"`
	UpdatedAt      time.Time `json:"updated_at"`
}

func newCategoryResponse(c *core.DocumentCategory) categoryResponse {
	targets := make([]string, len(c.TargetGoldLayers))
	for i, t := range c.TargetGoldLayers {
		targets[i] = t.String()
	}
	return categoryResponse{
		ID:             c.ID,
		Name:           c.Name,
		Strategy:       string(c.Chunking.Strategy),
		ChunkSize:      c.Chunking.ChunkSize,
		ChunkOverlap:   c.Chunking.ChunkOverlap,
		EmbeddingModel: c.Chunking.EmbeddingModel,
		Targets:        targets,
		Active:         c.Active,
		UpdatedAt:      c.UpdatedAt,
	}
}

type searchRequest struct {
	Query      string  `json:"query" binding:"required"`
	Limit      int     `json:"limit" binding:"min=0,max=100"`
	DocumentID string  `json:"document_id"`
	MinScore   float32 `json:"min_score" binding:"min=-1,max=1"`
}

type hitResponse struct {
	ChunkID    string           `json:"chunk_id"`
	DocumentID string           `json:"document_id"`
	ChunkIndex int              `json:"chunk_index"`
	Content    string           `json:"content"`
	Similarity float32          `json:"similarity"`
	Score      float32          `json:"score"`
	Entities   []entityResponse `json:"entities"`
}

func newHitResponse(h *search.Hit) hitResponse {
	return hitResponse{
		ChunkID:    h.ChunkID,
		DocumentID: h.DocumentID,
		ChunkIndex: h.ChunkIndex,
		Content:    h.Content,
		Similarity: h.Similarity,
		Score:      h.Score,
		Entities:   newEntities(h.Entities),
	}
}

type queueResponse struct {
	Name    string `json:"name"`
	Pending int    `json:"pending"`
	Dead    int    `json:"dead"`
}

func newQueueResponse(s queue.Stats) queueResponse {
	return queueResponse{Name: s.Name, Pending: s.Pending, Dead: s.Dead}
}

type messageResponse struct {
	ID         string `json:"id"`
	Queue      string `json:"queue"`
	DocumentID string `json:"document_id"`
}
