package core

import (
	"slices"
	"time"
)

// StageStatus is the lifecycle state of a single pipeline stage for a document.
type StageStatus string

const (
	StagePending    StageStatus = "PENDING"
	StageProcessing StageStatus = "PROCESSING"
	StageCompleted  StageStatus = "COMPLETED"
	StageFailed     StageStatus = "FAILED"
)

// GoldStatus is the aggregate distribution state of a document.
type GoldStatus string

const (
	GoldPending    GoldStatus = "PENDING"
	GoldProcessing GoldStatus = "PROCESSING"
	GoldCompleted  GoldStatus = "COMPLETED"
	GoldPartial    GoldStatus = "PARTIAL"
)

// DeliveryStatus is the state of one chunk's delivery to one target store.
type DeliveryStatus string

const (
	DeliveryPending    DeliveryStatus = "PENDING"
	DeliveryProcessing DeliveryStatus = "PROCESSING"
	DeliveryCompleted  DeliveryStatus = "COMPLETED"
	DeliveryFailed     DeliveryStatus = "FAILED"
	DeliverySkipped    DeliveryStatus = "SKIPPED"
)

// Terminal reports whether the status counts as settled for aggregation.
func (s DeliveryStatus) Terminal() bool {
	return s == DeliveryCompleted || s == DeliverySkipped
}

// TargetLayer identifies one of the gold target stores.
type TargetLayer string

const (
	// TargetAnalytics is the SQL analytics engine (gold A).
	TargetAnalytics TargetLayer = "A"
	// TargetGraph is the property graph (gold B).
	TargetGraph TargetLayer = "B"
	// TargetVector is the vector index (gold C).
	TargetVector TargetLayer = "C"
)

// AllTargets lists every target layer in delivery order.
var AllTargets = []TargetLayer{TargetAnalytics, TargetGraph, TargetVector}

func (t TargetLayer) String() string {
	switch t {
	case TargetAnalytics:
		return "analytics"
	case TargetGraph:
		return "graph"
	case TargetVector:
		return "vector"
	}
	return string(t)
}

// ChunkingStrategy selects how text is split into chunks.
type ChunkingStrategy string

const (
	// StrategyParagraph accumulates whole paragraphs into each chunk.
	StrategyParagraph ChunkingStrategy = "paragraph"
	// StrategyFixed splits the whole text on a character budget.
	StrategyFixed ChunkingStrategy = "fixed"
)

// ChunkingConfig controls Silver chunking for a category.
type ChunkingConfig struct {
	Strategy       ChunkingStrategy
	ChunkSize      int // tokens
	ChunkOverlap   int // tokens
	EmbeddingModel string
}

// DefaultChunkingConfig is used when a document has no usable category.
func DefaultChunkingConfig() ChunkingConfig {
	return ChunkingConfig{
		Strategy:     StrategyParagraph,
		ChunkSize:    512,
		ChunkOverlap: 50,
	}
}

// DocumentCategory groups documents sharing chunking and distribution settings.
type DocumentCategory struct {
	ID               string
	Name             string
	Chunking         ChunkingConfig
	TargetGoldLayers []TargetLayer
	Active           bool
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// Targets reports whether the category distributes to the given layer.
func (c *DocumentCategory) Targets(layer TargetLayer) bool {
	return slices.Contains(c.TargetGoldLayers, layer)
}

// DocumentMetadata is the lightweight metadata captured during Bronze.
type DocumentMetadata struct {
	Title     string
	Author    string
	Date      string
	Version   string
	Words     int
	Lines     int
	Chars     int
	Extractor string
	Extra     map[string]string
}

// StageState tracks one stage of processing for a document.
type StageState struct {
	Status     StageStatus
	Error      string
	Attempts   int
	StartedAt  time.Time
	FinishedAt time.Time
}

// Document is an uploaded file moving through the pipeline.
type Document struct {
	ID                string
	Name              string
	MimeType          string
	StorageKey        string
	SizeBytes         int64
	CategoryID        string `badgerhold:"index"`
	ExtractedText     string
	Metadata          DocumentMetadata
	Bronze            StageState
	Silver            StageState
	SilverChunkCount  int
	GoldStatus        GoldStatus
	GoldError         string
	GoldDistributedAt map[TargetLayer]time.Time
	CreatedAt         time.Time
	UpdatedAt         time.Time
	DeletedAt         *time.Time
}

// Deleted reports whether the document has been soft-deleted.
func (d *Document) Deleted() bool {
	return d.DeletedAt != nil
}

// Section is one heading in a chunk's section hierarchy.
type Section struct {
	Level int
	Title string
}

// Entity is a pattern-extracted value found in chunk text.
type Entity struct {
	Type       string
	Value      string
	Confidence float64
	Start      int
	End        int
}

// SilverChunk is one persisted chunk of a document's extracted text.
type SilverChunk struct {
	ID               string
	DocumentID       string
	ChunkIndex       int
	Content          string
	TokenCount       int
	StartOffset      int
	EndOffset        int
	Sections         []Section
	HasTable         bool
	HasImage         bool
	Entities         []Entity
	Status           StageStatus
	BelowQualityGate bool
	CreatedAt        time.Time
}

// TargetState is the delivery record for one chunk and one target layer.
type TargetState struct {
	Status     DeliveryStatus
	RecordID   string
	LastError  string
	RetryCount int
	Details    map[string]string
	UpdatedAt  time.Time
}

// GoldDistribution tracks delivery of one chunk to every target layer.
type GoldDistribution struct {
	ID            string
	SilverChunkID string
	DocumentID    string
	ChunkIndex    int
	Targets       map[TargetLayer]*TargetState
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// Target returns the state for a layer, creating a SKIPPED placeholder if absent.
func (g *GoldDistribution) Target(layer TargetLayer) *TargetState {
	if g.Targets == nil {
		g.Targets = make(map[TargetLayer]*TargetState, len(AllTargets))
	}
	ts, ok := g.Targets[layer]
	if !ok {
		ts = &TargetState{Status: DeliverySkipped}
		g.Targets[layer] = ts
	}
	return ts
}

// Settled reports whether every target is COMPLETED or SKIPPED.
func (g *GoldDistribution) Settled() bool {
	for _, layer := range AllTargets {
		if !g.Target(layer).Status.Terminal() {
			return false
		}
	}
	return true
}

// TargetCounts tallies delivery statuses for a single target layer.
type TargetCounts struct {
	Completed  int
	Pending    int
	Processing int
	Failed     int
	Skipped    int
}

func (c *TargetCounts) add(s DeliveryStatus) {
	switch s {
	case DeliveryCompleted:
		c.Completed++
	case DeliveryPending:
		c.Pending++
	case DeliveryProcessing:
		c.Processing++
	case DeliveryFailed:
		c.Failed++
	case DeliverySkipped:
		c.Skipped++
	}
}

// DistributionSummary exposes per-target delivery counts for a document.
type DistributionSummary struct {
	DocumentID string
	Chunks     int
	Status     GoldStatus
	Targets    map[TargetLayer]TargetCounts
}

// Summarize folds distribution records into per-target counts and an aggregate status.
func Summarize(documentID string, dists []*GoldDistribution) *DistributionSummary {
	summary := &DistributionSummary{
		DocumentID: documentID,
		Chunks:     len(dists),
		Targets:    make(map[TargetLayer]TargetCounts, len(AllTargets)),
	}
	settled := true
	for _, layer := range AllTargets {
		var counts TargetCounts
		for _, d := range dists {
			s := d.Target(layer).Status
			counts.add(s)
			if !s.Terminal() {
				settled = false
			}
		}
		summary.Targets[layer] = counts
	}
	if settled {
		summary.Status = GoldCompleted
	} else {
		summary.Status = GoldPartial
	}
	return summary
}
