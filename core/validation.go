package core

import (
	"fmt"
	"strings"
)

// ValidateDocument validates a Document before it is first persisted.
//
// Validation rules:
//   - ID must not be empty
//   - MimeType must not be empty
//
// NOT validated (populated by stages):
//   - ExtractedText (empty until Bronze completes)
//   - SilverChunkCount
func ValidateDocument(doc *Document) error {
	if doc == nil {
		return fmt.Errorf("%w: document is nil", ErrInvalidDocument)
	}
	if doc.ID == "" {
		return fmt.Errorf("%w: empty id", ErrInvalidDocument)
	}
	if strings.TrimSpace(doc.MimeType) == "" {
		return fmt.Errorf("%w: empty mime type", ErrInvalidDocument)
	}
	return nil
}

// ValidateCategory validates a DocumentCategory.
func ValidateCategory(cat *DocumentCategory) error {
	if cat == nil {
		return fmt.Errorf("%w: category is nil", ErrInvalidCategory)
	}
	if cat.ID == "" || strings.TrimSpace(cat.Name) == "" {
		return fmt.Errorf("%w: id and name are required", ErrInvalidCategory)
	}
	if err := ValidateChunkingConfig(cat.Chunking); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidCategory, err)
	}
	for _, layer := range cat.TargetGoldLayers {
		if err := ValidateTargetLayer(layer); err != nil {
			return fmt.Errorf("%w: %w", ErrInvalidCategory, err)
		}
	}
	return nil
}

// ValidateChunkingConfig checks that overlap is smaller than the chunk size.
func ValidateChunkingConfig(cfg ChunkingConfig) error {
	if cfg.Strategy != StrategyParagraph && cfg.Strategy != StrategyFixed {
		return fmt.Errorf("%w: strategy %q", ErrInvalidChunkingConfig, cfg.Strategy)
	}
	if cfg.ChunkSize <= 0 {
		return fmt.Errorf("%w: chunk size %d", ErrInvalidChunkingConfig, cfg.ChunkSize)
	}
	if cfg.ChunkOverlap < 0 || cfg.ChunkOverlap >= cfg.ChunkSize {
		return fmt.Errorf("%w: overlap %d with size %d", ErrInvalidChunkingConfig, cfg.ChunkOverlap, cfg.ChunkSize)
	}
	return nil
}

// ValidateTargetLayer validates that a TargetLayer has a valid value.
func ValidateTargetLayer(layer TargetLayer) error {
	switch layer {
	case TargetAnalytics, TargetGraph, TargetVector:
		return nil
	}
	return fmt.Errorf("%w: value %q", ErrInvalidTargetLayer, string(layer))
}

// ParseTargetLayer accepts either the layer letter or its store name.
func ParseTargetLayer(s string) (TargetLayer, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "a", "analytics", "sql":
		return TargetAnalytics, nil
	case "b", "graph":
		return TargetGraph, nil
	case "c", "vector":
		return TargetVector, nil
	}
	return "", fmt.Errorf("%w: value %q", ErrInvalidTargetLayer, s)
}
