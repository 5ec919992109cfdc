package core

import (
	"errors"
	"testing"
)

func TestValidateDocument(t *testing.T) {
	tests := []struct {
		name    string
		doc     *Document
		wantErr error
	}{
		{
			name:    "valid document",
			doc:     &Document{ID: "d1", MimeType: "text/plain"},
			wantErr: nil,
		},
		{
			name:    "nil document",
			doc:     nil,
			wantErr: ErrInvalidDocument,
		},
		{
			name:    "missing id",
			doc:     &Document{MimeType: "text/plain"},
			wantErr: ErrInvalidDocument,
		},
		{
			name:    "missing mime type",
			doc:     &Document{ID: "d1", MimeType: "  "},
			wantErr: ErrInvalidDocument,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateDocument(tt.doc)
			if tt.wantErr == nil && err != nil {
				t.Errorf("ValidateDocument() unexpected error = %v", err)
			}
			if tt.wantErr != nil && !errors.Is(err, tt.wantErr) {
				t.Errorf("ValidateDocument() error = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestValidateCategory(t *testing.T) {
	valid := DocumentCategory{
		ID:               "c1",
		Name:             "contracts",
		Chunking:         DefaultChunkingConfig(),
		TargetGoldLayers: []TargetLayer{TargetAnalytics, TargetVector},
	}

	tests := []struct {
		name    string
		mutate  func(c *DocumentCategory)
		wantErr error
	}{
		{name: "valid category", mutate: func(c *DocumentCategory) {}},
		{name: "missing name", mutate: func(c *DocumentCategory) { c.Name = "" }, wantErr: ErrInvalidCategory},
		{name: "overlap too large", mutate: func(c *DocumentCategory) { c.Chunking.ChunkOverlap = 512 }, wantErr: ErrInvalidChunkingConfig},
		{name: "zero size", mutate: func(c *DocumentCategory) { c.Chunking.ChunkSize = 0 }, wantErr: ErrInvalidChunkingConfig},
		{name: "unknown strategy", mutate: func(c *DocumentCategory) { c.Chunking.Strategy = "semantic" }, wantErr: ErrInvalidChunkingConfig},
		{name: "unknown layer", mutate: func(c *DocumentCategory) { c.TargetGoldLayers = []TargetLayer{"D"} }, wantErr: ErrInvalidTargetLayer},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cat := valid
			cat.TargetGoldLayers = append([]TargetLayer(nil), valid.TargetGoldLayers...)
			tt.mutate(&cat)
			err := ValidateCategory(&cat)
			if tt.wantErr == nil && err != nil {
				t.Errorf("ValidateCategory() unexpected error = %v", err)
			}
			if tt.wantErr != nil && !errors.Is(err, tt.wantErr) {
				t.Errorf("ValidateCategory() error = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestParseTargetLayer(t *testing.T) {
	tests := []struct {
		in      string
		want    TargetLayer
		wantErr bool
	}{
		{in: "A", want: TargetAnalytics},
		{in: "graph", want: TargetGraph},
		{in: " c ", want: TargetVector},
		{in: "x", wantErr: true},
	}
	for _, tt := range tests {
		got, err := ParseTargetLayer(tt.in)
		if tt.wantErr {
			if !errors.Is(err, ErrInvalidTargetLayer) {
				t.Errorf("ParseTargetLayer(%q) error = %v", tt.in, err)
			}
			continue
		}
		if err != nil || got != tt.want {
			t.Errorf("ParseTargetLayer(%q) = %v, %v; want %v", tt.in, got, err, tt.want)
		}
	}
}

func TestRetryable(t *testing.T) {
	if Retryable(nil) {
		t.Errorf("Retryable(nil) = true")
	}
	if Retryable(ErrNotFound) || Retryable(ErrPreconditionFailed) || Retryable(ErrUnsupported) {
		t.Errorf("Retryable() true for a terminal error")
	}
	if !Retryable(ErrExtractionFailed) || !Retryable(errors.New("boom")) {
		t.Errorf("Retryable() false for a transient error")
	}
}
