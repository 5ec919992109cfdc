package extract

import (
	"context"
	"errors"
	"strings"
	"unicode/utf8"
)

// Supported mime types.
const (
	MimePlain    = "text/plain"
	MimeCSV      = "text/csv"
	MimeMarkdown = "text/markdown"
	MimeHTML     = "text/html"
	MimePDF      = "application/pdf"
	MimeDOCX     = "application/vnd.openxmlformats-officedocument.wordprocessingml.document"
)

// ErrInvalidEncoding indicates text input that is not valid UTF-8.
var ErrInvalidEncoding = errors.New("text is not valid UTF-8")

// PlainExtractor passes UTF-8 text through unchanged.
type PlainExtractor struct{}

// NewPlainExtractor creates a PlainExtractor.
func NewPlainExtractor() *PlainExtractor { return &PlainExtractor{} }

func (*PlainExtractor) Name() string { return "plain" }

func (*PlainExtractor) Supports(mimeType string) bool {
	return mimeType == MimePlain || mimeType == MimeCSV || mimeType == "application/json"
}

func (*PlainExtractor) Extract(_ context.Context, data []byte) (*Result, error) {
	if !utf8.Valid(data) {
		return nil, ErrInvalidEncoding
	}
	return &Result{Text: strings.TrimPrefix(string(data), "\ufeff")}, nil
}

var _ Extractor = (*PlainExtractor)(nil)
