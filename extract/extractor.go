package extract

import (
	"context"
	"fmt"
	"log/slog"
	"mime"
	"net/http"
	"path/filepath"
	"strings"

	"github.com/poiesic/strata/core"
)

// Result is the output of a successful extraction.
type Result struct {
	Text string
	// Hints carries metadata read from the document format itself, e.g. DOCX
	// core properties or Markdown front matter.
	Hints core.DocumentMetadata
}

// Extractor converts document bytes of supported mime types into text.
type Extractor interface {
	Name() string
	Supports(mimeType string) bool
	Extract(ctx context.Context, data []byte) (*Result, error)
}

// Registry dispatches extraction to the first extractor supporting a mime type.
type Registry struct {
	extractors []Extractor
	logger     *slog.Logger
}

// Option configures a Registry.
type Option func(*Registry) error

// WithLogger sets the registry logger.
func WithLogger(logger *slog.Logger) Option {
	return func(r *Registry) error {
		r.logger = logger
		return nil
	}
}

// WithExtractor appends an extractor. Extractors added later are consulted last.
func WithExtractor(e Extractor) Option {
	return func(r *Registry) error {
		r.extractors = append(r.extractors, e)
		return nil
	}
}

// NewRegistry creates a registry with the built-in extractors followed by any
// supplied through options.
func NewRegistry(opts ...Option) (*Registry, error) {
	r := &Registry{
		extractors: []Extractor{
			NewPDFExtractor(),
			NewDOCXExtractor(),
			NewMarkdownExtractor(),
			NewHTMLExtractor(),
			NewPlainExtractor(),
		},
		logger: slog.Default(),
	}
	for _, opt := range opts {
		if err := opt(r); err != nil {
			return nil, err
		}
	}
	return r, nil
}

// Lookup returns the extractor for a mime type.
func (r *Registry) Lookup(mimeType string) (Extractor, error) {
	mt := NormalizeMime(mimeType)
	for _, e := range r.extractors {
		if e.Supports(mt) {
			return e, nil
		}
	}
	return nil, fmt.Errorf("%w: %s", core.ErrUnsupported, mimeType)
}

// Extract runs the matching extractor and derives metadata from the result.
// Errors are core.ErrUnsupported when nothing handles the mime type and
// core.ErrExtractionFailed when the extractor fails.
func (r *Registry) Extract(ctx context.Context, mimeType string, data []byte) (*Result, core.DocumentMetadata, error) {
	e, err := r.Lookup(mimeType)
	if err != nil {
		return nil, core.DocumentMetadata{}, err
	}
	res, err := e.Extract(ctx, data)
	if err != nil {
		r.logger.Debug("extraction failed", "extractor", e.Name(), "mime", mimeType, "err", err)
		return nil, core.DocumentMetadata{}, fmt.Errorf("%w: %s: %w", core.ErrExtractionFailed, e.Name(), err)
	}
	meta := Derive(res.Text, res.Hints)
	meta.Extractor = e.Name()
	return res, meta, nil
}

// NormalizeMime lowercases a mime type and drops its parameters.
func NormalizeMime(mimeType string) string {
	mt, _, err := mime.ParseMediaType(mimeType)
	if err != nil {
		mt = strings.TrimSpace(strings.SplitN(mimeType, ";", 2)[0])
	}
	return strings.ToLower(mt)
}

var extensionMimes = map[string]string{
	".md":       MimeMarkdown,
	".markdown": MimeMarkdown,
	".docx":     MimeDOCX,
	".pdf":      MimePDF,
	".txt":      MimePlain,
	".html":     MimeHTML,
	".htm":      MimeHTML,
}

// DetectMime guesses a mime type from a file name, falling back to content sniffing.
func DetectMime(name string, data []byte) string {
	ext := strings.ToLower(filepath.Ext(name))
	if mt, ok := extensionMimes[ext]; ok {
		return mt
	}
	if mt := mime.TypeByExtension(ext); mt != "" {
		return NormalizeMime(mt)
	}
	return NormalizeMime(http.DetectContentType(data))
}
