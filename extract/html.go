package extract

import (
	"bytes"
	"context"
	"strings"

	md "github.com/JohannesKaufmann/html-to-markdown"
	"github.com/PuerkitoBio/goquery"
	"github.com/poiesic/strata/core"
)

// HTMLExtractor converts HTML to Markdown and then to structured text.
type HTMLExtractor struct {
	markdown *MarkdownExtractor
}

// NewHTMLExtractor creates an HTMLExtractor.
func NewHTMLExtractor() *HTMLExtractor {
	return &HTMLExtractor{markdown: NewMarkdownExtractor()}
}

func (*HTMLExtractor) Name() string { return "html" }

func (*HTMLExtractor) Supports(mimeType string) bool {
	return mimeType == MimeHTML || mimeType == "application/xhtml+xml"
}

func (h *HTMLExtractor) Extract(_ context.Context, data []byte) (*Result, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}

	var hints core.DocumentMetadata
	hints.Title = strings.TrimSpace(doc.Find("title").First().Text())
	if author, ok := doc.Find(`meta[name="author"]`).Attr("content"); ok {
		hints.Author = strings.TrimSpace(author)
	}
	if date, ok := doc.Find(`meta[name="date"]`).Attr("content"); ok {
		hints.Date = strings.TrimSpace(date)
	}

	doc.Find("script, style, noscript, head").Remove()
	body := doc.Find("body")
	if body.Length() == 0 {
		body = doc.Selection
	}

	converter := md.NewConverter("", true, nil)
	markdown := converter.Convert(body)
	return &Result{Text: h.markdown.toText([]byte(markdown)), Hints: hints}, nil
}

var _ Extractor = (*HTMLExtractor)(nil)
