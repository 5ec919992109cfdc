package extract

import (
	"bytes"
	"context"
	"fmt"
	"regexp"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/poiesic/strata/core"
	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/extension"
	east "github.com/yuin/goldmark/extension/ast"
	"github.com/yuin/goldmark/text"
	"gopkg.in/yaml.v3"
)

var blankLineRuns = regexp.MustCompile(`\n{3,}`)

// MarkdownExtractor strips inline Markdown formatting while keeping headings,
// list bullets, table pipes and image references.
type MarkdownExtractor struct {
	md goldmark.Markdown
}

// NewMarkdownExtractor creates a MarkdownExtractor with GFM tables and strikethrough.
func NewMarkdownExtractor() *MarkdownExtractor {
	return &MarkdownExtractor{
		md: goldmark.New(goldmark.WithExtensions(extension.Table, extension.Strikethrough)),
	}
}

func (*MarkdownExtractor) Name() string { return "markdown" }

func (*MarkdownExtractor) Supports(mimeType string) bool {
	return mimeType == MimeMarkdown || mimeType == "text/x-markdown"
}

func (m *MarkdownExtractor) Extract(_ context.Context, data []byte) (*Result, error) {
	if !utf8.Valid(data) {
		return nil, ErrInvalidEncoding
	}
	body, hints, err := splitFrontMatter(data)
	if err != nil {
		return nil, err
	}
	return &Result{Text: m.toText(body), Hints: hints}, nil
}

// toText renders a Markdown document as structured plain text.
func (m *MarkdownExtractor) toText(src []byte) string {
	doc := m.md.Parser().Parse(text.NewReader(src))
	var sb strings.Builder

	_ = ast.Walk(doc, func(n ast.Node, entering bool) (ast.WalkStatus, error) {
		switch node := n.(type) {
		case *ast.Heading:
			if entering {
				sb.WriteString(strings.Repeat("#", node.Level))
				sb.WriteString(" ")
			} else {
				sb.WriteString("\n\n")
			}
		case *ast.Paragraph:
			if !entering {
				if _, inItem := node.Parent().(*ast.ListItem); inItem {
					sb.WriteString("\n")
				} else {
					sb.WriteString("\n\n")
				}
			}
		case *ast.ListItem:
			if entering {
				sb.WriteString("- ")
			}
		case *ast.TextBlock:
			if !entering {
				sb.WriteString("\n")
			}
		case *ast.List:
			if !entering {
				sb.WriteString("\n")
			}
		case *ast.Text:
			if entering {
				sb.Write(node.Segment.Value(src))
				if node.SoftLineBreak() || node.HardLineBreak() {
					sb.WriteString("\n")
				}
			}
		case *ast.String:
			if entering {
				sb.Write(node.Value)
			}
		case *ast.AutoLink:
			if entering {
				sb.Write(node.URL(src))
			}
			return ast.WalkSkipChildren, nil
		case *ast.Image:
			if entering {
				fmt.Fprintf(&sb, "![%s](%s)", nodeText(node, src), node.Destination)
			}
			return ast.WalkSkipChildren, nil
		case *ast.FencedCodeBlock, *ast.CodeBlock:
			if entering {
				lines := n.Lines()
				for i := 0; i < lines.Len(); i++ {
					seg := lines.At(i)
					sb.Write(seg.Value(src))
				}
				sb.WriteString("\n")
			}
			return ast.WalkSkipChildren, nil
		case *ast.HTMLBlock, *ast.RawHTML:
			return ast.WalkSkipChildren, nil
		case *east.TableHeader, *east.TableRow:
			if entering {
				sb.WriteString("| ")
			} else {
				sb.WriteString("\n")
			}
		case *east.TableCell:
			if !entering {
				sb.WriteString(" | ")
			}
		case *east.Table:
			if !entering {
				sb.WriteString("\n")
			}
		}
		return ast.WalkContinue, nil
	})

	out := blankLineRuns.ReplaceAllString(sb.String(), "\n\n")
	return strings.TrimSpace(out)
}

// nodeText concatenates the text of every descendant of n.
func nodeText(n ast.Node, src []byte) string {
	var sb strings.Builder
	for c := n.FirstChild(); c != nil; c = c.NextSibling() {
		if t, ok := c.(*ast.Text); ok {
			sb.Write(t.Segment.Value(src))
			continue
		}
		sb.WriteString(nodeText(c, src))
	}
	return sb.String()
}

// splitFrontMatter separates a leading YAML front matter block from the body.
func splitFrontMatter(data []byte) ([]byte, core.DocumentMetadata, error) {
	var hints core.DocumentMetadata
	data = bytes.TrimPrefix(data, []byte("\ufeff"))
	normalized := bytes.ReplaceAll(data, []byte("\r\n"), []byte("\n"))
	if !bytes.HasPrefix(normalized, []byte("---\n")) {
		return data, hints, nil
	}
	rest := normalized[len("---\n"):]
	end := bytes.Index(rest, []byte("\n---"))
	if end < 0 {
		return data, hints, nil
	}
	block := rest[:end]
	body := rest[end+len("\n---"):]
	if i := bytes.IndexByte(body, '\n'); i >= 0 {
		body = body[i+1:]
	} else {
		body = nil
	}

	var fm map[string]any
	if err := yaml.Unmarshal(block, &fm); err != nil {
		return nil, hints, fmt.Errorf("front matter: %w", err)
	}
	hints.Extra = make(map[string]string, len(fm))
	for k, v := range fm {
		val := frontMatterValue(v)
		switch strings.ToLower(k) {
		case "title":
			hints.Title = val
		case "author", "autor":
			hints.Author = val
		case "date", "data":
			hints.Date = val
		case "version", "versao":
			hints.Version = val
		default:
			hints.Extra[k] = val
		}
	}
	return body, hints, nil
}

func frontMatterValue(v any) string {
	switch t := v.(type) {
	case time.Time:
		return t.Format(time.DateOnly)
	case []any:
		parts := make([]string, 0, len(t))
		for _, item := range t {
			parts = append(parts, frontMatterValue(item))
		}
		return strings.Join(parts, ", ")
	}
	return strings.TrimSpace(fmt.Sprint(v))
}

var _ Extractor = (*MarkdownExtractor)(nil)
