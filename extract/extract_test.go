package extract

import (
	"archive/zip"
	"bytes"
	"context"
	"strings"
	"testing"

	"github.com/go-pdf/fpdf"
	"github.com/poiesic/strata/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newRegistry(t *testing.T) *Registry {
	t.Helper()
	r, err := NewRegistry()
	require.NoError(t, err)
	return r
}

func TestRegistry_Plain(t *testing.T) {
	r := newRegistry(t)
	res, meta, err := r.Extract(context.Background(), "text/plain; charset=utf-8", []byte("Memo\n\nAuthor: Ana\nSee you."))
	require.NoError(t, err)
	assert.Equal(t, "Memo\n\nAuthor: Ana\nSee you.", res.Text)
	assert.Equal(t, "plain", meta.Extractor)
	assert.Equal(t, "Memo", meta.Title)
	assert.Equal(t, "Ana", meta.Author)
}

func TestRegistry_Unsupported(t *testing.T) {
	r := newRegistry(t)
	_, _, err := r.Extract(context.Background(), "image/png", []byte{0x89, 'P', 'N', 'G'})
	assert.ErrorIs(t, err, core.ErrUnsupported)
}

func TestRegistry_ExtractionFailed(t *testing.T) {
	r := newRegistry(t)

	_, _, err := r.Extract(context.Background(), MimePlain, []byte{0xff, 0xfe, 0xfd})
	assert.ErrorIs(t, err, core.ErrExtractionFailed)
	assert.ErrorIs(t, err, ErrInvalidEncoding)

	_, _, err = r.Extract(context.Background(), MimePDF, []byte("definitely not a pdf"))
	assert.ErrorIs(t, err, core.ErrExtractionFailed)

	_, _, err = r.Extract(context.Background(), MimeDOCX, []byte("not a zip"))
	assert.ErrorIs(t, err, core.ErrExtractionFailed)
}

func TestMarkdownExtractor(t *testing.T) {
	src := strings.Join([]string{
		"---",
		"title: Field Manual",
		"author: Ana Lima",
		"tags: [ops, field]",
		"---",
		"# Intro",
		"",
		"Some *emphasis* and a [link](http://example.com).",
		"",
		"- first",
		"- second",
		"",
		"| a | b |",
		"|---|---|",
		"| 1 | 2 |",
		"",
		"![diagram](flow.png)",
	}, "\n")

	res, err := NewMarkdownExtractor().Extract(context.Background(), []byte(src))
	require.NoError(t, err)

	assert.Equal(t, "Field Manual", res.Hints.Title)
	assert.Equal(t, "Ana Lima", res.Hints.Author)
	assert.Equal(t, "ops, field", res.Hints.Extra["tags"])

	assert.True(t, strings.HasPrefix(res.Text, "# Intro\n\n"))
	assert.Contains(t, res.Text, "Some emphasis and a link.")
	assert.Contains(t, res.Text, "- first\n- second")
	assert.Contains(t, res.Text, "| a | b |")
	assert.Contains(t, res.Text, "| 1 | 2 |")
	assert.Contains(t, res.Text, "![diagram](flow.png)")
	assert.NotContains(t, res.Text, "title:")
	assert.NotContains(t, res.Text, "*")
}

func TestMarkdownExtractor_NoFrontMatter(t *testing.T) {
	res, err := NewMarkdownExtractor().Extract(context.Background(), []byte("## Only\n\ntext"))
	require.NoError(t, err)
	assert.Equal(t, "## Only\n\ntext", res.Text)
	assert.Empty(t, res.Hints.Title)
}

func TestHTMLExtractor(t *testing.T) {
	page := `<html><head><title>Release Notes</title><meta name="author" content="Dev Team"><style>p{color:red}</style></head>
<body><h1>Version 2.1</h1><p>Fixed <b>bugs</b>.</p><script>alert(1)</script><ul><li>one</li><li>two</li></ul></body></html>`

	res, err := NewHTMLExtractor().Extract(context.Background(), []byte(page))
	require.NoError(t, err)
	assert.Equal(t, "Release Notes", res.Hints.Title)
	assert.Equal(t, "Dev Team", res.Hints.Author)
	assert.Contains(t, res.Text, "# Version 2.1")
	assert.Contains(t, res.Text, "Fixed bugs.")
	assert.Contains(t, res.Text, "one")
	assert.Contains(t, res.Text, "two")
	assert.NotContains(t, res.Text, "alert")
	assert.NotContains(t, res.Text, "color:red")
}

func buildDOCX(t *testing.T, document, coreProps string) []byte {
	t.Helper()
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	w, err := zw.Create("word/document.xml")
	require.NoError(t, err)
	_, err = w.Write([]byte(document))
	require.NoError(t, err)
	if coreProps != "" {
		w, err = zw.Create("docProps/core.xml")
		require.NoError(t, err)
		_, err = w.Write([]byte(coreProps))
		require.NoError(t, err)
	}
	require.NoError(t, zw.Close())
	return buf.Bytes()
}

func TestDOCXExtractor(t *testing.T) {
	document := `<?xml version="1.0" encoding="UTF-8"?>
<w:document xmlns:w="http://schemas.openxmlformats.org/wordprocessingml/2006/main"><w:body>
<w:p><w:pPr><w:pStyle w:val="Heading1"/></w:pPr><w:r><w:t>Service Agreement</w:t></w:r></w:p>
<w:p><w:r><w:t xml:space="preserve">This agreement </w:t></w:r><w:r><w:t>binds both parties.</w:t></w:r></w:p>
<w:tbl><w:tr><w:tc><w:p><w:r><w:t>Item</w:t></w:r></w:p></w:tc><w:tc><w:p><w:r><w:t>Price</w:t></w:r></w:p></w:tc></w:tr></w:tbl>
</w:body></w:document>`
	coreProps := `<?xml version="1.0" encoding="UTF-8"?>
<cp:coreProperties xmlns:cp="http://schemas.openxmlformats.org/package/2006/metadata/core-properties" xmlns:dc="http://purl.org/dc/elements/1.1/" xmlns:dcterms="http://purl.org/dc/terms/"><dc:title>Agreement</dc:title><dc:creator>Maria Souza</dc:creator><dcterms:created>2024-05-01T10:00:00Z</dcterms:created><cp:revision>3</cp:revision></cp:coreProperties>`

	res, err := NewDOCXExtractor().Extract(context.Background(), buildDOCX(t, document, coreProps))
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(res.Text, "# Service Agreement\n\nThis agreement binds both parties.\n\n"))
	assert.Contains(t, res.Text, "| Item | Price |")
	assert.Equal(t, "Agreement", res.Hints.Title)
	assert.Equal(t, "Maria Souza", res.Hints.Author)
	assert.Equal(t, "2024-05-01", res.Hints.Date)
	assert.Equal(t, "3", res.Hints.Version)
}

func TestDOCXExtractor_MissingDocument(t *testing.T) {
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	_, err := zw.Create("other.xml")
	require.NoError(t, err)
	require.NoError(t, zw.Close())

	_, err = NewDOCXExtractor().Extract(context.Background(), buf.Bytes())
	assert.ErrorIs(t, err, ErrMissingDocumentPart)
}

func TestPDFExtractor(t *testing.T) {
	pdf := fpdf.New("P", "mm", "A4", "")
	pdf.AddPage()
	pdf.SetFont("Helvetica", "", 12)
	pdf.Cell(40, 10, "Quarterly report")
	pdf.Ln(12)
	pdf.Cell(40, 10, "Revenue grew in every region.")
	var buf bytes.Buffer
	require.NoError(t, pdf.Output(&buf))

	res, err := NewPDFExtractor().Extract(context.Background(), buf.Bytes())
	require.NoError(t, err)
	assert.Contains(t, res.Text, "Quarterly report")
	assert.Contains(t, res.Text, "Revenue grew in every region.")
	assert.Equal(t, "1", res.Hints.Extra["pages"])
}

func TestContentStreamText(t *testing.T) {
	stream := []byte(`BT /F1 12 Tf 72 712 Td (Hello \(PDF\)) Tj 0 -14 Td [(Wor) 20 (ld) -300 (again)] TJ T* <48692e> Tj ET`)
	assert.Equal(t, "Hello (PDF)\nWorld again\nHi.\n", contentStreamText(stream))
}

func TestDerive(t *testing.T) {
	text := "Annual Report\nAuthor: João Silva\nDate: 2024-01-31\nVersion 1.2\n\nBody text here."
	meta := Derive(text, core.DocumentMetadata{})
	assert.Equal(t, "Annual Report", meta.Title)
	assert.Equal(t, "João Silva", meta.Author)
	assert.Equal(t, "2024-01-31", meta.Date)
	assert.Equal(t, "1.2", meta.Version)
	assert.Equal(t, 6, meta.Lines)
	assert.Equal(t, 12, meta.Words)
}

func TestDerive_Heuristics(t *testing.T) {
	assert.Equal(t, "Real Title", Derive("intro line\n# Real Title", core.DocumentMetadata{}).Title)
	assert.Equal(t, "Kept", Derive("# Other", core.DocumentMetadata{Title: "Kept"}).Title)
	assert.Equal(t, "2.3.1", Derive("release v2.3.1 notes", core.DocumentMetadata{}).Version)
	assert.Equal(t, "15/03/2024", Derive("signed 15/03/2024", core.DocumentMetadata{}).Date)
	assert.Equal(t, "Carla", Derive("by: Carla", core.DocumentMetadata{}).Author)

	empty := Derive("", core.DocumentMetadata{})
	assert.Zero(t, empty.Lines)
	assert.Zero(t, empty.Words)
}

func TestDetectMime(t *testing.T) {
	assert.Equal(t, MimeMarkdown, DetectMime("notes.MD", nil))
	assert.Equal(t, MimePDF, DetectMime("report.pdf", nil))
	assert.Equal(t, MimeDOCX, DetectMime("contract.docx", nil))
	assert.Equal(t, MimePDF, DetectMime("blob", []byte("%PDF-1.4\n")))
	assert.Equal(t, "text/plain", NormalizeMime("Text/Plain; charset=utf-8"))
}
