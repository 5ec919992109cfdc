package extract

import (
	"bytes"
	"context"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"
	"github.com/poiesic/strata/core"
	"golang.org/x/text/encoding/charmap"
	"golang.org/x/text/encoding/unicode"
)

// PDFExtractor extracts page text from PDF content streams using pdfcpu.
type PDFExtractor struct {
	tempDir string
}

// NewPDFExtractor creates a PDFExtractor that stages files under os.TempDir.
func NewPDFExtractor() *PDFExtractor {
	return &PDFExtractor{tempDir: os.TempDir()}
}

func (*PDFExtractor) Name() string { return "pdf" }

func (*PDFExtractor) Supports(mimeType string) bool {
	return mimeType == MimePDF
}

func (p *PDFExtractor) Extract(ctx context.Context, data []byte) (*Result, error) {
	dir, err := os.MkdirTemp(p.tempDir, "strata-pdf-*")
	if err != nil {
		return nil, fmt.Errorf("create temp dir: %w", err)
	}
	defer os.RemoveAll(dir)

	// pdfcpu works on files
	inFile := filepath.Join(dir, "input.pdf")
	if err := os.WriteFile(inFile, data, 0o600); err != nil {
		return nil, fmt.Errorf("write temp PDF file: %w", err)
	}

	pdfCtx, err := api.ReadContextFile(inFile)
	if err != nil {
		return nil, fmt.Errorf("read PDF context: %w", err)
	}
	pageCount := pdfCtx.PageCount

	outDir := filepath.Join(dir, "content")
	if err := os.Mkdir(outDir, 0o700); err != nil {
		return nil, err
	}
	conf := model.NewDefaultConfiguration()
	if err := api.ExtractContentFile(inFile, outDir, nil, conf); err != nil {
		return nil, fmt.Errorf("extract PDF content: %w", err)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	files, err := os.ReadDir(outDir)
	if err != nil {
		return nil, err
	}
	pageTexts := make(map[int]string, pageCount)
	for _, file := range files {
		if file.IsDir() {
			continue
		}
		idx := strings.Index(file.Name(), "Content_page_")
		if idx < 0 {
			continue
		}
		var pageNum int
		if _, err := fmt.Sscanf(file.Name()[idx:], "Content_page_%d", &pageNum); err != nil {
			continue
		}
		content, err := os.ReadFile(filepath.Join(outDir, file.Name()))
		if err != nil {
			return nil, err
		}
		pageTexts[pageNum] += contentStreamText(content)
	}

	var text strings.Builder
	for pageNum := 1; pageNum <= pageCount; pageNum++ {
		page := strings.TrimSpace(pageTexts[pageNum])
		if page == "" {
			continue
		}
		if text.Len() > 0 {
			text.WriteString("\n\n")
		}
		text.WriteString(page)
	}

	return &Result{
		Text: text.String(),
		Hints: core.DocumentMetadata{
			Extra: map[string]string{"pages": strconv.Itoa(pageCount)},
		},
	}, nil
}

type pdfToken struct {
	kind  byte // 's' string, 'n' number, 'a' array, 'o' other operand
	str   []byte
	num   float64
	items []pdfToken
}

// contentStreamText pulls the text shown by Tj, TJ, ' and " operators out of a
// decoded page content stream, inserting line breaks on text positioning.
func contentStreamText(b []byte) string {
	var (
		out      strings.Builder
		operands []pdfToken
		arrays   [][]pdfToken
	)
	push := func(t pdfToken) {
		if n := len(arrays); n > 0 {
			arrays[n-1] = append(arrays[n-1], t)
			return
		}
		operands = append(operands, t)
	}
	newline := func() {
		s := out.String()
		if len(s) > 0 && s[len(s)-1] != '\n' {
			out.WriteByte('\n')
		}
	}
	space := func() {
		s := out.String()
		if len(s) > 0 && s[len(s)-1] != ' ' && s[len(s)-1] != '\n' {
			out.WriteByte(' ')
		}
	}

	for i := 0; i < len(b); {
		c := b[i]
		switch {
		case isPDFSpace(c):
			i++
		case c == '%':
			for i < len(b) && b[i] != '\n' && b[i] != '\r' {
				i++
			}
		case c == '(':
			s, n := readPDFLiteral(b[i:])
			push(pdfToken{kind: 's', str: s})
			i += n
		case c == '<' && i+1 < len(b) && b[i+1] == '<', c == '>' && i+1 < len(b) && b[i+1] == '>':
			i += 2
		case c == '<':
			end := bytes.IndexByte(b[i:], '>')
			if end < 0 {
				i = len(b)
				continue
			}
			push(pdfToken{kind: 's', str: decodePDFHex(b[i+1 : i+end])})
			i += end + 1
		case c == '[':
			arrays = append(arrays, nil)
			i++
		case c == ']':
			if n := len(arrays); n > 0 {
				arr := arrays[n-1]
				arrays = arrays[:n-1]
				push(pdfToken{kind: 'a', items: arr})
			}
			i++
		case c == '/':
			j := i + 1
			for j < len(b) && !isPDFSpace(b[j]) && !isPDFDelim(b[j]) {
				j++
			}
			push(pdfToken{kind: 'o'})
			i = j
		case c == '-' || c == '+' || c == '.' || (c >= '0' && c <= '9'):
			j := i + 1
			for j < len(b) && (b[j] == '.' || (b[j] >= '0' && b[j] <= '9')) {
				j++
			}
			f, _ := strconv.ParseFloat(string(b[i:j]), 64)
			push(pdfToken{kind: 'n', num: f})
			i = j
		default:
			j := i + 1
			for j < len(b) && !isPDFSpace(b[j]) && !isPDFDelim(b[j]) {
				j++
			}
			op := string(b[i:j])
			i = j
			if op == "ID" {
				// skip inline image data up to the EI operator
				if end := bytes.Index(b[i:], []byte("EI")); end >= 0 {
					i += end + 2
				} else {
					i = len(b)
				}
			}
			switch op {
			case "Tj":
				if s, ok := lastString(operands); ok {
					out.WriteString(s)
				}
			case "'", `"`:
				newline()
				if s, ok := lastString(operands); ok {
					out.WriteString(s)
				}
			case "TJ":
				if n := len(operands); n > 0 && operands[n-1].kind == 'a' {
					for _, item := range operands[n-1].items {
						switch item.kind {
						case 's':
							out.WriteString(decodePDFString(item.str))
						case 'n':
							if item.num < -200 {
								space()
							}
						}
					}
				}
			case "Td", "TD":
				if len(operands) >= 2 && operands[1].num != 0 {
					newline()
				} else {
					space()
				}
			case "T*", "ET":
				newline()
			}
			operands = operands[:0]
			arrays = arrays[:0]
		}
	}
	return out.String()
}

func lastString(operands []pdfToken) (string, bool) {
	for i := len(operands) - 1; i >= 0; i-- {
		if operands[i].kind == 's' {
			return decodePDFString(operands[i].str), true
		}
	}
	return "", false
}

// decodePDFString decodes UTF-16BE strings marked with a byte order mark and
// treats everything else as WinAnsi.
func decodePDFString(raw []byte) string {
	if bytes.HasPrefix(raw, []byte{0xFE, 0xFF}) {
		if s, err := unicode.UTF16(unicode.BigEndian, unicode.ExpectBOM).NewDecoder().Bytes(raw); err == nil {
			return string(s)
		}
	}
	s, err := charmap.Windows1252.NewDecoder().Bytes(raw)
	if err != nil {
		return string(raw)
	}
	return string(s)
}

// readPDFLiteral reads a parenthesized string starting at b[0] and returns its
// unescaped bytes and the number of input bytes consumed.
func readPDFLiteral(b []byte) ([]byte, int) {
	var out []byte
	depth := 0
	for i := 0; i < len(b); i++ {
		c := b[i]
		switch c {
		case '(':
			depth++
			if depth == 1 {
				continue
			}
		case ')':
			depth--
			if depth == 0 {
				return out, i + 1
			}
		case '\\':
			i++
			if i >= len(b) {
				return out, i
			}
			switch e := b[i]; e {
			case 'n':
				out = append(out, '\n')
			case 'r':
				out = append(out, '\r')
			case 't':
				out = append(out, '\t')
			case 'b':
				out = append(out, '\b')
			case 'f':
				out = append(out, '\f')
			case '\r':
				if i+1 < len(b) && b[i+1] == '\n' {
					i++
				}
			case '\n':
			default:
				if e >= '0' && e <= '7' {
					v := 0
					j := i
					for ; j < len(b) && j < i+3 && b[j] >= '0' && b[j] <= '7'; j++ {
						v = v*8 + int(b[j]-'0')
					}
					out = append(out, byte(v))
					i = j - 1
				} else {
					out = append(out, e)
				}
			}
			continue
		}
		out = append(out, c)
	}
	return out, len(b)
}

func decodePDFHex(h []byte) []byte {
	clean := make([]byte, 0, len(h)+1)
	for _, c := range h {
		if !isPDFSpace(c) {
			clean = append(clean, c)
		}
	}
	if len(clean)%2 == 1 {
		clean = append(clean, '0')
	}
	out := make([]byte, hex.DecodedLen(len(clean)))
	n, err := hex.Decode(out, clean)
	if err != nil {
		return nil
	}
	return out[:n]
}

func isPDFSpace(c byte) bool {
	return c == ' ' || c == '\n' || c == '\r' || c == '\t' || c == '\f' || c == 0
}

func isPDFDelim(c byte) bool {
	return strings.IndexByte("()<>[]{}/%", c) >= 0
}

var _ Extractor = (*PDFExtractor)(nil)
