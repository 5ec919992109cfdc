package extract

import (
	"archive/zip"
	"bytes"
	"context"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"regexp"
	"strconv"
	"strings"

	"github.com/poiesic/strata/core"
)

// ErrMissingDocumentPart indicates a DOCX archive without word/document.xml.
var ErrMissingDocumentPart = errors.New("docx: missing word/document.xml")

var headingStyle = regexp.MustCompile(`(?i)^(?:heading|t[ií]tulo)\s?([1-6])$`)

// DOCXExtractor reads paragraph text, headings and tables from Office Open XML documents.
type DOCXExtractor struct{}

// NewDOCXExtractor creates a DOCXExtractor.
func NewDOCXExtractor() *DOCXExtractor { return &DOCXExtractor{} }

func (*DOCXExtractor) Name() string { return "docx" }

func (*DOCXExtractor) Supports(mimeType string) bool {
	return mimeType == MimeDOCX
}

func (*DOCXExtractor) Extract(_ context.Context, data []byte) (*Result, error) {
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, fmt.Errorf("open archive: %w", err)
	}

	var res Result
	found := false
	for _, f := range zr.File {
		switch f.Name {
		case "word/document.xml":
			found = true
			rc, err := f.Open()
			if err != nil {
				return nil, err
			}
			res.Text, err = documentText(rc)
			rc.Close()
			if err != nil {
				return nil, fmt.Errorf("parse document: %w", err)
			}
		case "docProps/core.xml":
			rc, err := f.Open()
			if err != nil {
				return nil, err
			}
			res.Hints = coreProperties(rc)
			rc.Close()
		}
	}
	if !found {
		return nil, ErrMissingDocumentPart
	}
	return &res, nil
}

// documentText walks the WordprocessingML body. Paragraphs become blocks
// separated by blank lines, heading styles become '#' markers and table rows
// become pipe-delimited lines.
func documentText(r io.Reader) (string, error) {
	dec := xml.NewDecoder(r)
	var (
		out       strings.Builder
		para      strings.Builder
		heading   int
		inText    bool
		tableDeep int
	)
	for {
		tok, err := dec.Token()
		if err == io.EOF {
			break
		}
		if err != nil {
			return "", err
		}
		switch t := tok.(type) {
		case xml.StartElement:
			switch t.Name.Local {
			case "t":
				inText = true
			case "tab":
				para.WriteString("\t")
			case "br", "cr":
				para.WriteString("\n")
			case "pStyle":
				for _, a := range t.Attr {
					if a.Name.Local != "val" {
						continue
					}
					if m := headingStyle.FindStringSubmatch(a.Value); m != nil {
						heading, _ = strconv.Atoi(m[1])
					} else if strings.EqualFold(a.Value, "Title") {
						heading = 1
					}
				}
			case "tbl":
				tableDeep++
			case "tr":
				out.WriteString("| ")
			}
		case xml.EndElement:
			switch t.Name.Local {
			case "t":
				inText = false
			case "p":
				text := strings.TrimSpace(para.String())
				para.Reset()
				switch {
				case tableDeep > 0:
					out.WriteString(text)
					out.WriteString(" ")
				case text == "":
				case heading > 0:
					out.WriteString(strings.Repeat("#", heading) + " " + text + "\n\n")
				default:
					out.WriteString(text + "\n\n")
				}
				heading = 0
			case "tc":
				out.WriteString("| ")
			case "tr":
				out.WriteString("\n")
			case "tbl":
				tableDeep--
				out.WriteString("\n")
			}
		case xml.CharData:
			if inText {
				para.Write(t)
			}
		}
	}
	return strings.TrimSpace(out.String()), nil
}

type docxCoreProps struct {
	Title    string `xml:"title"`
	Creator  string `xml:"creator"`
	Created  string `xml:"created"`
	Revision string `xml:"revision"`
}

func coreProperties(r io.Reader) core.DocumentMetadata {
	var props docxCoreProps
	if err := xml.NewDecoder(r).Decode(&props); err != nil {
		return core.DocumentMetadata{}
	}
	meta := core.DocumentMetadata{
		Title:   strings.TrimSpace(props.Title),
		Author:  strings.TrimSpace(props.Creator),
		Version: strings.TrimSpace(props.Revision),
	}
	if created := strings.TrimSpace(props.Created); len(created) >= 10 {
		meta.Date = created[:10]
	}
	return meta
}

var _ Extractor = (*DOCXExtractor)(nil)
