package annotate

import (
	"regexp"
	"strings"

	"github.com/poiesic/strata/core"
)

var (
	pipeRow     = regexp.MustCompile(`^\s*\|?[^|\n]*\|[^|\n]*\|`)
	tabRun      = regexp.MustCompile(`[^\t\n]+\t+[^\t\n]+\t+[^\t\n]+`)
	asciiBorder = regexp.MustCompile(`(?m)^\s*[+|]?[-=+]{3,}[+|][-=+|]*\s*$`)
	markdownImg = regexp.MustCompile(`!\[[^\]]*\]\([^)]+\)`)
	figureRef   = regexp.MustCompile(`(?i)\b(?:figure|figura|imagem|image|fig\.)\s*\d+`)
)

// HasTable reports whether text looks like it contains a table: two or more
// pipe-delimited rows, a tab-separated run, or an ASCII border.
func HasTable(text string) bool {
	rows := 0
	for _, line := range strings.Split(text, "\n") {
		if pipeRow.MatchString(line) {
			rows++
			if rows >= 2 {
				return true
			}
		}
	}
	return tabRun.MatchString(text) || asciiBorder.MatchString(text)
}

// HasImage reports whether text references an image, either with markdown
// image syntax or "figure N" style phrasing.
func HasImage(text string) bool {
	return markdownImg.MatchString(text) || figureRef.MatchString(text)
}

// Annotation is everything derived from one chunk of text.
type Annotation struct {
	Entities []core.Entity
	Sections []core.Section
	HasTable bool
	HasImage bool
}

// Annotate runs every extractor over text.
func Annotate(text string) Annotation {
	return Annotation{
		Entities: Entities(text),
		Sections: Sections(text),
		HasTable: HasTable(text),
		HasImage: HasImage(text),
	}
}
