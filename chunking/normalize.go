package chunking

import (
	"regexp"
	"strings"
)

var (
	lineEndings = regexp.MustCompile(`\r\n?`)
	blankRuns   = regexp.MustCompile(`[ \t\f\v]+`)
	lineEdges   = regexp.MustCompile(`[ \t]?\n[ \t]?`)
	blankLines  = regexp.MustCompile(`\n{3,}`)
)

// Normalize converts line endings to \n, collapses horizontal whitespace to a
// single space, trims every line and collapses blank-line runs to a single
// blank line. A run containing a tab collapses to one tab so tab-separated
// tables stay recognizable.
func Normalize(text string) string {
	text = lineEndings.ReplaceAllString(text, "\n")
	text = blankRuns.ReplaceAllStringFunc(text, func(run string) string {
		if strings.ContainsRune(run, '\t') {
			return "\t"
		}
		return " "
	})
	text = lineEdges.ReplaceAllString(text, "\n")
	text = blankLines.ReplaceAllString(text, "\n\n")
	return strings.TrimSpace(text)
}
