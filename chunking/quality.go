package chunking

import (
	"fmt"
	"unicode/utf8"
)

const (
	// MinQualityTokens is the smallest token count a chunk should carry.
	MinQualityTokens = 50
	// MinQualityChars is the smallest character count a chunk should carry.
	MinQualityChars = 100
)

// Issue describes a chunk that failed the quality gate.
type Issue struct {
	Index  int
	Reason string
}

func (i Issue) String() string {
	return fmt.Sprintf("chunk %d: %s", i.Index, i.Reason)
}

func belowGate(c Chunk) bool {
	return c.Tokens < MinQualityTokens || utf8.RuneCountInString(c.Text) < MinQualityChars
}

// Check reports every chunk that falls below the quality gate.
func Check(chunks []Chunk) []Issue {
	var issues []Issue
	for _, c := range chunks {
		chars := utf8.RuneCountInString(c.Text)
		switch {
		case c.Tokens < MinQualityTokens:
			issues = append(issues, Issue{Index: c.Index, Reason: fmt.Sprintf("%d tokens, minimum is %d", c.Tokens, MinQualityTokens)})
		case chars < MinQualityChars:
			issues = append(issues, Issue{Index: c.Index, Reason: fmt.Sprintf("%d characters, minimum is %d", chars, MinQualityChars)})
		}
	}
	return issues
}
