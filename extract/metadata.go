package extract

import (
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/poiesic/strata/core"
)

const maxTitleLen = 200

var (
	authorLine  = regexp.MustCompile(`(?im)^\s*(?:author|autor|by|por)\s*:\s*(.+?)\s*$`)
	dateLine    = regexp.MustCompile(`(?im)^\s*(?:date|data)\s*:\s*(.+?)\s*$`)
	datePattern = regexp.MustCompile(`\b(?:\d{2}/\d{2}/\d{4}|\d{4}-\d{2}-\d{2})\b`)
	versionWord = regexp.MustCompile(`(?i)\b(?:version|vers[ãa]o|revision|rev\.?)\s*:?\s*v?(\d+(?:\.\d+)*)`)
	versionTag  = regexp.MustCompile(`(?i)\bv(\d+(?:\.\d+)+)\b`)
)

// Derive completes metadata from text heuristics. Values already present in
// hints win over anything found by scanning.
func Derive(text string, hints core.DocumentMetadata) core.DocumentMetadata {
	meta := hints
	if meta.Title == "" {
		meta.Title = deriveTitle(text)
	}
	if meta.Author == "" {
		if m := authorLine.FindStringSubmatch(text); m != nil {
			meta.Author = m[1]
		}
	}
	if meta.Date == "" {
		if m := dateLine.FindStringSubmatch(text); m != nil {
			meta.Date = m[1]
		} else if d := datePattern.FindString(text); d != "" {
			meta.Date = d
		}
	}
	if meta.Version == "" {
		if m := versionWord.FindStringSubmatch(text); m != nil {
			meta.Version = m[1]
		} else if m := versionTag.FindStringSubmatch(text); m != nil {
			meta.Version = m[1]
		}
	}
	meta.Words = len(strings.Fields(text))
	meta.Chars = utf8.RuneCountInString(text)
	if text != "" {
		meta.Lines = strings.Count(text, "\n") + 1
	}
	return meta
}

// deriveTitle returns the first heading, or else the first non-empty line.
func deriveTitle(text string) string {
	first := ""
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		if strings.HasPrefix(line, "#") {
			if t := strings.TrimSpace(strings.TrimLeft(line, "#")); t != "" {
				return clipTitle(t)
			}
		}
		if first == "" {
			first = line
		}
	}
	return clipTitle(first)
}

func clipTitle(s string) string {
	if r := []rune(s); len(r) > maxTitleLen {
		return string(r[:maxTitleLen])
	}
	return s
}
