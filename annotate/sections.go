package annotate

import (
	"regexp"
	"strings"

	"github.com/poiesic/strata/core"
)

const maxSectionTitle = 100

var (
	headingLine = regexp.MustCompile(`^(#{1,6})\s+(.+?)\s*#*$`)
	outlineLine = regexp.MustCompile(`^((?:\d+\.)+)\s+(\S.*)$`)
)

// Sections returns the section hierarchy found in text, in line order. Markdown
// headings take their level from the number of '#' markers and numbered
// outline prefixes ("1.", "1.2.") from the number of dots.
func Sections(text string) []core.Section {
	var sections []core.Section
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		if m := headingLine.FindStringSubmatch(line); m != nil {
			sections = append(sections, core.Section{Level: len(m[1]), Title: clip(m[2])})
			continue
		}
		if m := outlineLine.FindStringSubmatch(line); m != nil {
			sections = append(sections, core.Section{Level: strings.Count(m[1], "."), Title: clip(m[2])})
		}
	}
	return sections
}

func clip(title string) string {
	title = strings.TrimSpace(title)
	if r := []rune(title); len(r) > maxSectionTitle {
		return string(r[:maxSectionTitle])
	}
	return title
}
