package annotate

import (
	"regexp"
	"sort"
	"unicode/utf8"

	"github.com/poiesic/strata/core"
)

// Entity types produced by Entities.
const (
	EntityCPF   = "CPF"
	EntityCNPJ  = "CNPJ"
	EntityDate  = "DATE"
	EntityMoney = "MONEY"
	EntityEmail = "EMAIL"
	EntityPhone = "PHONE"
)

type entityPattern struct {
	kind       string
	re         *regexp.Regexp
	confidence float64
}

// Patterns are evaluated in order; a later match overlapping an earlier one is dropped.
var entityPatterns = []entityPattern{
	{kind: EntityCNPJ, re: regexp.MustCompile(`\b\d{2}\.\d{3}\.\d{3}/\d{4}-\d{2}\b`), confidence: 0.95},
	{kind: EntityCPF, re: regexp.MustCompile(`\b\d{3}\.\d{3}\.\d{3}-\d{2}\b`), confidence: 0.95},
	{kind: EntityEmail, re: regexp.MustCompile(`\b[A-Za-z0-9._%+-]+@[A-Za-z0-9.-]+\.[A-Za-z]{2,}\b`), confidence: 0.95},
	{kind: EntityDate, re: regexp.MustCompile(`\b(?:\d{2}/\d{2}/\d{4}|\d{4}-\d{2}-\d{2})\b`), confidence: 0.9},
	{kind: EntityMoney, re: regexp.MustCompile(`R\$\s?\d+(?:\.\d{3})*(?:,\d{2})?`), confidence: 0.9},
	{kind: EntityPhone, re: regexp.MustCompile(`(?:\+55\s?)?\(?\b\d{2}\)?\s?9?\d{4}-\d{4}\b`), confidence: 0.8},
}

// Entities extracts typed entities from text. Offsets are character positions
// in text and the result is ordered by start offset.
func Entities(text string) []core.Entity {
	var found []core.Entity
	for _, p := range entityPatterns {
		for _, loc := range p.re.FindAllStringIndex(text, -1) {
			if overlaps(found, loc[0], loc[1]) {
				continue
			}
			found = append(found, core.Entity{
				Type:       p.kind,
				Value:      text[loc[0]:loc[1]],
				Confidence: p.confidence,
				Start:      loc[0],
				End:        loc[1],
			})
		}
	}
	sort.SliceStable(found, func(i, j int) bool { return found[i].Start < found[j].Start })
	charOffsets(text, found)
	return found
}

// charOffsets rewrites byte offsets of entities sorted by start as
// character offsets.
func charOffsets(text string, entities []core.Entity) {
	cursorByte, cursorChar := 0, 0
	for i := range entities {
		e := &entities[i]
		cursorChar += utf8.RuneCountInString(text[cursorByte:e.Start])
		cursorByte = e.Start
		e.Start = cursorChar
		e.End = cursorChar + utf8.RuneCountInString(e.Value)
	}
}

func overlaps(found []core.Entity, start, end int) bool {
	for _, e := range found {
		if start < e.End && e.Start < end {
			return true
		}
	}
	return false
}
