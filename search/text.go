package search

import "strings"

// Stop words ignored by the verbatim match, English and Portuguese
var stopWords = map[string]bool{
	"the": true, "a": true, "an": true, "be": true, "is": true, "are": true,
	"was": true, "to": true, "of": true, "and": true, "in": true, "that": true,
	"have": true, "it": true, "for": true, "not": true, "on": true, "with": true,
	"as": true, "you": true, "do": true, "at": true, "this": true, "but": true,
	"by": true, "from": true,
	"o": true, "os": true, "um": true, "uma": true, "de": true,
	"da": true, "das": true, "dos": true, "e": true, "em": true, "no": true,
	"na": true, "para": true, "por": true, "com": true, "que": true, "se": true,
}

// tokenizeAndFilter splits text into words, lowercases, trims punctuation, and removes stop words
func tokenizeAndFilter(text string) []string {
	words := strings.Fields(text)
	filtered := make([]string, 0, len(words))

	for _, word := range words {
		cleaned := strings.ToLower(strings.Trim(word, ".,!?;:'\"-()[]{}"))
		if cleaned != "" && !stopWords[cleaned] {
			filtered = append(filtered, cleaned)
		}
	}

	return filtered
}

// containsAllQueryWords checks if all query words (after filtering) appear in the chunk
func containsAllQueryWords(content, query string) bool {
	queryWords := tokenizeAndFilter(query)
	if len(queryWords) == 0 {
		return false
	}

	words := make(map[string]bool)
	for _, word := range tokenizeAndFilter(content) {
		words[word] = true
	}

	for _, qWord := range queryWords {
		if !words[qWord] {
			return false
		}
	}
	return true
}
