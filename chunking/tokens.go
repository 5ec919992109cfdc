package chunking

import (
	"fmt"
	"unicode/utf8"

	"github.com/pkoukk/tiktoken-go"
)

// CharsPerToken is the character budget granted to a single token.
const CharsPerToken = 4

// TokenCounter counts the tokens in a piece of text.
type TokenCounter interface {
	Count(text string) int
}

// CharCounter approximates tokens as ceil(characters / CharsPerToken).
type CharCounter struct{}

// Count implements TokenCounter.
func (CharCounter) Count(text string) int {
	n := utf8.RuneCountInString(text)
	return (n + CharsPerToken - 1) / CharsPerToken
}

// TiktokenCounter counts tokens with a BPE encoding.
type TiktokenCounter struct {
	enc *tiktoken.Tiktoken
}

// NewTiktokenCounter loads the named encoding, e.g. "cl100k_base".
func NewTiktokenCounter(encoding string) (*TiktokenCounter, error) {
	enc, err := tiktoken.GetEncoding(encoding)
	if err != nil {
		return nil, fmt.Errorf("load encoding %s: %w", encoding, err)
	}
	return &TiktokenCounter{enc: enc}, nil
}

// Count implements TokenCounter.
func (t *TiktokenCounter) Count(text string) int {
	return len(t.enc.Encode(text, nil, nil))
}

var (
	_ TokenCounter = CharCounter{}
	_ TokenCounter = (*TiktokenCounter)(nil)
)
