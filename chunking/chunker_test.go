package chunking

import (
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/poiesic/strata/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func paragraph(words int) string {
	return strings.TrimSpace(strings.Repeat("word ", words))
}

func newChunker(t *testing.T, opts ...Option) *Chunker {
	t.Helper()
	c, err := New(opts...)
	require.NoError(t, err)
	return c
}

func assertWellFormed(t *testing.T, input string, chunks []Chunk) {
	t.Helper()
	norm := []rune(Normalize(input))
	for i, c := range chunks {
		assert.Equal(t, i, c.Index)
		require.LessOrEqual(t, c.End, len(norm), "chunk %d end", i)
		assert.Equal(t, string(norm[c.Start:c.End]), c.Text, "chunk %d text must match its span", i)
		assert.NotEmpty(t, strings.TrimSpace(c.Text))
		if i > 0 {
			assert.GreaterOrEqual(t, c.Start, chunks[i-1].Start, "chunk %d start", i)
			assert.GreaterOrEqual(t, c.End, chunks[i-1].End, "chunk %d end", i)
		}
	}
}

func TestNormalize(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{name: "crlf", in: "a\r\nb\rc", want: "a\nb\nc"},
		{name: "blank runs", in: "a   b  c", want: "a b c"},
		{name: "tab runs collapse to one tab", in: "a \t b\t\tc", want: "a\tb\tc"},
		{name: "tabs at line edges", in: "\ta\t\n\tb", want: "a\nb"},
		{name: "line edges", in: "  a  \n  b  ", want: "a\nb"},
		{name: "blank lines", in: "a\n\n\n\n\nb", want: "a\n\nb"},
		{name: "blank lines with spaces", in: "a\r\n \r\n \r\n\r\nb", want: "a\n\nb"},
		{name: "whitespace only", in: " \n\t\r\n ", want: ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Normalize(tt.in))
		})
	}
}

func TestSplit_EmptyInput(t *testing.T) {
	c := newChunker(t)
	for _, in := range []string{"", "   ", "\n\n\t\r\n"} {
		assert.Empty(t, c.Split(in), "input %q", in)
	}
}

func TestSplit_Short(t *testing.T) {
	c := newChunker(t)
	chunks := c.Split("Short.")
	require.Len(t, chunks, 1)
	assert.Equal(t, "Short.", chunks[0].Text)
	assert.Equal(t, 0, chunks[0].Start)
	assert.Equal(t, 6, chunks[0].End)
	assert.Equal(t, 2, chunks[0].Tokens)
	assert.True(t, chunks[0].BelowQualityGate)
}

func TestSplit_ParagraphAccumulation(t *testing.T) {
	// each paragraph is 299 characters, 75 tokens
	p := paragraph(60)
	input := strings.Join([]string{p, p, p, p, p}, "\n\n")
	c := newChunker(t, WithChunkSize(100), WithOverlap(10))

	chunks := c.Split(input)
	require.Len(t, chunks, 5)
	assertWellFormed(t, input, chunks)

	for i, ch := range chunks {
		assert.False(t, ch.BelowQualityGate, "chunk %d", i)
		assert.LessOrEqual(t, ch.Tokens, 100, "chunk %d", i)
	}
	assert.Equal(t, p, chunks[0].Text)
	assert.Empty(t, Check(chunks))
}

func TestSplit_OverlapSnapsToWordBoundary(t *testing.T) {
	p := paragraph(60)
	input := strings.Join([]string{p, p, p}, "\n\n")
	c := newChunker(t, WithChunkSize(100), WithOverlap(10))

	chunks := c.Split(input)
	require.Greater(t, len(chunks), 1)
	norm := Normalize(input)
	for i := 1; i < len(chunks); i++ {
		assert.Less(t, chunks[i].Start, chunks[i-1].End, "chunk %d should overlap its predecessor", i)
		assert.True(t, isSpace(norm[chunks[i].Start-1]), "chunk %d should start on a word boundary", i) // ascii input
		assert.True(t, strings.HasPrefix(chunks[i].Text, "word"))
	}
}

func TestSplit_NoOverlap(t *testing.T) {
	p := paragraph(60)
	input := strings.Join([]string{p, p, p}, "\n\n")
	c := newChunker(t, WithChunkSize(100), WithOverlap(0))

	chunks := c.Split(input)
	require.Len(t, chunks, 3)
	for i := 1; i < len(chunks); i++ {
		assert.GreaterOrEqual(t, chunks[i].Start, chunks[i-1].End)
	}
}

func TestSplit_OversizedParagraphPrefersSentences(t *testing.T) {
	var sb strings.Builder
	for i := 0; i < 60; i++ {
		sb.WriteString("This is a sentence of text. ")
	}
	input := sb.String()
	c := newChunker(t, WithChunkSize(100), WithOverlap(10))

	chunks := c.Split(input)
	require.Greater(t, len(chunks), 2)
	assertWellFormed(t, input, chunks)
	for i, ch := range chunks[:len(chunks)-1] {
		assert.True(t, strings.HasSuffix(ch.Text, "."), "chunk %d should end on a sentence", i)
		assert.LessOrEqual(t, utf8.RuneCountInString(ch.Text), 400, "chunk %d", i)
	}
}

func TestSplit_OversizedWithoutTerminators(t *testing.T) {
	input := strings.Repeat("x", 2000)
	c := newChunker(t, WithChunkSize(100), WithOverlap(10))

	chunks := c.Split(input)
	require.Len(t, chunks, 5)
	assertWellFormed(t, input, chunks)
	for _, ch := range chunks {
		assert.Equal(t, 400, len(ch.Text))
	}
}

func TestSplit_FixedStrategyCrossesParagraphs(t *testing.T) {
	p := paragraph(30)
	input := strings.Join([]string{p, p, p, p, p, p}, "\n\n")
	c := newChunker(t, WithChunkSize(100), WithOverlap(10), WithParagraphs(false))

	chunks := c.Split(input)
	require.Greater(t, len(chunks), 1)
	assertWellFormed(t, input, chunks)
	assert.Contains(t, chunks[0].Text, "\n\n")
	for i, ch := range chunks[:len(chunks)-1] {
		assert.LessOrEqual(t, utf8.RuneCountInString(ch.Text), 400, "chunk %d", i)
	}
}

func TestSplit_UndersizedTailStaysWithinBudget(t *testing.T) {
	// 319 characters, exactly 80 tokens; the tail is 38 tokens
	p := paragraph(64)
	input := strings.Join([]string{p, p, paragraph(30)}, "\n\n")
	c := newChunker(t, WithChunkSize(80), WithOverlap(0))

	chunks := c.Split(input)
	require.Len(t, chunks, 3)
	assertWellFormed(t, input, chunks)
	for i, ch := range chunks {
		assert.LessOrEqual(t, ch.Tokens, 80, "chunk %d", i)
	}
	assert.Equal(t, paragraph(30), chunks[2].Text)
	assert.True(t, chunks[2].BelowQualityGate)
}

func TestMergeTail(t *testing.T) {
	c := newChunker(t, WithChunkSize(100), WithOverlap(10))

	t.Run("fits", func(t *testing.T) {
		b := &builder{s: strings.Repeat("a", 260), c: c}
		b.emit(0, 200)
		b.emit(150, 260)
		b.mergeTail()
		require.Len(t, b.out, 1)
		assert.Equal(t, 260, b.out[0].End)
		assert.Equal(t, 65, b.out[0].Tokens)
	})

	t.Run("over budget", func(t *testing.T) {
		b := &builder{s: strings.Repeat("a", 480), c: c}
		b.emit(0, 400)
		b.emit(400, 480)
		b.mergeTail()
		require.Len(t, b.out, 2)
		assert.Equal(t, 100, b.out[0].Tokens)
		assert.Equal(t, 20, b.out[1].Tokens)
	})
}

// halfCounter counts one token per two characters.
type halfCounter struct{}

func (halfCounter) Count(text string) int {
	return (utf8.RuneCountInString(text) + 1) / 2
}

// wordCounter counts whitespace separated words.
type wordCounter struct{}

func (wordCounter) Count(text string) int { return len(strings.Fields(text)) }

func TestSplit_HonorsTokenCounter(t *testing.T) {
	digits := strings.Repeat("CPF 123.456.789-01 CNPJ 12.345.678/0001-90 ", 40)
	longWords := strings.Repeat("abcdefghijkl ", 200)

	tests := []struct {
		name    string
		input   string
		counter TokenCounter
		size    int
		overlap int
		fixed   bool
	}{
		{name: "denser than estimate", input: digits, counter: halfCounter{}, size: 100, overlap: 10},
		{name: "denser than estimate fixed", input: digits, counter: halfCounter{}, size: 100, fixed: true},
		{name: "sparser than estimate", input: longWords, counter: wordCounter{}, size: 20, overlap: 3},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := newChunker(t, WithChunkSize(tt.size), WithOverlap(tt.overlap), WithParagraphs(!tt.fixed), WithTokenCounter(tt.counter))
			chunks := c.Split(tt.input)
			require.Greater(t, len(chunks), 2)
			assertWellFormed(t, tt.input, chunks)
			for i, ch := range chunks {
				assert.Equal(t, tt.counter.Count(ch.Text), ch.Tokens, "chunk %d", i)
				assert.LessOrEqual(t, ch.Tokens, tt.size, "chunk %d", i)
			}
			for i, ch := range chunks[:len(chunks)-1] {
				assert.GreaterOrEqual(t, ch.Tokens, tt.size*6/10, "chunk %d should be filled", i)
			}
		})
	}
}

func TestSplit_QualityGateIsReported(t *testing.T) {
	p := paragraph(8)
	input := strings.Join([]string{p, p, p}, "\n\n")
	c := newChunker(t, WithChunkSize(12), WithOverlap(0))

	chunks := c.Split(input)
	require.NotEmpty(t, chunks)
	issues := Check(chunks)
	assert.NotEmpty(t, issues)
	for _, ch := range chunks {
		assert.True(t, ch.BelowQualityGate)
	}
}

func TestSplit_MultibyteOffsets(t *testing.T) {
	input := "Ação é necessária.\n\nSeção dois."
	c := newChunker(t)
	chunks := c.Split(input)
	require.Len(t, chunks, 1)
	assertWellFormed(t, input, chunks)
	assert.Equal(t, Normalize(input), chunks[0].Text)
	assert.Equal(t, 0, chunks[0].Start)
	assert.Equal(t, utf8.RuneCountInString(Normalize(input)), chunks[0].End)
}

func TestSplit_CharacterOffsets(t *testing.T) {
	para := strings.TrimSpace(strings.Repeat("Atenção: a seção de informações está pronta. ", 8))
	input := strings.Join([]string{para, para, para, para}, "\n\n")
	c := newChunker(t, WithChunkSize(100), WithOverlap(10))

	chunks := c.Split(input)
	require.Greater(t, len(chunks), 1)
	assertWellFormed(t, input, chunks)
	assert.Equal(t, utf8.RuneCountInString(Normalize(input)), chunks[len(chunks)-1].End)
	assert.Less(t, chunks[len(chunks)-1].End, len(Normalize(input)), "offsets must count characters, not bytes")
}

func TestNew_Validation(t *testing.T) {
	_, err := New(WithChunkSize(0))
	assert.ErrorIs(t, err, ErrInvalidChunkSize)

	_, err = New(WithChunkSize(50), WithOverlap(50))
	assert.ErrorIs(t, err, ErrInvalidOverlap)

	_, err = New(WithOverlap(-1))
	assert.ErrorIs(t, err, ErrInvalidOverlap)

	_, err = New(WithTokenCounter(nil))
	assert.ErrorIs(t, err, ErrNilCounter)
}

func TestFromConfig(t *testing.T) {
	c, err := FromConfig(core.ChunkingConfig{Strategy: core.StrategyFixed, ChunkSize: 64, ChunkOverlap: 8})
	require.NoError(t, err)
	assert.Equal(t, 64, c.size)
	assert.Equal(t, 8, c.overlap)
	assert.False(t, c.respectParagraphs)

	c, err = FromConfig(core.DefaultChunkingConfig())
	require.NoError(t, err)
	assert.True(t, c.respectParagraphs)
}

func TestCharCounter(t *testing.T) {
	var cc CharCounter
	assert.Equal(t, 0, cc.Count(""))
	assert.Equal(t, 1, cc.Count("abc"))
	assert.Equal(t, 1, cc.Count("abcd"))
	assert.Equal(t, 2, cc.Count("abcde"))
	assert.Equal(t, 1, cc.Count("ção"))
}
