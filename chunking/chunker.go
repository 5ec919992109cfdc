package chunking

import (
	"strings"
	"unicode/utf8"

	"github.com/poiesic/strata/core"
)

// Chunk is one slice of normalized text.
type Chunk struct {
	Index            int
	Text             string
	Start            int // character offset into the normalized text
	End              int
	Tokens           int
	BelowQualityGate bool
}

// Chunker splits text into overlapping chunks bounded by a token budget.
type Chunker struct {
	size              int
	overlap           int
	respectParagraphs bool
	counter           TokenCounter
}

// Option configures a Chunker.
type Option func(*Chunker) error

// WithChunkSize sets the token budget per chunk.
func WithChunkSize(tokens int) Option {
	return func(c *Chunker) error {
		if tokens <= 0 {
			return ErrInvalidChunkSize
		}
		c.size = tokens
		return nil
	}
}

// WithOverlap sets the number of tokens carried from one chunk into the next.
func WithOverlap(tokens int) Option {
	return func(c *Chunker) error {
		if tokens < 0 {
			return ErrInvalidOverlap
		}
		c.overlap = tokens
		return nil
	}
}

// WithParagraphs toggles paragraph-respecting accumulation. When disabled the
// whole text goes through the character splitter.
func WithParagraphs(respect bool) Option {
	return func(c *Chunker) error {
		c.respectParagraphs = respect
		return nil
	}
}

// WithTokenCounter replaces the default CharCounter.
func WithTokenCounter(counter TokenCounter) Option {
	return func(c *Chunker) error {
		if counter == nil {
			return ErrNilCounter
		}
		c.counter = counter
		return nil
	}
}

// New creates a Chunker. Defaults are 512 tokens per chunk, 50 tokens of
// overlap and paragraph-respecting accumulation.
func New(opts ...Option) (*Chunker, error) {
	c := &Chunker{
		size:              512,
		overlap:           50,
		respectParagraphs: true,
		counter:           CharCounter{},
	}
	for _, opt := range opts {
		if err := opt(c); err != nil {
			return nil, err
		}
	}
	if c.overlap >= c.size {
		return nil, ErrInvalidOverlap
	}
	return c, nil
}

// FromConfig builds a Chunker from a category's chunking configuration.
func FromConfig(cfg core.ChunkingConfig, opts ...Option) (*Chunker, error) {
	base := []Option{
		WithChunkSize(cfg.ChunkSize),
		WithOverlap(cfg.ChunkOverlap),
		WithParagraphs(cfg.Strategy != core.StrategyFixed),
	}
	return New(append(base, opts...)...)
}

// Split normalizes text and returns its chunks in order. Empty or
// whitespace-only input yields no chunks.
func (c *Chunker) Split(text string) []Chunk {
	s := Normalize(text)
	if s == "" {
		return nil
	}
	b := &builder{s: s, c: c}
	if c.respectParagraphs {
		b.paragraphs()
	} else {
		b.split(0, len(s), false)
	}
	b.mergeTail()
	b.toCharOffsets()
	for i := range b.out {
		b.out[i].BelowQualityGate = belowGate(b.out[i])
	}
	return b.out
}

// builder works on byte spans; toCharOffsets converts them once at the end.
type builder struct {
	s   string
	c   *Chunker
	out []Chunk
}

func (b *builder) tokens(start, end int) int {
	return b.c.counter.Count(b.s[start:end])
}

func (b *builder) emit(start, end int) {
	start, end = trimSpan(b.s, start, end)
	if start >= end {
		return
	}
	text := b.s[start:end]
	b.out = append(b.out, Chunk{
		Index:  len(b.out),
		Text:   text,
		Start:  start,
		End:    end,
		Tokens: b.c.counter.Count(text),
	})
}

// paragraphs accumulates blank-line separated paragraphs until the next one
// would overflow the budget.
func (b *builder) paragraphs() {
	curStart, curEnd := -1, -1
	for _, p := range paragraphSpans(b.s) {
		if b.tokens(p[0], p[1]) > b.c.size {
			start := p[0]
			if curStart >= 0 {
				start = curStart
			}
			curStart, curEnd = -1, -1
			if rest := b.split(start, p[1], true); rest >= 0 {
				curStart, curEnd = rest, p[1]
			}
			continue
		}
		switch {
		case curStart < 0:
			curStart, curEnd = p[0], p[1]
		case b.tokens(curStart, p[1]) <= b.c.size:
			curEnd = p[1]
		default:
			b.emit(curStart, curEnd)
			curStart, curEnd = p[0], p[1]
			if tail := b.lastOverlap(); tail >= 0 && b.tokens(tail, p[1]) <= b.c.size {
				curStart = tail
			}
		}
	}
	if curStart >= 0 {
		b.emit(curStart, curEnd)
	}
}

// split breaks [start, end) into pieces of at most the token budget,
// preferring to cut after the last sentence terminator found past 70% of the
// piece. With holdLast the final piece is not emitted; its start is returned
// so the caller can keep accumulating onto it. Otherwise split returns -1.
func (b *builder) split(start, end int, holdLast bool) int {
	pos := start
	for pos < end {
		pos, _ = trimSpan(b.s, pos, end)
		if pos >= end {
			return -1
		}
		if b.tokens(pos, end) <= b.c.size {
			if holdLast {
				return pos
			}
			b.emit(pos, end)
			return -1
		}
		limit := b.fitForward(pos, end, b.c.size)
		floor := advance(b.s, pos, utf8.RuneCountInString(b.s[pos:limit])*7/10, limit)
		cut := limit
		if i := strings.LastIndexAny(b.s[floor:limit], ".?!"); i >= 0 {
			cut = floor + i + 1
		}
		b.emit(pos, cut)
		next := b.overlapStart(pos, cut)
		if next <= pos {
			next = cut
		}
		pos = next
	}
	return -1
}

// fitForward returns the furthest offset in (pos, end] whose span from pos
// stays within budget tokens. At least one rune is always taken.
func (b *builder) fitForward(pos, end, budget int) int {
	at := func(n int) int { return advance(b.s, pos, n, end) }
	n := b.fit(utf8.RuneCountInString(b.s[pos:end]), budget, func(n int) int { return b.tokens(pos, at(n)) })
	return at(max(n, 1))
}

// fitBackward returns the earliest offset in [start, end] whose span to end
// stays within budget tokens.
func (b *builder) fitBackward(start, end, budget int) int {
	at := func(n int) int { return retreat(b.s, end, n, start) }
	return at(b.fit(utf8.RuneCountInString(b.s[start:end]), budget, func(n int) int { return b.tokens(at(n), end) }))
}

// fit finds the largest rune count n <= total with count(n) <= budget. The
// search starts from the CharsPerToken estimate, grows by doubling and then
// bisects, so it holds for any TokenCounter.
func (b *builder) fit(total, budget int, count func(n int) int) int {
	lo, hi := 0, min(total, max(1, budget*CharsPerToken))
	for count(hi) <= budget {
		lo = hi
		if hi == total {
			return total
		}
		hi = min(total, hi*2)
	}
	for hi-lo > 1 {
		mid := (lo + hi) / 2
		if count(mid) <= budget {
			lo = mid
		} else {
			hi = mid
		}
	}
	return lo
}

func (b *builder) lastOverlap() int {
	if len(b.out) == 0 {
		return -1
	}
	last := b.out[len(b.out)-1]
	return b.overlapStart(last.Start, last.End)
}

// overlapStart returns where the trailing overlap window of [start, end)
// begins, snapped forward to a word boundary, or -1 when there is none.
func (b *builder) overlapStart(start, end int) int {
	if b.c.overlap <= 0 {
		return -1
	}
	t := b.fitBackward(start, end, b.c.overlap)
	if t > start && !isSpace(b.s[t-1]) {
		for t < end && !isSpace(b.s[t]) {
			t++
		}
	}
	for t < end && isSpace(b.s[t]) {
		t++
	}
	if t >= end {
		return -1
	}
	return t
}

// mergeTail folds an undersized final chunk into its predecessor when the
// result stays within the budget. Otherwise the tail is kept as it is.
func (b *builder) mergeTail() {
	n := len(b.out)
	if n < 2 || !belowGate(b.out[n-1]) {
		return
	}
	prev := b.out[n-2]
	end := max(prev.End, b.out[n-1].End)
	if b.tokens(prev.Start, end) > b.c.size {
		return
	}
	prev.End = end
	prev.Text = b.s[prev.Start:prev.End]
	prev.Tokens = b.c.counter.Count(prev.Text)
	b.out[n-2] = prev
	b.out = b.out[:n-1]
}

// toCharOffsets rewrites byte spans as character offsets. Chunk starts never
// decrease, so one cursor walks the text once.
func (b *builder) toCharOffsets() {
	cursorByte, cursorChar := 0, 0
	for i := range b.out {
		ch := &b.out[i]
		if ch.Start < cursorByte {
			cursorByte, cursorChar = 0, 0
		}
		cursorChar += utf8.RuneCountInString(b.s[cursorByte:ch.Start])
		cursorByte = ch.Start
		ch.Start = cursorChar
		ch.End = cursorChar + utf8.RuneCountInString(ch.Text)
	}
}

// paragraphSpans returns the [start, end) byte spans of blank-line separated
// paragraphs in normalized text.
func paragraphSpans(s string) [][2]int {
	var spans [][2]int
	start := 0
	for {
		i := strings.Index(s[start:], "\n\n")
		if i < 0 {
			spans = append(spans, [2]int{start, len(s)})
			return spans
		}
		spans = append(spans, [2]int{start, start + i})
		start += i + 2
	}
}

func isSpace(c byte) bool {
	return c == ' ' || c == '\n' || c == '\t'
}

func trimSpan(s string, start, end int) (int, int) {
	for start < end && isSpace(s[start]) {
		start++
	}
	for end > start && isSpace(s[end-1]) {
		end--
	}
	return start, end
}

// advance returns the byte offset n runes past from, clamped to limit.
func advance(s string, from, n, limit int) int {
	pos := from
	for i := 0; i < n && pos < limit; i++ {
		_, size := utf8.DecodeRuneInString(s[pos:])
		pos += size
	}
	return pos
}

// retreat returns the byte offset n runes before to, clamped to floor.
func retreat(s string, to, n, floor int) int {
	pos := to
	for i := 0; i < n && pos > floor; i++ {
		_, size := utf8.DecodeLastRuneInString(s[:pos])
		pos -= size
	}
	return pos
}
