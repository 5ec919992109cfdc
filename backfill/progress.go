package backfill

import (
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/dustin/go-humanize"
)

// Progress reports how far a backfill has come. Output is a single line
// rewritten in place, so it is meant for a terminal such as os.Stderr.
type Progress struct {
	w        io.Writer
	label    string
	total    int
	every    int
	enqueued int
	skipped  int
	last     int
	start    time.Time
	now      func() time.Time
	mu       sync.Mutex
}

// NewProgress reports on w every `every` documents out of total.
func NewProgress(w io.Writer, label string, total, every int) *Progress {
	if every <= 0 {
		every = 1
	}
	return &Progress{w: w, label: label, total: total, every: every, now: time.Now}
}

// Begin starts the clock.
func (p *Progress) Begin() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.start = p.now()
}

func (p *Progress) done() int {
	return min(p.enqueued+p.skipped, p.total)
}

// Add records a batch outcome.
func (p *Progress) Add(enqueued, skipped int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.start.IsZero() {
		return
	}
	p.enqueued += enqueued
	p.skipped += skipped
	if p.done()-p.last >= p.every {
		p.print()
		p.last = p.done()
	}
}

// End prints the final line.
func (p *Progress) End() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.start.IsZero() {
		return
	}
	p.print()
	fmt.Fprintln(p.w)
}

// Elapsed is the time since Begin, or zero before it.
func (p *Progress) Elapsed() time.Duration {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.start.IsZero() {
		return 0
	}
	return p.now().Sub(p.start)
}

// print writes the status line. Callers hold mu.
func (p *Progress) print() {
	done := p.done()
	pct := 100.0
	if p.total > 0 {
		pct = float64(done) / float64(p.total) * 100
	}
	line := fmt.Sprintf("\r%s %s/%s (%.1f%%) enqueued %s skipped %s",
		p.label, humanize.Comma(int64(done)), humanize.Comma(int64(p.total)), pct,
		humanize.Comma(int64(p.enqueued)), humanize.Comma(int64(p.skipped)))

	if elapsed := p.now().Sub(p.start); elapsed > 0 && done > 0 && done < p.total {
		rate := float64(done) / elapsed.Seconds()
		eta := time.Duration(float64(p.total-done) / rate * float64(time.Second))
		line += fmt.Sprintf(", %.1f docs/s, eta %s", rate, eta.Round(time.Second))
	}
	fmt.Fprint(p.w, line)
}
