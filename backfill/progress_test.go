package backfill

import (
	"bytes"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

// steppedClock advances by step on every call.
func steppedClock(step time.Duration) func() time.Time {
	t := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	return func() time.Time {
		t = t.Add(step)
		return t
	}
}

func TestProgress_ReportsEveryInterval(t *testing.T) {
	var buf bytes.Buffer
	p := NewProgress(&buf, "gold", 100, 50)
	p.Begin()

	p.Add(20, 5)
	assert.Empty(t, buf.String())

	p.Add(30, 0)
	out := buf.String()
	assert.Contains(t, out, "gold 55/100 (55.0%)")
	assert.Contains(t, out, "enqueued 50 skipped 5")
}

func TestProgress_SeparatorsAndETA(t *testing.T) {
	var buf bytes.Buffer
	p := NewProgress(&buf, "silver", 12000, 1000)
	p.now = steppedClock(time.Second)
	p.Begin()

	p.Add(1500, 0)
	out := buf.String()
	assert.Contains(t, out, "1,500/12,000")
	assert.Contains(t, out, "1500.0 docs/s")
	assert.Contains(t, out, "eta 7s")
}

func TestProgress_End(t *testing.T) {
	var buf bytes.Buffer
	p := NewProgress(&buf, "bronze", 10, 100)
	p.Begin()
	p.Add(8, 2)
	p.End()

	out := buf.String()
	assert.Contains(t, out, "10/10 (100.0%)")
	assert.NotContains(t, out, "eta")
	assert.Equal(t, byte('\n'), out[len(out)-1])
}

func TestProgress_CapsAtTotal(t *testing.T) {
	var buf bytes.Buffer
	p := NewProgress(&buf, "gold", 5, 1)
	p.Begin()
	p.Add(9, 0)
	assert.Contains(t, buf.String(), "5/5")
}

func TestProgress_ZeroTotal(t *testing.T) {
	var buf bytes.Buffer
	p := NewProgress(&buf, "gold", 0, 10)
	p.Begin()
	p.End()
	assert.Contains(t, buf.String(), "0/0 (100.0%)")
}

func TestProgress_NotBegun(t *testing.T) {
	var buf bytes.Buffer
	p := NewProgress(&buf, "gold", 100, 10)
	p.Add(50, 0)
	p.End()

	assert.Empty(t, buf.String())
	assert.Zero(t, p.Elapsed())
}
