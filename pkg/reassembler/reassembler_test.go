package reassembler

import (
	"testing"
	"time"

	"containerlogd/pkg/logrecord"
)

func decoded(text string, now time.Time) logrecord.Decoded {
	return logrecord.Decoded{Timestamp: now, Stream: "stdout", Text: text, Raw: text}
}

func TestSimpleLineFlushesOnNextNonContinuation(t *testing.T) {
	m := NewManager()
	now := time.Now()
	sess := m.Begin("c1")

	if e := sess.Feed(decoded("hello", now), now); e != nil {
		t.Fatalf("expected no flush on first line, got %+v", e)
	}
	e := sess.Feed(decoded("world", now), now)
	if e == nil {
		t.Fatalf("expected a flush on second top-level line")
	}
	if e.Message != "hello" {
		t.Errorf("expected flushed message %q, got %q", "hello", e.Message)
	}
}

func TestTracebackReassembly(t *testing.T) {
	m := NewManager()
	now := time.Now()
	sess := m.Begin("c1")

	lines := []string{
		"boom",
		"Traceback (most recent call last):",
		"  File \"x.py\", line 1",
		"ValueError: bad",
		"next message",
	}

	var flushed []*Entry
	for _, l := range lines {
		if e := sess.Feed(decoded(l, now), now); e != nil {
			flushed = append(flushed, e)
		}
	}
	m.Commit(sess, now)

	if len(flushed) != 1 {
		t.Fatalf("expected 1 flush from this batch, got %d", len(flushed))
	}
	want := "boom\nTraceback (most recent call last):\n  File \"x.py\", line 1\nValueError: bad"
	if flushed[0].Message != want {
		t.Errorf("expected traceback message %q, got %q", want, flushed[0].Message)
	}

	// The trailing "next message" is still held across the tick boundary.
	again := m.Begin("c1")
	if e := again.Feed(decoded("and more", now), now); e == nil {
		t.Fatalf("expected the still-held \"next message\" partial to flush")
	} else if e.Message != "next message" {
		t.Errorf("expected held partial %q, got %q", "next message", e.Message)
	}
}

func TestOrphanContinuationStartsFreshEntry(t *testing.T) {
	m := NewManager()
	now := time.Now()
	sess := m.Begin("c1")

	e := sess.Feed(decoded("  indented but nothing preceded it", now), now)
	if e != nil {
		t.Fatalf("expected no flush for an orphan continuation, got %+v", e)
	}
}

func TestStaleFlush(t *testing.T) {
	m := NewManager()
	start := time.Now()
	sess := m.Begin("c1")
	sess.Feed(decoded("still writing", start), start)
	m.Commit(sess, start)

	later := start.Add(10 * time.Second)
	flushed := m.FlushStale(later, 5*time.Second)
	if len(flushed) != 1 {
		t.Fatalf("expected 1 stale flush, got %d", len(flushed))
	}
	if flushed[0].ContainerID != "c1" || flushed[0].Entry.Message != "still writing" {
		t.Errorf("unexpected stale flush: %+v", flushed[0])
	}

	// A second call immediately after should find nothing left to flush.
	if flushed := m.FlushStale(later, 5*time.Second); len(flushed) != 0 {
		t.Errorf("expected no further stale flushes, got %d", len(flushed))
	}
}

func TestSessionDiscardedOnFailedCommitIsIdempotent(t *testing.T) {
	m := NewManager()
	now := time.Now()

	// First attempt: feed two lines, do not commit (simulating StoreBusy).
	attempt1 := m.Begin("c1")
	attempt1.Feed(decoded("alpha", now), now)
	flushed1 := attempt1.Feed(decoded("beta", now), now)
	if flushed1 == nil || flushed1.Message != "alpha" {
		t.Fatalf("unexpected first-attempt flush: %+v", flushed1)
	}
	// attempt1 is discarded: m.Commit is never called.

	// Retry with the identical bytes, as the scheduler would after a
	// failed commit (cursor unchanged).
	attempt2 := m.Begin("c1")
	attempt2.Feed(decoded("alpha", now), now)
	flushed2 := attempt2.Feed(decoded("beta", now), now)
	if flushed2 == nil || flushed2.Message != "alpha" {
		t.Fatalf("retry should reproduce the same flush, got %+v", flushed2)
	}
	m.Commit(attempt2, now)

	again := m.Begin("c1")
	e := again.Feed(decoded("gamma", now), now)
	if e == nil || e.Message != "beta" {
		t.Fatalf("expected exactly one held \"beta\" partial after commit, got %+v", e)
	}
}

func TestForgetReturnsHeldPartial(t *testing.T) {
	m := NewManager()
	now := time.Now()
	sess := m.Begin("c1")
	sess.Feed(decoded("in flight", now), now)
	m.Commit(sess, now)

	e := m.Forget("c1")
	if e == nil || e.Message != "in flight" {
		t.Fatalf("expected Forget to return held partial, got %+v", e)
	}
	if e2 := m.Forget("c1"); e2 != nil {
		t.Errorf("expected nothing left after forgetting, got %+v", e2)
	}
}
