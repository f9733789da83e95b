// Package reassembler folds continuation lines into the previous logical
// log entry, per container, the way a multi-line traceback or stack dump
// arrives as many JSON log lines but is one logical message.
package reassembler

import (
	"regexp"
	"strings"
	"time"

	"containerlogd/pkg/logrecord"
)

// Entry is a reassembled logical log line, ready to be classified and
// committed.
type Entry struct {
	Timestamp time.Time
	Stream    string
	Message   string
	Raw       string
}

type state int

const (
	stateEmpty state = iota
	stateHolding
)

type lineKind int

const (
	kindNormal lineKind = iota
	kindTracebackOpener
	kindContinuation
)

var (
	fileMarkerRegex = regexp.MustCompile(`^File "[^"]*"`)
	exceptionMarkerRegex = regexp.MustCompile(`^[A-Z][A-Za-z0-9_]*:`)
)

const tracebackOpener = "Traceback (most recent call last):"

// classifyLine reports whether text is a continuation of the previous line
// and, if so, what kind of continuation marker it is (used to decide
// whether a following exception-marker line also continues the entry).
func classifyLine(text string, prevKind lineKind) lineKind {
	if len(text) > 0 && (text[0] == ' ' || text[0] == '\t') {
		return kindContinuation
	}
	if text == tracebackOpener {
		return kindTracebackOpener
	}
	if fileMarkerRegex.MatchString(text) {
		return kindContinuation
	}
	if (prevKind == kindContinuation || prevKind == kindTracebackOpener) && exceptionMarkerRegex.MatchString(text) && !strings.ContainsAny(strings.SplitN(text, ":", 2)[0], " \t") {
		return kindContinuation
	}
	return kindNormal
}

func isContinuation(kind lineKind) bool {
	return kind == kindContinuation || kind == kindTracebackOpener
}

// container holds the per-container pending-reassembly state described
// in the data model: the currently-accumulating entry, or nothing.
type container struct {
	st        state
	partial   Entry
	prevKind  lineKind
	lastTouch time.Time
}

// Manager owns one container's worth of pending-reassembly state per
// container id. It is only ever driven by the ingestion worker: no
// internal locking is needed, matching the single-writer concurrency
// model.
type Manager struct {
	containers map[string]*container
}

// NewManager returns an empty Manager.
func NewManager() *Manager {
	return &Manager{containers: make(map[string]*container)}
}

// Session is a working copy of one container's reassembly state. The
// Scheduler opens a Session per tick, feeds it decoded lines, and only
// calls Commit once the resulting batch has been durably written to the
// Store — so a failed commit (StoreBusy) can be discarded without the
// container's real state having moved, and the next tick's reread of the
// same bytes reproduces the same result.
type Session struct {
	containerID string
	c           container
}

// Begin opens a session over containerID's current state, cloning it so
// mutations are invisible to other readers until Commit.
func (m *Manager) Begin(containerID string) *Session {
	c, ok := m.containers[containerID]
	if !ok {
		return &Session{containerID: containerID, c: container{st: stateEmpty}}
	}
	return &Session{containerID: containerID, c: *c}
}

// Commit replaces containerID's persistent state with the session's
// final state. now becomes the new staleness clock for any entry still
// being held.
func (m *Manager) Commit(sess *Session, now time.Time) {
	final := sess.c
	final.lastTouch = now
	m.containers[sess.containerID] = &final
}

// Forget drops all in-memory state for a container, per the data model's
// "destroyed ... when the container disappears" rule. If a partial entry
// is still being held it is returned so the caller can flush it before
// discarding.
func (m *Manager) Forget(containerID string) *Entry {
	c, ok := m.containers[containerID]
	delete(m.containers, containerID)
	if !ok || c.st != stateHolding {
		return nil
	}
	e := c.partial
	return &e
}

// Feed folds one decoded line into the session's state, returning the
// entry that was flushed as a side effect of this line (the previously
// held partial, when this line is a non-continuation), or nil if nothing
// was flushed.
func (s *Session) Feed(d logrecord.Decoded, now time.Time) *Entry {
	kind := classifyLine(d.Text, s.c.prevKind)
	s.c.prevKind = kind

	switch s.c.st {
	case stateEmpty:
		s.c.st = stateHolding
		s.c.partial = Entry{Timestamp: d.Timestamp, Stream: d.Stream, Message: d.Text, Raw: d.Raw}
		s.c.lastTouch = now
		return nil

	case stateHolding:
		if isContinuation(kind) {
			s.c.partial.Message = s.c.partial.Message + "\n" + d.Text
			s.c.lastTouch = now
			return nil
		}
		flushed := s.c.partial
		s.c.partial = Entry{Timestamp: d.Timestamp, Stream: d.Stream, Message: d.Text, Raw: d.Raw}
		s.c.lastTouch = now
		return &flushed
	}
	return nil
}

// ForceFlush immediately flushes a held partial regardless of staleness,
// clearing the session back to Empty. cmd/tailcat uses it to emit the
// last held entry at end of file; when a container disappears, the
// Scheduler calls Manager.Forget instead.
func (s *Session) ForceFlush() *Entry {
	if s.c.st != stateHolding {
		return nil
	}
	e := s.c.partial
	s.c.st = stateEmpty
	s.c.partial = Entry{}
	return &e
}

// FlushStale walks every container's persisted state and flushes any
// partial that has been held past staleAfter, returning one Entry per
// container that was flushed. This is the (b) branch of the spec's
// flush-trigger rule; the (a) branch (next poll produces a
// non-continuation) is handled inline by Session.Feed.
type StaleFlush struct {
	ContainerID string
	Entry       Entry
}

func (m *Manager) FlushStale(now time.Time, staleAfter time.Duration) []StaleFlush {
	var out []StaleFlush
	for id, c := range m.containers {
		if c.st != stateHolding {
			continue
		}
		if now.Sub(c.lastTouch) < staleAfter {
			continue
		}
		out = append(out, StaleFlush{ContainerID: id, Entry: c.partial})
		c.st = stateEmpty
		c.partial = Entry{}
	}
	return out
}
