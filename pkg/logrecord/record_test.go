package logrecord

import (
	"testing"
	"time"
)

func TestDecodeWellFormed(t *testing.T) {
	line := []byte(`{"log":"hello\n","stream":"stdout","time":"2026-01-01T00:00:00Z"}`)
	d := Decode(line, time.Now())

	if d.Text != "hello" {
		t.Errorf("expected text %q, got %q", "hello", d.Text)
	}
	if d.Stream != "stdout" {
		t.Errorf("expected stream stdout, got %q", d.Stream)
	}
	want := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	if !d.Timestamp.Equal(want) {
		t.Errorf("expected timestamp %v, got %v", want, d.Timestamp)
	}
}

func TestDecodeMalformedNeverDrops(t *testing.T) {
	ingest := time.Now()
	line := []byte(`not json at all`)
	d := Decode(line, ingest)

	if d.Text != string(line) {
		t.Errorf("expected malformed line passed through verbatim, got %q", d.Text)
	}
	if d.Stream != "stdout" {
		t.Errorf("expected fallback stream stdout, got %q", d.Stream)
	}
	if !d.Timestamp.Equal(ingest) {
		t.Errorf("expected ingest time fallback, got %v", d.Timestamp)
	}
}

func TestDecodeMissingTimeFallsBackToIngest(t *testing.T) {
	ingest := time.Now()
	line := []byte(`{"log":"x\n","stream":"stderr"}`)
	d := Decode(line, ingest)
	if !d.Timestamp.Equal(ingest) {
		t.Errorf("expected ingest time fallback when time missing, got %v", d.Timestamp)
	}
}

func TestClassifyLevelJSONSubstring(t *testing.T) {
	level := ClassifyLevel("stdout", `{"level":"warn","msg":"low disk"}`)
	if level != LevelWarning {
		t.Errorf("expected WARNING, got %s", level)
	}
}

func TestClassifyLevelBracket(t *testing.T) {
	level := ClassifyLevel("stdout", "[ERROR] connection refused")
	if level != LevelError {
		t.Errorf("expected ERROR, got %s", level)
	}
}

func TestClassifyLevelKeyValue(t *testing.T) {
	level := ClassifyLevel("stdout", "request handled level=DEBUG duration=3ms")
	if level != LevelDebug {
		t.Errorf("expected DEBUG, got %s", level)
	}
}

func TestClassifyLevelPrefix(t *testing.T) {
	level := ClassifyLevel("stdout", "CRITICAL: disk full")
	if level != LevelCritical {
		t.Errorf("expected CRITICAL, got %s", level)
	}
}

func TestClassifyLevelFallbackStream(t *testing.T) {
	if level := ClassifyLevel("stderr", "plain text"); level != LevelError {
		t.Errorf("expected ERROR fallback for stderr, got %s", level)
	}
	if level := ClassifyLevel("stdout", "plain text"); level != LevelInfo {
		t.Errorf("expected INFO fallback for stdout, got %s", level)
	}
}

func TestClassifyLevelPriorityOrder(t *testing.T) {
	// JSON substring must win over the stream fallback even on stderr.
	level := ClassifyLevel("stderr", `{"severity":"info"}`)
	if level != LevelInfo {
		t.Errorf("expected JSON substring to take priority, got %s", level)
	}
}
