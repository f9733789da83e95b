package linereader

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func TestReadSplitsCompleteLinesOnly(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "c-json.log")
	if err := os.WriteFile(path, []byte("line one\nline two\nunterminated"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}

	inode, _, err := Stat(path)
	if err != nil {
		t.Fatalf("stat: %v", err)
	}

	res, err := Read(path, 0, inode)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if len(res.Lines) != 2 {
		t.Fatalf("expected 2 complete lines, got %d: %v", len(res.Lines), res.Lines)
	}
	if string(res.Lines[0]) != "line one" || string(res.Lines[1]) != "line two" {
		t.Errorf("unexpected lines: %q", res.Lines)
	}
	if res.NewPosition != int64(len("line one\nline two\n")) {
		t.Errorf("expected position past the last complete newline, got %d", res.NewPosition)
	}

	// A second read from the advanced position sees nothing new until
	// the trailing partial line is terminated.
	res2, err := Read(path, res.NewPosition, inode)
	if err != nil {
		t.Fatalf("read2: %v", err)
	}
	if len(res2.Lines) != 0 {
		t.Errorf("expected no new complete lines yet, got %d", len(res2.Lines))
	}
}

func TestReadDetectsRotation(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "c-json.log")
	if err := os.WriteFile(path, []byte("before\n"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	inode, _, err := Stat(path)
	if err != nil {
		t.Fatalf("stat: %v", err)
	}

	// Move the old file aside, as log rotation does: it keeps its inode,
	// so the file written in its place gets a different one.
	if err := os.Rename(path, path+".1"); err != nil {
		t.Fatalf("rename: %v", err)
	}
	if err := os.WriteFile(path, []byte("after\n"), 0o644); err != nil {
		t.Fatalf("rewrite: %v", err)
	}

	_, err = Read(path, 7, inode)
	if !errors.Is(err, ErrRotated) {
		t.Fatalf("expected ErrRotated, got %v", err)
	}
}

func TestReadMissingFileIsTransient(t *testing.T) {
	_, err := Read(filepath.Join(t.TempDir(), "missing.log"), 0, 1)
	if !errors.Is(err, ErrReadTransient) {
		t.Fatalf("expected ErrReadTransient, got %v", err)
	}
}
