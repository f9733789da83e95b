// Package linereader implements a positioned, rotation-aware reader that
// yields newline-delimited records from a file, the way a log-tailing
// scheduler needs: pick up at a byte offset, detect the file having been
// replaced underneath it, and never emit a trailing partial line.
package linereader

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
)

// ErrRotated signals that the file at path has a different inode than
// expected; the caller must reset its cursor to offset 0 of the current
// file before retrying.
var ErrRotated = errors.New("linereader: file rotated")

// ErrReadTransient wraps any I/O failure short of rotation: the file
// briefly missing, a short read, a permission hiccup. The caller should
// retry on the next poll without advancing its cursor.
var ErrReadTransient = errors.New("linereader: transient read error")

// Result is one poll's worth of newly-available, newline-terminated
// lines plus the offset the caller's cursor should advance to.
type Result struct {
	Lines      [][]byte
	NewPosition int64
}

// Stat reports the current inode and size of path, wrapping any error as
// ErrReadTransient.
func Stat(path string) (inode uint64, size int64, err error) {
	fi, err := os.Stat(path)
	if err != nil {
		return 0, 0, fmt.Errorf("%w: %v", ErrReadTransient, err)
	}
	return inodeOf(fi), fi.Size(), nil
}

// Read opens path, confirms its inode matches expectedInode, seeks to
// position and scans forward collecting complete lines (split on '\n').
// A trailing partial line with no terminating newline is never emitted;
// the returned NewPosition only advances to the end of the last complete
// line.
func Read(path string, position int64, expectedInode uint64) (Result, error) {
	fi, err := os.Stat(path)
	if err != nil {
		return Result{}, fmt.Errorf("%w: %v", ErrReadTransient, err)
	}
	if inodeOf(fi) != expectedInode {
		return Result{}, ErrRotated
	}

	f, err := os.Open(path)
	if err != nil {
		return Result{}, fmt.Errorf("%w: %v", ErrReadTransient, err)
	}
	defer f.Close()

	if _, err := f.Seek(position, io.SeekStart); err != nil {
		return Result{}, fmt.Errorf("%w: %v", ErrReadTransient, err)
	}

	reader := bufio.NewReaderSize(f, 64*1024)
	res := Result{NewPosition: position}
	for {
		line, err := reader.ReadBytes('\n')
		if len(line) > 0 && err == nil {
			res.Lines = append(res.Lines, bytes.TrimSuffix(line, []byte("\n")))
			res.NewPosition += int64(len(line))
			continue
		}
		if err == io.EOF {
			// A trailing partial line (no '\n' yet) is left unread; the
			// cursor does not advance past it.
			break
		}
		if err != nil {
			return res, fmt.Errorf("%w: %v", ErrReadTransient, err)
		}
	}
	return res, nil
}
