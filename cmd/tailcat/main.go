// Command tailcat is a debug CLI that points the Line Reader, Record
// Decoder and Reassembler at one container's log file and prints
// reassembled entries to stdout, without touching the Store. Adapted
// from the teacher's cmd/test-parser, trimmed to the file-reading path
// since this domain's containers are always read from disk.
package main

import (
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"containerlogd/pkg/linereader"
	"containerlogd/pkg/logrecord"
	"containerlogd/pkg/reassembler"
)

func main() {
	var (
		logFile = flag.String("file", "", "container JSON log file to read, e.g. /var/lib/docker/containers/<id>/<id>-json.log")
		debug   = flag.Bool("debug", false, "print the raw decoded line alongside the reassembled entry")
	)
	flag.Parse()

	if *logFile == "" {
		fmt.Println("Usage:")
		fmt.Println("  tailcat -file <container-json.log> [-debug]")
		os.Exit(1)
	}

	if err := run(*logFile, *debug); err != nil {
		fmt.Fprintf(os.Stderr, "tailcat: %v\n", err)
		os.Exit(1)
	}
}

func run(path string, debug bool) error {
	inode, _, err := linereader.Stat(path)
	if err != nil {
		return fmt.Errorf("stat %s: %w", path, err)
	}

	res, err := linereader.Read(path, 0, inode)
	if err != nil {
		return fmt.Errorf("read %s: %w", path, err)
	}

	mgr := reassembler.NewManager()
	sess := mgr.Begin("tailcat")
	now := time.Now()

	count := 0
	for _, raw := range res.Lines {
		d := logrecord.Decode(raw, now)
		if debug {
			fmt.Printf("raw: %s\n", strings.TrimSpace(string(raw)))
		}
		entry := sess.Feed(d, now)
		if entry == nil {
			continue
		}
		count++
		printEntry(count, *entry)
	}

	if final := sess.ForceFlush(); final != nil {
		count++
		printEntry(count, *final)
	}
	mgr.Commit(sess, now)

	fmt.Printf("\n%d entries reassembled from %d raw lines.\n", count, len(res.Lines))
	return nil
}

func printEntry(n int, e reassembler.Entry) {
	level := logrecord.ClassifyLevel(e.Stream, e.Message)
	fmt.Printf("--- entry %d ---\n", n)
	fmt.Printf("timestamp: %s\n", e.Timestamp.Format(time.RFC3339Nano))
	fmt.Printf("stream:    %s\n", e.Stream)
	fmt.Printf("level:     %s\n", level)
	fmt.Printf("message:   %s\n", e.Message)
}
