// Package ingest is the Ingestion Scheduler (§4.7): the single
// long-running loop that discovers containers, drives the Line Reader,
// Record Decoder and Reassembler, commits batches to the Store, and
// publishes to the Tail Broker. It is the only writer to the Store and
// to the Cursor Manager's in-memory cache.
package ingest

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"containerlogd/pkg/cursor"
	"containerlogd/pkg/discovery"
	"containerlogd/pkg/ingesterr"
	"containerlogd/pkg/linereader"
	"containerlogd/pkg/logrecord"
	"containerlogd/pkg/reassembler"
	"containerlogd/pkg/store"
	"containerlogd/pkg/tailbroker"
)

// Config holds the Scheduler's tuning knobs. All but StaleAfter are
// sourced from the environment per §6; StaleAfter has no variable of its
// own and defaults from PollInterval.
type Config struct {
	SourceDir    string
	PollInterval time.Duration
	TailBuffer   int64
	MaxEntries   int
	Allow        map[string]struct{} // optional container-name allow-list
	StaleAfter   time.Duration       // default: 2 * PollInterval
}

// FatalError marks a failure the Scheduler cannot recover from: the
// process should exit non-zero so a supervisor restarts it.
type FatalError struct{ Err error }

func (e *FatalError) Error() string { return "ingest: fatal: " + e.Err.Error() }
func (e *FatalError) Unwrap() error { return e.Err }

// Scheduler runs the ingestion loop.
type Scheduler struct {
	cfg      Config
	store    *store.Store
	cursors  *cursor.Manager
	reasm    *reassembler.Manager
	broker   *tailbroker.Broker
	enricher *discovery.DockerEnricher
	logger   *slog.Logger

	names map[string]string // last known container id -> name, for flush-on-disappear
	known map[string]struct{}
}

// New builds a Scheduler. enricher may be nil when no Docker daemon is
// reachable; discovery still works purely from the filesystem.
func New(cfg Config, st *store.Store, cm *cursor.Manager, rm *reassembler.Manager, broker *tailbroker.Broker, enricher *discovery.DockerEnricher, logger *slog.Logger) *Scheduler {
	if cfg.StaleAfter <= 0 {
		cfg.StaleAfter = 2 * cfg.PollInterval
	}
	return &Scheduler{
		cfg:      cfg,
		store:    st,
		cursors:  cm,
		reasm:    rm,
		broker:   broker,
		enricher: enricher,
		logger:   logger,
		names:    make(map[string]string),
		known:    make(map[string]struct{}),
	}
}

// Run drives ticks until ctx is cancelled, then flushes every held
// partial and returns. A FatalError aborts the loop immediately; the
// caller is expected to exit the process with a non-zero code.
func (s *Scheduler) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.cfg.PollInterval)
	defer ticker.Stop()

	for {
		if err := s.tick(ctx); err != nil {
			var fatal *FatalError
			if errors.As(err, &fatal) {
				return fatal
			}
			s.logger.Error("ingest tick failed", "err", err)
		}

		select {
		case <-ctx.Done():
			s.shutdown()
			return nil
		case <-ticker.C:
		}
	}
}

// shutdown flushes every container's held partial, regardless of
// staleness, the way §5's cancellation contract requires.
func (s *Scheduler) shutdown() {
	for id := range s.known {
		if e := s.reasm.Forget(id); e != nil {
			s.commitSingle(context.Background(), id, *e)
		}
	}
}

func (s *Scheduler) tick(ctx context.Context) error {
	containers, err := discovery.Discover(s.cfg.SourceDir, s.cfg.Allow)
	if err != nil {
		// Permission loss or a missing source directory with no
		// fallback is fatal: there is nothing left to ingest.
		return &FatalError{Err: err}
	}
	if s.enricher != nil {
		s.enricher.Enrich(ctx, containers)
	}

	current := make(map[string]struct{}, len(containers))
	for _, c := range containers {
		current[c.ID] = struct{}{}
		s.names[c.ID] = c.Name
		if err := s.processContainer(ctx, c); err != nil {
			var fatal *FatalError
			if errors.As(err, &fatal) {
				return fatal
			}
			s.logger.Debug("transient ingest error", "container", c.Name, "err", err)
		}
	}

	for id := range s.known {
		if _, stillPresent := current[id]; stillPresent {
			continue
		}
		if e := s.reasm.Forget(id); e != nil {
			s.commitSingle(ctx, id, *e)
		}
		s.cursors.Forget(id)
	}
	s.known = current

	now := time.Now()
	for _, flush := range s.reasm.FlushStale(now, s.cfg.StaleAfter) {
		s.commitSingle(ctx, flush.ContainerID, flush.Entry)
	}

	return s.trimIfNeeded(ctx)
}

func (s *Scheduler) trimIfNeeded(ctx context.Context) error {
	if s.cfg.MaxEntries <= 0 {
		return nil
	}
	stats, err := s.store.Stats(ctx)
	if err != nil {
		return err
	}
	if int(stats.Total) <= s.cfg.MaxEntries {
		return nil
	}
	return s.store.TrimTo(ctx, s.cfg.MaxEntries)
}

// commitSingle persists one already-flushed entry that isn't part of a
// fresh read batch (a staleness flush or a departure flush). Its cursor
// is unchanged, so only the entry is inserted.
func (s *Scheduler) commitSingle(ctx context.Context, containerID string, e reassembler.Entry) {
	name := s.names[containerID]
	if name == "" {
		name = containerID
	}
	row := toStoreEntry(name, e, logrecord.ClassifyLevel(e.Stream, e.Message))
	if _, err := s.store.InsertBatch(ctx, []store.LogEntry{row}, nil); err != nil {
		s.logger.Debug("failed to commit flushed partial", "container", name, "err", err)
		return
	}
	s.broker.Publish(row)
}

// flushAcrossRotation force-flushes any partial still held from the old
// inode before a byte of the new inode is read, satisfying §5's
// rotation-boundary ordering guarantee.
func (s *Scheduler) flushAcrossRotation(ctx context.Context, containerID string) {
	if e := s.reasm.Forget(containerID); e != nil {
		s.commitSingle(ctx, containerID, *e)
	}
}

func (s *Scheduler) processContainer(ctx context.Context, c discovery.Container) error {
	inode, size, err := linereader.Stat(c.LogPath)
	if err != nil {
		return err
	}

	cur, ok := s.cursors.Get(c.ID)
	switch {
	case !ok:
		cur = s.cursors.Seed(c.ID, c.LogPath, inode, size, s.cfg.TailBuffer)
	case cur.Inode != inode:
		s.flushAcrossRotation(ctx, c.ID)
		cur = s.cursors.ResetForRotation(c.ID, c.LogPath, inode)
	}

	res, err := linereader.Read(c.LogPath, cur.Position, inode)
	if errors.Is(err, linereader.ErrRotated) {
		s.flushAcrossRotation(ctx, c.ID)
		inode, _, statErr := linereader.Stat(c.LogPath)
		if statErr != nil {
			return statErr
		}
		cur = s.cursors.ResetForRotation(c.ID, c.LogPath, inode)
		res, err = linereader.Read(c.LogPath, cur.Position, inode)
	}
	if err != nil {
		return err
	}
	if len(res.Lines) == 0 {
		return nil
	}

	sess := s.reasm.Begin(c.ID)
	now := time.Now()
	batch := make([]store.LogEntry, 0, len(res.Lines))
	for _, raw := range res.Lines {
		d := logrecord.Decode(raw, now)
		if flushed := sess.Feed(d, now); flushed != nil {
			level := logrecord.ClassifyLevel(flushed.Stream, flushed.Message)
			batch = append(batch, toStoreEntry(c.Name, *flushed, level))
		}
	}
	// batch is not capped: it holds every entry flushed from the
	// complete lines Read returned, from the cursor to end of file, and
	// it is committed in one transaction together with the cursor. A
	// container's read is never split across several transactions.

	advanced := cursor.Advance(cur, res.NewPosition)
	if err := s.commitBatch(ctx, c.ID, advanced, batch); err != nil {
		return err
	}

	s.reasm.Commit(sess, now)
	s.cursors.Commit(c.ID, advanced)
	return nil
}

// commitBatch persists batch plus newCursor in one transaction. On
// StoreBusy it returns the error without advancing anything: the caller
// must not commit its Session or Cursor Manager changes, so the next
// tick rereads the identical bytes and reproduces the identical batch.
func (s *Scheduler) commitBatch(ctx context.Context, containerID string, newCursor store.Cursor, batch []store.LogEntry) error {
	ids, err := s.store.InsertBatch(ctx, batch, &newCursor)
	if err != nil {
		if kind, ok := ingesterr.AsKind(err); ok && kind == ingesterr.KindStoreBusy {
			return err
		}
		if kind, ok := ingesterr.AsKind(err); ok && kind == ingesterr.KindStoreFatal {
			return &FatalError{Err: err}
		}
		return err
	}
	for i, row := range batch {
		row.ID = ids[i]
		s.broker.Publish(row)
	}
	return nil
}

func toStoreEntry(container string, e reassembler.Entry, level string) store.LogEntry {
	return store.LogEntry{
		Timestamp: e.Timestamp,
		Container: container,
		Stream:    e.Stream,
		Level:     level,
		Message:   e.Message,
		Raw:       e.Raw,
	}
}
