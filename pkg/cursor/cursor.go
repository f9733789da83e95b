// Package cursor is the thin policy layer over the Store's cursor table:
// it owns the in-memory cache the ingestion worker reads and writes
// every tick, persisted back to the Store by the caller in the same
// transaction as the batch it accompanies.
package cursor

import (
	"context"
	"time"

	"containerlogd/pkg/store"
)

// Manager caches cursors in memory. It is only ever touched by the
// ingestion worker, matching the spec's single-writer concurrency model:
// "in-memory cache is owned exclusively by the ingestion worker (no lock
// needed)".
type Manager struct {
	cache map[string]store.Cursor
}

// NewManager loads every persisted cursor into memory.
func NewManager(ctx context.Context, st *store.Store) (*Manager, error) {
	cached, err := st.LoadCursors(ctx)
	if err != nil {
		return nil, err
	}
	return &Manager{cache: cached}, nil
}

// Get returns the cached cursor for containerID, if one exists.
func (m *Manager) Get(containerID string) (store.Cursor, bool) {
	c, ok := m.cache[containerID]
	return c, ok
}

// Seed creates a cursor for a container seen for the first time,
// positioned so a first run only replays the last tailBuffer bytes
// rather than the whole file.
func (m *Manager) Seed(containerID, filePath string, inode uint64, fileSize, tailBuffer int64) store.Cursor {
	pos := fileSize - tailBuffer
	if pos < 0 {
		pos = 0
	}
	c := store.Cursor{
		ContainerID: containerID,
		FilePath:    filePath,
		Position:    pos,
		Inode:       inode,
		UpdatedAt:   time.Now(),
	}
	m.cache[containerID] = c
	return c
}

// ResetForRotation resets a container's cursor to offset 0 of its new
// inode, per the rotation invariant in §3.
func (m *Manager) ResetForRotation(containerID, filePath string, inode uint64) store.Cursor {
	c := store.Cursor{
		ContainerID: containerID,
		FilePath:    filePath,
		Position:    0,
		Inode:       inode,
		UpdatedAt:   time.Now(),
	}
	m.cache[containerID] = c
	return c
}

// Advance returns the cursor containerID should move to after a
// successful read, without yet committing it to the cache: the caller
// only calls Commit once the Store transaction carrying it has
// succeeded.
func Advance(c store.Cursor, newPosition int64) store.Cursor {
	c.Position = newPosition
	c.UpdatedAt = time.Now()
	return c
}

// Commit records c as containerID's authoritative in-memory cursor.
// Callers must only do this after c has been durably persisted.
func (m *Manager) Commit(containerID string, c store.Cursor) {
	m.cache[containerID] = c
}

// Forget drops a container's cursor cache entry. The persisted row is
// left alone: cursors "persist across restarts" even if the container
// is momentarily absent.
func (m *Manager) Forget(containerID string) {
	delete(m.cache, containerID)
}
