// Package store is the embedded relational persistence layer: entries,
// their FTS5 shadow index, and per-container cursors, behind a single
// GORM handle.
package store

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"strings"
	"time"

	"containerlogd/pkg/ingesterr"

	"github.com/mattn/go-sqlite3"
	"github.com/pressly/goose/v3"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

//go:embed migrations/*.sql
var embedMigrations embed.FS

// LogEntry is a committed, immutable row. See log_entries in
// migrations/00001_init.sql.
type LogEntry struct {
	ID        uint64    `gorm:"primaryKey;autoIncrement;column:id" json:"id"`
	Timestamp time.Time `gorm:"column:timestamp;not null" json:"timestamp"`
	Container string    `gorm:"column:container;not null" json:"container"`
	Stream    string    `gorm:"column:stream;not null" json:"stream"`
	Level     string    `gorm:"column:level;not null" json:"level"`
	Message   string    `gorm:"column:message;not null" json:"message"`
	Raw       string    `gorm:"column:raw;not null" json:"raw"`
}

func (LogEntry) TableName() string { return "log_entries" }

// Cursor is a container's per-file ingestion position.
type Cursor struct {
	ContainerID string    `gorm:"column:container_id;primaryKey" json:"containerId"`
	FilePath    string    `gorm:"column:file_path;not null" json:"filePath"`
	Position    int64     `gorm:"column:position;not null" json:"position"`
	Inode       uint64    `gorm:"column:inode;not null" json:"inode"`
	UpdatedAt   time.Time `gorm:"column:updated_at;not null" json:"updatedAt"`
}

func (Cursor) TableName() string { return "cursors" }

// Store wraps the GORM handle onto the SQLite database.
type Store struct {
	db *gorm.DB
}

// NewStore opens dbPath with WAL mode, a busy timeout and foreign keys
// enabled, then runs embedded goose migrations.
func NewStore(dbPath string) (*Store, error) {
	dsn := fmt.Sprintf("%s?_busy_timeout=5000&_journal_mode=WAL&_synchronous=NORMAL&_foreign_keys=on", dbPath)
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("underlying sql db: %w", err)
	}
	// A single writer connection avoids spurious SQLITE_BUSY errors
	// under WAL: the ingestion worker is already the only writer, so
	// there is nothing to gain from a connection pool here.
	sqlDB.SetMaxOpenConns(1)

	goose.SetBaseFS(embedMigrations)
	if err := goose.SetDialect("sqlite3"); err != nil {
		return nil, fmt.Errorf("set goose dialect: %w", err)
	}
	if err := goose.Up(sqlDB, "migrations"); err != nil {
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	return &Store{db: db}, nil
}

// Close checkpoints the WAL and closes the underlying connection.
func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	_, _ = sqlDB.Exec("PRAGMA wal_checkpoint(TRUNCATE)")
	return sqlDB.Close()
}

// classifyDBError maps a raw driver/gorm error onto the stable kinds
// callers are expected to switch on (§7 of the engine's error design).
func classifyDBError(err error) error {
	if err == nil {
		return nil
	}
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		switch sqliteErr.Code {
		case sqlite3.ErrBusy, sqlite3.ErrLocked:
			return ingesterr.Wrap(ingesterr.KindStoreBusy, "database is busy", err)
		case sqlite3.ErrCorrupt, sqlite3.ErrNotADB:
			return ingesterr.Wrap(ingesterr.KindStoreFatal, "database schema is corrupt", err)
		}
	}
	msg := err.Error()
	if strings.Contains(msg, "database is locked") || strings.Contains(msg, "busy") {
		return ingesterr.Wrap(ingesterr.KindStoreBusy, "database is busy", err)
	}
	return fmt.Errorf("store: %w", err)
}

// InsertBatch commits entries and upserts cur in a single transaction,
// the way §4.1 and §4.7.e require: cursor advancement is atomic with the
// batch it accompanies. entries may be empty (a tick that only consumed
// continuation lines still needs its cursor persisted). cur may be nil
// when there is no cursor movement to record.
func (s *Store) InsertBatch(ctx context.Context, entries []LogEntry, cur *Cursor) ([]uint64, error) {
	ids := make([]uint64, 0, len(entries))
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for i := range entries {
			if err := tx.Create(&entries[i]).Error; err != nil {
				return err
			}
			ids = append(ids, entries[i].ID)
		}
		if cur != nil {
			if err := tx.Clauses(clause.OnConflict{
				Columns:   []clause.Column{{Name: "container_id"}},
				UpdateAll: true,
			}).Create(cur).Error; err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, classifyDBError(err)
	}
	return ids, nil
}

// TrimTo deletes the lowest-id rows until at most maxRows remain. FTS
// rows cascade via the log_entries_ad trigger.
func (s *Store) TrimTo(ctx context.Context, maxRows int) error {
	var total int64
	if err := s.db.WithContext(ctx).Model(&LogEntry{}).Count(&total).Error; err != nil {
		return classifyDBError(err)
	}
	if total <= int64(maxRows) {
		return nil
	}
	toDelete := total - int64(maxRows)
	err := s.db.WithContext(ctx).Exec(
		`DELETE FROM log_entries WHERE id IN (SELECT id FROM log_entries ORDER BY id ASC LIMIT ?)`,
		toDelete,
	).Error
	return classifyDBError(err)
}

// LoadCursors returns every persisted cursor, keyed by container id, for
// the Cursor Manager to seed its in-memory cache from at startup.
func (s *Store) LoadCursors(ctx context.Context) (map[string]Cursor, error) {
	var rows []Cursor
	if err := s.db.WithContext(ctx).Find(&rows).Error; err != nil {
		return nil, classifyDBError(err)
	}
	out := make(map[string]Cursor, len(rows))
	for _, c := range rows {
		out[c.ContainerID] = c
	}
	return out, nil
}

// QueryFilter is the Query Engine's filter set, already validated
// (limit clamped, etc.) by the time it reaches the Store.
type QueryFilter struct {
	Container string
	Level     string
	Search    string
	Since     *time.Time
	Until     *time.Time
	Limit     int
	Offset    int
}

func (s *Store) scoped(ctx context.Context, f QueryFilter) *gorm.DB {
	q := s.db.WithContext(ctx).Model(&LogEntry{})
	if f.Container != "" {
		q = q.Where("container = ?", f.Container)
	}
	if f.Level != "" {
		q = q.Where("level = ?", f.Level)
	}
	if f.Since != nil {
		q = q.Where("timestamp >= ?", *f.Since)
	}
	if f.Until != nil {
		q = q.Where("timestamp <= ?", *f.Until)
	}
	if f.Search != "" {
		q = q.Where("id IN (SELECT rowid FROM log_entries_fts WHERE log_entries_fts MATCH ?)", f.Search)
	}
	return q
}

// Query returns a page of entries matching f, newest first, plus the
// total filtered count.
func (s *Store) Query(ctx context.Context, f QueryFilter) ([]LogEntry, int64, error) {
	var total int64
	if err := s.scoped(ctx, f).Count(&total).Error; err != nil {
		return nil, 0, classifyDBError(err)
	}

	var rows []LogEntry
	err := s.scoped(ctx, f).Order("id DESC").Limit(f.Limit).Offset(f.Offset).Find(&rows).Error
	if err != nil {
		return nil, 0, classifyDBError(err)
	}
	return rows, total, nil
}

// Stats is the aggregated counters behind GET /api/logs/stats.
type Stats struct {
	Total       int64
	Oldest      *time.Time
	Newest      *time.Time
	ByLevel     map[string]int64
	ByContainer map[string]int64
}

func (s *Store) Stats(ctx context.Context) (Stats, error) {
	db := s.db.WithContext(ctx)
	out := Stats{ByLevel: map[string]int64{}, ByContainer: map[string]int64{}}

	if err := db.Model(&LogEntry{}).Count(&out.Total).Error; err != nil {
		return out, classifyDBError(err)
	}

	if out.Total > 0 {
		var bounds struct {
			Oldest time.Time
			Newest time.Time
		}
		if err := db.Model(&LogEntry{}).
			Select("MIN(timestamp) AS oldest, MAX(timestamp) AS newest").
			Scan(&bounds).Error; err != nil {
			return out, classifyDBError(err)
		}
		out.Oldest = &bounds.Oldest
		out.Newest = &bounds.Newest
	}

	var byLevel []struct {
		Level string
		Count int64
	}
	if err := db.Model(&LogEntry{}).Select("level, COUNT(*) AS count").Group("level").Scan(&byLevel).Error; err != nil {
		return out, classifyDBError(err)
	}
	for _, r := range byLevel {
		out.ByLevel[r.Level] = r.Count
	}

	var byContainer []struct {
		Container string
		Count     int64
	}
	if err := db.Model(&LogEntry{}).Select("container, COUNT(*) AS count").Group("container").Scan(&byContainer).Error; err != nil {
		return out, classifyDBError(err)
	}
	for _, r := range byContainer {
		out.ByContainer[r.Container] = r.Count
	}

	return out, nil
}

// ContainerCount is one row of ListContainers.
type ContainerCount struct {
	Name     string `json:"name"`
	LogCount int64  `json:"log_count"`
}

func (s *Store) ListContainers(ctx context.Context) ([]ContainerCount, error) {
	var rows []ContainerCount
	err := s.db.WithContext(ctx).Model(&LogEntry{}).
		Select("container AS name, COUNT(*) AS log_count").
		Group("container").
		Order("container").
		Scan(&rows).Error
	return rows, classifyDBError(err)
}
