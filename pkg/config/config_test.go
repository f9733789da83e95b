package config

import (
	"log/slog"
	"testing"
)

func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range []string{
		"DATABASE_PATH", "LOG_SOURCES", "CONTAINERS", "MAX_ENTRIES",
		"POLL_INTERVAL", "TAIL_BUFFER", "LOG_LEVEL",
		"NOTION_API_KEY", "NOTION_DATABASE_ID",
	} {
		t.Setenv(k, "")
	}
}

func TestLoadDefaults(t *testing.T) {
	clearEnv(t)
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.DatabasePath != defaultDatabasePath {
		t.Errorf("expected default database path, got %q", cfg.DatabasePath)
	}
	if cfg.LogLevel != slog.LevelInfo {
		t.Errorf("expected default log level INFO, got %v", cfg.LogLevel)
	}
	if cfg.Containers != nil {
		t.Errorf("expected no allow-list by default, got %v", cfg.Containers)
	}
	if cfg.NotionConfigured() {
		t.Error("expected Notion export disabled by default")
	}
}

func TestLoadParsesOverrides(t *testing.T) {
	clearEnv(t)
	t.Setenv("DATABASE_PATH", "/tmp/x.db")
	t.Setenv("CONTAINERS", "web, worker,worker")
	t.Setenv("MAX_ENTRIES", "500")
	t.Setenv("POLL_INTERVAL", "5")
	t.Setenv("TAIL_BUFFER", "2048")
	t.Setenv("LOG_LEVEL", "debug")
	t.Setenv("NOTION_API_KEY", "key")
	t.Setenv("NOTION_DATABASE_ID", "db")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.DatabasePath != "/tmp/x.db" {
		t.Errorf("unexpected database path %q", cfg.DatabasePath)
	}
	if _, ok := cfg.Containers["web"]; !ok {
		t.Error("expected web in allow-list")
	}
	if len(cfg.Containers) != 2 {
		t.Errorf("expected 2 distinct allow-list entries, got %d", len(cfg.Containers))
	}
	if cfg.MaxEntries != 500 {
		t.Errorf("expected MaxEntries 500, got %d", cfg.MaxEntries)
	}
	if cfg.PollInterval.Seconds() != 5 {
		t.Errorf("expected 5s poll interval, got %v", cfg.PollInterval)
	}
	if cfg.TailBuffer != 2048 {
		t.Errorf("expected tail buffer 2048, got %d", cfg.TailBuffer)
	}
	if cfg.LogLevel != slog.LevelDebug {
		t.Errorf("expected DEBUG level, got %v", cfg.LogLevel)
	}
	if !cfg.NotionConfigured() {
		t.Error("expected Notion export enabled")
	}
}

func TestLoadRejectsInvalidInts(t *testing.T) {
	clearEnv(t)
	t.Setenv("MAX_ENTRIES", "not-a-number")
	if _, err := Load(); err == nil {
		t.Fatal("expected an error for invalid MAX_ENTRIES")
	}
}

func TestLoadRejectsUnknownLogLevel(t *testing.T) {
	clearEnv(t)
	t.Setenv("LOG_LEVEL", "verbose")
	if _, err := Load(); err == nil {
		t.Fatal("expected an error for unknown LOG_LEVEL")
	}
}
