// Package config loads the process's tuning knobs from the environment
// (§6), following the teacher's direct os.Getenv style rather than a
// config-struct library.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds everything cmd/ingestd needs to start.
type Config struct {
	DatabasePath string
	LogSources   string
	Containers   map[string]struct{} // nil means no allow-list
	MaxEntries   int
	PollInterval time.Duration
	TailBuffer   int64
	LogLevel     slog.Level

	NotionAPIKey   string
	NotionDatabase string

	// HTTPAddr is not part of spec.md's configuration surface (the spec
	// only names ingestion-side knobs) but every process needs a listen
	// address; it follows the same env-var-with-default convention.
	HTTPAddr string
}

const (
	defaultDatabasePath = "containerlogd.db"
	defaultLogSources   = "/var/lib/docker/containers"
	defaultMaxEntries   = 1_000_000
	defaultPollInterval = 2 * time.Second
	defaultTailBuffer   = 64 * 1024
	defaultHTTPAddr     = ":8080"
)

// Load reads the configuration surface from the environment, applying
// the defaults spec.md §6 implies for anything left unset.
func Load() (Config, error) {
	cfg := Config{
		DatabasePath: getenvDefault("DATABASE_PATH", defaultDatabasePath),
		LogSources:   getenvDefault("LOG_SOURCES", defaultLogSources),
		MaxEntries:   defaultMaxEntries,
		PollInterval: defaultPollInterval,
		TailBuffer:   defaultTailBuffer,
		LogLevel:     slog.LevelInfo,
		HTTPAddr:     getenvDefault("HTTP_ADDR", defaultHTTPAddr),

		NotionAPIKey:   os.Getenv("NOTION_API_KEY"),
		NotionDatabase: os.Getenv("NOTION_DATABASE_ID"),
	}

	if v := os.Getenv("CONTAINERS"); v != "" {
		allow := make(map[string]struct{})
		for _, name := range strings.Split(v, ",") {
			name = strings.TrimSpace(name)
			if name != "" {
				allow[name] = struct{}{}
			}
		}
		cfg.Containers = allow
	}

	if v := os.Getenv("MAX_ENTRIES"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return cfg, fmt.Errorf("config: invalid MAX_ENTRIES %q: %w", v, err)
		}
		cfg.MaxEntries = n
	}

	if v := os.Getenv("POLL_INTERVAL"); v != "" {
		secs, err := strconv.Atoi(v)
		if err != nil {
			return cfg, fmt.Errorf("config: invalid POLL_INTERVAL %q: %w", v, err)
		}
		cfg.PollInterval = time.Duration(secs) * time.Second
	}

	if v := os.Getenv("TAIL_BUFFER"); v != "" {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return cfg, fmt.Errorf("config: invalid TAIL_BUFFER %q: %w", v, err)
		}
		cfg.TailBuffer = n
	}

	if v := os.Getenv("LOG_LEVEL"); v != "" {
		level, err := parseLevel(v)
		if err != nil {
			return cfg, fmt.Errorf("config: invalid LOG_LEVEL %q: %w", v, err)
		}
		cfg.LogLevel = level
	}

	return cfg, nil
}

func getenvDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func parseLevel(raw string) (slog.Level, error) {
	switch strings.ToUpper(raw) {
	case "DEBUG":
		return slog.LevelDebug, nil
	case "INFO":
		return slog.LevelInfo, nil
	case "WARN", "WARNING":
		return slog.LevelWarn, nil
	case "ERROR":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("unknown level %q", raw)
	}
}

// NotionConfigured reports whether both Notion env vars are set, the
// gate pkg/notionexport uses to decide whether to start its ticker.
func (c Config) NotionConfigured() bool {
	return c.NotionAPIKey != "" && c.NotionDatabase != ""
}
