// Command ingestd is the process entrypoint: it loads configuration,
// opens the Store, starts the Ingestion Scheduler, optionally starts
// the Notion exporter, serves the HTTP API, and shuts everything down
// cleanly on SIGINT/SIGTERM (§6).
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/lmittmann/tint"

	"containerlogd/pkg/config"
	"containerlogd/pkg/cursor"
	"containerlogd/pkg/discovery"
	"containerlogd/pkg/httpapi"
	"containerlogd/pkg/ingest"
	"containerlogd/pkg/notionexport"
	"containerlogd/pkg/queryengine"
	"containerlogd/pkg/reassembler"
	"containerlogd/pkg/store"
	"containerlogd/pkg/tailbroker"
)

const (
	tailBrokerMaxSubscribers = 5
	tailBrokerQueueSize      = 256
	tailBrokerTTL            = 30 * time.Minute
	tailBrokerHeartbeat      = 15 * time.Second
	notionExportInterval     = time.Hour
	shutdownGrace            = 10 * time.Second
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("ingestd: %w", err)
	}

	logger := slog.New(tint.NewHandler(os.Stderr, &tint.Options{
		Level:      cfg.LogLevel,
		TimeFormat: time.Kitchen,
	}))
	slog.SetDefault(logger)

	st, err := store.NewStore(cfg.DatabasePath)
	if err != nil {
		return fmt.Errorf("ingestd: open store: %w", err)
	}
	defer st.Close()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	cm, err := cursor.NewManager(ctx, st)
	if err != nil {
		return fmt.Errorf("ingestd: load cursors: %w", err)
	}

	enricher, err := discovery.NewDockerEnricher()
	if err != nil {
		logger.Warn("docker enrichment unavailable, continuing with filesystem-only discovery", "err", err)
		enricher = nil
	} else {
		defer enricher.Close()
	}

	broker := tailbroker.New(tailBrokerMaxSubscribers, tailBrokerQueueSize, tailBrokerTTL, tailBrokerHeartbeat)
	sched := ingest.New(ingest.Config{
		SourceDir:    cfg.LogSources,
		PollInterval: cfg.PollInterval,
		TailBuffer:   cfg.TailBuffer,
		MaxEntries:   cfg.MaxEntries,
		Allow:        cfg.Containers,
	}, st, cm, reassembler.NewManager(), broker, enricher, logger)

	engine := queryengine.New(st)
	api := httpapi.New(engine, broker, logger)
	server := &http.Server{Addr: cfg.HTTPAddr, Handler: api.SetupRouter()}

	if cfg.NotionConfigured() {
		exporter := notionexport.New(cfg.NotionAPIKey, cfg.NotionDatabase, engine, notionExportInterval, logger)
		go exporter.Run(ctx)
	}

	schedDone := make(chan error, 1)
	go func() { schedDone <- sched.Run(ctx) }()

	serveErr := make(chan error, 1)
	go func() {
		logger.Info("ingestd listening", "addr", cfg.HTTPAddr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
			return
		}
		serveErr <- nil
	}()

	var schedErr error
	schedFinished := false

	select {
	case <-ctx.Done():
	case err := <-serveErr:
		cancel()
		if err != nil {
			logger.Error("http server error, shutting down", "err", err)
		}
	case schedErr = <-schedDone:
		schedFinished = true
		cancel()
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownGrace)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("http server shutdown error", "err", err)
	}

	if !schedFinished {
		schedErr = <-schedDone
	}
	if schedErr != nil {
		return fmt.Errorf("ingestd: %w", schedErr)
	}
	return nil
}
