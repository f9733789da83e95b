// Package queryengine is the read side of the system: filtered,
// paginated listing, FTS search, and aggregate stats, layered over
// pkg/store with the validation and soft deadline (§4.8, §5) the Store's
// plain finders don't need to do themselves.
package queryengine

import (
	"context"
	"errors"
	"time"

	"containerlogd/pkg/ingesterr"
	"containerlogd/pkg/store"
)

const (
	defaultLimit  = 100
	minLimit      = 1
	maxLimit      = 500
	defaultDeadline = 10 * time.Second
)

// Filter mirrors the query parameters the HTTP layer decodes.
type Filter struct {
	Container string
	Level     string
	Search    string
	Since     *time.Time
	Until     *time.Time
	Limit     int
	Offset    int
}

func clampLimit(limit int) int {
	if limit <= 0 {
		return defaultLimit
	}
	if limit < minLimit {
		return minLimit
	}
	if limit > maxLimit {
		return maxLimit
	}
	return limit
}

// Engine is the Query Engine.
type Engine struct {
	store    *store.Store
	deadline time.Duration
}

// New builds an Engine with the default 10s soft query deadline.
func New(st *store.Store) *Engine {
	return &Engine{store: st, deadline: defaultDeadline}
}

// WithDeadline overrides the default soft query deadline; mainly useful
// for tests.
func (e *Engine) WithDeadline(d time.Duration) *Engine {
	e.deadline = d
	return e
}

// List returns a filtered, paginated page of entries, newest first.
func (e *Engine) List(ctx context.Context, f Filter) ([]store.LogEntry, int64, error) {
	ctx, cancel := context.WithTimeout(ctx, e.deadline)
	defer cancel()

	rows, total, err := e.store.Query(ctx, store.QueryFilter{
		Container: f.Container,
		Level:     f.Level,
		Search:    f.Search,
		Since:     f.Since,
		Until:     f.Until,
		Limit:     clampLimit(f.Limit),
		Offset:    f.Offset,
	})
	if err != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, 0, ingesterr.Wrap(ingesterr.KindTimeout, "query deadline exceeded", err)
		}
		return nil, 0, err
	}
	return rows, total, nil
}

// Stats returns the aggregated counters behind GET /api/logs/stats.
func (e *Engine) Stats(ctx context.Context) (store.Stats, error) {
	ctx, cancel := context.WithTimeout(ctx, e.deadline)
	defer cancel()

	stats, err := e.store.Stats(ctx)
	if err != nil && errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return stats, ingesterr.Wrap(ingesterr.KindTimeout, "stats deadline exceeded", err)
	}
	return stats, err
}

// ListContainers returns distinct containers with their entry counts.
func (e *Engine) ListContainers(ctx context.Context) ([]store.ContainerCount, error) {
	ctx, cancel := context.WithTimeout(ctx, e.deadline)
	defer cancel()

	rows, err := e.store.ListContainers(ctx)
	if err != nil && errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return rows, ingesterr.Wrap(ingesterr.KindTimeout, "list containers deadline exceeded", err)
	}
	return rows, err
}
