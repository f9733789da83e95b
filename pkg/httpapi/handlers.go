package httpapi

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"containerlogd/pkg/ingesterr"
	"containerlogd/pkg/queryengine"
	"containerlogd/pkg/store"
	"containerlogd/pkg/tailbroker"
)

// listParams mirrors the query parameters GET /api/logs accepts.
type listParams struct {
	Container string `schema:"container"`
	Level     string `schema:"level"`
	Search    string `schema:"search"`
	Since     string `schema:"since"`
	Until     string `schema:"until"`
	Limit     int    `schema:"limit"`
	Offset    int    `schema:"offset"`
}

func parseTimeParam(s string) (*time.Time, error) {
	if s == "" {
		return nil, nil
	}
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func (a *API) handleLogs(w http.ResponseWriter, r *http.Request) {
	var params listParams
	if err := a.decoder.Decode(&params, r.URL.Query()); err != nil {
		http.Error(w, "invalid query parameters", http.StatusBadRequest)
		return
	}

	since, err := parseTimeParam(params.Since)
	if err != nil {
		http.Error(w, "invalid since parameter, want RFC3339", http.StatusBadRequest)
		return
	}
	until, err := parseTimeParam(params.Until)
	if err != nil {
		http.Error(w, "invalid until parameter, want RFC3339", http.StatusBadRequest)
		return
	}

	rows, total, err := a.engine.List(r.Context(), queryengine.Filter{
		Container: params.Container,
		Level:     params.Level,
		Search:    params.Search,
		Since:     since,
		Until:     until,
		Limit:     params.Limit,
		Offset:    params.Offset,
	})
	if err != nil {
		a.writeEngineError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"logs":   rows,
		"total":  total,
		"limit":  params.Limit,
		"offset": params.Offset,
	})
}

func (a *API) handleContainers(w http.ResponseWriter, r *http.Request) {
	containers, err := a.engine.ListContainers(r.Context())
	if err != nil {
		a.writeEngineError(w, err)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{"containers": containers})
}

func (a *API) handleStats(w http.ResponseWriter, r *http.Request) {
	stats, err := a.engine.Stats(r.Context())
	if err != nil {
		a.writeEngineError(w, err)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(stats)
}

func (a *API) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

func (a *API) writeEngineError(w http.ResponseWriter, err error) {
	if kind, ok := ingesterr.AsKind(err); ok && kind == ingesterr.KindTimeout {
		http.Error(w, err.Error(), http.StatusGatewayTimeout)
		return
	}
	http.Error(w, err.Error(), http.StatusInternalServerError)
}

// sseFilter mirrors the query parameters both tail endpoints accept.
type sseFilter struct {
	Container string `schema:"container"`
	Level     string `schema:"level"`
}

// handleTailSSE streams newly-committed entries as Server-Sent Events
// (§4.9, §6): a "log" event per entry, a periodic "heartbeat" event so
// idle proxies don't time the connection out, and a final "close" event
// when the subscription ends.
func (a *API) handleTailSSE(w http.ResponseWriter, r *http.Request) {
	var f sseFilter
	if err := a.decoder.Decode(&f, r.URL.Query()); err != nil {
		http.Error(w, "invalid query parameters", http.StatusBadRequest)
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming not supported", http.StatusInternalServerError)
		return
	}

	sub, err := a.broker.Subscribe(tailbroker.Filter{Container: f.Container, Level: f.Level})
	if err != nil {
		if errors.Is(err, ingesterr.ErrTooManySubscribers) {
			http.Error(w, err.Error(), http.StatusServiceUnavailable)
			return
		}
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	defer a.broker.Unsubscribe(sub)

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	heartbeat := time.NewTicker(a.broker.Heartbeat())
	defer heartbeat.Stop()

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			writeSSEEvent(w, flusher, "close", nil)
			return
		case <-heartbeat.C:
			if a.broker.Expired(sub) {
				writeSSEEvent(w, flusher, "close", nil)
				return
			}
			if !writeSSEEvent(w, flusher, "heartbeat", nil) {
				return
			}
		case msg, ok := <-sub.Messages():
			if !ok {
				writeSSEEvent(w, flusher, "close", nil)
				return
			}
			if msg.Entry == nil {
				continue
			}
			payload := sseEnvelope(msg.Entry)
			if tailbroker.ConsumeLagged(sub) {
				payload["lagged"] = true
			}
			if !writeSSEEvent(w, flusher, "log", payload) {
				return
			}
		}
	}
}

// writeSSEEvent frames payload as a named SSE event (§6: log, heartbeat,
// close), falling back to an empty data line when payload is nil.
func writeSSEEvent(w http.ResponseWriter, flusher http.Flusher, event string, payload any) bool {
	var data []byte
	if payload != nil {
		encoded, err := json.Marshal(payload)
		if err != nil {
			return true
		}
		data = encoded
	}
	if _, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event, data); err != nil {
		return false
	}
	flusher.Flush()
	return true
}

func sseEnvelope(e *store.LogEntry) map[string]any {
	return map[string]any{
		"id":        e.ID,
		"timestamp": e.Timestamp,
		"container": e.Container,
		"stream":    e.Stream,
		"level":     e.Level,
		"message":   e.Message,
	}
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// handleTailWebSocket mirrors handleTailSSE over a WebSocket connection
// for clients that prefer a bidirectional socket (the teacher's
// HandleWebSocket), but keeps the filter fixed for the connection's
// lifetime rather than accepting live filter updates.
func (a *API) handleTailWebSocket(w http.ResponseWriter, r *http.Request) {
	var f sseFilter
	if err := a.decoder.Decode(&f, r.URL.Query()); err != nil {
		http.Error(w, "invalid query parameters", http.StatusBadRequest)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		a.logger.Error("websocket upgrade error", "error", err)
		return
	}
	defer conn.Close()

	sub, err := a.broker.Subscribe(tailbroker.Filter{Container: f.Container, Level: f.Level})
	if err != nil {
		conn.WriteJSON(map[string]string{"type": "error", "message": err.Error()})
		return
	}
	defer a.broker.Unsubscribe(sub)

	// Drain client reads on a separate goroutine purely to notice
	// disconnects; this endpoint doesn't accept inbound filter updates.
	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	heartbeat := time.NewTicker(a.broker.Heartbeat())
	defer heartbeat.Stop()

	for {
		select {
		case <-closed:
			return
		case <-r.Context().Done():
			return
		case <-heartbeat.C:
			if a.broker.Expired(sub) {
				conn.WriteJSON(map[string]string{"type": "close"})
				return
			}
			if err := conn.WriteJSON(map[string]string{"type": "heartbeat"}); err != nil {
				return
			}
		case msg, ok := <-sub.Messages():
			if !ok {
				return
			}
			if msg.Entry == nil {
				continue
			}
			entry := sseEnvelope(msg.Entry)
			if tailbroker.ConsumeLagged(sub) {
				entry["lagged"] = true
			}
			if err := conn.WriteJSON(map[string]any{"type": "log", "entry": entry}); err != nil {
				return
			}
		}
	}
}
