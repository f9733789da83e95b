// Package httpapi is the HTTP surface (§4.10): filtered log listing,
// SSE and WebSocket tails, container/stats summaries, and health. It
// generalizes the teacher's pkg/controller router and middleware to
// this domain's query engine and tail broker.
package httpapi

import (
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/schema"

	"containerlogd/pkg/queryengine"
	"containerlogd/pkg/tailbroker"
)

// API holds the dependencies every handler needs.
type API struct {
	engine  *queryengine.Engine
	broker  *tailbroker.Broker
	decoder *schema.Decoder
	logger  *slog.Logger
}

// New builds an API. logger may be nil, in which case slog.Default() is
// used.
func New(engine *queryengine.Engine, broker *tailbroker.Broker, logger *slog.Logger) *API {
	if logger == nil {
		logger = slog.Default()
	}
	decoder := schema.NewDecoder()
	decoder.IgnoreUnknownKeys(true)
	return &API{engine: engine, broker: broker, decoder: decoder, logger: logger}
}

// SetupRouter wires every route behind the logging middleware.
func (a *API) SetupRouter() *mux.Router {
	r := mux.NewRouter()
	r.Use(a.loggingMiddleware)
	r.HandleFunc("/api/logs", a.handleLogs).Methods("GET")
	r.HandleFunc("/api/logs/tail", a.handleTailSSE).Methods("GET")
	r.HandleFunc("/api/logs/ws", a.handleTailWebSocket).Methods("GET")
	r.HandleFunc("/api/logs/containers", a.handleContainers).Methods("GET")
	r.HandleFunc("/api/logs/stats", a.handleStats).Methods("GET")
	r.HandleFunc("/health", a.handleHealth).Methods("GET")
	return r
}

func (a *API) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		startTime := time.Now()
		next.ServeHTTP(w, r)
		a.logger.Info(fmt.Sprintf("%s %s", r.Method, r.URL.Path),
			"method", r.Method, "path", r.URL.Path,
			"remote", r.RemoteAddr, "duration_ms", time.Since(startTime).Milliseconds(),
		)
	})
}
