// Package api serves session control, status, the audit trail and the live
// result stream over HTTP.
package api

import (
	"context"
	"net/http"

	"github.com/goccy/go-json"
	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/rs/cors"
	"go.uber.org/zap"

	"github.com/Capitan-Parrot/distributed-video-system/safety-runner/internal/models"
	"github.com/Capitan-Parrot/distributed-video-system/safety-runner/internal/runner"
)

// SessionController is implemented by *runner.Runner.
type SessionController interface {
	Handle(ctx context.Context, cmd models.SessionCommand) error
	Status(sessionID string) (runner.Status, bool)
	Sessions() []runner.Status
}

// EventLister is implemented by *database.Database.
type EventLister interface {
	ListEvents(ctx context.Context, sessionID string, limit int) ([]models.AuditRecord, error)
}

type Handlers struct {
	sessions SessionController
	events   EventLister
	hub      *Hub
	metrics  http.Handler
	upgrader websocket.Upgrader
	logger   *zap.SugaredLogger
}

// NewHandlers wires the handlers; events and metrics may be nil.
func NewHandlers(sessions SessionController, events EventLister, hub *Hub, metrics http.Handler, logger *zap.SugaredLogger) *Handlers {
	return &Handlers{
		sessions: sessions,
		events:   events,
		hub:      hub,
		metrics:  metrics,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		logger: logger.Named("api"),
	}
}

// Handler is the router behind a permissive CORS policy so dashboards on
// other origins can poll status and open the result stream.
func (h *Handlers) Handler() http.Handler {
	return cors.AllowAll().Handler(h.Router())
}

func (h *Handlers) Router() *mux.Router {
	r := mux.NewRouter()
	r.HandleFunc("/session", h.CreateSessionHandler).Methods(http.MethodPost)
	r.HandleFunc("/session", h.ListSessionsHandler).Methods(http.MethodGet)
	r.HandleFunc("/session/{session_id}", h.GetSessionStatusHandler).Methods(http.MethodGet)
	r.HandleFunc("/session/{session_id}", h.UpdateSessionHandler).Methods(http.MethodPost)
	r.HandleFunc("/session/{session_id}/events", h.GetEventsHandler).Methods(http.MethodGet)
	r.HandleFunc("/ws", h.ResultsWebsocketHandler)
	r.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	if h.metrics != nil {
		r.Handle("/metrics", h.metrics)
	}
	return r
}

func (h *Handlers) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.logger.Warnw("error writing response", "error", err)
	}
}
