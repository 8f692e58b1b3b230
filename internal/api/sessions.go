package api

import (
	"net/http"
	"strconv"

	"github.com/goccy/go-json"
	"github.com/gorilla/mux"

	"github.com/Capitan-Parrot/distributed-video-system/safety-runner/internal/models"
)

const maxEvents = 1000

// CreateSessionHandler starts monitoring the video source in the body.
func (h *Handlers) CreateSessionHandler(w http.ResponseWriter, r *http.Request) {
	var cmd models.SessionCommand
	if err := json.NewDecoder(r.Body).Decode(&cmd); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	if cmd.SessionID == "" || cmd.VideoSource == "" {
		http.Error(w, "session_id and video_source are required", http.StatusBadRequest)
		return
	}
	cmd.Action = models.CommandStart

	if err := h.sessions.Handle(r.Context(), cmd); err != nil {
		h.logger.Errorw("start session", "session", cmd.SessionID, "error", err)
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	h.writeJSON(w, http.StatusAccepted, map[string]string{"id": cmd.SessionID, "action": string(cmd.Action)})
}

// UpdateSessionHandler applies ?action=start|stop to an existing session.
func (h *Handlers) UpdateSessionHandler(w http.ResponseWriter, r *http.Request) {
	sessionID := mux.Vars(r)["session_id"]
	action := models.CommandAction(r.URL.Query().Get("action"))
	if action != models.CommandStart && action != models.CommandStop {
		http.Error(w, "action parameter is required (start/stop)", http.StatusBadRequest)
		return
	}

	cmd := models.SessionCommand{SessionID: sessionID, Action: action}
	if action == models.CommandStart {
		cmd.VideoSource = r.URL.Query().Get("video_source")
		if cmd.VideoSource == "" {
			http.Error(w, "video_source is required to start", http.StatusBadRequest)
			return
		}
	}

	if err := h.sessions.Handle(r.Context(), cmd); err != nil {
		h.logger.Errorw("update session", "session", sessionID, "action", action, "error", err)
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	h.writeJSON(w, http.StatusAccepted, map[string]string{"id": sessionID, "action": string(action)})
}

func (h *Handlers) GetSessionStatusHandler(w http.ResponseWriter, r *http.Request) {
	sessionID := mux.Vars(r)["session_id"]
	status, ok := h.sessions.Status(sessionID)
	if !ok {
		http.Error(w, "Session not running", http.StatusNotFound)
		return
	}
	h.writeJSON(w, http.StatusOK, status)
}

func (h *Handlers) ListSessionsHandler(w http.ResponseWriter, _ *http.Request) {
	h.writeJSON(w, http.StatusOK, h.sessions.Sessions())
}

// GetEventsHandler returns the newest audit records of a session.
func (h *Handlers) GetEventsHandler(w http.ResponseWriter, r *http.Request) {
	if h.events == nil {
		http.Error(w, "Audit trail not available", http.StatusNotImplemented)
		return
	}
	sessionID := mux.Vars(r)["session_id"]

	limit := 100
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 || n > maxEvents {
			http.Error(w, "limit must be between 1 and 1000", http.StatusBadRequest)
			return
		}
		limit = n
	}

	events, err := h.events.ListEvents(r.Context(), sessionID, limit)
	if err != nil {
		h.logger.Errorw("list events", "session", sessionID, "error", err)
		http.Error(w, "Database error", http.StatusInternalServerError)
		return
	}
	if events == nil {
		events = []models.AuditRecord{}
	}
	h.writeJSON(w, http.StatusOK, events)
}
