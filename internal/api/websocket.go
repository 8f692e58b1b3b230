package api

import (
	"net/http"
	"time"
)

const (
	readWait  = 60 * time.Second
	readLimit = 512
)

// ResultsWebsocketHandler streams results to a viewer, optionally filtered
// with ?session=<id>. Viewers only send pongs; reading detects disconnects.
func (h *Handlers) ResultsWebsocketHandler(w http.ResponseWriter, r *http.Request) {
	session := r.URL.Query().Get("session")

	connection, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warnw("websocket upgrade error", "error", err)
		return
	}
	defer connection.Close()
	connection.SetReadLimit(readLimit)
	connection.SetReadDeadline(time.Now().Add(readWait))
	connection.SetPongHandler(func(string) error {
		return connection.SetReadDeadline(time.Now().Add(readWait))
	})

	h.hub.Register(connection, session)
	defer h.hub.Unregister(connection)

	for {
		if _, _, err := connection.ReadMessage(); err != nil {
			h.logger.Debugw("viewer gone", "session", session, "error", err)
			return
		}
	}
}
