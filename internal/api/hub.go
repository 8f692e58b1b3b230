package api

import (
	"context"
	"sync"
	"time"

	"github.com/goccy/go-json"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/Capitan-Parrot/distributed-video-system/safety-runner/internal/models"
)

const (
	writeWait       = 5 * time.Second
	broadcastBuffer = 64
)

type subscription struct {
	conn    *websocket.Conn
	session string
}

// Hub fans per-frame results out to websocket viewers. A viewer may follow
// one session or all of them.
type Hub struct {
	clients    map[*websocket.Conn]string
	broadcast  chan models.Result
	register   chan subscription
	unregister chan *websocket.Conn
	done       chan struct{}
	mutex      sync.RWMutex
	logger     *zap.SugaredLogger
}

func NewHub(logger *zap.SugaredLogger) *Hub {
	return &Hub{
		clients:    make(map[*websocket.Conn]string),
		broadcast:  make(chan models.Result, broadcastBuffer),
		register:   make(chan subscription),
		unregister: make(chan *websocket.Conn),
		done:       make(chan struct{}),
		logger:     logger.Named("hub"),
	}
}

func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)
	for {
		select {
		case <-ctx.Done():
			h.mutex.Lock()
			for client := range h.clients {
				client.Close()
				delete(h.clients, client)
			}
			h.mutex.Unlock()
			return

		case sub := <-h.register:
			h.mutex.Lock()
			h.clients[sub.conn] = sub.session
			total := len(h.clients)
			h.mutex.Unlock()
			h.logger.Infow("viewer connected", "session", sub.session, "total", total)

		case client := <-h.unregister:
			h.mutex.Lock()
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				client.Close()
			}
			total := len(h.clients)
			h.mutex.Unlock()
			h.logger.Infow("viewer disconnected", "total", total)

		case res := <-h.broadcast:
			h.send(res)
		}
	}
}

func (h *Hub) send(res models.Result) {
	message, err := json.Marshal(res)
	if err != nil {
		h.logger.Errorw("encode result", "session", res.SessionID, "error", err)
		return
	}

	h.mutex.Lock()
	defer h.mutex.Unlock()
	for client, session := range h.clients {
		if session != "" && session != res.SessionID {
			continue
		}
		client.SetWriteDeadline(time.Now().Add(writeWait))
		if err := client.WriteMessage(websocket.TextMessage, message); err != nil {
			h.logger.Warnw("error sending result", "error", err)
			delete(h.clients, client)
			client.Close()
		}
	}
}

// Publish never blocks the session loop; results are dropped while the hub
// is behind.
func (h *Hub) Publish(res models.Result) {
	select {
	case h.broadcast <- res:
	default:
	}
}

func (h *Hub) Register(conn *websocket.Conn, session string) {
	select {
	case h.register <- subscription{conn: conn, session: session}:
	case <-h.done:
		conn.Close()
	}
}

func (h *Hub) Unregister(conn *websocket.Conn) {
	select {
	case h.unregister <- conn:
	case <-h.done:
	}
}

func (h *Hub) ClientCount() int {
	h.mutex.RLock()
	defer h.mutex.RUnlock()
	return len(h.clients)
}
