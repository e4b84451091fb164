package adminapi

import (
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const maxStreamConnections = 200

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// StreamEvent is one broadcast message on the admin event stream: a
// conflict resolution, a DLQ replay, a sync-status change.
type StreamEvent struct {
	Kind    string         `json:"kind"`
	Payload map[string]any `json:"payload"`
}

// StreamHub fans out StreamEvents to every connected admin dashboard. It
// mirrors the teacher's single-broadcaster pattern (control_plane's
// MetricsHub) but pushes on demand rather than polling a ticker, since
// admin events here are already explicit (a conflict resolved, a DLQ
// replayed) rather than continuously sampled metrics.
type StreamHub struct {
	mu      sync.RWMutex
	clients map[*websocket.Conn]struct{}
	log     *zap.Logger
}

func NewStreamHub(log *zap.Logger) *StreamHub {
	return &StreamHub{clients: make(map[*websocket.Conn]struct{}), log: log}
}

// ServeWS upgrades the connection and registers it, rejecting the upgrade
// once maxStreamConnections is reached to bound memory under a runaway
// number of dashboard tabs.
func (h *StreamHub) ServeWS(w http.ResponseWriter, r *http.Request) {
	h.mu.RLock()
	full := len(h.clients) >= maxStreamConnections
	h.mu.RUnlock()
	if full {
		http.Error(w, "too many stream connections", http.StatusServiceUnavailable)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn("admin stream upgrade failed", zap.Error(err))
		return
	}

	h.mu.Lock()
	h.clients[conn] = struct{}{}
	h.mu.Unlock()

	go h.readPump(conn)
}

// readPump drains and discards client frames purely to detect disconnects
// (the stream is server-to-client only); on any read error it unregisters
// and closes the connection.
func (h *StreamHub) readPump(conn *websocket.Conn) {
	defer h.unregister(conn)
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (h *StreamHub) unregister(conn *websocket.Conn) {
	h.mu.Lock()
	delete(h.clients, conn)
	h.mu.Unlock()
	conn.Close()
}

// Publish broadcasts event to every connected client, dropping any client
// whose write deadline is exceeded rather than letting one stalled socket
// back up the whole hub.
func (h *StreamHub) Publish(event StreamEvent) {
	h.mu.RLock()
	conns := make([]*websocket.Conn, 0, len(h.clients))
	for c := range h.clients {
		conns = append(conns, c)
	}
	h.mu.RUnlock()

	for _, conn := range conns {
		conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
		if err := conn.WriteJSON(event); err != nil {
			h.log.Debug("admin stream write failed, dropping client", zap.Error(err))
			go h.unregister(conn)
		}
	}
}
