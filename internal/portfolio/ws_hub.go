package portfolio

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/cryptassist/portfolio-engine/internal/metrics"
)

const (
	wsPongWait     = 60 * time.Second
	wsPingInterval = 30 * time.Second
	wsWriteWait    = 10 * time.Second
)

// WSMessage is a JSON message sent to WebSocket clients after a committed
// mutation. Amounts are decimal strings.
type WSMessage struct {
	Type        string `json:"type"`
	Event       string `json:"event"`
	OwnerID     string `json:"-"`
	PortfolioID string `json:"portfolio_id"`
	AssetID     string `json:"asset_id,omitempty"`
	TotalValue  string `json:"total_value,omitempty"`
	RealizedPL  string `json:"total_realized_pl,omitempty"`
}

type wsClient struct {
	conn  *websocket.Conn
	owner string
}

// WSHub manages WebSocket connections. Each connection belongs to one owner
// and only receives updates for that owner's portfolios.
type WSHub struct {
	clients   map[*websocket.Conn]*wsClient
	broadcast chan WSMessage
	register  chan *wsClient
	stopped   chan struct{}
	mu        sync.RWMutex
}

// NewWSHub creates a new WebSocket hub.
func NewWSHub() *WSHub {
	return &WSHub{
		clients:   make(map[*websocket.Conn]*wsClient),
		broadcast: make(chan WSMessage, 256),
		register:  make(chan *wsClient),
		stopped:   make(chan struct{}),
	}
}

// Run starts the hub's main event loop. Must be called in a goroutine.
// It returns when done is closed, closing every connection; later upgrades
// are closed instead of registered.
func (h *WSHub) Run(done <-chan struct{}) {
	for {
		select {
		case <-done:
			h.mu.Lock()
			for conn := range h.clients {
				conn.Close()
				delete(h.clients, conn)
			}
			h.mu.Unlock()
			close(h.stopped)
			metrics.WebSocketClients.Set(0)
			return

		case c := <-h.register:
			h.mu.Lock()
			h.clients[c.conn] = c
			total := len(h.clients)
			h.mu.Unlock()
			metrics.WebSocketClients.Set(float64(total))
			slog.Info("ws client connected", "owner", c.owner, "total", total)

		case msg := <-h.broadcast:
			data, err := json.Marshal(msg)
			if err != nil {
				continue
			}
			var failed []*websocket.Conn
			h.mu.RLock()
			for conn, c := range h.clients {
				if c.owner != msg.OwnerID {
					continue
				}
				conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
				if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
					failed = append(failed, conn)
				}
			}
			h.mu.RUnlock()
			for _, conn := range failed {
				h.drop(conn)
			}
		}
	}
}

func (h *WSHub) drop(conn *websocket.Conn) {
	h.mu.Lock()
	if _, ok := h.clients[conn]; ok {
		delete(h.clients, conn)
		conn.Close()
	}
	total := len(h.clients)
	h.mu.Unlock()
	metrics.WebSocketClients.Set(float64(total))
}

// Clients returns the number of connected clients.
func (h *WSHub) Clients() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Broadcast queues a message for the owner's connected clients.
func (h *WSHub) Broadcast(msg WSMessage) {
	select {
	case h.broadcast <- msg:
	default:
		// Drop if buffer full so a committed mutation never waits on clients.
		slog.Warn("ws broadcast dropped", "portfolio_id", msg.PortfolioID)
	}
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(_ *http.Request) bool {
		return true // CORS is enforced by the router.
	},
}

// HandleWS handles WebSocket upgrade requests at GET /api/v1/ws. Browsers
// cannot set headers on the upgrade, so the owner may also be passed as
// ?user_id=.
func (h *WSHub) HandleWS(w http.ResponseWriter, r *http.Request) {
	owner := r.Header.Get(userHeader)
	if owner == "" {
		owner = r.URL.Query().Get("user_id")
	}
	if owner == "" {
		writeError(w, errMissingUser)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Error("ws upgrade failed", "err", err)
		return
	}

	select {
	case h.register <- &wsClient{conn: conn, owner: owner}:
	case <-h.stopped:
		conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"),
			time.Now().Add(wsWriteWait))
		conn.Close()
		return
	}

	// Read pump: keep connection alive and detect disconnects.
	go func() {
		defer h.drop(conn)
		conn.SetReadDeadline(time.Now().Add(wsPongWait))
		conn.SetPongHandler(func(string) error {
			conn.SetReadDeadline(time.Now().Add(wsPongWait))
			return nil
		})
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				break
			}
		}
	}()

	// Ping ticker to keep connection alive through proxies.
	go func() {
		ticker := time.NewTicker(wsPingInterval)
		defer ticker.Stop()
		for range ticker.C {
			h.mu.RLock()
			_, ok := h.clients[conn]
			h.mu.RUnlock()
			if !ok {
				return
			}
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(wsWriteWait)); err != nil {
				return
			}
		}
	}()
}
