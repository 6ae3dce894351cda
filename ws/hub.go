package ws

import (
	"encoding/json"
	"errors"
	"fittrack/herr"
	"fittrack/session"
	"log/slog"
	"net/http"
	"slices"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = pongWait * 9 / 10
	sendBuffer = 16
	readLimit  = 512
)

const (
	ActivityCreated = "activity.created"
	ActivityDeleted = "activity.deleted"
)

type Event struct {
	Type     string `json:"type"`
	ID       string `json:"id"`
	Activity any    `json:"activity,omitempty"`
}

type client struct {
	userID string
	conn   *websocket.Conn
	send   chan []byte
}

// Hub fans activity events out to every open connection of the same user.
type Hub struct {
	upgrader websocket.Upgrader

	mu      sync.Mutex
	clients map[string]map[*client]struct{}
	closed  bool
	wg      sync.WaitGroup
}

func NewHub(allowedOrigins []string) *Hub {
	h := &Hub{clients: make(map[string]map[*client]struct{})}
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			return origin == "" || slices.Contains(allowedOrigins, origin)
		},
	}
	return h
}

// Publish never blocks. A client that cannot keep up is dropped.
func (h *Hub) Publish(userID string, ev Event) {
	msg, err := json.Marshal(ev)
	if err != nil {
		slog.Error("Error encoding event", "type", ev.Type, "err", err)
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients[userID] {
		select {
		case c.send <- msg:
		default:
			slog.Warn("Dropping slow websocket client", "user", userID)
			h.removeLocked(c)
			c.conn.Close()
		}
	}
}

func (h *Hub) Connections(userID string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients[userID])
}

func (h *Hub) add(c *client) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return false
	}
	if h.clients[c.userID] == nil {
		h.clients[c.userID] = make(map[*client]struct{})
	}
	h.clients[c.userID][c] = struct{}{}
	h.wg.Add(1)
	return true
}

func (h *Hub) remove(c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.removeLocked(c)
}

func (h *Hub) removeLocked(c *client) {
	set, ok := h.clients[c.userID]
	if !ok {
		return
	}
	if _, ok := set[c]; !ok {
		return
	}
	delete(set, c)
	if len(set) == 0 {
		delete(h.clients, c.userID)
	}
	close(c.send)
}

// Close disconnects everyone and waits for the connection goroutines to exit.
func (h *Hub) Close() {
	h.mu.Lock()
	h.closed = true
	for _, set := range h.clients {
		for c := range set {
			h.removeLocked(c)
		}
	}
	h.mu.Unlock()
	h.wg.Wait()
}

// Handle upgrades GET /api/ws. The client only listens; anything it sends is discarded.
func (h *Hub) Handle(w http.ResponseWriter, r *http.Request) *herr.Error {
	data, ok := session.FromContext(r.Context())
	if !ok {
		return herr.Unauthorized(errors.New("no session data on context"), "Websocket without session")
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Error("Failed to upgrade connection", "error", err)
		return nil
	}

	c := &client{userID: data.User.ID, conn: conn, send: make(chan []byte, sendBuffer)}
	if !h.add(c) {
		herr.WSClose(conn, "Server shutting down")
		conn.Close()
		return nil
	}
	defer h.wg.Done()
	slog.Info("Websocket connected", "user", c.userID)

	done := make(chan struct{})
	go c.writeLoop(done)
	c.readLoop()

	h.remove(c)
	<-done
	conn.Close()
	slog.Info("Websocket connection ended", "user", c.userID)
	return nil
}

func (c *client) readLoop() {
	c.conn.SetReadLimit(readLimit)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				slog.Warn("Websocket read failed", "user", c.userID, "err", err)
			}
			return
		}
	}
}

func (c *client) writeLoop(done chan<- struct{}) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		close(done)
	}()

	for {
		select {
		case msg, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				herr.WSClose(c.conn, "Feed closed")
				c.conn.Close()
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				c.conn.Close()
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.conn.Close()
				return
			}
		}
	}
}
