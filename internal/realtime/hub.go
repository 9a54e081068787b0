package realtime

import (
	"encoding/json"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

// Event is pushed to every subscriber of an application's chat thread.
type Event struct {
	Type string    `json:"type"`
	Data any       `json:"data,omitempty"`
	At   time.Time `json:"at"`
}

// Hub fans chat events out to websocket subscribers, one room per application.
type Hub struct {
	upgrader websocket.Upgrader

	mu    sync.Mutex
	rooms map[uuid.UUID]map[*client]struct{}
}

type client struct {
	room uuid.UUID
	conn *websocket.Conn
	send chan []byte
}

// NewHub accepts upgrades from the listed origins. With no origins only
// same-host requests are accepted.
func NewHub(allowedOrigins []string) *Hub {
	allowed := make(map[string]struct{}, len(allowedOrigins))
	for _, o := range allowedOrigins {
		allowed[strings.TrimRight(o, "/")] = struct{}{}
	}
	return &Hub{
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				origin := r.Header.Get("Origin")
				if origin == "" {
					return true
				}
				if _, ok := allowed[origin]; ok {
					return true
				}
				u, err := url.Parse(origin)
				return err == nil && strings.EqualFold(u.Host, r.Host)
			},
		},
		rooms: map[uuid.UUID]map[*client]struct{}{},
	}
}

// Serve upgrades the request and subscribes it to room until the peer goes
// away or until passes, whichever comes first. A zero until never expires.
// Callers must have authorized the subscription already.
func (h *Hub) Serve(w http.ResponseWriter, r *http.Request, room uuid.UUID, until time.Time) {
	if !until.IsZero() && !time.Now().Before(until) {
		http.Error(w, "session expired", http.StatusUnauthorized)
		return
	}
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}

	c := &client{room: room, conn: conn, send: make(chan []byte, 16)}
	h.addClient(c)

	if !until.IsZero() {
		timer := time.AfterFunc(time.Until(until), func() { h.expire(c) })
		defer timer.Stop()
	}

	go h.writePump(c)
	h.readPump(c)
}

// expire tells the peer its session ended and drops it.
func (h *Hub) expire(c *client) {
	msg := websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "session expired")
	_ = c.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
	h.removeClient(c)
}

func (h *Hub) Publish(room uuid.UUID, eventType string, data any) {
	b, err := json.Marshal(Event{Type: eventType, Data: data, At: time.Now().UTC()})
	if err != nil {
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.rooms[room] {
		select {
		case c.send <- b:
		default:
			// Slow client; drop it.
			h.dropLocked(c)
		}
	}
}

// Subscribers reports how many clients are listening on room.
func (h *Hub) Subscribers(room uuid.UUID) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.rooms[room])
}

func (h *Hub) addClient(c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	members, ok := h.rooms[c.room]
	if !ok {
		members = map[*client]struct{}{}
		h.rooms[c.room] = members
	}
	members[c] = struct{}{}
}

func (h *Hub) removeClient(c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.dropLocked(c)
}

func (h *Hub) dropLocked(c *client) {
	members := h.rooms[c.room]
	if _, ok := members[c]; !ok {
		return
	}
	delete(members, c)
	if len(members) == 0 {
		delete(h.rooms, c.room)
	}
	close(c.send)
	_ = c.conn.Close()
}

func (h *Hub) readPump(c *client) {
	defer h.removeClient(c)
	c.conn.SetReadLimit(1024)
	_ = c.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
	})

	// Messages are posted over REST; inbound frames only keep the connection alive.
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (h *Hub) writePump(c *client) {
	ticker := time.NewTicker(25 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case msg, ok := <-c.send:
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			_ = c.conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
