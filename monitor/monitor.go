// Package monitor broadcasts tick lifecycle events to connected
// WebSocket observers: commits, torn reads, and ledger prunes. It
// mirrors the host application's progress-broadcast hub, retargeted
// from operation progress to tick events.
package monitor

import (
	"encoding/json"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/tickfile/vfdswmr/internal/logging"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// EventType distinguishes the kinds of events a Hub broadcasts.
type EventType string

const (
	EventCommit      EventType = "commit"
	EventTornRead    EventType = "torn_read"
	EventLedgerPrune EventType = "ledger_prune"
)

// TickEvent is one observable moment in a file's tick lifecycle.
type TickEvent struct {
	Type      EventType `json:"type"`
	FileID    string    `json:"file_id"`
	TickNum   uint64    `json:"tick_num"`
	Detail    string    `json:"detail,omitempty"`
	Timestamp string    `json:"timestamp"`
}

// client is one connected observer.
type client struct {
	hub  *Hub
	conn *websocket.Conn
	send chan []byte
}

// Hub maintains active observer connections and fans out TickEvents.
type Hub struct {
	clients    map[*client]bool
	broadcast  chan []byte
	register   chan *client
	unregister chan *client
	mu         sync.RWMutex
}

// NewHub creates a new tick-event hub. Run must be started in its own
// goroutine before any event is broadcast.
func NewHub() *Hub {
	return &Hub{
		clients:    make(map[*client]bool),
		broadcast:  make(chan []byte, 256),
		register:   make(chan *client),
		unregister: make(chan *client),
	}
}

// Run drives the hub's registration and broadcast loop. It never
// returns; callers typically run it for the life of the process.
func (h *Hub) Run() {
	for {
		select {
		case c := <-h.register:
			h.mu.Lock()
			h.clients[c] = true
			h.mu.Unlock()

		case c := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[c]; ok {
				delete(h.clients, c)
				close(c.send)
			}
			h.mu.Unlock()

		case msg := <-h.broadcast:
			h.mu.RLock()
			for c := range h.clients {
				select {
				case c.send <- msg:
				default:
					close(c.send)
					delete(h.clients, c)
				}
			}
			h.mu.RUnlock()
		}
	}
}

// Broadcast sends ev to every connected observer, dropping it if the
// broadcast channel is saturated.
func (h *Hub) Broadcast(ev TickEvent) {
	if ev.Timestamp == "" {
		ev.Timestamp = time.Now().UTC().Format(time.RFC3339)
	}

	data, err := json.Marshal(ev)
	if err != nil {
		logging.Error("failed to marshal tick event", "error", err)
		return
	}

	select {
	case h.broadcast <- data:
	default:
		logging.Warn("tick event broadcast channel full, dropping event")
	}
}

// Commit broadcasts a writer commit event. bytesWritten and
// indexBytes are accepted to satisfy tick.Observer alongside other
// observers that need them (e.g. an audit trail); the hub itself only
// broadcasts the entry count.
func (h *Hub) Commit(fileID string, tickNum uint64, numEntries int, bytesWritten int64, indexBytes []byte) {
	h.Broadcast(TickEvent{Type: EventCommit, FileID: fileID, TickNum: tickNum, Detail: formatEntryCount(numEntries)})
}

// TornRead broadcasts a reader-side torn-read detection.
func (h *Hub) TornRead(fileID string, tickNum uint64, reason string) {
	h.Broadcast(TickEvent{Type: EventTornRead, FileID: fileID, TickNum: tickNum, Detail: reason})
}

// LedgerPrune broadcasts a ledger prune event.
func (h *Hub) LedgerPrune(fileID string, tickNum uint64, pruned int) {
	h.Broadcast(TickEvent{Type: EventLedgerPrune, FileID: fileID, TickNum: tickNum, Detail: formatEntryCount(pruned)})
}

func formatEntryCount(n int) string {
	if n == 1 {
		return "1 entry"
	}
	return strconv.Itoa(n) + " entries"
}

// ServeHTTP upgrades the connection to a WebSocket and registers a new
// observer client.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		logging.Error("monitor websocket upgrade failed", "error", err)
		return
	}

	c := &client{hub: h, conn: conn, send: make(chan []byte, 256)}
	h.register <- c

	go c.writePump()
	go c.readPump()
}

func (c *client) readPump() {
	defer func() {
		c.hub.unregister <- c
		c.conn.Close()
	}()

	c.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		return nil
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			break
		}
	}
}

func (c *client) writePump() {
	ticker := time.NewTicker(54 * time.Second)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
