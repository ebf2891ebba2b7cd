// Package statusfeed publishes turn status changes to observers (a UI or a
// test harness) over WebSocket and plain HTTP.
package statusfeed

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/lexiqai/voice-client/internal/turn"
)

const (
	sendBuffer   = 16
	writeTimeout = 5 * time.Second
	pingInterval = 30 * time.Second
)

var upgrader = websocket.Upgrader{
	// Local observers only; the feed carries no audio or transcripts.
	CheckOrigin:     func(r *http.Request) bool { return true },
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
}

// Update is one status snapshot as sent to observers.
type Update struct {
	ConversationID  string    `json:"conversation_id"`
	Status          string    `json:"status"`
	From            string    `json:"from,omitempty"`
	AcceptingSpeech bool      `json:"accepting_speech"`
	SessionActive   bool      `json:"session_active"`
	Error           string    `json:"error,omitempty"`
	At              time.Time `json:"at"`
}

type client struct {
	conn *websocket.Conn
	send chan Update
}

// Hub fans status changes out to every connected observer. A slow observer
// is dropped rather than allowed to block the turn controller.
type Hub struct {
	ctrl           *turn.Controller
	conversationID string
	logger         zerolog.Logger

	mu      sync.Mutex
	clients map[*client]struct{}
	last    Update
	closed  bool
}

func NewHub(ctrl *turn.Controller, conversationID string, logger zerolog.Logger) *Hub {
	h := &Hub{
		ctrl:           ctrl,
		conversationID: conversationID,
		logger:         logger.With().Str("component", "statusfeed").Logger(),
		clients:        make(map[*client]struct{}),
	}
	h.last = h.snapshot("", ctrl.Status())
	ctrl.OnStatusChanged(h.publish)
	return h
}

func (h *Hub) snapshot(from, to turn.Status) Update {
	u := Update{
		ConversationID:  h.conversationID,
		Status:          string(to),
		From:            string(from),
		AcceptingSpeech: to == turn.StatusRecording,
		SessionActive:   h.ctrl.SessionActive(),
		At:              time.Now().UTC(),
	}
	if err := h.ctrl.Err(); err != nil {
		u.Error = err.Error()
	}
	return u
}

// Snapshot returns the most recent update.
func (h *Hub) Snapshot() Update {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.last
}

// Clients returns the number of connected observers.
func (h *Hub) Clients() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

func (h *Hub) publish(from, to turn.Status) {
	u := h.snapshot(from, to)

	h.mu.Lock()
	defer h.mu.Unlock()
	h.last = u
	for c := range h.clients {
		select {
		case c.send <- u:
		default:
			h.logger.Warn().Msg("Status observer too slow, dropping")
			h.removeLocked(c)
		}
	}
}

func (h *Hub) register(c *client) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return false
	}
	h.clients[c] = struct{}{}
	c.send <- h.last
	return true
}

func (h *Hub) remove(c *client) {
	h.mu.Lock()
	h.removeLocked(c)
	h.mu.Unlock()
}

// removeLocked must be called with mu held.
func (h *Hub) removeLocked(c *client) {
	if _, ok := h.clients[c]; !ok {
		return
	}
	delete(h.clients, c)
	close(c.send)
}

// Close disconnects every observer.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.closed = true
	for c := range h.clients {
		h.removeLocked(c)
	}
}

// HandleStream upgrades to WebSocket and streams updates, starting with the
// current snapshot.
func (h *Hub) HandleStream() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			h.logger.Warn().Err(err).Msg("Failed to upgrade status connection")
			return
		}
		defer conn.Close()

		c := &client{conn: conn, send: make(chan Update, sendBuffer)}
		if !h.register(c) {
			return
		}
		h.logger.Debug().Str("remote", r.RemoteAddr).Msg("Status observer connected")

		go h.readPump(c)
		h.writePump(c)
		h.logger.Debug().Str("remote", r.RemoteAddr).Msg("Status observer disconnected")
	}
}

// readPump discards inbound frames and notices the peer going away.
func (h *Hub) readPump(c *client) {
	defer h.remove(c)
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				h.logger.Debug().Err(err).Msg("Status observer read error")
			}
			return
		}
	}
}

func (h *Hub) writePump(c *client) {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case u, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				return
			}
			if err := c.conn.WriteJSON(u); err != nil {
				h.remove(c)
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				h.remove(c)
				return
			}
		}
	}
}

// HandleStatus serves the current snapshot as JSON.
func (h *Hub) HandleStatus() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(h.Snapshot()); err != nil {
			h.logger.Warn().Err(err).Msg("Failed to encode status")
		}
	}
}
