package api

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"lootarena/internal/game"

	"github.com/gorilla/websocket"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = 30 * time.Second
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// LiveMessage is one push to a PvP participant.
type LiveMessage struct {
	Kind    string           `json:"kind"`
	Session game.SessionView `json:"session"`
}

type liveKey struct {
	ref    string
	userID string
}

type liveClient struct {
	hub  *Hub
	key  liveKey
	conn *websocket.Conn
	send chan []byte
}

type liveMessage struct {
	key  liveKey
	data []byte
}

// Hub fans session updates out to the websocket connections subscribed to
// each (session ref, participant) pair.
type Hub struct {
	log        *slog.Logger
	clients    map[liveKey]map[*liveClient]bool
	publish    chan liveMessage
	register   chan *liveClient
	unregister chan *liveClient
	done       chan struct{}
	mu         sync.RWMutex
}

func NewHub(logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{
		log:        logger,
		clients:    make(map[liveKey]map[*liveClient]bool),
		publish:    make(chan liveMessage, 256),
		register:   make(chan *liveClient),
		unregister: make(chan *liveClient),
		done:       make(chan struct{}),
	}
}

// Run serves the hub until ctx is cancelled.
func (h *Hub) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			close(h.done)
			h.mu.Lock()
			for _, set := range h.clients {
				for c := range set {
					close(c.send)
				}
			}
			h.clients = make(map[liveKey]map[*liveClient]bool)
			h.mu.Unlock()
			return

		case c := <-h.register:
			h.mu.Lock()
			set, ok := h.clients[c.key]
			if !ok {
				set = make(map[*liveClient]bool)
				h.clients[c.key] = set
			}
			set[c] = true
			h.mu.Unlock()
			h.log.Debug("live client connected", "session_ref", c.key.ref, "user_id", c.key.userID)

		case c := <-h.unregister:
			h.mu.Lock()
			h.drop(c)
			h.mu.Unlock()

		case m := <-h.publish:
			h.mu.Lock()
			for c := range h.clients[m.key] {
				select {
				case c.send <- m.data:
				default:
					h.drop(c)
				}
			}
			h.mu.Unlock()
		}
	}
}

// drop must be called with mu held.
func (h *Hub) drop(c *liveClient) {
	set, ok := h.clients[c.key]
	if !ok || !set[c] {
		return
	}
	delete(set, c)
	close(c.send)
	if len(set) == 0 {
		delete(h.clients, c.key)
	}
}

// Publish implements game.Publisher. It never blocks the caller; updates are
// dropped when the hub is backed up and clients fall back to polling state.
func (h *Hub) Publish(ref, userID, kind string, view game.SessionView) {
	data, err := json.Marshal(LiveMessage{Kind: kind, Session: view})
	if err != nil {
		h.log.Warn("marshal live message failed", "session_ref", ref, "err", err)
		return
	}
	select {
	case h.publish <- liveMessage{key: liveKey{ref: ref, userID: userID}, data: data}:
	default:
		h.log.Warn("live channel full, dropping update", "session_ref", ref, "user_id", userID)
	}
}

// Subscribers returns the number of open connections for ref and userID.
func (h *Hub) Subscribers(ref, userID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients[liveKey{ref: ref, userID: userID}])
}

func (s *Server) handleLive(w http.ResponseWriter, r *http.Request) {
	user, err := userFromContext(r.Context())
	if err != nil {
		writeError(w, http.StatusUnauthorized, "unauthorized", err.Error(), nil)
		return
	}
	ref := strings.TrimSpace(r.URL.Query().Get("ref"))
	if ref == "" {
		writeError(w, http.StatusBadRequest, string(game.CodeInvalidInput), "ref is required", nil)
		return
	}
	cfg, err := s.rules.Get(r.Context())
	if err != nil {
		writeError(w, http.StatusServiceUnavailable, "rules_unavailable", "economy rules are not loaded", nil)
		return
	}
	state, err := s.game.GetState(r.Context(), game.VariantPvP, user.Profile, cfg, ref)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	if state.Session == nil {
		writeError(w, http.StatusNotFound, string(game.CodeSessionNotFound), "session not found", nil)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warn("websocket upgrade failed", "session_ref", ref, "err", err)
		return
	}
	c := &liveClient{
		hub:  s.hub,
		key:  liveKey{ref: ref, userID: user.UserID},
		conn: conn,
		send: make(chan []byte, 16),
	}
	first, err := json.Marshal(LiveMessage{Kind: "snapshot", Session: *state.Session})
	if err == nil {
		c.send <- first
	}
	select {
	case s.hub.register <- c:
	case <-s.hub.done:
		conn.Close()
		return
	}

	go c.writePump()
	go c.readPump()
}

// readPump only handles control frames; clients submit actions over HTTP.
func (c *liveClient) readPump() {
	defer func() {
		select {
		case c.hub.unregister <- c:
		case <-c.hub.done:
		}
		c.conn.Close()
	}()

	c.conn.SetReadLimit(512)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure, websocket.CloseNoStatusReceived) {
				c.hub.log.Debug("live client read error", "session_ref", c.key.ref, "err", err)
			}
			return
		}
	}
}

func (c *liveClient) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

var _ game.Publisher = (*Hub)(nil)
