// Package relay maintains WebSocket connections to browser extensions and
// routes job commands out and results back. One connection per authenticated
// extension instance, keyed by connection token.
package relay

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		// extensions connect from extension origins; token auth is the gate
		return true
	},
}

// TokenSource validates connection tokens and extends their TTL on use.
type TokenSource interface {
	Validate(ctx context.Context, token string) (string, error)
	Extend(ctx context.Context, token string) error
}

// ResultHandler receives post_result messages from connected extensions.
type ResultHandler func(userID string, result PostResult)

type client struct {
	conn     *websocket.Conn
	userID   string
	writeMu  sync.Mutex
	lastPong time.Time
	pongMu   sync.Mutex
}

func (c *client) writeJSON(v any) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.conn.WriteJSON(v)
}

func (c *client) touchPong() {
	c.pongMu.Lock()
	c.lastPong = time.Now()
	c.pongMu.Unlock()
}

func (c *client) sincePong() time.Duration {
	c.pongMu.Lock()
	defer c.pongMu.Unlock()
	return time.Since(c.lastPong)
}

// Hub is the token -> connection map plus liveness checking.
type Hub struct {
	tokens       TokenSource
	mu           sync.RWMutex
	clients      map[string]*client // keyed by connection token
	byUser       map[string]string  // userID -> token
	onResult     ResultHandler
	pingInterval time.Duration
	pongWait     time.Duration
	log          *zap.SugaredLogger
}

// NewHub creates a hub. The result handler is installed later by the
// dispatcher via SetResultHandler.
func NewHub(tokens TokenSource, log *zap.SugaredLogger) *Hub {
	return &Hub{
		tokens:       tokens,
		clients:      make(map[string]*client),
		byUser:       make(map[string]string),
		pingInterval: 30 * time.Second,
		pongWait:     75 * time.Second,
		log:          log,
	}
}

// SetResultHandler installs the sink for post_result messages.
func (h *Hub) SetResultHandler(handler ResultHandler) {
	h.mu.Lock()
	h.onResult = handler
	h.mu.Unlock()
}

// HandleConnection upgrades an extension connection. The token comes from the
// query string; a valid handshake extends the token TTL.
func (h *Hub) HandleConnection(w http.ResponseWriter, r *http.Request) {
	token := r.URL.Query().Get("token")
	if token == "" {
		http.Error(w, "missing token", http.StatusUnauthorized)
		return
	}

	userID, err := h.tokens.Validate(r.Context(), token)
	if err != nil {
		http.Error(w, "invalid or expired token", http.StatusUnauthorized)
		return
	}
	if err := h.tokens.Extend(r.Context(), token); err != nil {
		h.log.Warnw("failed to extend token", "error", err)
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warnw("websocket upgrade failed", "error", err)
		return
	}

	c := &client{conn: conn, userID: userID, lastPong: time.Now()}
	h.register(token, c)
	h.log.Infow("extension connected", "user_id", userID)

	go h.pingLoop(token, c)
	go h.readLoop(token, c)
}

// register stores the client, superseding (and closing) any previous
// connection for the same token or user.
func (h *Hub) register(token string, c *client) {
	h.mu.Lock()
	if old, ok := h.clients[token]; ok {
		old.conn.Close()
	}
	if oldToken, ok := h.byUser[c.userID]; ok && oldToken != token {
		if old, ok := h.clients[oldToken]; ok {
			old.conn.Close()
		}
		delete(h.clients, oldToken)
	}
	h.clients[token] = c
	h.byUser[c.userID] = token
	h.mu.Unlock()
}

func (h *Hub) unregister(token string, c *client) {
	h.mu.Lock()
	if current, ok := h.clients[token]; ok && current == c {
		delete(h.clients, token)
		if h.byUser[c.userID] == token {
			delete(h.byUser, c.userID)
		}
	}
	h.mu.Unlock()
	c.conn.Close()
}

// readLoop consumes inbound messages until the connection drops. Malformed
// messages are logged and dropped; they never kill the relay.
func (h *Hub) readLoop(token string, c *client) {
	defer func() {
		h.unregister(token, c)
		h.log.Infow("extension disconnected", "user_id", c.userID)
	}()

	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				h.log.Warnw("websocket read error", "error", err)
			}
			return
		}

		var env envelope
		if err := json.Unmarshal(raw, &env); err != nil || env.Type == "" {
			h.log.Warnw("dropping malformed extension message")
			continue
		}

		switch env.Type {
		case TypePong:
			c.touchPong()
		case TypePostResult:
			var result PostResult
			if err := json.Unmarshal(raw, &result); err != nil {
				h.log.Warnw("dropping malformed post_result")
				continue
			}
			h.mu.RLock()
			handler := h.onResult
			h.mu.RUnlock()
			if handler != nil {
				handler(c.userID, result)
			}
		default:
			h.log.Debugw("ignoring extension message", "type", env.Type)
		}
	}
}

// pingLoop sends periodic JSON pings and closes the connection when the peer
// stops answering. This detects live-but-unresponsive extensions, which a TCP
// close alone would miss.
func (h *Hub) pingLoop(token string, c *client) {
	ticker := time.NewTicker(h.pingInterval)
	defer ticker.Stop()

	for range ticker.C {
		h.mu.RLock()
		_, active := h.clients[token]
		h.mu.RUnlock()
		if !active {
			return
		}
		if c.sincePong() > h.pongWait {
			h.log.Warnw("extension unresponsive, closing", "user_id", c.userID)
			c.conn.Close()
			return
		}
		if err := c.writeJSON(pingMessage{Type: TypePing}); err != nil {
			return
		}
	}
}

// SendToUser delivers a command to the user's connected extension.
func (h *Hub) SendToUser(userID string, v any) error {
	h.mu.RLock()
	token, ok := h.byUser[userID]
	var c *client
	if ok {
		c = h.clients[token]
	}
	h.mu.RUnlock()

	if c == nil {
		return errors.Newf("no extension connected for user %s", userID)
	}
	return c.writeJSON(v)
}

// Connected reports whether the user currently has a live extension.
func (h *Hub) Connected(userID string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	_, ok := h.byUser[userID]
	return ok
}

// ConnectionCount returns the number of live extension connections.
func (h *Hub) ConnectionCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// SetPingInterval overrides the liveness cadence (used in tests).
func (h *Hub) SetPingInterval(interval, wait time.Duration) {
	h.pingInterval = interval
	h.pongWait = wait
}
