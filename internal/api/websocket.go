package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/nerrad567/chargegate/internal/auth"
	"github.com/nerrad567/chargegate/internal/dispatch"
	"github.com/nerrad567/chargegate/internal/gateway"
	"github.com/nerrad567/chargegate/internal/httpx"
	"github.com/nerrad567/chargegate/internal/infrastructure/config"
	"github.com/nerrad567/chargegate/internal/infrastructure/logging"
)

// liveBuffer is how many events a console socket may fall behind before it
// is dropped.
const liveBuffer = 64

// liveChannels are the channels a console socket can follow.
var liveChannels = []string{dispatch.ChannelTaskSubmitted, dispatch.ChannelTaskResult}

// Event is one message pushed to console sockets.
type Event struct {
	Channel string    `json:"channel"`
	At      time.Time `json:"at"`
	Data    any       `json:"data"`
}

// Hub fans task events out to the console sockets following their channel.
// The sockets are push-only: anything a client sends is discarded.
type Hub struct {
	cfg    config.WebSocketConfig
	logger *logging.Logger

	mu      sync.RWMutex
	clients map[*liveClient]struct{}
	closed  bool
}

// liveClient is one console socket. send is closed by the hub only, with
// mu held for writing, so Broadcast can send under the read lock.
type liveClient struct {
	conn       *websocket.Conn
	send       chan []byte
	channels   map[string]bool
	operatorID string
}

// upgrader leaves CheckOrigin nil so cross-origin upgrades are refused.
var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
}

// NewHub creates an empty hub.
func NewHub(cfg config.WebSocketConfig, logger *logging.Logger) *Hub {
	return &Hub{
		cfg:     cfg,
		logger:  logger.With("component", "hub"),
		clients: make(map[*liveClient]struct{}),
	}
}

// Run blocks until ctx is cancelled, then disconnects every client.
func (h *Hub) Run(ctx context.Context) {
	<-ctx.Done()
	h.closeAll()
}

// Broadcast sends payload to every client following channel. Clients whose
// buffer is full are disconnected.
func (h *Hub) Broadcast(channel string, payload any) {
	data, err := json.Marshal(Event{Channel: channel, At: time.Now().UTC(), Data: payload})
	if err != nil {
		h.logger.Error("encoding live event", "channel", channel, "error", err)
		return
	}

	var lagging []*liveClient
	h.mu.RLock()
	for c := range h.clients {
		if !c.channels[channel] {
			continue
		}
		select {
		case c.send <- data:
		default:
			lagging = append(lagging, c)
		}
	}
	h.mu.RUnlock()

	for _, c := range lagging {
		h.logger.Warn("dropping slow live-update client", "operator_id", c.operatorID, "channel", channel)
		h.remove(c)
	}
}

// ClientCount returns the number of connected sockets.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// add registers c. It reports false once the hub has shut down.
func (h *Hub) add(c *liveClient) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return false
	}
	h.clients[c] = struct{}{}
	return true
}

func (h *Hub) remove(c *liveClient) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[c]; ok {
		delete(h.clients, c)
		close(c.send)
	}
}

func (h *Hub) closeAll() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.closed = true
	for c := range h.clients {
		delete(h.clients, c)
		close(c.send)
	}
}

// parseChannels reads a comma separated channel list. Empty means all.
func parseChannels(raw string) (map[string]bool, error) {
	out := make(map[string]bool, len(liveChannels))
	if strings.TrimSpace(raw) == "" {
		for _, ch := range liveChannels {
			out[ch] = true
		}
		return out, nil
	}
	for _, ch := range strings.Split(raw, ",") {
		ch = strings.TrimSpace(ch)
		known := false
		for _, l := range liveChannels {
			known = known || l == ch
		}
		if !known {
			return nil, fmt.Errorf("unknown channel %q", ch)
		}
		out[ch] = true
	}
	return out, nil
}

// handleWebSocket upgrades a signed-in administrator's connection. The
// channels query parameter selects what to follow; the default is every
// task channel. The upgrade must come from the console's own origin since
// the session cookie is the only credential.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	principal := gateway.PrincipalFromContext(r.Context())
	if principal == nil {
		httpx.WriteError(w, http.StatusUnauthorized, httpx.CodeUnauthorized, "sign in to receive live updates")
		return
	}
	if !principal.HasRole(auth.Role(s.paths.AdminRole)) {
		httpx.WriteForbidden(w, "access denied")
		return
	}
	channels, err := parseChannels(r.URL.Query().Get("channels"))
	if err != nil {
		httpx.WriteBadRequest(w, err.Error())
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", "error", err)
		return
	}

	c := &liveClient{
		conn:       conn,
		send:       make(chan []byte, liveBuffer),
		channels:   channels,
		operatorID: principal.ID,
	}
	if !s.hub.add(c) {
		conn.Close()
		return
	}
	s.logger.Debug("live-update client connected", "operator_id", principal.ID, "clients", s.hub.ClientCount())

	go s.hub.writeLoop(c)
	go s.hub.readLoop(c)
}

// readLoop services control frames and notices the peer going away.
func (h *Hub) readLoop(c *liveClient) {
	defer h.remove(c)

	wait := time.Duration(h.cfg.PingInterval+h.cfg.PongTimeout) * time.Second
	c.conn.SetReadLimit(int64(h.cfg.MaxMessageSize))
	_ = c.conn.SetReadDeadline(time.Now().Add(wait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(wait))
	})

	for {
		if _, _, err := c.conn.NextReader(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				h.logger.Debug("live-update client read failed", "operator_id", c.operatorID, "error", err)
			}
			return
		}
	}
}

// writeLoop drains c.send and pings the peer. It closes the connection once
// the hub closes c.send or a write fails.
func (h *Hub) writeLoop(c *liveClient) {
	ticker := time.NewTicker(time.Duration(h.cfg.PingInterval) * time.Second)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()
	writeWait := time.Duration(h.cfg.PongTimeout) * time.Second

	for {
		select {
		case msg, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseGoingAway, ""))
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
