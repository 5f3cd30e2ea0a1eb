package hub

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"sync"
	"time"

	"wisefido-iotcore/internal/domain"
	"wisefido-iotcore/internal/events"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 4096
	sendBuffer     = 64
	lookupTimeout  = 5 * time.Second
)

var errUnauthorized = errors.New("unauthorized")

// SessionResolver maps a bearer token to its user
type SessionResolver interface {
	Resolve(ctx context.Context, token string) (*domain.SessionUser, error)
}

// OwnershipChecker reports whether a user owns a device
type OwnershipChecker interface {
	OwnsDevice(ctx context.Context, ownerUserID, deviceUID string) (bool, error)
}

// Hub registry of live viewer connections. It implements events.Publisher:
// component events reach owner connections subscribed to the device, device
// status and notifications reach every connection of the owner.
type Hub struct {
	sessions SessionResolver
	devices  OwnershipChecker
	logger   *zap.Logger
	upgrader websocket.Upgrader

	mu      sync.RWMutex
	clients map[*Client]struct{}
}

var _ events.Publisher = (*Hub)(nil)

func New(sessions SessionResolver, devices OwnershipChecker, logger *zap.Logger) *Hub {
	return &Hub{
		sessions: sessions,
		devices:  devices,
		logger:   logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			// dashboard is served from another origin; auth is the bearer token
			CheckOrigin: func(*http.Request) bool { return true },
		},
		clients: map[*Client]struct{}{},
	}
}

// ServeWS upgrades the request and runs the connection until it closes.
// A missing or invalid token closes the socket with 1008.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	token, protocol := tokenFromRequest(r)

	var header http.Header
	if protocol != "" {
		header = http.Header{"Sec-Websocket-Protocol": []string{protocol}}
	}
	conn, err := h.upgrader.Upgrade(w, r, header)
	if err != nil {
		h.logger.Debug("WebSocket upgrade failed", zap.Error(err))
		return
	}

	user, err := h.authenticate(token)
	if err != nil {
		h.logger.Debug("Rejecting WebSocket connection", zap.Error(err))
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "Unauthorized"),
			time.Now().Add(writeWait))
		_ = conn.Close()
		return
	}

	c := newClient(h, conn, user.ID)
	h.register(c)
	c.sendJSON(frame{Type: "hello", Message: "connected"})

	go c.writePump()
	c.readPump()
}

func (h *Hub) authenticate(token string) (*domain.SessionUser, error) {
	if token == "" {
		return nil, errUnauthorized
	}
	ctx, cancel := context.WithTimeout(context.Background(), lookupTimeout)
	defer cancel()
	user, err := h.sessions.Resolve(ctx, token)
	if err != nil {
		return nil, err
	}
	if user == nil {
		return nil, errUnauthorized
	}
	return user, nil
}

// tokenFromRequest reads "bearer, <token>" or a bare token from
// Sec-WebSocket-Protocol, then the Authorization header, then ?token=.
// protocol is the subprotocol to echo back, if any. Only "bearer" is ever
// echoed; browsers need the pair form since a bare token gets no echo.
func tokenFromRequest(r *http.Request) (token, protocol string) {
	protocols := websocket.Subprotocols(r)
	switch {
	case len(protocols) >= 2 && strings.EqualFold(protocols[0], "bearer"):
		return protocols[1], protocols[0]
	case len(protocols) == 1 && !strings.EqualFold(protocols[0], "bearer"):
		return protocols[0], ""
	}
	if auth := r.Header.Get("Authorization"); len(auth) > 7 && strings.EqualFold(auth[:7], "bearer ") {
		return strings.TrimSpace(auth[7:]), ""
	}
	return strings.TrimSpace(r.URL.Query().Get("token")), ""
}

func (h *Hub) register(c *Client) {
	h.mu.Lock()
	h.clients[c] = struct{}{}
	n := len(h.clients)
	h.mu.Unlock()
	h.logger.Debug("Viewer connected", zap.String("user_id", c.userID), zap.Int("connections", n))
}

func (h *Hub) unregister(c *Client) {
	h.mu.Lock()
	_, ok := h.clients[c]
	delete(h.clients, c)
	h.mu.Unlock()
	c.close()
	if ok {
		h.logger.Debug("Viewer disconnected", zap.String("user_id", c.userID))
	}
}

// Count live connections
func (h *Hub) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Close disconnects every viewer
func (h *Hub) Close() {
	for _, c := range h.snapshot() {
		h.unregister(c)
	}
}

func (h *Hub) snapshot() []*Client {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make([]*Client, 0, len(h.clients))
	for c := range h.clients {
		out = append(out, c)
	}
	return out
}

// broadcast delivers v to every matching client; a client whose buffer is
// full is dropped rather than waited on.
func (h *Hub) broadcast(v any, match func(*Client) bool) {
	data, err := json.Marshal(v)
	if err != nil {
		h.logger.Error("Failed to encode event", zap.Error(err))
		return
	}
	for _, c := range h.snapshot() {
		if !match(c) {
			continue
		}
		if !c.enqueue(data) {
			h.logger.Warn("Dropping slow viewer", zap.String("user_id", c.userID))
			h.unregister(c)
		}
	}
}

func (h *Hub) DeviceStatus(ev events.DeviceStatus) {
	if ev.OwnerUserID == "" {
		return
	}
	h.broadcast(ev, func(c *Client) bool { return c.userID == ev.OwnerUserID })
}

func (h *Hub) ComponentStatus(ev events.ComponentStatus) {
	if ev.OwnerUserID == "" {
		return
	}
	h.broadcast(ev, func(c *Client) bool {
		return c.userID == ev.OwnerUserID && c.subscribed(ev.DeviceUID)
	})
}

func (h *Hub) ComponentLatest(ev events.ComponentLatest) {
	if ev.OwnerUserID == "" {
		return
	}
	h.broadcast(ev, func(c *Client) bool {
		return c.userID == ev.OwnerUserID && c.subscribed(ev.DeviceUID)
	})
}

func (h *Hub) Notification(n domain.Notification) {
	if n.OwnerUserID == "" {
		return
	}
	h.broadcast(events.NewNotificationFrame(n), func(c *Client) bool { return c.userID == n.OwnerUserID })
}
