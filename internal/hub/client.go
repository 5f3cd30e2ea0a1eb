package hub

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// frame control frames exchanged with the viewer
type frame struct {
	Type      string `json:"type"`
	DeviceUID string `json:"device_uid,omitempty"`
	Message   string `json:"message,omitempty"`
	Error     string `json:"error,omitempty"`
}

type clientMessage struct {
	Type      string          `json:"type"`
	DeviceUID json.RawMessage `json:"device_uid"`
}

// Client one viewer connection
type Client struct {
	hub    *Hub
	conn   *websocket.Conn
	userID string

	send      chan []byte
	done      chan struct{}
	closeOnce sync.Once

	mu      sync.RWMutex
	devices map[string]struct{}
}

func newClient(h *Hub, conn *websocket.Conn, userID string) *Client {
	return &Client{
		hub:     h,
		conn:    conn,
		userID:  userID,
		send:    make(chan []byte, sendBuffer),
		done:    make(chan struct{}),
		devices: map[string]struct{}{},
	}
}

func (c *Client) subscribed(deviceUID string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	_, ok := c.devices[deviceUID]
	return ok
}

func (c *Client) close() {
	c.closeOnce.Do(func() { close(c.done) })
}

// enqueue never blocks; false means closed or buffer full
func (c *Client) enqueue(msg []byte) bool {
	select {
	case <-c.done:
		return false
	default:
	}
	select {
	case c.send <- msg:
		return true
	default:
		return false
	}
}

func (c *Client) sendJSON(f frame) {
	b, err := json.Marshal(f)
	if err != nil {
		return
	}
	if !c.enqueue(b) {
		c.hub.unregister(c)
	}
}

func (c *Client) readPump() {
	defer c.hub.unregister(c)

	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.hub.logger.Debug("Viewer read failed", zap.String("user_id", c.userID), zap.Error(err))
			}
			return
		}
		c.handle(raw)
	}
}

func (c *Client) handle(raw []byte) {
	var msg clientMessage
	if err := json.Unmarshal(raw, &msg); err != nil {
		c.sendJSON(frame{Type: "error", Error: "Invalid JSON"})
		return
	}

	var deviceUID string
	hasUID := len(msg.DeviceUID) > 0 && json.Unmarshal(msg.DeviceUID, &deviceUID) == nil && deviceUID != ""

	switch {
	case msg.Type == "subscribe" && hasUID:
		ctx, cancel := context.WithTimeout(context.Background(), lookupTimeout)
		owned, err := c.hub.devices.OwnsDevice(ctx, c.userID, deviceUID)
		cancel()
		if err != nil {
			c.hub.logger.Error("Ownership check failed", zap.String("device_uid", deviceUID), zap.Error(err))
			c.sendJSON(frame{Type: "error", Error: "Subscription failed"})
			return
		}
		if !owned {
			c.sendJSON(frame{Type: "error", Error: "Device not found (or not yours)"})
			return
		}
		c.mu.Lock()
		c.devices[deviceUID] = struct{}{}
		c.mu.Unlock()
		c.sendJSON(frame{Type: "subscribed", DeviceUID: deviceUID})

	case msg.Type == "unsubscribe" && hasUID:
		c.mu.Lock()
		delete(c.devices, deviceUID)
		c.mu.Unlock()
		c.sendJSON(frame{Type: "unsubscribed", DeviceUID: deviceUID})

	default:
		c.sendJSON(frame{Type: "error", Error: "Unknown message type"})
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case msg := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-c.done:
			_ = c.conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseGoingAway, ""),
				time.Now().Add(writeWait))
			return
		}
	}
}
