// Package websocket implements core.Broadcaster as a per-conversation
// websocket hub. Clients subscribe to a conversation; every broadcast is
// fanned out as one JSON frame. Slow clients get frames dropped rather than
// blocking the hub.
package websocket

import (
	"context"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/convoq/convoq/core"
	"github.com/convoq/convoq/logging"
)

const (
	writeWait      = 10 * time.Second
	pingPeriod     = 25 * time.Second
	sendBufferSize = 64
)

// Frame is the wire format pushed to clients.
type Frame struct {
	Event   string `json:"event"`
	Payload any    `json:"payload,omitempty"`
}

// Client is one websocket subscriber bound to a conversation.
type Client struct {
	conversationID string
	conn           *websocket.Conn
	send           chan Frame
	cancel         context.CancelFunc
	ctx            context.Context
}

// Hub tracks subscribers per conversation and implements core.Broadcaster.
type Hub struct {
	logger logging.Logger

	mu      sync.RWMutex
	clients map[string]map[*Client]struct{}
}

// NewHub constructs an empty hub.
func NewHub(logger logging.Logger) *Hub {
	if logger == nil {
		logger = logging.NoOpLogger{}
	}
	return &Hub{logger: logger, clients: make(map[string]map[*Client]struct{})}
}

// Register attaches an upgraded connection to a conversation and starts its
// write and keepalive loops.
func (h *Hub) Register(conversationID string, conn *websocket.Conn) *Client {
	ctx, cancel := context.WithCancel(context.Background())
	c := &Client{
		conversationID: conversationID,
		conn:           conn,
		send:           make(chan Frame, sendBufferSize),
		ctx:            ctx,
		cancel:         cancel,
	}

	h.mu.Lock()
	if h.clients[conversationID] == nil {
		h.clients[conversationID] = make(map[*Client]struct{})
	}
	h.clients[conversationID][c] = struct{}{}
	h.mu.Unlock()

	go c.writeLoop()
	go c.keepAliveLoop()
	return c
}

// Unregister detaches and closes a client.
func (h *Hub) Unregister(c *Client) {
	c.cancel()

	h.mu.Lock()
	if set, ok := h.clients[c.conversationID]; ok {
		delete(set, c)
		if len(set) == 0 {
			delete(h.clients, c.conversationID)
		}
	}
	h.mu.Unlock()

	_ = c.conn.Close()
}

// Broadcast implements core.Broadcaster. Delivery is best-effort: a full
// send buffer drops the frame for that client.
func (h *Hub) Broadcast(_ context.Context, conversationID, eventName string, payload any) error {
	frame := Frame{Event: eventName, Payload: payload}

	h.mu.RLock()
	defer h.mu.RUnlock()
	for c := range h.clients[conversationID] {
		select {
		case c.send <- frame:
		default:
			h.logger.Warn("websocket send buffer full, dropping frame conversation_id=%s event=%s",
				conversationID, eventName)
		}
	}
	return nil
}

func (c *Client) writeLoop() {
	for {
		select {
		case <-c.ctx.Done():
			return
		case frame := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteJSON(frame); err != nil {
				c.cancel()
				return
			}
		}
	}
}

func (c *Client) keepAliveLoop() {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-c.ctx.Done():
			return
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.cancel()
				return
			}
		}
	}
}

// Interface compliance (compile-time assertion).
var _ core.Broadcaster = (*Hub)(nil)
