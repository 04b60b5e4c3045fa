package api

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/openrunner/openrunner/internal/events"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 512 * 1024
)

// wsMessage is one frame exchanged over the event-push WebSocket. Type is
// one of subscribe, unsubscribe, ping. Process commands (start/stop/restart)
// go over REST (handlers_processes.go); this socket is event-push only.
type wsMessage struct {
	Type      string          `json:"type"`
	ProjectID string          `json:"projectId,omitempty"`
	Data      json.RawMessage `json:"data,omitempty"`
}

// WSHandler manages the event-push WebSocket connections (spec.md section
// 4.9, section 6).
type WSHandler struct {
	upgrader    websocket.Upgrader
	publisher   events.Publisher
	connections map[*websocket.Conn]*wsConnection
	mu          sync.RWMutex
	log         *slog.Logger
}

// wsConnection tracks a single WebSocket connection.
type wsConnection struct {
	conn         *websocket.Conn
	mu           sync.Mutex
	projectID    string
	eventChan    <-chan events.Event
	send         chan []byte
	done         chan struct{}
	unsubscribed bool
}

// NewWSHandler creates a WebSocket handler pushing pub's events to
// subscribed clients.
func NewWSHandler(pub events.Publisher, log *slog.Logger) *WSHandler {
	if log == nil {
		log = slog.Default()
	}
	return &WSHandler{
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
		publisher:   pub,
		connections: make(map[*websocket.Conn]*wsConnection),
		log:         log,
	}
}

// ServeHTTP upgrades the request and starts the read/write pumps.
func (h *WSHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Error("websocket upgrade failed", "error", err)
		return
	}

	c := &wsConnection{conn: conn, send: make(chan []byte, 256), done: make(chan struct{})}
	h.mu.Lock()
	h.connections[conn] = c
	h.mu.Unlock()

	go h.readPump(c)
	go h.writePump(c)
}

func (h *WSHandler) readPump(c *wsConnection) {
	defer h.closeConnection(c)

	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				h.log.Error("websocket read error", "error", err)
			}
			return
		}
		h.handleMessage(c, message)
	}
}

func (h *WSHandler) writePump(c *wsConnection) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case <-c.done:
			return
		case message, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}
			n := len(c.send)
			for i := 0; i < n; i++ {
				_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
				if err := c.conn.WriteMessage(websocket.TextMessage, <-c.send); err != nil {
					return
				}
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (h *WSHandler) handleMessage(c *wsConnection, data []byte) {
	var msg wsMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		h.sendError(c, "invalid message format")
		return
	}

	switch msg.Type {
	case "subscribe":
		h.handleSubscribe(c, msg.ProjectID)
	case "unsubscribe":
		h.handleUnsubscribe(c)
	case "ping":
		h.sendJSON(c, map[string]any{"type": "pong"})
	default:
		h.sendError(c, "unknown message type: "+msg.Type)
	}
}

// handleSubscribe subscribes the connection to a project's events. Use
// projectId events.GlobalTaskID ("*") for every project.
func (h *WSHandler) handleSubscribe(c *wsConnection, projectID string) {
	if projectID == "" {
		h.sendError(c, "projectId required for subscribe (use \"*\" for all projects)")
		return
	}
	h.handleUnsubscribe(c)

	c.mu.Lock()
	c.projectID = projectID
	c.eventChan = h.publisher.Subscribe(projectID)
	c.unsubscribed = false
	c.mu.Unlock()

	go h.forwardEvents(c)
	h.sendJSON(c, map[string]any{"type": "subscribed", "projectId": projectID})
}

func (h *WSHandler) handleUnsubscribe(c *wsConnection) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.projectID != "" && c.eventChan != nil && !c.unsubscribed {
		h.publisher.Unsubscribe(c.projectID, c.eventChan)
		c.unsubscribed = true
		c.projectID = ""
		c.eventChan = nil
	}
}

func (h *WSHandler) forwardEvents(c *wsConnection) {
	c.mu.Lock()
	eventChan := c.eventChan
	c.mu.Unlock()
	if eventChan == nil {
		return
	}

	for {
		select {
		case <-c.done:
			return
		case event, ok := <-eventChan:
			if !ok {
				return
			}
			c.mu.Lock()
			unsubscribed := c.unsubscribed
			c.mu.Unlock()
			if unsubscribed {
				return
			}
			h.sendJSON(c, map[string]any{
				"type":      "event",
				"event":     string(event.Type),
				"projectId": event.ProjectID,
				"data":      event.Data,
				"time":      event.Time,
			})
		}
	}
}

func (h *WSHandler) closeConnection(c *wsConnection) {
	h.mu.Lock()
	_, exists := h.connections[c.conn]
	if !exists {
		h.mu.Unlock()
		return
	}
	delete(h.connections, c.conn)
	h.mu.Unlock()

	h.handleUnsubscribe(c)

	select {
	case <-c.done:
	default:
		close(c.done)
	}
	_ = c.conn.Close()
}

func (h *WSHandler) sendJSON(c *wsConnection, data any) {
	msg, err := json.Marshal(data)
	if err != nil {
		h.log.Error("failed to marshal websocket message", "error", err)
		return
	}
	select {
	case c.send <- msg:
	default:
		h.log.Warn("websocket send buffer full, dropping message")
	}
}

func (h *WSHandler) sendError(c *wsConnection, message string) {
	h.sendJSON(c, map[string]any{"type": "error", "error": message})
}

// ConnectionCount returns the number of active connections.
func (h *WSHandler) ConnectionCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.connections)
}

// Close closes every live connection.
func (h *WSHandler) Close() {
	h.mu.Lock()
	conns := make([]*wsConnection, 0, len(h.connections))
	for _, c := range h.connections {
		conns = append(conns, c)
	}
	h.mu.Unlock()
	for _, c := range conns {
		h.closeConnection(c)
	}
}
