package api

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/ChaneHaDa/stock-batch-server/internal/batch"
	"github.com/ChaneHaDa/stock-batch-server/pkg/logger"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 512
	sendBuffer     = 64
)

// EventHub fans job events out to websocket subscribers
// ⭐ SSOT: 작업 이벤트 실시간 전송은 여기서만
type EventHub struct {
	mu       sync.RWMutex
	clients  map[*eventClient]struct{}
	upgrader websocket.Upgrader
	logger   *logger.Logger
}

type eventClient struct {
	id   string
	hub  *EventHub
	conn *websocket.Conn
	send chan []byte
	once sync.Once
}

// NewEventHub creates an empty hub
func NewEventHub(log *logger.Logger) *EventHub {
	return &EventHub{
		clients: make(map[*eventClient]struct{}),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
		logger: log.WithField("module", "api.events"),
	}
}

// Publish implements batch.EventSink; slow clients drop events instead of blocking jobs
func (h *EventHub) Publish(e batch.Event) {
	data, err := json.Marshal(e)
	if err != nil {
		h.logger.WithError(err).Warn("Failed to encode job event")
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	for c := range h.clients {
		select {
		case c.send <- data:
		default:
			h.logger.WithFields(map[string]interface{}{
				"client_id": c.id,
				"job_id":    e.JobID,
			}).Warn("Subscriber too slow, event dropped")
		}
	}
}

// ClientCount returns the number of connected subscribers
func (h *EventHub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// ServeWS upgrades the request and subscribes it to job events
// GET /ws/jobs
func (h *EventHub) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.WithError(err).Warn("WebSocket upgrade failed")
		return
	}

	c := &eventClient{
		id:   uuid.NewString(),
		hub:  h,
		conn: conn,
		send: make(chan []byte, sendBuffer),
	}

	h.mu.Lock()
	h.clients[c] = struct{}{}
	h.mu.Unlock()

	h.logger.WithFields(map[string]interface{}{
		"client_id": c.id,
		"remote":    r.RemoteAddr,
	}).Info("Job event subscriber connected")

	go c.writePump()
	go c.readPump()
}

func (h *EventHub) remove(c *eventClient) {
	c.once.Do(func() {
		h.mu.Lock()
		delete(h.clients, c)
		close(c.send)
		h.mu.Unlock()
		h.logger.WithField("client_id", c.id).Info("Job event subscriber disconnected")
	})
}

// readPump only drains control frames; subscribers never send commands
func (c *eventClient) readPump() {
	defer func() {
		c.hub.remove(c)
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (c *eventClient) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				c.hub.remove(c)
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.hub.remove(c)
				return
			}
		}
	}
}
