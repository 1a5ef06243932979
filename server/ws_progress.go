package server

import (
	"net/http"
	"sync"
	"time"

	"TextTune/logger"
	"TextTune/model"

	"github.com/gorilla/websocket"
)

// progressEvent is the wire format pushed to connected clients.
type progressEvent struct {
	Type string               `json:"type"`
	Job  *model.GenerationJob `json:"job"`
}

var progressUpgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	// 浏览器侧已有Bearer token鉴权，跨域交给CORS策略
	CheckOrigin: func(r *http.Request) bool { return true },
}

type progressClient struct {
	conn   *websocket.Conn
	userID string
	send   chan progressEvent
}

// ProgressHub fans job transitions out to each owner's websocket connections.
// It implements the scheduler's notifier interface; a slow client drops
// events rather than stalling the render loop.
type ProgressHub struct {
	mu      sync.RWMutex
	clients map[string]map[*progressClient]struct{}
}

func NewProgressHub() *ProgressHub {
	return &ProgressHub{clients: make(map[string]map[*progressClient]struct{})}
}

// NotifyProgress pushes one job snapshot to every connection of the job owner.
func (h *ProgressHub) NotifyProgress(job *model.GenerationJob) {
	h.mu.RLock()
	conns := h.clients[job.UserID]
	if len(conns) == 0 {
		h.mu.RUnlock()
		return
	}
	snapshot := *job
	event := progressEvent{Type: "job_progress", Job: &snapshot}
	for client := range conns {
		select {
		case client.send <- event:
		default:
			// 客户端消费太慢就丢弃这帧，下一tick会带上更新的进度
		}
	}
	h.mu.RUnlock()
}

func (h *ProgressHub) register(c *progressClient) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.clients[c.userID] == nil {
		h.clients[c.userID] = make(map[*progressClient]struct{})
	}
	h.clients[c.userID][c] = struct{}{}
}

func (h *ProgressHub) unregister(c *progressClient) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if conns, ok := h.clients[c.userID]; ok {
		if _, ok := conns[c]; ok {
			delete(conns, c)
			close(c.send)
			if len(conns) == 0 {
				delete(h.clients, c.userID)
			}
		}
	}
}

const (
	wsWriteWait  = 10 * time.Second
	wsPingPeriod = 30 * time.Second
)

// WSProgressHandler upgrades the connection and streams job progress events.
// URL: /v1/ws/progress
func (h *APIHandler) WSProgressHandler(w http.ResponseWriter, r *http.Request) {
	userID, err := GetUserIDFromContext(r.Context())
	if err != nil {
		writeError(w, http.StatusUnauthorized, codeUnauthorized, "Unauthorized")
		return
	}

	conn, err := progressUpgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.Warn("websocket upgrade failed", logger.ErrorField(err))
		return
	}

	client := &progressClient{
		conn:   conn,
		userID: userID,
		send:   make(chan progressEvent, 16),
	}
	h.hub.register(client)
	logger.Debug("progress websocket connected", logger.String("userId", userID))

	go client.writeLoop(h.hub)
	client.readLoop(h.hub)
}

// readLoop discards inbound frames and detects disconnects.
func (c *progressClient) readLoop(hub *ProgressHub) {
	defer func() {
		hub.unregister(c)
		c.conn.Close()
	}()
	c.conn.SetReadLimit(1024)
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}

// writeLoop serializes events and keeps the connection alive with pings.
func (c *progressClient) writeLoop(hub *ProgressHub) {
	ticker := time.NewTicker(wsPingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()
	for {
		select {
		case event, ok := <-c.send:
			if !ok {
				c.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			c.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := c.conn.WriteJSON(event); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
