package api

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"

	"github.com/ashureev/sealbox/internal/coordinator"
	"github.com/ashureev/sealbox/internal/domain"
)

const (
	clientSendBuffer = 64
	writeTimeout     = 5 * time.Second
)

// Hub streams coordinator notifications to websocket clients. Each client
// holds its own observer registrations, removed when it disconnects.
type Hub struct {
	srv     *Server
	origins []string
	dev     bool

	mu      sync.Mutex
	clients map[string]*wsClient
}

type wsClient struct {
	id     string
	conn   *websocket.Conn
	send   chan []byte
	logger *slog.Logger
}

type remover interface{ Remove() }

func newHub(srv *Server, origins []string, dev bool) *Hub {
	return &Hub{
		srv:     srv,
		origins: origins,
		dev:     dev,
		clients: make(map[string]*wsClient),
	}
}

// Len returns the number of connected clients.
func (h *Hub) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// Close disconnects every client.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for id, c := range h.clients {
		_ = c.conn.Close(websocket.StatusGoingAway, "server shutting down")
		delete(h.clients, id)
	}
}

func (h *Hub) checkOrigin(r *http.Request) bool {
	if h.dev {
		return true
	}
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	for _, o := range h.origins {
		if o == "*" || o == origin {
			return true
		}
	}
	h.srv.logger.Warn("[WS] Origin rejected", "origin", origin)
	return false
}

// ServeHTTP upgrades the request and streams events until the client leaves.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if !h.checkOrigin(r) {
		http.Error(w, "origin not allowed", http.StatusForbidden)
		return
	}

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		h.srv.logger.Error("[WS] Failed to accept websocket", "error", err)
		return
	}

	c := &wsClient{
		id:   uuid.NewString(),
		conn: conn,
		send: make(chan []byte, clientSendBuffer),
	}
	c.logger = h.srv.logger.With("client_id", c.id)
	defer func() {
		if closeErr := conn.Close(websocket.StatusNormalClosure, "stream ended"); closeErr != nil {
			c.logger.Debug("[WS] Failed to close websocket", "error", closeErr)
		}
	}()

	// Reads are discarded; the context ends when the client goes away.
	ctx := conn.CloseRead(r.Context())

	var regs []remover
	err = h.srv.do(ctx, func() {
		regs = append(regs,
			h.srv.coord.AddSessionObserver(coordinator.SessionObserverFunc(func(ev domain.Event) {
				c.enqueue(sessionMessage(ev))
			})),
			h.srv.coord.AddSyncObserver(coordinator.SyncObserverFunc(func(ev coordinator.SyncEvent) {
				c.enqueue(syncMessage(ev))
			})),
			h.srv.coord.AddKeyGenerationObserver(coordinator.KeyGenerationObserverFunc(func(ev coordinator.KeyGenerationEvent) {
				c.enqueue(keyMessage(ev))
			})),
		)
	})
	// Queued behind the registration, so regs is complete when this runs.
	defer h.srv.loop.Post(func() {
		for _, reg := range regs {
			reg.Remove()
		}
	})
	if err != nil {
		c.logger.Warn("[WS] Failed to register observers", "error", err)
		return
	}

	h.add(c)
	defer h.remove(c)
	c.logger.Info("[WS] Client connected", "ip", r.RemoteAddr)

	c.enqueue(map[string]interface{}{"type": "hello", "client_id": c.id})
	c.writeLoop(ctx)
	c.logger.Info("[WS] Client disconnected")
}

func (h *Hub) add(c *wsClient) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.clients[c.id] = c
}

func (h *Hub) remove(c *wsClient) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.clients, c.id)
}

// enqueue queues msg without blocking the caller. A client that falls
// behind loses messages.
func (c *wsClient) enqueue(msg interface{}) {
	data, err := json.Marshal(msg)
	if err != nil {
		c.logger.Error("[WS] Failed to encode event", "error", err)
		return
	}
	select {
	case c.send <- data:
	default:
		c.logger.Warn("[WS] Client send buffer full, dropping event")
	}
}

func (c *wsClient) writeLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case data := <-c.send:
			writeCtx, cancel := context.WithTimeout(ctx, writeTimeout)
			err := c.conn.Write(writeCtx, websocket.MessageText, data)
			cancel()
			if err != nil {
				if ctx.Err() == nil {
					c.logger.Debug("[WS] Write failed", "error", err)
				}
				return
			}
		}
	}
}

func sessionMessage(ev domain.Event) map[string]interface{} {
	msg := map[string]interface{}{
		"type":            "session",
		"kind":            ev.Kind(),
		"conversation_id": ev.Conversation(),
	}
	if me, ok := ev.(domain.MessageEvent); ok {
		msg["message_id"] = me.Message()
	}
	return msg
}

func syncMessage(ev coordinator.SyncEvent) map[string]interface{} {
	msg := map[string]interface{}{"type": "sync"}
	switch ev := ev.(type) {
	case coordinator.SyncStarted:
		msg["kind"] = "started"
	case coordinator.SyncProgressed:
		msg["kind"] = "progress"
		msg["progress"] = ev.Progress
	case coordinator.DraftAttachmentsTooBig:
		msg["kind"] = "draft_attachments_too_big"
		msg["conversation_id"] = ev.Conversation
		msg["part"] = ev.Part
		msg["current_size"] = ev.CurrentSize
		msg["max_size"] = ev.MaxSize
	case coordinator.SyncFinished:
		msg["kind"] = "finished"
	case coordinator.SyncFailed:
		msg["kind"] = "failed"
		msg["error"] = describe(ev.Err, http.StatusInternalServerError)
	}
	return msg
}

func keyMessage(ev coordinator.KeyGenerationEvent) map[string]interface{} {
	msg := map[string]interface{}{"type": "keys"}
	switch ev := ev.(type) {
	case coordinator.KeysGenerated:
		msg["kind"] = "generated"
		msg["master_key"] = ev.MasterKey.String()
	case coordinator.KeyGenerationFailed:
		msg["kind"] = "failed"
		msg["error"] = describe(ev.Err, http.StatusInternalServerError)
	}
	return msg
}
