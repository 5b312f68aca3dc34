package hub

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"

	"github.com/agentdeck/agentdeck/pkg/models"
	"github.com/agentdeck/agentdeck/pkg/ringlog"
)

// Defaults for hub timing.
const (
	DefaultWriteTimeout      = 5 * time.Second
	DefaultHeartbeatInterval = 30 * time.Second
)

// Options configures a Hub.
type Options struct {
	WriteTimeout      time.Duration
	HeartbeatInterval time.Duration
	// BacklogOnConnect sends the full ring log as a sync message right after
	// the connected greeting, so a fresh client starts with recent history.
	BacklogOnConnect bool
}

// Hub tracks connected WebSocket clients and broadcasts event envelopes to
// all of them. Sync requests are answered from the ring log.
type Hub struct {
	ring *ringlog.Log
	opts Options

	mu      sync.RWMutex
	clients map[string]*client
}

// client is a single WebSocket connection.
//
// Writes are serialized by sendRaw's per-client mutex; reads happen only on
// the goroutine that owns the connection inside HandleConnection.
type client struct {
	id     string
	conn   *websocket.Conn
	ctx    context.Context
	cancel context.CancelFunc

	writeMu sync.Mutex
}

// New creates a Hub serving sync requests from ring.
func New(ring *ringlog.Log, opts Options) *Hub {
	if opts.WriteTimeout <= 0 {
		opts.WriteTimeout = DefaultWriteTimeout
	}
	if opts.HeartbeatInterval <= 0 {
		opts.HeartbeatInterval = DefaultHeartbeatInterval
	}
	return &Hub{
		ring:    ring,
		opts:    opts,
		clients: make(map[string]*client),
	}
}

// HandleConnection manages one WebSocket connection after upgrade. Blocks
// until the connection closes.
func (h *Hub) HandleConnection(parentCtx context.Context, conn *websocket.Conn) {
	ctx, cancel := context.WithCancel(parentCtx)
	c := &client{
		id:     uuid.New().String(),
		conn:   conn,
		ctx:    ctx,
		cancel: cancel,
	}

	h.register(c)
	defer h.unregister(c)

	h.send(c, newEnvelope(TypeConnected, ConnectedPayload{
		ClientID:   c.id,
		ServerTime: models.FormatTimestamp(time.Now()),
	}))
	if h.opts.BacklogOnConnect {
		h.send(c, newEnvelope(TypeSync, syncPayload(c, h.ring.GetAll())))
	}

	go h.heartbeatLoop(c)

	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			return
		}
		h.handleClientMessage(c, data)
	}
}

func (h *Hub) handleClientMessage(c *client, data []byte) {
	var frame struct {
		Type    string          `json:"type"`
		Payload json.RawMessage `json:"payload"`
	}
	if err := json.Unmarshal(data, &frame); err != nil {
		slog.Warn("Invalid WebSocket message", "client_id", c.id, "error", err)
		h.send(c, newEnvelope(TypeError, ErrorPayload{
			Code:    CodeInvalidMessage,
			Message: "message is not valid JSON",
		}))
		return
	}

	switch frame.Type {
	case TypeSyncRequest:
		var req SyncRequestPayload
		if len(frame.Payload) > 0 {
			if err := json.Unmarshal(frame.Payload, &req); err != nil {
				slog.Warn("Invalid sync request", "client_id", c.id, "error", err)
				h.send(c, newEnvelope(TypeError, ErrorPayload{
					Code:    CodeSyncFailed,
					Message: "sync_request payload is malformed",
				}))
				return
			}
		}
		h.handleSyncRequest(c, req)
	default:
		// Unknown types are dropped, not errored; a newer client may speak
		// message types this server predates.
		slog.Warn("Unknown WebSocket message type", "client_id", c.id, "type", frame.Type)
	}
}

// handleSyncRequest replays missed events. LastEventID resumes by position;
// Since filters by timestamp; neither means a full snapshot.
func (h *Hub) handleSyncRequest(c *client, req SyncRequestPayload) {
	var events []models.TerminalEvent
	switch {
	case req.LastEventID != "":
		events = h.ring.GetSince(req.LastEventID)
	case req.Since != "":
		events = h.ring.GetRecent(req.Since)
	default:
		events = h.ring.GetAll()
	}
	h.send(c, newEnvelope(TypeSync, syncPayload(c, events)))
}

func syncPayload(c *client, events []models.TerminalEvent) SyncPayload {
	return SyncPayload{
		Events:    events,
		Count:     len(events),
		ClientID:  c.id,
		Timestamp: models.FormatTimestamp(time.Now()),
	}
}

// Broadcast sends a terminal event to every connected client. The envelope
// is marshaled once; slow clients only burn their own write timeout.
func (h *Hub) Broadcast(evt models.TerminalEvent) {
	h.broadcastEnvelope(newEnvelope(TypeEvent, EventPayload{Event: evt}))
}

// BroadcastEnvelope sends an arbitrary typed payload to every client. Used
// for stream events, session lifecycle, cost updates, and warnings.
func (h *Hub) BroadcastEnvelope(msgType string, payload any) {
	h.broadcastEnvelope(newEnvelope(msgType, payload))
}

func (h *Hub) broadcastEnvelope(env Envelope) {
	data, err := json.Marshal(env)
	if err != nil {
		slog.Error("Failed to marshal broadcast envelope", "type", env.Type, "error", err)
		return
	}

	// Snapshot under the lock, send outside it, so a stalled client cannot
	// block register/unregister.
	h.mu.RLock()
	clients := make([]*client, 0, len(h.clients))
	for _, c := range h.clients {
		clients = append(clients, c)
	}
	h.mu.RUnlock()

	for _, c := range clients {
		if err := h.sendRaw(c, data); err != nil {
			slog.Warn("Failed to send to WebSocket client", "client_id", c.id, "error", err)
		}
	}
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

func (h *Hub) heartbeatLoop(c *client) {
	ticker := time.NewTicker(h.opts.HeartbeatInterval)
	defer ticker.Stop()
	for {
		select {
		case <-c.ctx.Done():
			return
		case <-ticker.C:
			h.send(c, newEnvelope(TypeHeartbeat, HeartbeatPayload{
				ServerTime: models.FormatTimestamp(time.Now()),
			}))
		}
	}
}

func (h *Hub) register(c *client) {
	h.mu.Lock()
	h.clients[c.id] = c
	h.mu.Unlock()
	slog.Info("WebSocket client connected", "client_id", c.id)
}

func (h *Hub) unregister(c *client) {
	h.mu.Lock()
	delete(h.clients, c.id)
	h.mu.Unlock()

	c.cancel()
	_ = c.conn.Close(websocket.StatusNormalClosure, "")
	slog.Info("WebSocket client disconnected", "client_id", c.id)
}

func (h *Hub) send(c *client, env Envelope) {
	data, err := json.Marshal(env)
	if err != nil {
		slog.Warn("Failed to marshal WebSocket message", "client_id", c.id, "error", err)
		return
	}
	if err := h.sendRaw(c, data); err != nil {
		slog.Warn("Failed to send WebSocket message", "client_id", c.id, "error", err)
	}
}

func (h *Hub) sendRaw(c *client, data []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	writeCtx, cancel := context.WithTimeout(c.ctx, h.opts.WriteTimeout)
	defer cancel()
	return c.conn.Write(writeCtx, websocket.MessageText, data)
}
