package api

import (
	"context"
	"encoding/json"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nerrad567/gray-logic-camera/internal/camera"
	"github.com/nerrad567/gray-logic-camera/internal/infrastructure/config"
	"github.com/nerrad567/gray-logic-camera/internal/infrastructure/logging"
)

// Broadcast channels.
const (
	ChannelState    = "camera.state"
	ChannelEvent    = "camera.event"
	ChannelSnapshot = "camera.snapshot"
)

// knownChannels lists the channels a client may subscribe to.
var knownChannels = map[string]struct{}{
	ChannelState:    {},
	ChannelEvent:    {},
	ChannelSnapshot: {},
}

const (
	// wsSendBufferSize is the per-client outbound queue length. Snapshots are
	// large, so slow clients lose messages rather than stall the broadcast.
	wsSendBufferSize = 64

	defaultPingInterval = 30
	defaultPongTimeout  = 10
)

// hubBackend is what the hub needs from the camera side to answer client
// requests. Server implements it.
type hubBackend interface {
	currentState() camera.Stats
	sharedCapture() (*camera.Snapshot, error)
}

// Hub fans camera updates out to WebSocket clients by channel.
type Hub struct {
	cfg     config.WebSocketConfig
	logger  *logging.Logger
	backend hubBackend

	mu      sync.RWMutex
	clients map[*WSClient]struct{}

	sent    atomic.Uint64
	dropped atomic.Uint64
}

// HubStats reports delivery counters.
type HubStats struct {
	Clients int    `json:"clients"`
	Sent    uint64 `json:"sent"`
	Dropped uint64 `json:"dropped"`
}

// NewHub creates a hub. Zero ping and pong intervals fall back to defaults.
func NewHub(cfg config.WebSocketConfig, logger *logging.Logger, backend hubBackend) *Hub {
	if cfg.PingInterval <= 0 {
		cfg.PingInterval = defaultPingInterval
	}
	if cfg.PongTimeout <= 0 {
		cfg.PongTimeout = defaultPongTimeout
	}
	return &Hub{
		cfg:     cfg,
		logger:  logger,
		backend: backend,
		clients: make(map[*WSClient]struct{}),
	}
}

// Run blocks until ctx is cancelled, then disconnects every client.
func (h *Hub) Run(ctx context.Context) {
	<-ctx.Done()
	h.closeAll()
}

// Register adds a client to the hub.
func (h *Hub) Register(client *WSClient) {
	h.mu.Lock()
	h.clients[client] = struct{}{}
	n := len(h.clients)
	h.mu.Unlock()
	h.logger.Debug("websocket client connected", "clients", n)
}

// Unregister removes a client. Only the caller that removes it from the map
// closes its send channel.
func (h *Hub) Unregister(client *WSClient) {
	h.mu.Lock()
	_, existed := h.clients[client]
	delete(h.clients, client)
	n := len(h.clients)
	h.mu.Unlock()

	if existed {
		client.closeSend()
	}
	h.logger.Debug("websocket client disconnected", "clients", n)
}

// Broadcast sends payload on channel to every subscribed client.
func (h *Hub) Broadcast(channel string, payload any) {
	data, err := json.Marshal(WSMessage{
		Type:      WSTypeEvent,
		EventType: channel,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Payload:   payload,
	})
	if err != nil {
		h.logger.Error("failed to marshal broadcast message", "channel", channel, "error", err)
		return
	}

	h.mu.RLock()
	targets := make([]*WSClient, 0, len(h.clients))
	for client := range h.clients {
		if client.isSubscribed(channel) {
			targets = append(targets, client)
		}
	}
	h.mu.RUnlock()

	for _, client := range targets {
		h.deliver(client, data)
	}
}

// deliver queues data for one client and updates the counters.
func (h *Hub) deliver(client *WSClient, data []byte) {
	if client.trySend(data) {
		h.sent.Add(1)
		return
	}
	if h.dropped.Add(1)%100 == 1 {
		h.logger.Warn("websocket client too slow, dropping messages", "dropped_total", h.dropped.Load())
	}
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Stats returns the hub's delivery counters.
func (h *Hub) Stats() HubStats {
	return HubStats{
		Clients: h.ClientCount(),
		Sent:    h.sent.Load(),
		Dropped: h.dropped.Load(),
	}
}

func (h *Hub) closeAll() {
	h.mu.Lock()
	defer h.mu.Unlock()

	for client := range h.clients {
		client.closeSend()
		if client.conn != nil {
			client.conn.Close()
		}
		delete(h.clients, client)
	}
}
