package realtime

import (
	"encoding/json"
	"sync"

	"go.uber.org/zap"

	"github.com/campuslink/matchmaker/internal/models"
)

const (
	// PingInterval and PongWait are used for heartbeat.
	PingInterval = 30
	PongWait     = 60

	// EventServerStats is the periodic aggregate stats broadcast.
	EventServerStats = "server_stats"
)

// StatsPublisher publishes the stats snapshot for other instances and operator dashboards.
type StatsPublisher interface {
	PublishStats(payload []byte) error
}

// Hub keeps the connected clients of this instance and fans broadcasts out to them.
// Matching state lives in the presence coordinator; the hub only owns sockets.
type Hub struct {
	clients map[string]*Client
	mu      sync.RWMutex
	logger  *zap.Logger
	redis   StatsPublisher
}

// NewHub creates a new WebSocket hub. redisPub may be nil.
func NewHub(logger *zap.Logger, redisPub StatsPublisher) *Hub {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Hub{
		clients: make(map[string]*Client),
		logger:  logger,
		redis:   redisPub,
	}
}

// Register adds a client.
func (h *Hub) Register(c *Client) {
	h.mu.Lock()
	h.clients[c.ID] = c
	h.mu.Unlock()
	h.logger.Debug("client connected", zap.String("conn_id", c.ID))
}

// Unregister removes a client.
func (h *Hub) Unregister(c *Client) {
	h.mu.Lock()
	delete(h.clients, c.ID)
	h.mu.Unlock()
	h.logger.Debug("client disconnected", zap.String("conn_id", c.ID))
}

// Count returns the number of sockets held by this instance.
func (h *Hub) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Broadcast sends a message to every local client. Clients with a full buffer are skipped.
func (h *Hub) Broadcast(event string, payload interface{}) {
	data, err := json.Marshal(payload)
	if err != nil {
		h.logger.Warn("broadcast marshal", zap.String("event", event), zap.Error(err))
		return
	}
	msg := WSMessage{Event: event, Data: data}

	h.mu.RLock()
	clients := make([]*Client, 0, len(h.clients))
	for _, c := range h.clients {
		clients = append(clients, c)
	}
	h.mu.RUnlock()

	for _, c := range clients {
		c.enqueue(msg)
	}
}

// PublishStats broadcasts server_stats locally and publishes it to Redis.
func (h *Hub) PublishStats(stats models.AggregateStats) {
	h.Broadcast(EventServerStats, stats)
	if h.redis == nil {
		return
	}
	data, err := json.Marshal(stats)
	if err != nil {
		return
	}
	if err := h.redis.PublishStats(data); err != nil {
		h.logger.Warn("publish stats", zap.Error(err))
	}
}
