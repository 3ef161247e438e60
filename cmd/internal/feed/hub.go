package feed

import (
	"log/slog"
	"sync"

	"backstage/cmd/internal/observability"
)

// Hub fans invite events out to connected subscribers.
//
// Publish never blocks: a subscriber whose queue is full misses the event.
type Hub struct {
	log     *slog.Logger
	metrics *observability.Metrics

	mu      sync.RWMutex
	clients map[string]*Client
}

// NewHub constructs a Hub. metrics may be nil.
func NewHub(log *slog.Logger, metrics *observability.Metrics) *Hub {
	if log == nil {
		log = slog.Default()
	}
	return &Hub{
		log:     log,
		metrics: metrics,
		clients: make(map[string]*Client),
	}
}

// Subscribe registers c.
func (h *Hub) Subscribe(c *Client) {
	if h == nil || c == nil || c.ID == "" {
		return
	}
	h.mu.Lock()
	_, existed := h.clients[c.ID]
	h.clients[c.ID] = c
	h.mu.Unlock()

	if !existed {
		h.metrics.FeedSubscriberDelta(1)
	}
	h.log.Info("feed.subscribe", "client_id", c.ID)
}

// Unsubscribe removes the client and signals it to stop.
func (h *Hub) Unsubscribe(id string) {
	if h == nil || id == "" {
		return
	}
	h.mu.Lock()
	c := h.clients[id]
	delete(h.clients, id)
	h.mu.Unlock()

	// Close after removal so no publisher still holds the client.
	if c != nil {
		c.Close()
		h.metrics.FeedSubscriberDelta(-1)
	}
	h.log.Info("feed.unsubscribe", "client_id", id)
}

// Publish delivers ev to every interested subscriber.
func (h *Hub) Publish(ev Event) {
	if h == nil {
		return
	}
	h.mu.RLock()
	defer h.mu.RUnlock()

	for _, c := range h.clients {
		if c == nil || !c.Wants(ev) {
			continue
		}
		select {
		case <-c.Done():
			continue
		default:
		}
		select {
		case c.Send <- ev:
		default:
			h.log.Warn("feed.drop", "client_id", c.ID, "event_type", ev.Type)
		}
	}
}

// Len returns the number of subscribers.
func (h *Hub) Len() int {
	if h == nil {
		return 0
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}
