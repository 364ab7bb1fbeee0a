// Package hub fans a stream of decoded messages out to subscriber clients
// (e.g. TCP distribution clients), applying a backpressure policy when a
// subscriber falls behind.
package hub

import (
	"sync"

	"github.com/gsprotocol/gsp/internal/logging"
	"github.com/gsprotocol/gsp/internal/message"
	"github.com/gsprotocol/gsp/internal/metrics"
)

// BackpressurePolicy decides what happens to a subscriber whose outbound
// queue is full when the hub tries to deliver another message.
type BackpressurePolicy int

const (
	// PolicyDrop discards the message for that one slow subscriber; other
	// subscribers and the sender are unaffected.
	PolicyDrop BackpressurePolicy = iota
	// PolicyKick closes the slow subscriber's connection.
	PolicyKick
)

// Client is one subscriber's outbound queue. The owner of a Client is
// responsible for draining Out and calling Remove on disconnect.
type Client struct {
	Out       chan message.Message
	Closed    chan struct{}
	closeOnce sync.Once
}

// Close signals the client is closed (idempotent).
func (c *Client) Close() {
	c.closeOnce.Do(func() {
		close(c.Closed)
	})
}

// Hub is a broadcast fan-out point: every message handed to Broadcast is
// offered to every registered Client's outbound queue.
type Hub struct {
	mu         sync.RWMutex
	clients    map[*Client]struct{}
	OutBufSize int
	Policy     BackpressurePolicy
}

// New creates a Hub with default settings.
func New() *Hub { return &Hub{clients: make(map[*Client]struct{})} }

// NewClient allocates a Client with an outbound queue sized to h.OutBufSize
// (or 1 if unset).
func (h *Hub) NewClient() *Client {
	size := h.OutBufSize
	if size <= 0 {
		size = 1
	}
	return &Client{Out: make(chan message.Message, size), Closed: make(chan struct{})}
}

// Add registers a client with the hub.
func (h *Hub) Add(c *Client) {
	h.mu.Lock()
	prev := len(h.clients)
	h.clients[c] = struct{}{}
	cur := len(h.clients)
	h.mu.Unlock()
	metrics.SetHubClients(cur)
	if prev == 0 && cur == 1 {
		logging.L().Info("clients_first_connected")
	}
}

// Remove unregisters a client and updates metrics; safe to call multiple times.
func (h *Hub) Remove(c *Client) {
	h.mu.Lock()
	_, existed := h.clients[c]
	if existed {
		delete(h.clients, c)
	}
	cur := len(h.clients)
	h.mu.Unlock()
	select {
	case <-c.Closed:
	default:
		c.Close()
	}
	metrics.SetHubClients(cur)
	if existed && cur == 0 {
		logging.L().Info("clients_last_disconnected")
	}
}

// Broadcast offers msg to every connected client's outbound queue, honoring
// the configured BackpressurePolicy for any client whose queue is full.
func (h *Hub) Broadcast(msg message.Message) {
	// Reuse Snapshot to avoid duplicating slice copy logic.
	clients := h.Snapshot()
	metrics.SetBroadcastFanout(len(clients))
	metrics.SetHubClients(len(clients))
	// queue depth sampling
	if len(clients) > 0 {
		max := 0
		sum := 0
		for _, c := range clients {
			l := len(c.Out)
			if l > max {
				max = l
			}
			sum += l
		}
		metrics.SetQueueDepth(max, sum/len(clients))
	}
	for _, c := range clients {
		select {
		case c.Out <- msg:
		default:
			if h.Policy == PolicyKick {
				metrics.IncHubKick()
				c.Close() // signal writer to exit; server will Remove on disconnect
			} else {
				metrics.IncHubDrop()
			}
		}
	}
}

// Snapshot returns a slice copy of current clients (read-only use).
func (h *Hub) Snapshot() []*Client {
	h.mu.RLock()
	clients := make([]*Client, 0, len(h.clients))
	for c := range h.clients {
		clients = append(clients, c)
	}
	h.mu.RUnlock()
	return clients
}

// Count returns the number of active clients.
func (h *Hub) Count() int { h.mu.RLock(); n := len(h.clients); h.mu.RUnlock(); return n }
