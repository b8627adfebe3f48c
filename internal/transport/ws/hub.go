package ws

import (
	"encoding/json"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/sirupsen/logrus"

	"railwars.gg/internal/protocol"
)

type client struct {
	id  string
	out chan []byte

	mu       sync.RWMutex
	prefixes []string
}

func (c *client) wants(event string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if len(c.prefixes) == 0 {
		return true
	}
	for _, p := range c.prefixes {
		if strings.HasPrefix(event, p) {
			return true
		}
	}
	return false
}

func (c *client) setPrefixes(ps []string) {
	c.mu.Lock()
	c.prefixes = ps
	c.mu.Unlock()
}

// Hub fans notifications out to websocket sessions. A session whose queue is
// full misses the message; nothing is buffered for it.
type Hub struct {
	log logrus.FieldLogger

	mu      sync.RWMutex
	clients map[string]*client

	sent    atomic.Uint64
	dropped atomic.Uint64
}

func NewHub(log logrus.FieldLogger) *Hub {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Hub{log: log, clients: map[string]*client{}}
}

func (h *Hub) register(id string, prefixes []string, queue int) *client {
	c := &client{id: id, out: make(chan []byte, queue), prefixes: prefixes}
	h.mu.Lock()
	h.clients[id] = c
	h.mu.Unlock()
	return c
}

func (h *Hub) unregister(id string) {
	h.mu.Lock()
	delete(h.clients, id)
	h.mu.Unlock()
}

// Broadcast queues n for every interested session and returns how many got it.
func (h *Hub) Broadcast(n protocol.Notification) int {
	b, err := json.Marshal(protocol.EventMsg{
		Type:            protocol.TypeEvent,
		ProtocolVersion: protocol.Version,
		Event:           n.Name,
		Args:            n.Args,
	})
	if err != nil {
		h.log.WithError(err).WithField("event", n.Name).Warn("encode event")
		return 0
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	delivered := 0
	for _, c := range h.clients {
		if !c.wants(n.Name) {
			continue
		}
		select {
		case c.out <- b:
			delivered++
		default:
			h.dropped.Add(1)
		}
	}
	h.sent.Add(uint64(delivered))
	return delivered
}

func (h *Hub) Clients() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Stats returns (messages queued, messages dropped for slow sessions).
func (h *Hub) Stats() (sent, dropped uint64) {
	return h.sent.Load(), h.dropped.Load()
}
