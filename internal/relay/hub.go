package relay

import (
	"sync"

	"github.com/gorilla/websocket"

	"github.com/weftlabs/weft/internal/channel"
	"github.com/weftlabs/weft/internal/crdt"
	"github.com/weftlabs/weft/internal/infrastructure/monitoring"
	"github.com/weftlabs/weft/internal/logging"
)

// Hub routes sync traffic between clients grouped by scope.
type Hub struct {
	log     *logging.Logger
	metrics *monitoring.Metrics

	mu     sync.Mutex
	scopes map[string]*scope
}

// scope is one shared document: its archive replica plus the connected
// clients.
type scope struct {
	name string
	doc  *crdt.Doc

	mu      sync.Mutex
	clients map[*client]struct{}
}

// client is one WebSocket connection. replica is the id the client last
// announced in an awareness frame, used to broadcast the clear on drop.
type client struct {
	conn    *websocket.Conn
	writeMu sync.Mutex

	mu      sync.Mutex
	replica string
}

// NewHub creates an empty hub.
func NewHub(log *logging.Logger, metrics *monitoring.Metrics) *Hub {
	if log == nil {
		log = logging.Nop()
	}
	return &Hub{
		log:     log,
		metrics: metrics,
		scopes:  make(map[string]*scope),
	}
}

// Scopes returns the names of all scopes the hub has seen.
func (h *Hub) Scopes() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	names := make([]string, 0, len(h.scopes))
	for name := range h.scopes {
		names = append(names, name)
	}
	return names
}

func (h *Hub) scope(name string) *scope {
	h.mu.Lock()
	defer h.mu.Unlock()
	sc, ok := h.scopes[name]
	if !ok {
		sc = &scope{
			name:    name,
			doc:     crdt.NewDoc(),
			clients: make(map[*client]struct{}),
		}
		h.scopes[name] = sc
		if h.metrics != nil {
			h.metrics.SetScopes(len(h.scopes))
		}
	}
	return sc
}

func (sc *scope) join(c *client) {
	sc.mu.Lock()
	defer sc.mu.Unlock()
	sc.clients[c] = struct{}{}
}

func (sc *scope) leave(c *client) {
	sc.mu.Lock()
	defer sc.mu.Unlock()
	delete(sc.clients, c)
}

// peers returns every connected client except the sender.
func (sc *scope) peers(sender *client) []*client {
	sc.mu.Lock()
	defer sc.mu.Unlock()
	out := make([]*client, 0, len(sc.clients))
	for c := range sc.clients {
		if c != sender {
			out = append(out, c)
		}
	}
	return out
}

func (c *client) send(f channel.Frame) error {
	data, err := channel.EncodeFrame(f)
	if err != nil {
		return err
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.conn.WriteMessage(websocket.TextMessage, data)
}

func (c *client) setReplica(id string) {
	c.mu.Lock()
	c.replica = id
	c.mu.Unlock()
}

func (c *client) replicaID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.replica
}
