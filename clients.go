package offlinecache

import (
	"log/slog"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/atomic"
)

// clientBuffer is how many undelivered messages a client may queue before
// further messages to it are dropped.
const clientBuffer = 16

// Client is one connected foreground tab.
type Client struct {
	ID         string
	controlled atomic.Bool
	messages   chan Message
}

// Messages delivers messages posted to the client. The channel is closed
// when the client disconnects.
func (c *Client) Messages() <-chan Message {
	return c.messages
}

// Controlled reports whether the active worker has claimed the client.
func (c *Client) Controlled() bool {
	return c.controlled.Load()
}

// Clients tracks connected foreground clients.
type Clients struct {
	mu      sync.RWMutex
	clients map[string]*Client
	order   []string
	logger  *slog.Logger
}

func NewClients(logger *slog.Logger) *Clients {
	if logger == nil {
		logger = slog.Default()
	}
	return &Clients{clients: make(map[string]*Client), logger: logger}
}

// Connect registers a new, uncontrolled client.
func (c *Clients) Connect() *Client {
	client := &Client{ID: uuid.NewString(), messages: make(chan Message, clientBuffer)}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.clients[client.ID] = client
	c.order = append(c.order, client.ID)
	return client
}

// Disconnect removes the client and closes its message channel.
func (c *Clients) Disconnect(id string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	client, ok := c.clients[id]
	if !ok {
		return
	}
	delete(c.clients, id)
	for i, existing := range c.order {
		if existing == id {
			c.order = append(c.order[:i], c.order[i+1:]...)
			break
		}
	}
	close(client.messages)
}

// Get returns the client with the given id.
func (c *Clients) Get(id string) (*Client, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	client, ok := c.clients[id]
	return client, ok
}

// MatchAll returns connected clients in connection order.
func (c *Clients) MatchAll(includeUncontrolled bool) []*Client {
	c.mu.RLock()
	defer c.mu.RUnlock()

	matched := make([]*Client, 0, len(c.order))
	for _, id := range c.order {
		client := c.clients[id]
		if includeUncontrolled || client.Controlled() {
			matched = append(matched, client)
		}
	}
	return matched
}

// Claim marks every connected client as controlled and returns how many
// were newly claimed.
func (c *Clients) Claim() int {
	c.mu.RLock()
	defer c.mu.RUnlock()

	claimed := 0
	for _, client := range c.clients {
		if client.controlled.CompareAndSwap(false, true) {
			claimed++
		}
	}
	return claimed
}

// Broadcast posts msg to clients and returns how many received it. A client
// whose queue is full misses the message.
func (c *Clients) Broadcast(msg Message, includeUncontrolled bool) int {
	c.mu.RLock()
	defer c.mu.RUnlock()

	delivered := 0
	for _, id := range c.order {
		client := c.clients[id]
		if !includeUncontrolled && !client.Controlled() {
			continue
		}
		select {
		case client.messages <- msg:
			delivered++
		default:
			c.logger.Warn("Dropped client message", slog.String("clientID", client.ID), slog.String("type", msg.Type))
		}
	}
	return delivered
}

// Len returns the number of connected clients.
func (c *Clients) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.clients)
}
