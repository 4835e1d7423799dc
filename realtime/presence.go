package realtime

import (
	"sync"

	"github.com/google/uuid"
)

// Registry tracks which users currently hold a live connection. It is
// process-local: a restart clears all presence. One entry per user,
// latest session wins, so a reconnect from a second tab displaces the
// previous connection (the displaced client is returned for the hub to
// close).
type Registry struct {
	mu      sync.RWMutex
	clients map[uuid.UUID]*Client
}

func NewRegistry() *Registry {
	return &Registry{clients: make(map[uuid.UUID]*Client)}
}

// Register records the client as the user's live session and returns the
// session it displaced, if any.
func (r *Registry) Register(c *Client) *Client {
	r.mu.Lock()
	defer r.mu.Unlock()
	displaced := r.clients[c.UserID]
	r.clients[c.UserID] = c
	return displaced
}

// Unregister removes the user's entry, but only if it still points at this
// client. Safe to call more than once and after a newer session has taken
// over the slot.
func (r *Registry) Unregister(c *Client) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if current, ok := r.clients[c.UserID]; ok && current == c {
		delete(r.clients, c.UserID)
	}
}

func (r *Registry) Get(userID uuid.UUID) (*Client, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.clients[userID]
	return c, ok
}

func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.clients)
}
