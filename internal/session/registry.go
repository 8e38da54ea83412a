package session

import (
	"sync"

	"github.com/leozw/linkpulse/internal/protocol"
)

// Registry is the single source of truth for which tenants are online.
// It holds at most one handle per tenant id: Register replaces any
// prior entry without closing it, so the caller must close a handle it
// is about to replace.
type Registry struct {
	mu      sync.RWMutex
	handles map[string]protocol.Client
}

func NewRegistry() *Registry {
	return &Registry{handles: make(map[string]protocol.Client)}
}

func (r *Registry) Register(tenantID string, client protocol.Client) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handles[tenantID] = client
}

func (r *Registry) Get(tenantID string) (protocol.Client, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.handles[tenantID]
	return c, ok
}

func (r *Registry) Remove(tenantID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.handles, tenantID)
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.handles)
}
