package signaling

import (
	"sync"

	"github.com/dkeye/televisit/internal/domain"
	"github.com/rs/zerolog/log"
)

type registryEntry struct {
	Address domain.Address
	Conn    Conn
}

// Registry maps addresses to the connection currently registered under
// them. The newest registration wins; the previous owner is returned so the
// caller can notify it.
type Registry struct {
	mu    sync.RWMutex
	byAdr map[domain.Address]*registryEntry
}

func NewRegistry() *Registry {
	return &Registry{
		byAdr: make(map[domain.Address]*registryEntry),
	}
}

// Bind registers conn under addr. It returns the connection that held the
// address before, or nil when the address was free or already held by conn.
func (r *Registry) Bind(addr domain.Address, conn Conn) (previous Conn) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if e, ok := r.byAdr[addr]; ok && e.Conn != conn {
		previous = e.Conn
	}
	r.byAdr[addr] = &registryEntry{Address: addr, Conn: conn}
	log.Info().Str("module", "signaling.registry").Str("address", string(addr)).Bool("replaced", previous != nil).Msg("bound address")
	return previous
}

// Lookup returns the connection registered under addr.
func (r *Registry) Lookup(addr domain.Address) (Conn, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if e, ok := r.byAdr[addr]; ok {
		return e.Conn, true
	}
	return nil, false
}

// Unbind removes addr only if it is still owned by conn, so a superseded
// connection closing late cannot evict its replacement.
func (r *Registry) Unbind(addr domain.Address, conn Conn) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.byAdr[addr]
	if !ok || e.Conn != conn {
		return false
	}
	delete(r.byAdr, addr)
	log.Info().Str("module", "signaling.registry").Str("address", string(addr)).Msg("unbound address")
	return true
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byAdr)
}
