package connection

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/uuid"
	"github.com/nfrund/roomrelay/internal/domain"
)

// ErrSendBufferFull is returned by a Transport when its outbound queue cannot
// accept another frame without blocking.
var ErrSendBufferFull = errors.New("send buffer full")

// Transport is the handle used to push frames to a single client. Send must
// not block: a slow or gone client is reported as an error and the caller
// treats the connection as dead.
type Transport interface {
	Send(payload []byte) error
	Close() error
}

type entry struct {
	transport Transport
	alive     bool
	userID    int64
	bound     bool
}

// Registry tracks every live client connection by id. Liveness recorded here
// is authoritative for the broadcast path and the reaper.
type Registry struct {
	mu     sync.RWMutex
	conns  map[string]*entry
	logger *slog.Logger
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{
		conns:  make(map[string]*entry),
		logger: slog.Default().With("component", "connections"),
	}
}

// Register records a new live connection and returns its id.
func (r *Registry) Register(t Transport) string {
	id := uuid.NewString()

	r.mu.Lock()
	r.conns[id] = &entry{transport: t, alive: true}
	r.mu.Unlock()

	r.logger.Debug("Connection registered", "connection_id", id)
	return id
}

// MarkDead flags a connection as unable to receive data. Its memberships are
// reclaimed by the reaper; the entry itself stays until Remove or Prune.
func (r *Registry) MarkDead(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if e, ok := r.conns[id]; ok && e.alive {
		e.alive = false
		r.logger.Debug("Connection marked dead", "connection_id", id)
	}
}

// IsAlive reports whether id names a registered connection that has not been
// marked dead. Unknown ids are not alive.
func (r *Registry) IsAlive(id string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	e, ok := r.conns[id]
	return ok && e.alive
}

// Resolve returns the transport for a live connection. Unknown and dead ids
// yield domain.ErrNotFound.
func (r *Registry) Resolve(id string) (Transport, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	e, ok := r.conns[id]
	if !ok || !e.alive {
		return nil, fmt.Errorf("connection %s: %w", id, domain.ErrNotFound)
	}
	return e.transport, nil
}

// Bind attaches the owning user to a connection. A connection owns at most
// one user for its lifetime; binding a different user fails with
// domain.ErrUserMismatch.
func (r *Registry) Bind(id string, userID int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.conns[id]
	if !ok {
		return fmt.Errorf("connection %s: %w", id, domain.ErrNotFound)
	}
	if e.bound && e.userID != userID {
		return fmt.Errorf("connection %s owned by user %d: %w", id, e.userID, domain.ErrUserMismatch)
	}
	e.userID = userID
	e.bound = true
	return nil
}

// Owner returns the user bound to a connection, if any.
func (r *Registry) Owner(id string) (int64, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	e, ok := r.conns[id]
	if !ok || !e.bound {
		return 0, false
	}
	return e.userID, true
}

// Remove forgets a connection. It is called once the transport has closed;
// the transport itself is not closed here.
func (r *Registry) Remove(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.conns[id]; ok {
		delete(r.conns, id)
		r.logger.Debug("Connection removed", "connection_id", id)
	}
}

// Prune removes every dead connection and closes its transport. It returns
// the number of entries removed.
func (r *Registry) Prune() int {
	r.mu.Lock()
	var dead []Transport
	for id, e := range r.conns {
		if !e.alive {
			dead = append(dead, e.transport)
			delete(r.conns, id)
		}
	}
	r.mu.Unlock()

	for _, t := range dead {
		if err := t.Close(); err != nil {
			r.logger.Debug("Closing dead transport failed", "error", err)
		}
	}
	return len(dead)
}

// LiveCount returns the number of connections currently alive.
func (r *Registry) LiveCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	n := 0
	for _, e := range r.conns {
		if e.alive {
			n++
		}
	}
	return n
}

// CloseAll closes every registered transport and empties the registry.
func (r *Registry) CloseAll() {
	r.mu.Lock()
	conns := r.conns
	r.conns = make(map[string]*entry)
	r.mu.Unlock()

	for _, e := range conns {
		_ = e.transport.Close()
	}
}
