package registry

import (
	"fmt"
	"sync"

	"github.com/nfrund/roomrelay/internal/config"
)

// Key names a service of type T. Core relay services use the "core." prefix;
// see keys.go.
type Key[T any] string

// Registry is where the server publishes the relay core (connections, rooms,
// presence, router, bus, sink, metrics) for the modules it boots.
type Registry struct {
	services sync.Map
	cfg      *config.Config
}

// New creates an empty registry carrying the relay configuration.
func New(cfg *config.Config) *Registry {
	return &Registry{cfg: cfg}
}

// Config returns the relay configuration.
func (r *Registry) Config() *config.Config {
	return r.cfg
}

// Set publishes value under key, replacing any earlier value.
func Set[T any](r *Registry, key Key[T], value T) {
	r.services.Store(string(key), value)
}

// Get looks up the service published under key. Optional services such as
// SinkKey and MetricsKey report false when the server did not publish them.
func Get[T any](r *Registry, key Key[T]) (T, bool) {
	var zero T
	val, ok := r.services.Load(string(key))
	if !ok {
		return zero, false
	}
	result, ok := val.(T)
	if !ok {
		return zero, false
	}
	return result, true
}

// MustGet looks up a service every module needs, such as RoomsKey or
// PresenceKey, and panics when the server has not published it. Modules call
// it from Boot.
func MustGet[T any](r *Registry, key Key[T]) T {
	val, ok := Get(r, key)
	if !ok {
		panic(fmt.Sprintf("registry: no service published for %q", string(key)))
	}
	return val
}
