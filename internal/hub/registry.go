// Package hub holds the connection registry and the broadcast fan-out that
// every relay transport feeds into.
package hub

import (
	"errors"
	"sync"
)

var (
	// ErrDuplicateConnection is returned by Register when the identifier is
	// already live. The existing entry is left untouched.
	ErrDuplicateConnection = errors.New("hub: connection id already registered")

	// ErrInvalidConnection is returned by Register for a nil connection or an
	// empty identifier.
	ErrInvalidConnection = errors.New("hub: invalid connection")
)

// PayloadKind tells the transport which frame type carried a payload so it can
// be written back out unchanged.
type PayloadKind int

const (
	// TextPayload is a UTF-8 text frame.
	TextPayload PayloadKind = iota
	// BinaryPayload is an opaque binary frame.
	BinaryPayload
)

// Payload is an application message. The hub never inspects Data.
type Payload struct {
	Kind PayloadKind
	Data []byte
}

// Text builds a text payload.
func Text(s string) Payload {
	return Payload{Kind: TextPayload, Data: []byte(s)}
}

// Connection is one live client session as seen by the hub.
type Connection interface {
	// ID is opaque and stable for the lifetime of the connection.
	ID() string
	// Send pushes a payload to this client only. It must not block beyond
	// the connection's own buffering.
	Send(p Payload) error
}

// Registry tracks live connections keyed by identifier. It is safe for
// concurrent use.
type Registry struct {
	mu    sync.RWMutex
	conns map[string]Connection
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{conns: make(map[string]Connection)}
}

// Register adds c under its identifier.
func (r *Registry) Register(c Connection) error {
	if c == nil || c.ID() == "" {
		return ErrInvalidConnection
	}
	id := c.ID()

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.conns[id]; exists {
		return ErrDuplicateConnection
	}
	r.conns[id] = c
	return nil
}

// Unregister removes the connection with the given identifier. Absent ids are
// ignored; the boolean reports whether anything was removed.
func (r *Registry) Unregister(id string) (Connection, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	c, ok := r.conns[id]
	if ok {
		delete(r.conns, id)
	}
	return c, ok
}

// Get looks up a live connection.
func (r *Registry) Get(id string) (Connection, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	c, ok := r.conns[id]
	return c, ok
}

// Snapshot returns the live connections as of a single instant. The caller
// owns the returned slice.
func (r *Registry) Snapshot() []Connection {
	r.mu.RLock()
	defer r.mu.RUnlock()

	conns := make([]Connection, 0, len(r.conns))
	for _, c := range r.conns {
		conns = append(conns, c)
	}
	return conns
}

// Len reports the number of live connections.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.conns)
}
