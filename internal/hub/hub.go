package hub

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
)

// Hub turns transport events into registry mutations and broadcast fan-out.
// All methods are safe to call from every connection's goroutine at once.
type Hub struct {
	registry *Registry
	logger   *slog.Logger
}

// Option configures a Hub.
type Option func(*Hub)

// WithLogger sets the logger used for connection and delivery events.
func WithLogger(logger *slog.Logger) Option {
	return func(h *Hub) {
		if logger != nil {
			h.logger = logger
		}
	}
}

// New creates a Hub over the given registry. A nil registry gets a fresh one.
func New(registry *Registry, opts ...Option) *Hub {
	if registry == nil {
		registry = NewRegistry()
	}
	h := &Hub{
		registry: registry,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Registry exposes the underlying registry.
func (h *Hub) Registry() *Registry {
	return h.registry
}

// Count reports the number of live connections.
func (h *Hub) Count() int {
	return h.registry.Len()
}

// OnConnect registers a new connection. A duplicate identifier is rejected and
// the already-registered connection keeps its slot.
func (h *Hub) OnConnect(c Connection) error {
	if err := h.registry.Register(c); err != nil {
		if errors.Is(err, ErrDuplicateConnection) {
			h.logger.Warn("rejected duplicate connection", "id", c.ID())
		} else {
			h.logger.Warn("rejected connection", "error", err)
		}
		return err
	}
	h.logger.Info("user connected", "id", c.ID(), "connections", h.registry.Len())
	return nil
}

// OnDisconnect removes a connection. Unknown identifiers are ignored.
func (h *Hub) OnDisconnect(id string) {
	if _, ok := h.registry.Unregister(id); !ok {
		h.logger.Debug("disconnect for unknown connection", "id", id)
		return
	}
	h.logger.Info("user disconnected", "id", id, "connections", h.registry.Len())
}

// Result summarizes one broadcast.
type Result struct {
	Attempted int
	Delivered int
	Failed    int
}

// OnMessage delivers p to every connection in the registry, the sender
// included. Delivery happens outside the registry lock, and a failure for one
// recipient never stops the rest or reaches the sender.
func (h *Hub) OnMessage(senderID string, p Payload) Result {
	recipients := h.registry.Snapshot()
	res := Result{Attempted: len(recipients)}

	h.logger.Debug("broadcasting message", "from", senderID, "recipients", len(recipients), "bytes", len(p.Data))

	for _, c := range recipients {
		if err := safeSend(c, p); err != nil {
			res.Failed++
			h.logger.Warn("delivery failed", "id", c.ID(), "from", senderID, "error", err)
			continue
		}
		res.Delivered++
	}
	return res
}

// safeSend isolates a recipient's Send so a panicking handle counts as a
// failed delivery.
func safeSend(c Connection, p Payload) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("send panicked: %v", r)
		}
	}()
	return c.Send(p)
}

type closer interface {
	Close() error
}

// Close force-closes every live connection that supports it. Connections stay
// registered until the transport reports their disconnect, which keeps the
// registry in step with what the transport considers open.
func (h *Hub) Close(ctx context.Context) error {
	conns := h.registry.Snapshot()
	h.logger.Info("closing client connections", "connections", len(conns))

	var wg sync.WaitGroup
	for _, c := range conns {
		cl, ok := c.(closer)
		if !ok {
			continue
		}
		wg.Add(1)
		go func(id string, cl closer) {
			defer wg.Done()
			if err := cl.Close(); err != nil {
				h.logger.Debug("error closing connection", "id", id, "error", err)
			}
		}(c.ID(), cl)
	}

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
