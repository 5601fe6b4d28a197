// Package events wraps the tailscale eventbus with the named clients and
// event types the monitor, metrics collector, event log, and web UI share.
package events

import (
	"fmt"
	"log/slog"
	"sync"

	"tailscale.com/util/eventbus"
)

// Well-known client names.
const (
	ClientMain    = "main"
	ClientMonitor = "monitor"
	ClientMetrics = "metrics"
	ClientWeb     = "web"
	ClientLog     = "eventlog"
	ClientGate    = "announce"
)

// Bus owns the underlying eventbus and hands out named clients.
type Bus struct {
	bus     *eventbus.Bus
	logger  *slog.Logger
	mu      sync.Mutex
	clients map[string]*eventbus.Client
	closed  bool
}

// New creates the bus.
func New(logger *slog.Logger) (*Bus, error) {
	if logger == nil {
		return nil, fmt.Errorf("logger is required")
	}
	return &Bus{
		bus:     eventbus.New(),
		logger:  logger,
		clients: make(map[string]*eventbus.Client),
	}, nil
}

// Client returns the client for name, creating it on first use.
func (b *Bus) Client(name string) (*eventbus.Client, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil, fmt.Errorf("event bus is closed")
	}
	if client, ok := b.clients[name]; ok {
		return client, nil
	}
	client := b.bus.Client(name)
	b.clients[name] = client
	return client, nil
}

// Close shuts down the bus and all clients.
func (b *Bus) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil
	}
	b.closed = true
	for _, client := range b.clients {
		client.Close()
	}
	b.bus.Close()
	b.logger.Debug("event bus closed")
	return nil
}
