// Package relay forwards status events to the live connections of the owner
// they belong to.
package relay

import (
	"log/slog"
	"sync"

	"github.com/cuongbtq/thumbnail-pipeline/internal/status"
)

const defaultBuffer = 16

// Relay maps owner ids to their open connections
type Relay struct {
	mu     sync.RWMutex
	conns  map[string]map[*Connection]struct{}
	logger *slog.Logger
}

// Connection is one live listener for an owner's events
type Connection struct {
	owner  string
	events chan status.Event
	relay  *Relay
	once   sync.Once
}

// New creates an empty Relay
func New(logger *slog.Logger) *Relay {
	return &Relay{
		conns:  make(map[string]map[*Connection]struct{}),
		logger: logger,
	}
}

// Attach opens a connection for owner with room for buffer pending events
func (r *Relay) Attach(owner string, buffer int) *Connection {
	if buffer <= 0 {
		buffer = defaultBuffer
	}

	c := &Connection{
		owner:  owner,
		events: make(chan status.Event, buffer),
		relay:  r,
	}

	r.mu.Lock()
	set, ok := r.conns[owner]
	if !ok {
		set = make(map[*Connection]struct{})
		r.conns[owner] = set
	}
	set[c] = struct{}{}
	r.mu.Unlock()

	r.logger.Debug("Relay connection attached", slog.String("owner_id", owner))
	return c
}

// Forward delivers event to every connection of its owner without blocking.
// A connection whose buffer is full misses the event.
func (r *Relay) Forward(event status.Event) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for c := range r.conns[event.OwnerID] {
		select {
		case c.events <- event:
		default:
			r.logger.Warn("Relay connection is slow, event dropped",
				slog.String("owner_id", event.OwnerID),
				slog.String("job_id", event.JobID),
				slog.String("status", event.Status.String()),
			)
		}
	}
}

// Connections returns the number of open connections for owner
func (r *Relay) Connections(owner string) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.conns[owner])
}

func (r *Relay) detach(c *Connection) {
	r.mu.Lock()
	defer r.mu.Unlock()

	set := r.conns[c.owner]
	delete(set, c)
	if len(set) == 0 {
		delete(r.conns, c.owner)
	}
	close(c.events)
}

// Events is closed after Close
func (c *Connection) Events() <-chan status.Event {
	return c.events
}

// Close detaches the connection. It is safe to call more than once.
func (c *Connection) Close() {
	c.once.Do(func() { c.relay.detach(c) })
}
