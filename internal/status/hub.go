package status

import (
	"context"
	"log/slog"
	"sync"
)

// Handler receives events from a Hub
type Handler func(event Event)

// Hub fans events out to an explicit set of in-process subscribers.
// A panicking handler is logged and does not affect the others.
type Hub struct {
	mu       sync.RWMutex
	nextID   uint64
	handlers map[uint64]Handler
	logger   *slog.Logger
}

// NewHub creates an empty Hub
func NewHub(logger *slog.Logger) *Hub {
	return &Hub{handlers: make(map[uint64]Handler), logger: logger}
}

// Subscribe registers handler and returns a function that removes it
func (h *Hub) Subscribe(handler Handler) (unsubscribe func()) {
	h.mu.Lock()
	id := h.nextID
	h.nextID++
	h.handlers[id] = handler
	h.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			h.mu.Lock()
			delete(h.handlers, id)
			h.mu.Unlock()
		})
	}
}

// Len returns the number of subscribers
func (h *Hub) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.handlers)
}

// Publish implements Publisher by calling every handler synchronously
func (h *Hub) Publish(_ context.Context, event Event) error {
	h.mu.RLock()
	handlers := make([]Handler, 0, len(h.handlers))
	for _, handler := range h.handlers {
		handlers = append(handlers, handler)
	}
	h.mu.RUnlock()

	for _, handler := range handlers {
		h.dispatch(handler, event)
	}
	return nil
}

func (h *Hub) dispatch(handler Handler, event Event) {
	defer func() {
		if r := recover(); r != nil {
			h.logger.Error("Status handler panicked",
				slog.String("job_id", event.JobID),
				slog.Any("panic", r),
			)
		}
	}()
	handler(event)
}
