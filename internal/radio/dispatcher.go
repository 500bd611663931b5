package radio

import (
	"sync"

	"github.com/flexlink-project/flexlink/internal/protocol"
)

// StatusHandler applies one status line of a registered category.
type StatusHandler func(status *protocol.Status)

// Dispatcher routes status lines to handlers by category. Categories are
// registered once at session construction; Register may add more later.
type Dispatcher struct {
	mu       sync.RWMutex
	handlers map[string]StatusHandler
	ignored  map[string]bool
}

// NewDispatcher creates an empty Dispatcher.
func NewDispatcher() *Dispatcher {
	return &Dispatcher{
		handlers: make(map[string]StatusHandler),
		ignored:  make(map[string]bool),
	}
}

// Register binds a category (lower case) to its handler, replacing any
// previous binding.
func (d *Dispatcher) Register(category string, handler StatusHandler) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.handlers[category] = handler
}

// Ignore marks a category as known but unprocessed.
func (d *Dispatcher) Ignore(category string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.ignored[category] = true
}

// Lookup returns the handler for category. known is true for registered and
// ignored categories alike.
func (d *Dispatcher) Lookup(category string) (handler StatusHandler, known bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if h, ok := d.handlers[category]; ok {
		return h, true
	}
	return nil, d.ignored[category]
}

// Categories returns the number of registered handlers.
func (d *Dispatcher) Categories() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.handlers)
}
