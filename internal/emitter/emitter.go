package emitter

import (
	"sync"
	"sync/atomic"
)

// Subscription identifies a registered handler. IDs are unique across all
// emitters in the process; the zero value never matches a live handler.
type Subscription uint64

var lastID atomic.Uint64

type entry[T any] struct {
	id   Subscription
	fn   func(T)
	once bool
}

// Emitter fans a value out to every registered handler. The zero value is
// ready to use.
type Emitter[T any] struct {
	mu       sync.RWMutex
	handlers []entry[T]
}

// On registers fn and returns its subscription.
func (e *Emitter[T]) On(fn func(T)) Subscription {
	return e.add(fn, false)
}

// Once registers fn for the next emission only.
func (e *Emitter[T]) Once(fn func(T)) Subscription {
	return e.add(fn, true)
}

func (e *Emitter[T]) add(fn func(T), once bool) Subscription {
	if fn == nil {
		return 0
	}

	id := Subscription(lastID.Add(1))

	e.mu.Lock()
	defer e.mu.Unlock()

	e.handlers = append(e.handlers, entry[T]{id: id, fn: fn, once: once})
	return id
}

// Off removes a handler. It reports whether the subscription was registered.
func (e *Emitter[T]) Off(sub Subscription) bool {
	e.mu.Lock()
	defer e.mu.Unlock()

	for i, h := range e.handlers {
		if h.id == sub {
			e.handlers = append(e.handlers[:i:i], e.handlers[i+1:]...)
			return true
		}
	}
	return false
}

// Emit calls every current handler with v before returning.
// Handlers registered or removed during Emit take effect on the next call.
func (e *Emitter[T]) Emit(v T) {
	e.mu.Lock()
	snapshot := make([]entry[T], len(e.handlers))
	copy(snapshot, e.handlers)

	// Drop once-handlers before running anything so a re-entrant Emit
	// cannot fire them twice.
	kept := e.handlers[:0:0]
	for _, h := range e.handlers {
		if !h.once {
			kept = append(kept, h)
		}
	}
	e.handlers = kept
	e.mu.Unlock()

	for _, h := range snapshot {
		h.fn(v)
	}
}

// Len returns the number of registered handlers.
func (e *Emitter[T]) Len() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.handlers)
}
