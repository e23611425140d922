// Package emitter provides a small generic callback registry: the observer
// half of the event-emitter collaborators (transport status, document
// updates, presence changes) and of registry subscriptions.
package emitter

import "sync"

// Emitter delivers values of type T to registered handlers.
// Handlers are invoked synchronously, outside the emitter's lock, in
// registration order.
type Emitter[T any] struct {
	mu       sync.RWMutex
	nextID   uint64
	handlers map[uint64]func(T)
	order    []uint64
	closed   bool
}

func New[T any]() *Emitter[T] {
	return &Emitter[T]{handlers: make(map[uint64]func(T))}
}

// On registers h and returns a function that removes it.
// The returned function is idempotent.
// Registering on a closed emitter returns a no-op remover.
func (e *Emitter[T]) On(h func(T)) (off func()) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.closed {
		return func() {}
	}

	e.nextID++
	id := e.nextID
	if e.handlers == nil {
		e.handlers = make(map[uint64]func(T))
	}
	e.handlers[id] = h
	e.order = append(e.order, id)

	var once sync.Once
	return func() {
		once.Do(func() { e.remove(id) })
	}
}

func (e *Emitter[T]) remove(id uint64) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if _, ok := e.handlers[id]; !ok {
		return
	}
	delete(e.handlers, id)
	for i, v := range e.order {
		if v == id {
			e.order = append(e.order[:i], e.order[i+1:]...)
			break
		}
	}
}

// Emit calls every handler registered at the time of the call.
// A handler removed while Emit is running may still receive the value.
func (e *Emitter[T]) Emit(v T) {
	e.mu.RLock()
	if e.closed {
		e.mu.RUnlock()
		return
	}
	snapshot := make([]func(T), 0, len(e.order))
	for _, id := range e.order {
		snapshot = append(snapshot, e.handlers[id])
	}
	e.mu.RUnlock()

	for _, h := range snapshot {
		h(v)
	}
}

// Close removes all handlers; later Emit and On calls are no-ops.
func (e *Emitter[T]) Close() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.closed = true
	e.handlers = nil
	e.order = nil
}

// Len returns the number of registered handlers.
func (e *Emitter[T]) Len() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.order)
}
