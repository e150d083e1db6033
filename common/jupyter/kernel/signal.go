package kernel

import "sync"

// ListenerID identifies a listener connected to a Signal.
type ListenerID uint64

// Signal is a typed notification that fans out to every connected listener.
//
// Listeners run synchronously on the emitting goroutine, in no particular order. The zero
// value is ready to use.
type Signal[T any] struct {
	mu        sync.RWMutex
	nextID    ListenerID
	listeners map[ListenerID]func(T)
}

// Connect registers fn and returns an id that can be passed to Disconnect.
func (s *Signal[T]) Connect(fn func(T)) ListenerID {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.listeners == nil {
		s.listeners = make(map[ListenerID]func(T))
	}

	s.nextID++
	s.listeners[s.nextID] = fn
	return s.nextID
}

// Disconnect removes the listener with the given id. Unknown ids are ignored.
func (s *Signal[T]) Disconnect(id ListenerID) {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.listeners, id)
}

// DisconnectAll removes every listener.
func (s *Signal[T]) DisconnectAll() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.listeners = nil
}

// Emit invokes every listener with value.
func (s *Signal[T]) Emit(value T) {
	s.mu.RLock()
	if len(s.listeners) == 0 {
		s.mu.RUnlock()
		return
	}

	listeners := make([]func(T), 0, len(s.listeners))
	for _, fn := range s.listeners {
		listeners = append(listeners, fn)
	}
	s.mu.RUnlock()

	for _, fn := range listeners {
		fn(value)
	}
}
