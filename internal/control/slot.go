package control

import "sync"

// Slot is a single-value mailbox shared between goroutines. Store replaces
// the held value and never blocks; Load copies it out without consuming it.
// Readers always see the most recent value and a slow reader never holds up
// the writer.
type Slot[T any] struct {
	mu    sync.Mutex
	value T
	set   bool
}

// Store replaces the held value.
func (s *Slot[T]) Store(v T) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.value = v
	s.set = true
}

// Load returns the latest value. ok is false until the first Store.
func (s *Slot[T]) Load() (v T, ok bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.value, s.set
}
