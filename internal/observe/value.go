// Package observe provides a last-value-wins observable used to publish
// connection status and readings to the user interface.
package observe

import "sync"

// Reader is the read side of a Value.
type Reader[T any] interface {
	// Get returns the current value.
	Get() T
	// Subscribe returns a channel that first receives the current value and
	// then each later one. A subscriber that falls behind only sees the
	// newest value. cancel closes the channel; it is safe to call more than
	// once.
	Subscribe() (updates <-chan T, cancel func())
}

// Value holds a value of type T and notifies subscribers when it changes.
// The zero Value holds the zero T and is ready to use.
type Value[T any] struct {
	mu   sync.Mutex
	cur  T
	subs map[*subscriber[T]]struct{}
}

type subscriber[T any] struct {
	ch chan T
}

// New returns a Value holding initial.
func New[T any](initial T) *Value[T] {
	return &Value[T]{cur: initial}
}

// Get returns the current value.
func (v *Value[T]) Get() T {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.cur
}

// Set stores x and offers it to every subscriber without blocking.
func (v *Value[T]) Set(x T) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.cur = x
	for s := range v.subs {
		s.offer(x)
	}
}

// Subscribe implements Reader.
func (v *Value[T]) Subscribe() (<-chan T, func()) {
	s := &subscriber[T]{ch: make(chan T, 1)}

	v.mu.Lock()
	if v.subs == nil {
		v.subs = make(map[*subscriber[T]]struct{})
	}
	v.subs[s] = struct{}{}
	s.ch <- v.cur
	v.mu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			v.mu.Lock()
			delete(v.subs, s)
			close(s.ch)
			v.mu.Unlock()
		})
	}
	return s.ch, cancel
}

// offer replaces any unread value with x. Called with the Value lock held,
// so it is the only sender on s.ch.
func (s *subscriber[T]) offer(x T) {
	select {
	case s.ch <- x:
		return
	default:
	}
	select {
	case <-s.ch:
	default:
	}
	s.ch <- x
}
