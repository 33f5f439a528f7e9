package search

import (
	"sync"
	"sync/atomic"
)

// Signal is a single-shot found notification. The first Fire wins; every
// later Fire is a no-op, so a key relayed twice changes nothing.
// The zero value is not usable; call NewSignal.
type Signal struct {
	once sync.Once
	done chan struct{}
	key  atomic.Uint64
}

// NewSignal returns an unfired signal.
func NewSignal() *Signal {
	return &Signal{done: make(chan struct{})}
}

// Fire records key and releases every waiter. It reports whether this call
// was the one that fired the signal.
func (s *Signal) Fire(key uint64) bool {
	fired := false
	s.once.Do(func() {
		s.key.Store(key)
		close(s.done)
		fired = true
	})
	return fired
}

// Poll returns the fired key without blocking.
func (s *Signal) Poll() (uint64, bool) {
	select {
	case <-s.done:
		return s.key.Load(), true
	default:
		return 0, false
	}
}

// Done is closed once the signal fires.
func (s *Signal) Done() <-chan struct{} { return s.done }
