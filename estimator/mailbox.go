package estimator

import "sync/atomic"

// Mailbox hands the most recent value from one producer goroutine to one consumer.
// Offering replaces any value not yet polled; stale values are dropped, never queued.
// Neither side blocks.
type Mailbox[T any] struct {
	latest atomic.Pointer[T]
}

// Offer publishes v, replacing an unconsumed value.
func (m *Mailbox[T]) Offer(v T) {
	m.latest.Store(&v)
}

// Poll takes the pending value, if any.
func (m *Mailbox[T]) Poll() (T, bool) {
	p := m.latest.Swap(nil)
	if p == nil {
		var zero T
		return zero, false
	}
	return *p, true
}
