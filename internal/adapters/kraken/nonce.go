package kraken

import (
	"sync"
	"time"
)

// NonceSource issues strictly increasing nonces for one credential set.
// Next returns max(last+1, now in milliseconds), so a clock stepping backwards
// never produces a repeated or smaller nonce.
type NonceSource struct {
	mu   sync.Mutex
	last int64
	now  func() time.Time
}

// NewNonceSource creates a nonce source using the given clock (time.Now when nil).
func NewNonceSource(now func() time.Time) *NonceSource {
	if now == nil {
		now = time.Now
	}
	return &NonceSource{now: now}
}

// Next reads, computes and commits the next nonce atomically.
func (n *NonceSource) Next() int64 {
	n.mu.Lock()
	defer n.mu.Unlock()

	next := n.now().UnixMilli()
	if next <= n.last {
		next = n.last + 1
	}
	n.last = next
	return next
}

// Raise lifts the floor so that the next nonce is greater than floor.
func (n *NonceSource) Raise(floor int64) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if floor > n.last {
		n.last = floor
	}
}

// Last returns the most recently issued nonce.
func (n *NonceSource) Last() int64 {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.last
}
