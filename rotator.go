package permissionless

import (
	"crypto/ecdsa"
	"sync"
)

type Rotator[T any] interface {
	// Next returns the next item in rotation, or the zero value when empty.
	Next() T

	// Add adds a new item to the rotation.
	Add(item T) error

	// Count returns the number of items in rotation.
	Count() int
}

// RoundRobin hands out items in insertion order, wrapping around.
type RoundRobin[T any] struct {
	mu    sync.Mutex
	items []T
	index int
}

var _ Rotator[*ecdsa.PrivateKey] = (*RoundRobin[*ecdsa.PrivateKey])(nil)

func NewRoundRobin[T any](items []T) *RoundRobin[T] {
	return &RoundRobin[T]{items: items}
}

// NewRoundRobinSignerProvider rotates the executors submitting handleOps.
func NewRoundRobinSignerProvider(signers []*ecdsa.PrivateKey) Rotator[*ecdsa.PrivateKey] {
	return NewRoundRobin(signers)
}

func (r *RoundRobin[T]) Next() T {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.items) == 0 {
		var zero T
		return zero
	}
	current := r.items[r.index]
	r.index = (r.index + 1) % len(r.items)
	return current
}

func (r *RoundRobin[T]) Add(item T) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.items = append(r.items, item)
	return nil
}

func (r *RoundRobin[T]) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()

	return len(r.items)
}
