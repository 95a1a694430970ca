// Package keylock serializes writers per key.
//
// Keys hash onto a fixed set of stripes, so unrelated keys may share a stripe.
// Each stripe is a one-slot semaphore, which lets Acquire honour context
// deadlines instead of blocking forever like sync.Mutex.
package keylock

import (
	"context"

	"github.com/cespare/xxhash/v2"
)

const DefaultStripes = 256

type Striped struct {
	stripes []chan struct{}
	mask    uint64
}

// New returns a lock table with n stripes rounded up to a power of two.
// n <= 0 selects DefaultStripes.
func New(n int) *Striped {
	if n <= 0 {
		n = DefaultStripes
	}
	size := 1
	for size < n {
		size <<= 1
	}
	s := &Striped{stripes: make([]chan struct{}, size), mask: uint64(size - 1)}
	for i := range s.stripes {
		s.stripes[i] = make(chan struct{}, 1)
	}
	return s
}

func (s *Striped) stripe(key string) chan struct{} {
	return s.stripes[xxhash.Sum64String(key)&s.mask]
}

// Acquire blocks until the stripe owning key is free or ctx is done.
// The returned func releases the stripe and must be called exactly once.
func (s *Striped) Acquire(ctx context.Context, key string) (func(), error) {
	ch := s.stripe(key)
	select {
	case ch <- struct{}{}:
		return func() { <-ch }, nil
	default:
	}
	select {
	case ch <- struct{}{}:
		return func() { <-ch }, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Len reports the number of stripes.
func (s *Striped) Len() int { return len(s.stripes) }
