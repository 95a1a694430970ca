// Package provider defines the byte store a region keeps its slots in.
//
// Implementations MUST be byte-for-byte transparent: Get must return exactly the
// same []byte previously passed to Set for a key. Regions frame every slot with a
// strict header; foreign or transformed bytes are treated as corruption and deleted.
//
// The keyspace "<region>:" is owned by the region of that name. Several regions
// (and several nodes) may share one provider as long as region names differ.
package provider

import (
	"bytes"
	"context"
	"errors"
	"time"

	"github.com/unkn0wn-root/regioncache/internal/keylock"
)

// ErrConflict reports a CompareAndSwap whose key no longer held the expected value.
var ErrConflict = errors.New("provider: slot changed concurrently")

// Provider is a minimal byte store with TTLs. Must be safe for concurrent use.
//
// A provider shared by every node (Redis, DynamoDB) makes a region's content
// cluster-wide by construction. A process-local provider (memory, ristretto,
// bigcache, sturdyc) relies on the cluster bus to invalidate or replicate.
type Provider interface {
	// Get returns (value, true, nil) on hit; (nil, false, nil) on miss.
	// If an IO/remote error happens, return (nil, false, err).
	Get(ctx context.Context, key string) ([]byte, bool, error)

	// Set stores value with the given TTL (<= 0 means no expiry). May ignore
	// cost if unsupported. Returns ok=false when the store rejected the write
	// under pressure.
	Set(ctx context.Context, key string, value []byte, cost int64, ttl time.Duration) (ok bool, err error)

	// CompareAndSwap replaces the value of key with next only while key still
	// holds old. A nil old means key must be absent; a nil next deletes key.
	// Returns ErrConflict when the current value differs, and ok=false when
	// the store rejected the write under pressure. The check and the write
	// must be atomic for every client of the store, other nodes included.
	CompareAndSwap(ctx context.Context, key string, old, next []byte, cost int64, ttl time.Duration) (ok bool, err error)

	// Del removes a key. Deleting a missing key is not an error.
	Del(ctx context.Context, key string) error

	// Close releases resources.
	Close(ctx context.Context) error
}

// Matches reports whether a Get result (cur, found) is the value old stands for.
func Matches(cur []byte, found bool, old []byte) bool {
	if old == nil {
		return !found
	}
	return found && bytes.Equal(cur, old)
}

// Store is the plain part of a Provider that Guard builds a swap from.
type Store interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte, cost int64, ttl time.Duration) (bool, error)
	Del(ctx context.Context, key string) error
}

// Guard gives a process-local store an atomic CompareAndSwap by running the
// read, the comparison and the write under a striped lock. It covers one
// process only and must not back a store shared between nodes.
type Guard struct {
	locks *keylock.Striped
}

func NewGuard() *Guard { return &Guard{locks: keylock.New(keylock.DefaultStripes)} }

func (g *Guard) CompareAndSwap(ctx context.Context, s Store, key string, old, next []byte, cost int64, ttl time.Duration) (bool, error) {
	unlock, err := g.locks.Acquire(ctx, key)
	if err != nil {
		return false, err
	}
	defer unlock()

	cur, found, err := s.Get(ctx, key)
	if err != nil {
		return false, err
	}
	if !Matches(cur, found, old) {
		return false, ErrConflict
	}
	if next == nil {
		if err := s.Del(ctx, key); err != nil {
			return false, err
		}
		return true, nil
	}
	return s.Set(ctx, key, next, cost, ttl)
}
