package genstore

import (
	"context"
	"strings"
	"time"
)

// EpochPrefix marks region epoch counters. Epochs fence every slot of a
// region at once, so stores never expire or prune them: losing an epoch would
// make slots written before the last clear readable again.
const EpochPrefix = "epoch:"

// EpochKey is the counter name holding a region's epoch.
func EpochKey(region string) string { return EpochPrefix + region }

// IsEpochKey reports whether k names a region epoch.
func IsEpochKey(k string) bool { return strings.HasPrefix(k, EpochPrefix) }

// GenStore abstracts where generations live.
// Use LocalGenStore (default) for in-process gens, or RedisGenStore to share
// key generations and region epochs across nodes.
type GenStore interface {
	// Snapshot returns the current generation; missing => 0.
	Snapshot(ctx context.Context, key string) (uint64, error)
	// SnapshotMany returns gens for many keys; missing => 0.
	SnapshotMany(ctx context.Context, keys []string) (map[string]uint64, error)
	// Bump atomically increments the generation, lifting it to floor when the
	// increment lands lower, and returns the new value. Regions pass the
	// timestamp of the eviction as floor, so a generation also tells which
	// loads began before the key was last evicted.
	Bump(ctx context.Context, key string, floor uint64) (uint64, error)
	// Cleanup prunes key generations idle for longer than retention. Epochs are kept.
	Cleanup(retention time.Duration)
	// Close releases resources (no-op ok).
	Close(context.Context) error
}
