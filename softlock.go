package regioncache

import (
	"github.com/google/uuid"

	"github.com/unkn0wn-root/regioncache/internal/wire"
)

// SoftLock proves ownership of an in-flight pessimistic write. It is matched
// against the stored lock by Source and LockID; Count and AcquiredAt are
// informational.
type SoftLock struct {
	Region string
	Key    Key
	// Source is the node that created the lock.
	Source uuid.UUID
	LockID int64
	// Concurrent is set when the caller piled up on a lock held by another transaction.
	Concurrent bool
	Count      int
	AcquiredAt int64
}

// RegionLockKey is the Key carried by tokens returned from LockRegion.
var RegionLockKey = Key{Role: "*", ID: "*"}

func (l *SoftLock) matches(stored *wire.Lock) bool {
	if l == nil || stored == nil {
		return false
	}
	return stored.ID == l.LockID && stored.Source == [16]byte(l.Source)
}

func newSoftLock(region string, key Key, stored *wire.Lock, concurrent bool) *SoftLock {
	return &SoftLock{
		Region:     region,
		Key:        key,
		Source:     uuid.UUID(stored.Source),
		LockID:     stored.ID,
		Concurrent: concurrent,
		Count:      int(stored.Count),
		AcquiredAt: stored.AcquiredAt,
	}
}
