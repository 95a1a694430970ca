package regioncache

import (
	"context"

	"github.com/unkn0wn-root/regioncache/cluster"
	"github.com/unkn0wn-root/regioncache/internal/wire"
)

// readWrite guards updates with soft locks. A key moves between Absent,
// Item and Lock. Every transition swaps the slot it read, conditionally and
// under the key lock, and a Lock slot retains the previous Item so a
// rollback can restore it.
type readWrite[V any] struct {
	base[V]
}

func (s *readWrite[V]) AccessType() AccessType { return ReadWrite }

// Get returns an Item's value. A locked key is a miss, except that a reader
// whose transaction started before the lock was taken still sees the value
// the lock retained.
func (s *readWrite[V]) Get(ctx context.Context, key Key, txTimestamp int64) (V, bool, error) {
	var zero V
	r := s.r
	if err := r.checkOpen("get", key); err != nil {
		return zero, false, err
	}
	sk := r.storageKey(key)
	v, err := r.load(ctx, "get", sk, false, false)
	if err != nil {
		return zero, false, err
	}
	if it := v.item(); it != nil {
		val, ok := r.decode(it.Payload)
		if !ok {
			r.selfHeal(ctx, sk, v.raw, "value_decode")
		}
		return val, ok, nil
	}
	if l := v.lock(); l != nil && l.Previous != nil && !l.Dirty && txTimestamp < l.AcquiredAt {
		val, ok := r.decode(l.Previous.Payload)
		return val, ok, nil
	}
	return zero, false, nil
}

func (s *readWrite[V]) PutFromLoad(ctx context.Context, key Key, value V, txTimestamp int64, version Version) (bool, error) {
	return s.PutFromLoadMinimal(ctx, key, value, txTimestamp, version, s.r.minimalPuts)
}

// PutFromLoadMinimal caches a loaded row. Over an Item it writes only when
// not minimal and the load is newer. Over a Lock it refreshes the retained
// previous value, and only for loads that began strictly after the lock was
// acquired; the lock itself stays.
func (s *readWrite[V]) PutFromLoadMinimal(ctx context.Context, key Key, value V, txTimestamp int64, version Version, minimal bool) (bool, error) {
	const op = "put_from_load"
	r := s.r
	if err := r.checkOpen(op, key); err != nil {
		return false, err
	}
	sk := r.storageKey(key)
	payload, err := r.encode(op, sk, value)
	if err != nil {
		return false, err
	}
	var stored bool
	err = r.transition(ctx, op, sk, func(v view) error {
		stored = false
		l := v.lock()
		if l == nil {
			if reason := v.rejectLoad(txTimestamp, version, minimal); reason != "" {
				r.hooks.LoadRejected(r.name, key.String(), reason)
				return nil
			}
			ok, err := r.storeItem(ctx, op, sk, v, r.newItem(payload, version))
			stored = ok
			return err
		}
		if v.fenced(txTimestamp) || txTimestamp <= l.AcquiredAt || l.Dirty || olderThan(version, l.Previous) {
			r.hooks.LoadRejected(r.name, key.String(), "locked")
			return nil
		}
		l.Previous = r.newItem(payload, version)
		ok, err := r.storeLock(ctx, op, sk, v, l)
		stored = ok
		return err
	})
	return stored, err
}

func olderThan(version Version, it *wire.Item) bool {
	return it != nil && version != 0 && it.Version != 0 && uint64(version) < it.Version
}

// Insert defers to AfterInsert.
func (s *readWrite[V]) Insert(context.Context, Key, V, Version) (bool, error) { return false, nil }

// AfterInsert writes the new row only if nothing occupies the slot.
func (s *readWrite[V]) AfterInsert(ctx context.Context, key Key, value V, version Version) (bool, error) {
	return s.r.putIfAbsent(ctx, "after_insert", key, value, version)
}

// Update defers to AfterUpdate, which needs the token from LockItem.
func (s *readWrite[V]) Update(context.Context, Key, V, Version, Version) (bool, error) {
	return false, nil
}

// LockItem turns the slot into a Lock. On an already locked key it piles up:
// the count grows and the caller shares the holder's lock id. A lock past its
// timeout is superseded by a fresh one with a larger id, leaving its holders
// stale. The superseding lock starts dirty: the expired holder may have
// committed its row already, so the value it retained cannot be restored.
func (s *readWrite[V]) LockItem(ctx context.Context, key Key, version Version) (*SoftLock, error) {
	const op = "lock_item"
	r := s.r
	if err := r.checkOpen(op, key); err != nil {
		return nil, err
	}
	sk := r.storageKey(key)
	var token *SoftLock
	err := r.transition(ctx, op, sk, func(v view) error {
		token = nil
		var (
			previous *wire.Item
			floor    int64
			dirty    bool
		)
		if l := v.lock(); l != nil {
			if r.clock.Current() <= l.Timeout {
				l.Count++
				if _, err := r.storeLock(ctx, op, sk, v, l); err != nil {
					return err
				}
				r.hooks.LockContended(r.name, key.String(), int(l.Count))
				token = newSoftLock(r.name, key, l, true)
				return nil
			}
			r.log.Info("superseding expired lock", Fields{"region": r.name, "key": sk, "lock_id": l.ID, "count": l.Count})
			floor = l.ID
			dirty = true
		} else if it := v.item(); it != nil {
			previous = it
		}

		now := r.clock.Next()
		l := &wire.Lock{
			ID:         r.nextLockID(floor),
			Count:      1,
			Source:     r.source,
			AcquiredAt: now,
			Timeout:    now + r.timeout,
			Version:    uint64(version),
			Dirty:      dirty,
			Previous:   previous,
		}
		if _, err := r.storeLock(ctx, op, sk, v, l); err != nil {
			return err
		}
		token = newSoftLock(r.name, key, l, false)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return token, nil
}

// UnlockItem releases a lock after a rollback. The last holder restores the
// retained value, or leaves the key absent when there is none. Tokens that no
// longer match are absorbed.
func (s *readWrite[V]) UnlockItem(ctx context.Context, key Key, lock *SoftLock) {
	const op = "unlock_item"
	r := s.r
	if lock == nil {
		r.log.Debug("unlock without token ignored", Fields{"region": r.name, "key": key.String()})
		return
	}
	if err := r.checkOpen(op, key); err != nil {
		r.log.Warn("unlock failed", Fields{"region": r.name, "key": key.String(), "err": err})
		return
	}
	sk := r.storageKey(key)
	var matched bool
	err := r.transition(ctx, op, sk, func(v view) error {
		l := v.lock()
		matched = lock.matches(l)
		if !matched {
			return nil
		}
		var err error
		switch {
		case l.Count > 1:
			l.Count--
			_, err = r.storeLock(ctx, op, sk, v, l)
		case l.Previous != nil:
			_, err = r.storeItem(ctx, op, sk, v, l.Previous)
		default:
			err = r.deleteSlot(ctx, op, sk, v)
		}
		return err
	})
	if err != nil {
		r.log.Warn("unlock failed", Fields{"region": r.name, "key": sk, "err": err})
		return
	}
	if !matched {
		s.stale(key, lock)
	}
}

// AfterUpdate commits value under the presented lock. While other holders
// remain, the commit only releases this holder and marks the lock dirty so
// no retained value can be restored; the last holder's commit writes the
// Item and propagates it.
func (s *readWrite[V]) AfterUpdate(ctx context.Context, key Key, value V, currentVersion, _ Version, lock *SoftLock) (bool, error) {
	const op = "after_update"
	r := s.r
	if err := r.checkOpen(op, key); err != nil {
		return false, err
	}
	if lock == nil {
		s.stale(key, nil)
		return false, nil
	}
	sk := r.storageKey(key)
	payload, err := r.encode(op, sk, value)
	if err != nil {
		return false, err
	}
	var (
		matched, stored bool
		msg             *cluster.Message
	)
	err = r.transition(ctx, op, sk, func(v view) error {
		stored, msg = false, nil
		l := v.lock()
		matched = lock.matches(l)
		if !matched {
			return nil
		}
		if l.Count > 1 {
			l.Count--
			l.Dirty = true
			l.Previous = nil
			_, err := r.storeLock(ctx, op, sk, v, l)
			return err
		}
		ok, m, err := r.commit(ctx, op, sk, v, key, payload, currentVersion)
		stored, msg = ok, m
		return err
	})
	if err != nil {
		return false, err
	}
	if !matched {
		s.stale(key, lock)
		return false, nil
	}
	if !stored {
		return false, nil
	}
	return true, r.publish(ctx, op, msg, false)
}

func (s *readWrite[V]) stale(key Key, lock *SoftLock) {
	var id int64
	if lock != nil {
		id = lock.LockID
	}
	s.r.hooks.StaleUnlock(s.r.name, key.String(), id)
	s.r.log.Debug("stale soft lock absorbed", Fields{"region": s.r.name, "key": key.String(), "lock_id": id})
}

// LockRegion invalidates the whole region; slots written while the region
// is locked are fenced again by UnlockRegion.
func (s *readWrite[V]) LockRegion(ctx context.Context) (*SoftLock, error) {
	if err := s.r.clear(ctx, "lock_region", true); err != nil {
		return nil, err
	}
	now := s.r.clock.Next()
	return &SoftLock{
		Region:     s.r.name,
		Key:        RegionLockKey,
		Source:     s.r.source,
		LockID:     s.r.nextLockID(0),
		AcquiredAt: now,
		Count:      1,
	}, nil
}

func (s *readWrite[V]) UnlockRegion(ctx context.Context, _ *SoftLock) {
	if err := s.r.clear(ctx, "unlock_region", true); err != nil {
		s.r.log.Warn("unlock region failed", Fields{"region": s.r.name, "err": err})
	}
}
