package regioncache

import "context"

// nonstrict avoids locks: an update evicts the key before commit and the
// next load repopulates it, so a crashed writer costs a miss, never a wrong
// value.
type nonstrict[V any] struct {
	base[V]
}

func (s *nonstrict[V]) AccessType() AccessType { return NonstrictReadWrite }

func (s *nonstrict[V]) PutFromLoad(ctx context.Context, key Key, value V, txTimestamp int64, version Version) (bool, error) {
	return s.PutFromLoadMinimal(ctx, key, value, txTimestamp, version, s.r.minimalPuts)
}

func (s *nonstrict[V]) PutFromLoadMinimal(ctx context.Context, key Key, value V, txTimestamp int64, version Version, minimal bool) (bool, error) {
	return s.r.putItem(ctx, key, value, txTimestamp, version, minimal)
}

func (s *nonstrict[V]) Insert(context.Context, Key, V, Version) (bool, error) { return false, nil }

func (s *nonstrict[V]) AfterInsert(ctx context.Context, key Key, value V, version Version) (bool, error) {
	return s.r.put(ctx, "after_insert", key, value, version)
}

func (s *nonstrict[V]) Update(ctx context.Context, key Key, _ V, _, _ Version) (bool, error) {
	return false, s.r.evict(ctx, "update", key, false)
}

// AfterUpdate evicts again: a load that raced the commit may have cached
// the pre-update row after Update ran.
func (s *nonstrict[V]) AfterUpdate(ctx context.Context, key Key, _ V, _, _ Version, _ *SoftLock) (bool, error) {
	return false, s.r.evict(ctx, "after_update", key, false)
}

func (s *nonstrict[V]) LockItem(context.Context, Key, Version) (*SoftLock, error) { return nil, nil }

func (s *nonstrict[V]) UnlockItem(context.Context, Key, *SoftLock) {}

func (s *nonstrict[V]) LockRegion(context.Context) (*SoftLock, error) { return nil, nil }

func (s *nonstrict[V]) UnlockRegion(ctx context.Context, _ *SoftLock) {
	if err := s.r.clear(ctx, "unlock_region", true); err != nil {
		s.r.log.Warn("unlock region failed", Fields{"region": s.r.name, "err": err})
	}
}
