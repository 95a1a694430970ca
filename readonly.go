package regioncache

import "context"

// readOnly serves rows that are inserted once and never change. Every write
// path other than the initial insert is a contract violation.
type readOnly[V any] struct {
	base[V]
}

func (s *readOnly[V]) AccessType() AccessType { return ReadOnly }

func (s *readOnly[V]) PutFromLoad(ctx context.Context, key Key, value V, txTimestamp int64, version Version) (bool, error) {
	return s.PutFromLoadMinimal(ctx, key, value, txTimestamp, version, s.r.minimalPuts)
}

func (s *readOnly[V]) PutFromLoadMinimal(ctx context.Context, key Key, value V, txTimestamp int64, version Version, minimal bool) (bool, error) {
	return s.r.putItem(ctx, key, value, txTimestamp, version, minimal)
}

func (s *readOnly[V]) Insert(context.Context, Key, V, Version) (bool, error) { return false, nil }

func (s *readOnly[V]) AfterInsert(ctx context.Context, key Key, value V, version Version) (bool, error) {
	return s.r.put(ctx, "after_insert", key, value, version)
}

func (s *readOnly[V]) violation(op, msg string) error {
	s.r.hooks.ReadOnlyViolation(s.r.name, op)
	return &UnsupportedOperationError{Region: s.r.name, Op: op, Msg: msg}
}

func (s *readOnly[V]) Update(context.Context, Key, V, Version, Version) (bool, error) {
	return false, s.violation("update", "can't write to a readonly object")
}

func (s *readOnly[V]) AfterUpdate(context.Context, Key, V, Version, Version, *SoftLock) (bool, error) {
	return false, s.violation("after_update", "can't write to a readonly object")
}

func (s *readOnly[V]) LockItem(context.Context, Key, Version) (*SoftLock, error) {
	return nil, s.violation("lock_item", "illegal attempt to edit read only item")
}

func (s *readOnly[V]) LockRegion(context.Context) (*SoftLock, error) {
	return nil, s.violation("lock_region", "illegal attempt to edit read only region")
}

// UnlockItem runs during rollback, so it only logs.
func (s *readOnly[V]) UnlockItem(_ context.Context, key Key, _ *SoftLock) {
	s.r.log.Error("illegal attempt to edit read only item", Fields{"region": s.r.name, "key": key.String()})
}

func (s *readOnly[V]) UnlockRegion(context.Context, *SoftLock) {
	s.r.log.Error("illegal attempt to edit read only region", Fields{"region": s.r.name})
}
