package regioncache

import "context"

// transactional writes straight through on Insert and Update. It suits
// providers enlisted in the same transaction as the database, which roll
// the write back themselves.
type transactional[V any] struct {
	base[V]
}

func (s *transactional[V]) AccessType() AccessType { return Transactional }

func (s *transactional[V]) PutFromLoad(ctx context.Context, key Key, value V, txTimestamp int64, version Version) (bool, error) {
	return s.PutFromLoadMinimal(ctx, key, value, txTimestamp, version, s.r.minimalPuts)
}

func (s *transactional[V]) PutFromLoadMinimal(ctx context.Context, key Key, value V, txTimestamp int64, version Version, minimal bool) (bool, error) {
	return s.r.putItem(ctx, key, value, txTimestamp, version, minimal)
}

func (s *transactional[V]) Insert(ctx context.Context, key Key, value V, version Version) (bool, error) {
	return s.r.put(ctx, "insert", key, value, version)
}

func (s *transactional[V]) AfterInsert(context.Context, Key, V, Version) (bool, error) {
	return false, nil
}

func (s *transactional[V]) Update(ctx context.Context, key Key, value V, currentVersion, _ Version) (bool, error) {
	return s.r.put(ctx, "update", key, value, currentVersion)
}

func (s *transactional[V]) AfterUpdate(context.Context, Key, V, Version, Version, *SoftLock) (bool, error) {
	return false, nil
}

func (s *transactional[V]) LockItem(context.Context, Key, Version) (*SoftLock, error) {
	return nil, nil
}

func (s *transactional[V]) UnlockItem(context.Context, Key, *SoftLock) {}

func (s *transactional[V]) LockRegion(context.Context) (*SoftLock, error) { return nil, nil }

func (s *transactional[V]) UnlockRegion(context.Context, *SoftLock) {}
