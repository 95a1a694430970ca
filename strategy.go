package regioncache

import "context"

// base carries the operations every mode shares: reads of plain items and
// the maintenance removals.
type base[V any] struct {
	r *Region[V]
}

func (b base[V]) Region() *Region[V] { return b.r }

func (b base[V]) Get(ctx context.Context, key Key, _ int64) (V, bool, error) {
	return b.r.getItem(ctx, key)
}

func (b base[V]) Remove(ctx context.Context, key Key) error {
	return b.r.evict(ctx, "remove", key, false)
}

func (b base[V]) RemoveAll(ctx context.Context) error {
	return b.r.clear(ctx, "remove_all", false)
}

func (b base[V]) Evict(ctx context.Context, key Key) error {
	return b.r.evict(ctx, "evict", key, true)
}

func (b base[V]) EvictAll(ctx context.Context) error {
	return b.r.clear(ctx, "evict_all", true)
}

func newStrategy[V any](r *Region[V], access AccessType) AccessStrategy[V] {
	b := base[V]{r: r}
	switch access {
	case ReadOnly:
		return &readOnly[V]{base: b}
	case NonstrictReadWrite:
		return &nonstrict[V]{base: b}
	case Transactional:
		return &transactional[V]{base: b}
	default:
		return &readWrite[V]{base: b}
	}
}
