// Package regioncache is the concurrency-control layer of a second-level
// cache. It sits between a transactional persistence session and a shared,
// possibly clustered byte store, and decides for every load, insert, update
// and eviction whether the cached copy of a row may be written, must be
// locked, or has to be dropped.
//
// Components:
//   - Region[V]: a named slice of a provider.Provider holding Item and Lock
//     slots, with a logical clock, a lock-id counter and cluster propagation.
//   - AccessStrategy[V]: one implementation per concurrency mode
//     (read-only, nonstrict-read-write, read-write, transactional).
//   - Factory: builds regions from Settings and binds strategies to them.
//   - GenStore: key generations and region epochs that fence slots written
//     before an eviction, locally or shared through Redis.
//   - cluster.Bus: carries invalidations, replicated values and region clears
//     to other nodes.
//
// Keys:
//
//	<region>:<role>#<id>  - slot of one cached row
//	epoch:<region>        - generation store counter bumped by EvictAll/RemoveAll
//
// Read-write protocol:
//
//	ts   := region.NextTimestamp()               // transaction start
//	v, ok, _ := s.Get(ctx, k, ts)                 // miss => load from DB
//	_, _ = s.PutFromLoad(ctx, k, row, ts, ver)
//	lock, _ := s.LockItem(ctx, k, ver)            // before the DB update
//	_, _ = s.AfterUpdate(ctx, k, row2, ver+1, ver, lock) // after commit
//	s.UnlockItem(ctx, k, lock)                    // on rollback instead
package regioncache
