package regioncache

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/unkn0wn-root/regioncache/cluster"
	c "github.com/unkn0wn-root/regioncache/codec"
	gen "github.com/unkn0wn-root/regioncache/genstore"
	"github.com/unkn0wn-root/regioncache/internal/keylock"
	"github.com/unkn0wn-root/regioncache/internal/wire"
	pr "github.com/unkn0wn-root/regioncache/provider"
)

type publisher interface {
	Publish(ctx context.Context, m cluster.Message) error
}

// regionConfig is everything a Region needs from its factory.
type regionConfig struct {
	name           string
	source         uuid.UUID
	origin         string
	provider       pr.Provider
	gens           gen.GenStore
	log            Logger
	hooks          Hooks
	topology       cluster.Topology
	bus            publisher // nil => no propagation
	async          publisher // nil => bus is used for every publish
	locks          *keylock.Striped
	access         AccessType
	ttl            time.Duration
	lockTimeout    time.Duration
	acquireTimeout time.Duration
	minimalPuts    bool
}

// Region holds the slots of one cache region in a provider. A slot is absent,
// an Item, or a Lock that may retain the previous Item. Every slot is stamped
// with the region epoch and the key generation current when it was written;
// a slot whose stamp no longer matches reads as absent and is deleted.
type Region[V any] struct {
	name     string
	source   uuid.UUID
	origin   string
	provider pr.Provider
	gens     gen.GenStore
	codec    c.Codec[V]
	codecID  byte
	log      Logger
	hooks    Hooks
	topology cluster.Topology
	bus      publisher
	async    publisher
	locks    *keylock.Striped

	access         AccessType
	ttl            time.Duration
	lockTTL        time.Duration
	timeout        int64 // lock timeout in timestamp units
	acquireTimeout time.Duration
	minimalPuts    bool

	clock    *Timestamper
	lockIDs  atomic.Int64
	epochKey string
	closed   atomic.Bool
}

func newRegion[V any](cfg regionConfig, codec c.Codec[V]) *Region[V] {
	return &Region[V]{
		name:           cfg.name,
		source:         cfg.source,
		origin:         cfg.origin,
		provider:       cfg.provider,
		gens:           cfg.gens,
		codec:          codec,
		codecID:        c.IDOf(codec),
		log:            coalesce[Logger](cfg.log, NopLogger{}),
		hooks:          coalesce[Hooks](cfg.hooks, NopHooks{}),
		topology:       cfg.topology,
		bus:            cfg.bus,
		async:          cfg.async,
		locks:          cfg.locks,
		access:         cfg.access,
		ttl:            cfg.ttl,
		lockTTL:        cfg.lockTimeout,
		timeout:        TimestampDuration(cfg.lockTimeout),
		acquireTimeout: cfg.acquireTimeout,
		minimalPuts:    cfg.minimalPuts,
		clock:          NewTimestamper(),
		epochKey:       gen.EpochKey(cfg.name),
	}
}

func (r *Region[V]) Name() string { return r.name }

// NextTimestamp returns a fresh region timestamp. Sessions use it as their
// transaction timestamp.
func (r *Region[V]) NextTimestamp() int64 { return r.clock.Next() }

// Timeout is the lock timeout in region timestamp units.
func (r *Region[V]) Timeout() int64 { return r.timeout }

func (r *Region[V]) Topology() cluster.Topology { return r.topology }

// AccessType is the region's configured default mode. Regions are shared
// by every strategy built for the name, so a strategy built with a
// descriptor override reports its own mode through its AccessType.
func (r *Region[V]) AccessType() AccessType { return r.access }

func (r *Region[V]) storageKey(k Key) string { return r.name + ":" + k.String() }

// view is a slot as read under the current epoch and generation. When present
// is false the slot is absent or was fenced off.
type view struct {
	slot    wire.Slot
	raw     []byte
	present bool
	epoch   uint64
	gen     uint64
}

func (v view) item() *wire.Item {
	if !v.present {
		return nil
	}
	return v.slot.Item
}

func (v view) lock() *wire.Lock {
	if !v.present {
		return nil
	}
	return v.slot.Lock
}

func (r *Region[V]) failure(op, key string, err error) error {
	return &CacheError{Region: r.name, Op: op, Key: key, Err: err}
}

func (r *Region[V]) checkOpen(op string, k Key) error {
	if r.closed.Load() {
		return r.failure(op, k.String(), ErrClosed)
	}
	return k.validate()
}

// load reads the slot for sk together with the stamps a new slot must carry.
// locked tells whether the caller holds the key lock and is about to write.
// A slot stamped behind the snapshot is stale and deleted. A slot stamped
// ahead of it was written after the snapshot was taken: readers treat it as
// a miss, and writers get ErrConflict so they re-read, unless healAhead says
// a fresh snapshot still trails it, in which case it is an orphan.
func (r *Region[V]) load(ctx context.Context, op, sk string, locked, healAhead bool) (view, error) {
	gens, err := r.gens.SnapshotMany(ctx, []string{r.epochKey, sk})
	if err != nil {
		r.hooks.GenStoreError("snapshot", err)
		return view{}, r.failure(op, sk, err)
	}
	v := view{epoch: gens[r.epochKey], gen: gens[sk]}

	raw, ok, err := r.provider.Get(ctx, sk)
	if err != nil {
		return view{}, r.failure(op, sk, err)
	}
	if !ok {
		return v, nil
	}
	s, err := wire.Decode(raw)
	var reason string
	switch {
	case err != nil:
		reason = "corrupt"
	case s.Codec != r.codecID:
		reason = "codec_mismatch"
	case s.Epoch == v.epoch && s.Gen == v.gen:
		v.slot = s
		v.raw = raw
		v.present = true
		return v, nil
	case s.Epoch < v.epoch || s.Gen < v.gen:
		reason = "gen_mismatch"
	case !locked:
		// stamped after our snapshot was taken; a miss, but not stale
		return v, nil
	case !healAhead:
		return view{}, pr.ErrConflict
	default:
		reason = "gen_mismatch"
	}
	if !r.selfHeal(ctx, sk, raw, reason) {
		// replaced since we read it; a swap against the old bytes conflicts
		v.raw = raw
	}
	return v, nil
}

// selfHeal deletes a slot found unusable on read, but only while it still
// holds the bytes we read, so a reader never removes a slot a writer just
// stored.
func (r *Region[V]) selfHeal(ctx context.Context, sk string, raw []byte, reason string) bool {
	if _, err := r.provider.CompareAndSwap(ctx, sk, raw, nil, 0, 0); err != nil {
		return false
	}
	r.hooks.SelfHeal(sk, reason)
	r.log.Debug("slot dropped on read", Fields{"region": r.name, "key": sk, "reason": reason})
	return true
}

// maxSwapAttempts bounds how often a transition re-reads a slot that other
// writers keep changing.
const maxSwapAttempts = 8

// transition runs step under the key lock with the slot as currently
// stored. Writes made by step are conditional on that slot; when a writer
// sharing the provider changed it in between, step gets ErrConflict and
// runs again on a fresh read.
func (r *Region[V]) transition(ctx context.Context, op, sk string, step func(v view) error) error {
	unlock, err := r.lockKey(ctx, op, sk)
	if err != nil {
		return err
	}
	defer unlock()
	for attempt := 0; ; attempt++ {
		v, err := r.load(ctx, op, sk, true, attempt > 0)
		if err == nil {
			err = step(v)
		}
		if !errors.Is(err, pr.ErrConflict) {
			return err
		}
		if attempt+1 == maxSwapAttempts {
			return r.failure(op, sk, err)
		}
		r.log.Debug("slot changed concurrently, retrying", Fields{"region": r.name, "key": sk, "op": op, "attempt": attempt + 1})
	}
}

// storeItem writes an Item slot in place of v.
func (r *Region[V]) storeItem(ctx context.Context, op, sk string, v view, it *wire.Item) (bool, error) {
	return r.store(ctx, op, sk, v, wire.Slot{
		Header: wire.Header{Kind: wire.KindItem, Codec: r.codecID, Epoch: v.epoch, Gen: v.gen},
		Item:   it,
	}, r.ttl)
}

// storeLock writes a Lock slot in place of v.
func (r *Region[V]) storeLock(ctx context.Context, op, sk string, v view, l *wire.Lock) (bool, error) {
	return r.store(ctx, op, sk, v, wire.Slot{
		Header: wire.Header{Kind: wire.KindLock, Codec: r.codecID, Epoch: v.epoch, Gen: v.gen},
		Lock:   l,
	}, r.lockTTL)
}

// store swaps v for s. A changed slot is reported as a bare ErrConflict for
// transition to retry. When the provider rejects the write the old slot is
// deleted, so it cannot outlive the transition.
func (r *Region[V]) store(ctx context.Context, op, sk string, v view, s wire.Slot, ttl time.Duration) (bool, error) {
	raw, err := wire.Encode(s)
	if err != nil {
		return false, r.failure(op, sk, err)
	}
	ok, err := r.provider.CompareAndSwap(ctx, sk, v.raw, raw, 1, ttl)
	if errors.Is(err, pr.ErrConflict) {
		return false, err
	}
	if err != nil {
		return false, r.failure(op, sk, err)
	}
	if ok {
		return true, nil
	}
	isLock := s.Kind == wire.KindLock
	r.hooks.ProviderSetRejected(sk, isLock)
	r.log.Debug("slot rejected by provider (pressure)", Fields{"region": r.name, "key": sk, "lock": isLock})
	if v.raw == nil {
		return false, nil
	}
	// a conflict means someone else already replaced it
	if _, err := r.provider.CompareAndSwap(ctx, sk, v.raw, nil, 0, 0); err != nil && !errors.Is(err, pr.ErrConflict) {
		return false, r.failure(op, sk, err)
	}
	return false, nil
}

// deleteSlot removes v if it is still stored.
func (r *Region[V]) deleteSlot(ctx context.Context, op, sk string, v view) error {
	if v.raw == nil {
		return nil
	}
	_, err := r.provider.CompareAndSwap(ctx, sk, v.raw, nil, 0, 0)
	if err != nil && !errors.Is(err, pr.ErrConflict) {
		return r.failure(op, sk, err)
	}
	return err
}

// lockKey serializes writers of one storage key for at most acquireTimeout.
func (r *Region[V]) lockKey(ctx context.Context, op, sk string) (func(), error) {
	cancel := context.CancelFunc(func() {})
	if r.acquireTimeout > 0 {
		ctx, cancel = context.WithTimeout(ctx, r.acquireTimeout)
	}
	unlock, err := r.locks.Acquire(ctx, sk)
	if err != nil {
		cancel()
		if errors.Is(err, context.DeadlineExceeded) {
			err = ErrLockTimeout
		}
		return nil, r.failure(op, sk, err)
	}
	return func() {
		unlock()
		cancel()
	}, nil
}

func (r *Region[V]) encode(op, sk string, value V) ([]byte, error) {
	payload, err := r.codec.Encode(value)
	if err != nil {
		return nil, r.failure(op, sk, err)
	}
	return payload, nil
}

// decode turns a stored payload into V. A payload the codec refuses reads
// as a miss; Item slots carrying one are healed by the caller.
func (r *Region[V]) decode(payload []byte) (V, bool) {
	v, err := r.codec.Decode(payload)
	if err != nil {
		var zero V
		return zero, false
	}
	return v, true
}

func (r *Region[V]) newItem(payload []byte, version Version) *wire.Item {
	return &wire.Item{Timestamp: r.clock.Next(), Version: uint64(version), Payload: payload}
}

// fenced reports whether a load that began at txTimestamp started before the
// key or the whole region was last evicted. Evictions raise generations to
// a region timestamp, so the stamps double as eviction times; zero means
// never evicted.
func (v view) fenced(txTimestamp int64) bool {
	ts := uint64(max(txTimestamp, 0))
	return (v.gen > 0 && ts <= v.gen) || (v.epoch > 0 && ts <= v.epoch)
}

// getItem is the read path of the modes that never lock.
func (r *Region[V]) getItem(ctx context.Context, key Key) (V, bool, error) {
	var zero V
	if err := r.checkOpen("get", key); err != nil {
		return zero, false, err
	}
	sk := r.storageKey(key)
	v, err := r.load(ctx, "get", sk, false, false)
	if err != nil {
		return zero, false, err
	}
	it := v.item()
	if it == nil {
		return zero, false, nil
	}
	val, ok := r.decode(it.Payload)
	if !ok {
		r.selfHeal(ctx, sk, v.raw, "value_decode")
		return zero, false, nil
	}
	return val, true, nil
}

// putItem writes a loaded value when the slot is absent, or over an Item
// when minimal is false and the load is newer. Lock slots are never
// overwritten, and loads that began before the last eviction are dropped.
func (r *Region[V]) putItem(ctx context.Context, key Key, value V, txTimestamp int64, version Version, minimal bool) (bool, error) {
	const op = "put_from_load"
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
		if reason := v.rejectLoad(txTimestamp, version, minimal); reason != "" {
			r.hooks.LoadRejected(r.name, key.String(), reason)
			return nil
		}
		ok, err := r.storeItem(ctx, op, sk, v, r.newItem(payload, version))
		stored = ok
		return err
	})
	return stored, err
}

// rejectLoad returns why a loaded value may not replace v, or "" when it may.
func (v view) rejectLoad(txTimestamp int64, version Version, minimal bool) string {
	switch {
	case v.fenced(txTimestamp):
		return "stale"
	case v.lock() != nil:
		return "locked"
	case v.item() == nil:
		return ""
	case minimal:
		return "present"
	case !writeable(v.item(), txTimestamp, version):
		return "stale"
	}
	return ""
}

// writeable reports whether a load may replace it: by a strictly newer
// version when both sides are versioned, otherwise by a load that began
// after it was written.
func writeable(it *wire.Item, txTimestamp int64, version Version) bool {
	if version != 0 && it.Version != 0 {
		return uint64(version) > it.Version
	}
	return txTimestamp > it.Timestamp
}

// commit writes a committed value in place of v and returns the message to
// publish once the key lock is released.
func (r *Region[V]) commit(ctx context.Context, op, sk string, v view, key Key, payload []byte, version Version) (bool, *cluster.Message, error) {
	it := r.newItem(payload, version)
	ok, err := r.storeItem(ctx, op, sk, v, it)
	if err != nil {
		return false, nil, err
	}
	return ok, r.changeMessage(key, it), nil
}

// put writes an Item unconditionally and propagates it.
func (r *Region[V]) put(ctx context.Context, op string, key Key, value V, version Version) (bool, error) {
	return r.write(ctx, op, key, value, version, false)
}

// putIfAbsent writes an Item only when the slot is absent and propagates it.
func (r *Region[V]) putIfAbsent(ctx context.Context, op string, key Key, value V, version Version) (bool, error) {
	return r.write(ctx, op, key, value, version, true)
}

func (r *Region[V]) write(ctx context.Context, op string, key Key, value V, version Version, ifAbsent bool) (bool, error) {
	if err := r.checkOpen(op, key); err != nil {
		return false, err
	}
	sk := r.storageKey(key)
	payload, err := r.encode(op, sk, value)
	if err != nil {
		return false, err
	}
	var (
		stored bool
		msg    *cluster.Message
	)
	err = r.transition(ctx, op, sk, func(v view) error {
		stored, msg = false, nil
		if ifAbsent && v.present {
			return nil
		}
		ok, m, err := r.commit(ctx, op, sk, v, key, payload, version)
		stored, msg = ok, m
		return err
	})
	if err != nil || !stored {
		return false, err
	}
	return true, r.publish(ctx, op, msg, false)
}

// evict fences and deletes one key. synchronous forces the invalidation
// past the async queue.
func (r *Region[V]) evict(ctx context.Context, op string, key Key, synchronous bool) error {
	if err := r.checkOpen(op, key); err != nil {
		return err
	}
	sk := r.storageKey(key)
	_, bumpErr := r.gens.Bump(ctx, sk, uint64(r.clock.Next()))
	if bumpErr != nil {
		r.hooks.GenStoreError("bump", bumpErr)
	}
	delErr := r.provider.Del(ctx, sk)
	switch {
	case bumpErr != nil && delErr != nil:
		return &EvictError{Region: r.name, Key: key.String(), BumpErr: bumpErr, DelErr: delErr}
	case bumpErr != nil || delErr != nil:
		// one step is enough to hide the old slot
		r.log.Warn("evict partially failed", Fields{"region": r.name, "key": sk, "bump_err": bumpErr, "del_err": delErr})
	}
	if r.topology == cluster.Local {
		return nil
	}
	return r.publish(ctx, op, &cluster.Message{Kind: cluster.Invalidate, Role: key.Role, ID: key.ID}, synchronous)
}

// clear bumps the region epoch, which fences every slot written before it.
func (r *Region[V]) clear(ctx context.Context, op string, synchronous bool) error {
	if r.closed.Load() {
		return r.failure(op, "", ErrClosed)
	}
	if _, err := r.gens.Bump(ctx, r.epochKey, uint64(r.clock.Next())); err != nil {
		r.hooks.GenStoreError("bump", err)
		return r.failure(op, "", err)
	}
	r.log.Debug("region cleared", Fields{"region": r.name, "op": op})
	return r.publish(ctx, op, &cluster.Message{Kind: cluster.Clear}, synchronous)
}

// changeMessage describes a committed write for the configured topology.
func (r *Region[V]) changeMessage(key Key, it *wire.Item) *cluster.Message {
	switch r.topology {
	case cluster.Invalidation:
		return &cluster.Message{Kind: cluster.Invalidate, Role: key.Role, ID: key.ID}
	case cluster.Replication:
		return &cluster.Message{
			Kind:      cluster.Replicate,
			Role:      key.Role,
			ID:        key.ID,
			Timestamp: it.Timestamp,
			Version:   it.Version,
			Codec:     r.codecID,
			Payload:   it.Payload,
		}
	default:
		return nil
	}
}

func (r *Region[V]) publish(ctx context.Context, op string, m *cluster.Message, synchronous bool) error {
	if m == nil || r.bus == nil || r.topology == cluster.Local {
		return nil
	}
	m.Region = r.name
	m.Origin = r.origin
	p := r.bus
	if r.async != nil && !synchronous {
		p = r.async
	}
	if err := p.Publish(ctx, *m); err != nil {
		r.hooks.PropagationError(r.name, err)
		r.log.Warn("propagation failed", Fields{"region": r.name, "op": op, "kind": m.Kind.String(), "err": err})
		return r.failure(op, m.Role+"#"+m.ID, err)
	}
	return nil
}

// apply handles a change published by another node. Invalidations raise
// the key generation to a local timestamp first, so a load that began here
// before the change arrived cannot cache the old row afterwards.
func (r *Region[V]) apply(ctx context.Context, m cluster.Message) error {
	if r.closed.Load() {
		return nil
	}
	if m.Kind == cluster.Clear {
		if _, err := r.gens.Bump(ctx, r.epochKey, uint64(r.clock.Next())); err != nil {
			r.hooks.GenStoreError("bump", err)
			return r.failure("apply_clear", "", err)
		}
		return nil
	}

	key := Key{Role: m.Role, ID: m.ID}
	op := "apply_" + m.Kind.String()
	sk := r.storageKey(key)
	return r.transition(ctx, op, sk, func(v view) error {
		// a local pessimistic write is in flight: its commit wins, but the
		// value it retained for rollback is now stale
		if l := v.lock(); l != nil {
			if l.Previous == nil {
				return nil
			}
			l.Previous = nil
			_, err := r.storeLock(ctx, op, sk, v, l)
			return err
		}
		if m.Kind == cluster.Replicate && m.Codec == r.codecID {
			_, err := r.storeItem(ctx, op, sk, v, &wire.Item{
				Timestamp: m.Timestamp,
				Version:   m.Version,
				Payload:   m.Payload,
			})
			return err
		}
		if _, err := r.gens.Bump(ctx, sk, uint64(r.clock.Next())); err != nil {
			r.hooks.GenStoreError("bump", err)
			r.log.Warn("invalidation fence failed", Fields{"region": r.name, "key": sk, "err": err})
		}
		return r.deleteSlot(ctx, op, sk, v)
	})
}

// nextLockID returns an id above floor and above every id this region
// handed out before.
func (r *Region[V]) nextLockID(floor int64) int64 {
	for {
		cur := r.lockIDs.Load()
		next := cur + 1
		if next <= floor {
			next = floor + 1
		}
		if r.lockIDs.CompareAndSwap(cur, next) {
			return next
		}
	}
}

func (r *Region[V]) close() { r.closed.Store(true) }
