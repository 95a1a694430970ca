package regioncache

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/unkn0wn-root/regioncache/cluster"
	c "github.com/unkn0wn-root/regioncache/codec"
	"github.com/unkn0wn-root/regioncache/provider/memory"
)

func TestNewFactoryValidation(t *testing.T) {
	ctx := context.Background()
	var ce *ConfigError

	if _, err := NewFactory(ctx, Options{}); !errors.As(err, &ce) || ce.Field != "Provider" {
		t.Fatalf("missing provider: %v", err)
	}

	settings := DefaultSettings()
	settings.Topology = cluster.Invalidation
	if _, err := NewFactory(ctx, Options{Provider: memory.New(), Settings: &settings}); !errors.As(err, &ce) || ce.Field != "Bus" {
		t.Fatalf("clustered topology without bus: %v", err)
	}

	bad := DefaultSettings()
	bad.LockTimeout = 0
	if _, err := NewFactory(ctx, Options{Provider: memory.New(), Settings: &bad}); err == nil {
		t.Fatalf("expected invalid settings to be rejected")
	}
}

func TestBuildAccessStrategyUsesRegionSettings(t *testing.T) {
	ctx := context.Background()
	off := false
	f := newTestFactory(t, nil, func(o *Options) {
		o.Settings.Regions = map[string]RegionSettings{
			"countries": {AccessType: ReadOnly, MinimalPuts: &off},
		}
	})

	s, err := BuildAccessStrategy[string](f, Descriptor{Region: "countries"}, c.String{})
	if err != nil {
		t.Fatalf("BuildAccessStrategy: %v", err)
	}
	if s.AccessType() != ReadOnly || s.Region().AccessType() != ReadOnly {
		t.Fatalf("expected configured read-only access, got %s", s.AccessType())
	}
	k := Key{Role: "country", ID: "PL"}
	r := s.Region()
	if ok, _ := s.PutFromLoad(ctx, k, "a", r.NextTimestamp(), 0); !ok {
		t.Fatalf("first load failed")
	}
	if ok, _ := s.PutFromLoad(ctx, k, "b", r.NextTimestamp(), 0); !ok {
		t.Fatalf("minimal puts are disabled for this region")
	}

	d, err := BuildAccessStrategy[string](f, Descriptor{Region: "users"}, c.String{})
	if err != nil || d.AccessType() != ReadWrite {
		t.Fatalf("default access: %v %v", d, err)
	}
	if got := f.Regions(); len(got) != 2 || got[0] != "countries" || got[1] != "users" {
		t.Fatalf("Regions: %v", got)
	}
}

func TestBuildAccessStrategyErrors(t *testing.T) {
	f := newTestFactory(t, nil, nil)
	var ce *ConfigError

	if _, err := BuildAccessStrategy[string](f, Descriptor{Region: "a:b"}, c.String{}); !errors.As(err, &ce) {
		t.Fatalf("region with ':' must be rejected: %v", err)
	}
	if _, err := BuildAccessStrategy[string](f, Descriptor{Region: ""}, c.String{}); !errors.As(err, &ce) {
		t.Fatalf("empty region must be rejected: %v", err)
	}
	if _, err := BuildAccessStrategy[string](f, Descriptor{Region: "users", AccessType: 9}, c.String{}); !errors.As(err, &ce) {
		t.Fatalf("unknown access type must be rejected: %v", err)
	}
	if _, err := BuildAccessStrategy[string](f, Descriptor{Region: "users"}, nil); !errors.As(err, &ce) {
		t.Fatalf("nil codec must be rejected: %v", err)
	}

	mustBuild[string](t, f, "users", ReadWrite, c.String{})
	if _, err := BuildAccessStrategy[user](f, Descriptor{Region: "users"}, c.JSON[user]{}); !errors.As(err, &ce) {
		t.Fatalf("value type mismatch must be rejected: %v", err)
	}

	if err := f.Close(context.Background()); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if _, err := BuildAccessStrategy[string](f, Descriptor{Region: "orders"}, c.String{}); !errors.Is(err, ErrClosed) {
		t.Fatalf("build after close: %v", err)
	}
}

type node struct {
	f  *Factory
	mp *memory.Provider
}

func newNode(t *testing.T, net *cluster.MemoryNetwork, id string, topology cluster.Topology, mutate func(*Options)) node {
	t.Helper()
	mp := memory.New()
	f := newTestFactory(t, mp, func(o *Options) {
		o.NodeID = id
		o.Bus = net.Join()
		o.Settings.Topology = topology
		if mutate != nil {
			mutate(o)
		}
	})
	return node{f: f, mp: mp}
}

func TestInvalidationDropsPeerCopies(t *testing.T) {
	ctx := context.Background()
	net := cluster.NewMemoryNetwork()
	a := newNode(t, net, "a", cluster.Invalidation, nil)
	b := newNode(t, net, "b", cluster.Invalidation, nil)
	sa := mustBuild[string](t, a.f, "users", ReadWrite, c.String{})
	sb := mustBuild[string](t, b.f, "users", ReadWrite, c.String{})

	for _, s := range []AccessStrategy[string]{sa, sb} {
		if ok, _ := s.PutFromLoad(ctx, userKey, "V1", s.Region().NextTimestamp(), 1); !ok {
			t.Fatalf("seed failed")
		}
	}
	l := mustLock(t, sa, userKey)
	if ok, err := sa.AfterUpdate(ctx, userKey, "V2", 2, 1, l); err != nil || !ok {
		t.Fatalf("AfterUpdate: ok=%v err=%v", ok, err)
	}
	mustGet(t, sa, userKey, sa.Region().NextTimestamp(), "V2")
	mustMiss(t, sb, userKey, sb.Region().NextTimestamp())
	if b.mp.Len() != 0 {
		t.Fatalf("peer slot not deleted: %v", b.mp.Keys())
	}
}

func TestReplicationCopiesCommittedValue(t *testing.T) {
	ctx := context.Background()
	net := cluster.NewMemoryNetwork()
	a := newNode(t, net, "a", cluster.Replication, nil)
	b := newNode(t, net, "b", cluster.Replication, nil)
	sa := mustBuild[user](t, a.f, "users", ReadWrite, c.JSON[user]{})
	sb := mustBuild[user](t, b.f, "users", ReadWrite, c.JSON[user]{})

	want := user{ID: "1", Name: "Ada"}
	if ok, err := sa.AfterInsert(ctx, userKey, want, 1); err != nil || !ok {
		t.Fatalf("AfterInsert: ok=%v err=%v", ok, err)
	}
	mustGet(t, sb, userKey, sb.Region().NextTimestamp(), want)

	// loads never propagate
	other := Key{Role: "user", ID: "2"}
	if ok, _ := sa.PutFromLoad(ctx, other, user{ID: "2"}, sa.Region().NextTimestamp(), 1); !ok {
		t.Fatalf("PutFromLoad failed")
	}
	mustMiss(t, sb, other, sb.Region().NextTimestamp())
}

func TestReplicationOntoLockedPeerDropsRetainedValue(t *testing.T) {
	ctx := context.Background()
	net := cluster.NewMemoryNetwork()
	a := newNode(t, net, "a", cluster.Replication, nil)
	b := newNode(t, net, "b", cluster.Replication, nil)
	sa := mustBuild[string](t, a.f, "users", ReadWrite, c.String{})
	sb := mustBuild[string](t, b.f, "users", ReadWrite, c.String{})
	rb := sb.Region()

	if ok, _ := sb.PutFromLoad(ctx, userKey, "V1", rb.NextTimestamp(), 1); !ok {
		t.Fatalf("seed failed")
	}
	early := rb.NextTimestamp()
	lb := mustLock(t, sb, userKey)
	mustGet(t, sb, userKey, early, "V1")

	if ok, _ := sa.AfterInsert(ctx, userKey, "V2", 2); !ok {
		t.Fatalf("AfterInsert on A failed")
	}
	// B's pending write still owns the key, but V1 is gone
	mustMiss(t, sb, userKey, early)
	sb.UnlockItem(ctx, userKey, lb)
	mustMiss(t, sb, userKey, rb.NextTimestamp())
}

func TestEvictAndEvictAllReachPeers(t *testing.T) {
	ctx := context.Background()
	net := cluster.NewMemoryNetwork()
	a := newNode(t, net, "a", cluster.Invalidation, nil)
	b := newNode(t, net, "b", cluster.Invalidation, nil)
	sa := mustBuild[string](t, a.f, "users", ReadWrite, c.String{})
	sb := mustBuild[string](t, b.f, "users", ReadWrite, c.String{})
	k2 := Key{Role: "user", ID: "2"}

	for _, k := range []Key{userKey, k2} {
		if ok, _ := sb.PutFromLoad(ctx, k, "V", sb.Region().NextTimestamp(), 1); !ok {
			t.Fatalf("seed failed")
		}
	}
	if err := sa.Evict(ctx, userKey); err != nil {
		t.Fatalf("Evict: %v", err)
	}
	mustMiss(t, sb, userKey, sb.Region().NextTimestamp())
	mustGet(t, sb, k2, sb.Region().NextTimestamp(), "V")

	if err := sa.EvictAll(ctx); err != nil {
		t.Fatalf("EvictAll: %v", err)
	}
	mustMiss(t, sb, k2, sb.Region().NextTimestamp())
}

// Nonstrict writes across two nodes never bring back a value once a newer
// one was observed.
func TestNonstrictTwoNodesNoResurrection(t *testing.T) {
	ctx := context.Background()
	net := cluster.NewMemoryNetwork()
	a := newNode(t, net, "a", cluster.Invalidation, nil)
	b := newNode(t, net, "b", cluster.Invalidation, nil)
	sa := mustBuild[string](t, a.f, "users", NonstrictReadWrite, c.String{})
	sb := mustBuild[string](t, b.f, "users", NonstrictReadWrite, c.String{})

	for _, s := range []AccessStrategy[string]{sa, sb} {
		if ok, _ := s.PutFromLoad(ctx, userKey, "V1", s.Region().NextTimestamp(), 1); !ok {
			t.Fatalf("seed failed")
		}
	}
	if _, err := sa.Update(ctx, userKey, "V2", 2, 1); err != nil {
		t.Fatalf("Update: %v", err)
	}
	mustMiss(t, sa, userKey, sa.Region().NextTimestamp())
	mustMiss(t, sb, userKey, sb.Region().NextTimestamp())

	if _, err := sa.AfterUpdate(ctx, userKey, "V2", 2, 1, nil); err != nil {
		t.Fatalf("AfterUpdate: %v", err)
	}
	if ok, _ := sa.PutFromLoad(ctx, userKey, "V2", sa.Region().NextTimestamp(), 2); !ok {
		t.Fatalf("reload on A failed")
	}
	mustGet(t, sa, userKey, sa.Region().NextTimestamp(), "V2")
	for _, s := range []AccessStrategy[string]{sa, sb} {
		if v, ok, _ := s.Get(ctx, userKey, s.Region().NextTimestamp()); ok && v == "V1" {
			t.Fatalf("V1 resurrected on %s", s.Region().Name())
		}
	}
}

func TestPeerIgnoresUnknownRegions(t *testing.T) {
	ctx := context.Background()
	net := cluster.NewMemoryNetwork()
	a := newNode(t, net, "a", cluster.Replication, nil)
	newNode(t, net, "b", cluster.Replication, nil)
	sa := mustBuild[string](t, a.f, "orders", ReadWrite, c.String{})
	if ok, err := sa.AfterInsert(ctx, userKey, "V1", 1); err != nil || !ok {
		t.Fatalf("AfterInsert: ok=%v err=%v", ok, err)
	}
}

func TestAsyncPropagationEventuallyReachesPeers(t *testing.T) {
	ctx := context.Background()
	net := cluster.NewMemoryNetwork()
	async := func(o *Options) { o.Settings.AsyncPropagation = true }
	a := newNode(t, net, "a", cluster.Replication, async)
	b := newNode(t, net, "b", cluster.Replication, async)
	sa := mustBuild[string](t, a.f, "users", Transactional, c.String{})
	sb := mustBuild[string](t, b.f, "users", Transactional, c.String{})

	if ok, err := sa.Insert(ctx, userKey, "V1", 1); err != nil || !ok {
		t.Fatalf("Insert: ok=%v err=%v", ok, err)
	}
	deadline := time.Now().Add(2 * time.Second)
	for {
		if v, ok, _ := sb.Get(ctx, userKey, sb.Region().NextTimestamp()); ok && v == "V1" {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("replicated value never arrived")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

type failingBus struct {
	cluster.Bus
	err error
}

func (b *failingBus) Publish(context.Context, cluster.Message) error { return b.err }

func TestPublishFailureAfterLocalCommit(t *testing.T) {
	ctx := context.Background()
	boom := errors.New("transport down")
	hooks := &recHooks{}
	net := cluster.NewMemoryNetwork()
	f := newTestFactory(t, nil, func(o *Options) {
		o.Hooks = hooks
		o.Bus = &failingBus{Bus: net.Join(), err: boom}
		o.Settings.Topology = cluster.Invalidation
	})
	s := mustBuild[string](t, f, "users", ReadWrite, c.String{})

	ok, err := s.AfterInsert(ctx, userKey, "V1", 1)
	if !ok || !errors.Is(err, boom) || !errors.Is(err, ErrCache) {
		t.Fatalf("expected local write plus propagation error, ok=%v err=%v", ok, err)
	}
	mustGet(t, s, userKey, s.Region().NextTimestamp(), "V1")
	if hooks.count("propagation:users") != 1 {
		t.Fatalf("expected propagation hook, got %v", hooks.events)
	}
}

func TestLocalTopologyNeverPublishes(t *testing.T) {
	ctx := context.Background()
	boom := errors.New("must not publish")
	net := cluster.NewMemoryNetwork()
	f := newTestFactory(t, nil, func(o *Options) {
		o.Bus = &failingBus{Bus: net.Join(), err: boom}
	})
	s := mustBuild[string](t, f, "users", ReadWrite, c.String{})
	if _, err := s.AfterInsert(ctx, userKey, "V1", 1); err != nil {
		t.Fatalf("AfterInsert: %v", err)
	}
	if err := s.EvictAll(ctx); err != nil {
		t.Fatalf("EvictAll: %v", err)
	}
}

func TestFactoryCloseClosesProvider(t *testing.T) {
	ctx := context.Background()
	mp := memory.New()
	f := newTestFactory(t, mp, nil)
	s := mustBuild[string](t, f, "users", ReadWrite, c.String{})
	if ok, _ := s.PutFromLoad(ctx, userKey, "V1", s.Region().NextTimestamp(), 1); !ok {
		t.Fatalf("seed failed")
	}
	if err := f.Close(ctx); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if mp.Len() != 0 {
		t.Fatalf("provider was not closed")
	}
	if err := f.Close(ctx); err != nil {
		t.Fatalf("second Close: %v", err)
	}
}

func TestRegionAccessTypeIsConfiguredDefault(t *testing.T) {
	f := newTestFactory(t, nil, nil)
	tx := mustBuild[string](t, f, "users", Transactional, c.String{})
	d, err := BuildAccessStrategy[string](f, Descriptor{Region: "users"}, c.String{})
	if err != nil {
		t.Fatalf("BuildAccessStrategy: %v", err)
	}
	if tx.Region() != d.Region() {
		t.Fatalf("strategies for one region must share it")
	}
	if d.AccessType() != ReadWrite {
		t.Fatalf("default strategy: got %s", d.AccessType())
	}
	// the override belongs to the strategy, not to the shared region
	if got := tx.Region().AccessType(); got != ReadWrite {
		t.Fatalf("region access type: got %s want the configured default", got)
	}
}
