// Package asynchook runs regioncache hooks on worker goroutines so slow
// sinks never stall a region. Events are dropped when the queue is full.
//
// usage:
//
//	raw := sloghooks.New(slog.Default(), sloghooks.Options{SelfHealEvery: 10})
//	hooks := asynchook.New(raw, 1, 1000) // 1 worker; queue 1000 events
//	defer hooks.Close()
//
//	f, _ := regioncache.NewFactory(ctx, regioncache.Options{
//	    Provider: provider,
//	    Hooks:    hooks, // or `raw` if you don't want async
//	})
package asynchook

import (
	"sync"
	"sync/atomic"

	"github.com/unkn0wn-root/regioncache"
)

type Hooks struct {
	inner   regioncache.Hooks
	q       chan func()
	wg      sync.WaitGroup
	once    sync.Once
	mu      sync.RWMutex // guards sends against close of q
	closed  bool
	dropped atomic.Uint64
}

var _ regioncache.Hooks = (*Hooks)(nil)

func New(inner regioncache.Hooks, workers, qlen int) *Hooks {
	if workers <= 0 {
		workers = 1
	}
	if qlen <= 0 {
		qlen = 1024
	}

	h := &Hooks{inner: inner, q: make(chan func(), qlen)}
	h.wg.Add(workers)
	for i := 0; i < workers; i++ {
		go func() {
			defer h.wg.Done()
			for f := range h.q {
				f()
			}
		}()
	}
	return h
}

// Close runs the queued events and stops the workers. Later events are dropped.
func (h *Hooks) Close() {
	h.once.Do(func() {
		h.mu.Lock()
		h.closed = true
		close(h.q)
		h.mu.Unlock()
		h.wg.Wait()
	})
}

// Dropped counts events lost to a full queue or a closed hook.
func (h *Hooks) Dropped() uint64 { return h.dropped.Load() }

func (h *Hooks) try(f func()) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if h.closed {
		h.dropped.Add(1)
		return
	}
	select {
	case h.q <- f:
	default: // drop
		h.dropped.Add(1)
	}
}

func (h *Hooks) SelfHeal(k, r string)               { h.try(func() { h.inner.SelfHeal(k, r) }) }
func (h *Hooks) GenStoreError(op string, err error) { h.try(func() { h.inner.GenStoreError(op, err) }) }
func (h *Hooks) ReadOnlyViolation(region, op string) {
	h.try(func() { h.inner.ReadOnlyViolation(region, op) })
}
func (h *Hooks) StaleUnlock(region, key string, id int64) {
	h.try(func() { h.inner.StaleUnlock(region, key, id) })
}
func (h *Hooks) LockContended(region, key string, n int) {
	h.try(func() { h.inner.LockContended(region, key, n) })
}
func (h *Hooks) LoadRejected(region, key, reason string) {
	h.try(func() { h.inner.LoadRejected(region, key, reason) })
}
func (h *Hooks) ProviderSetRejected(k string, isLock bool) {
	h.try(func() { h.inner.ProviderSetRejected(k, isLock) })
}
func (h *Hooks) PropagationError(region string, err error) {
	h.try(func() { h.inner.PropagationError(region, err) })
}
