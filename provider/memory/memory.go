// Package memory is a process-local provider backed by a concurrent xsync map.
// It is the default store for single-node regions and for tests.
package memory

import (
	"context"
	"time"

	"github.com/puzpuzpuz/xsync/v3"

	pr "github.com/unkn0wn-root/regioncache/provider"
)

type entry struct {
	v   []byte
	exp time.Time // zero => no TTL
}

type Provider struct {
	m   *xsync.MapOf[string, entry]
	now func() time.Time
}

var _ pr.Provider = (*Provider)(nil)

func New() *Provider {
	return &Provider{m: xsync.NewMapOf[string, entry](), now: time.Now}
}

func (p *Provider) Get(_ context.Context, key string) ([]byte, bool, error) {
	e, ok := p.m.Load(key)
	if !ok {
		return nil, false, nil
	}
	if !e.exp.IsZero() && p.now().After(e.exp) {
		// only drop the exact entry we saw expire
		p.m.Compute(key, func(cur entry, loaded bool) (entry, bool) {
			return cur, !loaded || cur.exp.Equal(e.exp)
		})
		return nil, false, nil
	}
	return e.v, true, nil
}

func (p *Provider) expiry(ttl time.Duration) time.Time {
	if ttl <= 0 {
		return time.Time{}
	}
	return p.now().Add(ttl)
}

func (p *Provider) Set(_ context.Context, key string, value []byte, _ int64, ttl time.Duration) (bool, error) {
	p.m.Store(key, entry{v: value, exp: p.expiry(ttl)})
	return true, nil
}

// CompareAndSwap runs under the map's bucket lock, so it is atomic for every
// caller sharing this Provider. Expired entries count as absent.
func (p *Provider) CompareAndSwap(_ context.Context, key string, old, next []byte, _ int64, ttl time.Duration) (bool, error) {
	now := p.now()
	swapped := false
	p.m.Compute(key, func(cur entry, loaded bool) (entry, bool) {
		live := loaded && (cur.exp.IsZero() || !now.After(cur.exp))
		if !pr.Matches(cur.v, live, old) {
			return cur, !loaded
		}
		swapped = true
		if next == nil {
			return entry{}, true
		}
		return entry{v: next, exp: p.expiry(ttl)}, false
	})
	if !swapped {
		return false, pr.ErrConflict
	}
	return true, nil
}

func (p *Provider) Del(_ context.Context, key string) error {
	p.m.Delete(key)
	return nil
}

// Len reports stored entries, expired ones included until they are read.
func (p *Provider) Len() int { return p.m.Size() }

// Keys lists stored keys. Order is unspecified.
func (p *Provider) Keys() []string {
	out := make([]string, 0, p.m.Size())
	p.m.Range(func(k string, _ entry) bool {
		out = append(out, k)
		return true
	})
	return out
}

func (p *Provider) Close(_ context.Context) error {
	p.m.Clear()
	return nil
}
