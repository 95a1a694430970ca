package ristretto

import (
	"context"
	"errors"
	"time"

	rc "github.com/dgraph-io/ristretto"

	pr "github.com/unkn0wn-root/regioncache/provider"
)

// Provider keeps slots in a process-local ristretto cache. Admission is
// probabilistic: Set may return ok=false, and an accepted Set becomes visible
// only after ristretto drains its buffers (see Wait).
type Provider struct {
	c     *rc.Cache
	guard *pr.Guard
}

var _ pr.Provider = (*Provider)(nil)

type Config struct {
	NumCounters int64
	MaxCost     int64
	BufferItems int64
	Metrics     bool
}

func DefaultConfig() Config {
	return Config{NumCounters: 1e6, MaxCost: 1 << 27, BufferItems: 64}
}

func New(cfg Config) (*Provider, error) {
	if cfg.NumCounters <= 0 || cfg.MaxCost <= 0 || cfg.BufferItems <= 0 {
		return nil, errors.New("ristretto: invalid config")
	}
	c, err := rc.NewCache(&rc.Config{
		NumCounters: cfg.NumCounters,
		MaxCost:     cfg.MaxCost,
		BufferItems: cfg.BufferItems,
		Metrics:     cfg.Metrics,
	})
	if err != nil {
		return nil, err
	}
	return &Provider{c: c, guard: pr.NewGuard()}, nil
}

func (p *Provider) Get(_ context.Context, key string) ([]byte, bool, error) {
	v, ok := p.c.Get(key)
	if !ok {
		return nil, false, nil
	}
	b, _ := v.([]byte)
	if b == nil {
		p.c.Del(key)
		return nil, false, nil
	}
	return b, true, nil
}

func (p *Provider) Set(_ context.Context, key string, value []byte, cost int64, ttl time.Duration) (bool, error) {
	if ttl < 0 {
		ttl = 0
	}
	return p.c.SetWithTTL(key, value, cost, ttl), nil
}

// CompareAndSwap is atomic within this process only.
func (p *Provider) CompareAndSwap(ctx context.Context, key string, old, next []byte, cost int64, ttl time.Duration) (bool, error) {
	return p.guard.CompareAndSwap(ctx, visible{p}, key, old, next, cost, ttl)
}

// visible drains ristretto's buffers after each Set so the next swap on the
// key reads what this one wrote.
type visible struct{ *Provider }

func (v visible) Set(ctx context.Context, key string, value []byte, cost int64, ttl time.Duration) (bool, error) {
	ok, err := v.Provider.Set(ctx, key, value, cost, ttl)
	v.c.Wait()
	return ok, err
}

func (p *Provider) Del(_ context.Context, key string) error {
	p.c.Del(key)
	return nil
}

// Wait blocks until buffered writes are applied.
func (p *Provider) Wait() { p.c.Wait() }

func (p *Provider) Close(_ context.Context) error {
	p.c.Wait()
	p.c.Close()
	return nil
}

// Metrics exposes ristretto's counters when Config.Metrics is set.
func (p *Provider) Metrics() *rc.Metrics { return p.c.Metrics }
