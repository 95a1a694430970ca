package sturdyc

import (
	"context"
	"time"

	"github.com/viccon/sturdyc"

	pr "github.com/unkn0wn-root/regioncache/provider"
)

// Config holds the sturdyc parameters. sturdyc applies a single TTL to every
// entry, so per-slot TTLs passed to Set are ignored.
type Config struct {
	// Capacity is the maximum number of slots. Must be greater than 0.
	Capacity int

	// NumShards spreads slots over independently locked shards. Must be greater than 0.
	NumShards int

	// TTL applies to every slot. Must be greater than 0.
	TTL time.Duration

	// EvictionPercentage is the share of a full shard evicted at once (1-100).
	EvictionPercentage int

	// EvictionInterval sets how often expired slots are swept. Zero keeps sturdyc's default.
	EvictionInterval time.Duration
}

func DefaultConfig() Config {
	return Config{
		Capacity:           10000,
		NumShards:          256,
		TTL:                10 * time.Minute,
		EvictionPercentage: 10,
	}
}

func (c Config) Validate() error {
	if c.Capacity <= 0 {
		return &ConfigError{Field: "Capacity", Message: "must be greater than 0"}
	}
	if c.NumShards <= 0 {
		return &ConfigError{Field: "NumShards", Message: "must be greater than 0"}
	}
	if c.TTL <= 0 {
		return &ConfigError{Field: "TTL", Message: "must be greater than 0"}
	}
	if c.EvictionPercentage < 1 || c.EvictionPercentage > 100 {
		return &ConfigError{Field: "EvictionPercentage", Message: "must be between 1 and 100"}
	}
	if c.EvictionInterval < 0 {
		return &ConfigError{Field: "EvictionInterval", Message: "must be non-negative"}
	}
	return nil
}

type ConfigError struct {
	Field   string
	Message string
}

func (e *ConfigError) Error() string {
	return "sturdyc provider: config error in field " + e.Field + ": " + e.Message
}

type Provider struct {
	c     *sturdyc.Client[[]byte]
	guard *pr.Guard
}

var _ pr.Provider = (*Provider)(nil)

func New(cfg Config) (*Provider, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	var opts []sturdyc.Option
	if cfg.EvictionInterval > 0 {
		opts = append(opts, sturdyc.WithEvictionInterval(cfg.EvictionInterval))
	}
	c := sturdyc.New[[]byte](cfg.Capacity, cfg.NumShards, cfg.TTL, cfg.EvictionPercentage, opts...)
	return &Provider{c: c, guard: pr.NewGuard()}, nil
}

func (p *Provider) Get(_ context.Context, key string) ([]byte, bool, error) {
	b, ok := p.c.Get(key)
	if !ok {
		return nil, false, nil
	}
	return b, true, nil
}

func (p *Provider) Set(_ context.Context, key string, value []byte, _ int64, _ time.Duration) (bool, error) {
	p.c.Set(key, value)
	return true, nil
}

// CompareAndSwap is atomic within this process only.
func (p *Provider) CompareAndSwap(ctx context.Context, key string, old, next []byte, cost int64, ttl time.Duration) (bool, error) {
	return p.guard.CompareAndSwap(ctx, p, key, old, next, cost, ttl)
}

func (p *Provider) Del(_ context.Context, key string) error {
	p.c.Delete(key)
	return nil
}

// Len reports the number of stored slots.
func (p *Provider) Len() int { return p.c.Size() }

func (p *Provider) Close(_ context.Context) error {
	for _, k := range p.c.ScanKeys() {
		p.c.Delete(k)
	}
	return nil
}
