// Package redis carries region changes over Redis pub/sub. Every node
// subscribes to the same channel; delivery is at-most-once, so a node that
// was disconnected keeps stale slots until they expire or are evicted.
package redis

import (
	"context"
	"errors"
	"sync"

	goredis "github.com/redis/go-redis/v9"

	"github.com/unkn0wn-root/regioncache/cluster"
)

var ErrNilClient = errors.New("redis bus: nil client")

type Config struct {
	Client  goredis.UniversalClient
	Channel string // default "regioncache"
	// OnError receives decode and handler failures. Nil drops them.
	OnError func(error)
}

type Bus struct {
	rdb     goredis.UniversalClient
	channel string
	onError func(error)

	mu     sync.Mutex
	subs   []*goredis.PubSub
	wg     sync.WaitGroup
	closed bool
}

var _ cluster.Bus = (*Bus)(nil)

func New(cfg Config) (*Bus, error) {
	if cfg.Client == nil {
		return nil, ErrNilClient
	}
	if cfg.Channel == "" {
		cfg.Channel = "regioncache"
	}
	return &Bus{rdb: cfg.Client, channel: cfg.Channel, onError: cfg.OnError}, nil
}

func (b *Bus) report(err error) {
	if b.onError != nil {
		b.onError(err)
	}
}

func (b *Bus) Publish(ctx context.Context, m cluster.Message) error {
	b.mu.Lock()
	closed := b.closed
	b.mu.Unlock()
	if closed {
		return cluster.ErrClosed
	}
	raw, err := cluster.Marshal(m)
	if err != nil {
		return err
	}
	return b.rdb.Publish(ctx, b.channel, raw).Err()
}

// Subscribe returns once Redis has confirmed the subscription, so messages
// published afterwards reach h.
func (b *Bus) Subscribe(ctx context.Context, h cluster.Handler) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return cluster.ErrClosed
	}
	ps := b.rdb.Subscribe(ctx, b.channel)
	if _, err := ps.Receive(ctx); err != nil {
		_ = ps.Close()
		return err
	}
	b.subs = append(b.subs, ps)
	ch := ps.Channel()

	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		for msg := range ch {
			m, err := cluster.Unmarshal([]byte(msg.Payload))
			if err != nil {
				b.report(err)
				continue
			}
			if err := h(context.Background(), m); err != nil {
				b.report(err)
			}
		}
	}()
	return nil
}

// Close unsubscribes and waits for in-flight handlers. The client is not closed.
func (b *Bus) Close(context.Context) error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	subs := b.subs
	b.subs = nil
	b.mu.Unlock()

	var errs []error
	for _, ps := range subs {
		if err := ps.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	b.wg.Wait()
	return errors.Join(errs...)
}
