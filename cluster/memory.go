package cluster

import (
	"context"
	"sync"
)

// MemoryNetwork connects in-process buses. Publish delivers synchronously to
// every joined bus before returning, so tests observe peers immediately.
type MemoryNetwork struct {
	mu    sync.RWMutex
	buses []*MemoryBus
}

func NewMemoryNetwork() *MemoryNetwork { return &MemoryNetwork{} }

// Join attaches a new bus to the network.
func (n *MemoryNetwork) Join() *MemoryBus {
	b := &MemoryBus{net: n}
	n.mu.Lock()
	n.buses = append(n.buses, b)
	n.mu.Unlock()
	return b
}

func (n *MemoryNetwork) leave(b *MemoryBus) {
	n.mu.Lock()
	defer n.mu.Unlock()
	for i, x := range n.buses {
		if x == b {
			n.buses = append(n.buses[:i], n.buses[i+1:]...)
			return
		}
	}
}

type MemoryBus struct {
	net *MemoryNetwork

	mu       sync.RWMutex
	handlers []Handler
	closed   bool
	// OnError receives handler failures. Nil drops them.
	OnError func(error)
}

var _ Bus = (*MemoryBus)(nil)

func (b *MemoryBus) Publish(ctx context.Context, m Message) error {
	b.mu.RLock()
	closed := b.closed
	b.mu.RUnlock()
	if closed {
		return ErrClosed
	}
	// round-trip through the wire encoding so peers never share buffers
	raw, err := Marshal(m)
	if err != nil {
		return err
	}
	b.net.mu.RLock()
	peers := append([]*MemoryBus(nil), b.net.buses...)
	b.net.mu.RUnlock()
	for _, p := range peers {
		msg, err := Unmarshal(raw)
		if err != nil {
			return err
		}
		p.deliver(ctx, msg)
	}
	return nil
}

func (b *MemoryBus) deliver(ctx context.Context, m Message) {
	b.mu.RLock()
	hs := b.handlers
	onErr := b.OnError
	b.mu.RUnlock()
	for _, h := range hs {
		if err := h(ctx, m); err != nil && onErr != nil {
			onErr(err)
		}
	}
}

func (b *MemoryBus) Subscribe(_ context.Context, h Handler) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return ErrClosed
	}
	b.handlers = append(b.handlers, h)
	return nil
}

func (b *MemoryBus) Close(context.Context) error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	b.handlers = nil
	b.mu.Unlock()
	b.net.leave(b)
	return nil
}
