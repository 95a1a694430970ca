package cluster

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/smallnest/chanx"
)

// AsyncPublisher queues messages on an unbounded channel and publishes them
// from one goroutine, so writers never wait on the transport. Order of
// publication matches order of Publish calls.
type AsyncPublisher struct {
	bus     Bus
	queue   *chanx.UnboundedChan[Message]
	onError func(Message, error)

	wg      sync.WaitGroup
	closed  atomic.Bool
	pending atomic.Int64
	mu      sync.Mutex // guards sends against close of queue.In
}

// NewAsyncPublisher starts the drain goroutine. onError may be nil.
func NewAsyncPublisher(bus Bus, initCapacity int, onError func(Message, error)) *AsyncPublisher {
	if initCapacity <= 0 {
		initCapacity = 64
	}
	p := &AsyncPublisher{
		bus:     bus,
		queue:   chanx.NewUnboundedChan[Message](context.Background(), initCapacity),
		onError: onError,
	}
	p.wg.Add(1)
	go p.loop()
	return p
}

func (p *AsyncPublisher) loop() {
	defer p.wg.Done()
	for m := range p.queue.Out {
		if err := p.bus.Publish(context.Background(), m); err != nil && p.onError != nil {
			p.onError(m, err)
		}
		p.pending.Add(-1)
	}
}

// Publish enqueues m. It never blocks on the transport.
func (p *AsyncPublisher) Publish(_ context.Context, m Message) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed.Load() {
		return ErrClosed
	}
	p.pending.Add(1)
	p.queue.In <- m
	return nil
}

// Pending reports messages accepted but not yet handed to the bus.
func (p *AsyncPublisher) Pending() int64 { return p.pending.Load() }

// Close stops accepting messages and waits until the queue drains or ctx ends.
// The underlying bus is left open.
func (p *AsyncPublisher) Close(ctx context.Context) error {
	p.mu.Lock()
	if p.closed.Swap(true) {
		p.mu.Unlock()
		return nil
	}
	close(p.queue.In)
	p.mu.Unlock()

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
