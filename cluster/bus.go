// Package cluster carries region changes between nodes. A Bus broadcasts
// Messages to every subscribed node, including the sender; receivers skip
// their own origin.
package cluster

import (
	"context"
	"errors"
)

var ErrClosed = errors.New("cluster: bus closed")

// Handler applies one received message. Errors are reported by the bus's
// error callback and never stop delivery.
type Handler func(ctx context.Context, m Message) error

type Bus interface {
	// Publish hands m to the transport. A nil error means the transport
	// accepted it, not that every peer applied it.
	Publish(ctx context.Context, m Message) error
	// Subscribe registers h for every message published on the bus.
	Subscribe(ctx context.Context, h Handler) error
	Close(ctx context.Context) error
}
