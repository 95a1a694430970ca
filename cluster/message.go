package cluster

import (
	"errors"
	"fmt"

	"github.com/vmihailenco/msgpack/v5"
)

type Kind uint8

const (
	// Invalidate asks peers to drop one key.
	Invalidate Kind = iota + 1
	// Replicate carries a committed value for one key.
	Replicate
	// Clear asks peers to drop a whole region.
	Clear
)

func (k Kind) String() string {
	switch k {
	case Invalidate:
		return "invalidate"
	case Replicate:
		return "replicate"
	case Clear:
		return "clear"
	default:
		return fmt.Sprintf("kind(%d)", uint8(k))
	}
}

// Message is what one node tells the others about a region change.
// Payload is the codec encoding of the value and is set only for Replicate.
type Message struct {
	Region    string `msgpack:"r"`
	Origin    string `msgpack:"o"`
	Kind      Kind   `msgpack:"k"`
	Role      string `msgpack:"kr,omitempty"`
	ID        string `msgpack:"ki,omitempty"`
	Timestamp int64  `msgpack:"ts,omitempty"`
	Version   uint64 `msgpack:"v,omitempty"`
	Codec     byte   `msgpack:"c,omitempty"`
	Payload   []byte `msgpack:"p,omitempty"`
}

var ErrInvalidMessage = errors.New("cluster: invalid message")

func (m Message) Validate() error {
	if m.Region == "" || m.Origin == "" {
		return ErrInvalidMessage
	}
	switch m.Kind {
	case Invalidate, Replicate:
	case Clear:
		return nil
	default:
		return fmt.Errorf("%w: unknown kind %d", ErrInvalidMessage, m.Kind)
	}
	if m.Role == "" {
		return fmt.Errorf("%w: %s without key", ErrInvalidMessage, m.Kind)
	}
	return nil
}

func Marshal(m Message) ([]byte, error) {
	if err := m.Validate(); err != nil {
		return nil, err
	}
	return msgpack.Marshal(&m)
}

func Unmarshal(b []byte) (Message, error) {
	var m Message
	if err := msgpack.Unmarshal(b, &m); err != nil {
		return Message{}, fmt.Errorf("cluster: decode message: %w", err)
	}
	if err := m.Validate(); err != nil {
		return Message{}, err
	}
	return m, nil
}
