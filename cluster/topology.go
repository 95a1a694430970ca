package cluster

import "fmt"

// Topology decides what a committed write tells the other nodes.
type Topology uint8

const (
	// Local keeps every write on this node.
	Local Topology = iota
	// Invalidation makes peers drop their copy of a written key.
	Invalidation
	// Replication ships the new value to peers.
	Replication
)

func (t Topology) String() string {
	switch t {
	case Local:
		return "local"
	case Invalidation:
		return "invalidation"
	case Replication:
		return "replication"
	default:
		return fmt.Sprintf("topology(%d)", uint8(t))
	}
}

func ParseTopology(s string) (Topology, error) {
	switch s {
	case "", "local":
		return Local, nil
	case "invalidation":
		return Invalidation, nil
	case "replication":
		return Replication, nil
	default:
		return Local, fmt.Errorf("cluster: unknown topology %q", s)
	}
}

func (t Topology) MarshalText() ([]byte, error) { return []byte(t.String()), nil }

func (t *Topology) UnmarshalText(b []byte) error {
	v, err := ParseTopology(string(b))
	if err != nil {
		return err
	}
	*t = v
	return nil
}
