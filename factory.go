package regioncache

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/puzpuzpuz/xsync/v3"

	"github.com/unkn0wn-root/regioncache/cluster"
	c "github.com/unkn0wn-root/regioncache/codec"
	gen "github.com/unkn0wn-root/regioncache/genstore"
	"github.com/unkn0wn-root/regioncache/internal/keylock"
	pr "github.com/unkn0wn-root/regioncache/provider"
)

const (
	defaultGenRetention = 30 * 24 * time.Hour
	defaultSweep        = time.Hour
)

type Options struct {
	// NodeID names this node on the bus. Defaults to a random UUID.
	NodeID string

	Provider pr.Provider // required

	// GenStore holds key generations and region epochs. Share a Redis store
	// between nodes to make evictions fence every node's slots.
	// default: in-process store with hourly cleanup
	GenStore gen.GenStore

	// Bus carries changes to other nodes. Required unless the topology is local.
	Bus cluster.Bus

	// Settings default to DefaultSettings().
	Settings *Settings

	Logger Logger
	Hooks  Hooks
}

// regionHandle is the part of a Region the factory needs without knowing V.
type regionHandle interface {
	Name() string
	AccessType() AccessType
	apply(ctx context.Context, m cluster.Message) error
	close()
}

// Factory builds regions over one provider and one bus, and routes messages
// received from other nodes to them. Each region name maps to exactly one
// Region; strategies for the same region share it.
type Factory struct {
	source   uuid.UUID
	origin   string
	settings Settings
	provider pr.Provider
	gens     gen.GenStore
	bus      cluster.Bus
	async    *cluster.AsyncPublisher
	locks    *keylock.Striped
	log      Logger
	hooks    Hooks

	regions *xsync.MapOf[string, regionHandle]
	mu      sync.Mutex // serializes region creation and close
	closed  bool
	once    sync.Once
}

func NewFactory(ctx context.Context, opts Options) (*Factory, error) {
	if opts.Provider == nil {
		return nil, &ConfigError{Field: "Provider", Message: "provider is required"}
	}
	settings := DefaultSettings()
	if opts.Settings != nil {
		settings = *opts.Settings
	}
	if err := settings.Validate(); err != nil {
		return nil, err
	}
	if settings.Topology != cluster.Local && opts.Bus == nil {
		return nil, &ConfigError{Field: "Bus", Message: fmt.Sprintf("bus is required for %s topology", settings.Topology)}
	}

	f := &Factory{
		source:   uuid.New(),
		settings: settings,
		provider: opts.Provider,
		bus:      opts.Bus,
		locks:    keylock.New(settings.LockStripes),
		log:      coalesce[Logger](opts.Logger, NopLogger{}),
		hooks:    coalesce[Hooks](opts.Hooks, NopHooks{}),
		regions:  xsync.NewMapOf[string, regionHandle](),
	}
	f.origin = coalesce(opts.NodeID, f.source.String())

	if opts.GenStore != nil {
		f.gens = opts.GenStore
	} else {
		// default to in-process generations with periodic cleanup
		f.gens = gen.NewLocalGenStore(defaultSweep, defaultGenRetention)
	}

	if f.bus != nil && settings.Topology != cluster.Local {
		if settings.AsyncPropagation {
			f.async = cluster.NewAsyncPublisher(f.bus, 0, func(m cluster.Message, err error) {
				f.hooks.PropagationError(m.Region, err)
				f.log.Warn("async propagation failed", Fields{"region": m.Region, "kind": m.Kind.String(), "err": err})
			})
		}
		if err := f.bus.Subscribe(ctx, f.receive); err != nil {
			if f.async != nil {
				_ = f.async.Close(ctx)
			}
			return nil, fmt.Errorf("regioncache: subscribe: %w", err)
		}
	}
	return f, nil
}

// NodeID is the origin stamped on messages this node publishes.
func (f *Factory) NodeID() string { return f.origin }

func (f *Factory) Settings() Settings { return f.settings }

// receive applies a message from another node to the region it names.
func (f *Factory) receive(ctx context.Context, m cluster.Message) error {
	if m.Origin == f.origin {
		return nil
	}
	r, ok := f.regions.Load(m.Region)
	if !ok {
		return nil
	}
	if err := r.apply(ctx, m); err != nil {
		f.hooks.PropagationError(m.Region, err)
		f.log.Warn("apply remote change failed", Fields{"region": m.Region, "kind": m.Kind.String(), "origin": m.Origin, "err": err})
		return err
	}
	return nil
}

// Regions lists the names of the regions built so far.
func (f *Factory) Regions() []string {
	out := make([]string, 0, f.regions.Size())
	f.regions.Range(func(name string, _ regionHandle) bool {
		out = append(out, name)
		return true
	})
	sort.Strings(out)
	return out
}

// BuildAccessStrategy returns the strategy for d, creating its region on
// first use. A descriptor without an access type gets the region's
// configured one. Building the same region again with another value type is
// an error.
func BuildAccessStrategy[V any](f *Factory, d Descriptor, codec c.Codec[V]) (AccessStrategy[V], error) {
	if codec == nil {
		return nil, &ConfigError{Field: "Codec", Message: "codec is required"}
	}
	if err := validateRegionName(d.Region); err != nil {
		return nil, err
	}
	rs := f.settings.forRegion(d.Region)
	access := coalesce(d.AccessType, rs.access)
	if err := validateAccess(access); err != nil {
		return nil, err
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return nil, &CacheError{Region: d.Region, Op: "build", Err: ErrClosed}
	}

	if h, ok := f.regions.Load(d.Region); ok {
		r, ok := h.(*Region[V])
		if !ok {
			return nil, &ConfigError{
				Field:   "Regions." + d.Region,
				Message: fmt.Sprintf("region already built for another value type (%T)", h),
			}
		}
		if r.codecID != c.IDOf(codec) {
			f.log.Warn("region reused with a different codec", Fields{"region": d.Region})
		}
		return newStrategy(r, access), nil
	}

	r := newRegion[V](regionConfig{
		name:           d.Region,
		source:         f.source,
		origin:         f.origin,
		provider:       f.provider,
		gens:           f.gens,
		log:            f.log,
		hooks:          f.hooks,
		topology:       f.settings.Topology,
		bus:            f.publisher(),
		async:          f.asyncPublisher(),
		locks:          f.locks,
		access:         rs.access, // strategies may override it per descriptor
		ttl:            rs.ttl,
		lockTimeout:    rs.lockTimeout,
		acquireTimeout: f.settings.LockAcquireTimeout,
		minimalPuts:    rs.minimalPuts,
	}, codec)
	f.regions.Store(d.Region, r)
	f.log.Info("region built", Fields{
		"region":   d.Region,
		"access":   rs.access.String(),
		"topology": f.settings.Topology.String(),
	})
	return newStrategy(r, access), nil
}

func validateAccess(a AccessType) error {
	switch a {
	case ReadOnly, NonstrictReadWrite, ReadWrite, Transactional:
		return nil
	}
	return &ConfigError{Field: "AccessType", Message: fmt.Sprintf("unsupported access type %s", a)}
}

// publisher avoids storing a typed nil in the region's interface field.
func (f *Factory) publisher() publisher {
	if f.bus == nil {
		return nil
	}
	return f.bus
}

func (f *Factory) asyncPublisher() publisher {
	if f.async == nil {
		return nil
	}
	return f.async
}

// Close stops every region, drains queued messages, and closes the bus, the
// generation store and the provider. Errors are joined.
func (f *Factory) Close(ctx context.Context) error {
	var errs []error
	f.once.Do(func() {
		f.mu.Lock()
		f.closed = true
		f.regions.Range(func(_ string, r regionHandle) bool {
			r.close()
			return true
		})
		f.mu.Unlock()

		if f.async != nil {
			if err := f.async.Close(ctx); err != nil {
				errs = append(errs, fmt.Errorf("async publisher: %w", err))
			}
		}
		if f.bus != nil {
			if err := f.bus.Close(ctx); err != nil {
				errs = append(errs, fmt.Errorf("bus: %w", err))
			}
		}
		if err := f.gens.Close(ctx); err != nil {
			errs = append(errs, fmt.Errorf("genstore: %w", err))
		}
		if err := f.provider.Close(ctx); err != nil {
			errs = append(errs, fmt.Errorf("provider: %w", err))
		}
	})
	return errors.Join(errs...)
}
