package regioncache

import (
	"fmt"
	"os"
	"strings"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"gopkg.in/yaml.v3"

	"github.com/unkn0wn-root/regioncache/cluster"
)

// Settings configure a Factory. Regions not listed in Regions use the
// defaults.
type Settings struct {
	DefaultAccessType AccessType `yaml:"default_access_type" mapstructure:"default_access_type"`

	// MinimalPuts is the default of PutFromLoad: skip the write when the key
	// is already cached.
	// default: true
	MinimalPuts bool `yaml:"minimal_puts" mapstructure:"minimal_puts"`

	// LockTimeout is how long a soft lock protects a key before another
	// LockItem may supersede it. Lock slots expire from the provider after it.
	// default: 60s
	LockTimeout time.Duration `yaml:"lock_timeout" mapstructure:"lock_timeout"`

	// LockAcquireTimeout bounds the wait for a key's write lock.
	// default: 5s
	LockAcquireTimeout time.Duration `yaml:"lock_acquire_timeout" mapstructure:"lock_acquire_timeout"`

	// DefaultTTL applies to Item slots; 0 keeps them until evicted.
	// default: 10m
	DefaultTTL time.Duration `yaml:"default_ttl" mapstructure:"default_ttl"`

	// AsyncPropagation queues committed writes and RemoveAll for the bus
	// instead of publishing inline. Evict and EvictAll stay synchronous.
	AsyncPropagation bool `yaml:"async_propagation" mapstructure:"async_propagation"`

	Topology cluster.Topology `yaml:"topology" mapstructure:"topology"`

	// LockStripes sizes the key lock table.
	// default: 256
	LockStripes int `yaml:"lock_stripes" mapstructure:"lock_stripes"`

	Regions map[string]RegionSettings `yaml:"regions" mapstructure:"regions"`
}

// RegionSettings override the defaults for one region. Zero fields inherit.
type RegionSettings struct {
	AccessType  AccessType    `yaml:"access_type" mapstructure:"access_type"`
	TTL         time.Duration `yaml:"ttl" mapstructure:"ttl"`
	LockTimeout time.Duration `yaml:"lock_timeout" mapstructure:"lock_timeout"`
	MinimalPuts *bool         `yaml:"minimal_puts" mapstructure:"minimal_puts"`
}

var accessTypes = []any{ReadOnly, NonstrictReadWrite, ReadWrite, Transactional}

func DefaultSettings() Settings {
	return Settings{
		DefaultAccessType:  ReadWrite,
		MinimalPuts:        true,
		LockTimeout:        60 * time.Second,
		LockAcquireTimeout: 5 * time.Second,
		DefaultTTL:         10 * time.Minute,
		Topology:           cluster.Local,
		LockStripes:        256,
	}
}

func (s Settings) Validate() error {
	if err := validation.ValidateStruct(&s,
		validation.Field(&s.DefaultAccessType, validation.Required, validation.In(accessTypes...)),
		validation.Field(&s.LockTimeout, validation.Required, validation.Min(time.Millisecond)),
		validation.Field(&s.LockAcquireTimeout, validation.Min(time.Duration(0))),
		validation.Field(&s.DefaultTTL, validation.Min(time.Duration(0))),
		validation.Field(&s.Topology, validation.In(cluster.Local, cluster.Invalidation, cluster.Replication)),
		validation.Field(&s.LockStripes, validation.Min(0)),
		validation.Field(&s.Regions),
	); err != nil {
		return err
	}
	for name := range s.Regions {
		if err := validateRegionName(name); err != nil {
			return err
		}
	}
	return nil
}

func (r RegionSettings) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.AccessType, validation.In(accessTypes...)),
		validation.Field(&r.TTL, validation.Min(time.Duration(0))),
		validation.Field(&r.LockTimeout, validation.Min(time.Duration(0))),
	)
}

func validateRegionName(name string) error {
	field := "Regions." + name
	if name == "" {
		field = "Regions"
	}
	switch {
	case name == "":
		return &ConfigError{Field: field, Message: "region name must not be empty"}
	case strings.ContainsAny(name, ":#"):
		return &ConfigError{Field: field, Message: "region name must not contain ':' or '#'"}
	}
	return nil
}

// resolved is the effective configuration of one region.
type resolved struct {
	access      AccessType
	ttl         time.Duration
	lockTimeout time.Duration
	minimalPuts bool
}

func (s Settings) forRegion(name string) resolved {
	out := resolved{
		access:      s.DefaultAccessType,
		ttl:         s.DefaultTTL,
		lockTimeout: s.LockTimeout,
		minimalPuts: s.MinimalPuts,
	}
	rs, ok := s.Regions[name]
	if !ok {
		return out
	}
	out.access = coalesce(rs.AccessType, out.access)
	out.ttl = coalesce(rs.TTL, out.ttl)
	out.lockTimeout = coalesce(rs.LockTimeout, out.lockTimeout)
	if rs.MinimalPuts != nil {
		out.minimalPuts = *rs.MinimalPuts
	}
	return out
}

// ParseSettings decodes YAML over DefaultSettings and validates the result.
func ParseSettings(b []byte) (Settings, error) {
	s := DefaultSettings()
	if err := yaml.Unmarshal(b, &s); err != nil {
		return Settings{}, fmt.Errorf("regioncache: parse settings: %w", err)
	}
	if err := s.Validate(); err != nil {
		return Settings{}, err
	}
	return s, nil
}

func LoadSettings(path string) (Settings, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return Settings{}, fmt.Errorf("regioncache: read settings: %w", err)
	}
	return ParseSettings(b)
}
