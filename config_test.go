package regioncache

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/unkn0wn-root/regioncache/cluster"
)

const settingsYAML = `
default_access_type: nonstrict-read-write
lock_timeout: 30s
default_ttl: 5m
async_propagation: true
topology: invalidation
regions:
  countries:
    access_type: read-only
    ttl: 24h
    minimal_puts: false
  users:
    lock_timeout: 2s
`

func TestDefaultSettingsAreValid(t *testing.T) {
	s := DefaultSettings()
	if err := s.Validate(); err != nil {
		t.Fatalf("defaults invalid: %v", err)
	}
	if s.DefaultAccessType != ReadWrite || !s.MinimalPuts || s.LockTimeout != time.Minute || s.Topology != cluster.Local {
		t.Fatalf("unexpected defaults: %+v", s)
	}
}

func TestParseSettings(t *testing.T) {
	s, err := ParseSettings([]byte(settingsYAML))
	if err != nil {
		t.Fatalf("ParseSettings: %v", err)
	}
	if s.DefaultAccessType != NonstrictReadWrite || s.LockTimeout != 30*time.Second || s.DefaultTTL != 5*time.Minute {
		t.Fatalf("top-level fields not decoded: %+v", s)
	}
	if !s.AsyncPropagation || s.Topology != cluster.Invalidation {
		t.Fatalf("propagation fields not decoded: %+v", s)
	}
	// unset fields keep their defaults
	if s.LockAcquireTimeout != 5*time.Second || !s.MinimalPuts {
		t.Fatalf("defaults lost: %+v", s)
	}

	countries := s.forRegion("countries")
	if countries.access != ReadOnly || countries.ttl != 24*time.Hour || countries.minimalPuts || countries.lockTimeout != 30*time.Second {
		t.Fatalf("countries: %+v", countries)
	}
	users := s.forRegion("users")
	if users.access != NonstrictReadWrite || users.ttl != 5*time.Minute || !users.minimalPuts || users.lockTimeout != 2*time.Second {
		t.Fatalf("users: %+v", users)
	}
	other := s.forRegion("orders")
	if other.access != NonstrictReadWrite || other.ttl != 5*time.Minute {
		t.Fatalf("unknown region must use defaults: %+v", other)
	}
}

func TestParseSettingsRejectsInvalid(t *testing.T) {
	cases := map[string]string{
		"unknown access type": "default_access_type: optimistic\n",
		"unknown topology":    "topology: gossip\n",
		"negative ttl":        "default_ttl: -1s\n",
		"zero lock timeout":   "lock_timeout: 0s\n",
		"bad region name":     "regions:\n  \"a:b\": {}\n",
		"bad region access":   "regions:\n  users:\n    access_type: sometimes\n",
		"malformed yaml":      "regions: [\n",
	}
	for name, doc := range cases {
		if _, err := ParseSettings([]byte(doc)); err == nil {
			t.Fatalf("%s: expected error", name)
		}
	}
}

func TestRegionNameErrorIsConfigError(t *testing.T) {
	s := DefaultSettings()
	s.Regions = map[string]RegionSettings{"users#1": {}}
	var ce *ConfigError
	if err := s.Validate(); !errors.As(err, &ce) || ce.Field != "Regions.users#1" {
		t.Fatalf("expected ConfigError for region name, got %v", err)
	}
}

func TestLoadSettings(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cache.yaml")
	if err := os.WriteFile(path, []byte(settingsYAML), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	s, err := LoadSettings(path)
	if err != nil {
		t.Fatalf("LoadSettings: %v", err)
	}
	if len(s.Regions) != 2 {
		t.Fatalf("regions: %+v", s.Regions)
	}
	if _, err := LoadSettings(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Fatalf("expected error for missing file")
	}
}

func TestAccessTypeText(t *testing.T) {
	for _, a := range []AccessType{ReadOnly, NonstrictReadWrite, ReadWrite, Transactional} {
		b, _ := a.MarshalText()
		var got AccessType
		if err := got.UnmarshalText(b); err != nil || got != a {
			t.Fatalf("%s: got %s err=%v", a, got, err)
		}
	}
	if _, err := ParseAccessType("sometimes"); err == nil {
		t.Fatalf("expected error for unknown access type")
	}
}
