package regioncache

import (
	"errors"
	"fmt"
)

var (
	// ErrUnsupported marks contract violations, such as writing through a
	// read-only strategy. Never retry these.
	ErrUnsupported = errors.New("regioncache: unsupported operation")

	// ErrCache marks failures of the store, the generation store, the
	// transport or the key lock. Every *CacheError matches it.
	ErrCache = errors.New("regioncache: cache failure")

	// ErrLockTimeout is wrapped when a writer waited longer than
	// Settings.LockAcquireTimeout for a key.
	ErrLockTimeout = errors.New("regioncache: timed out acquiring key lock")

	ErrClosed = errors.New("regioncache: factory closed")
)

type UnsupportedOperationError struct {
	Region string
	Op     string
	Msg    string
}

func (e *UnsupportedOperationError) Error() string {
	return fmt.Sprintf("regioncache: %s on region %q: %s", e.Op, e.Region, e.Msg)
}

func (e *UnsupportedOperationError) Is(target error) bool { return target == ErrUnsupported }

// CacheError wraps an underlying failure with the region, operation and key
// it happened on. Key is empty for region-wide operations.
type CacheError struct {
	Region string
	Op     string
	Key    string
	Err    error
}

func (e *CacheError) Error() string {
	if e.Key == "" {
		return fmt.Sprintf("regioncache: %s on region %q: %v", e.Op, e.Region, e.Err)
	}
	return fmt.Sprintf("regioncache: %s %q on region %q: %v", e.Op, e.Key, e.Region, e.Err)
}

func (e *CacheError) Unwrap() error { return e.Err }

func (e *CacheError) Is(target error) bool { return target == ErrCache }

// EvictError reports a partially failed eviction. When only one of the two
// steps failed the key is still unreadable: a bumped generation fences the
// old slot, a delete removes it.
type EvictError struct {
	Region  string
	Key     string
	BumpErr error
	DelErr  error
}

func (e *EvictError) Error() string {
	switch {
	case e.BumpErr != nil && e.DelErr != nil:
		return fmt.Sprintf("evict %q failed: gen bump and delete failed: bump=%v; delete=%v",
			e.Key, e.BumpErr, e.DelErr)
	case e.BumpErr != nil:
		return fmt.Sprintf("evict %q: gen bump failed: %v", e.Key, e.BumpErr)
	case e.DelErr != nil:
		return fmt.Sprintf("evict %q: delete failed: %v", e.Key, e.DelErr)
	default:
		return fmt.Sprintf("evict %q: unknown error", e.Key)
	}
}

func (e *EvictError) Unwrap() []error {
	errs := make([]error, 0, 3)
	errs = append(errs, ErrCache)
	if e.BumpErr != nil {
		errs = append(errs, e.BumpErr)
	}
	if e.DelErr != nil {
		errs = append(errs, e.DelErr)
	}
	return errs
}

// ConfigError reports an invalid setting.
type ConfigError struct {
	Field   string
	Message string
}

func (e *ConfigError) Error() string {
	return "regioncache: config error in field " + e.Field + ": " + e.Message
}
