package regioncache

import (
	"context"
	"fmt"
	"strings"
)

// Version is the row version the session read or wrote. 0 means the entity
// is unversioned and staleness falls back to timestamps.
type Version uint64

// Key identifies one cached row: the entity or collection role plus the
// identifier rendered as a string.
type Key struct {
	Role string
	ID   string
}

func (k Key) String() string { return k.Role + "#" + k.ID }

func (k Key) validate() error {
	if k.Role == "" {
		return fmt.Errorf("regioncache: key role is required")
	}
	if strings.ContainsRune(k.Role, '#') {
		return fmt.Errorf("regioncache: key role %q must not contain '#'", k.Role)
	}
	return nil
}

type AccessType uint8

const (
	// ReadOnly rows are inserted once and never updated.
	ReadOnly AccessType = iota + 1
	// NonstrictReadWrite evicts on update and tolerates brief staleness.
	NonstrictReadWrite
	// ReadWrite guards updates with soft locks.
	ReadWrite
	// Transactional writes directly; the provider takes part in the transaction.
	Transactional
)

func (a AccessType) String() string {
	switch a {
	case ReadOnly:
		return "read-only"
	case NonstrictReadWrite:
		return "nonstrict-read-write"
	case ReadWrite:
		return "read-write"
	case Transactional:
		return "transactional"
	default:
		return fmt.Sprintf("access-type(%d)", uint8(a))
	}
}

func ParseAccessType(s string) (AccessType, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "read-only", "readonly":
		return ReadOnly, nil
	case "nonstrict-read-write", "nonstrict":
		return NonstrictReadWrite, nil
	case "read-write", "readwrite":
		return ReadWrite, nil
	case "transactional":
		return Transactional, nil
	default:
		return 0, fmt.Errorf("regioncache: unknown access type %q", s)
	}
}

func (a AccessType) MarshalText() ([]byte, error) { return []byte(a.String()), nil }

func (a *AccessType) UnmarshalText(b []byte) error {
	v, err := ParseAccessType(string(b))
	if err != nil {
		return err
	}
	*a = v
	return nil
}

// AccessStrategy is the per-mode facade a session calls at the lifecycle
// points of a cached row. All methods are safe for concurrent use.
//
// Get never fails on a miss. Write paths in read-write mode wait for the key
// lock at most Settings.LockAcquireTimeout. Unlock methods never fail: they
// run during rollback and only log problems.
type AccessStrategy[V any] interface {
	Region() *Region[V]
	AccessType() AccessType

	Get(ctx context.Context, key Key, txTimestamp int64) (V, bool, error)

	// PutFromLoad caches a row just read from the database, using the
	// region's minimal-puts setting.
	PutFromLoad(ctx context.Context, key Key, value V, txTimestamp int64, version Version) (bool, error)
	PutFromLoadMinimal(ctx context.Context, key Key, value V, txTimestamp int64, version Version, minimalPutOverride bool) (bool, error)

	Insert(ctx context.Context, key Key, value V, version Version) (bool, error)
	AfterInsert(ctx context.Context, key Key, value V, version Version) (bool, error)

	Update(ctx context.Context, key Key, value V, currentVersion, previousVersion Version) (bool, error)
	AfterUpdate(ctx context.Context, key Key, value V, currentVersion, previousVersion Version, lock *SoftLock) (bool, error)

	LockItem(ctx context.Context, key Key, version Version) (*SoftLock, error)
	UnlockItem(ctx context.Context, key Key, lock *SoftLock)

	LockRegion(ctx context.Context) (*SoftLock, error)
	UnlockRegion(ctx context.Context, lock *SoftLock)

	// Remove and RemoveAll follow ordinary propagation timing.
	Remove(ctx context.Context, key Key) error
	RemoveAll(ctx context.Context) error

	// Evict and EvictAll drop state regardless of locks and publish synchronously.
	Evict(ctx context.Context, key Key) error
	EvictAll(ctx context.Context) error
}

// Descriptor names the region a mapping caches into. A zero AccessType
// selects the region's configured access type.
type Descriptor struct {
	Region     string
	AccessType AccessType
}
