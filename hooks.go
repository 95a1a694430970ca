package regioncache

// Hooks lightweight callbacks for high-signal events.
// Implementations MUST be cheap and non-blocking.
// Regions call them on hot paths, sometimes while holding a key lock.
type Hooks interface {
	// An unlock or commit presented a token that no longer matches the
	// stored lock (superseded, evicted or already released).
	StaleUnlock(region, key string, lockID int64)

	// LockItem found the key already locked and piled up on it.
	LockContended(region, key string, count int)

	// PutFromLoad declined to write.
	// reason ∈ {"present", "stale", "locked"}
	LoadRejected(region, key, reason string)

	// A slot was deleted on read.
	// reason ∈ {"corrupt", "gen_mismatch", "codec_mismatch", "value_decode"}
	SelfHeal(storageKey, reason string)

	// Provider returned ok=false on Set (backpressure/eviction).
	ProviderSetRejected(storageKey string, isLock bool)

	// GenStore errors. op ∈ {"snapshot", "bump"}.
	GenStoreError(op string, err error)

	// Publishing to, or applying a message from, the cluster bus failed.
	PropagationError(region string, err error)

	// A write was attempted through a read-only strategy.
	ReadOnlyViolation(region, op string)
}

// NopHooks is the default no-op
type NopHooks struct{}

func (NopHooks) StaleUnlock(string, string, int64)   {}
func (NopHooks) LockContended(string, string, int)   {}
func (NopHooks) LoadRejected(string, string, string) {}
func (NopHooks) SelfHeal(string, string)             {}
func (NopHooks) ProviderSetRejected(string, bool)    {}
func (NopHooks) GenStoreError(string, error)         {}
func (NopHooks) PropagationError(string, error)      {}
func (NopHooks) ReadOnlyViolation(string, string)    {}
