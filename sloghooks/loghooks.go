// Package sloghooks logs regioncache hook events through log/slog. Noisy
// events can be sampled and storage keys are redacted by default.
package sloghooks

import (
	"crypto/sha256"
	"encoding/hex"
	"log/slog"
	"sync/atomic"

	"github.com/unkn0wn-root/regioncache"
)

type Options struct {
	// Sampling to avoid floods; 0/1 = log all.
	SelfHealEvery     uint64
	ContentionEvery   uint64
	LoadRejectedEvery uint64
	// Optional key redactor. Defaults to SHA-256 prefix.
	Redact func(string) string
}

type Hooks struct {
	l    *slog.Logger
	opts Options

	selfHealCtr   atomic.Uint64
	contentionCtr atomic.Uint64
	loadCtr       atomic.Uint64
}

var _ regioncache.Hooks = (*Hooks)(nil)

func New(l *slog.Logger, opts Options) *Hooks {
	return &Hooks{l: l, opts: opts}
}

func (h *Hooks) redact(k string) string {
	if h.opts.Redact != nil {
		return h.opts.Redact(k)
	}
	sum := sha256.Sum256([]byte(k))
	return hex.EncodeToString(sum[:8])
}

func sample(n uint64, ctr *atomic.Uint64) bool {
	if n == 0 || n == 1 {
		return true
	}
	return ctr.Add(1)%n == 0
}

func (h *Hooks) StaleUnlock(region, key string, lockID int64) {
	if h.l == nil {
		return
	}
	h.l.Debug("regioncache.stale_unlock",
		"region", region,
		"key", h.redact(key),
		"lock_id", lockID)
}

func (h *Hooks) LockContended(region, key string, count int) {
	if h.l == nil || !sample(h.opts.ContentionEvery, &h.contentionCtr) {
		return
	}
	h.l.Info("regioncache.lock_contended",
		"region", region,
		"key", h.redact(key),
		"count", count)
}

func (h *Hooks) LoadRejected(region, key, reason string) {
	if h.l == nil || !sample(h.opts.LoadRejectedEvery, &h.loadCtr) {
		return
	}
	h.l.Debug("regioncache.load_rejected",
		"region", region,
		"key", h.redact(key),
		"reason", reason)
}

func (h *Hooks) SelfHeal(storageKey, reason string) {
	if h.l == nil || !sample(h.opts.SelfHealEvery, &h.selfHealCtr) {
		return
	}
	h.l.Debug("regioncache.self_heal",
		"key", h.redact(storageKey),
		"reason", reason)
}

func (h *Hooks) ProviderSetRejected(storageKey string, isLock bool) {
	if h.l == nil {
		return
	}
	h.l.Warn("regioncache.provider_set_rejected",
		"key", h.redact(storageKey),
		"is_lock", isLock)
}

func (h *Hooks) GenStoreError(op string, err error) {
	if h.l == nil {
		return
	}
	h.l.Warn("regioncache.genstore_error",
		"op", op,
		"err", err)
}

func (h *Hooks) PropagationError(region string, err error) {
	if h.l == nil {
		return
	}
	h.l.Error("regioncache.propagation_error",
		"region", region,
		"err", err)
}

func (h *Hooks) ReadOnlyViolation(region, op string) {
	if h.l == nil {
		return
	}
	h.l.Error("regioncache.read_only_violation",
		"region", region,
		"op", op)
}
