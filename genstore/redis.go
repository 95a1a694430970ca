package genstore

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisGenStore shares key generations and region epochs across nodes and
// survives restarts. Optionally, a TTL can be applied to key generations to
// prevent unbounded growth; epochs never expire. If a key generation expires,
// readers observe gen=0 and slots written under a later gen self-heal.
type RedisGenStore struct {
	rdb         redis.UniversalClient
	ns          string        // logical namespace shared by every node of a deployment
	ttl         time.Duration // optional TTL for key generations; 0 disables expiry
	closeClient bool
}

var _ GenStore = (*RedisGenStore)(nil)

type RedisConfig struct {
	Client    redis.UniversalClient
	Namespace string
	TTL       time.Duration
	// CloseClient makes Close release the client. Leave false when the client
	// is shared with a provider or bus.
	CloseClient bool
}

func NewRedisGenStore(cfg RedisConfig) (*RedisGenStore, error) {
	if cfg.Client == nil {
		return nil, errors.New("genstore: nil redis client")
	}
	return &RedisGenStore{rdb: cfg.Client, ns: cfg.Namespace, ttl: cfg.TTL, closeClient: cfg.CloseClient}, nil
}

func (s *RedisGenStore) key(k string) string { return "gen:" + s.ns + ":" + k }

func parseGen(v any, at string) (uint64, error) {
	var str string
	switch vv := v.(type) {
	case nil:
		return 0, nil
	case string:
		str = vv
	case []byte:
		str = string(vv)
	default:
		str = fmt.Sprint(vv)
	}
	u, err := strconv.ParseUint(str, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("redis gen parse at %s: %w", at, err)
	}
	return u, nil
}

// Snapshot returns the current generation.
// Missing keys are treated as generation 0.
func (s *RedisGenStore) Snapshot(ctx context.Context, k string) (uint64, error) {
	res, err := s.rdb.Get(ctx, s.key(k)).Result()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return parseGen(res, k)
}

// SnapshotMany reads every key in one MGET round-trip.
// Missing keys map to 0.
func (s *RedisGenStore) SnapshotMany(ctx context.Context, ks []string) (map[string]uint64, error) {
	if len(ks) == 0 {
		return map[string]uint64{}, nil
	}
	keys := make([]string, len(ks))
	for i, k := range ks {
		keys[i] = s.key(k)
	}
	vals, err := s.rdb.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, err
	}

	out := make(map[string]uint64, len(ks))
	for i, v := range vals {
		u, err := parseGen(v, ks[i])
		if err != nil {
			return nil, err
		}
		out[ks[i]] = u
	}
	return out, nil
}

// Bump atomically increments the generation and (optionally) refreshes TTL.
// When a TTL applies, INCR + EXPIRE are pipelined in a single round-trip. A
// non-zero floor runs as a WATCH/MULTI read-modify-write instead.
func (s *RedisGenStore) Bump(ctx context.Context, k string, floor uint64) (uint64, error) {
	rk := s.key(k)
	if floor > 0 {
		return s.bumpTo(ctx, k, floor)
	}

	if s.ttl <= 0 || IsEpochKey(k) {
		v, err := s.rdb.Incr(ctx, rk).Result()
		if err != nil {
			return 0, err
		}
		return uint64(v), nil
	}

	var incr *redis.IntCmd
	_, err := s.rdb.Pipelined(ctx, func(p redis.Pipeliner) error {
		incr = p.Incr(ctx, rk)
		p.Expire(ctx, rk, s.ttl)
		return nil
	})
	if err != nil {
		return 0, err
	}
	return uint64(incr.Val()), nil
}

const maxBumpAttempts = 16

func (s *RedisGenStore) bumpTo(ctx context.Context, k string, floor uint64) (uint64, error) {
	rk := s.key(k)
	ttl := s.ttl
	if IsEpochKey(k) {
		ttl = 0
	}
	var next uint64
	for attempt := 0; attempt < maxBumpAttempts; attempt++ {
		err := s.rdb.Watch(ctx, func(tx *redis.Tx) error {
			res, err := tx.Get(ctx, rk).Result()
			if err != nil && !errors.Is(err, redis.Nil) {
				return err
			}
			var cur uint64
			if err == nil {
				if cur, err = parseGen(res, k); err != nil {
					return err
				}
			}
			next = max(cur+1, floor)
			_, err = tx.TxPipelined(ctx, func(p redis.Pipeliner) error {
				p.Set(ctx, rk, strconv.FormatUint(next, 10), ttl)
				return nil
			})
			return err
		}, rk)
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		if err != nil {
			return 0, err
		}
		return next, nil
	}
	return 0, fmt.Errorf("genstore: bump %s: %w", k, redis.TxFailedErr)
}

// Cleanup is not applicable for RedisGenStore (Redis handles expiry if TTL is set).
func (s *RedisGenStore) Cleanup(time.Duration) {}

// Close releases the client only when the store owns it.
func (s *RedisGenStore) Close(context.Context) error {
	if !s.closeClient {
		return nil
	}
	if err := s.rdb.Close(); err != nil && !errors.Is(err, redis.ErrClosed) {
		return err
	}
	return nil
}
