package genstore

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newRedisStore(t *testing.T, ttl time.Duration) (*RedisGenStore, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	s, err := NewRedisGenStore(RedisConfig{Client: rdb, Namespace: "app", TTL: ttl, CloseClient: true})
	if err != nil {
		t.Fatalf("NewRedisGenStore: %v", err)
	}
	t.Cleanup(func() { _ = s.Close(context.Background()) })
	return s, mr
}

func TestRedisBumpAndSnapshotMany(t *testing.T) {
	s, mr := newRedisStore(t, 0)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if _, err := s.Bump(ctx, "users:user#1", 0); err != nil {
			t.Fatal(err)
		}
	}
	if !mr.Exists("gen:app:users:user#1") {
		t.Fatalf("expected namespaced key in redis")
	}
	got, err := s.SnapshotMany(ctx, []string{"users:user#1", "users:user#2"})
	if err != nil {
		t.Fatal(err)
	}
	if got["users:user#1"] != 3 || got["users:user#2"] != 0 {
		t.Fatalf("got=%v want 3 and 0", got)
	}
	if g, _ := s.Snapshot(ctx, "users:user#1"); g != 3 {
		t.Fatalf("Snapshot=%d want 3", g)
	}
}

func TestRedisTTLSkipsEpochs(t *testing.T) {
	s, mr := newRedisStore(t, time.Minute)
	ctx := context.Background()

	if _, err := s.Bump(ctx, "users:user#1", 0); err != nil {
		t.Fatal(err)
	}
	if _, err := s.Bump(ctx, EpochKey("users"), 0); err != nil {
		t.Fatal(err)
	}
	if ttl := mr.TTL("gen:app:users:user#1"); ttl != time.Minute {
		t.Fatalf("key gen ttl=%v want 1m", ttl)
	}
	if ttl := mr.TTL("gen:app:" + EpochKey("users")); ttl != 0 {
		t.Fatalf("epoch must not expire, ttl=%v", ttl)
	}

	mr.FastForward(2 * time.Minute)
	got, _ := s.SnapshotMany(ctx, []string{"users:user#1", EpochKey("users")})
	if got["users:user#1"] != 0 || got[EpochKey("users")] != 1 {
		t.Fatalf("after expiry got=%v", got)
	}
}

func TestRedisSnapshotParseError(t *testing.T) {
	s, mr := newRedisStore(t, 0)
	if err := mr.Set("gen:app:bad", "not-a-number"); err != nil {
		t.Fatal(err)
	}
	if _, err := s.SnapshotMany(context.Background(), []string{"bad"}); err == nil {
		t.Fatalf("expected parse error")
	}
}

func TestRedisBumpHonoursFloor(t *testing.T) {
	s, mr := newRedisStore(t, time.Minute)
	ctx := context.Background()

	const ts = uint64(7_300_000_000_000_000)
	if g, err := s.Bump(ctx, "users:user#1", ts); err != nil || g != ts {
		t.Fatalf("bump with floor: g=%d err=%v", g, err)
	}
	if g, _ := s.Bump(ctx, "users:user#1", 5); g != ts+1 {
		t.Fatalf("bump below current: %d", g)
	}
	if g, _ := s.Snapshot(ctx, "users:user#1"); g != ts+1 {
		t.Fatalf("Snapshot=%d", g)
	}
	if ttl := mr.TTL("gen:app:users:user#1"); ttl != time.Minute {
		t.Fatalf("key gen ttl=%v want 1m", ttl)
	}
	if _, err := s.Bump(ctx, EpochKey("users"), ts); err != nil {
		t.Fatal(err)
	}
	if ttl := mr.TTL("gen:app:" + EpochKey("users")); ttl != 0 {
		t.Fatalf("epoch must not expire, ttl=%v", ttl)
	}
}
