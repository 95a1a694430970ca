package redis

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"

	"github.com/unkn0wn-root/regioncache/cluster"
)

func TestRedisBusDeliversToSubscribers(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	ctx := context.Background()

	a, err := New(Config{Client: rdb, Channel: "rc-test"})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	b, _ := New(Config{Client: rdb, Channel: "rc-test"})
	defer a.Close(ctx)
	defer b.Close(ctx)

	got := make(chan cluster.Message, 1)
	if err := b.Subscribe(ctx, func(_ context.Context, m cluster.Message) error {
		got <- m
		return nil
	}); err != nil {
		t.Fatalf("Subscribe: %v", err)
	}

	want := cluster.Message{Region: "users", Origin: "a", Kind: cluster.Invalidate, Role: "user", ID: "42"}
	if err := a.Publish(ctx, want); err != nil {
		t.Fatalf("Publish: %v", err)
	}

	select {
	case m := <-got:
		if m.Region != want.Region || m.Kind != want.Kind || m.ID != want.ID {
			t.Fatalf("got %+v want %+v", m, want)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for message")
	}
}

func TestRedisBusClosed(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	b, _ := New(Config{Client: rdb})
	if err := b.Close(context.Background()); err != nil {
		t.Fatalf("Close: %v", err)
	}
	err := b.Publish(context.Background(), cluster.Message{Region: "r", Origin: "o", Kind: cluster.Clear})
	if err != cluster.ErrClosed {
		t.Fatalf("expected ErrClosed, got %v", err)
	}
}
