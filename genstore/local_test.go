package genstore

import (
	"context"
	"sync"
	"testing"
	"time"
)

func TestLocalSnapshotManyIncludesAllAndZeroForMissing(t *testing.T) {
	ctx := context.Background()
	s := NewLocalGenStore(0, 0)
	t.Cleanup(func() { _ = s.Close(ctx) })

	keys := []string{"a", "b", "c"}
	// bump b twice -> gen=2
	if _, err := s.Bump(ctx, "b", 0); err != nil {
		t.Fatal(err)
	}
	if _, err := s.Bump(ctx, "b", 0); err != nil {
		t.Fatal(err)
	}

	got, err := s.SnapshotMany(ctx, keys)
	if err != nil {
		t.Fatal(err)
	}

	if got["a"] != 0 || got["b"] != 2 || got["c"] != 0 {
		t.Fatalf("got=%v want a=0,b=2,c=0", got)
	}
}

func TestLocalBumpIsAtomic(t *testing.T) {
	ctx := context.Background()
	s := NewLocalGenStore(0, 0)
	t.Cleanup(func() { _ = s.Close(ctx) })

	const workers, per = 8, 250
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < per; j++ {
				_, _ = s.Bump(ctx, "k", 0)
			}
		}()
	}
	wg.Wait()
	if g, _ := s.Snapshot(ctx, "k"); g != workers*per {
		t.Fatalf("gen=%d want %d", g, workers*per)
	}
}

func TestLocalCleanupPrunesOldKeysButKeepsEpochs(t *testing.T) {
	ctx := context.Background()
	s := NewLocalGenStore(0, time.Second)
	t.Cleanup(func() { _ = s.Close(ctx) })

	base := time.Unix(1_700_000_000, 0)
	s.now = func() time.Time { return base }
	if _, err := s.Bump(ctx, "old", 0); err != nil {
		t.Fatal(err)
	}
	if _, err := s.Bump(ctx, EpochKey("users"), 0); err != nil {
		t.Fatal(err)
	}

	s.now = func() time.Time { return base.Add(2 * time.Second) }
	if _, err := s.Bump(ctx, "fresh", 0); err != nil {
		t.Fatal(err)
	}
	s.Cleanup(time.Second)

	got, _ := s.SnapshotMany(ctx, []string{"old", "fresh", EpochKey("users")})
	if got["old"] != 0 {
		t.Fatalf("expected pruned -> 0, got %d", got["old"])
	}
	if got["fresh"] != 1 {
		t.Fatalf("fresh gen=%d want 1", got["fresh"])
	}
	if got[EpochKey("users")] != 1 {
		t.Fatalf("epoch must survive cleanup, got %d", got[EpochKey("users")])
	}
}

func TestLocalCloseIsIdempotent(t *testing.T) {
	s := NewLocalGenStore(10*time.Millisecond, time.Second)
	if err := s.Close(context.Background()); err != nil {
		t.Fatal(err)
	}
	if err := s.Close(context.Background()); err != nil {
		t.Fatal(err)
	}
}

func TestLocalBumpHonoursFloor(t *testing.T) {
	ctx := context.Background()
	s := NewLocalGenStore(0, 0)
	t.Cleanup(func() { _ = s.Close(ctx) })

	if g, _ := s.Bump(ctx, "k", 1000); g != 1000 {
		t.Fatalf("first bump with floor: %d", g)
	}
	// a lower floor still advances the generation
	if g, _ := s.Bump(ctx, "k", 10); g != 1001 {
		t.Fatalf("bump below current: %d", g)
	}
	if g, _ := s.Bump(ctx, "k", 0); g != 1002 {
		t.Fatalf("plain bump: %d", g)
	}
}
