package genstore

import (
	"context"
	"sync"
	"time"

	"github.com/puzpuzpuz/xsync/v3"
)

type localGenEntry struct {
	Gen       uint64
	UpdatedAt time.Time
}

// LocalGenStore keeps generations in-process (default).
// Optional cleanup loop prunes long-inactive key generations. Retention should
// exceed the longest slot TTL so a pruned generation cannot match a live slot.
type LocalGenStore struct {
	gens   *xsync.MapOf[string, localGenEntry]
	ticker *time.Ticker
	stopCh chan struct{}
	wg     sync.WaitGroup
	once   sync.Once
	now    func() time.Time

	retention time.Duration
}

var _ GenStore = (*LocalGenStore)(nil)

func NewLocalGenStore(cleanupInterval, retention time.Duration) *LocalGenStore {
	s := &LocalGenStore{
		gens:      xsync.NewMapOf[string, localGenEntry](),
		retention: retention,
		now:       time.Now,
	}
	if cleanupInterval > 0 && retention > 0 {
		s.ticker = time.NewTicker(cleanupInterval)
		s.stopCh = make(chan struct{})
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			for {
				select {
				case <-s.ticker.C:
					s.Cleanup(retention)
				case <-s.stopCh:
					return
				}
			}
		}()
	}
	return s
}

func (s *LocalGenStore) Snapshot(_ context.Context, k string) (uint64, error) {
	e, _ := s.gens.Load(k)
	return e.Gen, nil
}

func (s *LocalGenStore) SnapshotMany(_ context.Context, ks []string) (map[string]uint64, error) {
	out := make(map[string]uint64, len(ks))
	for _, k := range ks {
		e, _ := s.gens.Load(k)
		out[k] = e.Gen // zero value (0) if missing
	}
	return out, nil
}

func (s *LocalGenStore) Bump(_ context.Context, k string, floor uint64) (uint64, error) {
	now := s.now()
	e, _ := s.gens.Compute(k, func(old localGenEntry, _ bool) (localGenEntry, bool) {
		return localGenEntry{Gen: max(old.Gen+1, floor), UpdatedAt: now}, false
	})
	return e.Gen, nil
}

func (s *LocalGenStore) Cleanup(retention time.Duration) {
	if retention <= 0 {
		return
	}
	cutoff := s.now().Add(-retention)

	s.gens.Range(func(k string, e localGenEntry) bool {
		if IsEpochKey(k) || e.UpdatedAt.IsZero() || !e.UpdatedAt.Before(cutoff) {
			return true
		}
		// re-check under the bucket lock; a concurrent Bump wins
		s.gens.Compute(k, func(cur localGenEntry, loaded bool) (localGenEntry, bool) {
			return cur, loaded && cur.UpdatedAt.Before(cutoff)
		})
		return true
	})
}

// Len reports how many counters are tracked.
func (s *LocalGenStore) Len() int { return s.gens.Size() }

func (s *LocalGenStore) Close(_ context.Context) error {
	s.once.Do(func() {
		if s.stopCh != nil {
			close(s.stopCh)
			if s.ticker != nil {
				s.ticker.Stop() // stop ticker before waiting
			}
			s.wg.Wait()
		}
	})
	return nil
}
