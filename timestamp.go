package regioncache

import (
	"sync/atomic"
	"time"
)

// TimestampBits is how many low bits of a region timestamp count ticks
// within one millisecond.
const TimestampBits = 12

// TimestampOf converts a wall-clock instant to region timestamp units
// without consuming a tick.
func TimestampOf(t time.Time) int64 { return t.UnixMilli() << TimestampBits }

// TimestampDuration converts a duration to region timestamp units.
func TimestampDuration(d time.Duration) int64 { return d.Milliseconds() << TimestampBits }

// Timestamper hands out strictly increasing timestamps: unix millis shifted
// left by TimestampBits, plus a counter for calls within the same millisecond.
type Timestamper struct {
	last atomic.Int64
	now  func() time.Time
}

func NewTimestamper() *Timestamper { return &Timestamper{now: time.Now} }

// Next returns a timestamp greater than every earlier result, even under
// concurrent callers or a clock stepping backwards.
func (t *Timestamper) Next() int64 {
	for {
		last := t.last.Load()
		next := TimestampOf(t.now())
		if next <= last {
			next = last + 1
		}
		if t.last.CompareAndSwap(last, next) {
			return next
		}
	}
}

// Current is the wall-clock timestamp; it does not advance the sequence.
func (t *Timestamper) Current() int64 { return TimestampOf(t.now()) }
