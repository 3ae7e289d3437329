package helpers

import (
	"sync/atomic"
	"time"

	"github.com/temoto/atomic_clock"
)

// Backoff grows retry delay K times after each failure, within Min..Max.
// Success drops delay back to Min. Ready to use once Min, Max, K are set.
type Backoff struct {
	next int64 // atomic time.Duration, 0 before first outcome
	last atomic_clock.Clock

	Min time.Duration
	Max time.Duration
	K   float32
}

// DelayAfter records outcome of the attempt just made and returns pause before the next one.
//   for {
//     err := op()
//     time.Sleep(backoff.DelayAfter(err == nil))
//   }
func (b *Backoff) DelayAfter(success bool) time.Duration {
	b.Update(success)
	return b.DelayBefore()
}

// DelayBefore is what remains of current delay since last outcome, 0 before any.
func (b *Backoff) DelayBefore() time.Duration {
	next := time.Duration(atomic.LoadInt64(&b.next))
	if next == 0 {
		return 0
	}
	left := b.clamp(next) - atomic_clock.Since(&b.last)
	if left <= 0 {
		return 0
	}
	return left.Truncate(time.Millisecond)
}

func (b *Backoff) Failure() { b.Update(false) }

func (b *Backoff) Update(success bool) {
	next := b.Min
	if !success {
		cur := time.Duration(atomic.LoadInt64(&b.next))
		if cur == 0 {
			cur = b.Min
		}
		next = b.clamp(time.Duration(float32(cur) * b.K))
	}
	b.last.SetNow()
	atomic.StoreInt64(&b.next, int64(next))
}

func (b *Backoff) clamp(d time.Duration) time.Duration {
	switch {
	case d < b.Min:
		return b.Min
	case d > b.Max:
		return b.Max
	}
	return d
}
