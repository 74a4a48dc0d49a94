// Package buffer implements the in-memory segment buffer (C3): a
// per-(business_type, time_key) interval with an atomic cursor, a
// CAS-mediated refresh flag, and timeout-based stuck-refresh recovery.
//
// Grounded on original_source's IdGeneratorService.SegmentBuffer inner
// class (AtomicLong cursor, volatile bounds, AtomicBoolean refresh flag,
// REFRESH_TIMEOUT_MS force-reset), translated to Go's sync/atomic.
package buffer

import (
	"sync/atomic"
	"time"

	"github.com/magicliang/distributed-sequence/internal/model"
)

// DefaultRefreshTimeout is how long a refresh flag may be held before any
// thread is entitled to force-reset it (§4.3).
const DefaultRefreshTimeout = 10 * time.Second

// Exhausted is the sentinel boundary value returned by Take when the
// buffer's interval has been fully consumed.
const Exhausted int64 = -1

// Buffer is a single in-memory interval buffer. All fields are mutated
// only through the exported methods; cursor and needRefresh are atomic,
// everything else is guarded by an outer per-key lock owned by the caller
// (the issuance engine's buffer map), matching the teacher's
// "volatile everything else" field-access discipline.
type Buffer struct {
	start  int64
	end    int64
	cursor atomic.Int64

	// Role is the role this buffer issues IDs for. It may differ from the
	// owning node's own role when the buffer is a take-over proxy (§4.6).
	Role model.Role

	needRefresh          atomic.Bool
	lastRefreshAttemptAt atomic.Int64 // unix nanos

	refreshTimeout time.Duration
}

// New constructs a buffer over [start, end] for the given role.
func New(start, end int64, role model.Role) *Buffer {
	b := &Buffer{
		start:          start,
		end:            end,
		Role:           role,
		refreshTimeout: DefaultRefreshTimeout,
	}
	b.cursor.Store(start)
	return b
}

// Start returns the inclusive lower bound of the current interval.
func (b *Buffer) Start() int64 { return b.start }

// End returns the inclusive upper bound of the current interval.
func (b *Buffer) End() int64 { return b.end }

// Take atomically increments the cursor and returns the pre-increment
// value as the issued ID, or Exhausted if the interval is used up. The
// cursor is never rewound on exhaustion: callers refill then retry.
func (b *Buffer) Take() int64 {
	next := b.cursor.Add(1)
	id := next - 1
	if id > b.end {
		return Exhausted
	}
	return id
}

// IsExhausted peeks whether the interval has been fully consumed, without
// advancing the cursor. Used by the refill protocol to double-check a
// buffer is still exhausted after acquiring the refill lock, since another
// goroutine may have already refilled it while this one waited (§4.5.1).
func (b *Buffer) IsExhausted() bool {
	return b.cursor.Load() > b.end
}

// Utilisation reports the fraction of the interval consumed so far,
// clipped to [0, 1].
func (b *Buffer) Utilisation() float64 {
	span := b.end - b.start + 1
	if span <= 0 {
		return 1
	}
	used := b.cursor.Load() - b.start
	frac := float64(used) / float64(span)
	if frac < 0 {
		return 0
	}
	if frac > 1 {
		return 1
	}
	return frac
}

// TryMarkRefresh CASes needRefresh false->true. On failure it checks
// whether the existing holder has been stuck past refreshTimeout; if so it
// force-resets the flag and retries the CAS once, tolerating a refresh
// task killed by a network failure mid-flight (§4.3).
func (b *Buffer) TryMarkRefresh() bool {
	if b.needRefresh.CompareAndSwap(false, true) {
		b.lastRefreshAttemptAt.Store(time.Now().UnixNano())
		return true
	}

	lastAttempt := time.Unix(0, b.lastRefreshAttemptAt.Load())
	if time.Since(lastAttempt) > b.refreshTimeout {
		b.needRefresh.Store(false)
		if b.needRefresh.CompareAndSwap(false, true) {
			b.lastRefreshAttemptAt.Store(time.Now().UnixNano())
			return true
		}
	}
	return false
}

// ClearRefresh resets the refresh flag after a failed or abandoned
// refill attempt so a subsequent request can retry.
func (b *Buffer) ClearRefresh() {
	b.needRefresh.Store(false)
}

// Install replaces [start, end] with a freshly allocated interval,
// resets the cursor to the new start, and clears the refresh bookkeeping.
func (b *Buffer) Install(newStart, newEnd int64) {
	b.start = newStart
	b.end = newEnd
	b.cursor.Store(newStart)
	b.needRefresh.Store(false)
	b.lastRefreshAttemptAt.Store(0)
}

// NeedsRefresh reports the current value of the refresh flag, for status
// reporting.
func (b *Buffer) NeedsRefresh() bool {
	return b.needRefresh.Load()
}

// LastRefreshAttempt reports the timestamp of the last refresh attempt,
// for status reporting and stuck-refresh recovery scans.
func (b *Buffer) LastRefreshAttempt() time.Time {
	nanos := b.lastRefreshAttemptAt.Load()
	if nanos == 0 {
		return time.Time{}
	}
	return time.Unix(0, nanos)
}
