package turn

import "time"

// DefaultSilenceThreshold is the quiet period after the last transcript update
// that ends an utterance.
const DefaultSilenceThreshold = 2 * time.Second

// Stopper cancels a scheduled callback. It mirrors [time.Timer.Stop].
type Stopper interface {
	Stop() bool
}

// Clock abstracts wall time and callback scheduling so the machine can be
// driven deterministically in tests.
type Clock interface {
	Now() time.Time
	AfterFunc(d time.Duration, f func()) Stopper
}

// SystemClock is the [Clock] backed by the time package. Callbacks run on
// their own goroutine; use [Loop.Clock] when the callback must run on the
// machine's event loop.
type SystemClock struct{}

// Now returns time.Now().
func (SystemClock) Now() time.Time { return time.Now() }

// AfterFunc wraps time.AfterFunc.
func (SystemClock) AfterFunc(d time.Duration, f func()) Stopper {
	return time.AfterFunc(d, f)
}

// SilenceTimer is a resettable single-shot timer. Arming it always cancels the
// pending deadline first, so at most one fire is outstanding. A fire that was
// already queued when the timer got cancelled or re-armed is discarded.
//
// SilenceTimer is not safe for concurrent use; it belongs to one [Machine].
type SilenceTimer struct {
	clock   Clock
	onFire  func()
	gen     uint64
	pending Stopper
}

// NewSilenceTimer returns an unarmed timer that calls onFire on expiry.
func NewSilenceTimer(clock Clock, onFire func()) *SilenceTimer {
	if clock == nil {
		clock = SystemClock{}
	}
	return &SilenceTimer{clock: clock, onFire: onFire}
}

// Arm schedules a fire after d, replacing any pending deadline.
func (t *SilenceTimer) Arm(d time.Duration) {
	t.Cancel()
	t.gen++
	gen := t.gen
	t.pending = t.clock.AfterFunc(d, func() { t.fire(gen) })
}

// Cancel drops the pending deadline, if any. Calling it on an unarmed timer
// is a no-op.
func (t *SilenceTimer) Cancel() {
	if t.pending == nil {
		return
	}
	t.pending.Stop()
	t.pending = nil
}

// Pending reports whether a deadline is scheduled.
func (t *SilenceTimer) Pending() bool { return t.pending != nil }

func (t *SilenceTimer) fire(gen uint64) {
	if t.pending == nil || gen != t.gen {
		return
	}
	t.pending = nil
	t.onFire()
}
