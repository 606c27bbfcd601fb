package turn

import (
	"testing"
	"time"
)

func TestSilenceTimer_FiresOnce(t *testing.T) {
	clock := newManualClock()
	fires := 0
	timer := NewSilenceTimer(clock, func() { fires++ })

	timer.Arm(time.Second)
	if !timer.Pending() {
		t.Fatal("timer not pending after Arm")
	}
	clock.Advance(time.Second)
	clock.Advance(time.Hour)

	if fires != 1 {
		t.Errorf("fires = %d, want 1", fires)
	}
	if timer.Pending() {
		t.Error("timer still pending after fire")
	}
}

func TestSilenceTimer_RearmKeepsOnePending(t *testing.T) {
	clock := newManualClock()
	fires := 0
	timer := NewSilenceTimer(clock, func() { fires++ })

	timer.Arm(time.Second)
	timer.Arm(time.Second)
	if got := clock.active(); got != 1 {
		t.Fatalf("active timers = %d, want 1", got)
	}

	clock.Advance(time.Second)
	if fires != 1 {
		t.Errorf("fires = %d, want 1", fires)
	}
}

func TestSilenceTimer_RearmMovesDeadline(t *testing.T) {
	clock := newManualClock()
	fires := 0
	timer := NewSilenceTimer(clock, func() { fires++ })

	timer.Arm(time.Second)
	clock.Advance(900 * time.Millisecond)
	timer.Arm(time.Second)
	clock.Advance(900 * time.Millisecond)
	if fires != 0 {
		t.Fatalf("fired %d times before the moved deadline", fires)
	}
	clock.Advance(100 * time.Millisecond)
	if fires != 1 {
		t.Errorf("fires = %d, want 1", fires)
	}
}

func TestSilenceTimer_CancelIdempotent(t *testing.T) {
	clock := newManualClock()
	fires := 0
	timer := NewSilenceTimer(clock, func() { fires++ })

	timer.Cancel()
	timer.Arm(time.Second)
	timer.Cancel()
	timer.Cancel()

	clock.Advance(time.Minute)
	if fires != 0 {
		t.Errorf("fires = %d, want 0", fires)
	}
	if timer.Pending() {
		t.Error("timer pending after Cancel")
	}
}

// A callback that was already queued when the timer got cancelled or
// re-armed must not fire.
func TestSilenceTimer_StaleCallbackDropped(t *testing.T) {
	tests := []struct {
		name  string
		after func(*SilenceTimer)
		want  int
	}{
		{"cancelled", func(s *SilenceTimer) { s.Cancel() }, 0},
		{"rearmed", func(s *SilenceTimer) { s.Arm(time.Second) }, 0},
		{"untouched", func(*SilenceTimer) {}, 1},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			clock := newManualClock()
			fires := 0
			timer := NewSilenceTimer(clock, func() { fires++ })

			timer.Arm(time.Second)
			queued := clock.timers[0].f
			tc.after(timer)

			queued()
			if fires != tc.want {
				t.Errorf("fires = %d, want %d", fires, tc.want)
			}
		})
	}
}
