package timer_test

import (
	"testing"
	"time"

	"github.com/lei/lighthouse-kiosk/internal/timer"
	"github.com/lei/lighthouse-kiosk/internal/timer/timertest"
)

func TestPulseRepeatsUntilStopped(t *testing.T) {
	clock := timertest.New()
	p := timer.NewPulse(clock)

	ticks := 0
	p.Start(2*time.Second, func() { ticks++ })

	clock.Advance(1 * time.Second)
	if ticks != 0 {
		t.Fatalf("ticks = %d before first period, want 0", ticks)
	}

	clock.Advance(5 * time.Second)
	if ticks != 3 {
		t.Fatalf("ticks = %d after 6s, want 3", ticks)
	}

	p.Stop()
	if p.Running() {
		t.Error("Running() = true after Stop")
	}

	clock.Advance(10 * time.Second)
	if ticks != 3 {
		t.Errorf("ticks = %d after Stop, want 3", ticks)
	}
	if clock.Pending() != 0 {
		t.Errorf("Pending() = %d, want 0", clock.Pending())
	}
}

func TestPulseStartReplacesPrevious(t *testing.T) {
	clock := timertest.New()
	p := timer.NewPulse(clock)

	first, second := 0, 0
	p.Start(time.Second, func() { first++ })
	p.Start(time.Second, func() { second++ })

	clock.Advance(3 * time.Second)

	if first != 0 {
		t.Errorf("replaced pulse ticked %d times", first)
	}
	if second != 3 {
		t.Errorf("second pulse ticks = %d, want 3", second)
	}
	if clock.Pending() != 1 {
		t.Errorf("Pending() = %d, want exactly one active handle", clock.Pending())
	}
}

func TestPulseStopWithoutStart(t *testing.T) {
	p := timer.NewPulse(timertest.New())
	p.Stop()
	p.Stop()
}

func TestDeferred(t *testing.T) {
	clock := timertest.New()
	d := timer.NewDeferred(clock)

	calls := 0
	d.Schedule(10*time.Second, func() { calls++ })
	if !d.Pending() {
		t.Fatal("Pending() = false after Schedule")
	}

	clock.Advance(9 * time.Second)
	if calls != 0 {
		t.Fatalf("calls = %d before delay elapsed", calls)
	}

	clock.Advance(time.Second)
	if calls != 1 {
		t.Fatalf("calls = %d after delay, want 1", calls)
	}
	if d.Pending() {
		t.Error("Pending() = true after firing")
	}

	clock.Advance(time.Minute)
	if calls != 1 {
		t.Errorf("calls = %d, deferred fired more than once", calls)
	}
}

func TestDeferredCancel(t *testing.T) {
	clock := timertest.New()
	d := timer.NewDeferred(clock)

	calls := 0
	d.Schedule(10*time.Second, func() { calls++ })
	clock.Advance(5 * time.Second)
	d.Cancel()
	d.Cancel()
	clock.Advance(time.Minute)

	if calls != 0 {
		t.Errorf("calls = %d after Cancel, want 0", calls)
	}
}

func TestDeferredRescheduleReplaces(t *testing.T) {
	clock := timertest.New()
	d := timer.NewDeferred(clock)

	var fired []string
	d.Schedule(10*time.Second, func() { fired = append(fired, "first") })
	clock.Advance(5 * time.Second)
	d.Schedule(10*time.Second, func() { fired = append(fired, "second") })
	clock.Advance(6 * time.Second)

	if len(fired) != 0 {
		t.Fatalf("fired = %v at t=11s, want none", fired)
	}

	clock.Advance(4 * time.Second)
	if len(fired) != 1 || fired[0] != "second" {
		t.Errorf("fired = %v, want [second]", fired)
	}
}

func TestRealClock(t *testing.T) {
	d := timer.NewDeferred(nil)
	done := make(chan struct{})
	d.Schedule(time.Millisecond, func() { close(done) })

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("real clock deferred never fired")
	}
}
