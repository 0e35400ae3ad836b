package ttltimer

import (
	"sync/atomic"
	"testing"
	"time"
)

const tick = 5 * time.Millisecond

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatal("condition not met before deadline")
}

func TestStartFiresRepeatedly(t *testing.T) {
	var timer Timer
	var calls atomic.Int64
	timer.Start(func() { calls.Add(1) }, tick)
	t.Cleanup(timer.Stop)

	waitFor(t, func() bool { return calls.Load() >= 3 })
	if !timer.Running() {
		t.Fatal("expected timer running")
	}
	if timer.Interval() != tick {
		t.Fatalf("interval = %v, want %v", timer.Interval(), tick)
	}
}

func TestStartIgnoresInvalidInput(t *testing.T) {
	var timer Timer
	timer.Start(nil, tick)
	timer.Start(func() {}, 0)
	if timer.Running() {
		t.Fatal("expected timer idle")
	}
	if timer.Interval() != 0 {
		t.Fatalf("interval = %v, want 0", timer.Interval())
	}
}

func TestPauseRetainsIntervalAndResumeRestarts(t *testing.T) {
	var timer Timer
	var calls atomic.Int64
	callback := func() { calls.Add(1) }
	timer.Start(callback, tick)
	t.Cleanup(timer.Stop)
	waitFor(t, func() bool { return calls.Load() >= 1 })

	timer.Pause()
	if timer.Running() {
		t.Fatal("expected paused timer not running")
	}
	if timer.Interval() != tick {
		t.Fatalf("interval after pause = %v, want %v", timer.Interval(), tick)
	}

	// Allow a callback already past the halt check to finish.
	time.Sleep(3 * tick)
	paused := calls.Load()
	time.Sleep(5 * tick)
	if calls.Load() != paused {
		t.Fatalf("calls advanced while paused: %d -> %d", paused, calls.Load())
	}

	timer.Resume(callback)
	if !timer.Running() {
		t.Fatal("expected resumed timer running")
	}
	waitFor(t, func() bool { return calls.Load() > paused })
}

func TestResumeAfterStopIsNoop(t *testing.T) {
	var timer Timer
	var calls atomic.Int64
	callback := func() { calls.Add(1) }
	timer.Start(callback, tick)
	timer.Stop()

	if timer.Interval() != 0 {
		t.Fatalf("interval after stop = %v, want 0", timer.Interval())
	}
	timer.Resume(callback)
	if timer.Running() {
		t.Fatal("expected resume after stop to stay idle")
	}
}

func TestResumeWithoutStartIsNoop(t *testing.T) {
	var timer Timer
	timer.Resume(func() {})
	if timer.Running() {
		t.Fatal("expected timer idle")
	}
}

func TestRestartNeverOverlapsCallbacks(t *testing.T) {
	var timer Timer
	var active, overlaps, calls atomic.Int64
	callback := func() {
		if active.Add(1) > 1 {
			overlaps.Add(1)
		}
		time.Sleep(2 * tick)
		active.Add(-1)
		calls.Add(1)
	}
	t.Cleanup(timer.Stop)

	for i := 0; i < 5; i++ {
		timer.Start(callback, time.Millisecond)
		time.Sleep(3 * time.Millisecond)
	}
	waitFor(t, func() bool { return calls.Load() >= 3 })
	if overlaps.Load() != 0 {
		t.Fatalf("overlapping callbacks = %d, want 0", overlaps.Load())
	}
}
