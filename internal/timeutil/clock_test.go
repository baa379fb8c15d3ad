package timeutil

import (
	"context"
	"testing"
	"time"
)

func TestRealClock_Now(t *testing.T) {
	clock := RealClock{}
	before := time.Now()
	now := clock.Now()
	after := time.Now()

	if now.Before(before) || now.After(after) {
		t.Errorf("Now() = %v, expected between %v and %v", now, before, after)
	}
}

func TestRealClock_Since(t *testing.T) {
	clock := RealClock{}
	past := time.Now().Add(-time.Second)
	if d := clock.Since(past); d < time.Second {
		t.Errorf("Since() returned %v, expected >= 1s", d)
	}
}

func TestRealClock_NewTicker(t *testing.T) {
	clock := RealClock{}
	ticker := clock.NewTicker(10 * time.Millisecond)
	defer ticker.Stop()

	select {
	case <-ticker.C():
	case <-time.After(200 * time.Millisecond):
		t.Error("ticker did not fire")
	}
}

func TestMockClock_SleepAdvances(t *testing.T) {
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	clock := NewMockClock(start)

	clock.Sleep(200 * time.Millisecond)
	clock.Sleep(time.Second)

	if got := clock.Since(start); got != 1200*time.Millisecond {
		t.Errorf("Since(start) = %v, want 1.2s", got)
	}
	sleeps := clock.Sleeps()
	if len(sleeps) != 2 || sleeps[0] != 200*time.Millisecond || sleeps[1] != time.Second {
		t.Errorf("Sleeps() = %v", sleeps)
	}
}

func TestMockTicker_FiresOnAdvance(t *testing.T) {
	clock := NewMockClock(time.Unix(0, 0))
	ticker := clock.NewTicker(50 * time.Millisecond)

	clock.Advance(10 * time.Millisecond)
	select {
	case <-ticker.C():
		t.Fatal("ticker fired early")
	default:
	}

	clock.Advance(40 * time.Millisecond)
	select {
	case <-ticker.C():
	default:
		t.Fatal("ticker did not fire at interval")
	}

	ticker.Stop()
	clock.Advance(time.Second)
	select {
	case <-ticker.C():
		t.Fatal("stopped ticker fired")
	default:
	}
}

func TestWaitUntil(t *testing.T) {
	tests := []struct {
		name      string
		readyAt   int // cond becomes true on this call (0 = never)
		timeout   time.Duration
		want      bool
		wantCalls int
	}{
		{name: "immediately ready", readyAt: 1, timeout: time.Second, want: true, wantCalls: 1},
		{name: "ready on third probe", readyAt: 3, timeout: time.Second, want: true, wantCalls: 3},
		{name: "never ready", readyAt: 0, timeout: 500 * time.Millisecond, want: false, wantCalls: 6},
		{name: "zero timeout", readyAt: 0, timeout: 0, want: false, wantCalls: 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clock := NewMockClock(time.Unix(0, 0))
			calls := 0
			got := WaitUntil(context.Background(), clock, tt.timeout, 100*time.Millisecond, func() bool {
				calls++
				return tt.readyAt != 0 && calls >= tt.readyAt
			})
			if got != tt.want {
				t.Errorf("WaitUntil() = %v, want %v", got, tt.want)
			}
			if calls != tt.wantCalls {
				t.Errorf("cond called %d times, want %d", calls, tt.wantCalls)
			}
			if clock.Since(time.Unix(0, 0)) > tt.timeout {
				t.Errorf("waited %v, longer than timeout %v", clock.Since(time.Unix(0, 0)), tt.timeout)
			}
		})
	}
}

func TestWaitUntil_ContextCancelled(t *testing.T) {
	clock := NewMockClock(time.Unix(0, 0))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	calls := 0
	if WaitUntil(ctx, clock, time.Hour, time.Second, func() bool { calls++; return false }) {
		t.Fatal("WaitUntil returned true with cancelled context")
	}
	if calls != 1 {
		t.Errorf("cond called %d times, want 1", calls)
	}
}
