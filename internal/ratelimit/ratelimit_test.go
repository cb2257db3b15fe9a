package ratelimit

import (
	"testing"
	"time"
)

func TestIntervalGate(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	interval := 60 * time.Second

	if d := Allow(now.Add(-30*time.Second), 1, now, interval, 0); d.Allowed {
		t.Error("30s since last run must be blocked by a 60s interval")
	}
	if d := Allow(now.Add(-60*time.Second), 1, now, interval, 0); !d.Allowed {
		t.Errorf("exactly 60s must pass: %s", d.Reason)
	}
	if d := Allow(now.Add(-120*time.Second), 1, now, interval, 0); !d.Allowed {
		t.Errorf("120s since last run must pass: %s", d.Reason)
	}
	if d := Allow(time.Time{}, 1, now, interval, 0); !d.Allowed {
		t.Errorf("never-ran must pass the interval gate: %s", d.Reason)
	}
}

func TestCountGate(t *testing.T) {
	now := time.Now()
	for inv := int64(1); inv <= 9; inv++ {
		d := Allow(time.Time{}, inv, now, 0, 3)
		want := inv%3 == 0
		if d.Allowed != want {
			t.Errorf("invocation %d with every_n=3: allowed=%v, want %v", inv, d.Allowed, want)
		}
	}
}

func TestBothGatesMustPass(t *testing.T) {
	now := time.Now()
	// Count gate passes, interval gate blocks.
	if d := Allow(now.Add(-10*time.Second), 3, now, time.Minute, 3); d.Allowed {
		t.Error("interval gate must still block when count gate passes")
	}
	// Interval gate passes, count gate blocks.
	if d := Allow(now.Add(-2*time.Minute), 4, now, time.Minute, 3); d.Allowed {
		t.Error("count gate must still block when interval gate passes")
	}
	if d := Allow(now.Add(-2*time.Minute), 6, now, time.Minute, 3); !d.Allowed {
		t.Errorf("both gates passing must allow: %s", d.Reason)
	}
}

func TestZeroValuesDisableGates(t *testing.T) {
	if d := Allow(time.Now(), 7, time.Now(), 0, 0); !d.Allowed {
		t.Errorf("no gates configured must always allow: %s", d.Reason)
	}
}
