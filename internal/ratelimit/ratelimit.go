// Package ratelimit implements the shared rate gate for hook entries and
// dispatcher actions. Two independent limits apply: a minimum wall-clock
// interval since the last run, and a count gate that fires only on every Nth
// invocation. An entry runs when both gates pass; a zero value disables its
// gate.
package ratelimit

import (
	"fmt"
	"time"
)

// Decision reports a gate outcome. Reason is empty when Allowed.
type Decision struct {
	Allowed bool
	Reason  string
}

// Allow evaluates the gates for one invocation. lastRun is the wall-clock
// time of the previous actual run (zero means never ran); invocation is the
// 1-based count of opportunities including this one.
func Allow(lastRun time.Time, invocation int64, now time.Time, minInterval time.Duration, everyN int) Decision {
	if everyN > 0 && invocation%int64(everyN) != 0 {
		return Decision{Reason: fmt.Sprintf("invocation %d not a multiple of %d", invocation, everyN)}
	}
	if minInterval > 0 && !lastRun.IsZero() {
		elapsed := now.Sub(lastRun)
		if elapsed < minInterval {
			return Decision{Reason: fmt.Sprintf("ran %s ago, interval %s", elapsed.Round(time.Second), minInterval)}
		}
	}
	return Decision{Allowed: true}
}
