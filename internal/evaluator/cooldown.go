package evaluator

import (
	"time"
)

// CooldownElapsed reports whether a rule that last fired at last may fire
// again at now. A rule that never fired is always allowed.
func CooldownElapsed(last *time.Time, now time.Time, cooldown time.Duration) bool {
	if last == nil {
		return true
	}
	return now.Sub(*last) >= cooldown
}

// Remaining is the time left before a rule may fire again, zero when elapsed.
func Remaining(last *time.Time, now time.Time, cooldown time.Duration) time.Duration {
	if CooldownElapsed(last, now, cooldown) {
		return 0
	}
	return cooldown - now.Sub(*last)
}
