// Package clock abstracts wall time and one-shot timers so that settle and
// drain deadlines can be driven deterministically in tests.
package clock

import "time"

// Clock provides time-related operations for testability.
// Use Real for production and clocktest.Clock for testing.
type Clock interface {
	Now() time.Time

	// AfterFunc waits for the duration to elapse and then calls f in its
	// own goroutine. The returned Timer can cancel the call.
	AfterFunc(d time.Duration, f func()) Timer
}

// Timer is a cancellable pending call scheduled by Clock.AfterFunc.
type Timer interface {
	// Stop prevents the Timer from firing. Returns true if the call stops
	// the timer, false if the timer has already expired or been stopped.
	Stop() bool
}

// Real implements Clock using the standard time package.
type Real struct{}

var _ Clock = Real{}

func (Real) Now() time.Time { return time.Now() }

func (Real) AfterFunc(d time.Duration, f func()) Timer {
	return time.AfterFunc(d, f)
}
