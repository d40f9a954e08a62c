// Package clock abstracts time so the timer scheduler can be driven
// deterministically in tests instead of sleeping for real. Scheduler
// objects are owned by the engine rather than kept as module-level
// statics, so swapping in a virtual clock is just a constructor
// argument.
package clock

import "time"

// Clock is the minimal surface the timer scheduler needs.
type Clock interface {
	Now() time.Time
	// AfterFunc schedules f to run after d elapses and returns a Timer
	// that can be stopped or reset.
	AfterFunc(d time.Duration, f func()) Timer
}

// Timer is the subset of *time.Timer the scheduler depends on.
type Timer interface {
	Stop() bool
	Reset(d time.Duration) bool
}

// Real is a Clock backed by the standard library.
type Real struct{}

// Now returns time.Now().
func (Real) Now() time.Time { return time.Now() }

// AfterFunc delegates to time.AfterFunc.
func (Real) AfterFunc(d time.Duration, f func()) Timer {
	return time.AfterFunc(d, f)
}
