// Package clock abstracts wall time and deferred callbacks so retry delays
// can be driven deterministically in tests.
package clock

import "time"

// Timer is a pending deferred callback.
type Timer interface {
	// Stop prevents the callback from running. Returns false if it already ran or was stopped.
	Stop() bool
}

// Scheduler provides the current time and deferred callbacks.
type Scheduler interface {
	// Now returns the current time.
	Now() time.Time
	// AfterFunc runs f once d has elapsed.
	AfterFunc(d time.Duration, f func()) Timer
}

// System uses the process clock in UTC and time.AfterFunc.
type System struct{}

// Now returns the current UTC time.
func (System) Now() time.Time {
	return time.Now().UTC()
}

// AfterFunc implements Scheduler with time.AfterFunc.
func (System) AfterFunc(d time.Duration, f func()) Timer {
	return time.AfterFunc(d, f)
}
