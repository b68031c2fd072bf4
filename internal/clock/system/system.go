// Package system provides a real clock implementation.
package system

import "time"

// Clock implements loader.Clock using the wall clock.
type Clock struct{}

// New creates a new Clock.
func New() *Clock {
	return &Clock{}
}

// Now returns the current time in UTC.
func (Clock) Now() time.Time {
	return time.Now().UTC()
}

// After waits for d to elapse and then sends the current time on the returned channel.
func (Clock) After(d time.Duration) <-chan time.Time {
	return time.After(d)
}
