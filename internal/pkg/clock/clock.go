// Package clock abstracts wall time so scheduled work can be driven by a fake in tests.
package clock

import "time"

// Clock is the subset of the time package the schedulers depend on.
type Clock interface {
	Now() time.Time
	After(d time.Duration) <-chan time.Time
}

type realClock struct{}

// Real returns a Clock backed by the time package.
func Real() Clock { return realClock{} }

func (realClock) Now() time.Time { return time.Now() }

func (realClock) After(d time.Duration) <-chan time.Time { return time.After(d) }
