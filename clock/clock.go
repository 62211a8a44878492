// Package clock abstracts time for components that schedule work, so
// tests can drive timers deterministically instead of sleeping.
package clock

import "time"

// Clock provides the two time operations the relay schedules against.
type Clock interface {
	Now() time.Time
	// AfterFunc runs f on its own goroutine after d elapses. The
	// returned Timer can cancel the callback before it fires.
	AfterFunc(d time.Duration, f func()) Timer
}

// Timer is a cancellable scheduled callback.
type Timer interface {
	// Stop cancels the timer. It returns false if the callback already
	// fired or was stopped.
	Stop() bool
}

// System returns a Clock backed by the time package.
func System() Clock { return systemClock{} }

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

func (systemClock) AfterFunc(d time.Duration, f func()) Timer {
	return systemTimer{time.AfterFunc(d, f)}
}

type systemTimer struct{ t *time.Timer }

func (t systemTimer) Stop() bool { return t.t.Stop() }
