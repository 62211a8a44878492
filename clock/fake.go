package clock

import (
	"sort"
	"sync"
	"time"
)

// Fake is a manually advanced Clock for tests. Timers fire synchronously
// inside Advance, in deadline order; a callback that re-arms itself with
// a deadline still inside the advanced window fires in the same call.
type Fake struct {
	mu      sync.Mutex
	now     time.Time
	waiters []*fakeTimer
}

// NewFake returns a Fake pinned to an arbitrary fixed instant.
func NewFake() *Fake {
	return &Fake{now: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}
}

func (f *Fake) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now
}

func (f *Fake) AfterFunc(d time.Duration, fn func()) Timer {
	f.mu.Lock()
	defer f.mu.Unlock()
	t := &fakeTimer{clk: f, deadline: f.now.Add(d), fn: fn}
	f.waiters = append(f.waiters, t)
	sort.SliceStable(f.waiters, func(i, j int) bool {
		return f.waiters[i].deadline.Before(f.waiters[j].deadline)
	})
	return t
}

// Advance moves the clock forward by d, firing every timer whose
// deadline falls inside the window.
func (f *Fake) Advance(d time.Duration) {
	f.mu.Lock()
	target := f.now.Add(d)
	for {
		var next *fakeTimer
		for _, t := range f.waiters {
			if !t.stopped && !t.deadline.After(target) {
				next = t
				break
			}
		}
		if next == nil {
			break
		}
		if next.deadline.After(f.now) {
			f.now = next.deadline
		}
		next.stopped = true
		f.remove(next)
		fn := next.fn
		f.mu.Unlock()
		fn()
		f.mu.Lock()
	}
	f.now = target
	f.mu.Unlock()
}

// PendingCount reports how many timers are armed.
func (f *Fake) PendingCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.waiters)
}

func (f *Fake) remove(t *fakeTimer) {
	for i, w := range f.waiters {
		if w == t {
			f.waiters = append(f.waiters[:i], f.waiters[i+1:]...)
			return
		}
	}
}

type fakeTimer struct {
	clk      *Fake
	deadline time.Time
	fn       func()
	stopped  bool
}

func (t *fakeTimer) Stop() bool {
	t.clk.mu.Lock()
	defer t.clk.mu.Unlock()
	if t.stopped {
		return false
	}
	t.stopped = true
	t.clk.remove(t)
	return true
}
