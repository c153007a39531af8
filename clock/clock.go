// Package clock abstracts the timer source used by the test engine, so runs
// can be driven by wall time or advanced by hand.
package clock

import (
	"sort"
	"sync"
	"time"
)

// Clock is a timer source.
type Clock interface {
	Now() time.Time
	// After returns a channel that receives once d has elapsed on this clock.
	// A non-positive d fires immediately.
	After(d time.Duration) <-chan time.Time
}

type realClock struct{}

// Real returns the wall clock.
func Real() Clock {
	return realClock{}
}

func (realClock) Now() time.Time { return time.Now() }

func (realClock) After(d time.Duration) <-chan time.Time {
	return time.After(d)
}

// Manual is a deterministic clock. Time only moves when Advance or RunAll is
// called, and timers fire in deadline order.
//
// Thread-safety: all methods are safe for concurrent use.
type Manual struct {
	mu     sync.Mutex
	cond   *sync.Cond
	now    time.Time
	seq    int64
	timers []*timer
}

type timer struct {
	deadline time.Time
	seq      int64
	ch       chan time.Time
}

// NewManual creates a manual clock. It starts at the Unix epoch unless a
// start time is given.
func NewManual(start ...time.Time) *Manual {
	m := &Manual{now: time.Unix(0, 0).UTC()}
	if len(start) > 0 {
		m.now = start[0]
	}
	m.cond = sync.NewCond(&m.mu)
	return m
}

// Now returns the current manual time.
func (m *Manual) Now() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.now
}

// After registers a timer that fires when the clock has been advanced by d.
func (m *Manual) After(d time.Duration) <-chan time.Time {
	ch := make(chan time.Time, 1)

	m.mu.Lock()
	defer m.mu.Unlock()
	if d <= 0 {
		ch <- m.now
		return ch
	}
	m.seq++
	m.timers = append(m.timers, &timer{deadline: m.now.Add(d), seq: m.seq, ch: ch})
	m.cond.Broadcast()
	return ch
}

// Advance moves the clock forward by d and fires every timer whose deadline
// has been reached.
func (m *Manual) Advance(d time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.now = m.now.Add(d)
	m.fireLocked()
}

// RunAll fires every timer registered so far, moving the clock to the latest
// deadline. Timers registered while firing are left pending.
func (m *Manual) RunAll() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, t := range m.timers {
		if t.deadline.After(m.now) {
			m.now = t.deadline
		}
	}
	m.fireLocked()
}

// Pending returns the number of timers that have not fired.
func (m *Manual) Pending() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.timers)
}

// BlockUntil waits until at least n timers are pending.
func (m *Manual) BlockUntil(n int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for len(m.timers) < n {
		m.cond.Wait()
	}
}

func (m *Manual) fireLocked() {
	sort.SliceStable(m.timers, func(i, j int) bool {
		if m.timers[i].deadline.Equal(m.timers[j].deadline) {
			return m.timers[i].seq < m.timers[j].seq
		}
		return m.timers[i].deadline.Before(m.timers[j].deadline)
	})

	remaining := m.timers[:0]
	for _, t := range m.timers {
		if t.deadline.After(m.now) {
			remaining = append(remaining, t)
			continue
		}
		t.ch <- m.now
	}
	m.timers = remaining
}
