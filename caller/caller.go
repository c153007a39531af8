// Package caller provides handles that record invocations of callbacks handed
// to the code under test, so a script can wait until they are called.
package caller

import "sync"

// Caller counts its invocations and notifies listeners.
//
// The invocation count only increases. Listeners registered with Subscribe
// fire once, on the next call, and are then dropped. Channels returned by
// Notify are closed once the count reaches the requested number.
type Caller struct {
	mu        sync.Mutex
	name      string
	calls     int
	listeners []func()
	waiters   []waiter
}

type waiter struct {
	times int
	done  chan struct{}
}

// New creates a caller. The optional name is shown in diagnostics.
func New(name ...string) *Caller {
	c := &Caller{}
	if len(name) > 0 {
		c.name = name[0]
	}
	return c
}

// Name returns the diagnostic name, or "" when the caller is unnamed.
func (c *Caller) Name() string {
	return c.name
}

// Call records one invocation.
// Safe to call from any goroutine.
func (c *Caller) Call() {
	c.mu.Lock()
	c.calls++
	listeners := c.listeners
	c.listeners = nil
	var ready []chan struct{}
	pending := c.waiters[:0]
	for _, w := range c.waiters {
		if c.calls >= w.times {
			ready = append(ready, w.done)
		} else {
			pending = append(pending, w)
		}
	}
	c.waiters = pending
	c.mu.Unlock()

	for _, fn := range listeners {
		fn()
	}
	for _, ch := range ready {
		close(ch)
	}
}

// Func returns Call as a plain function value, for APIs that take a callback.
func (c *Caller) Func() func() {
	return c.Call
}

// Calls returns the number of invocations so far.
func (c *Caller) Calls() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.calls
}

// WasCalled reports whether the caller was invoked at least times times
// (default 1).
func (c *Caller) WasCalled(times ...int) bool {
	n := 1
	if len(times) > 0 {
		n = times[0]
	}
	return c.Calls() >= n
}

// Subscribe registers fn to run on the next invocation only.
func (c *Caller) Subscribe(fn func()) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.listeners = append(c.listeners, fn)
}

// Notify returns a channel that is closed once the caller has been invoked
// times times in total. Invocations made before Notify count. The channel is
// already closed when the requirement is met.
func (c *Caller) Notify(times int) <-chan struct{} {
	if times < 1 {
		times = 1
	}
	done := make(chan struct{})

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.calls >= times {
		close(done)
		return done
	}
	c.waiters = append(c.waiters, waiter{times: times, done: done})
	return done
}
