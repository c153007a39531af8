package testutil

import (
	"sync"
	"time"

	"github.com/roach88/storetest/action"
	"github.com/roach88/storetest/internal/engine"
)

// Container is a hand-driven engine container for tests. Submitted actions
// are reduced and delivered synchronously unless Deferred is set; Emit
// delivers actions the way an effect layer would.
type Container[S any] struct {
	mu        sync.Mutex
	state     S
	reduce    func(S, *action.Action) S
	onEvent   func(*action.Action, S)
	submitted []*action.Action
	echo      map[string]bool
	connects  int

	deferred bool
	delay    time.Duration
	later    []*action.Action
	order    sync.Mutex
}

// NewContainer creates a container. A nil reduce leaves the state unchanged.
func NewContainer[S any](reduce func(S, *action.Action) S, initial S) *Container[S] {
	if reduce == nil {
		reduce = func(s S, _ *action.Action) S { return s }
	}
	return &Container[S]{state: initial, reduce: reduce, echo: make(map[string]bool)}
}

// Echo makes every submitted action of type typ be followed by a new,
// distinct action of the same type.
func (c *Container[S]) Echo(typ string) *Container[S] {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.echo[typ] = true
	return c
}

// Deferred makes Submit return before the action is applied. Each submitted
// action is applied and delivered on its own goroutine after d, in
// submission order.
func (c *Container[S]) Deferred(d time.Duration) *Container[S] {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.deferred, c.delay = true, d
	return c
}

// Connector returns an engine connector bound to this container.
func (c *Container[S]) Connector() engine.Connector[S] {
	return func(onEvent func(*action.Action, S)) engine.Container[S] {
		c.mu.Lock()
		defer c.mu.Unlock()
		c.onEvent = onEvent
		c.connects++
		return c
	}
}

// Submit applies and delivers a, now or after the Deferred delay.
func (c *Container[S]) Submit(a *action.Action) {
	c.mu.Lock()
	c.submitted = append(c.submitted, a)
	if c.deferred {
		c.later = append(c.later, a)
		delay := c.delay
		c.mu.Unlock()
		go func() {
			time.Sleep(delay)
			c.applyNext()
		}()
		return
	}
	c.mu.Unlock()
	c.apply(a)
}

// applyNext applies the oldest deferred action. Each deferred goroutine
// applies exactly one, so order holds whichever goroutine wakes first.
func (c *Container[S]) applyNext() {
	c.order.Lock()
	defer c.order.Unlock()
	c.mu.Lock()
	a := c.later[0]
	c.mu.Unlock()
	c.apply(a)

	c.mu.Lock()
	c.later = c.later[1:]
	c.mu.Unlock()
}

func (c *Container[S]) apply(a *action.Action) {
	c.mu.Lock()
	echo := c.echo[a.Type]
	c.mu.Unlock()

	c.Emit(a)
	if echo {
		c.Emit(action.New(a.Type, a.Payload))
	}
}

// Emit applies and delivers a as if produced by the container itself.
func (c *Container[S]) Emit(a *action.Action) {
	c.mu.Lock()
	c.state = c.reduce(c.state, a)
	state := c.state
	onEvent := c.onEvent
	c.mu.Unlock()

	if onEvent != nil {
		onEvent(a, state)
	}
}

// Snapshot returns the current state.
func (c *Container[S]) Snapshot() S {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Pending returns how many deferred actions are not yet delivered.
func (c *Container[S]) Pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.later)
}

// Submitted returns the actions submitted so far.
func (c *Container[S]) Submitted() []*action.Action {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]*action.Action(nil), c.submitted...)
}

// Connects returns how many times the connector was called.
func (c *Container[S]) Connects() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connects
}
