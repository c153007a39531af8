package engine

import (
	"iter"
	"time"

	"github.com/roach88/storetest/action"
	"github.com/roach88/storetest/caller"
	"github.com/roach88/storetest/effect"
)

// Script is a test body. It runs as a coroutine: every call to Yield.Do
// suspends it until the engine has resolved the instruction. Returning from
// the body ends the script.
//
// Panics and runtime.Goexit (for example from t.FailNow or require) inside the
// body propagate unmodified out of Run.
type Script[S any] func(y *Yield[S])

// Yield is the script's handle on the engine.
type Yield[S any] struct {
	yield  func(effect.Instruction) bool
	cursor *cursor[S]
	spawn  func(fn func())
}

// stopSignal unwinds a script that the engine abandoned mid-instruction.
type stopSignal struct{}

// Do issues an instruction, suspends until it resolves and returns the action
// log and snapshot as of the resumption.
func (y *Yield[S]) Do(in effect.Instruction) Result[S] {
	if !y.yield(in) {
		panic(stopSignal{})
	}
	return y.cursor.last
}

// Dispatch submits a to the container.
func (y *Yield[S]) Dispatch(a *action.Action) Result[S] {
	return y.Do(effect.Dispatch(a))
}

// WaitForAction waits for the next action of type typ.
func (y *Yield[S]) WaitForAction(typ string) Result[S] {
	return y.Do(effect.WaitForAction(typ))
}

// WaitForActionMatch waits for the next action accepted by match.
func (y *Yield[S]) WaitForActionMatch(match func(a *action.Action, past []*action.Action) bool) Result[S] {
	return y.Do(effect.WaitForActionMatch(match))
}

// WaitForState waits until pred accepts the current snapshot.
func (y *Yield[S]) WaitForState(pred func(state S, past []*action.Action) bool) Result[S] {
	return y.Do(effect.WaitForState(pred))
}

// WaitForCall waits until c has been called, or called times times.
func (y *Yield[S]) WaitForCall(c *caller.Caller, times ...int) Result[S] {
	return y.Do(effect.WaitForCall(c, times...))
}

// WaitForMs waits for ms milliseconds on the engine clock.
func (y *Yield[S]) WaitForMs(ms int, callback ...func()) Result[S] {
	return y.Do(effect.WaitForMs(ms, callback...))
}

// WaitForDuration waits for d on the engine clock.
func (y *Yield[S]) WaitForDuration(d time.Duration, callback ...func()) Result[S] {
	return y.Do(effect.WaitForDuration(d, callback...))
}

// WaitForPromise waits until done is closed.
func (y *Yield[S]) WaitForPromise(done <-chan struct{}) Result[S] {
	return y.Do(effect.WaitForPromise(done))
}

// WaitForPendingWork waits for tracked async work to settle.
func (y *Yield[S]) WaitForPendingWork() Result[S] {
	return y.Do(effect.WaitForPendingWork())
}

// WaitFor polls pred until it returns true.
func (y *Yield[S]) WaitFor(pred func() bool, interval ...time.Duration) Result[S] {
	return y.Do(effect.WaitFor(pred, interval...))
}

// Go runs fn on a goroutine tracked by the engine. WaitForPendingWork waits
// for it to return. Actions fn dispatches reach the engine like any other.
//
// Work started before the init hook has returned is held back until then, so
// fn can rely on the container being connected.
func (y *Yield[S]) Go(fn func()) {
	y.spawn(fn)
}

// cursor drives a Script through iter.Pull.
type cursor[S any] struct {
	next func() (effect.Instruction, bool)
	stop func()
	last Result[S]
}

func newCursor[S any](script Script[S], spawn func(fn func())) *cursor[S] {
	c := &cursor[S]{}
	seq := func(yield func(effect.Instruction) bool) {
		defer func() {
			if r := recover(); r != nil {
				if _, ok := r.(stopSignal); !ok {
					panic(r)
				}
			}
		}()
		script(&Yield[S]{yield: yield, cursor: c, spawn: spawn})
	}
	c.next, c.stop = iter.Pull(seq)
	return c
}

// resume hands r to the script and returns its next instruction. ok is false
// once the script has returned.
func (c *cursor[S]) resume(r Result[S]) (effect.Instruction, bool) {
	c.last = r
	return c.next()
}
