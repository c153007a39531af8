// Package effect defines the closed set of instructions a test script can
// issue, their constructors, and the append-only log of issued instructions.
//
// Every instruction renders itself for diagnostics through String, using the
// tag returned by Kind followed by kind-specific detail:
//
//	dispatchAction: Action type - setOk
//	waitForActionType: Type - setOk
//	waitForStoreState: Condition name - isOk
//	waitForCall: Name - onSubmit, Times - 2
//	waitForMs: Ms - 10, Callback - empty
//	waitForPromise: Promise
//	waitForMicrotasksToFinish: Pending work
//	waitFor: Condition name - ready, Interval - 10ms
package effect

import (
	"context"
	"fmt"
	"reflect"
	"runtime"
	"strings"
	"time"

	"github.com/roach88/storetest/action"
	"github.com/roach88/storetest/caller"
	"github.com/roach88/storetest/internal/wait"
)

// Kind tags an instruction.
type Kind string

const (
	KindDispatch        Kind = "dispatchAction"
	KindWaitForAction   Kind = "waitForActionType"
	KindWaitForState    Kind = "waitForStoreState"
	KindWaitForCall     Kind = "waitForCall"
	KindWaitForMs       Kind = "waitForMs"
	KindWaitForPromise  Kind = "waitForPromise"
	KindWaitForPending  Kind = "waitForMicrotasksToFinish"
	KindWaitForExternal Kind = "waitFor"
)

// empty is printed for values that carry no name.
const empty = "empty"

// Instruction is one step of a test script.
// The set of implementations is closed; see the constructors below.
type Instruction interface {
	Kind() Kind
	String() string
	instruction()
}

// DispatchStep submits Action to the container.
type DispatchStep struct {
	Action *action.Action
}

// Dispatch creates an instruction that submits a to the container.
func Dispatch(a *action.Action) *DispatchStep {
	return &DispatchStep{Action: a}
}

func (*DispatchStep) Kind() Kind { return KindDispatch }
func (*DispatchStep) instruction() {}

func (d *DispatchStep) String() string {
	typ := empty
	if d.Action != nil {
		typ = d.Action.Type
	}
	return fmt.Sprintf("%s: Action type - %s", KindDispatch, typ)
}

// ActionWait waits for an action. It matches by Type unless Match is set.
type ActionWait struct {
	Type  string
	Match func(a *action.Action, past []*action.Action) bool
	name  string
}

// WaitForAction waits for the next action of the given type.
func WaitForAction(typ string) *ActionWait {
	return &ActionWait{Type: typ}
}

// WaitForActionMatch waits for the next action accepted by match. The
// predicate receives the action and a copy of the log, which already includes
// the action.
func WaitForActionMatch(match func(a *action.Action, past []*action.Action) bool) *ActionWait {
	return &ActionWait{Match: match, name: funcName(match)}
}

// Named sets the diagnostic name of a predicate wait.
func (w *ActionWait) Named(name string) *ActionWait {
	w.name = name
	return w
}

// Matches reports whether a satisfies the wait.
func (w *ActionWait) Matches(a *action.Action, past []*action.Action) bool {
	if a == nil {
		return false
	}
	if w.Match != nil {
		return w.Match(a, past)
	}
	return a.Type == w.Type
}

func (*ActionWait) Kind() Kind { return KindWaitForAction }
func (*ActionWait) instruction() {}

func (w *ActionWait) String() string {
	if w.Match != nil {
		return fmt.Sprintf("%s: Condition name - %s", KindWaitForAction, orEmpty(w.name))
	}
	return fmt.Sprintf("%s: Type - %s", KindWaitForAction, w.Type)
}

// StateWait waits until a predicate over the current snapshot holds.
type StateWait struct {
	holds func(snapshot any, past []*action.Action) bool
	state reflect.Type
	name  string
}

// WaitForState waits until pred accepts the current snapshot and log. The
// check runs as soon as the wait is issued, so a condition that already holds
// resolves without a new action.
func WaitForState[S any](pred func(state S, past []*action.Action) bool) *StateWait {
	w := &StateWait{state: reflect.TypeFor[S](), name: funcName(pred)}
	w.holds = func(snapshot any, past []*action.Action) bool {
		if !w.Accepts(snapshot) {
			panic(fmt.Errorf("effect: condition over %v got snapshot of type %T", w.state, snapshot))
		}
		s, _ := snapshot.(S)
		return pred(s, past)
	}
	return w
}

// Accepts reports whether snapshot has the state type the condition was
// built for. Holds panics on a snapshot it does not accept.
func (w *StateWait) Accepts(snapshot any) bool {
	if snapshot == nil {
		return w.state.Kind() == reflect.Interface
	}
	return reflect.TypeOf(snapshot).AssignableTo(w.state)
}

// StateType returns the state type the condition was built for.
func (w *StateWait) StateType() reflect.Type {
	return w.state
}

// Named sets the diagnostic name of the condition.
func (w *StateWait) Named(name string) *StateWait {
	w.name = name
	return w
}

// Holds evaluates the condition.
func (w *StateWait) Holds(snapshot any, past []*action.Action) bool {
	return w.holds(snapshot, past)
}

func (*StateWait) Kind() Kind { return KindWaitForState }
func (*StateWait) instruction() {}

func (w *StateWait) String() string {
	return fmt.Sprintf("%s: Condition name - %s", KindWaitForState, orEmpty(w.name))
}

// CallWait waits until Caller has been invoked Times times in total.
type CallWait struct {
	Caller *caller.Caller
	Times  int
}

// WaitForCall waits for c to be called. An optional count requires that many
// invocations since c was created; calls made before the wait count.
func WaitForCall(c *caller.Caller, times ...int) *CallWait {
	n := 1
	if len(times) > 0 && times[0] > 1 {
		n = times[0]
	}
	return &CallWait{Caller: c, Times: n}
}

// Satisfied reports whether the call requirement is already met.
func (w *CallWait) Satisfied() bool {
	return w.Caller != nil && w.Caller.WasCalled(w.Times)
}

func (*CallWait) Kind() Kind { return KindWaitForCall }
func (*CallWait) instruction() {}

func (w *CallWait) String() string {
	name := ""
	if w.Caller != nil {
		name = w.Caller.Name()
	}
	return fmt.Sprintf("%s: Name - %s, Times - %d", KindWaitForCall, orEmpty(name), w.Times)
}

// DurationWait waits for D to elapse on the engine's clock. Callback, when
// set, is started as soon as the timer is scheduled.
type DurationWait struct {
	D            time.Duration
	Callback     func()
	callbackName string
}

// WaitForMs waits for ms milliseconds. See WaitForDuration.
func WaitForMs(ms int, callback ...func()) *DurationWait {
	return WaitForDuration(time.Duration(ms)*time.Millisecond, callback...)
}

// WaitForDuration waits for d on the engine's clock. The optional callback is
// invoked right after the timer is registered, not after the delay, so it can
// advance a manual clock while the wait is pending.
func WaitForDuration(d time.Duration, callback ...func()) *DurationWait {
	w := &DurationWait{D: d}
	if len(callback) > 0 && callback[0] != nil {
		w.Callback = callback[0]
		w.callbackName = funcName(callback[0])
	}
	return w
}

// CallbackNamed sets the diagnostic name of the callback.
func (w *DurationWait) CallbackNamed(name string) *DurationWait {
	w.callbackName = name
	return w
}

func (*DurationWait) Kind() Kind { return KindWaitForMs }
func (*DurationWait) instruction() {}

func (w *DurationWait) String() string {
	return fmt.Sprintf("%s: Ms - %d, Callback - %s", KindWaitForMs, w.D.Milliseconds(), orEmpty(w.callbackName))
}

// PromiseWait waits until Done is closed. The value behind it is never read.
type PromiseWait struct {
	Done <-chan struct{}
}

// WaitForPromise waits until done is closed.
func WaitForPromise(done <-chan struct{}) *PromiseWait {
	return &PromiseWait{Done: done}
}

// WaitForContext waits until ctx is done.
func WaitForContext(ctx context.Context) *PromiseWait {
	return &PromiseWait{Done: ctx.Done()}
}

func (*PromiseWait) Kind() Kind { return KindWaitForPromise }
func (*PromiseWait) instruction() {}

func (*PromiseWait) String() string {
	return fmt.Sprintf("%s: Promise", KindWaitForPromise)
}

// DrainWait lets pending asynchronous work settle without waiting for any
// particular action.
type DrainWait struct{}

// WaitForPendingWork waits for in-flight asynchronous work tracked by the
// engine and the container, then for one more timer turn.
func WaitForPendingWork() *DrainWait {
	return &DrainWait{}
}

func (*DrainWait) Kind() Kind { return KindWaitForPending }
func (*DrainWait) instruction() {}

func (*DrainWait) String() string {
	return fmt.Sprintf("%s: Pending work", KindWaitForPending)
}

// ConditionWait polls Predicate every Interval until it returns true.
type ConditionWait struct {
	Predicate func() bool
	Interval  time.Duration
	name      string
}

// WaitFor polls pred until it returns true. The interval defaults to
// wait.DefaultPollInterval.
func WaitFor(pred func() bool, interval ...time.Duration) *ConditionWait {
	w := &ConditionWait{Predicate: pred, Interval: wait.DefaultPollInterval, name: funcName(pred)}
	if len(interval) > 0 && interval[0] > 0 {
		w.Interval = interval[0]
	}
	return w
}

// Named sets the diagnostic name of the condition.
func (w *ConditionWait) Named(name string) *ConditionWait {
	w.name = name
	return w
}

func (*ConditionWait) Kind() Kind { return KindWaitForExternal }
func (*ConditionWait) instruction() {}

func (w *ConditionWait) String() string {
	return fmt.Sprintf("%s: Condition name - %s, Interval - %s", KindWaitForExternal, orEmpty(w.name), w.Interval)
}

func orEmpty(s string) string {
	if s == "" {
		return empty
	}
	return s
}

// funcName returns the short Go name of fn, e.g. "mypkg.isReady" or
// "mypkg.TestX.func1".
func funcName(fn any) string {
	v := reflect.ValueOf(fn)
	if !v.IsValid() || v.Kind() != reflect.Func || v.IsNil() {
		return ""
	}
	f := runtime.FuncForPC(v.Pointer())
	if f == nil {
		return ""
	}
	name := f.Name()
	if i := strings.LastIndex(name, "/"); i >= 0 {
		name = name[i+1:]
	}
	return name
}
