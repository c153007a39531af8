package effect

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/storetest/action"
	"github.com/roach88/storetest/caller"
)

type status struct {
	Value string
}

func isOk(s status, _ []*action.Action) bool { return s.Value == "Ok" }

func TestKinds(t *testing.T) {
	cases := []struct {
		in   Instruction
		kind Kind
	}{
		{Dispatch(action.New("a")), KindDispatch},
		{WaitForAction("a"), KindWaitForAction},
		{WaitForState(isOk), KindWaitForState},
		{WaitForCall(caller.New()), KindWaitForCall},
		{WaitForMs(10), KindWaitForMs},
		{WaitForPromise(make(chan struct{})), KindWaitForPromise},
		{WaitForPendingWork(), KindWaitForPending},
		{WaitFor(func() bool { return true }), KindWaitForExternal},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.kind, tc.in.Kind())
	}
}

func TestString(t *testing.T) {
	assert.Equal(t, "dispatchAction: Action type - setOk", Dispatch(action.New("setOk")).String())
	assert.Equal(t, "waitForActionType: Type - setOk", WaitForAction("setOk").String())
	assert.Equal(t, "waitForStoreState: Condition name - statusOk", WaitForState(isOk).Named("statusOk").String())
	assert.Equal(t, "waitForCall: Name - onSubmit, Times - 2", WaitForCall(caller.New("onSubmit"), 2).String())
	assert.Equal(t, "waitForCall: Name - empty, Times - 1", WaitForCall(caller.New()).String())
	assert.Equal(t, "waitForMs: Ms - 10, Callback - empty", WaitForMs(10).String())
	assert.Equal(t, "waitForMs: Ms - 1500, Callback - tick", WaitForDuration(1500*time.Millisecond, func() {}).CallbackNamed("tick").String())
	assert.Equal(t, "waitForPromise: Promise", WaitForPromise(nil).String())
	assert.Equal(t, "waitForMicrotasksToFinish: Pending work", WaitForPendingWork().String())
	assert.Equal(t, "waitFor: Condition name - ready, Interval - 10ms", WaitFor(func() bool { return true }).Named("ready").String())
}

func TestString_DerivesFunctionNames(t *testing.T) {
	s := WaitForState(isOk).String()
	assert.True(t, strings.HasSuffix(s, "effect.isOk"), s)

	m := WaitForActionMatch(func(a *action.Action, _ []*action.Action) bool { return true }).String()
	assert.Contains(t, m, "Condition name - effect.TestString_DerivesFunctionNames.func")
}

func TestActionWait_Matches(t *testing.T) {
	w := WaitForAction("setOk")
	assert.True(t, w.Matches(action.New("setOk"), nil))
	assert.False(t, w.Matches(action.New("setError"), nil))
	assert.False(t, w.Matches(nil, nil))

	second := WaitForActionMatch(func(a *action.Action, past []*action.Action) bool {
		return a.Type == "inc" && len(past) >= 2
	})
	first := action.New("inc")
	assert.False(t, second.Matches(first, []*action.Action{first}))
	assert.True(t, second.Matches(action.New("inc"), []*action.Action{first, first}))
}

func TestStateWait_Holds(t *testing.T) {
	w := WaitForState(isOk)
	assert.True(t, w.Holds(status{Value: "Ok"}, nil))
	assert.False(t, w.Holds(status{Value: "C"}, nil))
}

func TestStateWait_RejectsSnapshotOfAnotherType(t *testing.T) {
	w := WaitForState(func(s status, _ []*action.Action) bool { return s.Value == "" })
	assert.True(t, w.Accepts(status{}))
	assert.False(t, w.Accepts(&status{}))
	assert.False(t, w.Accepts("Ok"))
	assert.False(t, w.Accepts(nil))
	assert.Equal(t, "status", w.StateType().Name())

	assert.PanicsWithError(t, "effect: condition over effect.status got snapshot of type *effect.status", func() {
		w.Holds(&status{}, nil)
	})
}

func TestStateWait_InterfaceStateAcceptsNil(t *testing.T) {
	w := WaitForState(func(s any, _ []*action.Action) bool { return s == nil })
	assert.True(t, w.Accepts(nil))
	assert.True(t, w.Accepts(3))
	assert.True(t, w.Holds(nil, nil))
}

func TestWaitForCall_Times(t *testing.T) {
	c := caller.New()
	assert.Equal(t, 1, WaitForCall(c).Times)
	assert.Equal(t, 1, WaitForCall(c, 0).Times)
	assert.Equal(t, 3, WaitForCall(c, 3).Times)

	w := WaitForCall(c, 2)
	c.Call()
	assert.False(t, w.Satisfied())
	c.Call()
	assert.True(t, w.Satisfied())
}

func TestWaitForMs_Duration(t *testing.T) {
	assert.Equal(t, 250*time.Millisecond, WaitForMs(250).D)
	assert.Nil(t, WaitForMs(1).Callback)
}

func TestWaitFor_IntervalDefault(t *testing.T) {
	pred := func() bool { return false }
	assert.Equal(t, 10*time.Millisecond, WaitFor(pred).Interval)
	assert.Equal(t, time.Second, WaitFor(pred, time.Second).Interval)
	assert.Equal(t, 10*time.Millisecond, WaitFor(pred, 0).Interval)
}

func TestWaitForContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	w := WaitForContext(ctx)
	cancel()
	_, open := <-w.Done
	assert.False(t, open)
}

func TestLog(t *testing.T) {
	var l Log
	assert.Nil(t, l.Last())

	first := WaitForAction("a")
	l.Append(first)
	l.Append(WaitForMs(1))

	snap := l.Snapshot()
	require.Len(t, snap, 2)
	assert.Same(t, first, snap[0])
	assert.Equal(t, KindWaitForMs, l.Last().Kind())

	snap[0] = nil
	assert.NotNil(t, l.Snapshot()[0])
	assert.Equal(t, 2, l.Len())
}
