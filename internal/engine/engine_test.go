package engine_test

import (
	"context"
	"errors"
	"runtime"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/roach88/storetest/action"
	"github.com/roach88/storetest/caller"
	"github.com/roach88/storetest/clock"
	"github.com/roach88/storetest/effect"
	"github.com/roach88/storetest/internal/engine"
	"github.com/roach88/storetest/internal/testutil"
	"github.com/roach88/storetest/store"
)

type appState struct {
	Status string
	Number int
}

func reduce(s appState, a *action.Action) appState {
	switch a.Type {
	case "setA":
		s.Status = "A"
	case "setB":
		s.Status = "B"
	case "setOk":
		s.Status = "Ok"
	case "setError":
		s.Status = "Error"
	case "inc":
		s.Number++
	}
	return s
}

func statusOk(s appState, _ []*action.Action) bool { return s.Status == "Ok" }

func always(appState, []*action.Action) bool { return true }

func never(appState, []*action.Action) bool { return false }

func newConfig(opts ...store.Option[appState]) engine.Config[appState] {
	return engine.Config[appState]{
		Connect: store.Connect(reduce, appState{Status: "C"}, opts...),
		Timeout: time.Second,
		IDs:     engine.NewFixedIDGenerator("run-1"),
	}
}

func quick(cfg engine.Config[appState]) engine.Config[appState] {
	cfg.Timeout = 30 * time.Millisecond
	return cfg
}

func run(t *testing.T, cfg engine.Config[appState], script engine.Script[appState]) (engine.Result[appState], error) {
	t.Helper()
	return engine.Run(context.Background(), cfg, script)
}

func TestRun_DispatchResultCarriesStateAndLog(t *testing.T) {
	var seen engine.Result[appState]
	res, err := run(t, newConfig(), func(y *engine.Yield[appState]) {
		seen = y.Dispatch(action.New("setOk"))
	})
	require.NoError(t, err)

	assert.Equal(t, "Ok", seen.State.Status)
	assert.Equal(t, []string{"setOk"}, action.Types(seen.Actions))
	assert.Equal(t, "Ok", res.State.Status)
	assert.Empty(t, res.Error)
}

func TestRun_OnlyDispatchesLogsDispatchedActionsInOrder(t *testing.T) {
	actions := []*action.Action{action.New("setA"), action.New("inc"), action.New("setB"), action.New("inc")}
	res, err := run(t, newConfig(), func(y *engine.Yield[appState]) {
		for _, a := range actions {
			y.Dispatch(a)
		}
	})
	require.NoError(t, err)
	require.Len(t, res.Actions, len(actions))
	for i := range actions {
		assert.Same(t, actions[i], res.Actions[i])
	}
	assert.Equal(t, appState{Status: "B", Number: 2}, res.State)
}

func TestRun_DispatchThenWaitForSameTypeTimesOut(t *testing.T) {
	res, err := run(t, quick(newConfig()), func(y *engine.Yield[appState]) {
		y.Dispatch(action.New("setOk"))
		y.WaitForAction("setOk")
	})
	require.Error(t, err)
	assert.True(t, engine.IsTimeout(err))
	assert.Equal(t, []string{"setOk"}, action.Types(res.Actions))
	assert.Contains(t, res.Error, "Effect waitForActionType: Type - setOk was not handled")
}

func TestRun_DispatchThenWaitForSameTypeResolvesOnDistinctEcho(t *testing.T) {
	c := testutil.NewContainer(reduce, appState{Status: "C"}).Echo("setOk")
	cfg := engine.Config[appState]{Connect: c.Connector(), Timeout: time.Second}

	res, err := run(t, cfg, func(y *engine.Yield[appState]) {
		y.Dispatch(action.New("setOk"))
		y.WaitForAction("setOk")
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"setOk", "setOk"}, action.Types(res.Actions))
	assert.NotSame(t, res.Actions[0], res.Actions[1])
}

func TestRun_DispatchThenWaitForSameTypeResolvesOnSagaPut(t *testing.T) {
	echo := store.WithSaga(func(fx *store.Effects[appState]) {
		fx.Take("setOk")
		fx.Put(action.New("setOk"))
	})
	res, err := run(t, newConfig(echo), func(y *engine.Yield[appState]) {
		y.Dispatch(action.New("setOk"))
		y.WaitForAction("setOk")
	})
	require.NoError(t, err)
	assert.Len(t, res.Actions, 2)
}

func TestRun_DispatchThenWaitForState(t *testing.T) {
	res, err := run(t, newConfig(), func(y *engine.Yield[appState]) {
		y.Dispatch(action.New("setOk"))
		y.WaitForState(statusOk)
	})
	require.NoError(t, err)
	assert.Equal(t, appState{Status: "Ok"}, res.State)
	assert.Equal(t, []string{"setOk"}, action.Types(res.Actions))
	assert.Empty(t, res.Error)
}

// containers builds the reducer behind a container that delivers inside
// Submit and one that delivers later on another goroutine.
func containers() map[string]func() *testutil.Container[appState] {
	return map[string]func() *testutil.Container[appState]{
		"sync": func() *testutil.Container[appState] {
			return testutil.NewContainer(reduce, appState{Status: "C"})
		},
		"deferred": func() *testutil.Container[appState] {
			return testutil.NewContainer(reduce, appState{Status: "C"}).Deferred(5 * time.Millisecond)
		},
	}
}

func TestRun_DispatchAndWaitUnderBothDeliveryTimings(t *testing.T) {
	isB := func(s appState, _ []*action.Action) bool { return s.Status == "B" }

	for name, newContainer := range containers() {
		t.Run(name, func(t *testing.T) {
			t.Run("state condition after own dispatch", func(t *testing.T) {
				c := newContainer()
				cfg := engine.Config[appState]{Connect: c.Connector(), Timeout: 200 * time.Millisecond}
				res, err := run(t, cfg, func(y *engine.Yield[appState]) {
					y.Dispatch(action.New("setOk"))
					y.WaitForState(statusOk)
				})
				require.NoError(t, err)
				assert.Equal(t, appState{Status: "Ok"}, res.State)
				assert.Equal(t, []string{"setOk"}, action.Types(res.Actions))
			})

			t.Run("state condition twice", func(t *testing.T) {
				c := newContainer()
				cfg := engine.Config[appState]{Connect: c.Connector(), Timeout: 200 * time.Millisecond}
				res, err := run(t, cfg, func(y *engine.Yield[appState]) {
					y.Dispatch(action.New("setOk"))
					y.WaitForState(statusOk)
					y.WaitForState(statusOk)
				})
				require.NoError(t, err)
				assert.Len(t, res.Actions, 1)
				assert.Len(t, res.Effects, 3)
			})

			t.Run("state condition over several dispatches", func(t *testing.T) {
				c := newContainer()
				cfg := engine.Config[appState]{Connect: c.Connector(), Timeout: 200 * time.Millisecond}
				res, err := run(t, cfg, func(y *engine.Yield[appState]) {
					y.Dispatch(action.New("setA"))
					y.Dispatch(action.New("inc"))
					y.Dispatch(action.New("setB"))
					y.WaitForState(func(s appState, _ []*action.Action) bool {
						return s.Status == "B" && s.Number == 1
					})
				})
				require.NoError(t, err)
				assert.Equal(t, []string{"setA", "inc", "setB"}, action.Types(res.Actions))
				assert.Equal(t, appState{Status: "B", Number: 1}, res.State)
			})

			t.Run("state condition met by emitted action", func(t *testing.T) {
				c := newContainer()
				cfg := engine.Config[appState]{Connect: c.Connector(), Timeout: 200 * time.Millisecond}
				res, err := run(t, cfg, func(y *engine.Yield[appState]) {
					y.Dispatch(action.New("setA"))
					y.Go(func() { c.Emit(action.New("setB")) })
					y.WaitForState(isB)
				})
				require.NoError(t, err)
				assert.Contains(t, action.Types(res.Actions), "setB")
			})

			t.Run("own action never matches action wait", func(t *testing.T) {
				c := newContainer()
				cfg := engine.Config[appState]{Connect: c.Connector(), Timeout: 50 * time.Millisecond}
				res, err := run(t, cfg, func(y *engine.Yield[appState]) {
					y.Dispatch(action.New("setOk"))
					y.WaitForAction("setOk")
				})
				assert.True(t, engine.IsTimeout(err))
				assert.Equal(t, []string{"setOk"}, action.Types(res.Actions))
			})

			t.Run("distinct echo matches action wait", func(t *testing.T) {
				c := newContainer().Echo("setOk")
				cfg := engine.Config[appState]{Connect: c.Connector(), Timeout: 200 * time.Millisecond}
				res, err := run(t, cfg, func(y *engine.Yield[appState]) {
					y.Dispatch(action.New("setOk"))
					y.WaitForAction("setOk")
				})
				require.NoError(t, err)
				require.Len(t, res.Actions, 2)
				assert.NotSame(t, res.Actions[0], res.Actions[1])
			})
		})
	}
}

func TestRun_WaitForStateTwiceResolvesWithoutNewActions(t *testing.T) {
	res, err := run(t, newConfig(), func(y *engine.Yield[appState]) {
		y.Dispatch(action.New("setOk"))
		y.WaitForState(statusOk)
		y.WaitForState(statusOk)
	})
	require.NoError(t, err)
	assert.Len(t, res.Actions, 1)
	assert.Len(t, res.Effects, 3)
}

func TestRun_WaitForStateAlreadyTrueWithoutActions(t *testing.T) {
	res, err := run(t, newConfig(), func(y *engine.Yield[appState]) {
		y.WaitForState(always)
	})
	require.NoError(t, err)
	assert.Empty(t, res.Actions)
	assert.Equal(t, "C", res.State.Status)
}

func TestRun_WaitForStateNeverTrueTimesOut(t *testing.T) {
	_, err := run(t, quick(newConfig()), func(y *engine.Yield[appState]) {
		y.WaitForState(never)
	})
	assert.True(t, engine.IsTimeout(err))
}

func TestRun_WaitForUnknownActionTimesOut(t *testing.T) {
	res, err := run(t, quick(newConfig()), func(y *engine.Yield[appState]) {
		y.WaitForAction("unknown")
	})
	require.Error(t, err)
	assert.Empty(t, res.Actions)
	assert.NotEmpty(t, res.Error)

	var te *engine.TimeoutError
	require.True(t, errors.As(err, &te))
	assert.Equal(t, engine.ErrCodeTimeout, te.Code)
	assert.Equal(t, 30*time.Millisecond, te.Timeout)
	assert.Equal(t, res.Error, te.Report)
	assert.Contains(t, err.Error(), "TIMEOUT")
}

func TestRun_TimeoutAsResult(t *testing.T) {
	cfg := quick(newConfig())
	cfg.TimeoutAsResult = true

	res, err := run(t, cfg, func(y *engine.Yield[appState]) {
		y.WaitForAction("unknown")
	})
	require.NoError(t, err)
	assert.Contains(t, res.Error, "Effect waitForActionType: Type - unknown was not handled")
	assert.Contains(t, res.Error, "Caught actions (0):")
}

func TestRun_WaitForActionMatchSeesPastActions(t *testing.T) {
	secondInc := func(a *action.Action, past []*action.Action) bool {
		count := 0
		for _, p := range past {
			if p.Type == "inc" {
				count++
			}
		}
		return a.Type == "inc" && count == 2
	}
	cfg := newConfig(store.WithSaga(func(fx *store.Effects[appState]) {
		fx.Take("setA")
		fx.Put(action.New("inc"))
		fx.Put(action.New("inc"))
		fx.Put(action.New("inc"))
	}))

	var seen engine.Result[appState]
	_, err := run(t, cfg, func(y *engine.Yield[appState]) {
		y.Dispatch(action.New("setA"))
		seen = y.WaitForActionMatch(secondInc)
	})
	require.NoError(t, err)
	assert.Equal(t, 2, seen.State.Number)
}

func TestRun_CallerCalledBeforeWait(t *testing.T) {
	c := caller.New()
	c.Call()

	_, err := run(t, newConfig(), func(y *engine.Yield[appState]) {
		y.WaitForCall(c)
		y.WaitForState(always)
	})
	require.NoError(t, err)

	_, err = run(t, newConfig(), func(y *engine.Yield[appState]) {
		y.WaitForState(always)
		y.WaitForCall(c)
	})
	require.NoError(t, err)
}

func TestRun_CallerNeverCalledTimesOut(t *testing.T) {
	res, err := run(t, quick(newConfig()), func(y *engine.Yield[appState]) {
		y.WaitForCall(caller.New("onSubmit"))
	})
	assert.True(t, engine.IsTimeout(err))
	assert.Contains(t, res.Error, "Effect waitForCall: Name - onSubmit, Times - 1 was not handled")
}

func TestRun_CallerCountIncludesEarlierCalls(t *testing.T) {
	c := caller.New("counter")
	c.Call()

	_, err := run(t, newConfig(), func(y *engine.Yield[appState]) {
		y.Go(func() {
			c.Call()
			c.Call()
		})
		y.WaitForCall(c, 3)
	})
	require.NoError(t, err)
	assert.True(t, c.WasCalled(3))
}

func TestRun_CallerCountNotYetReachedTimesOut(t *testing.T) {
	c := caller.New()
	c.Call()
	_, err := run(t, quick(newConfig()), func(y *engine.Yield[appState]) {
		y.WaitForCall(c, 2)
	})
	assert.True(t, engine.IsTimeout(err))
}

func TestRun_ConsecutiveCallersResolveBeforeConnect(t *testing.T) {
	a, b := caller.New("a"), caller.New("b")
	a.Call()
	b.Call()

	c := testutil.NewContainer(reduce, appState{})
	connectsAtResolution := -1
	cfg := engine.Config[appState]{Connect: c.Connector(), Timeout: time.Second}

	_, err := run(t, cfg, func(y *engine.Yield[appState]) {
		y.WaitForCall(a)
		y.WaitForCall(b)
		connectsAtResolution = c.Connects()
	})
	require.NoError(t, err)
	assert.Equal(t, 0, connectsAtResolution)
}

func TestRun_CallerCalledLaterChainsToNextInstruction(t *testing.T) {
	c := caller.New()
	res, err := run(t, newConfig(), func(y *engine.Yield[appState]) {
		y.Go(c.Call)
		y.WaitForCall(c)
		y.Dispatch(action.New("setOk"))
		y.WaitForState(statusOk)
	})
	require.NoError(t, err)
	assert.Equal(t, "Ok", res.State.Status)
}

func TestRun_InitHookRunsAfterFirstInstructionIsPulled(t *testing.T) {
	var initCalled atomic.Bool
	var before, after bool
	c := caller.New()

	cfg := newConfig()
	cfg.Init = func(engine.Container[appState]) func() {
		initCalled.Store(true)
		c.Call()
		return nil
	}

	_, err := run(t, cfg, func(y *engine.Yield[appState]) {
		before = initCalled.Load()
		y.WaitForCall(c)
		after = initCalled.Load()
	})
	require.NoError(t, err)
	assert.False(t, before)
	assert.True(t, after)
}

func TestRun_ActionDispatchedInInitIsCaught(t *testing.T) {
	cfg := newConfig()
	cfg.Init = func(h engine.Container[appState]) func() {
		h.Submit(action.New("setOk"))
		return nil
	}

	res, err := run(t, cfg, func(y *engine.Yield[appState]) {
		y.WaitForAction("setOk")
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"setOk"}, action.Types(res.Actions))
}

func TestRun_SkipInitDispatchesLogsWithoutMatching(t *testing.T) {
	cfg := quick(newConfig())
	cfg.SkipInitDispatches = true
	cfg.Init = func(h engine.Container[appState]) func() {
		h.Submit(action.New("setOk"))
		return nil
	}

	res, err := run(t, cfg, func(y *engine.Yield[appState]) {
		y.WaitForAction("setOk")
	})
	assert.True(t, engine.IsTimeout(err))
	assert.Equal(t, []string{"setOk"}, action.Types(res.Actions))
}

func TestRun_SkipInitDispatchesStateIsVisibleOnceActive(t *testing.T) {
	cfg := newConfig()
	cfg.SkipInitDispatches = true
	cfg.Init = func(h engine.Container[appState]) func() {
		h.Submit(action.New("setOk"))
		return nil
	}

	res, err := run(t, cfg, func(y *engine.Yield[appState]) {
		r := y.WaitForState(statusOk)
		assert.Equal(t, []string{"setOk"}, action.Types(r.Actions))
	})
	require.NoError(t, err)
	assert.Equal(t, "Ok", res.State.Status)
}

func TestRun_CallerCalledInInitSatisfiesWait(t *testing.T) {
	for _, skip := range []bool{false, true} {
		c := caller.New()
		cfg := newConfig()
		cfg.SkipInitDispatches = skip
		cfg.Init = func(engine.Container[appState]) func() {
			c.Call()
			return nil
		}
		_, err := run(t, cfg, func(y *engine.Yield[appState]) {
			y.WaitForCall(c)
		})
		assert.NoError(t, err, "skip=%v", skip)
	}
}

func TestRun_TeardownRunsAfterScriptAndIsNotObserved(t *testing.T) {
	c := caller.New()
	var tornDown bool
	cfg := newConfig()
	cfg.Init = func(h engine.Container[appState]) func() {
		return func() {
			tornDown = true
			h.Submit(action.New("setError"))
			c.Call()
		}
	}

	res, err := run(t, cfg, func(y *engine.Yield[appState]) {
		y.Dispatch(action.New("setOk"))
	})
	require.NoError(t, err)
	assert.True(t, tornDown)
	assert.Equal(t, []string{"setOk"}, action.Types(res.Actions))
	assert.Equal(t, "Ok", res.State.Status)
	assert.True(t, c.WasCalled())
}

func TestRun_CallerCalledInTeardownDoesNotSatisfyWait(t *testing.T) {
	c := caller.New()
	cfg := quick(newConfig())
	cfg.Init = func(engine.Container[appState]) func() {
		return c.Call
	}
	_, err := run(t, cfg, func(y *engine.Yield[appState]) {
		y.WaitForCall(c)
	})
	assert.True(t, engine.IsTimeout(err))
}

func TestRun_AsyncDispatchIsCaught(t *testing.T) {
	c := testutil.NewContainer(reduce, appState{Status: "C"})
	cfg := engine.Config[appState]{Connect: c.Connector(), Timeout: time.Second}

	res, err := run(t, cfg, func(y *engine.Yield[appState]) {
		y.Go(func() { c.Emit(action.New("setOk")) })
		y.WaitForAction("setOk")
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"setOk"}, action.Types(res.Actions))
}

func TestRun_TwoAsyncDispatchesAreCaughtInOrder(t *testing.T) {
	c := testutil.NewContainer(reduce, appState{Status: "C"})
	cfg := engine.Config[appState]{Connect: c.Connector(), Timeout: time.Second}

	res, err := run(t, cfg, func(y *engine.Yield[appState]) {
		y.Go(func() {
			c.Emit(action.New("setA"))
			c.Emit(action.New("setB"))
		})
		y.WaitForAction("setA")
		y.WaitForAction("setB")
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"setA", "setB"}, action.Types(res.Actions))
}

func TestRun_AsyncDispatchBeforeDrainIsNotCaughtAfterwards(t *testing.T) {
	c := testutil.NewContainer(reduce, appState{Status: "C"})
	cfg := engine.Config[appState]{Connect: c.Connector(), Timeout: 50 * time.Millisecond}

	res, err := run(t, cfg, func(y *engine.Yield[appState]) {
		y.Go(func() { c.Emit(action.New("setOk")) })
		y.WaitForPendingWork()
		y.WaitForAction("setOk")
	})
	assert.True(t, engine.IsTimeout(err))
	assert.Equal(t, []string{"setOk"}, action.Types(res.Actions))
}

func TestRun_DrainLogsActionsPutDuringIt(t *testing.T) {
	c := testutil.NewContainer(reduce, appState{Status: "C"})
	cfg := engine.Config[appState]{Connect: c.Connector(), Timeout: time.Second}

	res, err := run(t, cfg, func(y *engine.Yield[appState]) {
		y.Go(func() { c.Emit(action.New("setOk")) })
		r := y.WaitForPendingWork()
		assert.Equal(t, []string{"setOk"}, action.Types(r.Actions))
	})
	require.NoError(t, err)
	assert.Equal(t, "Ok", res.State.Status)
}

func TestRun_NoScriptCapturesSynchronousSagaPuts(t *testing.T) {
	cfg := newConfig(store.WithSaga(func(fx *store.Effects[appState]) {
		fx.Put(action.New("setA"))
		fx.Put(action.New("setB"))
		fx.Delay(time.Hour)
		fx.Put(action.New("inc"))
	}))

	res, err := run(t, cfg, nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"setA", "setB"}, action.Types(res.Actions))
	assert.Empty(t, res.Effects)
}

func TestRun_WaitForActionStopsLoggingOnceScriptEnds(t *testing.T) {
	cfg := newConfig(store.WithSaga(func(fx *store.Effects[appState]) {
		fx.Put(action.New("setA"))
		fx.Put(action.New("setB"))
		fx.Put(action.New("inc"))
	}))

	res, err := run(t, cfg, func(y *engine.Yield[appState]) {
		y.WaitForAction("setB")
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"setA", "setB"}, action.Types(res.Actions))
	assert.Equal(t, appState{Status: "B"}, res.State)
}

func TestRun_DelayedSagaPutIsCaught(t *testing.T) {
	cfg := newConfig(store.WithSaga(func(fx *store.Effects[appState]) {
		fx.Take("setA")
		fx.Delay(5 * time.Millisecond)
		fx.Put(action.New("setOk"))
	}))

	res, err := run(t, cfg, func(y *engine.Yield[appState]) {
		y.Dispatch(action.New("setA"))
		y.WaitForAction("setOk")
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"setA", "setOk"}, action.Types(res.Actions))
}

func TestRun_WaitForMsLongerThanTimeoutTimesOut(t *testing.T) {
	cfg := newConfig()
	cfg.Timeout = 10 * time.Millisecond
	res, err := run(t, cfg, func(y *engine.Yield[appState]) {
		y.WaitForMs(10000)
	})
	assert.True(t, engine.IsTimeout(err))
	assert.Contains(t, res.Error, "waitForMs: Ms - 10000, Callback - empty")
}

func TestRun_WaitForMsWithManualClock(t *testing.T) {
	clk := clock.NewManual()
	cfg := newConfig()
	cfg.Clock = clk

	_, err := run(t, cfg, func(y *engine.Yield[appState]) {
		y.WaitForMs(30000, clk.RunAll)
	})
	require.NoError(t, err)
	assert.Equal(t, 30*time.Second, clk.Now().Sub(time.Unix(0, 0)))
}

func TestRun_ManualClockOnlyFiresRegisteredTimers(t *testing.T) {
	clk := clock.NewManual()
	cfg := quick(newConfig())
	cfg.Clock = clk

	_, err := run(t, cfg, func(y *engine.Yield[appState]) {
		y.WaitForMs(30000, clk.RunAll)
		y.WaitForMs(30000)
	})
	assert.True(t, engine.IsTimeout(err))
}

func TestRun_ActionsDuringDurationWaitAreNotMatchedLater(t *testing.T) {
	c := testutil.NewContainer(reduce, appState{Status: "C"})
	cfg := engine.Config[appState]{Connect: c.Connector(), Timeout: 100 * time.Millisecond}

	res, err := run(t, cfg, func(y *engine.Yield[appState]) {
		y.WaitForMs(20, func() { c.Emit(action.New("setOk")) })
		y.WaitForAction("setOk")
	})
	assert.True(t, engine.IsTimeout(err))
	assert.Equal(t, []string{"setOk"}, action.Types(res.Actions))
}

func TestRun_WaitForPromise(t *testing.T) {
	done := make(chan struct{})
	_, err := run(t, newConfig(), func(y *engine.Yield[appState]) {
		y.Go(func() { close(done) })
		y.WaitForPromise(done)
	})
	require.NoError(t, err)
}

func TestRun_WaitForNeverResolvingPromiseTimesOut(t *testing.T) {
	res, err := run(t, quick(newConfig()), func(y *engine.Yield[appState]) {
		y.WaitForPromise(make(chan struct{}))
	})
	assert.True(t, engine.IsTimeout(err))
	assert.Contains(t, res.Error, "Effect waitForPromise: Promise was not handled")
}

func TestRun_WaitForCondition(t *testing.T) {
	var flag atomic.Bool
	_, err := run(t, newConfig(), func(y *engine.Yield[appState]) {
		y.Go(func() { flag.Store(true) })
		y.WaitFor(flag.Load, time.Millisecond)
	})
	require.NoError(t, err)
}

func TestRun_WaitForFalseConditionTimesOut(t *testing.T) {
	_, err := run(t, quick(newConfig()), func(y *engine.Yield[appState]) {
		y.WaitFor(func() bool { return false })
	})
	assert.True(t, engine.IsTimeout(err))
}

func TestRun_ScriptPanicPropagatesAndTearsDown(t *testing.T) {
	var tornDown bool
	cfg := newConfig()
	cfg.Init = func(engine.Container[appState]) func() {
		return func() { tornDown = true }
	}

	assert.PanicsWithValue(t, "boom", func() {
		_, _ = run(t, cfg, func(y *engine.Yield[appState]) {
			y.Dispatch(action.New("setOk"))
			panic("boom")
		})
	})
	assert.True(t, tornDown)
}

func TestRun_NilInstructionIsMalformed(t *testing.T) {
	defer func() {
		r := recover()
		require.NotNil(t, r)
		err, ok := r.(error)
		require.True(t, ok)
		assert.True(t, engine.IsMalformed(err))
	}()
	_, _ = run(t, newConfig(), func(y *engine.Yield[appState]) {
		y.Do(nil)
	})
}

func TestRun_RequiresConnector(t *testing.T) {
	_, err := engine.Run(context.Background(), engine.Config[appState]{}, nil)
	var ee *engine.Error
	require.True(t, errors.As(err, &ee))
	assert.Equal(t, engine.ErrCodeConfig, ee.Code)
}

func TestEngine_RunTwice(t *testing.T) {
	e := engine.New(newConfig())
	_, err := e.Run(context.Background(), nil)
	require.NoError(t, err)

	_, err = e.Run(context.Background(), nil)
	var ee *engine.Error
	require.True(t, errors.As(err, &ee))
	assert.Equal(t, engine.ErrCodeReused, ee.Code)
}

func TestEngine_ID(t *testing.T) {
	assert.Equal(t, "run-1", engine.New(newConfig()).ID())
	assert.Len(t, engine.New(engine.Config[appState]{}).ID(), 36)
}

func TestRun_ParentContextCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	_, err := engine.Run(ctx, newConfig(), func(y *engine.Yield[appState]) {
		y.Go(cancel)
		y.WaitForAction("unknown")
	})
	require.Error(t, err)
	assert.False(t, engine.IsTimeout(err))
	assert.True(t, errors.Is(err, context.Canceled))
}

func TestRun_RecordsSpan(t *testing.T) {
	recorder := tracetest.NewSpanRecorder()
	provider := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
	cfg := newConfig()
	cfg.Tracer = provider.Tracer("test")

	_, err := run(t, cfg, func(y *engine.Yield[appState]) {
		y.Dispatch(action.New("setOk"))
	})
	require.NoError(t, err)

	spans := recorder.Ended()
	require.Len(t, spans, 1)
	assert.Equal(t, "storetest.run", spans[0].Name())

	var names []string
	for _, ev := range spans[0].Events() {
		names = append(names, ev.Name)
	}
	assert.Equal(t, []string{"effect", "action"}, names)
}

func TestRun_EffectsAreRecorded(t *testing.T) {
	res, err := run(t, newConfig(), func(y *engine.Yield[appState]) {
		y.Dispatch(action.New("setOk"))
		y.Do(effect.WaitForState(statusOk).Named("statusOk"))
	})
	require.NoError(t, err)
	require.Len(t, res.Effects, 2)
	assert.Equal(t, "waitForStoreState: Condition name - statusOk", res.Effects[1].String())
}

func TestRun_ActionQuotaAbortsRun(t *testing.T) {
	c := testutil.NewContainer(reduce, appState{Status: "C"})
	cfg := engine.Config[appState]{
		Connect:    c.Connector(),
		Timeout:    time.Second,
		MaxActions: 3,
		IDs:        engine.NewFixedIDGenerator("run-1"),
	}

	res, err := run(t, cfg, func(y *engine.Yield[appState]) {
		for range 5 {
			y.Dispatch(action.New("inc"))
		}
	})
	require.Error(t, err)
	assert.True(t, engine.IsQuotaExceeded(err))
	assert.Contains(t, err.Error(), "run aborted")
	assert.Len(t, res.Actions, 3)
}

func TestRun_NegativeMaxActionsDisablesQuota(t *testing.T) {
	cfg := newConfig()
	cfg.MaxActions = -1

	res, err := run(t, cfg, func(y *engine.Yield[appState]) {
		for range 20 {
			y.Dispatch(action.New("inc"))
		}
	})
	require.NoError(t, err)
	assert.Len(t, res.Actions, 20)
	assert.Equal(t, 20, res.State.Number)
}

func TestRun_ClosesStoreAfterEachRun(t *testing.T) {
	takeLoop := store.WithSaga(func(fx *store.Effects[appState]) {
		for {
			fx.Take("setOk")
		}
	})
	sleeper := store.WithSaga(func(fx *store.Effects[appState]) {
		fx.Delay(time.Hour)
	})

	before := runtime.NumGoroutine()
	for range 50 {
		_, err := run(t, newConfig(takeLoop, sleeper), func(y *engine.Yield[appState]) {
			y.Dispatch(action.New("setOk"))
		})
		require.NoError(t, err)
	}
	assert.Eventually(t, func() bool {
		return runtime.NumGoroutine() <= before+5
	}, time.Second, 5*time.Millisecond, "goroutines before=%d now=%d", before, runtime.NumGoroutine())
}

type closingContainer struct {
	*testutil.Container[appState]
	calls *[]string
}

func (c closingContainer) Close() { *c.calls = append(*c.calls, "close") }

type failingCloser struct {
	*testutil.Container[appState]
	closed *bool
}

func (c failingCloser) Close() error {
	*c.closed = true
	return errors.New("still busy")
}

func TestRun_ClosesContainerAfterTeardown(t *testing.T) {
	var calls []string
	c := testutil.NewContainer(reduce, appState{Status: "C"})
	cfg := engine.Config[appState]{
		Connect: func(onEvent func(*action.Action, appState)) engine.Container[appState] {
			c.Connector()(onEvent)
			return closingContainer{Container: c, calls: &calls}
		},
		Init: func(engine.Container[appState]) func() {
			return func() { calls = append(calls, "teardown") }
		},
		Timeout: time.Second,
	}

	_, err := run(t, cfg, func(y *engine.Yield[appState]) {
		y.Dispatch(action.New("setOk"))
		calls = append(calls, "script")
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"script", "teardown", "close"}, calls)
}

func TestRun_CloseErrorDoesNotFailRun(t *testing.T) {
	var closed bool
	c := testutil.NewContainer(reduce, appState{Status: "C"})
	cfg := engine.Config[appState]{
		Connect: func(onEvent func(*action.Action, appState)) engine.Container[appState] {
			c.Connector()(onEvent)
			return failingCloser{Container: c, closed: &closed}
		},
		Timeout: time.Second,
	}

	res, err := run(t, cfg, func(y *engine.Yield[appState]) {
		y.Dispatch(action.New("setOk"))
	})
	require.NoError(t, err)
	assert.True(t, closed)
	assert.Equal(t, "Ok", res.State.Status)
}

func TestRun_StateConditionOverAnotherTypeIsMalformed(t *testing.T) {
	defer func() {
		r := recover()
		require.NotNil(t, r)
		err, ok := r.(error)
		require.True(t, ok)
		assert.True(t, engine.IsMalformed(err))
		assert.Contains(t, err.Error(), "condition over *engine_test.appState, state is engine_test.appState")
	}()
	_, _ = run(t, newConfig(), func(y *engine.Yield[appState]) {
		y.Do(effect.WaitForState(func(s *appState, _ []*action.Action) bool { return s == nil }))
	})
}
