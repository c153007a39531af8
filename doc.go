// Package storetest drives a state container through a scripted sequence of
// dispatches and waits and records every action it applies.
//
// A test connects a container, optionally runs an init hook (render, wire
// listeners) and then runs a script:
//
//	res, err := storetest.Run(ctx, storetest.Config[State]{
//	    Connect: store.Connect(reduce, State{}),
//	}, func(y *storetest.Yield[State]) {
//	    y.Dispatch(action.New("load"))
//	    y.WaitForAction("loaded")
//	    y.WaitForState(func(s State, _ []*action.Action) bool { return s.Ready })
//	})
//
// The run fails with a *TimeoutError when the script does not finish within
// Config.Timeout; the error carries a report listing the caught actions and
// the issued effects, the last of which is the one that did not resolve.
//
// Instructions are built with the effect package and issued with Yield.Do,
// or through the Yield shorthands. Callers (package caller) stand in for
// callbacks a test wants to wait on, and package clock supplies a manual
// timer source for duration waits and reference-store delays.
package storetest
