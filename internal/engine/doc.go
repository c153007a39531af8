// Package engine implements the storetest orchestration engine.
//
// The engine drives a state container through a script of dispatch and wait
// instructions while recording every action the container applies. It
// interleaves two independent timelines: the stream of actions produced by the
// container (its reducer, effects, timers) and the script's instructions.
//
// ARCHITECTURE:
//
// Single Owner:
// All engine state (logs, snapshot, pending slot, suppression flags) belongs
// to the goroutine that calls Run. The container callback only enqueues
// deliveries into the inbox; the owner drains them one at a time. Scripts run
// as coroutines (iter.Pull) on the same goroutine, so test assertions inside
// a script behave as they would in the test body.
//
// Reconciliation:
// Both a delivery and a script advance call reconcile, which matches the
// pending instruction against the newest action and the current snapshot. A
// resolution pulls the next instruction and reconciliation runs again in a
// loop, so long synchronous action chains never grow the stack.
//
// Processing Flow:
//  1. Pull the first instruction and reconcile before the container exists
//  2. Connect the container and read its snapshot
//  3. Run the init hook
//  4. Run the main loop against the timeout
//  5. Run the teardown returned by the init hook, then Close the container
//     if it implements Closer
//
// CRITICAL PATTERNS:
//
// Self-dispatch suppression:
// The action submitted by a Dispatch instruction is logged but never
// satisfies an action wait on its own delivery. dispatch(X) followed by
// waitForAction(X) only resolves on a second, distinct X. A state wait
// skips the self-delivery only until it has run its own entry check, so a
// container that delivers after Submit returns still resolves
// dispatch(setOk) followed by waitForState(isOk).
//
// A state wait built for a different state type than the engine's is a
// MalformedError, raised when the wait is first checked.
//
// Suspension:
// While the engine waits on a duration, promise, condition, drain or caller,
// deliveries are logged but not reconciled. Once the wait ends the main loop
// continues with the next instruction against the accumulated log.
//
// At most one instruction is pending at any time. Instructions that can never
// be satisfied are only detected by the timeout.
//
// Action quota:
// A run that catches more than Config.MaxActions actions aborts with a
// QuotaExceededError, which bounds stores whose effect layer feeds itself.
package engine
