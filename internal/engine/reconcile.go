package engine

import (
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/roach88/storetest/action"
	"github.com/roach88/storetest/effect"
)

// drain processes every queued delivery in order. It returns the quota
// error once the run has caught too many actions.
func (e *Engine[S]) drain() error {
	for e.failure == nil {
		d, ok := e.inbox.TryDequeue()
		if !ok {
			return nil
		}
		e.deliver(d)
	}
	return e.failure
}

// deliver logs one delivery and, unless reconciliation is suppressed,
// matches it against the pending instruction.
//
// An action the engine dispatched itself is logged but never matches on its
// own delivery. The marker is cleared when that exact action arrives.
func (e *Engine[S]) deliver(d delivery[S]) {
	if d.action == nil {
		return
	}
	if e.finished.Load() {
		e.logger.Debug("delivery ignored", "action", d.action.Type)
		return
	}
	if err := e.quota.Check(e.id); err != nil {
		e.logger.Warn("action quota exceeded", "action", d.action.Type, "limit", e.cfg.MaxActions)
		e.failure = err
		return
	}

	e.actions.Append(d.action)
	e.snapshot, e.hasSnapshot = d.snapshot, true
	if e.span != nil {
		e.span.AddEvent("action", trace.WithAttributes(attribute.String("storetest.action", d.action.Type)))
	}

	self := d.action == e.justDispatched
	if self {
		e.justDispatched = nil
	}

	switch {
	case e.suppressed:
		e.logger.Debug("action logged", "action", d.action.Type, "reconcile", false)
		return
	case d.duringInit && e.cfg.SkipInitDispatches:
		e.logger.Debug("action logged during init", "action", d.action.Type, "reconcile", false)
		return
	}
	e.logger.Debug("action logged", "action", d.action.Type, "reconcile", true, "self", self)
	e.reconcile(d.action, self)
}

// reconcile matches the pending instruction against a (which may be nil) and
// the current snapshot. Each resolution pulls the next instruction and the
// loop runs again, so one delivery can resolve a chain of instructions
// without recursion.
//
// An action wait consumes a; a state wait does not, so the instruction after
// a state wait can still match the same action.
//
// A self-delivery never matches an action wait. It skips a state wait only
// while that wait's entry check is still to come; once the wait has checked
// the snapshot, a late self-delivery is the only thing left to re-check it.
func (e *Engine[S]) reconcile(a *action.Action, self bool) {
	if e.cursor == nil {
		return
	}
	for !e.finished.Load() {
		if e.pending == nil && !e.advance() {
			return
		}
		switch in := e.pending.(type) {
		case *effect.ActionWait:
			if a == nil || self || !in.Matches(a, e.actions.Snapshot()) {
				return
			}
			a = nil
		case *effect.StateWait:
			if !e.hasSnapshot || (self && e.entered != e.step) {
				return
			}
			if !in.Accepts(e.snapshot) {
				me := NewMalformedError(in)
				me.Reason = fmt.Sprintf("condition over %v, state is %T", in.StateType(), e.snapshot)
				panic(me)
			}
			if !in.Holds(e.snapshot, e.actions.Snapshot()) {
				return
			}
		case *effect.CallWait:
			if !in.Satisfied() {
				return
			}
		default:
			return
		}
		e.resolve()
	}
}

// advance pulls the next instruction into the pending slot. It returns false
// and finishes the run when the script has returned.
func (e *Engine[S]) advance() bool {
	in, ok := e.cursor.resume(e.result())
	if !ok {
		e.logger.Debug("script completed", "effects", e.effects.Len())
		e.finish()
		return false
	}
	if in == nil {
		panic(NewMalformedError(nil))
	}

	e.effects.Append(in)
	e.pending = in
	e.step++
	e.logger.Debug("instruction issued", "step", e.step, "effect", in.String())
	if e.span != nil {
		e.span.AddEvent("effect", trace.WithAttributes(attribute.String("storetest.effect", in.String())))
	}
	return true
}

// resolve clears the pending slot.
func (e *Engine[S]) resolve() {
	if e.pending == nil {
		return
	}
	e.logger.Debug("instruction resolved", "step", e.step, "kind", string(e.pending.Kind()))
	e.pending = nil
}
