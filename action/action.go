// Package action defines the events observed by the test engine and the
// append-only log that records them.
package action

import (
	"fmt"
	"sync"
)

// Action is one applied change: a type discriminator plus an arbitrary payload.
//
// Actions are compared by identity. The engine recognises its own dispatches
// by pointer, so a container that re-emits a new *Action of the same type is
// distinguishable from the original.
type Action struct {
	Type    string
	Payload any
}

// New creates an action with the given type and optional payload.
func New(typ string, payload ...any) *Action {
	a := &Action{Type: typ}
	if len(payload) > 0 {
		a.Payload = payload[0]
	}
	return a
}

// String returns the action type, with the payload when one is set.
func (a *Action) String() string {
	if a == nil {
		return "<nil>"
	}
	if a.Payload == nil {
		return a.Type
	}
	return fmt.Sprintf("%s %v", a.Type, a.Payload)
}

// Types returns the type of every action in order.
func Types(actions []*Action) []string {
	types := make([]string, len(actions))
	for i, a := range actions {
		types[i] = a.Type
	}
	return types
}

// Log is an append-only record of observed actions.
// Safe for concurrent use.
type Log struct {
	mu      sync.Mutex
	actions []*Action
}

// Append records an action at the end of the log.
func (l *Log) Append(a *Action) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.actions = append(l.actions, a)
}

// Snapshot returns a copy of the log. Callers may modify the returned slice
// without affecting the log.
func (l *Log) Snapshot() []*Action {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]*Action, len(l.actions))
	copy(out, l.actions)
	return out
}

// Len returns the number of recorded actions.
func (l *Log) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.actions)
}
