package store

import (
	"iter"
	"slices"
	"time"

	"github.com/roach88/storetest/action"
)

// Saga is a long-running effect. It runs as a coroutine inside the store:
// code between two suspensions (Take, Delay) runs synchronously while the
// store applies actions, so actions it puts are ordered deterministically.
type Saga[S any] func(fx *Effects[S])

// Effects is a saga's handle on the store.
type Effects[S any] struct {
	store *Store[S]
	task  *task[S]
	yield func(request) bool
}

// request is what a suspended saga is waiting for.
type request struct {
	types []string      // take
	delay time.Duration // delay, when types is nil
}

func (r request) matches(a *action.Action) bool {
	return slices.Contains(r.types, a.Type) || slices.Contains(r.types, AnyAction)
}

// AnyAction makes Take accept every action.
const AnyAction = "*"

// stopSaga unwinds a saga stopped by Close.
type stopSaga struct{}

type task[S any] struct {
	next    func() (request, bool)
	stop    func()
	waiting *request
	taken   *action.Action
}

// Take suspends until an action of one of the given types is applied and
// returns it.
func (fx *Effects[S]) Take(types ...string) *action.Action {
	if len(types) == 0 {
		types = []string{AnyAction}
	}
	if !fx.yield(request{types: types}) {
		panic(stopSaga{})
	}
	return fx.task.taken
}

// Delay suspends for d on the store clock.
func (fx *Effects[S]) Delay(d time.Duration) {
	if !fx.yield(request{delay: d}) {
		panic(stopSaga{})
	}
}

// Put dispatches a. It is applied after the action being processed.
func (fx *Effects[S]) Put(a *action.Action) {
	fx.store.Dispatch(a)
}

// Select returns the current state.
func (fx *Effects[S]) Select() S {
	return fx.store.State()
}

// Call runs fn synchronously.
func (fx *Effects[S]) Call(fn func()) {
	fn()
}

// Fork starts saga alongside the caller.
func (fx *Effects[S]) Fork(saga Saga[S]) {
	fx.store.Run(saga)
}

// Run starts saga. Code up to its first suspension runs before Run returns
// unless the store is busy applying another action, in which case it runs
// once that action is done.
func (s *Store[S]) Run(saga Saga[S]) {
	t := &task[S]{}
	seq := func(yield func(request) bool) {
		defer func() {
			if r := recover(); r != nil {
				if _, ok := r.(stopSaga); !ok {
					panic(r)
				}
			}
		}()
		saga(&Effects[S]{store: s, task: t, yield: yield})
	}
	t.next, t.stop = iter.Pull(seq)
	s.enqueue(item[S]{task: t})
}

// step resumes t with the action it took (nil for a start or a delay) and
// records what it waits for next. Called only from drain.
func (s *Store[S]) step(t *task[S], taken *action.Action) {
	t.taken = taken
	t.waiting = nil
	req, ok := t.next()
	if !ok {
		s.tasks = slices.DeleteFunc(s.tasks, func(other *task[S]) bool { return other == t })
		return
	}
	if !slices.Contains(s.tasks, t) {
		s.tasks = append(s.tasks, t)
	}
	t.waiting = &req
	if req.types == nil {
		s.schedule(t, req.delay)
	}
}

// schedule wakes t after d.
func (s *Store[S]) schedule(t *task[S], d time.Duration) {
	fired := s.clock.After(d)
	go func() {
		select {
		case <-fired:
			s.enqueue(item[S]{task: t})
		case <-s.ctx.Done():
		}
	}()
}

// notifyTakers resumes every saga waiting for a, in the order the sagas
// were started.
func (s *Store[S]) notifyTakers(a *action.Action) {
	var ready []*task[S]
	for _, t := range s.tasks {
		if t.waiting != nil && t.waiting.types != nil && t.waiting.matches(a) {
			ready = append(ready, t)
		}
	}
	for _, t := range ready {
		s.step(t, a)
	}
}
