// Package store is a small reducer store with a coroutine effect layer. It is
// the reference container for storetest: scripts drive it through the engine,
// and its sagas stand in for the asynchronous side effects of a real
// application.
//
// Actions are applied one at a time in FIFO order. An action dispatched while
// another is being applied (by a saga, a subscriber or another goroutine) is
// queued and applied by the goroutine already draining the queue, so every
// tap sees actions in the order they were applied.
package store

import (
	"context"
	"io"
	"log/slog"
	"sync"

	"github.com/roach88/storetest/action"
	"github.com/roach88/storetest/clock"
	"github.com/roach88/storetest/internal/engine"
	"github.com/roach88/storetest/internal/wait"
)

// Reducer computes the next state.
type Reducer[S any] func(state S, a *action.Action) S

// Tap observes every applied action with the state it produced.
type Tap[S any] func(a *action.Action, state S)

// Option configures a Store.
type Option[S any] func(*Store[S])

// WithTap registers a tap.
func WithTap[S any](tap Tap[S]) Option[S] {
	return func(s *Store[S]) {
		s.taps = append(s.taps, tap)
	}
}

// WithSaga starts saga when the store is created.
func WithSaga[S any](saga Saga[S]) Option[S] {
	return func(s *Store[S]) {
		s.initial = append(s.initial, saga)
	}
}

// WithClock sets the clock used by Delay. Defaults to the wall clock.
func WithClock[S any](c clock.Clock) Option[S] {
	return func(s *Store[S]) {
		s.clock = c
	}
}

// WithLogger sets the logger. Defaults to a discard logger.
func WithLogger[S any](l *slog.Logger) Option[S] {
	return func(s *Store[S]) {
		s.logger = l
	}
}

// item is one unit of queued work: an action to apply or a saga to resume.
type item[S any] struct {
	action *action.Action
	task   *task[S]
}

// Store holds state S.
type Store[S any] struct {
	mu       sync.Mutex
	state    S
	reducer  Reducer[S]
	taps     []Tap[S]
	subs     map[int]func()
	nextSub  int
	queue    []item[S]
	draining bool
	closed   bool

	// run is held by the draining goroutine, so Close waits for a drain.
	run     sync.Mutex
	tasks   []*task[S]
	initial []Saga[S]

	clock  clock.Clock
	logger *slog.Logger
	ctx    context.Context
	cancel context.CancelFunc
	busy   wait.Group
}

// New creates a store and starts its sagas. Actions the sagas put before
// their first suspension are applied before New returns.
func New[S any](reducer Reducer[S], initial S, opts ...Option[S]) *Store[S] {
	s := &Store[S]{
		state:   initial,
		reducer: reducer,
		subs:    make(map[int]func()),
		clock:   clock.Real(),
		logger:  slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.ctx, s.cancel = context.WithCancel(context.Background())

	sagas := s.initial
	s.initial = nil
	for _, saga := range sagas {
		s.Run(saga)
	}
	return s
}

// Connect returns an engine connector that builds a fresh store per run with
// the engine's callback installed as a tap.
func Connect[S any](reducer Reducer[S], initial S, opts ...Option[S]) engine.Connector[S] {
	return func(onEvent func(a *action.Action, state S)) engine.Container[S] {
		all := append([]Option[S]{WithTap(Tap[S](onEvent))}, opts...)
		return New(reducer, initial, all...)
	}
}

// Dispatch applies a, or queues it behind the action being applied.
func (s *Store[S]) Dispatch(a *action.Action) {
	s.enqueue(item[S]{action: a})
}

// Submit is Dispatch; it makes Store an engine container.
func (s *Store[S]) Submit(a *action.Action) {
	s.Dispatch(a)
}

// State returns the current state.
func (s *Store[S]) State() S {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Snapshot is State; it makes Store an engine container.
func (s *Store[S]) Snapshot() S {
	return s.State()
}

// Subscribe registers fn to run after every applied action.
func (s *Store[S]) Subscribe(fn func()) (unsubscribe func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := s.nextSub
	s.nextSub++
	s.subs[id] = fn
	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		delete(s.subs, id)
	}
}

// Idle returns a channel closed once no action is being applied.
func (s *Store[S]) Idle() <-chan struct{} {
	return s.busy.Idle()
}

// Close stops all sagas and pending delays. Later dispatches are ignored.
// Close must not be called from a saga, tap or subscriber.
func (s *Store[S]) Close() {
	s.run.Lock()
	defer s.run.Unlock()

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	s.queue = nil
	s.mu.Unlock()

	s.cancel()
	for _, t := range s.tasks {
		t.stop()
	}
	s.tasks = nil
}

func (s *Store[S]) enqueue(it item[S]) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.queue = append(s.queue, it)
	if s.draining {
		s.mu.Unlock()
		return
	}
	s.draining = true
	s.busy.Add()
	s.mu.Unlock()

	s.drain()
}

// drain applies queued work until the queue is empty.
func (s *Store[S]) drain() {
	s.run.Lock()
	defer s.run.Unlock()
	defer s.busy.Done()

	for {
		s.mu.Lock()
		if len(s.queue) == 0 || s.closed {
			s.queue = nil
			s.draining = false
			s.mu.Unlock()
			return
		}
		it := s.queue[0]
		s.queue[0] = item[S]{}
		s.queue = s.queue[1:]

		if it.task != nil {
			s.mu.Unlock()
			s.step(it.task, nil)
			continue
		}

		s.state = s.reducer(s.state, it.action)
		state := s.state
		taps := s.taps
		subs := make([]func(), 0, len(s.subs))
		for i := 0; i < s.nextSub; i++ {
			if fn, ok := s.subs[i]; ok {
				subs = append(subs, fn)
			}
		}
		s.mu.Unlock()

		s.logger.Debug("action applied", "action", it.action.Type)
		for _, tap := range taps {
			tap(it.action, state)
		}
		for _, fn := range subs {
			fn()
		}
		s.notifyTakers(it.action)
	}
}
