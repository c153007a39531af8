package harness

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"maps"
	"time"

	"github.com/roach88/storetest/action"
	"github.com/roach88/storetest/caller"
	"github.com/roach88/storetest/effect"
	"github.com/roach88/storetest/internal/engine"
	"github.com/roach88/storetest/store"
)

// State is the state type of scenario stores.
type State = map[string]any

// Harness executes one scenario.
type Harness struct {
	scenario *Scenario
	callers  map[string]*caller.Caller
	logger   *slog.Logger
}

// Option configures a scenario run.
type Option func(*Harness)

// WithLogger sets the logger passed to the engine and the store.
func WithLogger(l *slog.Logger) Option {
	return func(h *Harness) { h.logger = l }
}

// Run executes a scenario and returns the result.
//
// Each run gets a fresh store and fresh callers, and uses a fixed run id so
// repeated runs log and trace identically.
//
// Execution flow:
//  1. Build the store from reducers and sagas
//  2. Compile the steps into an engine script
//  3. Run the engine; a timeout is captured in the result
//  4. Check the timeout expectation and evaluate assertions
//  5. Compute the trace digest
func Run(ctx context.Context, scenario *Scenario, opts ...Option) (*Result, error) {
	h := &Harness{
		scenario: scenario,
		callers:  make(map[string]*caller.Caller),
		logger:   slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	for _, opt := range opts {
		opt(h)
	}
	for _, saga := range scenario.Sagas {
		if saga.Call != "" && h.callers[saga.Call] == nil {
			h.callers[saga.Call] = caller.New(saga.Call)
		}
	}

	timeout, err := scenario.timeout()
	if err != nil {
		return nil, err
	}
	sagas, err := h.sagas()
	if err != nil {
		return nil, err
	}

	cfg := engine.Config[State]{
		Connect: func(onEvent func(*action.Action, State)) engine.Container[State] {
			storeOpts := append([]store.Option[State]{
				store.WithTap(store.Tap[State](onEvent)),
				store.WithLogger[State](h.logger),
			}, sagas...)
			return store.New(h.reduce, h.initial(), storeOpts...)
		},
		Init:               h.init(),
		Timeout:            timeout,
		TimeoutAsResult:    true,
		SkipInitDispatches: scenario.SkipInitDispatches,
		MaxActions:         scenario.MaxActions,
		Logger:             h.logger,
		IDs:                engine.NewFixedIDGenerator(scenario.RunID),
	}

	h.logger.Info("scenario starting", "scenario", scenario.Name, "steps", len(scenario.Steps))
	res, err := engine.Run(ctx, cfg, h.script())
	if err != nil {
		return nil, fmt.Errorf("failed to execute scenario: %w", err)
	}

	result := NewResult()
	for _, a := range res.Actions {
		result.AddAction(a.Type, a.Payload)
	}
	for _, in := range res.Effects {
		result.Effects = append(result.Effects, in.String())
	}
	if res.State != nil {
		result.State = res.State
	}
	result.Report = res.Error
	result.TimedOut = res.Error != ""

	switch {
	case result.TimedOut && !scenario.ExpectTimeout:
		result.AddError("unexpected timeout:\n" + result.Report)
	case !result.TimedOut && scenario.ExpectTimeout:
		result.AddError("expected a timeout, but the run finished")
	}
	for _, errMsg := range EvaluateAssertions(result, scenario.Assertions) {
		result.AddError(errMsg)
	}

	data, err := NewTraceSnapshot(scenario, result).Canonical()
	if err != nil {
		return nil, fmt.Errorf("failed to marshal trace: %w", err)
	}
	result.Digest = Digest(DomainTrace, data)

	h.logger.Info("scenario finished",
		"scenario", scenario.Name,
		"pass", result.Pass,
		"actions", len(result.Trace),
		"timed_out", result.TimedOut,
	)
	return result, nil
}

func (h *Harness) initial() State {
	s := maps.Clone(h.scenario.Initial)
	if s == nil {
		s = State{}
	}
	return s
}

// reduce applies the scenario reducer for a's type. Unknown types leave the
// state unchanged.
func (h *Harness) reduce(s State, a *action.Action) State {
	spec, ok := h.scenario.Reducers[a.Type]
	if !ok {
		return s
	}
	next := maps.Clone(s)
	if next == nil {
		next = State{}
	}
	maps.Copy(next, spec.Set)
	for k, n := range spec.Inc {
		next[k] = toInt(next[k]) + n
	}
	return next
}

func (h *Harness) sagas() ([]store.Option[State], error) {
	opts := make([]store.Option[State], 0, len(h.scenario.Sagas))
	for i, spec := range h.scenario.Sagas {
		var delay time.Duration
		if spec.Delay != "" {
			d, err := time.ParseDuration(spec.Delay)
			if err != nil {
				return nil, fmt.Errorf("sagas[%d]: invalid delay: %w", i, err)
			}
			delay = d
		}
		opts = append(opts, store.WithSaga(h.saga(spec, delay)))
	}
	return opts, nil
}

func (h *Harness) saga(spec SagaSpec, delay time.Duration) store.Saga[State] {
	return func(fx *store.Effects[State]) {
		for {
			if spec.Take != "" {
				fx.Take(spec.Take)
			}
			if delay > 0 {
				fx.Delay(delay)
			}
			for _, p := range spec.Put {
				fx.Put(newAction(p))
			}
			if spec.Call != "" {
				fx.Call(h.callers[spec.Call].Call)
			}
			if !spec.Repeat {
				return
			}
		}
	}
}

func (h *Harness) init() engine.InitHook[State] {
	if len(h.scenario.Init) == 0 {
		return nil
	}
	return func(c engine.Container[State]) func() {
		for _, a := range h.scenario.Init {
			c.Submit(newAction(a))
		}
		return nil
	}
}

// script compiles the steps. A scenario without steps runs no script.
func (h *Harness) script() engine.Script[State] {
	if len(h.scenario.Steps) == 0 {
		return nil
	}
	steps := make([]effect.Instruction, len(h.scenario.Steps))
	for i, step := range h.scenario.Steps {
		steps[i] = h.instruction(step)
	}
	return func(y *engine.Yield[State]) {
		for _, in := range steps {
			y.Do(in)
		}
	}
}

func (h *Harness) instruction(step Step) effect.Instruction {
	switch {
	case step.Dispatch != nil:
		return effect.Dispatch(newAction(*step.Dispatch))
	case step.WaitForAction != "":
		return effect.WaitForAction(step.WaitForAction)
	case step.WaitForState != nil:
		expect := step.WaitForState
		return effect.WaitForState(func(s State, _ []*action.Action) bool {
			return matchSubset(s, expect)
		}).Named(describe(expect))
	case step.WaitForCall != nil:
		return effect.WaitForCall(h.callers[step.WaitForCall.Caller], step.WaitForCall.Times)
	case step.WaitMs != nil:
		return effect.WaitForMs(*step.WaitMs)
	default:
		return effect.WaitForPendingWork()
	}
}

func newAction(a ActionStep) *action.Action {
	if a.Payload == nil {
		return action.New(a.Type)
	}
	return action.New(a.Type, a.Payload)
}

// describe renders a state expectation for diagnostics.
func describe(expect map[string]any) string {
	data, err := MarshalCanonical(expect)
	if err != nil {
		return fmt.Sprint(expect)
	}
	return string(data)
}

func toInt(v any) int {
	switch n := v.(type) {
	case int:
		return n
	case int64:
		return int(n)
	default:
		return 0
	}
}
