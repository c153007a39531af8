package engine

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/roach88/storetest/action"
	"github.com/roach88/storetest/clock"
	"github.com/roach88/storetest/effect"
	"github.com/roach88/storetest/internal/diag"
	"github.com/roach88/storetest/internal/wait"
)

// DefaultTimeout bounds a run when Config.Timeout is zero.
const DefaultTimeout = 3 * time.Second

// tracerName identifies spans produced by the engine.
const tracerName = "github.com/roach88/storetest"

// Container is the engine's handle on the state container under test.
type Container[S any] interface {
	// Submit applies an action. The container must eventually report it
	// through the onEvent callback given to the Connector.
	Submit(a *action.Action)
	// Snapshot returns the current state.
	Snapshot() S
}

// Closer is implemented by containers that hold goroutines for as long as
// they live. The engine closes such a container once teardown has run.
type Closer interface {
	Close()
}

// Idler is implemented by containers that can report when their own
// asynchronous work has settled. WaitForPendingWork waits on it.
type Idler interface {
	Idle() <-chan struct{}
}

// Connector creates or connects the container. onEvent must be called once
// per applied action, including actions produced by the container's own
// effect layer, and may be called from any goroutine.
type Connector[S any] func(onEvent func(a *action.Action, snapshot S)) Container[S]

// InitHook runs once after the container is connected. Actions it dispatches
// synchronously are reconciled like any other unless
// Config.SkipInitDispatches is set. The returned teardown, if any, runs after
// the run settles.
type InitHook[S any] func(c Container[S]) (teardown func())

// Config configures a run.
type Config[S any] struct {
	// Connect creates the container. Required.
	Connect Connector[S]

	// Init is an optional initialization hook.
	Init InitHook[S]

	// Timeout bounds the whole run. Defaults to DefaultTimeout.
	Timeout time.Duration

	// TimeoutAsResult reports a timeout only through Result.Error instead of
	// also returning a *TimeoutError.
	TimeoutAsResult bool

	// Clock drives duration waits, condition polling and drains.
	// Defaults to the wall clock.
	Clock clock.Clock

	// TimeoutClock drives the run timeout. Defaults to the wall clock, so a
	// manual Clock cannot stall the timeout.
	TimeoutClock clock.Clock

	// SkipInitDispatches logs actions delivered while Init runs without
	// reconciling them. The script sees them in the log from its next
	// resumption on.
	SkipInitDispatches bool

	// Logger receives structured run logs. Defaults to a discard logger.
	Logger *slog.Logger

	// Tracer records one span per run. Defaults to the global provider.
	Tracer trace.Tracer

	// IDs generates the run id. Defaults to UUIDv7Generator.
	IDs IDGenerator

	// MaxActions aborts the run with a *QuotaExceededError once more actions
	// are caught. Defaults to DefaultMaxActions; negative disables the cap.
	MaxActions int
}

func (c Config[S]) withDefaults() Config[S] {
	if c.Timeout <= 0 {
		c.Timeout = DefaultTimeout
	}
	if c.Clock == nil {
		c.Clock = clock.Real()
	}
	if c.TimeoutClock == nil {
		c.TimeoutClock = clock.Real()
	}
	if c.Logger == nil {
		c.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if c.Tracer == nil {
		c.Tracer = otel.GetTracerProvider().Tracer(tracerName)
	}
	if c.IDs == nil {
		c.IDs = UUIDv7Generator{}
	}
	if c.MaxActions == 0 {
		c.MaxActions = DefaultMaxActions
	}
	return c
}

// Result is what a run observed.
type Result[S any] struct {
	// Actions is every action delivered while the run was active, in order.
	Actions []*action.Action
	// State is the snapshot after the last delivered action.
	State S
	// Effects is every instruction the script issued, in order.
	Effects []effect.Instruction
	// Error is the timeout diagnostic, empty on success.
	Error string
}

// Engine runs one script against one container.
//
// All engine state is owned by the goroutine that calls Run. The container
// reaches the engine only through the inbox.
type Engine[S any] struct {
	cfg    Config[S]
	id     string
	logger *slog.Logger
	span   trace.Span

	handle   Container[S]
	cursor   *cursor[S]
	inbox    *inbox[S]
	async    wait.Group
	live     bool
	deferred []func()

	actions action.Log
	effects effect.Log
	quota   *actionQuota
	failure error

	snapshot    S
	hasSnapshot bool

	pending        effect.Instruction
	step           int
	entered        int
	justDispatched *action.Action
	suppressed     bool

	started      bool
	initializing atomic.Bool
	finished     atomic.Bool
}

// New creates an engine for a single run.
func New[S any](cfg Config[S]) *Engine[S] {
	cfg = cfg.withDefaults()
	id := cfg.IDs.Generate()
	return &Engine[S]{
		cfg:    cfg,
		id:     id,
		logger: cfg.Logger.With("run", id),
		inbox:  newInbox[S](),
		quota:  newActionQuota(cfg.MaxActions),
	}
}

// ID returns the run id used in logs and spans.
func (e *Engine[S]) ID() string {
	return e.id
}

// Run executes script, which may be nil to only observe the container
// through initialization.
//
// Order of operations: the first instruction is pulled and reconciled before
// the container exists; then the container is connected, Init runs, and the
// main loop races the timeout; teardown runs last, followed by Close on a
// container that implements Closer.
//
// On timeout Result.Error holds the diagnostic and, unless
// Config.TimeoutAsResult is set, a *TimeoutError is returned as well.
func (e *Engine[S]) Run(ctx context.Context, script Script[S]) (Result[S], error) {
	if e.started {
		return Result[S]{}, &Error{Code: ErrCodeReused, Message: "Run called twice"}
	}
	e.started = true
	if e.cfg.Connect == nil {
		return Result[S]{}, &Error{Code: ErrCodeConfig, Message: "Connect is required"}
	}

	ctx, span := e.cfg.Tracer.Start(ctx, "storetest.run",
		trace.WithAttributes(
			attribute.String("storetest.run_id", e.id),
			attribute.Int64("storetest.timeout_ms", e.cfg.Timeout.Milliseconds()),
		))
	e.span = span
	defer span.End()

	e.logger.Info("run starting", "timeout", e.cfg.Timeout)

	if script != nil {
		e.cursor = newCursor(script, e.spawn)
		defer e.cursor.stop()
	}

	e.reconcile(nil, false)

	e.handle = e.cfg.Connect(e.onEvent)
	if e.handle == nil {
		e.finish()
		return Result[S]{}, &Error{Code: ErrCodeConfig, Message: "Connect returned no container"}
	}
	e.snapshot, e.hasSnapshot = e.handle.Snapshot(), true

	teardown := func() {}
	if e.cfg.Init != nil {
		e.initializing.Store(true)
		td := e.cfg.Init(e.handle)
		e.initializing.Store(false)
		if td != nil {
			teardown = td
		}
	}
	defer func() {
		e.finish()
		teardown()
		e.closeContainer()
	}()

	runCtx, cancel := context.WithCancelCause(ctx)
	defer cancel(nil)
	go e.watchTimeout(runCtx, cancel)

	e.live = true
	for _, fn := range e.deferred {
		e.async.Go(fn)
	}
	e.deferred = nil

	err := e.loop(runCtx)
	e.finish()
	res := e.result()

	switch {
	case err == nil:
		span.SetStatus(codes.Ok, "")
		e.logger.Info("run finished", "actions", len(res.Actions), "effects", len(res.Effects))
		return res, nil

	case errors.Is(err, errTimedOut):
		res.Error = diag.Report(res.Effects, res.Actions)
		terr := NewTimeoutError(e.cfg.Timeout, res.Error)
		span.RecordError(terr)
		span.SetStatus(codes.Error, string(ErrCodeTimeout))
		e.logger.Warn("run timed out", "timeout", e.cfg.Timeout, "actions", len(res.Actions), "effects", len(res.Effects))
		if e.cfg.TimeoutAsResult {
			return res, nil
		}
		return res, terr

	default:
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return res, fmt.Errorf("run aborted: %w", err)
	}
}

// Run creates an engine from cfg and runs script on it.
func Run[S any](ctx context.Context, cfg Config[S], script Script[S]) (Result[S], error) {
	return New(cfg).Run(ctx, script)
}

func (e *Engine[S]) watchTimeout(ctx context.Context, cancel context.CancelCauseFunc) {
	select {
	case <-e.cfg.TimeoutClock.After(e.cfg.Timeout):
		cancel(errTimedOut)
	case <-ctx.Done():
	}
}

// spawn starts tracked async work for Yield.Go. It runs on the engine
// goroutine, inside the script.
func (e *Engine[S]) spawn(fn func()) {
	if !e.live {
		e.deferred = append(e.deferred, fn)
		return
	}
	e.async.Go(fn)
}

// onEvent is the container callback. It only enqueues.
func (e *Engine[S]) onEvent(a *action.Action, snapshot S) {
	if e.finished.Load() {
		return
	}
	e.inbox.Enqueue(delivery[S]{action: a, snapshot: snapshot, duringInit: e.initializing.Load()})
}

// loop is the main loop. It returns nil when the script completes and the
// cancellation cause when ctx ends first.
func (e *Engine[S]) loop(ctx context.Context) error {
	for {
		if ctx.Err() != nil {
			return context.Cause(ctx)
		}
		if err := e.drain(); err != nil {
			return err
		}
		if e.cursor == nil || e.finished.Load() {
			return nil
		}
		if e.pending == nil && !e.advance() {
			return nil
		}
		if err := e.execute(ctx); err != nil {
			return err
		}
	}
}

// execute carries out the pending instruction.
func (e *Engine[S]) execute(ctx context.Context) error {
	step := e.step
	switch in := e.pending.(type) {
	case *effect.DispatchStep:
		e.resolve()
		e.justDispatched = in.Action
		e.handle.Submit(in.Action)
		return nil

	case *effect.ActionWait, *effect.StateWait:
		e.entered = step
		e.reconcile(nil, false)
		return e.awaitResolution(ctx, step)

	case *effect.CallWait:
		if in.Caller == nil {
			panic(NewMalformedError(in))
		}
		return e.awaitCall(ctx, in, step)

	case *effect.DurationWait:
		return e.suspend(ctx, wait.Duration(ctx, e.cfg.Clock, in.D, in.Callback))

	case *effect.PromiseWait:
		return e.suspend(ctx, wait.Promise(ctx, in.Done))

	case *effect.ConditionWait:
		if in.Predicate == nil {
			panic(NewMalformedError(in))
		}
		return e.suspend(ctx, wait.Condition(ctx, e.cfg.Clock, in.Predicate, in.Interval))

	case *effect.DrainWait:
		return e.suspend(ctx, wait.Drain(ctx, e.cfg.Clock, e.async.Idle(), e.containerIdle()))

	default:
		panic(NewMalformedError(in))
	}
}

// awaitResolution waits until reconciliation resolves the instruction issued
// at step.
func (e *Engine[S]) awaitResolution(ctx context.Context, step int) error {
	for e.isPending(step) {
		select {
		case <-ctx.Done():
			return context.Cause(ctx)
		case <-e.inbox.Wait():
			if err := e.drain(); err != nil {
				return err
			}
		}
	}
	return nil
}

// awaitCall resolves a caller wait. A caller that already meets the count
// resolves at once; otherwise the engine suspends on the caller and then
// reconciles whatever the script issues next, which chains consecutive
// caller waits.
func (e *Engine[S]) awaitCall(ctx context.Context, in *effect.CallWait, step int) error {
	e.reconcile(nil, false)
	if !e.isPending(step) {
		return nil
	}

	called := in.Caller.Notify(in.Times)
	e.enterSuspension(in)
	defer e.leaveSuspension()
	for {
		select {
		case <-ctx.Done():
			return context.Cause(ctx)
		case <-e.inbox.Wait():
			if err := e.drain(); err != nil {
				return err
			}
		case <-called:
			if err := e.drain(); err != nil {
				return err
			}
			e.leaveSuspension()
			e.resolve()
			e.reconcile(nil, false)
			return nil
		}
	}
}

// suspend waits on a condition primitive. Deliveries made meanwhile are
// logged without reconciliation; the main loop picks up from the log once
// the suspension ends.
func (e *Engine[S]) suspend(ctx context.Context, done <-chan struct{}) error {
	e.enterSuspension(e.pending)
	defer e.leaveSuspension()
	for {
		select {
		case <-ctx.Done():
			return context.Cause(ctx)
		case <-e.inbox.Wait():
			if err := e.drain(); err != nil {
				return err
			}
		case <-done:
			if err := e.drain(); err != nil {
				return err
			}
			e.resolve()
			return nil
		}
	}
}

func (e *Engine[S]) enterSuspension(in effect.Instruction) {
	e.suppressed = true
	e.logger.Debug("suspended", "effect", in.String())
}

func (e *Engine[S]) leaveSuspension() {
	e.suppressed = false
}

func (e *Engine[S]) isPending(step int) bool {
	return !e.finished.Load() && e.pending != nil && e.step == step
}

func (e *Engine[S]) containerIdle() <-chan struct{} {
	if idler, ok := e.handle.(Idler); ok {
		return idler.Idle()
	}
	return nil
}

// closeContainer releases the container after the run. Both Close() and
// Close() error are accepted.
func (e *Engine[S]) closeContainer() {
	switch c := e.handle.(type) {
	case Closer:
		c.Close()
	case interface{ Close() error }:
		if err := c.Close(); err != nil {
			e.logger.Warn("container close failed", "error", err)
		}
	}
}

// finish marks the run finished. Later deliveries are dropped.
func (e *Engine[S]) finish() {
	if e.finished.CompareAndSwap(false, true) {
		e.inbox.Close()
		e.logger.Debug("run marked finished")
	}
}

func (e *Engine[S]) result() Result[S] {
	return Result[S]{
		Actions: e.actions.Snapshot(),
		State:   e.snapshot,
		Effects: e.effects.Snapshot(),
	}
}
