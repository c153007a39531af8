package storetest

import (
	"context"
	"testing"

	"github.com/roach88/storetest/internal/engine"
)

// Aliases of the engine types a test works with.
type (
	Result[S any]    = engine.Result[S]
	Config[S any]    = engine.Config[S]
	Script[S any]    = engine.Script[S]
	Yield[S any]     = engine.Yield[S]
	Container[S any] = engine.Container[S]
	Connector[S any] = engine.Connector[S]
	InitHook[S any]  = engine.InitHook[S]

	TimeoutError       = engine.TimeoutError
	QuotaExceededError = engine.QuotaExceededError
	Closer             = engine.Closer
)

// DefaultTimeout bounds a run when Config.Timeout is zero.
const DefaultTimeout = engine.DefaultTimeout

// DefaultMaxActions caps caught actions when Config.MaxActions is zero.
const DefaultMaxActions = engine.DefaultMaxActions

// Run runs script once against a container created by cfg.Connect. script may
// be nil to only record what the container does while it connects and
// initializes.
func Run[S any](ctx context.Context, cfg Config[S], script Script[S]) (Result[S], error) {
	return engine.Run(ctx, cfg, script)
}

// IsTimeout returns true if err is or wraps a *TimeoutError.
func IsTimeout(err error) bool {
	return engine.IsTimeout(err)
}

// IsQuotaExceeded returns true if err is or wraps a *QuotaExceededError.
func IsQuotaExceeded(err error) bool {
	return engine.IsQuotaExceeded(err)
}

// Test runs scripts against a shared configuration. Every Run gets a fresh
// engine and a fresh container.
type Test[S any] struct {
	cfg Config[S]
}

// NewTest creates a reusable test from cfg.
func NewTest[S any](cfg Config[S]) *Test[S] {
	return &Test[S]{cfg: cfg}
}

// Run runs script with the test's configuration.
func (t *Test[S]) Run(ctx context.Context, script Script[S]) (Result[S], error) {
	return engine.Run(ctx, t.cfg, script)
}

// RunT runs script under tb's context and fails tb on any error, including a
// timeout. It returns the result so the caller can assert on it.
func RunT[S any](tb testing.TB, cfg Config[S], script Script[S]) Result[S] {
	tb.Helper()
	res, err := engine.Run(tb.Context(), cfg, script)
	if err != nil {
		tb.Fatalf("storetest: %v", err)
	}
	return res
}
