// Package wait implements the condition primitives the engine suspends on.
//
// Every primitive returns a channel that is closed exactly once, when the
// condition resolves. Goroutines started by a primitive stop when ctx is
// cancelled, after which the channel is never closed.
package wait

import (
	"context"
	"runtime"
	"time"

	"github.com/roach88/storetest/clock"
)

// DefaultPollInterval is the interval used by Condition when none is given.
const DefaultPollInterval = 10 * time.Millisecond

// Duration resolves after d has elapsed on clk. The timer is registered
// before callback starts, so callback may advance a manual clock.
func Duration(ctx context.Context, clk clock.Clock, d time.Duration, callback func()) <-chan struct{} {
	done := make(chan struct{})
	fired := clk.After(d)
	if callback != nil {
		go callback()
	}
	go func() {
		select {
		case <-fired:
			close(done)
		case <-ctx.Done():
		}
	}()
	return done
}

// Promise resolves when settled is closed.
func Promise(ctx context.Context, settled <-chan struct{}) <-chan struct{} {
	done := make(chan struct{})
	go func() {
		select {
		case <-settled:
			close(done)
		case <-ctx.Done():
		}
	}()
	return done
}

// Condition polls pred every interval until it returns true. The first check
// happens after one interval.
func Condition(ctx context.Context, clk clock.Clock, pred func() bool, interval time.Duration) <-chan struct{} {
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	done := make(chan struct{})
	go func() {
		for {
			select {
			case <-clk.After(interval):
				if pred() {
					close(done)
					return
				}
			case <-ctx.Done():
				return
			}
		}
	}()
	return done
}

// Drain resolves once every barrier is closed and one zero-duration timer
// turn has passed. Nil barriers are skipped.
func Drain(ctx context.Context, clk clock.Clock, barriers ...<-chan struct{}) <-chan struct{} {
	done := make(chan struct{})
	go func() {
		for _, b := range barriers {
			if b == nil {
				continue
			}
			select {
			case <-b:
			case <-ctx.Done():
				return
			}
		}
		runtime.Gosched()
		select {
		case <-clk.After(0):
			close(done)
		case <-ctx.Done():
		}
	}()
	return done
}
