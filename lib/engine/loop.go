// Copyright 2026 The Cynara Authors
// SPDX-License-Identifier: Apache-2.0

package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
)

// ErrLoopStopped is returned by [Loop.Post] and [Call] once Run has
// returned.
var ErrLoopStopped = errors.New("engine loop stopped")

// DefaultInboxSize is the inbox depth used when NewLoop is given zero.
const DefaultInboxSize = 256

// Loop runs closures one at a time on a single goroutine. Everything
// that touches Logic goes through it, so engine state needs no locks.
type Loop struct {
	inbox  chan func()
	done   chan struct{}
	logger *slog.Logger
}

// NewLoop returns a loop with an inbox of the given depth. Posting
// blocks while the inbox is full.
func NewLoop(inboxSize int, logger *slog.Logger) *Loop {
	if inboxSize <= 0 {
		inboxSize = DefaultInboxSize
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Loop{
		inbox:  make(chan func(), inboxSize),
		done:   make(chan struct{}),
		logger: logger,
	}
}

// Run executes posted closures until ctx is cancelled. Closures still
// queued when ctx is cancelled are dropped. A panicking closure is
// logged and does not stop the loop.
func (l *Loop) Run(ctx context.Context) {
	defer close(l.done)
	for {
		select {
		case <-ctx.Done():
			return
		case fn := <-l.inbox:
			l.run(fn)
		}
	}
}

func (l *Loop) run(fn func()) {
	defer func() {
		if recovered := recover(); recovered != nil {
			l.logger.Error("engine event panicked", "panic", fmt.Sprint(recovered))
		}
	}()
	fn()
}

// Done is closed when Run returns.
func (l *Loop) Done() <-chan struct{} {
	return l.done
}

// Post queues fn to run on the loop.
func (l *Loop) Post(ctx context.Context, fn func()) error {
	select {
	case <-l.done:
		return ErrLoopStopped
	default:
	}
	select {
	case l.inbox <- fn:
		return nil
	case <-l.done:
		return ErrLoopStopped
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Call runs fn on the loop and waits for its result.
func Call[T any](ctx context.Context, loop *Loop, fn func() (T, error)) (T, error) {
	type outcome struct {
		value T
		err   error
	}
	results := make(chan outcome, 1)
	err := loop.Post(ctx, func() {
		var result outcome
		defer func() {
			if recovered := recover(); recovered != nil {
				result.err = fmt.Errorf("engine event panicked: %v", recovered)
			}
			results <- result
		}()
		result.value, result.err = fn()
	})
	if err != nil {
		var zero T
		return zero, err
	}

	select {
	case result := <-results:
		return result.value, result.err
	case <-loop.done:
		select {
		case result := <-results:
			return result.value, result.err
		default:
			var zero T
			return zero, ErrLoopStopped
		}
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}
