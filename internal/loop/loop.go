// Copyright 2021 The Mellium Contributors.
// Use of this source code is governed by the BSD 2-clause
// license that can be found in the LICENSE file.

// Package loop runs callbacks on a single goroutine.
//
// Everything that touches client state (transport events, timers, and user
// actions) is posted to the loop so that the client itself needs no locking.
package loop // import "mellium.im/unison/internal/loop"

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"
)

const mailboxSize = 64

// ErrClosed is returned when using a loop after Close.
var ErrClosed = errors.New("loop: closed")

// Loop is a mailbox of functions that are run in order by Run.
type Loop struct {
	actorCh   chan func()
	done      chan struct{}
	closeOnce sync.Once
}

// New returns a loop with an empty mailbox.
func New() *Loop {
	return &Loop{
		actorCh: make(chan func(), mailboxSize),
		done:    make(chan struct{}),
	}
}

// Close stops the loop for good.
// Run returns, and functions that are posted afterwards, or that are still
// waiting for room in the mailbox, are dropped.
func (l *Loop) Close() {
	l.closeOnce.Do(func() {
		close(l.done)
	})
}

func (l *Loop) closed() bool {
	select {
	case <-l.done:
		return true
	default:
		return false
	}
}

// Post queues f to be run on the loop.
// It blocks if the mailbox is full until there is room or the loop is closed.
func (l *Loop) Post(f func()) {
	select {
	case l.actorCh <- f:
	case <-l.done:
	}
}

// Do runs f on the loop and waits for it to return.
// It returns early with the context error if ctx is canceled first.
func (l *Loop) Do(ctx context.Context, f func()) error {
	if l.closed() {
		return ErrClosed
	}
	done := make(chan struct{})
	select {
	case l.actorCh <- func() {
		defer close(done)
		f()
	}:
	case <-ctx.Done():
		return ctx.Err()
	case <-l.done:
		return ErrClosed
	}
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-l.done:
		return ErrClosed
	}
}

// Run executes posted functions until ctx is canceled or the loop is closed.
// It may be called again after it returns to keep draining the mailbox.
func (l *Loop) Run(ctx context.Context) error {
	for {
		if l.closed() {
			return ErrClosed
		}
		select {
		case f := <-l.actorCh:
			f()
		case <-ctx.Done():
			return ctx.Err()
		case <-l.done:
			return ErrClosed
		}
	}
}

// Schedule runs f on the loop after d.
// The returned function cancels the call; if the timer has already fired but f
// has not yet run on the loop, f is skipped.
func (l *Loop) Schedule(d time.Duration, f func()) (cancel func()) {
	var canceled atomic.Bool
	t := time.AfterFunc(d, func() {
		l.Post(func() {
			if !canceled.Load() {
				f()
			}
		})
	})
	return func() {
		canceled.Store(true)
		t.Stop()
	}
}
