// sim/eventstream.go
// Copyright(c) 2025-2026 dronesync contributors, licensed under the GNU Public License, Version 3.
// SPDX: GPL-3.0-only

package sim

import (
	"fmt"
	"log/slog"
	"runtime"
	"slices"
	"sync"
	"sync/atomic"

	"github.com/aerowind/dronesync/log"
)

// Subscription is a registered callback that receives every value posted
// to the stream it was created from.
type Subscription[T any] struct {
	stream *stream[T]
	fn     func(T)
	// source is the subscriber's callsite, recorded to make it easier
	// to track down misbehaving subscribers.
	source string
	active atomic.Bool
}

// FrameSubscription receives the live two-route frame snapshot for every
// applied frame.
type FrameSubscription = Subscription[Frames]

// StateWatch receives a copy of the State each time it is published.
type StateWatch = Subscription[State]

func (s *Subscription[T]) LogValue() slog.Value {
	return slog.GroupValue(
		slog.String("source", s.source),
		slog.Bool("active", s.active.Load()))
}

// Unsubscribe removes the subscription; its callback is not invoked
// again once Unsubscribe returns, apart from a delivery that is already
// in progress. Calling it more than once is harmless.
func (s *Subscription[T]) Unsubscribe() {
	if s == nil || !s.active.Swap(false) {
		return
	}
	s.stream.remove(s)
}

// stream is a minimal pub/sub list: values are delivered synchronously,
// in subscription order, on the posting goroutine.
type stream[T any] struct {
	mu   sync.Mutex
	subs []*Subscription[T]
	lg   *log.Logger
}

func newStream[T any](lg *log.Logger) *stream[T] {
	return &stream[T]{lg: lg}
}

func (st *stream[T]) subscribe(fn func(T), skip int) *Subscription[T] {
	_, fn0, line, _ := runtime.Caller(skip + 1)
	sub := &Subscription[T]{
		stream: st,
		fn:     fn,
		source: fmt.Sprintf("%s:%d", fn0, line),
	}
	sub.active.Store(true)

	st.mu.Lock()
	defer st.mu.Unlock()
	st.subs = append(st.subs, sub)
	return sub
}

func (st *stream[T]) remove(sub *Subscription[T]) {
	st.mu.Lock()
	defer st.mu.Unlock()

	st.subs = slices.DeleteFunc(st.subs, func(s *Subscription[T]) bool { return s == sub })
}

func (st *stream[T]) len() int {
	st.mu.Lock()
	defer st.mu.Unlock()
	return len(st.subs)
}

// post delivers v to all current subscribers. It must not be called with
// the Store's lock held: subscribers are free to call back into the Store.
func (st *stream[T]) post(v T) {
	st.mu.Lock()
	subs := slices.Clone(st.subs)
	st.mu.Unlock()

	for _, sub := range subs {
		if sub.active.Load() {
			st.deliver(sub, v)
		}
	}
}

func (st *stream[T]) deliver(sub *Subscription[T], v T) {
	defer func() {
		if err := recover(); err != nil {
			st.lg.Error("subscriber panicked", slog.Any("subscriber", sub), slog.Any("panic", err))
		}
	}()
	sub.fn(v)
}

func (st *stream[T]) clear() {
	st.mu.Lock()
	defer st.mu.Unlock()

	for _, sub := range st.subs {
		sub.active.Store(false)
	}
	st.subs = nil
}
