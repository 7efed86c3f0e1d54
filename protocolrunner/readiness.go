package protocolrunner

import (
	"context"
	"sync"
)

// ReadinessWatch is a single-producer, multi-consumer boolean condition: the
// runner signals "context initialized" exactly once, and any number of
// waiters can block until that happens. The one-way false-to-true
// transition closes an internal channel, so every current and future waiter
// observes the same broadcast with no lost-wakeup window.
type ReadinessWatch struct {
	mu      sync.Mutex
	ready   bool
	readyCh chan struct{}
}

// NewReadinessWatch returns a ReadinessWatch in the not-ready state.
func NewReadinessWatch() *ReadinessWatch {
	return &ReadinessWatch{readyCh: make(chan struct{})}
}

// Set transitions the watch to ready and wakes every current and future
// waiter. The transition is one-way: once ready, further calls (including
// Set(false)) are no-ops, matching the runner's own "context initialized"
// signal, which is never un-signaled. Only the component that initialized
// the context should call Set; this is a single-writer contract the type
// does not enforce.
func (w *ReadinessWatch) Set(ready bool) {
	if !ready {
		return
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.ready {
		return
	}
	w.ready = true
	close(w.readyCh)
}

// IsReady reports the current state without blocking.
func (w *ReadinessWatch) IsReady() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.ready
}

// Wait blocks until the watch becomes ready or ctx is done, whichever comes
// first.
func (w *ReadinessWatch) Wait(ctx context.Context) error {
	w.mu.Lock()
	ch := w.readyCh
	w.mu.Unlock()

	select {
	case <-ch:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
