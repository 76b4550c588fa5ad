// Package coalesce batches rapid writes of the same value into a single
// delayed flush.
package coalesce

import (
	"sync"
	"time"
)

// Writer holds the latest value written and flushes it once per window.
// Writes arriving while a flush is pending replace the pending value.
type Writer[T any] struct {
	mu      sync.Mutex
	flushMu sync.Mutex
	delay   time.Duration
	flush   func(T) error
	onError func(error)
	pending T
	dirty   bool
	timer   *time.Timer
	closed  bool
}

func NewWriter[T any](delay time.Duration, flush func(T) error, onError func(error)) *Writer[T] {
	if onError == nil {
		onError = func(error) {}
	}
	return &Writer[T]{delay: delay, flush: flush, onError: onError}
}

// Write schedules v for persistence. The first write of a window arms the
// timer; later writes in the same window only replace the value.
func (w *Writer[T]) Write(v T) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return
	}
	w.pending = v
	w.dirty = true
	if w.timer == nil {
		w.timer = time.AfterFunc(w.delay, w.fire)
	}
}

func (w *Writer[T]) fire() {
	if err := w.Flush(); err != nil {
		w.onError(err)
	}
}

// Flush writes the pending value now, if any.
func (w *Writer[T]) Flush() error {
	w.flushMu.Lock()
	defer w.flushMu.Unlock()

	w.mu.Lock()
	if w.timer != nil {
		w.timer.Stop()
		w.timer = nil
	}
	if !w.dirty {
		w.mu.Unlock()
		return nil
	}
	v := w.pending
	w.dirty = false
	w.mu.Unlock()
	return w.flush(v)
}

// Close flushes and rejects further writes.
func (w *Writer[T]) Close() error {
	err := w.Flush()
	w.mu.Lock()
	w.closed = true
	w.mu.Unlock()
	return err
}
