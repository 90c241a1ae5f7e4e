package database

import (
	"sync"
	"time"
)

// Batcher accumulates rows and hands them to flush in batches, either when
// maxSize rows are pending or when maxAge has passed since the first pending
// row, whichever comes first. Flush runs outside the lock; its error, if
// any, goes to onErr and the batch is dropped — the caller decides whether
// that is fatal.
type Batcher[T any] struct {
	mu      sync.Mutex
	pending []T
	maxSize int
	maxAge  time.Duration
	flush   func([]T) error
	onErr   func(error)
	timer   *time.Timer
	stopped bool
	wg      sync.WaitGroup
}

func NewBatcher[T any](maxSize int, maxAge time.Duration, flush func([]T) error, onErr func(error)) *Batcher[T] {
	if onErr == nil {
		onErr = func(error) {}
	}
	return &Batcher[T]{
		maxSize: maxSize,
		maxAge:  maxAge,
		flush:   flush,
		onErr:   onErr,
	}
}

// Add appends a row to the pending batch, flushing when the batch fills.
// Adds after Stop are dropped.
func (b *Batcher[T]) Add(row T) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.stopped {
		return
	}

	b.pending = append(b.pending, row)

	if len(b.pending) >= b.maxSize {
		b.flushLocked()
		return
	}

	// Arm the age timer on the first pending row.
	if len(b.pending) == 1 {
		b.timer = time.AfterFunc(b.maxAge, func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			if !b.stopped && len(b.pending) > 0 {
				b.flushLocked()
			}
		})
	}
}

// Flush forces out any pending rows.
func (b *Batcher[T]) Flush() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.pending) > 0 {
		b.flushLocked()
	}
}

// Stop flushes pending rows, waits for in-flight flushes, and drops all
// later adds.
func (b *Batcher[T]) Stop() {
	b.mu.Lock()
	b.stopped = true
	if b.timer != nil {
		b.timer.Stop()
	}
	if len(b.pending) > 0 {
		b.flushLocked()
	}
	b.mu.Unlock()
	b.wg.Wait()
}

func (b *Batcher[T]) flushLocked() {
	if b.timer != nil {
		b.timer.Stop()
		b.timer = nil
	}
	rows := b.pending
	b.pending = nil
	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		if err := b.flush(rows); err != nil {
			b.onErr(err)
		}
	}()
}
