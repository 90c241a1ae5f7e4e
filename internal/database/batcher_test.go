package database

import (
	"errors"
	"sync"
	"testing"
	"time"
)

// flushRecorder collects flushed batches behind a mutex so tests can poll.
type flushRecorder struct {
	mu      sync.Mutex
	batches [][]int
	err     error
}

func (r *flushRecorder) flush(rows []int) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.batches = append(r.batches, rows)
	return r.err
}

func (r *flushRecorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.batches)
}

func (r *flushRecorder) total() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, b := range r.batches {
		n += len(b)
	}
	return n
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met in time")
}

func TestBatcherFlushesAtMaxSize(t *testing.T) {
	rec := &flushRecorder{}
	b := NewBatcher(3, time.Hour, rec.flush, nil)
	defer b.Stop()

	for i := 0; i < 3; i++ {
		b.Add(i)
	}

	waitFor(t, func() bool { return rec.count() == 1 })
	rec.mu.Lock()
	defer rec.mu.Unlock()
	if len(rec.batches[0]) != 3 {
		t.Errorf("batch size = %d, want 3", len(rec.batches[0]))
	}
}

func TestBatcherFlushesByAge(t *testing.T) {
	rec := &flushRecorder{}
	b := NewBatcher(100, 20*time.Millisecond, rec.flush, nil)
	defer b.Stop()

	b.Add(1)

	waitFor(t, func() bool { return rec.count() == 1 })
	if rec.total() != 1 {
		t.Errorf("flushed rows = %d, want 1", rec.total())
	}
}

func TestBatcherStopFlushesPending(t *testing.T) {
	rec := &flushRecorder{}
	b := NewBatcher(100, time.Hour, rec.flush, nil)

	b.Add(1)
	b.Add(2)
	b.Stop()

	if rec.total() != 2 {
		t.Errorf("flushed rows after Stop = %d, want 2", rec.total())
	}

	b.Add(3)
	if rec.total() != 2 {
		t.Error("Add after Stop must be dropped")
	}
}

func TestBatcherReportsFlushError(t *testing.T) {
	rec := &flushRecorder{err: errors.New("copy failed")}
	var mu sync.Mutex
	var got error
	b := NewBatcher(1, time.Hour, rec.flush, func(err error) {
		mu.Lock()
		got = err
		mu.Unlock()
	})
	defer b.Stop()

	b.Add(1)

	waitFor(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return got != nil
	})
}

func TestBatcherFlushRunsOutsideLock(t *testing.T) {
	rec := &flushRecorder{}
	b := NewBatcher(1, time.Hour, func(rows []int) error {
		// Re-entry must not deadlock against the batcher's own lock.
		b2 := NewBatcher(10, time.Hour, rec.flush, nil)
		b2.Add(rows[0])
		b2.Stop()
		return nil
	}, nil)

	b.Add(42)
	b.Stop()

	if rec.total() != 1 {
		t.Errorf("nested flush rows = %d, want 1", rec.total())
	}
}
