package queue

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestMemoryFIFO(t *testing.T) {
	q := NewMemory(4)
	defer q.Close()

	ctx := context.Background()
	jobs := []Job{
		{Phone: "00111", Message: "first"},
		{Phone: "00222", Message: "second"},
		{Phone: "00333", Message: "third"},
	}
	for _, j := range jobs {
		if err := q.Enqueue(ctx, j); err != nil {
			t.Fatalf("enqueue %s: %v", j.Phone, err)
		}
	}
	if q.Len() != 3 {
		t.Errorf("Len = %d, want 3", q.Len())
	}

	for i, want := range jobs {
		got, err := q.Dequeue(ctx)
		if err != nil {
			t.Fatalf("dequeue %d: %v", i, err)
		}
		if got != want {
			t.Errorf("dequeue %d = %+v, want %+v", i, got, want)
		}
	}
	if q.Len() != 0 {
		t.Errorf("Len after drain = %d, want 0", q.Len())
	}
}

func TestMemoryFull(t *testing.T) {
	q := NewMemory(1)
	defer q.Close()

	ctx := context.Background()
	if err := q.Enqueue(ctx, Job{Phone: "00111"}); err != nil {
		t.Fatalf("first enqueue: %v", err)
	}
	err := q.Enqueue(ctx, Job{Phone: "00222"})
	if !errors.Is(err, ErrQueueFull) {
		t.Errorf("second enqueue err = %v, want ErrQueueFull", err)
	}
}

func TestMemoryDequeueContextCancel(t *testing.T) {
	q := NewMemory(1)
	defer q.Close()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		_, err := q.Dequeue(ctx)
		done <- err
	}()

	cancel()
	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("err = %v, want context.Canceled", err)
		}
	case <-time.After(time.Second):
		t.Fatal("dequeue did not return after cancel")
	}
}

func TestMemoryClosed(t *testing.T) {
	q := NewMemory(1)
	q.Close()

	ctx := context.Background()
	if err := q.Enqueue(ctx, Job{Phone: "00111"}); !errors.Is(err, ErrClosed) {
		t.Errorf("enqueue err = %v, want ErrClosed", err)
	}
	if _, err := q.Dequeue(ctx); !errors.Is(err, ErrClosed) {
		t.Errorf("dequeue err = %v, want ErrClosed", err)
	}
}
