// Package queue provides the bounded FIFO that decouples notification intake
// from the paced delivery loops of the dialer and the alert dispatcher.
// Producers enqueue without blocking; a single consumer drains at its own
// rate.
package queue

import (
	"context"
	"errors"

	"github.com/snarg/klaxon/internal/metrics"
)

// Job is one notification waiting for the pacing consumer. Route carries the
// dispatcher's action on alert fan-out jobs; plain dial jobs leave it empty.
type Job struct {
	Phone   string `json:"phone"`
	Message string `json:"message"`
	Route   string `json:"route,omitempty"`
}

// ErrQueueFull is returned by Enqueue when the queue is at capacity.
var ErrQueueFull = errors.New("queue full")

// ErrClosed is returned once the queue has shut down.
var ErrClosed = errors.New("queue closed")

// Queue is a bounded FIFO of dial jobs.
type Queue interface {
	// Enqueue never blocks; a full queue returns ErrQueueFull.
	Enqueue(ctx context.Context, j Job) error
	// Dequeue blocks until a job arrives, the context ends, or the queue
	// closes.
	Dequeue(ctx context.Context) (Job, error)
	// Len is the number of jobs waiting. Broker-backed queues report the
	// locally buffered count.
	Len() int
	Close() error
}

// Memory is the in-process Queue used when no broker is configured.
type Memory struct {
	jobs chan Job
	done chan struct{}
}

func NewMemory(size int) *Memory {
	return &Memory{
		jobs: make(chan Job, size),
		done: make(chan struct{}),
	}
}

func (m *Memory) Enqueue(ctx context.Context, j Job) error {
	select {
	case <-m.done:
		return ErrClosed
	default:
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	select {
	case m.jobs <- j:
		metrics.QueuePublishedTotal.WithLabelValues("memory").Inc()
		return nil
	default:
		return ErrQueueFull
	}
}

func (m *Memory) Dequeue(ctx context.Context) (Job, error) {
	select {
	case <-m.done:
		return Job{}, ErrClosed
	default:
	}

	select {
	case <-m.done:
		return Job{}, ErrClosed
	case <-ctx.Done():
		return Job{}, ctx.Err()
	case j := <-m.jobs:
		return j, nil
	}
}

func (m *Memory) Len() int {
	return len(m.jobs)
}

func (m *Memory) Close() error {
	close(m.done)
	return nil
}
