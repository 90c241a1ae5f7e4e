package sms

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog"

	"github.com/snarg/klaxon/internal/metrics"
)

// Job is one outbound message waiting for a delivery worker. done receives
// the carrier outcome so the enqueuing handler can report it.
type Job struct {
	Phone   string
	Message string
	done    chan error
}

// QueueStats reports the current state of the delivery queue.
type QueueStats struct {
	Pending int   `json:"pending"`
	Sent    int64 `json:"sent"`
	Failed  int64 `json:"failed"`
}

// Pool runs carrier sends on a fixed set of workers. Handlers enqueue and
// wait, so the HTTP response reflects the delivery outcome while a slow
// provider backs up the queue instead of fanning out unbounded goroutines.
type Pool struct {
	carrier Carrier
	workers int
	jobs    chan Job
	log     zerolog.Logger
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup

	sent   atomic.Int64
	failed atomic.Int64
}

func NewPool(carrier Carrier, workers int, log zerolog.Logger) *Pool {
	if workers < 1 {
		workers = 1
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Pool{
		carrier: carrier,
		workers: workers,
		jobs:    make(chan Job, workers*2),
		log:     log.With().Str("component", "sms_pool").Logger(),
		ctx:     ctx,
		cancel:  cancel,
	}
}

// Start launches the worker goroutines.
func (p *Pool) Start() {
	for i := 0; i < p.workers; i++ {
		p.wg.Add(1)
		go p.worker(i)
	}
	p.log.Info().Int("workers", p.workers).Str("carrier", p.carrier.Name()).Msg("sms worker pool started")
}

// Stop drains queued jobs and waits for the workers to finish.
func (p *Pool) Stop() {
	close(p.jobs)
	p.wg.Wait()
	p.cancel()
	p.log.Info().
		Int64("sent", p.sent.Load()).
		Int64("failed", p.failed.Load()).
		Msg("sms worker pool stopped")
}

// Send queues one message and waits for its delivery outcome.
func (p *Pool) Send(ctx context.Context, phone, message string) error {
	j := Job{Phone: phone, Message: message, done: make(chan error, 1)}
	select {
	case p.jobs <- j:
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case err := <-j.done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Stats returns current queue statistics.
func (p *Pool) Stats() QueueStats {
	return QueueStats{
		Pending: len(p.jobs),
		Sent:    p.sent.Load(),
		Failed:  p.failed.Load(),
	}
}

func (p *Pool) worker(id int) {
	defer p.wg.Done()
	log := p.log.With().Int("worker", id).Logger()

	for job := range p.jobs {
		err := p.carrier.Send(p.ctx, job.Phone, job.Message)
		if err != nil {
			p.failed.Add(1)
			metrics.SMSSentTotal.WithLabelValues(p.carrier.Name(), "error").Inc()
			log.Warn().Err(err).Str("phone", job.Phone).Msg("sms delivery failed")
		} else {
			p.sent.Add(1)
			metrics.SMSSentTotal.WithLabelValues(p.carrier.Name(), "sent").Inc()
			log.Info().Str("phone", job.Phone).Msg("sms sent")
		}
		job.done <- err
	}
}
