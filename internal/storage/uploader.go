package storage

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
)

const (
	uploaderBuffer  = 64
	uploaderWorkers = 2
)

// AsyncUploader pushes artifacts to S3 without blocking synthesis or
// playback. Files are already on local disk before being enqueued here.
type AsyncUploader struct {
	s3       *S3Store
	ch       chan uploadJob
	workers  int
	log      zerolog.Logger
	stopped  atomic.Bool
	stopOnce sync.Once
	wg       sync.WaitGroup
}

type uploadJob struct {
	key         string
	data        []byte
	contentType string
}

// NewAsyncUploader creates an async S3 uploader.
func NewAsyncUploader(s3 *S3Store, bufferSize, workers int, log zerolog.Logger) *AsyncUploader {
	return &AsyncUploader{
		s3:      s3,
		ch:      make(chan uploadJob, bufferSize),
		workers: workers,
		log:     log.With().Str("component", "async-uploader").Logger(),
	}
}

// Enqueue adds an S3 upload job. Non-blocking; drops with a warning when
// full or stopped. The artifact stays safe on local disk either way.
func (u *AsyncUploader) Enqueue(key string, data []byte, contentType string) {
	if u.stopped.Load() {
		return
	}
	job := uploadJob{key: key, data: data, contentType: contentType}
	select {
	case u.ch <- job:
	default:
		u.log.Warn().Str("key", key).Msg("async upload queue full, skipping (artifact safe on disk)")
	}
}

// Start launches worker goroutines.
func (u *AsyncUploader) Start() {
	for i := 0; i < u.workers; i++ {
		u.wg.Add(1)
		go u.worker()
	}
	u.log.Info().Int("workers", u.workers).Int("buffer", cap(u.ch)).Msg("async uploader started")
}

// Stop signals workers to drain and waits for in-flight uploads.
func (u *AsyncUploader) Stop() {
	u.stopped.Store(true)
	u.stopOnce.Do(func() { close(u.ch) })
	u.wg.Wait()
}

func (u *AsyncUploader) worker() {
	defer u.wg.Done()
	for job := range u.ch {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		if err := u.s3.Save(ctx, job.key, job.data, job.contentType); err != nil {
			u.log.Error().Err(err).Str("key", job.key).Msg("async S3 upload failed (artifact safe on disk)")
		}
		cancel()
	}
}
