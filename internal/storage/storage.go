package storage

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/rs/zerolog"

	"github.com/snarg/klaxon/internal/config"
)

// ArtifactStore abstracts rendered-audio storage backends. Keys are flat
// content-addressed filenames ({msg_chk_sum}.wav); artifacts are immutable
// once written.
type ArtifactStore interface {
	// Save stores a rendered artifact.
	Save(ctx context.Context, key string, data []byte, contentType string) error

	// LocalPath returns the local filesystem path if the artifact exists on
	// disk. Returns "" if not available locally.
	LocalPath(key string) string

	// URL returns a presigned URL for the artifact.
	// Returns "" for local-only backends.
	URL(ctx context.Context, key string) (string, error)

	// Open returns a reader for the artifact.
	Open(ctx context.Context, key string) (io.ReadCloser, error)

	// Exists checks if an artifact exists in any backend.
	Exists(ctx context.Context, key string) bool

	// Type returns "local", "s3", or "tiered".
	Type() string
}

// New creates an ArtifactStore based on config, plus background services
// (uploader, reconciler) the caller must Start/Stop. The local directory is
// always the primary tier: the PBX fetches playback media from it, so S3
// only ever adds durability. Returns an error if S3 is configured but
// unreachable.
func New(cfg config.S3Config, artifactDir string, log zerolog.Logger) (ArtifactStore, []BackgroundService, error) {
	local := NewLocalStore(artifactDir)
	if !cfg.Enabled() {
		return local, nil, nil
	}

	s3store, err := NewS3Store(cfg, log)
	if err != nil {
		return nil, nil, fmt.Errorf("S3 init failed: %w", err)
	}

	// Startup validation: verify credentials and bucket access
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := s3store.HeadBucket(ctx); err != nil {
		return nil, nil, fmt.Errorf("S3 startup check failed (bucket=%q endpoint=%q): %w",
			cfg.Bucket, cfg.Endpoint, err)
	}
	log.Info().Str("bucket", cfg.Bucket).Str("endpoint", cfg.Endpoint).Msg("S3 connection verified")

	uploader := NewAsyncUploader(s3store, uploaderBuffer, uploaderWorkers, log)
	tiered := NewTieredStore(s3store, local, uploader, log)
	reconciler := NewUploadReconciler(artifactDir, s3store, log)

	return tiered, []BackgroundService{uploader, reconciler}, nil
}

// BackgroundService is a stoppable background goroutine.
type BackgroundService interface {
	Start()
	Stop()
}
