package storage

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// UploadReconciler scans the artifact directory for files missing from S3
// and re-uploads them. Handles dropped async uploads and crash recovery.
type UploadReconciler struct {
	artifactDir string
	s3          *S3Store
	interval    time.Duration
	window      time.Duration
	log         zerolog.Logger
	stop        chan struct{}
}

// NewUploadReconciler creates a reconciler that checks for missing S3 uploads.
func NewUploadReconciler(artifactDir string, s3 *S3Store, log zerolog.Logger) *UploadReconciler {
	return &UploadReconciler{
		artifactDir: artifactDir,
		s3:          s3,
		interval:    5 * time.Minute,
		window:      24 * time.Hour,
		log:         log.With().Str("component", "upload-reconciler").Logger(),
		stop:        make(chan struct{}),
	}
}

func (r *UploadReconciler) Start() { go r.loop() }
func (r *UploadReconciler) Stop()  { close(r.stop) }

func (r *UploadReconciler) loop() {
	// Delay first run to let startup uploads settle
	select {
	case <-time.After(2 * time.Minute):
	case <-r.stop:
		return
	}

	r.reconcile()
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			r.reconcile()
		case <-r.stop:
			return
		}
	}
}

// reconcile walks the flat artifact directory. Artifacts older than the
// window are assumed settled; the synthesis path never rewrites a key.
func (r *UploadReconciler) reconcile() {
	var uploaded, failed, checked int

	cutoff := time.Now().Add(-r.window)

	entries, err := os.ReadDir(r.artifactDir)
	if err != nil {
		r.log.Warn().Err(err).Msg("artifact dir unreadable, skipping reconcile")
		return
	}
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		name := entry.Name()
		if strings.HasPrefix(name, ".artifact-") && strings.HasSuffix(name, ".tmp") {
			continue
		}
		if !strings.HasSuffix(name, ".wav") {
			continue
		}
		info, err := entry.Info()
		if err != nil || info.ModTime().Before(cutoff) {
			continue
		}
		checked++

		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		exists := r.s3.Exists(ctx, name)
		cancel()
		if exists {
			continue
		}

		data, readErr := os.ReadFile(filepath.Join(r.artifactDir, name))
		if readErr != nil {
			continue
		}

		ctx, cancel = context.WithTimeout(context.Background(), 30*time.Second)
		if saveErr := r.s3.Save(ctx, name, data, "audio/wav"); saveErr != nil {
			r.log.Warn().Err(saveErr).Str("key", name).Msg("reconcile upload failed")
			failed++
		} else {
			uploaded++
		}
		cancel()
	}

	if uploaded > 0 || failed > 0 {
		r.log.Info().
			Int("uploaded", uploaded).
			Int("failed", failed).
			Int("checked", checked).
			Msg("reconcile complete")
	}
}
