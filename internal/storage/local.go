package storage

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// LocalStore keeps artifacts on the local filesystem. The PBX reads playback
// media through the audio cache's HTTP layer, which serves this directory.
type LocalStore struct {
	artifactDir string
}

// NewLocalStore creates a local filesystem artifact store.
func NewLocalStore(artifactDir string) *LocalStore {
	return &LocalStore{artifactDir: artifactDir}
}

func (s *LocalStore) Save(ctx context.Context, key string, data []byte, contentType string) error {
	path := filepath.Join(s.artifactDir, key)
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("mkdir %s: %w", dir, err)
	}

	// Atomic write: temp file + rename. Readers polling for readiness must
	// never see a half-written artifact.
	tmp, err := os.CreateTemp(dir, ".artifact-*.tmp")
	if err != nil {
		return fmt.Errorf("create temp: %w", err)
	}
	tmpPath := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("write: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("close: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("rename: %w", err)
	}
	return nil
}

func (s *LocalStore) LocalPath(key string) string {
	full := filepath.Join(s.artifactDir, key)
	if _, err := os.Stat(full); err == nil {
		return full
	}
	return ""
}

func (s *LocalStore) URL(ctx context.Context, key string) (string, error) {
	return "", nil
}

func (s *LocalStore) Open(ctx context.Context, key string) (io.ReadCloser, error) {
	return os.Open(filepath.Join(s.artifactDir, key))
}

func (s *LocalStore) Exists(ctx context.Context, key string) bool {
	_, err := os.Stat(filepath.Join(s.artifactDir, key))
	return err == nil
}

func (s *LocalStore) Type() string { return "local" }

// Dir returns the artifact directory path.
func (s *LocalStore) Dir() string { return s.artifactDir }
