// Package local writes the published report to the local filesystem.
package local

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/JakeFAU/statuswatch/internal/publisher"
)

// Config captures the parameters for the local status file.
type Config struct {
	// Dir is the directory the file lives in, usually the frontend root.
	Dir string `mapstructure:"dir" yaml:"dir"`
	// Name is the file name, relative to Dir.
	Name string `mapstructure:"name" yaml:"name"`
}

// FileStore replaces one file atomically on every publish so readers never
// see a partial report.
type FileStore struct {
	dir  string
	path string
}

// New creates a file store, creating Dir when needed.
func New(cfg Config) (*FileStore, error) {
	if strings.TrimSpace(cfg.Dir) == "" {
		return nil, fmt.Errorf("directory is required")
	}
	if strings.TrimSpace(cfg.Name) == "" {
		return nil, fmt.Errorf("file name is required")
	}

	info, err := os.Stat(cfg.Dir)
	if err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("failed to stat directory: %w", err)
		}
		if mkErr := os.MkdirAll(cfg.Dir, 0o750); mkErr != nil {
			return nil, fmt.Errorf("failed to create directory: %w", mkErr)
		}
	} else if !info.IsDir() {
		return nil, fmt.Errorf("path %q is not a directory", cfg.Dir)
	}

	cleanDir := filepath.Clean(cfg.Dir)
	full := filepath.Clean(filepath.Join(cleanDir, cfg.Name))
	if !strings.HasPrefix(full, cleanDir+string(filepath.Separator)) {
		return nil, fmt.Errorf("path traversal detected")
	}

	// Check for write permissions.
	check, err := os.CreateTemp(cleanDir, ".writable-*")
	if err != nil {
		return nil, fmt.Errorf("directory is not writable: %w", err)
	}
	_ = check.Close()
	if err := os.Remove(check.Name()); err != nil {
		return nil, fmt.Errorf("failed to clean up writability check file: %w", err)
	}

	return &FileStore{dir: cleanDir, path: full}, nil
}

// Name identifies the sink.
func (s *FileStore) Name() string {
	return "file"
}

// Path returns the file the report is written to.
func (s *FileStore) Path() string {
	return s.path
}

// Publish writes body to a temp file in the same directory and renames it
// over the target.
func (s *FileStore) Publish(_ context.Context, _ publisher.Report, body []byte) error {
	if err := os.MkdirAll(filepath.Dir(s.path), 0o750); err != nil {
		return fmt.Errorf("failed to create parent directories: %w", err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(s.path), "."+filepath.Base(s.path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()
	cleanup := func() { _ = os.Remove(tmpName) }

	if _, err := tmp.Write(body); err != nil {
		_ = tmp.Close()
		cleanup()
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		cleanup()
		return fmt.Errorf("sync temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		cleanup()
		return fmt.Errorf("close temp file: %w", err)
	}
	// #nosec G302 -- the status file is served publicly.
	if err := os.Chmod(tmpName, 0o644); err != nil {
		cleanup()
		return fmt.Errorf("chmod temp file: %w", err)
	}
	if err := os.Rename(tmpName, s.path); err != nil {
		cleanup()
		return fmt.Errorf("replace %s: %w", s.path, err)
	}
	return nil
}
