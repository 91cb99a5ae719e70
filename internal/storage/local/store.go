// Package local persists snapshots and cache slots on the local filesystem.
package local

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/jjjenkim/fis-results-scraper/internal/cache"
	"github.com/jjjenkim/fis-results-scraper/internal/scrape"
)

const (
	// LatestSnapshot is the object the dashboard reads.
	LatestSnapshot = "latest.json"
	runsDir        = "runs"
	cacheDir       = "cache"
)

// Config captures the parameters for the local filesystem store.
type Config struct {
	// BaseDir is the root directory where files are written.
	BaseDir string `mapstructure:"base_dir" yaml:"base_dir"`
}

// Store writes snapshots and cache slots under BaseDir. It implements
// scrape.SnapshotSink and cache.Store.
type Store struct {
	baseDir string
}

// RunRecord is written per run next to the latest snapshot.
type RunRecord struct {
	Summary  scrape.RunSummary `json:"summary"`
	Snapshot scrape.Snapshot   `json:"snapshot"`
}

// New creates a store rooted at cfg.BaseDir, creating it when missing.
func New(cfg Config) (*Store, error) {
	if strings.TrimSpace(cfg.BaseDir) == "" {
		return nil, fmt.Errorf("base directory is required")
	}

	info, err := os.Stat(cfg.BaseDir)
	switch {
	case os.IsNotExist(err):
		if mkErr := os.MkdirAll(cfg.BaseDir, 0o750); mkErr != nil {
			return nil, fmt.Errorf("failed to create base directory: %w", mkErr)
		}
	case err != nil:
		return nil, fmt.Errorf("failed to stat base directory: %w", err)
	case !info.IsDir():
		return nil, fmt.Errorf("base directory path is not a directory")
	}

	testFile := filepath.Join(cfg.BaseDir, ".writable_test")
	if err := os.WriteFile(testFile, []byte("test"), 0o600); err != nil {
		return nil, fmt.Errorf("base directory is not writable: %w", err)
	}
	if err := os.Remove(testFile); err != nil {
		return nil, fmt.Errorf("failed to clean up test file: %w", err)
	}

	return &Store{baseDir: cfg.BaseDir}, nil
}

// PutObject writes data to a file below the base directory and returns a
// file:// URI. The write goes through a temp file so readers never see a
// partial document.
func (s *Store) PutObject(_ context.Context, path string, data io.Reader) (string, error) {
	fullPath, err := s.resolve(path)
	if err != nil {
		return "", err
	}
	dir := filepath.Dir(fullPath)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return "", fmt.Errorf("failed to create parent directories: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".tmp-*")
	if err != nil {
		return "", fmt.Errorf("failed to create temp file: %w", err)
	}
	defer func() { _ = os.Remove(tmp.Name()) }()
	if _, err := io.Copy(tmp, data); err != nil {
		_ = tmp.Close()
		return "", fmt.Errorf("failed to write file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return "", fmt.Errorf("failed to close temp file: %w", err)
	}
	if err := os.Rename(tmp.Name(), fullPath); err != nil {
		return "", fmt.Errorf("failed to move file into place: %w", err)
	}
	return fmt.Sprintf("file://%s", fullPath), nil
}

// WriteSnapshot stores latest.json and runs/<run id>.json.
func (s *Store) WriteSnapshot(ctx context.Context, snapshot scrape.Snapshot, summary scrape.RunSummary) error {
	latest, err := json.MarshalIndent(snapshot, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal snapshot: %w", err)
	}
	if _, err := s.PutObject(ctx, LatestSnapshot, bytes.NewReader(latest)); err != nil {
		return fmt.Errorf("write latest snapshot: %w", err)
	}
	if summary.RunID == "" {
		return nil
	}
	record, err := json.Marshal(RunRecord{Summary: summary, Snapshot: snapshot})
	if err != nil {
		return fmt.Errorf("marshal run record: %w", err)
	}
	if _, err := s.PutObject(ctx, filepath.Join(runsDir, summary.RunID+".json"), bytes.NewReader(record)); err != nil {
		return fmt.Errorf("write run record: %w", err)
	}
	return nil
}

// ReadSnapshot loads latest.json. It returns os.ErrNotExist when no run
// has completed yet.
func (s *Store) ReadSnapshot(_ context.Context) (scrape.Snapshot, error) {
	// #nosec G304 -- path is fixed below the configured base directory.
	data, err := os.ReadFile(filepath.Join(s.baseDir, LatestSnapshot))
	if err != nil {
		return scrape.Snapshot{}, fmt.Errorf("read latest snapshot: %w", err)
	}
	var snapshot scrape.Snapshot
	if err := json.Unmarshal(data, &snapshot); err != nil {
		return scrape.Snapshot{}, fmt.Errorf("decode latest snapshot: %w", err)
	}
	return snapshot, nil
}

// Load implements cache.Store.
func (s *Store) Load(_ context.Context, key string) ([]byte, error) {
	path, err := s.resolve(slotPath(key))
	if err != nil {
		return nil, err
	}
	// #nosec G304 -- path is validated by resolve.
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, cache.ErrSlotNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("read cache slot: %w", err)
	}
	return data, nil
}

// Save implements cache.Store.
func (s *Store) Save(ctx context.Context, key string, data []byte) error {
	if _, err := s.PutObject(ctx, slotPath(key), bytes.NewReader(data)); err != nil {
		return fmt.Errorf("write cache slot: %w", err)
	}
	return nil
}

func slotPath(key string) string {
	return filepath.Join(cacheDir, key+".json")
}

func (s *Store) resolve(path string) (string, error) {
	if strings.TrimSpace(path) == "" {
		return "", fmt.Errorf("path is required")
	}
	cleanBaseDir := filepath.Clean(s.baseDir)
	cleanFullPath := filepath.Clean(filepath.Join(s.baseDir, path))
	if !strings.HasPrefix(cleanFullPath, cleanBaseDir+string(filepath.Separator)) {
		return "", fmt.Errorf("path traversal detected")
	}
	return cleanFullPath, nil
}
