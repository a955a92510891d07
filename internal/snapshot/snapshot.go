// Package snapshot keeps the latest full valuation sweep in a flat JSON file
// for read-mostly queries.
package snapshot

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"path/filepath"
	"sync"

	"github.com/spf13/afero"

	"valuesweep/internal/model"
)

// ErrNoSnapshot is returned before the first full sweep has been written.
var ErrNoSnapshot = errors.New("no valuation snapshot")

// Store reads and atomically replaces the snapshot file.
type Store struct {
	fs   afero.Fs
	path string
	mu   sync.RWMutex
}

// New creates a Store for path on fsys.
func New(fsys afero.Fs, path string) *Store {
	return &Store{fs: fsys, path: path}
}

// Path returns the snapshot file location.
func (s *Store) Path() string {
	return s.path
}

// Write replaces the snapshot with results. The file is written to a
// temporary sibling and renamed into place, so readers see either the old or
// the new snapshot, never a partial one.
func (s *Store) Write(results []model.ValuationResult) error {
	if results == nil {
		results = []model.ValuationResult{}
	}
	data, err := json.MarshalIndent(results, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode snapshot: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	dir := filepath.Dir(s.path)
	if err := s.fs.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create snapshot directory: %w", err)
	}

	tmp, err := afero.TempFile(s.fs, dir, filepath.Base(s.path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("failed to create temporary snapshot: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		s.fs.Remove(tmpName)
		return fmt.Errorf("failed to write snapshot: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		s.fs.Remove(tmpName)
		return fmt.Errorf("failed to sync snapshot: %w", err)
	}
	if err := tmp.Close(); err != nil {
		s.fs.Remove(tmpName)
		return fmt.Errorf("failed to close snapshot: %w", err)
	}

	if err := s.fs.Rename(tmpName, s.path); err != nil {
		s.fs.Remove(tmpName)
		return fmt.Errorf("failed to replace snapshot: %w", err)
	}
	return nil
}

// Latest returns the records of the last written snapshot.
func (s *Store) Latest() ([]model.ValuationResult, error) {
	s.mu.RLock()
	data, err := afero.ReadFile(s.fs, s.path)
	s.mu.RUnlock()

	if errors.Is(err, fs.ErrNotExist) {
		return nil, ErrNoSnapshot
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read snapshot: %w", err)
	}

	var results []model.ValuationResult
	if err := json.Unmarshal(data, &results); err != nil {
		return nil, fmt.Errorf("failed to decode snapshot %s: %w", s.path, err)
	}
	return results, nil
}

// Top returns at most n snapshot records with a positive safety margin,
// highest first.
func (s *Store) Top(n int) ([]model.ValuationResult, error) {
	results, err := s.Latest()
	if err != nil {
		return nil, err
	}
	return model.TopPositive(results, n), nil
}
