// Package storage implements the file-I/O primitive set the learning core
// is built on: whole-file JSON reads and writes plus directory creation.
// Every persisted collection is a single UTF-8 JSON file; writers follow a
// read-whole-file, mutate-in-memory, write-whole-file pattern with a
// documented last-writer-wins contract across processes. The lone exception
// (the hot-swap lock) lives in the transfer package.
package storage

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"synapse/internal/logging"
)

// Store roots all state files under a single directory, conventionally
// <workspace>/.synapse. It carries no hidden module state; the embedding
// process owns the instance and its lifecycle.
type Store struct {
	dir string
}

// NewStore creates the state directory (and parents) if needed.
func NewStore(dir string) (*Store, error) {
	if dir == "" {
		return nil, fmt.Errorf("storage: state directory required")
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("storage: create state dir: %w", err)
	}
	return &Store{dir: dir}, nil
}

// Dir returns the root state directory.
func (s *Store) Dir() string { return s.dir }

// Path resolves a state file name relative to the store root.
func (s *Store) Path(name string) string {
	return filepath.Join(s.dir, filepath.FromSlash(name))
}

// EnsureDir creates a subdirectory under the store root.
func (s *Store) EnsureDir(rel string) error {
	return os.MkdirAll(s.Path(rel), 0755)
}

// ReadJSON loads a state file into v. A missing or malformed file is not an
// error: the caller proceeds with its zero value and ReadJSON reports false.
// Malformed state is logged and treated as empty rather than aborting.
func (s *Store) ReadJSON(name string, v any) bool {
	data, err := os.ReadFile(s.Path(name))
	if err != nil {
		if !os.IsNotExist(err) {
			logging.Get(logging.CategoryStorage).Warnw("unreadable state file, using empty default",
				"file", name, "error", err)
		}
		return false
	}
	if err := json.Unmarshal(data, v); err != nil {
		logging.Get(logging.CategoryStorage).Warnw("malformed state file, using empty default",
			"file", name, "error", err)
		return false
	}
	return true
}

// WriteJSON persists v as indented JSON. The write goes through a temp file
// in the same directory followed by a rename, which is atomic enough for the
// single-writer correctness the stores assume.
func (s *Store) WriteJSON(name string, v any) error {
	path := s.Path(name)
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("storage: create dir for %s: %w", name, err)
	}
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("storage: marshal %s: %w", name, err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), ".tmp-*")
	if err != nil {
		return fmt.Errorf("storage: temp file for %s: %w", name, err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("storage: write %s: %w", name, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("storage: close %s: %w", name, err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("storage: rename %s: %w", name, err)
	}
	return nil
}

// Remove deletes a state file. Missing files are fine.
func (s *Store) Remove(name string) error {
	err := os.Remove(s.Path(name))
	if err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}
