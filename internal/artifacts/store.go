package artifacts

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/goccy/go-json"
)

const fileName = "artifacts.json"

// Store is where artifact sets live between training and serving
type Store interface {
	Save(set *Set) error
	Load() (*Set, error)
}

// FileStore keeps the current set as one JSON file in a directory
type FileStore struct {
	dir string
}

func NewFileStore(dir string) *FileStore {
	return &FileStore{dir: dir}
}

func (s *FileStore) Path() string {
	return filepath.Join(s.dir, fileName)
}

// Save writes the set to a temporary file and renames it into place, so a
// reader never sees a partial file
func (s *FileStore) Save(set *Set) error {
	if err := set.Validate(); err != nil {
		return fmt.Errorf("refusing to save invalid artifacts: %w", err)
	}

	data, err := json.Marshal(set)
	if err != nil {
		return fmt.Errorf("failed to marshal artifacts: %w", err)
	}

	if err := os.MkdirAll(s.dir, 0755); err != nil {
		return fmt.Errorf("failed to create artifact directory: %w", err)
	}

	tempPath := s.Path() + ".tmp"
	if err := os.WriteFile(tempPath, data, 0644); err != nil {
		return fmt.Errorf("failed to write temporary artifact file: %w", err)
	}
	if err := os.Rename(tempPath, s.Path()); err != nil {
		return fmt.Errorf("failed to rename temporary artifact file: %w", err)
	}
	return nil
}

// Load reads and validates the current set. Every failure is a LoadError.
func (s *FileStore) Load() (*Set, error) {
	data, err := os.ReadFile(s.Path())
	if errors.Is(err, os.ErrNotExist) {
		return nil, &LoadError{Reason: "no artifacts at " + s.Path(), Err: err}
	}
	if err != nil {
		return nil, &LoadError{Reason: "read artifacts", Err: err}
	}

	var set Set
	if err := json.Unmarshal(data, &set); err != nil {
		return nil, &LoadError{Reason: "corrupt artifacts", Err: err}
	}
	if err := set.Validate(); err != nil {
		return nil, err
	}
	return &set, nil
}
