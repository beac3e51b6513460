// Package snapshot persists the full listing between runs.
package snapshot

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/osawatch/osawatch/pkg/domain"
)

// Store reads and writes the snapshot file, a human-indented JSON array
// of items. The file is replaced wholesale on every save.
type Store struct {
	path string
}

// NewStore creates a store for the given snapshot file path
func NewStore(path string) *Store {
	return &Store{path: path}
}

// Load reads the prior snapshot. A missing file is not an error and
// returns an empty list; invalid content is reported to the caller.
func (s *Store) Load() ([]domain.Item, error) {
	data, err := os.ReadFile(s.path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read snapshot %s: %w", s.path, err)
	}

	var items []domain.Item
	if err := json.Unmarshal(data, &items); err != nil {
		return nil, fmt.Errorf("parse snapshot %s: %w", s.path, err)
	}
	return items, nil
}

// Save replaces the snapshot with the given items
func (s *Store) Save(items []domain.Item) error {
	if items == nil {
		items = []domain.Item{}
	}

	data, err := json.MarshalIndent(items, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal snapshot: %w", err)
	}

	if err := os.WriteFile(s.path, data, 0o600); err != nil {
		return fmt.Errorf("write snapshot %s: %w", s.path, err)
	}
	return nil
}

// Path returns the snapshot file location
func (s *Store) Path() string {
	return s.path
}
