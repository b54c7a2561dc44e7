package wallet

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
)

// Store persists wallet seed material as a JSON file. Reads never fail
// hard: a missing, corrupt, or unreadable store is treated as absent
// and the pool regenerates instead of blocking.
type Store struct {
	path   string
	logger *slog.Logger
}

// NewStore creates a seed store at the given path.
func NewStore(path string, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{path: path, logger: logger}
}

type storeFile struct {
	Seeds []string `json:"seeds"`
}

// LoadAll returns the persisted seed sequence. When no usable store
// exists the sequence starts with the fixed genesis seed so the first
// identity is stable across runs.
func (s *Store) LoadAll() []string {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			s.logger.Warn("seed store unreadable, starting fresh",
				slog.String("path", s.path),
				slog.String("error", err.Error()),
			)
		}
		return []string{GenesisSeed}
	}

	var f storeFile
	if err := json.Unmarshal(data, &f); err != nil || len(f.Seeds) == 0 {
		s.logger.Warn("seed store corrupt, starting fresh",
			slog.String("path", s.path),
		)
		return []string{GenesisSeed}
	}

	return f.Seeds
}

// SaveAll atomically overwrites the store with the full seed sequence.
// Called only from the single-threaded pool-growth path.
func (s *Store) SaveAll(seeds []string) error {
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return fmt.Errorf("create seed store directory: %w", err)
	}

	data, err := json.MarshalIndent(storeFile{Seeds: seeds}, "", "  ")
	if err != nil {
		return fmt.Errorf("encode seed store: %w", err)
	}

	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("write seed store: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return fmt.Errorf("replace seed store: %w", err)
	}
	return nil
}
