package jsonfile

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/fairyhunter13/feedback-analyzer/internal/domain"
)

// CursorStore persists the last fully-processed sequence number per job.
// Every update rewrites the whole file; acceptable at expected event rates.
type CursorStore struct {
	path    string
	mu      sync.Mutex
	cursors map[string]int64
}

// NewCursorStore loads cursors from path. A corrupt or unreadable file is
// treated as empty with a warning: the pipeline re-processes from seq 0 and
// relies on downstream dedup.
func NewCursorStore(path string) *CursorStore {
	s := &CursorStore{path: path, cursors: map[string]int64{}}
	raw, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return s
	}
	if err != nil {
		slog.Warn("failed to load cursor file, starting empty", slog.String("path", path), slog.Any("error", err))
		return s
	}
	if err := json.Unmarshal(raw, &s.cursors); err != nil {
		slog.Warn("cursor file corrupt, starting empty", slog.String("path", path), slog.Any("error", err))
		s.cursors = map[string]int64{}
	}
	return s
}

// Get returns the cursor for jobID, or 0 when absent.
func (s *CursorStore) Get(jobID string) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cursors[jobID]
}

// Update sets the cursor unconditionally; the caller has already verified
// monotonicity. The whole file is rewritten.
func (s *CursorStore) Update(jobID string, seq int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cursors[jobID] = seq
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return fmt.Errorf("%w: mkdir: %v", domain.ErrStorage, err)
	}
	b, err := json.MarshalIndent(s.cursors, "", "  ")
	if err != nil {
		return fmt.Errorf("%w: encode: %v", domain.ErrStorage, err)
	}
	if err := os.WriteFile(s.path, b, 0o644); err != nil {
		return fmt.Errorf("%w: write: %v", domain.ErrStorage, err)
	}
	return nil
}

// All returns a snapshot of the cursor mapping.
func (s *CursorStore) All() map[string]int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]int64, len(s.cursors))
	for k, v := range s.cursors {
		out[k] = v
	}
	return out
}
