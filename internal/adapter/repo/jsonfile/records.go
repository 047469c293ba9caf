// Package jsonfile implements the record and cursor stores on top of
// whole-file JSON documents. A single mutex per store serializes every
// read-modify-write; linear scans are acceptable at this scale.
package jsonfile

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/fairyhunter13/feedback-analyzer/internal/domain"
)

// RecordStore is the append-only persisted log of analyzed feedback records.
// The backing file is a top-level JSON array, 2-space indented, created
// lazily with its parent directory.
type RecordStore struct {
	path string
	mu   sync.Mutex
}

// NewRecordStore constructs a store writing to path.
func NewRecordStore(path string) *RecordStore {
	return &RecordStore{path: path}
}

func (s *RecordStore) ensureLocked() error {
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return fmt.Errorf("%w: mkdir: %v", domain.ErrStorage, err)
	}
	if _, err := os.Stat(s.path); os.IsNotExist(err) {
		if err := os.WriteFile(s.path, []byte("[]"), 0o644); err != nil {
			return fmt.Errorf("%w: init: %v", domain.ErrStorage, err)
		}
	}
	return nil
}

func (s *RecordStore) readLocked() ([]domain.FeedbackRecord, error) {
	if err := s.ensureLocked(); err != nil {
		return nil, err
	}
	raw, err := os.ReadFile(s.path)
	if err != nil {
		return nil, fmt.Errorf("%w: read: %v", domain.ErrStorage, err)
	}
	if len(raw) == 0 {
		raw = []byte("[]")
	}
	var recs []domain.FeedbackRecord
	if err := json.Unmarshal(raw, &recs); err != nil {
		return nil, fmt.Errorf("%w: decode: %v", domain.ErrStorage, err)
	}
	return recs, nil
}

func (s *RecordStore) writeLocked(recs []domain.FeedbackRecord) error {
	b, err := json.MarshalIndent(recs, "", "  ")
	if err != nil {
		return fmt.Errorf("%w: encode: %v", domain.ErrStorage, err)
	}
	if err := os.WriteFile(s.path, b, 0o644); err != nil {
		return fmt.Errorf("%w: write: %v", domain.ErrStorage, err)
	}
	return nil
}

// Append normalizes createdAt to UTC and appends the record in a single
// read-modify-write under the store mutex.
func (s *RecordStore) Append(_ domain.Context, rec domain.FeedbackRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	recs, err := s.readLocked()
	if err != nil {
		return err
	}
	rec.CreatedAt = rec.CreatedAt.UTC()
	return s.writeLocked(append(recs, rec))
}

// AppendMany appends all records in one read-modify-write.
func (s *RecordStore) AppendMany(_ domain.Context, batch []domain.FeedbackRecord) error {
	if len(batch) == 0 {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	recs, err := s.readLocked()
	if err != nil {
		return err
	}
	for _, rec := range batch {
		rec.CreatedAt = rec.CreatedAt.UTC()
		recs = append(recs, rec)
	}
	return s.writeLocked(recs)
}

// ReadAll returns all records in append order.
func (s *RecordStore) ReadAll(_ domain.Context) ([]domain.FeedbackRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.readLocked()
}
