package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/JakeFAU/gazette-archiver/internal/gazette"
)

// RecordStore keeps document records in a map keyed by filename.
type RecordStore struct {
	mu      sync.RWMutex
	records map[string]gazette.Record
}

// NewRecordStore constructs an empty RecordStore.
func NewRecordStore() *RecordStore {
	return &RecordStore{records: make(map[string]gazette.Record)}
}

// FindByFilename returns the record for filename or gazette.ErrNotFound.
func (s *RecordStore) FindByFilename(_ context.Context, filename string) (gazette.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.records[filename]
	if !ok {
		return gazette.Record{}, fmt.Errorf("%s: %w", filename, gazette.ErrNotFound)
	}
	return rec, nil
}

// Insert stores a new record; existing filenames are rejected.
func (s *RecordStore) Insert(_ context.Context, record gazette.Record) error {
	if record.Filename == "" {
		return gazette.ErrEmptyFilename
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.records[record.Filename]; exists {
		return fmt.Errorf("%s: %w", record.Filename, gazette.ErrAlreadyExists)
	}
	s.records[record.Filename] = record
	return nil
}

// UpdateStatus applies t to the record for filename.
func (s *RecordStore) UpdateStatus(_ context.Context, filename string, t gazette.Transition) error {
	if err := t.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[filename]
	if !ok {
		return fmt.Errorf("%s: %w", filename, gazette.ErrNotFound)
	}
	rec.Apply(t)
	s.records[filename] = rec
	return nil
}

// List returns records ordered by found_at then filename. An empty status returns all.
func (s *RecordStore) List(_ context.Context, status gazette.Status) ([]gazette.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]gazette.Record, 0, len(s.records))
	for _, rec := range s.records {
		if status != "" && rec.Status != status {
			continue
		}
		out = append(out, rec)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].FoundAt.Equal(out[j].FoundAt) {
			return out[i].Filename < out[j].Filename
		}
		return out[i].FoundAt.Before(out[j].FoundAt)
	})
	return out, nil
}
