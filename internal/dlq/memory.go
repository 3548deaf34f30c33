package dlq

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// MemoryStore keeps at most limit records, evicting the oldest. The set of
// seen job ids outlives eviction so a late duplicate is still rejected.
type MemoryStore struct {
	mu      sync.Mutex
	limit   int
	records []Record
	seen    map[string]struct{}
}

func NewMemoryStore(limit int) *MemoryStore {
	if limit <= 0 {
		limit = 1000
	}
	return &MemoryStore{limit: limit, seen: map[string]struct{}{}}
}

func (s *MemoryStore) Append(ctx context.Context, r Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, dup := s.seen[r.OriginalJobID]; dup {
		return fmt.Errorf("job %s: %w", r.OriginalJobID, ErrAlreadyRecorded)
	}
	s.seen[r.OriginalJobID] = struct{}{}
	s.records = append(s.records, r)
	if over := len(s.records) - s.limit; over > 0 {
		s.records = append([]Record(nil), s.records[over:]...)
	}
	return nil
}

func (s *MemoryStore) List(ctx context.Context) ([]Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Record(nil), s.records...), nil
}

func (s *MemoryStore) PurgeBefore(ctx context.Context, cutoff time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	kept := s.records[:0]
	for _, r := range s.records {
		if r.Timestamp.Before(cutoff) {
			continue
		}
		kept = append(kept, r)
	}
	purged := len(s.records) - len(kept)
	s.records = kept
	return purged, nil
}
