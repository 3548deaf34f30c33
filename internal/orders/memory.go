package orders

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"
)

// MemoryStore is a process-local Repository.
type MemoryStore struct {
	mu      sync.RWMutex
	byID    map[string]Order
	byKey   map[string]string
	nowFunc func() time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		byID:    map[string]Order{},
		byKey:   map[string]string{},
		nowFunc: time.Now,
	}
}

func (s *MemoryStore) Create(ctx context.Context, o *Order) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.byKey[o.IdempotencyKey]; exists {
		return ErrDuplicateIdempotencyKey
	}
	if _, exists := s.byID[o.ID]; exists {
		return fmt.Errorf("order %s already exists", o.ID)
	}
	now := s.nowFunc()
	if o.CreatedAt.IsZero() {
		o.CreatedAt = now
	}
	o.UpdatedAt = now
	s.byID[o.ID] = clone(*o)
	s.byKey[o.IdempotencyKey] = o.ID
	return nil
}

func (s *MemoryStore) Get(ctx context.Context, id string) (*Order, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	o, ok := s.byID[id]
	if !ok {
		return nil, nil
	}
	cp := clone(o)
	return &cp, nil
}

func (s *MemoryStore) GetByIdempotencyKey(ctx context.Context, key string) (*Order, error) {
	s.mu.RLock()
	id, ok := s.byKey[key]
	s.mu.RUnlock()
	if !ok {
		return nil, nil
	}
	return s.Get(ctx, id)
}

func (s *MemoryStore) List(ctx context.Context, status *Status) ([]Order, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]Order, 0, len(s.byID))
	for _, o := range s.byID {
		if status != nil && o.Status != *status {
			continue
		}
		out = append(out, clone(o))
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

func (s *MemoryStore) Update(ctx context.Context, o *Order) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	curr, ok := s.byID[o.ID]
	if !ok || curr.Status != o.Status {
		return ErrStatusMismatch
	}
	o.UpdatedAt = s.nowFunc()
	s.byID[o.ID] = clone(*o)
	return nil
}

func (s *MemoryStore) UpdateStatus(ctx context.Context, id string, expected, next Status, reason string) error {
	if err := CheckTransition(expected, next); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	o, ok := s.byID[id]
	if !ok || o.Status != expected {
		return ErrStatusMismatch
	}
	o.Status = next
	if next == StatusFailedEnrichment && reason != "" {
		o.FailureReason = &reason
	}
	o.UpdatedAt = s.nowFunc()
	s.byID[id] = o
	return nil
}

// clone copies the slices so callers cannot mutate stored state.
func clone(o Order) Order {
	o.Items = append([]Item(nil), o.Items...)
	return o
}
