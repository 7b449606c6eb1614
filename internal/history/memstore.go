package history

import (
	"context"
	"slices"
	"sync"
)

var _ Store = (*MemStore)(nil)

// MemStore is an in-process [Store]. History is lost on restart.
type MemStore struct {
	maxEntries int

	mu    sync.RWMutex
	calls []Call
}

// NewMemStore creates an empty MemStore. When maxEntries is positive the
// oldest records are evicted beyond that many.
func NewMemStore(maxEntries int) *MemStore {
	return &MemStore{maxEntries: maxEntries}
}

// Add appends c.
func (s *MemStore) Add(_ context.Context, c Call) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, cloneCall(c))
	if s.maxEntries > 0 && len(s.calls) > s.maxEntries {
		s.calls = slices.Delete(s.calls, 0, len(s.calls)-s.maxEntries)
	}
	return nil
}

// Get returns the call with the given id.
func (s *MemStore) Get(_ context.Context, id string) (Call, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	i := s.index(id)
	if i < 0 {
		return Call{}, ErrNotFound
	}
	return cloneCall(s.calls[i]), nil
}

// List returns the calls passing f, newest first.
func (s *MemStore) List(_ context.Context, f Filter) ([]Call, error) {
	s.mu.RLock()
	out := make([]Call, 0, len(s.calls))
	for _, c := range s.calls {
		if f.Match(c) {
			out = append(out, cloneCall(c))
		}
	}
	s.mu.RUnlock()

	// Insertion order is chronological; reversing keeps ties stable.
	slices.Reverse(out)
	slices.SortStableFunc(out, func(a, b Call) int {
		return b.CreatedAt.Compare(a.CreatedAt)
	})
	return out, nil
}

// Resolve sets the call's status to [StatusResolved].
func (s *MemStore) Resolve(_ context.Context, id string) (Call, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	i := s.index(id)
	if i < 0 {
		return Call{}, ErrNotFound
	}
	s.calls[i].Status = StatusResolved
	return cloneCall(s.calls[i]), nil
}

// Ping always succeeds.
func (s *MemStore) Ping(context.Context) error { return nil }

// Close is a no-op.
func (s *MemStore) Close() {}

// index must be called with s.mu held.
func (s *MemStore) index(id string) int {
	return slices.IndexFunc(s.calls, func(c Call) bool { return c.ID == id })
}

func cloneCall(c Call) Call {
	c.Keywords = slices.Clone(c.Keywords)
	if c.Keywords == nil {
		c.Keywords = []string{}
	}
	return c
}
