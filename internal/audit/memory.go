package audit

import (
	"context"
	"sync"
)

// MemStore keeps the most recent records in memory. When full, the oldest
// record is overwritten.
type MemStore struct {
	mu     sync.RWMutex
	buf    []Record
	next   int // index the next record is written to
	full   bool
	nextID int64
}

var _ Store = (*MemStore)(nil)

// NewMemStore returns a MemStore retaining at most limit records. A
// non-positive limit retains [DefaultQueryLimit] records.
func NewMemStore(limit int) *MemStore {
	if limit <= 0 {
		limit = DefaultQueryLimit
	}
	return &MemStore{buf: make([]Record, limit)}
}

// Append implements [Store].
func (s *MemStore) Append(_ context.Context, records []Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, r := range records {
		s.nextID++
		r.ID = s.nextID
		s.buf[s.next] = r
		s.next++
		if s.next == len(s.buf) {
			s.next = 0
			s.full = true
		}
	}
	return nil
}

// Recent implements [Store].
func (s *MemStore) Recent(_ context.Context, q Query) ([]Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	n := s.next
	if s.full {
		n = len(s.buf)
	}
	limit := q.limit()
	out := make([]Record, 0, min(limit, n))
	for i := 0; i < n && len(out) < limit; i++ {
		idx := (s.next - 1 - i + len(s.buf)) % len(s.buf)
		if r := s.buf[idx]; q.matches(r) {
			out = append(out, r)
		}
	}
	return out, nil
}

// Ping implements [Store]. A MemStore is always reachable.
func (s *MemStore) Ping(context.Context) error { return nil }

// Len returns the number of retained records.
func (s *MemStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.full {
		return len(s.buf)
	}
	return s.next
}
