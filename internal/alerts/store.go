package alerts

import (
	"sync"

	"dcwatch/internal/model"
)

// Store keeps the most recent alert transitions in memory for the
// inspection API. Oldest entries are dropped once the limit is reached.
type Store struct {
	mu    sync.RWMutex
	buf   []model.Transition
	limit int
}

func NewStore(limit int) *Store {
	if limit <= 0 {
		limit = 1000
	}
	return &Store{limit: limit}
}

func (s *Store) Add(t model.Transition) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.buf) < s.limit {
		s.buf = append(s.buf, t)
		return
	}
	copy(s.buf, s.buf[1:])
	s.buf[len(s.buf)-1] = t
}

func (s *Store) List(limit int) []model.Transition {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if limit <= 0 || limit > len(s.buf) {
		limit = len(s.buf)
	}
	out := make([]model.Transition, 0, limit)
	for i := len(s.buf) - limit; i < len(s.buf); i++ {
		out = append(out, s.buf[i])
	}
	return out
}

// Since returns transitions with a timestamp at or after ts (epoch sec).
func (s *Store) Since(ts uint64) []model.Transition {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]model.Transition, 0)
	for _, t := range s.buf {
		if t.Timestamp >= ts {
			out = append(out, t)
		}
	}
	return out
}

func (s *Store) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.buf = nil
}
