package achievement

import (
	"context"
	"sort"
	"sync"
)

// Compile-time assertion that MemStore satisfies the Store interface.
var _ Store = (*MemStore)(nil)

type memKey struct {
	userID string
	tag    Tag
}

// MemStore is a thread-safe, in-memory implementation of [Store].
type MemStore struct {
	mu   sync.Mutex
	rows map[memKey]Achievement
}

// NewMemStore returns an empty [MemStore].
func NewMemStore() *MemStore {
	return &MemStore{rows: make(map[memKey]Achievement)}
}

// Has implements [Store.Has].
func (s *MemStore) Has(_ context.Context, userID string, tag Tag) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.rows[memKey{userID, tag}]
	return ok, nil
}

// Insert implements [Store.Insert].
func (s *MemStore) Insert(_ context.Context, a Achievement) (bool, error) {
	if a.UserID == "" {
		return false, ErrInvalidUser
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	k := memKey{a.UserID, a.Tag}
	if _, ok := s.rows[k]; ok {
		return false, nil
	}
	s.rows[k] = a
	return true, nil
}

// List implements [Store.List].
func (s *MemStore) List(_ context.Context, userID string) ([]Achievement, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []Achievement
	for k, a := range s.rows {
		if k.userID == userID {
			out = append(out, a)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].AchievedAt.Equal(out[j].AchievedAt) {
			return out[i].Tag < out[j].Tag
		}
		return out[i].AchievedAt.Before(out[j].AchievedAt)
	})
	return out, nil
}
