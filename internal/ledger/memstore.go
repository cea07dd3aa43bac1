package ledger

import (
	"context"
	"sync"
	"time"

	"github.com/MrWong99/versecatch/internal/identity"
)

// Compile-time assertion that MemStore satisfies the Store interface.
var _ Store = (*MemStore)(nil)

// MemStore is a thread-safe, in-memory implementation of [Store].
// It is suitable for tests and single-process demos; nothing survives a
// restart.
type MemStore struct {
	mu         sync.Mutex
	counters   map[string]CaptureCounter
	activities []ActivityRecord
	nextID     int64
	now        func() time.Time
}

// NewMemStore returns an initialised [MemStore].
func NewMemStore() *MemStore {
	return &MemStore{
		counters: make(map[string]CaptureCounter),
		now:      time.Now,
	}
}

// RecordCapture implements [Store.RecordCapture].
func (s *MemStore) RecordCapture(ctx context.Context, id identity.Identity) (int64, error) {
	if err := ValidateCapture(id); err != nil {
		return 0, err
	}
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	c := s.counters[id.Key()]
	c.Identity = id
	c.Count++
	c.LastCapturedAt = s.now().UTC()
	s.counters[id.Key()] = c
	return c.Count, nil
}

// AppendActivity implements [Store.AppendActivity].
func (s *MemStore) AppendActivity(ctx context.Context, userID string, typ ActivityType, data string) error {
	if err := ValidateActivity(userID, typ); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.nextID++
	s.activities = append(s.activities, ActivityRecord{
		ID:     s.nextID,
		UserID: userID,
		Type:   typ,
		Data:   data,
		Date:   s.now().UTC(),
	})
	return nil
}

// CountByType implements [Store.CountByType].
func (s *MemStore) CountByType(ctx context.Context, userID string, typ ActivityType) (int64, error) {
	if err := ValidateActivity(userID, typ); err != nil {
		return 0, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	var n int64
	for _, a := range s.activities {
		if a.UserID == userID && a.Type == typ {
			n++
		}
	}
	return n, nil
}

// CountDistinct implements [Store.CountDistinct].
func (s *MemStore) CountDistinct(ctx context.Context, userID string, typ ActivityType, field Field) (int64, error) {
	if err := ValidateActivity(userID, typ); err != nil {
		return 0, err
	}
	if err := ValidateField(field); err != nil {
		return 0, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	seen := make(map[string]struct{})
	for _, a := range s.activities {
		if a.UserID == userID && a.Type == typ && a.Data != "" {
			seen[a.Data] = struct{}{}
		}
	}
	return int64(len(seen)), nil
}

// Counter implements [Store.Counter].
func (s *MemStore) Counter(ctx context.Context, id identity.Identity) (CaptureCounter, bool, error) {
	if err := ValidateCapture(id); err != nil {
		return CaptureCounter{}, false, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.counters[id.Key()]
	return c, ok, nil
}

// Activities returns a copy of the user's activity log in append order.
func (s *MemStore) Activities(userID string) []ActivityRecord {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []ActivityRecord
	for _, a := range s.activities {
		if a.UserID == userID {
			out = append(out, a)
		}
	}
	return out
}

// Counters returns a snapshot of every counter row.
func (s *MemStore) Counters() []CaptureCounter {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]CaptureCounter, 0, len(s.counters))
	for _, c := range s.counters {
		out = append(out, c)
	}
	return out
}
