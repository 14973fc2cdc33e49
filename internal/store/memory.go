package store

import (
	"context"
	"sync"
	"time"

	"github.com/secshare/secshare/internal/models"
)

// Compile-time interface check
var _ Store = (*MemoryStore)(nil)

// MemoryStore keeps transfer records in a mutex-guarded map. State
// transitions happen under the lock, which is what makes Consume a
// compare-and-set: the loser of a race sees the already-updated state.
// Every record handed out is a deep copy; a caller wiping its snapshot
// never touches bytes another caller holds.
type MemoryStore struct {
	mu        sync.Mutex
	transfers map[string]*models.Transfer
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{transfers: make(map[string]*models.Transfer)}
}

func (s *MemoryStore) Save(ctx context.Context, t *models.Transfer) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.transfers[t.ID] = snapshot(t)
	return nil
}

func (s *MemoryStore) Get(ctx context.Context, id string) (*models.Transfer, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.transfers[id]
	if !ok || t.State != models.StateActive {
		return nil, ErrNotFound
	}

	return snapshot(t), nil
}

func (s *MemoryStore) Consume(ctx context.Context, id string, now time.Time) (*models.Transfer, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.transfers[id]
	if !ok || t.State != models.StateActive {
		return nil, ErrNotFound
	}

	if t.ExpiredAt(now) {
		t.State = models.StateExpired
		return nil, ErrExpired
	}

	t.State = models.StateConsumed
	return snapshot(t), nil
}

func (s *MemoryStore) Expire(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.transfers[id]
	if !ok || t.State != models.StateActive {
		return ErrNotFound
	}

	t.State = models.StateExpired
	return nil
}

func (s *MemoryStore) RecordFailedAttempt(ctx context.Context, id string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.transfers[id]
	if !ok || t.State != models.StateActive {
		return 0, ErrNotFound
	}

	t.FailedAttempts++
	return t.FailedAttempts, nil
}

func (s *MemoryStore) Delete(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if t, ok := s.transfers[id]; ok {
		// Destroy the authoritative key material and ciphertext before the
		// record leaves the map.
		t.Key.Wipe()
		for i := range t.Ciphertext {
			t.Ciphertext[i] = 0
		}
		delete(s.transfers, id)
	}
	return nil
}

func (s *MemoryStore) ListPurgeable(ctx context.Context, now time.Time) ([]*models.Transfer, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []*models.Transfer
	for _, t := range s.transfers {
		if t.State != models.StateActive || t.ExpiredAt(now) {
			out = append(out, snapshot(t))
		}
	}
	return out, nil
}

// snapshot deep-copies a record, including the ciphertext and key material
// backing arrays.
func snapshot(t *models.Transfer) *models.Transfer {
	cp := *t
	cp.Ciphertext = append([]byte(nil), t.Ciphertext...)
	cp.Key = t.Key.Clone()
	if t.Blob != nil {
		b := *t.Blob
		cp.Blob = &b
	}
	return &cp
}

func (s *MemoryStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.transfers = nil
	return nil
}
