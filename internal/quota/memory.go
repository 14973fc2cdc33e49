package quota

import (
	"context"
	"sync"
	"time"

	"github.com/secshare/secshare/internal/models"
	"github.com/secshare/secshare/internal/tier"
)

var _ Tracker = (*MemoryTracker)(nil)

// MemoryTracker keeps usage counters in process memory. The window is fixed,
// anchored to the user's first submission inside it.
type MemoryTracker struct {
	policy *tier.Policy
	mu     sync.Mutex
	users  map[string]*models.User
}

func NewMemoryTracker(policy *tier.Policy) *MemoryTracker {
	return &MemoryTracker{
		policy: policy,
		users:  make(map[string]*models.User),
	}
}

func (m *MemoryTracker) TryAdmit(ctx context.Context, userID string, t models.Tier) error {
	limits, err := m.policy.Lookup(t)
	if err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now()
	u := m.user(userID, t, now)
	m.rollWindow(u, limits, now)

	if u.WindowCount >= limits.MaxTransfers {
		return ErrQuotaExceeded
	}

	u.WindowCount++
	u.TotalTransfers++
	return nil
}

func (m *MemoryTracker) Usage(ctx context.Context, userID string, t models.Tier) (Usage, error) {
	limits, err := m.policy.Lookup(t)
	if err != nil {
		return Usage{}, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now()
	u := m.user(userID, t, now)
	m.rollWindow(u, limits, now)

	return Usage{
		Used:     u.WindowCount,
		Limit:    limits.MaxTransfers,
		ResetsAt: u.WindowStart.Add(limits.Window),
		Total:    u.TotalTransfers,
	}, nil
}

func (m *MemoryTracker) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.users = nil
	return nil
}

// user returns the record for userID, creating it on first interaction.
// Callers must hold m.mu.
func (m *MemoryTracker) user(userID string, t models.Tier, now time.Time) *models.User {
	u, ok := m.users[userID]
	if !ok {
		u = &models.User{ID: userID, WindowStart: now}
		m.users[userID] = u
	}
	u.Tier = t
	return u
}

func (m *MemoryTracker) rollWindow(u *models.User, limits tier.Limits, now time.Time) {
	if now.Sub(u.WindowStart) >= limits.Window {
		u.WindowStart = now
		u.WindowCount = 0
	}
}
