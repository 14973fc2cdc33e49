// Package store is the backing store for transfer records. Implementations
// own the per-id state transitions: Consume and Expire are atomic, so two
// racing callers can never both observe an Active record.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/secshare/secshare/internal/models"
)

var (
	ErrNotFound    = errors.New("transfer not found")
	ErrExpired     = errors.New("transfer has expired")
	ErrUnavailable = errors.New("transfer store unavailable")
)

type Store interface {
	// Save inserts a new Active record.
	Save(ctx context.Context, t *models.Transfer) error

	// Get returns a snapshot of the record without changing its state.
	// Absent, consumed and deleted records all come back as ErrNotFound.
	Get(ctx context.Context, id string) (*models.Transfer, error)

	// Consume atomically moves an Active record to Consumed and returns it.
	// A record past its deadline moves to Expired instead and ErrExpired is
	// returned. Exactly one of N racing Consume calls succeeds.
	Consume(ctx context.Context, id string, now time.Time) (*models.Transfer, error)

	// Expire atomically moves an Active record to Expired.
	Expire(ctx context.Context, id string) error

	// RecordFailedAttempt increments the record's failed password attempt
	// counter and returns the new count.
	RecordFailedAttempt(ctx context.Context, id string) (int, error)

	// Delete removes the record. Deleting an absent record is a no-op.
	Delete(ctx context.Context, id string) error

	// ListPurgeable returns records awaiting purge: Active records past
	// their deadline plus records already in a terminal-pending state.
	ListPurgeable(ctx context.Context, now time.Time) ([]*models.Transfer, error)

	Close() error
}
