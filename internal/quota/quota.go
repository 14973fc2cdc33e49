// Package quota tracks per-user transfer counts over the tier's rolling
// window and admits or rejects new submissions.
package quota

import (
	"context"
	"errors"
	"time"

	"github.com/secshare/secshare/internal/models"
)

var ErrQuotaExceeded = errors.New("quota exceeded")

// Usage reports where a user stands inside the current window.
type Usage struct {
	Used     int
	Limit    int
	ResetsAt time.Time
	Total    int
}

// Tracker admits transfer submissions against per-tier quotas. TryAdmit is a
// single atomic check-and-increment: two concurrent submissions from the same
// user can never both pass a check that should have rejected the second.
type Tracker interface {
	TryAdmit(ctx context.Context, userID string, tier models.Tier) error
	Usage(ctx context.Context, userID string, tier models.Tier) (Usage, error)
	Close() error
}
