// Package tier holds the per-tier service limits. All components consult the
// policy instead of hard-coding limits, so new tiers only touch this package
// and the config that feeds it.
package tier

import (
	"errors"
	"fmt"
	"time"

	"github.com/secshare/secshare/internal/models"
)

var ErrUnknownTier = errors.New("unknown tier")

// Limits is the full set of limits for one tier.
type Limits struct {
	MaxContentSize int64
	MaxTransfers   int
	Window         time.Duration
	Expiry         time.Duration
}

type Policy struct {
	limits map[models.Tier]Limits
}

// NewPolicy validates the given per-tier limits and returns a policy.
// Every known tier must be covered.
func NewPolicy(limits map[models.Tier]Limits) (*Policy, error) {
	for _, t := range []models.Tier{models.TierFree, models.TierPremium} {
		l, ok := limits[t]
		if !ok {
			return nil, fmt.Errorf("tier %q: no limits configured", t)
		}
		if l.MaxContentSize <= 0 {
			return nil, fmt.Errorf("tier %q: max_content_size must be positive", t)
		}
		if l.MaxTransfers < 1 {
			return nil, fmt.Errorf("tier %q: max_transfers must be at least 1", t)
		}
		if l.Window <= 0 {
			return nil, fmt.Errorf("tier %q: window must be positive", t)
		}
		if l.Expiry <= 0 {
			return nil, fmt.Errorf("tier %q: expiry must be positive", t)
		}
	}

	copied := make(map[models.Tier]Limits, len(limits))
	for t, l := range limits {
		copied[t] = l
	}
	return &Policy{limits: copied}, nil
}

// Default returns the stock policy: free users get 50MiB transfers, five per
// day; premium users get 1GiB and twenty per day. Everything expires after
// fifteen minutes.
func Default() *Policy {
	p, err := NewPolicy(map[models.Tier]Limits{
		models.TierFree: {
			MaxContentSize: 50 * 1024 * 1024,
			MaxTransfers:   5,
			Window:         24 * time.Hour,
			Expiry:         15 * time.Minute,
		},
		models.TierPremium: {
			MaxContentSize: 1024 * 1024 * 1024,
			MaxTransfers:   20,
			Window:         24 * time.Hour,
			Expiry:         15 * time.Minute,
		},
	})
	if err != nil {
		panic(err)
	}
	return p
}

// Lookup returns the limits for a tier.
func (p *Policy) Lookup(t models.Tier) (Limits, error) {
	l, ok := p.limits[t]
	if !ok {
		return Limits{}, fmt.Errorf("%w: %q", ErrUnknownTier, t)
	}
	return l, nil
}
