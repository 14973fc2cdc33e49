package quota

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/secshare/secshare/internal/models"
	"github.com/secshare/secshare/internal/tier"
)

var _ Tracker = (*RedisTracker)(nil)

// RedisTracker counts submissions in redis so quotas survive restarts and are
// shared across processes. INCR is atomic on the server, which gives the
// check-and-increment guarantee for free; the window is the key's TTL, set on
// the first submission.
type RedisTracker struct {
	client *redis.Client
	policy *tier.Policy
}

func NewRedisTracker(options *redis.Options, policy *tier.Policy) (*RedisTracker, error) {
	client := redis.NewClient(options)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, err
	}

	return &RedisTracker{client: client, policy: policy}, nil
}

func (r *RedisTracker) TryAdmit(ctx context.Context, userID string, t models.Tier) error {
	limits, err := r.policy.Lookup(t)
	if err != nil {
		return err
	}

	key := windowKey(userID)
	count, err := r.client.Incr(ctx, key).Result()
	if err != nil {
		return fmt.Errorf("quota incr: %w", err)
	}

	// NX attaches the TTL exactly once per window, and also repairs a key
	// left without one by a crash between the two commands.
	if err := r.client.ExpireNX(ctx, key, limits.Window).Err(); err != nil {
		if count == 1 {
			// Never leave a fresh counter without a TTL.
			r.client.Del(ctx, key)
		}
		return fmt.Errorf("quota expire: %w", err)
	}

	if count > int64(limits.MaxTransfers) {
		return ErrQuotaExceeded
	}

	// Lifetime counter is best effort; a miss here must not fail admission.
	r.client.Incr(ctx, totalKey(userID))
	return nil
}

func (r *RedisTracker) Usage(ctx context.Context, userID string, t models.Tier) (Usage, error) {
	limits, err := r.policy.Lookup(t)
	if err != nil {
		return Usage{}, err
	}

	used, err := r.client.Get(ctx, windowKey(userID)).Int()
	if err != nil && !errors.Is(err, redis.Nil) {
		return Usage{}, fmt.Errorf("quota get: %w", err)
	}
	if used > limits.MaxTransfers {
		used = limits.MaxTransfers
	}

	resetsAt := time.Now().Add(limits.Window)
	if ttl, err := r.client.TTL(ctx, windowKey(userID)).Result(); err == nil && ttl > 0 {
		resetsAt = time.Now().Add(ttl)
	}

	total, err := r.client.Get(ctx, totalKey(userID)).Int()
	if err != nil && !errors.Is(err, redis.Nil) {
		return Usage{}, fmt.Errorf("quota get total: %w", err)
	}

	return Usage{
		Used:     used,
		Limit:    limits.MaxTransfers,
		ResetsAt: resetsAt,
		Total:    total,
	}, nil
}

func (r *RedisTracker) Close() error {
	return r.client.Close()
}

func windowKey(userID string) string {
	return "quota:window:" + userID
}

func totalKey(userID string) string {
	return "quota:total:" + userID
}
