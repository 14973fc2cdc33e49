package store

import (
	"bytes"
	"context"
	"encoding/gob"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/secshare/secshare/internal/models"
)

var _ Store = (*RedisStore)(nil)

// Records keep a TTL past their deadline so the reaper can still purge the
// associated blob and key material before redis drops the key on its own.
const purgeGrace = time.Hour

// RedisStore keeps transfer records in redis, one gob-encoded value per
// transfer plus an id set for the reaper to enumerate. State transitions run
// inside WATCH transactions so Consume behaves as a compare-and-set.
type RedisStore struct {
	client *redis.Client
}

func NewRedisStore(options *redis.Options) (*RedisStore, error) {
	client := redis.NewClient(options)

	// Verify connection
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, err
	}

	return &RedisStore{client: client}, nil
}

func (r *RedisStore) Save(ctx context.Context, t *models.Transfer) error {
	data, err := encode(t)
	if err != nil {
		return err
	}

	ttl := time.Until(t.ExpiresAt) + purgeGrace
	if ttl <= 0 {
		return ErrExpired
	}

	pipe := r.client.TxPipeline()
	pipe.Set(ctx, transferKey(t.ID), data, ttl)
	pipe.SAdd(ctx, idSetKey, t.ID)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return nil
}

func (r *RedisStore) Get(ctx context.Context, id string) (*models.Transfer, error) {
	data, err := r.client.Get(ctx, transferKey(id)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	t, err := decode(data)
	if err != nil {
		return nil, err
	}
	if t.State != models.StateActive {
		return nil, ErrNotFound
	}
	return t, nil
}

func (r *RedisStore) Consume(ctx context.Context, id string, now time.Time) (*models.Transfer, error) {
	var consumed *models.Transfer
	err := r.transition(ctx, id, func(t *models.Transfer) error {
		if t.State != models.StateActive {
			return ErrNotFound
		}
		if t.ExpiredAt(now) {
			t.State = models.StateExpired
			consumed = nil
			return nil
		}
		t.State = models.StateConsumed
		cp := *t
		consumed = &cp
		return nil
	})
	if err != nil {
		return nil, err
	}
	if consumed == nil {
		return nil, ErrExpired
	}
	return consumed, nil
}

func (r *RedisStore) Expire(ctx context.Context, id string) error {
	return r.transition(ctx, id, func(t *models.Transfer) error {
		if t.State != models.StateActive {
			return ErrNotFound
		}
		t.State = models.StateExpired
		return nil
	})
}

func (r *RedisStore) RecordFailedAttempt(ctx context.Context, id string) (int, error) {
	var attempts int
	err := r.transition(ctx, id, func(t *models.Transfer) error {
		if t.State != models.StateActive {
			return ErrNotFound
		}
		t.FailedAttempts++
		attempts = t.FailedAttempts
		return nil
	})
	if err != nil {
		return 0, err
	}
	return attempts, nil
}

func (r *RedisStore) Delete(ctx context.Context, id string) error {
	pipe := r.client.TxPipeline()
	pipe.Del(ctx, transferKey(id))
	pipe.SRem(ctx, idSetKey, id)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return nil
}

func (r *RedisStore) ListPurgeable(ctx context.Context, now time.Time) ([]*models.Transfer, error) {
	ids, err := r.client.SMembers(ctx, idSetKey).Result()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	// A record that cannot be fetched or decoded is skipped, not fatal; the
	// next sweep picks it up again.
	var out []*models.Transfer
	for _, id := range ids {
		data, err := r.client.Get(ctx, transferKey(id)).Bytes()
		if err != nil {
			if errors.Is(err, redis.Nil) {
				// Record hit its TTL backstop; drop the dangling id.
				r.client.SRem(ctx, idSetKey, id)
			}
			continue
		}
		t, err := decode(data)
		if err != nil {
			continue
		}
		if t.State != models.StateActive || t.ExpiredAt(now) {
			out = append(out, t)
		}
	}
	return out, nil
}

func (r *RedisStore) Close() error {
	return r.client.Close()
}

// transition runs mutate on the decoded record inside a WATCH transaction and
// writes the result back, preserving the key's TTL. Concurrent writers force
// a bounded retry.
func (r *RedisStore) transition(ctx context.Context, id string, mutate func(*models.Transfer) error) error {
	key := transferKey(id)

	txf := func(tx *redis.Tx) error {
		data, err := tx.Get(ctx, key).Bytes()
		if err != nil {
			if errors.Is(err, redis.Nil) {
				return ErrNotFound
			}
			return err
		}

		t, err := decode(data)
		if err != nil {
			return err
		}

		if err := mutate(t); err != nil {
			return err
		}

		newData, err := encode(t)
		if err != nil {
			return err
		}

		ttl := tx.TTL(ctx, key).Val()
		if ttl <= 0 {
			ttl = purgeGrace
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, newData, ttl)
			return nil
		})
		return err
	}

	for i := 0; i < 3; i++ {
		err := r.client.Watch(ctx, txf, key)
		if err == nil {
			return nil
		}
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		if errors.Is(err, ErrNotFound) || errors.Is(err, ErrExpired) {
			return err
		}
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	return fmt.Errorf("%w: %v", ErrUnavailable, redis.TxFailedErr)
}

// Helpers

const idSetKey = "transfers"

func transferKey(id string) string {
	return "transfer:" + id
}

func encode(t *models.Transfer) ([]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(t); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func decode(data []byte) (*models.Transfer, error) {
	var t models.Transfer
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&t); err != nil {
		return nil, err
	}
	return &t, nil
}
