// Package registry owns the transfer lifecycle: creation, single retrieval,
// expiry and irreversible deletion. All state transitions go through the
// backing store's atomic operations; the registry never holds a lock across
// encryption or blob I/O.
package registry

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/secshare/secshare/internal/blob"
	"github.com/secshare/secshare/internal/crypto"
	"github.com/secshare/secshare/internal/models"
	"github.com/secshare/secshare/internal/quota"
	"github.com/secshare/secshare/internal/store"
	"github.com/secshare/secshare/internal/tier"
)

var (
	ErrSizeLimitExceeded = errors.New("content exceeds tier size limit")
	ErrInvalidKind       = errors.New("invalid transfer kind")
)

// DefaultMaxPasswordAttempts bounds wrong-password retries before the
// transfer is destroyed.
const DefaultMaxPasswordAttempts = 5

const purgeTimeout = 30 * time.Second

type Registry struct {
	store       store.Store
	blobs       blob.Store
	quota       quota.Tracker
	policy      *tier.Policy
	logger      *slog.Logger
	maxAttempts int

	purges sync.WaitGroup
}

func New(st store.Store, blobs blob.Store, q quota.Tracker, policy *tier.Policy, maxPasswordAttempts int, logger *slog.Logger) *Registry {
	if maxPasswordAttempts <= 0 {
		maxPasswordAttempts = DefaultMaxPasswordAttempts
	}
	return &Registry{
		store:       st,
		blobs:       blobs,
		quota:       q,
		policy:      policy,
		logger:      logger,
		maxAttempts: maxPasswordAttempts,
	}
}

type CreateInput struct {
	UserID   string
	Tier     models.Tier
	Kind     models.TransferKind
	Content  io.Reader
	Size     int64
	FileName string
	Password string
}

type CreateResult struct {
	ID        string
	ExpiresAt time.Time
}

type RetrieveResult struct {
	Kind     models.TransferKind
	Content  []byte
	FileName string
	Size     int64
}

// Create validates limits and quota before any side effect, then encrypts
// the content, stages it if file-sized and inserts an Active record. A
// failure after staging rolls the blob back, so a rejected or aborted Create
// leaves nothing behind.
func (r *Registry) Create(ctx context.Context, in CreateInput) (CreateResult, error) {
	if in.Kind != models.KindText && in.Kind != models.KindFile {
		return CreateResult{}, fmt.Errorf("%w: %q", ErrInvalidKind, in.Kind)
	}

	limits, err := r.policy.Lookup(in.Tier)
	if err != nil {
		return CreateResult{}, err
	}
	if in.Size > limits.MaxContentSize {
		return CreateResult{}, ErrSizeLimitExceeded
	}

	if err := r.quota.TryAdmit(ctx, in.UserID, in.Tier); err != nil {
		return CreateResult{}, err
	}

	// The window slot is held from here on, even if the body read fails
	// below; the window reset releases it.
	plaintext, err := readExactly(ctx, in.Content, in.Size)
	if err != nil {
		return CreateResult{}, err
	}

	ciphertext, kh, err := crypto.Encrypt(plaintext, in.Password)
	wipe(plaintext)
	if err != nil {
		return CreateResult{}, err
	}

	now := time.Now()
	t := &models.Transfer{
		ID:                crypto.GenerateID(),
		OwnerID:           in.UserID,
		Kind:              in.Kind,
		Key:               kh,
		PasswordProtected: in.Password != "",
		FileName:          in.FileName,
		FileSize:          in.Size,
		CreatedAt:         now,
		ExpiresAt:         now.Add(limits.Expiry),
		State:             models.StateActive,
	}

	if in.Kind == models.KindFile {
		rec, err := r.blobs.Stage(ctx, t.ID, bytes.NewReader(ciphertext), int64(len(ciphertext)))
		if err != nil {
			kh.Wipe()
			return CreateResult{}, err
		}
		t.Blob = &rec
	} else {
		t.Ciphertext = ciphertext
	}

	if err := r.store.Save(ctx, t); err != nil {
		if t.Blob != nil {
			if perr := r.blobs.Purge(ctx, *t.Blob); perr != nil {
				r.logger.Error("rolling back staged blob", "transfer_id", t.ID, "error", perr)
			}
		}
		kh.Wipe()
		return CreateResult{}, err
	}

	r.logger.Info("transfer created",
		"transfer_id", t.ID,
		"kind", t.Kind,
		"size", t.FileSize,
		"expires_at", t.ExpiresAt,
		"password_protected", t.PasswordProtected,
	)

	return CreateResult{ID: t.ID, ExpiresAt: t.ExpiresAt}, nil
}

// Retrieve serves a transfer back exactly once. The password gate is checked
// against a read-only snapshot first, so a wrong password never burns the
// transfer; the Active -> Consumed transition in the store then decides the
// winner among racing callers.
func (r *Registry) Retrieve(ctx context.Context, id, password string) (RetrieveResult, error) {
	now := time.Now()

	t, err := r.store.Get(ctx, id)
	if err != nil {
		return RetrieveResult{}, err
	}

	// Lazy expiry: correctness must not depend on the reaper having run.
	if t.ExpiredAt(now) {
		r.expireAndPurge(ctx, t)
		return RetrieveResult{}, store.ErrExpired
	}

	key, err := crypto.UnwrapKey(t.Key, password)
	if err != nil {
		r.recordFailedAttempt(ctx, t)
		return RetrieveResult{}, crypto.ErrWrongPassword
	}

	ciphertext, err := r.fetchCiphertext(ctx, t)
	if err != nil {
		wipe(key)
		return RetrieveResult{}, err
	}

	consumed, err := r.store.Consume(ctx, id, now)
	if err != nil {
		wipe(key)
		if errors.Is(err, store.ErrExpired) {
			r.schedulePurge(t)
		}
		return RetrieveResult{}, err
	}

	plaintext, err := crypto.Open(ciphertext, key)
	wipe(key)
	r.schedulePurge(consumed)
	if err != nil {
		return RetrieveResult{}, err
	}

	r.logger.Info("transfer consumed", "transfer_id", id, "kind", consumed.Kind)

	return RetrieveResult{
		Kind:     consumed.Kind,
		Content:  plaintext,
		FileName: consumed.FileName,
		Size:     consumed.FileSize,
	}, nil
}

// Usage reports the caller's standing against their tier quota.
func (r *Registry) Usage(ctx context.Context, userID string, t models.Tier) (quota.Usage, error) {
	return r.quota.Usage(ctx, userID, t)
}

// Limits exposes the tier policy to front ends.
func (r *Registry) Limits(t models.Tier) (tier.Limits, error) {
	return r.policy.Lookup(t)
}

// Sweep purges every transfer past its deadline plus any record whose purge
// previously failed. Per-record failures are logged and retried on the next
// sweep; they never abort the sweep for other records.
func (r *Registry) Sweep(ctx context.Context) error {
	now := time.Now()
	purgeable, err := r.store.ListPurgeable(ctx, now)
	if err != nil {
		return err
	}

	for _, t := range purgeable {
		if t.State == models.StateActive {
			if err := r.store.Expire(ctx, t.ID); err != nil && !errors.Is(err, store.ErrNotFound) {
				r.logger.Error("expiring transfer", "transfer_id", t.ID, "error", err)
				continue
			}
		}
		if err := r.purge(ctx, t); err != nil {
			r.logger.Error("purging transfer", "transfer_id", t.ID, "error", err)
		}
	}
	return nil
}

// Close waits for in-flight purges to finish.
func (r *Registry) Close() error {
	r.purges.Wait()
	return nil
}

func (r *Registry) fetchCiphertext(ctx context.Context, t *models.Transfer) ([]byte, error) {
	if t.Kind != models.KindFile {
		return t.Ciphertext, nil
	}

	rc, err := r.blobs.Open(ctx, *t.Blob)
	if err != nil {
		if errors.Is(err, blob.ErrNotFound) {
			// The reaper won the race and destroyed the payload.
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	defer rc.Close()
	return io.ReadAll(rc)
}

func (r *Registry) recordFailedAttempt(ctx context.Context, t *models.Transfer) {
	attempts, err := r.store.RecordFailedAttempt(ctx, t.ID)
	if err != nil {
		if !errors.Is(err, store.ErrNotFound) {
			r.logger.Error("recording failed attempt", "transfer_id", t.ID, "error", err)
		}
		return
	}
	if attempts >= r.maxAttempts {
		r.logger.Warn("password attempt limit reached, destroying transfer", "transfer_id", t.ID)
		r.expireAndPurge(ctx, t)
	}
}

func (r *Registry) expireAndPurge(ctx context.Context, t *models.Transfer) {
	if err := r.store.Expire(ctx, t.ID); err != nil && !errors.Is(err, store.ErrNotFound) {
		r.logger.Error("expiring transfer", "transfer_id", t.ID, "error", err)
		return
	}
	if err := r.purge(ctx, t); err != nil {
		r.logger.Error("purging expired transfer", "transfer_id", t.ID, "error", err)
	}
}

// purge destroys everything that could reconstruct the content: the staged
// blob, the key material and the registry record. Blob destruction comes
// first; if it fails the record stays behind for the reaper to retry.
func (r *Registry) purge(ctx context.Context, t *models.Transfer) error {
	if t.Blob != nil {
		if err := r.blobs.Purge(ctx, *t.Blob); err != nil {
			return err
		}
	}
	t.Key.Wipe()
	wipe(t.Ciphertext)
	return r.store.Delete(ctx, t.ID)
}

// schedulePurge runs the purge off the caller's critical path. The reaper
// picks the record up again if this attempt fails.
func (r *Registry) schedulePurge(t *models.Transfer) {
	r.purges.Add(1)
	go func() {
		defer r.purges.Done()
		ctx, cancel := context.WithTimeout(context.Background(), purgeTimeout)
		defer cancel()
		if err := r.purge(ctx, t); err != nil {
			r.logger.Error("scheduled purge failed", "transfer_id", t.ID, "error", err)
		}
	}()
}

// readExactly reads the declared number of bytes and rejects content that is
// shorter or longer, so a lying size can never bypass the tier check.
func readExactly(ctx context.Context, r io.Reader, size int64) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	buf, err := io.ReadAll(io.LimitReader(r, size+1))
	if err != nil {
		return nil, err
	}
	if int64(len(buf)) > size {
		return nil, ErrSizeLimitExceeded
	}
	if int64(len(buf)) < size {
		return nil, io.ErrUnexpectedEOF
	}
	return buf, nil
}

func wipe(b []byte) {
	for i := range b {
		b[i] = 0
	}
}
