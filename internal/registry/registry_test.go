package registry

import (
	"context"
	"errors"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/secshare/secshare/internal/blob"
	"github.com/secshare/secshare/internal/crypto"
	"github.com/secshare/secshare/internal/logging"
	"github.com/secshare/secshare/internal/models"
	"github.com/secshare/secshare/internal/quota"
	"github.com/secshare/secshare/internal/store"
	"github.com/secshare/secshare/internal/tier"
)

type env struct {
	reg     *Registry
	store   *store.MemoryStore
	blobDir string
}

type envOptions struct {
	expiry       time.Duration
	maxTransfers int
	maxAttempts  int
}

func newEnv(t *testing.T, opts envOptions) *env {
	t.Helper()
	if opts.expiry == 0 {
		opts.expiry = time.Hour
	}
	if opts.maxTransfers == 0 {
		opts.maxTransfers = 100
	}

	limits := tier.Limits{
		MaxContentSize: 1024,
		MaxTransfers:   opts.maxTransfers,
		Window:         time.Hour,
		Expiry:         opts.expiry,
	}
	policy, err := tier.NewPolicy(map[models.Tier]tier.Limits{
		models.TierFree:    limits,
		models.TierPremium: limits,
	})
	require.NoError(t, err)

	dir := t.TempDir()
	blobs, err := blob.NewFSStore(dir)
	require.NoError(t, err)

	st := store.NewMemoryStore()
	reg := New(st, blobs, quota.NewMemoryTracker(policy), policy, opts.maxAttempts, logging.Discard())
	t.Cleanup(func() { reg.Close() })

	return &env{reg: reg, store: st, blobDir: dir}
}

func (e *env) blobCount(t *testing.T) int {
	t.Helper()
	entries, err := os.ReadDir(e.blobDir)
	if err != nil {
		return -1
	}
	return len(entries)
}

func textInput(content, password string) CreateInput {
	return CreateInput{
		UserID:   "alice",
		Tier:     models.TierFree,
		Kind:     models.KindText,
		Content:  strings.NewReader(content),
		Size:     int64(len(content)),
		Password: password,
	}
}

func fileInput(content, name, password string) CreateInput {
	in := textInput(content, password)
	in.Kind = models.KindFile
	in.FileName = name
	return in
}

func TestCreateAndRetrieveText(t *testing.T) {
	e := newEnv(t, envOptions{})
	ctx := context.Background()

	res, err := e.reg.Create(ctx, textInput("the launch codes", ""))
	require.NoError(t, err)
	assert.NotEmpty(t, res.ID)
	assert.WithinDuration(t, time.Now().Add(time.Hour), res.ExpiresAt, time.Minute)

	got, err := e.reg.Retrieve(ctx, res.ID, "")
	require.NoError(t, err)
	assert.Equal(t, models.KindText, got.Kind)
	assert.Equal(t, "the launch codes", string(got.Content))

	_, err = e.reg.Retrieve(ctx, res.ID, "")
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestCreateAndRetrieveFile(t *testing.T) {
	e := newEnv(t, envOptions{})
	ctx := context.Background()

	res, err := e.reg.Create(ctx, fileInput("file body bytes", "notes.txt", ""))
	require.NoError(t, err)
	assert.Equal(t, 1, e.blobCount(t))

	got, err := e.reg.Retrieve(ctx, res.ID, "")
	require.NoError(t, err)
	assert.Equal(t, models.KindFile, got.Kind)
	assert.Equal(t, "notes.txt", got.FileName)
	assert.Equal(t, int64(len("file body bytes")), got.Size)
	assert.Equal(t, "file body bytes", string(got.Content))

	// purge is scheduled; the staged ciphertext disappears shortly after
	assert.Eventually(t, func() bool { return e.blobCount(t) == 0 }, 2*time.Second, 10*time.Millisecond)
}

func TestRetrieveUnknownID(t *testing.T) {
	e := newEnv(t, envOptions{})
	_, err := e.reg.Retrieve(context.Background(), "nope", "")
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestRetrievePasswordFlow(t *testing.T) {
	e := newEnv(t, envOptions{})
	ctx := context.Background()

	res, err := e.reg.Create(ctx, textInput("hello", "s3cret"))
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		_, err := e.reg.Retrieve(ctx, res.ID, "wrong")
		assert.ErrorIs(t, err, crypto.ErrWrongPassword)
	}

	got, err := e.reg.Retrieve(ctx, res.ID, "s3cret")
	require.NoError(t, err)
	assert.Equal(t, "hello", string(got.Content))

	_, err = e.reg.Retrieve(ctx, res.ID, "s3cret")
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestPasswordAttemptBound(t *testing.T) {
	e := newEnv(t, envOptions{maxAttempts: 3})
	ctx := context.Background()

	res, err := e.reg.Create(ctx, textInput("hello", "s3cret"))
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		_, err := e.reg.Retrieve(ctx, res.ID, "wrong")
		assert.ErrorIs(t, err, crypto.ErrWrongPassword)
	}

	// the bound destroyed the transfer; even the right password is too late
	_, err = e.reg.Retrieve(ctx, res.ID, "s3cret")
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestCreateSizeLimitExceeded(t *testing.T) {
	e := newEnv(t, envOptions{})
	ctx := context.Background()

	in := fileInput(strings.Repeat("x", 2048), "big.bin", "")
	_, err := e.reg.Create(ctx, in)
	assert.ErrorIs(t, err, ErrSizeLimitExceeded)
	assert.Equal(t, 0, e.blobCount(t))

	// rejection happened before quota admission
	usage, err := e.reg.Usage(ctx, "alice", models.TierFree)
	require.NoError(t, err)
	assert.Equal(t, 0, usage.Used)
}

func TestCreateQuotaExceeded(t *testing.T) {
	e := newEnv(t, envOptions{maxTransfers: 5})
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		_, err := e.reg.Create(ctx, textInput("msg", ""))
		require.NoError(t, err)
	}

	_, err := e.reg.Create(ctx, textInput("msg", ""))
	assert.ErrorIs(t, err, quota.ErrQuotaExceeded)
}

func TestCreateUndersizedContent(t *testing.T) {
	e := newEnv(t, envOptions{})
	in := textInput("abc", "")
	in.Size = 10
	_, err := e.reg.Create(context.Background(), in)
	assert.Error(t, err)
}

func TestCreateCancelled(t *testing.T) {
	e := newEnv(t, envOptions{})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := e.reg.Create(ctx, fileInput("file body", "f.txt", ""))
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 0, e.blobCount(t))
}

func TestLazyExpiry(t *testing.T) {
	e := newEnv(t, envOptions{expiry: 50 * time.Millisecond})
	ctx := context.Background()

	res, err := e.reg.Create(ctx, fileInput("doomed body bits", "f.txt", ""))
	require.NoError(t, err)

	time.Sleep(100 * time.Millisecond)

	// no reaper is running; retrieval itself must expire the transfer
	_, err = e.reg.Retrieve(ctx, res.ID, "")
	assert.ErrorIs(t, err, store.ErrExpired)

	_, err = e.reg.Retrieve(ctx, res.ID, "")
	assert.ErrorIs(t, err, store.ErrNotFound)

	assert.Equal(t, 0, e.blobCount(t))
}

func TestConcurrentRetrieveSingleWinner(t *testing.T) {
	e := newEnv(t, envOptions{})
	ctx := context.Background()

	res, err := e.reg.Create(ctx, textInput("only once", ""))
	require.NoError(t, err)

	const callers = 16
	var wg sync.WaitGroup
	var mu sync.Mutex
	var successes int
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			got, err := e.reg.Retrieve(ctx, res.ID, "")
			mu.Lock()
			defer mu.Unlock()
			if err == nil {
				successes++
				assert.Equal(t, "only once", string(got.Content))
			} else {
				assert.True(t,
					errors.Is(err, store.ErrNotFound) || errors.Is(err, store.ErrExpired),
					"unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, successes)
}

func TestSweepPurgesExpired(t *testing.T) {
	e := newEnv(t, envOptions{expiry: 30 * time.Millisecond})
	ctx := context.Background()

	res, err := e.reg.Create(ctx, fileInput("sweep me away!", "f.txt", ""))
	require.NoError(t, err)

	time.Sleep(60 * time.Millisecond)
	require.NoError(t, e.reg.Sweep(ctx))

	_, err = e.store.Get(ctx, res.ID)
	assert.ErrorIs(t, err, store.ErrNotFound)
	assert.Equal(t, 0, e.blobCount(t))
}

func TestSweepLeavesFreshTransfers(t *testing.T) {
	e := newEnv(t, envOptions{})
	ctx := context.Background()

	res, err := e.reg.Create(ctx, textInput("still good", ""))
	require.NoError(t, err)

	require.NoError(t, e.reg.Sweep(ctx))

	got, err := e.reg.Retrieve(ctx, res.ID, "")
	require.NoError(t, err)
	assert.Equal(t, "still good", string(got.Content))
}

func TestReaperPurgesInBackground(t *testing.T) {
	e := newEnv(t, envOptions{expiry: 30 * time.Millisecond})
	ctx := context.Background()

	res, err := e.reg.Create(ctx, fileInput("reap this body", "f.txt", ""))
	require.NoError(t, err)

	reaper := NewReaper(e.reg, 20*time.Millisecond, logging.Discard())
	reaper.Start()
	defer reaper.Stop()

	assert.Eventually(t, func() bool {
		_, err := e.store.Get(ctx, res.ID)
		return errors.Is(err, store.ErrNotFound) && e.blobCount(t) == 0
	}, 2*time.Second, 10*time.Millisecond)
}

func TestLimits(t *testing.T) {
	e := newEnv(t, envOptions{})
	limits, err := e.reg.Limits(models.TierFree)
	require.NoError(t, err)
	assert.Equal(t, int64(1024), limits.MaxContentSize)

	_, err = e.reg.Limits(models.Tier("platinum"))
	assert.ErrorIs(t, err, tier.ErrUnknownTier)
}

func TestSweepDuringRetrieveKeepsWinnerContent(t *testing.T) {
	e := newEnv(t, envOptions{})
	ctx := context.Background()

	res, err := e.reg.Create(ctx, textInput("survives the sweep", ""))
	require.NoError(t, err)

	// Walk Retrieve's steps by hand so a sweep can run between the consume
	// transition and the decrypt.
	snap, err := e.store.Get(ctx, res.ID)
	require.NoError(t, err)
	key, err := crypto.UnwrapKey(snap.Key, "")
	require.NoError(t, err)

	consumed, err := e.store.Consume(ctx, res.ID, time.Now())
	require.NoError(t, err)
	assert.Equal(t, models.StateConsumed, consumed.State)

	require.NoError(t, e.reg.Sweep(ctx))

	plaintext, err := crypto.Open(snap.Ciphertext, key)
	require.NoError(t, err)
	assert.Equal(t, "survives the sweep", string(plaintext))
}

func TestCreateFailedReadHoldsQuotaSlot(t *testing.T) {
	e := newEnv(t, envOptions{maxTransfers: 5})
	ctx := context.Background()

	in := textInput("short", "")
	in.Size = 10
	_, err := e.reg.Create(ctx, in)
	require.Error(t, err)

	usage, err := e.reg.Usage(ctx, "alice", models.TierFree)
	require.NoError(t, err)
	assert.Equal(t, 1, usage.Used)
}
