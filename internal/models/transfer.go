package models

import (
	"time"

	"github.com/secshare/secshare/internal/crypto"
)

type Tier string

const (
	TierFree    Tier = "free"
	TierPremium Tier = "premium"
)

func (t Tier) Valid() bool {
	return t == TierFree || t == TierPremium
}

type TransferKind string

const (
	KindText TransferKind = "text"
	KindFile TransferKind = "file"
)

type TransferState string

const (
	StateActive   TransferState = "active"
	StateConsumed TransferState = "consumed"
	StateExpired  TransferState = "expired"
)

// Transfer is one ephemeral, single-retrieval content exchange. The ID doubles
// as the access token, so it must come from a cryptographically secure source.
type Transfer struct {
	ID                string
	OwnerID           string
	Kind              TransferKind
	Ciphertext        []byte // inline payload for text transfers
	Blob              *BlobRecord
	Key               crypto.KeyHandle
	PasswordProtected bool
	FailedAttempts    int
	FileName          string
	FileSize          int64
	CreatedAt         time.Time
	ExpiresAt         time.Time
	State             TransferState
}

func (t *Transfer) ExpiredAt(now time.Time) bool {
	return now.After(t.ExpiresAt)
}

// BlobRecord points at staged content owned by exactly one transfer.
// It is destroyed together with that transfer.
type BlobRecord struct {
	TransferID string
	Ref        string
	Size       int64
}

// User tracks per-sender usage. Users are created on first interaction and
// never deleted; counters reset by window, not by record deletion.
type User struct {
	ID             string
	Tier           Tier
	WindowStart    time.Time
	WindowCount    int
	TotalTransfers int
}
