// Package blob is the size-gated staging area for file-sized transfer
// payloads. It never inspects content; records are addressed only through
// the BlobRecord handed out by Stage.
package blob

import (
	"context"
	"errors"
	"io"

	"github.com/secshare/secshare/internal/models"
)

var (
	ErrTooLarge = errors.New("content exceeds declared size")
	ErrNotFound = errors.New("blob not found")
)

// Store stages encrypted payloads outside the transfer record. Purge must
// leave the bytes unrecoverable, not merely unlinked, and is idempotent.
type Store interface {
	Stage(ctx context.Context, transferID string, r io.Reader, size int64) (models.BlobRecord, error)
	Open(ctx context.Context, rec models.BlobRecord) (io.ReadCloser, error)
	Purge(ctx context.Context, rec models.BlobRecord) error
	Close() error
}

// readChunk reads up to len(buf) bytes, honouring caller cancellation between
// reads so a slow producer cannot pin a staging operation forever.
func readChunk(ctx context.Context, r io.Reader, buf []byte) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	return r.Read(buf)
}
