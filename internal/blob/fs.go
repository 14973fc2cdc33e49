package blob

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/google/uuid"

	"github.com/secshare/secshare/internal/models"
)

var _ Store = (*FSStore)(nil)

const copyChunkSize = 32 * 1024

// FSStore stages blobs as individual files under a staging directory. File
// names are random uuids, never derived from transfer content or id.
type FSStore struct {
	dir string
}

func NewFSStore(dir string) (*FSStore, error) {
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("creating staging dir: %w", err)
	}
	return &FSStore{dir: dir}, nil
}

func (s *FSStore) Stage(ctx context.Context, transferID string, r io.Reader, size int64) (models.BlobRecord, error) {
	ref := uuid.NewString()
	path := s.path(ref)

	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o600)
	if err != nil {
		return models.BlobRecord{}, fmt.Errorf("creating blob file: %w", err)
	}

	written, err := s.copy(ctx, f, r, size)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err == nil && written != size {
		err = fmt.Errorf("short content: got %d bytes, declared %d", written, size)
	}
	if err != nil {
		os.Remove(path)
		return models.BlobRecord{}, err
	}

	return models.BlobRecord{TransferID: transferID, Ref: ref, Size: size}, nil
}

func (s *FSStore) Open(ctx context.Context, rec models.BlobRecord) (io.ReadCloser, error) {
	f, err := os.Open(s.path(rec.Ref))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("opening blob: %w", err)
	}
	return f, nil
}

// Purge overwrites the blob with zeros before unlinking it, so the ciphertext
// is not left behind on disk. Already-purged blobs are a no-op.
func (s *FSStore) Purge(ctx context.Context, rec models.BlobRecord) error {
	path := s.path(rec.Ref)

	f, err := os.OpenFile(path, os.O_WRONLY, 0)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("opening blob for purge: %w", err)
	}

	zeros := make([]byte, copyChunkSize)
	remaining := rec.Size
	for remaining > 0 {
		n := int64(len(zeros))
		if remaining < n {
			n = remaining
		}
		if _, err := f.Write(zeros[:n]); err != nil {
			f.Close()
			return fmt.Errorf("overwriting blob: %w", err)
		}
		remaining -= n
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return fmt.Errorf("syncing blob: %w", err)
	}
	if err := f.Close(); err != nil {
		return err
	}

	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("removing blob: %w", err)
	}
	return nil
}

func (s *FSStore) Close() error {
	return nil
}

func (s *FSStore) path(ref string) string {
	return filepath.Join(s.dir, ref)
}

// copy streams at most size bytes and fails with ErrTooLarge if the reader
// yields more than declared, so oversized content never settles on disk.
func (s *FSStore) copy(ctx context.Context, w io.Writer, r io.Reader, size int64) (int64, error) {
	buf := make([]byte, copyChunkSize)
	var written int64
	for {
		n, err := readChunk(ctx, r, buf)
		if n > 0 {
			if written+int64(n) > size {
				return written, ErrTooLarge
			}
			if _, werr := w.Write(buf[:n]); werr != nil {
				return written, fmt.Errorf("writing blob: %w", werr)
			}
			written += int64(n)
		}
		if err == io.EOF {
			return written, nil
		}
		if err != nil {
			return written, err
		}
	}
}
