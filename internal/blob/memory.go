package blob

import (
	"bytes"
	"context"
	"io"
	"sync"

	"github.com/google/uuid"

	"github.com/secshare/secshare/internal/models"
)

var _ Store = (*MemoryStore)(nil)

// MemoryStore keeps staged blobs in process memory.
type MemoryStore struct {
	mu    sync.Mutex
	blobs map[string][]byte
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{blobs: make(map[string][]byte)}
}

func (s *MemoryStore) Stage(ctx context.Context, transferID string, r io.Reader, size int64) (models.BlobRecord, error) {
	var buf bytes.Buffer
	chunk := make([]byte, copyChunkSize)
	for {
		n, err := readChunk(ctx, r, chunk)
		if n > 0 {
			if int64(buf.Len()+n) > size {
				return models.BlobRecord{}, ErrTooLarge
			}
			buf.Write(chunk[:n])
		}
		if err == io.EOF {
			break
		}
		if err != nil {
			return models.BlobRecord{}, err
		}
	}
	if int64(buf.Len()) != size {
		return models.BlobRecord{}, io.ErrUnexpectedEOF
	}

	ref := uuid.NewString()
	s.mu.Lock()
	s.blobs[ref] = buf.Bytes()
	s.mu.Unlock()

	return models.BlobRecord{TransferID: transferID, Ref: ref, Size: size}, nil
}

func (s *MemoryStore) Open(ctx context.Context, rec models.BlobRecord) (io.ReadCloser, error) {
	s.mu.Lock()
	data, ok := s.blobs[rec.Ref]
	s.mu.Unlock()
	if !ok {
		return nil, ErrNotFound
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

func (s *MemoryStore) Purge(ctx context.Context, rec models.BlobRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if data, ok := s.blobs[rec.Ref]; ok {
		for i := range data {
			data[i] = 0
		}
		delete(s.blobs, rec.Ref)
	}
	return nil
}

func (s *MemoryStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.blobs = nil
	return nil
}
