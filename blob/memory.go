package blob

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryStore keeps objects in process memory. Used by tests and dev mode.
type MemoryStore struct {
	mu        sync.RWMutex
	data      map[string][]byte
	meta      map[string]Meta
	presigner *Presigner
}

// NewMemory creates an in-memory store. A nil presigner gets a throwaway
// local one, which is enough for tests.
func NewMemory(presigner *Presigner) *MemoryStore {
	if presigner == nil {
		presigner = NewPresigner("memory-store-secret", "http://localhost:8080", 0, 0)
	}
	return &MemoryStore{
		data:      make(map[string][]byte),
		meta:      make(map[string]Meta),
		presigner: presigner,
	}
}

func (s *MemoryStore) Write(ctx context.Context, data []byte, mimeType string, opts WriteOptions) (Ref, error) {
	if mimeType == "" {
		mimeType = DefaultMimeType
	}
	m := Meta{
		ID:             uuid.New().String(),
		MimeType:       mimeType,
		Size:           int64(len(data)),
		Filename:       opts.Filename,
		OrganizationID: opts.OrganizationID,
		ExecutionID:    opts.ExecutionID,
		CreatedAt:      time.Now().UTC(),
	}

	buf := make([]byte, len(data))
	copy(buf, data)

	s.mu.Lock()
	s.data[m.ID] = buf
	s.meta[m.ID] = m
	s.mu.Unlock()

	return m.Ref(), nil
}

func (s *MemoryStore) Read(ctx context.Context, id string) ([]byte, Meta, error) {
	s.mu.RLock()
	buf, ok := s.data[id]
	m := s.meta[id]
	s.mu.RUnlock()
	if !ok {
		return nil, Meta{}, &NotFoundError{ID: id}
	}

	out := make([]byte, len(buf))
	copy(out, buf)
	return out, m, nil
}

func (s *MemoryStore) Stat(ctx context.Context, id string) (Meta, error) {
	s.mu.RLock()
	m, ok := s.meta[id]
	s.mu.RUnlock()
	if !ok {
		return Meta{}, &NotFoundError{ID: id}
	}
	return m, nil
}

func (s *MemoryStore) Presign(ctx context.Context, id string, expiry time.Duration) (string, error) {
	if _, err := s.Stat(ctx, id); err != nil {
		return "", err
	}
	return s.presigner.URL(id, expiry), nil
}

func (s *MemoryStore) WriteAndPresign(ctx context.Context, data []byte, mimeType string, opts WriteOptions) (Ref, string, error) {
	ref, err := s.Write(ctx, data, mimeType, opts)
	if err != nil {
		return Ref{}, "", err
	}
	url, err := s.Presign(ctx, ref.ID, 0)
	if err != nil {
		return Ref{}, "", err
	}
	return ref, url, nil
}

// Len returns the number of stored objects.
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.data)
}
