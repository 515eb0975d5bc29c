package blob

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/runlet/engine/common/redis"
)

// RedisStore persists objects in Redis. Payload and metadata live under
// separate keys and are written in one pipelined round-trip.
type RedisStore struct {
	redis     *redis.Client
	presigner *Presigner
	maxBytes  int64
	log       Logger
}

// Logger is the minimal logging surface the store needs.
type Logger interface {
	Debug(msg string, keysAndValues ...interface{})
	Warn(msg string, keysAndValues ...interface{})
}

// RedisStoreOpts configures a RedisStore.
type RedisStoreOpts struct {
	Redis     *redis.Client
	Presigner *Presigner
	MaxBytes  int64 // 0 = unlimited
	Logger    Logger
}

// NewRedis creates a Redis-backed object store.
func NewRedis(opts RedisStoreOpts) *RedisStore {
	return &RedisStore{
		redis:     opts.Redis,
		presigner: opts.Presigner,
		maxBytes:  opts.MaxBytes,
		log:       opts.Logger,
	}
}

func (s *RedisStore) Write(ctx context.Context, data []byte, mimeType string, opts WriteOptions) (Ref, error) {
	if s.maxBytes > 0 && int64(len(data)) > s.maxBytes {
		return Ref{}, fmt.Errorf("object of %d bytes exceeds limit of %d", len(data), s.maxBytes)
	}
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
	metaJSON, err := json.Marshal(m)
	if err != nil {
		return Ref{}, fmt.Errorf("failed to marshal object metadata: %w", err)
	}

	pipe := s.redis.NewPipeline()
	pipe.Set(ctx, DataKey(m.ID), string(data), 0)
	pipe.Set(ctx, MetaKey(m.ID), string(metaJSON), 0)
	if err := pipe.Exec(ctx); err != nil {
		return Ref{}, fmt.Errorf("failed to store object: %w", err)
	}

	if s.log != nil {
		s.log.Debug("stored object", "object_id", m.ID, "size", m.Size, "mime_type", m.MimeType)
	}
	return m.Ref(), nil
}

func (s *RedisStore) Read(ctx context.Context, id string) ([]byte, Meta, error) {
	values, err := s.redis.GetMultiple(ctx, []string{DataKey(id), MetaKey(id)})
	if err != nil {
		return nil, Meta{}, fmt.Errorf("failed to read object %s: %w", id, err)
	}
	data, ok := values[DataKey(id)]
	if !ok {
		return nil, Meta{}, &NotFoundError{ID: id}
	}

	var m Meta
	if raw, ok := values[MetaKey(id)]; ok {
		if err := json.Unmarshal([]byte(raw), &m); err != nil {
			return nil, Meta{}, fmt.Errorf("failed to decode metadata for object %s: %w", id, err)
		}
	} else {
		// Payload without metadata: legacy object, synthesize the minimum.
		m = Meta{ID: id, MimeType: DefaultMimeType, Size: int64(len(data))}
	}
	return []byte(data), m, nil
}

func (s *RedisStore) Stat(ctx context.Context, id string) (Meta, error) {
	raw, err := s.redis.Get(ctx, MetaKey(id))
	if err != nil {
		if errors.Is(err, redis.ErrKeyNotFound) {
			return Meta{}, &NotFoundError{ID: id}
		}
		return Meta{}, fmt.Errorf("failed to stat object %s: %w", id, err)
	}
	var m Meta
	if err := json.Unmarshal([]byte(raw), &m); err != nil {
		return Meta{}, fmt.Errorf("failed to decode metadata for object %s: %w", id, err)
	}
	return m, nil
}

func (s *RedisStore) Presign(ctx context.Context, id string, expiry time.Duration) (string, error) {
	if _, err := s.Stat(ctx, id); err != nil {
		return "", err
	}
	return s.presigner.URL(id, expiry), nil
}

func (s *RedisStore) WriteAndPresign(ctx context.Context, data []byte, mimeType string, opts WriteOptions) (Ref, string, error) {
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
