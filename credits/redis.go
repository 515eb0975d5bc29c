package credits

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"

	"github.com/runlet/engine/common/redis"
)

// usageHashKey is the Redis hash holding per-organization usage counters.
const usageHashKey = "credits:usage"

// RedisManager accounts usage in a Redis hash, one field per organization.
// HINCRBY keeps concurrent executions from losing updates.
type RedisManager struct {
	redis   *redis.Client
	devMode bool
}

// RedisManagerOpts configures a RedisManager.
type RedisManagerOpts struct {
	Redis   *redis.Client
	DevMode bool
}

// NewRedis creates a Redis-backed credit manager.
func NewRedis(opts RedisManagerOpts) *RedisManager {
	return &RedisManager{redis: opts.Redis, devMode: opts.DevMode}
}

func (m *RedisManager) CheckRun(ctx context.Context, p CheckParams) error {
	if m.devMode {
		return nil
	}
	used, err := m.Used(ctx, p.OrganizationID)
	if err != nil {
		return err
	}
	return evaluate(p, used, m.devMode)
}

func (m *RedisManager) Record(ctx context.Context, organizationID string, usage int64) error {
	if usage <= 0 {
		return nil
	}
	if _, err := m.redis.IncrementHash(ctx, usageHashKey, organizationID, usage); err != nil {
		return fmt.Errorf("failed to record usage for organization %s: %w", organizationID, err)
	}
	return nil
}

func (m *RedisManager) Used(ctx context.Context, organizationID string) (int64, error) {
	raw, err := m.redis.GetHash(ctx, usageHashKey, organizationID)
	if err != nil {
		if errors.Is(err, redis.ErrKeyNotFound) {
			return 0, nil
		}
		return 0, fmt.Errorf("failed to read usage for organization %s: %w", organizationID, err)
	}
	used, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("corrupt usage counter for organization %s: %w", organizationID, err)
	}
	return used, nil
}

// MemoryManager keeps usage counters in process memory. Used by tests and
// dev mode.
type MemoryManager struct {
	mu      sync.Mutex
	used    map[string]int64
	devMode bool
}

// NewMemory creates an in-memory credit manager.
func NewMemory(devMode bool) *MemoryManager {
	return &MemoryManager{used: make(map[string]int64), devMode: devMode}
}

func (m *MemoryManager) CheckRun(ctx context.Context, p CheckParams) error {
	m.mu.Lock()
	used := m.used[p.OrganizationID]
	m.mu.Unlock()
	return evaluate(p, used, m.devMode)
}

func (m *MemoryManager) Record(ctx context.Context, organizationID string, usage int64) error {
	if usage <= 0 {
		return nil
	}
	m.mu.Lock()
	m.used[organizationID] += usage
	m.mu.Unlock()
	return nil
}

func (m *MemoryManager) Used(ctx context.Context, organizationID string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.used[organizationID], nil
}
