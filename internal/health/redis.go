package health

import (
	"context"
	"fmt"
	"runtime"
	"sync"

	"github.com/redis/go-redis/v9"
)

// RedisChecker checks connectivity to the session store.
type RedisChecker struct {
	client *redis.Client
	name   string
}

func NewRedisChecker(client *redis.Client) *RedisChecker {
	return &RedisChecker{
		client: client,
		name:   "redis",
	}
}

func (r *RedisChecker) Name() string {
	return r.name
}

func (r *RedisChecker) Check(ctx context.Context) error {
	if err := r.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis ping failed: %w", err)
	}

	info, err := r.client.Info(ctx, "server").Result()
	if err != nil {
		return fmt.Errorf("failed to get redis info: %w", err)
	}
	if len(info) == 0 {
		return fmt.Errorf("empty redis info response")
	}
	return nil
}

// MemoryChecker reports degraded once the Go heap passes threshold of limit
// bytes, and down once it passes limit. A zero limit only reports usage.
type MemoryChecker struct {
	limit     uint64
	threshold float64

	readStats func(*runtime.MemStats)

	mu   sync.Mutex
	last runtime.MemStats
}

func NewMemoryChecker(limit uint64, threshold float64) *MemoryChecker {
	if threshold <= 0 || threshold > 1 {
		threshold = 0.9
	}
	return &MemoryChecker{
		limit:     limit,
		threshold: threshold,
		readStats: runtime.ReadMemStats,
	}
}

func (m *MemoryChecker) Name() string {
	return "memory"
}

func (m *MemoryChecker) Check(ctx context.Context) error {
	m.mu.Lock()
	m.readStats(&m.last)
	used := m.last.HeapAlloc
	m.mu.Unlock()

	if m.limit == 0 {
		return nil
	}
	switch {
	case used >= m.limit:
		return fmt.Errorf("heap %d bytes exceeds limit %d", used, m.limit)
	case float64(used) >= float64(m.limit)*m.threshold:
		return Degraded(fmt.Sprintf("heap %d bytes above %.0f%% of limit", used, m.threshold*100))
	}
	return nil
}

func (m *MemoryChecker) Details() map[string]interface{} {
	m.mu.Lock()
	defer m.mu.Unlock()
	return map[string]interface{}{
		"heap_alloc": m.last.HeapAlloc,
		"heap_sys":   m.last.HeapSys,
		"num_gc":     m.last.NumGC,
		"limit":      m.limit,
	}
}
