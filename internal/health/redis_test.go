package health

import (
	"context"
	"runtime"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRedisChecker_Check(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	defer mr.Close()

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	checker := NewRedisChecker(client)
	assert.Equal(t, "redis", checker.Name())
	assert.NoError(t, checker.Check(context.Background()))

	mr.Close()
	err = checker.Check(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "redis ping failed")
}

func fixedHeap(alloc uint64) func(*runtime.MemStats) {
	return func(ms *runtime.MemStats) {
		ms.HeapAlloc = alloc
		ms.HeapSys = alloc * 2
	}
}

func TestMemoryChecker_Check(t *testing.T) {
	tests := []struct {
		name      string
		limit     uint64
		threshold float64
		heap      uint64
		degraded  bool
		down      bool
	}{
		{name: "within limit", limit: 1000, threshold: 0.8, heap: 500},
		{name: "above threshold", limit: 1000, threshold: 0.8, heap: 800, degraded: true},
		{name: "at limit", limit: 1000, threshold: 0.8, heap: 1000, down: true},
		{name: "no limit", limit: 0, threshold: 0.8, heap: 1 << 40},
		{name: "bad threshold falls back", limit: 1000, threshold: -1, heap: 850},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			checker := NewMemoryChecker(tt.limit, tt.threshold)
			checker.readStats = fixedHeap(tt.heap)

			err := checker.Check(context.Background())
			var degraded *DegradedError
			switch {
			case tt.down:
				require.Error(t, err)
				assert.NotErrorAs(t, err, &degraded)
			case tt.degraded:
				require.ErrorAs(t, err, &degraded)
			default:
				assert.NoError(t, err)
			}

			details := checker.Details()
			assert.Equal(t, tt.heap, details["heap_alloc"])
			assert.Equal(t, tt.limit, details["limit"])
		})
	}
}

func TestMemoryChecker_RealStats(t *testing.T) {
	checker := NewMemoryChecker(0, 0)
	assert.Equal(t, "memory", checker.Name())
	require.NoError(t, checker.Check(context.Background()))
	assert.NotZero(t, checker.Details()["heap_sys"])
}

func TestCheckers_WithManager(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	defer mr.Close()

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	memory := NewMemoryChecker(1000, 0.5)
	memory.readStats = fixedHeap(600)

	manager := NewManager(logrus.New())
	manager.Register(NewRedisChecker(client))
	manager.Register(memory)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	results := manager.RunChecks(ctx)

	require.Len(t, results, 2)
	assert.Equal(t, StatusOK, results["redis"].Status)
	assert.Equal(t, StatusDegraded, results["memory"].Status)
	assert.Equal(t, uint64(600), results["memory"].Details["heap_alloc"])
	assert.Equal(t, StatusDegraded, manager.GetOverallStatus())
}
