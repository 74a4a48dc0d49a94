package issuance

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/magicliang/distributed-sequence/internal/failover"
	"github.com/magicliang/distributed-sequence/internal/model"
	"github.com/magicliang/distributed-sequence/internal/registry"
	"github.com/magicliang/distributed-sequence/internal/store"
)

func newTestEngine(t *testing.T, role model.Role) (*Engine, *store.MemoryStore) {
	st := store.NewMemoryStore()
	reg := registry.New(st, "node-under-test", role, zap.NewNop())
	require.NoError(t, reg.Register(context.Background()))
	selector := failover.NewRoleSelector(st, reg)
	return NewEngine(st, selector, reg, zap.NewNop(), Config{PrefetchConcurrency: 4}), st
}

func TestGenerate_ValidatesInput(t *testing.T) {
	e, _ := newTestEngine(t, model.RoleOdd)

	_, err := e.Generate(context.Background(), Request{BusinessType: "", Count: 1})
	assert.Error(t, err)

	_, err = e.Generate(context.Background(), Request{BusinessType: "order", Count: 0})
	assert.Error(t, err)
}

func TestGenerate_FirstRequestCreatesSegmentAndIssuesFromStart(t *testing.T) {
	e, _ := newTestEngine(t, model.RoleOdd)
	forced := model.RoleOdd

	result, err := e.Generate(context.Background(), Request{
		BusinessType: "order",
		TimeKey:      strPtr("2026-08-03"),
		Count:        5,
		ForcedRole:   &forced,
	})
	require.NoError(t, err)
	assert.Equal(t, []int64{1, 2, 3, 4, 5}, result.IDs)
	assert.Equal(t, model.RoleOdd, result.Role)
}

func TestGenerate_RefillsAcrossBufferBoundary(t *testing.T) {
	e, st := newTestEngine(t, model.RoleOdd)
	forced := model.RoleOdd
	timeKey := "2026-08-03"
	step := int32(10)

	first, err := e.Generate(context.Background(), Request{
		BusinessType:   "order",
		TimeKey:        &timeKey,
		Count:          10,
		ForcedRole:     &forced,
		CustomStepSize: &step,
	})
	require.NoError(t, err)
	assert.Equal(t, int64(10), first.IDs[len(first.IDs)-1])

	second, err := e.Generate(context.Background(), Request{
		BusinessType: "order",
		TimeKey:      &timeKey,
		Count:        1,
		ForcedRole:   &forced,
	})
	require.NoError(t, err)
	// Odd's next interval must skip Even's [11,20] and land on [21,30].
	assert.Equal(t, int64(21), second.IDs[0])

	seg, err := st.GetSegment(context.Background(), "order", timeKey, model.RoleOdd)
	require.NoError(t, err)
	assert.Equal(t, int64(30), seg.MaxValue)
}

func TestGenerate_ConcurrentRequestsNeverDuplicateIDs(t *testing.T) {
	e, _ := newTestEngine(t, model.RoleOdd)
	forced := model.RoleOdd
	timeKey := "2026-08-03"

	const workers = 8
	const perWorker = 25

	var wg sync.WaitGroup
	idsCh := make(chan int64, workers*perWorker)

	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < perWorker; j++ {
				result, err := e.Generate(context.Background(), Request{
					BusinessType: "order",
					TimeKey:      &timeKey,
					Count:        1,
					ForcedRole:   &forced,
				})
				if err != nil {
					t.Errorf("generate failed: %v", err)
					return
				}
				idsCh <- result.IDs[0]
			}
		}()
	}
	wg.Wait()
	close(idsCh)

	seen := make(map[int64]bool)
	count := 0
	for id := range idsCh {
		assert.False(t, seen[id], "duplicate id %d", id)
		seen[id] = true
		count++
	}
	assert.Equal(t, workers*perWorker, count)
}

func TestGenerate_RoutingHint(t *testing.T) {
	e, _ := newTestEngine(t, model.RoleOdd)
	forced := model.RoleOdd

	result, err := e.Generate(context.Background(), Request{
		BusinessType:    "order",
		Count:           1,
		ForcedRole:      &forced,
		IncludeRouting:  true,
		ShardDBCount:    4,
		ShardTableCount: 8,
	})
	require.NoError(t, err)
	require.NotNil(t, result.Routing)
	assert.Equal(t, result.IDs[0], result.Routing.RoutingKey)
}

func TestTakeOverProxy_ThenAbandon(t *testing.T) {
	e, st := newTestEngine(t, model.RoleOdd)
	require.NoError(t, st.CreateSegment(context.Background(), "order", "2026-08-03", model.RoleEven, 2000, 1000))

	n, err := e.TakeOverProxy(context.Background(), model.RoleEven)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, 1, e.ProxyBufferCount())

	dropped := e.Abandon(model.RoleEven)
	assert.Equal(t, 1, dropped)
	assert.Equal(t, 0, e.ProxyBufferCount())
}

func strPtr(s string) *string { return &s }
