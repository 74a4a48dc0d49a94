package admin

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/magicliang/distributed-sequence/internal/failover"
	"github.com/magicliang/distributed-sequence/internal/issuance"
	"github.com/magicliang/distributed-sequence/internal/model"
	"github.com/magicliang/distributed-sequence/internal/registry"
	"github.com/magicliang/distributed-sequence/internal/store"
)

func newTestService(t *testing.T) (*Service, *store.MemoryStore, *issuance.Engine) {
	st := store.NewMemoryStore()
	reg := registry.New(st, "node-1", model.RoleOdd, zap.NewNop())
	require.NoError(t, reg.Register(context.Background()))

	selector := failover.NewRoleSelector(st, reg)
	engine := issuance.NewEngine(st, selector, reg, zap.NewNop(), issuance.Config{PrefetchConcurrency: 2})
	controller := failover.NewController(reg, engine, zap.NewNop(), 0)

	return NewService(st, reg, engine, controller, zap.NewNop()), st, engine
}

func TestStatus_ReportsPeerLivenessAndLoad(t *testing.T) {
	svc, st, _ := newTestService(t)

	peer := registry.New(st, "node-2", model.RoleEven, zap.NewNop())
	require.NoError(t, peer.Register(context.Background()))

	report, err := svc.Status(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "node-1", report.NodeID)
	assert.Equal(t, "odd", report.Role)
	assert.True(t, report.PeerCounts["even"])
	assert.True(t, report.PeerCounts["odd"])
	assert.False(t, report.InFailoverMode)
}

func TestResolveConflicts_FlagsParityMismatch(t *testing.T) {
	svc, st, _ := newTestService(t)

	require.NoError(t, st.CreateSegment(context.Background(), "order", "2026-08-03", model.RoleOdd, 1000, 1000))
	// Even segment whose max_value lands on an interval index owned by Odd:
	// k=0 is even-indexed, which Odd owns, so recording it under Even is
	// a parity mismatch.
	require.NoError(t, st.CreateSegment(context.Background(), "order", "2026-08-04", model.RoleEven, 1000, 1000))

	report, err := svc.ResolveConflicts(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, report.ScannedCount)
	assert.Equal(t, 1, report.Count)
	require.Len(t, report.AffectedKeys, 1)
}

func TestExpireSegments_DeletesOlderThanCutoff(t *testing.T) {
	svc, st, _ := newTestService(t)

	require.NoError(t, st.CreateSegment(context.Background(), "order", "2026-08-01", model.RoleOdd, 1000, 1000))
	require.NoError(t, st.CreateSegment(context.Background(), "order", "2026-08-05", model.RoleOdd, 2000, 1000))

	n, err := svc.ExpireSegments(context.Background(), "2026-08-03")
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	_, err = st.GetSegment(context.Background(), "order", "2026-08-01", model.RoleOdd)
	assert.ErrorIs(t, err, store.ErrNotFound)
	_, err = st.GetSegment(context.Background(), "order", "2026-08-05", model.RoleOdd)
	assert.NoError(t, err)
}

func TestRecoverRefresh_ClearsStuckFlagsOnly(t *testing.T) {
	svc, _, engine := newTestService(t)

	_, err := engine.Generate(context.Background(), issuance.Request{
		BusinessType: "order",
		Count:        1,
	})
	require.NoError(t, err)

	// With no buffer past the prefetch threshold and no stuck refresh,
	// nothing should be reported as recovered.
	recovered := svc.RecoverRefresh(time.Hour)
	assert.Empty(t, recovered)
}
