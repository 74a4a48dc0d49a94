package failover

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/magicliang/distributed-sequence/internal/model"
	"github.com/magicliang/distributed-sequence/internal/registry"
	"github.com/magicliang/distributed-sequence/internal/store"
)

func newSelector(t *testing.T, role model.Role, st *store.MemoryStore) *RoleSelector {
	reg := registry.New(st, "node-1", role, zap.NewNop())
	require.NoError(t, reg.Register(context.Background()))
	return NewRoleSelector(st, reg)
}

func registerBothOnline(t *testing.T, st *store.MemoryStore, selfRole model.Role) {
	peer := registry.New(st, "node-2", selfRole.Opposite(), zap.NewNop())
	require.NoError(t, peer.Register(context.Background()))
}

func TestSelectRole_ForcedShortCircuits(t *testing.T) {
	st := store.NewMemoryStore()
	sel := newSelector(t, model.RoleOdd, st)

	forced := model.RoleEven
	role, err := sel.SelectRole(context.Background(), "order", "2026-08-03", &forced)
	require.NoError(t, err)
	assert.Equal(t, model.RoleEven, role)
}

func TestSelectRole_Balanced_PrefersAbsentSegment(t *testing.T) {
	st := store.NewMemoryStore()
	sel := newSelector(t, model.RoleOdd, st)
	registerBothOnline(t, st, model.RoleOdd)

	require.NoError(t, st.CreateSegment(context.Background(), "order", "2026-08-03", model.RoleOdd, 1000, 1000))

	role, err := sel.SelectRole(context.Background(), "order", "2026-08-03", nil)
	require.NoError(t, err)
	assert.Equal(t, model.RoleEven, role, "even has no segment yet, should be preferred")
}

func TestSelectRole_Balanced_PrefersLowerUtilisationRatio(t *testing.T) {
	st := store.NewMemoryStore()
	sel := newSelector(t, model.RoleOdd, st)
	registerBothOnline(t, st, model.RoleOdd)

	require.NoError(t, st.CreateSegment(context.Background(), "order", "2026-08-03", model.RoleEven, 2000, 1000))
	require.NoError(t, st.CreateSegment(context.Background(), "order", "2026-08-03", model.RoleOdd, 5000, 1000))

	role, err := sel.SelectRole(context.Background(), "order", "2026-08-03", nil)
	require.NoError(t, err)
	assert.Equal(t, model.RoleEven, role, "even's max/step ratio (2) is lower than odd's (5)")
}

func TestSelectRole_Proxy_WhenPeerOffline(t *testing.T) {
	st := store.NewMemoryStore()
	sel := newSelector(t, model.RoleOdd, st)
	// peer never registered: PeerOnline() is false.

	require.NoError(t, st.CreateSegment(context.Background(), "order", "2026-08-03", model.RoleEven, 2000, 1000))

	role, err := sel.SelectRole(context.Background(), "order", "2026-08-03", nil)
	require.NoError(t, err)
	assert.Equal(t, model.RoleOdd, role, "odd has no segment, should be picked over even in proxy mode")
}

func TestSelectRole_Proxy_BothAbsentIsDeterministicByHash(t *testing.T) {
	st := store.NewMemoryStore()
	sel := newSelector(t, model.RoleOdd, st)

	role1, err := sel.SelectRole(context.Background(), "order", "2026-08-03", nil)
	require.NoError(t, err)
	role2, err := sel.SelectRole(context.Background(), "order", "2026-08-03", nil)
	require.NoError(t, err)
	assert.Equal(t, role1, role2, "hash-based spread must be stable for the same key")
}
