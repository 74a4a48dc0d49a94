package registry

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/magicliang/distributed-sequence/internal/model"
	"github.com/magicliang/distributed-sequence/internal/store"
)

func TestRegister_MarksNodeOnline(t *testing.T) {
	st := store.NewMemoryStore()
	r := New(st, "node-1", model.RoleOdd, zap.NewNop())

	require.NoError(t, r.Register(context.Background()))

	node, err := st.GetNode(context.Background(), "node-1")
	require.NoError(t, err)
	assert.Equal(t, model.NodeOnline, node.Status)
	assert.Equal(t, model.RoleOdd, node.Role)
}

func TestPeerOnline_FalseUntilPeerRegisters(t *testing.T) {
	st := store.NewMemoryStore()
	r := New(st, "node-1", model.RoleOdd, zap.NewNop())
	require.NoError(t, r.Register(context.Background()))

	online, err := r.PeerOnline(context.Background())
	require.NoError(t, err)
	assert.False(t, online)

	peer := New(st, "node-2", model.RoleEven, zap.NewNop())
	require.NoError(t, peer.Register(context.Background()))

	online, err = r.PeerOnline(context.Background())
	require.NoError(t, err)
	assert.True(t, online)
}

func TestRoleOnline_ChecksGivenRoleNotJustOwnPeer(t *testing.T) {
	st := store.NewMemoryStore()
	r := New(st, "node-1", model.RoleOdd, zap.NewNop())
	require.NoError(t, r.Register(context.Background()))

	online, err := r.RoleOnline(context.Background(), model.RoleOdd)
	require.NoError(t, err)
	assert.True(t, online, "own role is registered and online")
}

func TestStartStop_HeartbeatsOnInterval(t *testing.T) {
	st := store.NewMemoryStore()
	r := New(st, "node-1", model.RoleOdd, zap.NewNop())
	require.NoError(t, r.Register(context.Background()))

	before, err := st.GetNode(context.Background(), "node-1")
	require.NoError(t, err)

	r.Start(10 * time.Millisecond)
	time.Sleep(35 * time.Millisecond)
	r.Stop()

	after, err := st.GetNode(context.Background(), "node-1")
	require.NoError(t, err)
	assert.True(t, after.LastHeartbeat.After(before.LastHeartbeat))
}

func TestNodeIDAndRole_ReturnConstructorValues(t *testing.T) {
	st := store.NewMemoryStore()
	r := New(st, "node-7", model.RoleEven, zap.NewNop())
	assert.Equal(t, "node-7", r.NodeID())
	assert.Equal(t, model.RoleEven, r.Role())
}
