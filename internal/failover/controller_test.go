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

type fakeBufferHost struct {
	takeOverCalls int
	abandonCalls  int
	takeOverErr   error
}

func (f *fakeBufferHost) TakeOverProxy(ctx context.Context, peerRole model.Role) (int, error) {
	f.takeOverCalls++
	if f.takeOverErr != nil {
		return 0, f.takeOverErr
	}
	return 3, nil
}

func (f *fakeBufferHost) Abandon(peerRole model.Role) int {
	f.abandonCalls++
	return 3
}

func TestController_TakesOverWhenPeerOffline(t *testing.T) {
	st := store.NewMemoryStore()
	reg := registry.New(st, "node-1", model.RoleOdd, zap.NewNop())
	require.NoError(t, reg.Register(context.Background()))

	host := &fakeBufferHost{}
	c := NewController(reg, host, zap.NewNop(), 0)

	c.tick(context.Background())
	assert.Equal(t, 1, host.takeOverCalls)
	assert.True(t, c.ProxyActive())

	// A second tick while still proxying and peer still offline must not
	// call TakeOverProxy again.
	c.tick(context.Background())
	assert.Equal(t, 1, host.takeOverCalls)
}

func TestController_AbandonsWhenPeerReturns(t *testing.T) {
	st := store.NewMemoryStore()
	reg := registry.New(st, "node-1", model.RoleOdd, zap.NewNop())
	require.NoError(t, reg.Register(context.Background()))

	host := &fakeBufferHost{}
	c := NewController(reg, host, zap.NewNop(), 0)

	c.tick(context.Background())
	require.True(t, c.ProxyActive())

	peer := registry.New(st, "node-2", model.RoleEven, zap.NewNop())
	require.NoError(t, peer.Register(context.Background()))

	c.tick(context.Background())
	assert.Equal(t, 1, host.abandonCalls)
	assert.False(t, c.ProxyActive())
}

func TestController_TakeOverFailureLeavesProxyInactive(t *testing.T) {
	st := store.NewMemoryStore()
	reg := registry.New(st, "node-1", model.RoleOdd, zap.NewNop())
	require.NoError(t, reg.Register(context.Background()))

	host := &fakeBufferHost{takeOverErr: assert.AnError}
	c := NewController(reg, host, zap.NewNop(), 0)

	c.tick(context.Background())
	assert.False(t, c.ProxyActive())
	assert.Equal(t, 1, host.takeOverCalls)
}
