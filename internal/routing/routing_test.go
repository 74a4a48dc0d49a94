package routing

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCompute_NoDBShardingWhenDBCountNotPositive(t *testing.T) {
	h := Compute(12345, 0, 0)
	assert.Equal(t, 0, h.DBIndex)
	assert.False(t, h.HasTableIndex)
	assert.Equal(t, int64(12345), h.RoutingKey)
}

func TestCompute_DBIndexOnly(t *testing.T) {
	h := Compute(103, 4, 0)
	assert.Equal(t, 3, h.DBIndex)
	assert.Equal(t, 4, h.ShardDBCount)
	assert.False(t, h.HasTableIndex)
	assert.Equal(t, 0, h.TableIndex)
}

func TestCompute_DBAndTableIndex(t *testing.T) {
	h := Compute(103, 4, 5)
	assert.Equal(t, 3, h.DBIndex)
	assert.True(t, h.HasTableIndex)
	assert.Equal(t, 5, h.ShardTableCount)
	assert.Equal(t, int(mod(103/4, 5)), h.TableIndex)
}

func TestCompute_IsDeterministic(t *testing.T) {
	a := Compute(9999, 8, 16)
	b := Compute(9999, 8, 16)
	assert.Equal(t, a, b)
}

func TestMod_NeverNegative(t *testing.T) {
	assert.Equal(t, int64(2), mod(-3, 5))
	assert.Equal(t, int64(0), mod(0, 5))
	assert.Equal(t, int64(3), mod(3, 5))
}
