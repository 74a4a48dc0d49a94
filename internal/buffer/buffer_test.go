package buffer

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/magicliang/distributed-sequence/internal/model"
)

func TestTake_SequentialWithinBounds(t *testing.T) {
	b := New(1, 10, model.RoleOdd)
	for i := int64(1); i <= 10; i++ {
		assert.Equal(t, i, b.Take())
	}
	assert.Equal(t, Exhausted, b.Take())
	assert.Equal(t, Exhausted, b.Take())
}

func TestTake_ConcurrentNeverDuplicatesOrSkips(t *testing.T) {
	b := New(1, 1000, model.RoleEven)
	var wg sync.WaitGroup
	results := make(chan int64, 1000)

	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				id := b.Take()
				if id == Exhausted {
					return
				}
				results <- id
			}
		}()
	}
	wg.Wait()
	close(results)

	seen := make(map[int64]bool)
	count := 0
	for id := range results {
		assert.False(t, seen[id], "id %d issued twice", id)
		seen[id] = true
		count++
	}
	assert.Equal(t, 1000, count)
}

func TestUtilisation_ClippedToRange(t *testing.T) {
	b := New(1, 10, model.RoleOdd)
	assert.Equal(t, 0.0, b.Utilisation())

	for i := 0; i < 5; i++ {
		b.Take()
	}
	assert.InDelta(t, 0.5, b.Utilisation(), 0.0001)

	for i := 0; i < 10; i++ {
		b.Take()
	}
	assert.Equal(t, 1.0, b.Utilisation())
}

func TestTryMarkRefresh_SingleWinner(t *testing.T) {
	b := New(1, 10, model.RoleOdd)
	assert.True(t, b.TryMarkRefresh())
	assert.False(t, b.TryMarkRefresh())
	b.ClearRefresh()
	assert.True(t, b.TryMarkRefresh())
}

func TestTryMarkRefresh_StuckFlagForceReset(t *testing.T) {
	b := New(1, 10, model.RoleOdd)
	b.refreshTimeout = 10 * time.Millisecond

	assert.True(t, b.TryMarkRefresh())
	time.Sleep(20 * time.Millisecond)
	assert.True(t, b.TryMarkRefresh(), "stuck flag should be force-reset past timeout")
}

func TestInstall_ResetsCursorAndRefreshState(t *testing.T) {
	b := New(1, 10, model.RoleOdd)
	for i := 0; i < 10; i++ {
		b.Take()
	}
	b.TryMarkRefresh()

	b.Install(11, 20)
	assert.Equal(t, int64(11), b.Start())
	assert.Equal(t, int64(20), b.End())
	assert.False(t, b.NeedsRefresh())
	assert.False(t, b.IsExhausted())
	assert.Equal(t, int64(11), b.Take())
}

func TestIsExhausted(t *testing.T) {
	b := New(1, 2, model.RoleOdd)
	assert.False(t, b.IsExhausted())
	b.Take()
	assert.False(t, b.IsExhausted())
	b.Take()
	assert.True(t, b.IsExhausted())
}
