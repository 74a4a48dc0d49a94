package allocator

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/magicliang/distributed-sequence/internal/model"
)

func TestInitialMaxValue(t *testing.T) {
	assert.Equal(t, int64(1000), InitialMaxValue(model.RoleOdd, 1000))
	assert.Equal(t, int64(2000), InitialMaxValue(model.RoleEven, 1000))
}

func TestIntervalStart(t *testing.T) {
	start, err := IntervalStart(1000, 1000, model.RoleOdd)
	assert.NoError(t, err)
	assert.Equal(t, int64(1), start)

	start, err = IntervalStart(2000, 1000, model.RoleEven)
	assert.NoError(t, err)
	assert.Equal(t, int64(1001), start)

	_, err = IntervalStart(1000, 1000, model.RoleEven)
	assert.ErrorIs(t, err, ErrCorruptSegment)
}

// Odd's first interval [1, 1000] (S1) comes from InitialMaxValue, not from
// NextInterval. With no segment on file for either role, NextInterval
// treats global_max as S (k=0 already claimed), so Odd's next owned
// interval is k=2: [2001, 3000].
func TestNextInterval_BothAbsent_OddSkipsToK2(t *testing.T) {
	start, max := NextInterval(0, 0, 1000, model.RoleOdd)
	assert.Equal(t, int64(2001), start)
	assert.Equal(t, int64(3000), max)
}

// S2: after Odd exhausts [1,1000], Odd's next interval skips Even's
// [1001,2000] and lands on [2001,3000].
func TestNextInterval_S2_OddSkipsEvenInterval(t *testing.T) {
	start, max := NextInterval(0, 1000, 1000, model.RoleOdd)
	assert.Equal(t, int64(2001), start)
	assert.Equal(t, int64(3000), max)
}

// S3: Even's first interval is [1001, 2000].
func TestNextInterval_S3_FirstEvenInterval(t *testing.T) {
	start, max := NextInterval(0, 1000, 1000, model.RoleEven)
	assert.Equal(t, int64(1001), start)
	assert.Equal(t, int64(2000), max)
}

// With Odd at max=3000 and Even at max=2000, the next interval for either
// role must land above global_max=3000. Per the partition table and
// original_source's OddEvenIntervalTest, [3001,4000] is Even's (k=3, odd)
// and [4001,5000] is Odd's (k=4, even) — k is derived from global_max, not
// from the caller's own current max.
func TestNextInterval_S4_RespectsGlobalMax(t *testing.T) {
	start, max := NextInterval(2000, 3000, 1000, model.RoleEven)
	assert.Equal(t, int64(3001), start)
	assert.Equal(t, int64(4000), max)

	start, max = NextInterval(2000, 3000, 1000, model.RoleOdd)
	assert.Equal(t, int64(4001), start)
	assert.Equal(t, int64(5000), max)
}

func TestNextInterval_BothAbsent(t *testing.T) {
	start, max := NextInterval(0, 0, 500, model.RoleEven)
	assert.Equal(t, int64(501), start)
	assert.Equal(t, int64(1000), max)
}

func TestNextInterval_NeverOverlapsPeer(t *testing.T) {
	// Simulate a long run of alternating refills and assert disjointness.
	const step = 1000
	var evenMax, oddMax int64
	var evenIntervals, oddIntervals [][2]int64

	for i := 0; i < 20; i++ {
		if i%2 == 0 {
			start, max := NextInterval(evenMax, oddMax, step, model.RoleOdd)
			oddIntervals = append(oddIntervals, [2]int64{start, max})
			oddMax = max
		} else {
			start, max := NextInterval(evenMax, oddMax, step, model.RoleEven)
			evenIntervals = append(evenIntervals, [2]int64{start, max})
			evenMax = max
		}
	}

	for _, e := range evenIntervals {
		for _, o := range oddIntervals {
			overlap := e[0] <= o[1] && o[0] <= e[1]
			assert.False(t, overlap, "even interval %v overlaps odd interval %v", e, o)
		}
	}
}

func TestIntervalIndex(t *testing.T) {
	assert.Equal(t, int64(0), IntervalIndex(1000, 1000))
	assert.Equal(t, int64(1), IntervalIndex(2000, 1000))
	assert.Equal(t, int64(4), IntervalIndex(5000, 1000))
}
