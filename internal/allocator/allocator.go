// Package allocator implements the interval allocator (C4): the mapping
// from (role, global progress) to the next role-owned interval, including
// the step-size transition path.
//
// Grounded on original_source's calculateNextIntervalMaxValue,
// getGlobalMaxValue and findNextAvailableIntervalIndex, which resolve
// spec.md's Open Question in favor of computing the next interval from the
// *global* max_value (across both roles) in every path, not just some.
package allocator

import (
	"fmt"

	"github.com/magicliang/distributed-sequence/internal/model"
)

// ErrCorruptSegment is returned when a stored max_value's interval index
// parity does not match the role it is recorded under (§4.4, §7).
var ErrCorruptSegment = fmt.Errorf("allocator: segment parity does not match role")

// IntervalIndex returns k for interval k = [k*S+1, (k+1)*S].
func IntervalIndex(maxValue int64, step int32) int64 {
	return (maxValue - 1) / int64(step)
}

// ownsIndex reports whether role owns interval index k. Odd owns even k;
// Even owns odd k (§4.4).
func ownsIndex(role model.Role, k int64) bool {
	if role == model.RoleOdd {
		return k%2 == 0
	}
	return k%2 == 1
}

// InitialMaxValue returns the max_value of the first interval a role ever
// claims: k=0 (max=S) for Odd, k=1 (max=2S) for Even.
func InitialMaxValue(role model.Role, step int32) int64 {
	if role == model.RoleOdd {
		return int64(step)
	}
	return 2 * int64(step)
}

// IntervalStart returns the start of the interval that ends at maxValue,
// verifying that its index parity matches role. A mismatch means the
// stored record is corrupt and must not be issued from.
func IntervalStart(maxValue int64, step int32, role model.Role) (int64, error) {
	k := IntervalIndex(maxValue, step)
	if !ownsIndex(role, k) {
		return 0, ErrCorruptSegment
	}
	return k*int64(step) + 1, nil
}

// NextInterval computes the next interval a role should claim for a
// (business, time) pair, given the current max_value on file for each
// role (zero/absent treated as 0) and the step size to use for the new
// interval. It guarantees the result lies strictly above every interval
// either role has ever claimed, and respects role parity (§4.4, step 1-4).
func NextInterval(evenMax, oddMax int64, step int32, role model.Role) (start, newMax int64) {
	globalMax := evenMax
	if oddMax > globalMax {
		globalMax = oddMax
	}
	if globalMax == 0 {
		globalMax = int64(step)
	}

	globalK := IntervalIndex(globalMax, step)
	candidateK := globalK + 1
	if !ownsIndex(role, candidateK) {
		candidateK++
	}

	newMax = (candidateK + 1) * int64(step)
	start = candidateK*int64(step) + 1
	return start, newMax
}
