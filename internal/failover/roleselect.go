// Package failover implements the failover controller (C6): per-request
// role selection (balanced vs proxy mode), and the periodic take-over /
// abandon loop that mutates a buffer host's proxy buffers on peer loss and
// peer return.
//
// Grounded on original_source's determineShardType / selectBalancedShardType
// / selectAnyAvailableShardType, and on the teacher's health.HealthChecker
// shape (periodically check multiple dependencies, aggregate a decision).
package failover

import (
	"context"
	"hash/fnv"

	"github.com/magicliang/distributed-sequence/internal/model"
	"github.com/magicliang/distributed-sequence/internal/registry"
	"github.com/magicliang/distributed-sequence/internal/store"
)

// RoleSelector implements the per-request role-selection rule of §4.6.
type RoleSelector struct {
	store    store.SegmentStore
	registry *registry.Registry
}

// NewRoleSelector constructs a role selector over the shared segment store
// and this node's registry.
func NewRoleSelector(st store.SegmentStore, reg *registry.Registry) *RoleSelector {
	return &RoleSelector{store: st, registry: reg}
}

// SelectRole picks the role a request should be served from, following
// §4.6 steps 1-4. forced, if non-nil, short-circuits the rule entirely.
func (s *RoleSelector) SelectRole(ctx context.Context, business, timeKey string, forced *model.Role) (model.Role, error) {
	if forced != nil {
		return *forced, nil
	}

	peerOnline, err := s.registry.PeerOnline(ctx)
	if err != nil {
		return 0, err
	}

	if peerOnline {
		return s.selectBalanced(ctx, business, timeKey)
	}
	return s.selectProxy(ctx, business, timeKey)
}

// selectBalanced implements §4.6 step 3: both roles Online.
func (s *RoleSelector) selectBalanced(ctx context.Context, business, timeKey string) (model.Role, error) {
	evenSeg, evenErr := s.store.GetSegment(ctx, business, timeKey, model.RoleEven)
	oddSeg, oddErr := s.store.GetSegment(ctx, business, timeKey, model.RoleOdd)

	evenAbsent := evenErr == store.ErrNotFound
	oddAbsent := oddErr == store.ErrNotFound
	if evenErr != nil && !evenAbsent {
		return 0, evenErr
	}
	if oddErr != nil && !oddAbsent {
		return 0, oddErr
	}

	switch {
	case evenAbsent && oddAbsent:
		return s.tiebreakBySumLoad(ctx)
	case evenAbsent:
		return model.RoleEven, nil
	case oddAbsent:
		return model.RoleOdd, nil
	}

	evenRatio := ratio(evenSeg.MaxValue, evenSeg.StepSize)
	oddRatio := ratio(oddSeg.MaxValue, oddSeg.StepSize)
	switch {
	case evenRatio < oddRatio:
		return model.RoleEven, nil
	case oddRatio < evenRatio:
		return model.RoleOdd, nil
	default:
		return s.registry.Role(), nil
	}
}

// selectProxy implements §4.6 step 4: only one role Online, this node
// issues for both.
func (s *RoleSelector) selectProxy(ctx context.Context, business, timeKey string) (model.Role, error) {
	evenSeg, evenErr := s.store.GetSegment(ctx, business, timeKey, model.RoleEven)
	oddSeg, oddErr := s.store.GetSegment(ctx, business, timeKey, model.RoleOdd)

	evenAbsent := evenErr == store.ErrNotFound
	oddAbsent := oddErr == store.ErrNotFound
	if evenErr != nil && !evenAbsent {
		return 0, evenErr
	}
	if oddErr != nil && !oddAbsent {
		return 0, oddErr
	}

	if evenAbsent && oddAbsent {
		return hashSpread(business, timeKey), nil
	}
	if evenAbsent {
		return model.RoleEven, nil
	}
	if oddAbsent {
		return model.RoleOdd, nil
	}

	evenRatio := ratio(evenSeg.MaxValue, evenSeg.StepSize)
	oddRatio := ratio(oddSeg.MaxValue, oddSeg.StepSize)
	if evenRatio <= oddRatio {
		return model.RoleEven, nil
	}
	return model.RoleOdd, nil
}

func (s *RoleSelector) tiebreakBySumLoad(ctx context.Context) (model.Role, error) {
	evenSum, err := s.store.SumMaxValue(ctx, model.RoleEven)
	if err != nil {
		return 0, err
	}
	oddSum, err := s.store.SumMaxValue(ctx, model.RoleOdd)
	if err != nil {
		return 0, err
	}
	switch {
	case evenSum < oddSum:
		return model.RoleEven, nil
	case oddSum < evenSum:
		return model.RoleOdd, nil
	default:
		return s.registry.Role(), nil
	}
}

func ratio(maxValue int64, step int32) float64 {
	if step <= 0 {
		return 0
	}
	return float64(maxValue) / float64(step)
}

// hashSpread picks a role for even spread across keys that have never
// been allocated to either role (§4.6 step 4, "no data exists").
func hashSpread(business, timeKey string) model.Role {
	h := fnv.New32a()
	_, _ = h.Write([]byte(business))
	_, _ = h.Write([]byte("|"))
	_, _ = h.Write([]byte(timeKey))
	if h.Sum32()%2 == 0 {
		return model.RoleEven
	}
	return model.RoleOdd
}
