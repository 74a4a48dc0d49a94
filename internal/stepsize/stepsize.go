// Package stepsize implements the step-size change protocol (C7):
// operator-driven, consistency-preserving changes to a segment's interval
// width, with a preview mode and a per-segment diff report.
//
// Grounded on the teacher's cleanup_service.go/migration_service.go
// preview-then-execute admin operations (list affected records, diff
// stored vs requested, execute only when not in preview, return a report).
package stepsize

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/magicliang/distributed-sequence/internal/allocator"
	"github.com/magicliang/distributed-sequence/internal/model"
	"github.com/magicliang/distributed-sequence/internal/store"
)

// BufferInvalidator drops cached buffers so the next request for a key
// re-reads the segment from the store. Implemented by *issuance.Engine;
// defined here to avoid an import cycle, the same pattern used by
// failover.BufferHost.
type BufferInvalidator interface {
	InvalidateBuffer(business, timeKey string, role model.Role)
}

// Request is the change_step operation's input (§4.7, §6).
type Request struct {
	BusinessType string
	TimeKey      *string // nil means "all time keys for this business"
	NewStepSize  int32
	Preview      bool
}

// SegmentDiff reports one segment's before/after state.
type SegmentDiff struct {
	BusinessType string
	TimeKey      string
	Role         model.Role
	OldStepSize  int32
	NewStepSize  int32
	OldMaxValue  int64
	NewMaxValue  int64
	Changed      bool
}

// Report is the change_step operation's output.
type Report struct {
	Preview        bool
	Diffs          []SegmentDiff
	ChangedCount   int
	SkippedCount   int
}

// Service executes the step-size change protocol against the shared
// store, invalidating local buffers for anything it actually changes.
type Service struct {
	store       store.SegmentStore
	invalidator BufferInvalidator
	logger      *zap.Logger
}

// NewService constructs a step-size change service.
func NewService(st store.SegmentStore, invalidator BufferInvalidator, logger *zap.Logger) *Service {
	return &Service{store: st, invalidator: invalidator, logger: logger}
}

// ChangeStep lists affected segments, diffs their step against the
// requested value, and — unless Preview is set — atomically applies the
// change and invalidates the corresponding local buffer (§4.7). The
// protocol is idempotent: re-running with the same NewStepSize is a no-op
// for already-matching segments.
func (s *Service) ChangeStep(ctx context.Context, req Request) (*Report, error) {
	if req.NewStepSize <= 0 {
		return nil, fmt.Errorf("stepsize: new_step_size must be > 0")
	}

	segs, err := s.store.ListSegments(ctx, req.BusinessType, req.TimeKey)
	if err != nil {
		return nil, fmt.Errorf("stepsize: list segments: %w", err)
	}

	report := &Report{Preview: req.Preview}

	for _, seg := range segs {
		diff := SegmentDiff{
			BusinessType: seg.BusinessType,
			TimeKey:      seg.TimeKey,
			Role:         seg.Role,
			OldStepSize:  seg.StepSize,
			NewStepSize:  req.NewStepSize,
			OldMaxValue:  seg.MaxValue,
		}

		if seg.StepSize == req.NewStepSize {
			diff.Changed = false
			diff.NewMaxValue = seg.MaxValue
			report.SkippedCount++
			report.Diffs = append(report.Diffs, diff)
			continue
		}

		diff.Changed = true
		report.ChangedCount++

		if req.Preview {
			diff.NewMaxValue = seg.MaxValue
			report.Diffs = append(report.Diffs, diff)
			continue
		}

		newMax, err := s.nextMaxUnderNewStep(ctx, seg.BusinessType, seg.TimeKey, seg.Role, req.NewStepSize)
		if err != nil {
			return nil, fmt.Errorf("stepsize: compute new max for %s/%s/%s: %w",
				seg.BusinessType, seg.TimeKey, seg.Role, err)
		}
		rows, err := s.store.SetMaxValueAndStep(ctx, seg.BusinessType, seg.TimeKey, seg.Role, newMax, req.NewStepSize)
		if err != nil {
			return nil, fmt.Errorf("stepsize: apply change for %s/%s/%s: %w",
				seg.BusinessType, seg.TimeKey, seg.Role, err)
		}
		if rows == 0 {
			s.logger.Warn("stepsize: concurrent update raced step change, skipping invalidation",
				zap.String("business_type", seg.BusinessType), zap.String("time_key", seg.TimeKey))
			diff.Changed = false
			report.ChangedCount--
			report.SkippedCount++
			diff.NewMaxValue = seg.MaxValue
			report.Diffs = append(report.Diffs, diff)
			continue
		}

		diff.NewMaxValue = newMax
		report.Diffs = append(report.Diffs, diff)

		s.invalidator.InvalidateBuffer(seg.BusinessType, seg.TimeKey, seg.Role)
	}

	return report, nil
}

// StepSizeInfo is one row of the current-step-sizes distribution report.
type StepSizeInfo struct {
	BusinessType string
	TimeKey      string
	Role         model.Role
	StepSize     int32
	MaxValue     int64
}

// CurrentStepSizes returns the current step size distribution (§6 "Get
// current step sizes"). An empty business restricts to no business
// filter, in which case every business type on file is reported.
func (s *Service) CurrentStepSizes(ctx context.Context, business string) ([]StepSizeInfo, error) {
	businesses := []string{business}
	if business == "" {
		all, err := s.store.ListDistinctBusinessTypes(ctx)
		if err != nil {
			return nil, fmt.Errorf("stepsize: list business types: %w", err)
		}
		businesses = all
	}

	var out []StepSizeInfo
	for _, b := range businesses {
		segs, err := s.store.ListSegments(ctx, b, nil)
		if err != nil {
			return nil, fmt.Errorf("stepsize: list segments for %s: %w", b, err)
		}
		for _, seg := range segs {
			out = append(out, StepSizeInfo{
				BusinessType: seg.BusinessType,
				TimeKey:      seg.TimeKey,
				Role:         seg.Role,
				StepSize:     seg.StepSize,
				MaxValue:     seg.MaxValue,
			})
		}
	}
	return out, nil
}

// nextMaxUnderNewStep recomputes max_value under the new step the same way
// allocator.NextInterval computes an ordinary refill: from the global max
// across both roles, with the candidate interval index corrected for
// role parity. A role-local-only computation (ignoring the peer's max and
// its parity) can land on an index the role doesn't own, which makes the
// segment's very next ordinary refill fail allocator.IntervalStart's parity
// check (§4.4, §4.7).
func (s *Service) nextMaxUnderNewStep(ctx context.Context, business, timeKey string, role model.Role, newStep int32) (int64, error) {
	evenSeg, err := s.store.GetSegment(ctx, business, timeKey, model.RoleEven)
	if err != nil && err != store.ErrNotFound {
		return 0, fmt.Errorf("get even segment: %w", err)
	}
	oddSeg, err := s.store.GetSegment(ctx, business, timeKey, model.RoleOdd)
	if err != nil && err != store.ErrNotFound {
		return 0, fmt.Errorf("get odd segment: %w", err)
	}

	var evenMax, oddMax int64
	if evenSeg != nil {
		evenMax = evenSeg.MaxValue
	}
	if oddSeg != nil {
		oddMax = oddSeg.MaxValue
	}

	_, newMax := allocator.NextInterval(evenMax, oddMax, newStep, role)
	return newMax, nil
}
