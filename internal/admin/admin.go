// Package admin implements the operator-facing administrative surface
// described in SPEC_FULL.md §6: server status, stuck-refresh recovery,
// corrupt-segment conflict resolution, and expired-segment cleanup. It is
// a thin composition layer over the core components, grounded on the
// teacher's cleanup_service.go-style "scan, report, optionally repair"
// admin operations.
package admin

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/magicliang/distributed-sequence/internal/allocator"
	"github.com/magicliang/distributed-sequence/internal/failover"
	"github.com/magicliang/distributed-sequence/internal/issuance"
	"github.com/magicliang/distributed-sequence/internal/model"
	"github.com/magicliang/distributed-sequence/internal/registry"
	"github.com/magicliang/distributed-sequence/internal/store"
)

// StatusReport is the server status admin operation's response (§6).
type StatusReport struct {
	NodeID               string          `json:"node_id"`
	Role                 string          `json:"role"`
	BufferCount          int             `json:"buffer_count"`
	PeerCounts           map[string]bool `json:"peer_counts"`
	InFailoverMode       bool            `json:"in_failover_mode"`
	ProxyBufferCount     int             `json:"proxy_buffer_count"`
	RefreshStatusSummary map[string]bool `json:"refresh_status_summary"`
	LoadBalanceInfo      map[string]int64 `json:"load_balance_info"`
}

// ConflictReport is the resolve-conflicts admin operation's response.
type ConflictReport struct {
	ScannedCount int               `json:"scanned_count"`
	AffectedKeys []string          `json:"affected_keys"`
	Count        int               `json:"count"`
}

// Service composes the core components behind the admin HTTP surface.
type Service struct {
	store      store.SegmentStore
	registry   *registry.Registry
	engine     *issuance.Engine
	controller *failover.Controller
	logger     *zap.Logger
}

// NewService constructs the admin service.
func NewService(st store.SegmentStore, reg *registry.Registry, engine *issuance.Engine, controller *failover.Controller, logger *zap.Logger) *Service {
	return &Service{store: st, registry: reg, engine: engine, controller: controller, logger: logger}
}

// Status assembles the server status report (§6).
func (s *Service) Status(ctx context.Context) (*StatusReport, error) {
	evenOnline, err := s.registry.RoleOnline(ctx, model.RoleEven)
	if err != nil {
		return nil, fmt.Errorf("admin: status: even liveness: %w", err)
	}
	oddOnline, err := s.registry.RoleOnline(ctx, model.RoleOdd)
	if err != nil {
		return nil, fmt.Errorf("admin: status: odd liveness: %w", err)
	}

	evenSum, err := s.store.SumMaxValue(ctx, model.RoleEven)
	if err != nil {
		return nil, fmt.Errorf("admin: status: even load: %w", err)
	}
	oddSum, err := s.store.SumMaxValue(ctx, model.RoleOdd)
	if err != nil {
		return nil, fmt.Errorf("admin: status: odd load: %w", err)
	}

	return &StatusReport{
		NodeID:      s.registry.NodeID(),
		Role:        s.registry.Role().String(),
		BufferCount: s.engine.BufferCount(),
		PeerCounts: map[string]bool{
			model.RoleEven.String(): evenOnline,
			model.RoleOdd.String():  oddOnline,
		},
		InFailoverMode:       s.controller.ProxyActive(),
		ProxyBufferCount:     s.engine.ProxyBufferCount(),
		RefreshStatusSummary: s.engine.RefreshStatusSummary(),
		LoadBalanceInfo: map[string]int64{
			model.RoleEven.String(): evenSum,
			model.RoleOdd.String():  oddSum,
		},
	}, nil
}

// RecoverRefresh force-clears any stuck refresh flags and returns the
// buffer keys it reset.
func (s *Service) RecoverRefresh(refreshTimeout time.Duration) []string {
	recovered := s.engine.RecoverStuckRefreshes(refreshTimeout)
	if len(recovered) > 0 {
		s.logger.Info("recovered stuck refresh flags", zap.Int("count", len(recovered)))
	}
	return recovered
}

// ResolveConflicts scans every stored segment for a parity mismatch
// between its max_value and its recorded role (§7 "Corrupt segment") and
// reports the affected keys. A mismatch means the record was written by a
// bug or a manual edit; this operation only reports, it does not attempt
// an automatic repair, since any repair choice risks colliding with IDs
// already issued from the corrupt interval.
func (s *Service) ResolveConflicts(ctx context.Context) (*ConflictReport, error) {
	businesses, err := s.store.ListDistinctBusinessTypes(ctx)
	if err != nil {
		return nil, fmt.Errorf("admin: resolve conflicts: list business types: %w", err)
	}

	report := &ConflictReport{}
	for _, business := range businesses {
		segs, err := s.store.ListSegments(ctx, business, nil)
		if err != nil {
			return nil, fmt.Errorf("admin: resolve conflicts: list segments for %s: %w", business, err)
		}
		for _, seg := range segs {
			report.ScannedCount++
			if _, err := allocator.IntervalStart(seg.MaxValue, seg.StepSize, seg.Role); err != nil {
				key := fmt.Sprintf("%s|%s|%s", seg.BusinessType, seg.TimeKey, seg.Role)
				report.AffectedKeys = append(report.AffectedKeys, key)
				s.logger.Error("corrupt segment detected",
					zap.String("business_type", seg.BusinessType),
					zap.String("time_key", seg.TimeKey),
					zap.String("role", seg.Role.String()),
					zap.Int64("max_value", seg.MaxValue))
			}
		}
	}
	report.Count = len(report.AffectedKeys)
	return report, nil
}

// ExpireSegments deletes segment records with time_key < cutoff.
func (s *Service) ExpireSegments(ctx context.Context, cutoff string) (int64, error) {
	return s.store.DeleteWhereTimeKeyLT(ctx, cutoff)
}
