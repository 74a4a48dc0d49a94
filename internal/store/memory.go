package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/magicliang/distributed-sequence/internal/model"
)

type segmentKey struct {
	business string
	timeKey  string
	role     model.Role
}

// MemoryStore is an in-memory Store implementation for tests and for the
// bootstrap_test-style integration tests, adapted from the teacher's
// mutex+map in-memory cache (store/memory_cache.go).
type MemoryStore struct {
	mu       sync.Mutex
	segments map[segmentKey]*model.Segment
	nodes    map[string]*model.Node
}

// NewMemoryStore constructs an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		segments: make(map[segmentKey]*model.Segment),
		nodes:    make(map[string]*model.Node),
	}
}

func (s *MemoryStore) Ping(ctx context.Context) error { return nil }
func (s *MemoryStore) Close()                         {}

func (s *MemoryStore) GetSegment(ctx context.Context, business, timeKey string, role model.Role) (*model.Segment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	seg, ok := s.segments[segmentKey{business, timeKey, role}]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *seg
	return &cp, nil
}

func (s *MemoryStore) CreateSegment(ctx context.Context, business, timeKey string, role model.Role, initialMax int64, step int32) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := segmentKey{business, timeKey, role}
	if _, exists := s.segments[key]; exists {
		return nil
	}
	s.segments[key] = &model.Segment{
		BusinessType: business,
		TimeKey:      timeKey,
		Role:         role,
		MaxValue:     initialMax,
		StepSize:     step,
		UpdatedAt:    time.Now(),
	}
	return nil
}

func (s *MemoryStore) SetMaxValue(ctx context.Context, business, timeKey string, role model.Role, newMax int64) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	seg, ok := s.segments[segmentKey{business, timeKey, role}]
	if !ok {
		return 0, nil
	}
	seg.MaxValue = newMax
	seg.UpdatedAt = time.Now()
	return 1, nil
}

func (s *MemoryStore) SetMaxValueAndStep(ctx context.Context, business, timeKey string, role model.Role, newMax int64, newStep int32) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	seg, ok := s.segments[segmentKey{business, timeKey, role}]
	if !ok {
		return 0, nil
	}
	seg.MaxValue = newMax
	seg.StepSize = newStep
	seg.UpdatedAt = time.Now()
	return 1, nil
}

func (s *MemoryStore) ListSegments(ctx context.Context, business string, timeKey *string) ([]*model.Segment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []*model.Segment
	for k, seg := range s.segments {
		if k.business != business {
			continue
		}
		if timeKey != nil && k.timeKey != *timeKey {
			continue
		}
		cp := *seg
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].TimeKey != out[j].TimeKey {
			return out[i].TimeKey < out[j].TimeKey
		}
		return out[i].Role < out[j].Role
	})
	return out, nil
}

func (s *MemoryStore) ListRoles(ctx context.Context, role model.Role) ([]*model.Segment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []*model.Segment
	for k, seg := range s.segments {
		if k.role != role {
			continue
		}
		cp := *seg
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].BusinessType != out[j].BusinessType {
			return out[i].BusinessType < out[j].BusinessType
		}
		return out[i].TimeKey < out[j].TimeKey
	})
	return out, nil
}

func (s *MemoryStore) ListDistinctBusinessTypes(ctx context.Context) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	seen := make(map[string]struct{})
	for k := range s.segments {
		seen[k.business] = struct{}{}
	}
	out := make([]string, 0, len(seen))
	for bt := range seen {
		out = append(out, bt)
	}
	sort.Strings(out)
	return out, nil
}

func (s *MemoryStore) DeleteWhereTimeKeyLT(ctx context.Context, cutoff string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var count int64
	for k := range s.segments {
		if k.timeKey < cutoff {
			delete(s.segments, k)
			count++
		}
	}
	return count, nil
}

func (s *MemoryStore) SumMaxValue(ctx context.Context, role model.Role) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var sum int64
	for k, seg := range s.segments {
		if k.role == role {
			sum += seg.MaxValue
		}
	}
	return sum, nil
}

func (s *MemoryStore) Register(ctx context.Context, nodeID string, role model.Role) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.nodes[nodeID] = &model.Node{
		NodeID:        nodeID,
		Role:          role,
		Status:        model.NodeOnline,
		LastHeartbeat: time.Now(),
	}
	return nil
}

func (s *MemoryStore) Beat(ctx context.Context, nodeID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	n, ok := s.nodes[nodeID]
	if !ok {
		return ErrNotFound
	}
	n.LastHeartbeat = time.Now()
	n.Status = model.NodeOnline
	return nil
}

func (s *MemoryStore) GetNode(ctx context.Context, nodeID string) (*model.Node, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	n, ok := s.nodes[nodeID]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *n
	return &cp, nil
}

func (s *MemoryStore) PeerOnline(ctx context.Context, peerRole model.Role) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, n := range s.nodes {
		if n.Role == peerRole && n.Status == model.NodeOnline {
			return true, nil
		}
	}
	return false, nil
}

func (s *MemoryStore) SweepStale(ctx context.Context, threshold time.Duration) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var count int64
	cutoff := time.Now().Add(-threshold)
	for _, n := range s.nodes {
		if n.Status == model.NodeOnline && n.LastHeartbeat.Before(cutoff) {
			n.Status = model.NodeOffline
			count++
		}
	}
	return count, nil
}
