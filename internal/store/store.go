// Package store defines the segment/node store adapter (C1): the set of
// atomic operations the issuance core requires from the relational store,
// plus a PostgreSQL implementation and an in-memory double for tests.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/magicliang/distributed-sequence/internal/model"
)

// ErrNotFound is returned when a segment or node lookup has no match.
var ErrNotFound = errors.New("store: not found")

// ErrAlreadyExists reports that the unique (business_type, time_key, role)
// constraint is already satisfied. MemoryStore and PostgresStore do not
// return it: their CreateSegment treats a conflicting insert as a no-op and
// returns nil.
var ErrAlreadyExists = errors.New("store: already exists")

// SegmentStore is the set of atomic operations the issuance core performs
// against the segments table (C1). Every operation either succeeds fully or
// leaves the store unchanged.
type SegmentStore interface {
	GetSegment(ctx context.Context, business, timeKey string, role model.Role) (*model.Segment, error)
	CreateSegment(ctx context.Context, business, timeKey string, role model.Role, initialMax int64, step int32) error
	SetMaxValue(ctx context.Context, business, timeKey string, role model.Role, newMax int64) (int64, error)
	SetMaxValueAndStep(ctx context.Context, business, timeKey string, role model.Role, newMax int64, newStep int32) (int64, error)
	ListSegments(ctx context.Context, business string, timeKey *string) ([]*model.Segment, error)
	ListRoles(ctx context.Context, role model.Role) ([]*model.Segment, error)
	ListDistinctBusinessTypes(ctx context.Context) ([]string, error)
	DeleteWhereTimeKeyLT(ctx context.Context, cutoff string) (int64, error)
	SumMaxValue(ctx context.Context, role model.Role) (int64, error)
}

// NodeStore is the set of atomic operations the issuance core performs
// against the nodes table (C2).
type NodeStore interface {
	Register(ctx context.Context, nodeID string, role model.Role) error
	Beat(ctx context.Context, nodeID string) error
	GetNode(ctx context.Context, nodeID string) (*model.Node, error)
	PeerOnline(ctx context.Context, peerRole model.Role) (bool, error)
	SweepStale(ctx context.Context, threshold time.Duration) (int64, error)
}

// Store combines the segment and node adapters; it is the full dependency
// the issuance core needs from the relational store.
type Store interface {
	SegmentStore
	NodeStore
	Ping(ctx context.Context) error
	Close()
}
