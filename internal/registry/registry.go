// Package registry implements the node registry & heartbeat component
// (C2): self-registration on start, periodic heartbeat, and the peer
// liveness view the failover controller and issuance engine consult on
// every request.
//
// Grounded on the teacher's store.MetadataStore node operations
// (AddStorageNode/UpdateStorageNodeStatus, adapted from storage-node
// bookkeeping to heartbeat bookkeeping) and its background-ticker-goroutine
// style in store/memory_cache.go's cleanup loop.
package registry

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/magicliang/distributed-sequence/internal/model"
	"github.com/magicliang/distributed-sequence/internal/store"
)

// Registry owns this node's identity and drives its heartbeat loop
// against the shared store.
type Registry struct {
	store     store.NodeStore
	nodeID    string
	role      model.Role
	logger    *zap.Logger
	peerCache *PeerCache // optional; nil when Redis is not configured

	ticker *time.Ticker
	stop   chan struct{}
	done   chan struct{}
}

// New constructs a registry for this node. Call Register before Start.
func New(st store.NodeStore, nodeID string, role model.Role, logger *zap.Logger) *Registry {
	return &Registry{
		store:  st,
		nodeID: nodeID,
		role:   role,
		logger: logger,
	}
}

// WithPeerCache attaches an optional Redis-backed peer-liveness cache.
func (r *Registry) WithPeerCache(c *PeerCache) *Registry {
	r.peerCache = c
	return r
}

// Register upserts this node's record as Online, stamping its heartbeat.
// Called once on startup (§4.2).
func (r *Registry) Register(ctx context.Context) error {
	if err := r.store.Register(ctx, r.nodeID, r.role); err != nil {
		return err
	}
	r.logger.Info("node registered", zap.String("node_id", r.nodeID), zap.String("role", r.role.String()))
	return nil
}

// Start begins the periodic heartbeat loop on the given interval
// (spec recommends >= ~30s).
func (r *Registry) Start(interval time.Duration) {
	r.ticker = time.NewTicker(interval)
	r.stop = make(chan struct{})
	r.done = make(chan struct{})

	go func() {
		defer close(r.done)
		for {
			select {
			case <-r.ticker.C:
				ctx, cancel := context.WithTimeout(context.Background(), interval)
				if err := r.store.Beat(ctx, r.nodeID); err != nil {
					r.logger.Warn("heartbeat failed, will retry next tick",
						zap.String("node_id", r.nodeID), zap.Error(err))
				}
				cancel()
			case <-r.stop:
				return
			}
		}
	}()
}

// Stop halts the heartbeat loop and waits for it to exit.
func (r *Registry) Stop() {
	if r.ticker == nil {
		return
	}
	r.ticker.Stop()
	close(r.stop)
	<-r.done
}

// PeerOnline reports whether the opposite role currently has an Online
// node record.
func (r *Registry) PeerOnline(ctx context.Context) (bool, error) {
	return r.RoleOnline(ctx, r.role.Opposite())
}

// RoleOnline reports whether the given role currently has an Online node
// record. Consults the optional Redis cache first; on a miss (or when no
// cache is configured) it falls back to the store of record and
// repopulates the cache.
func (r *Registry) RoleOnline(ctx context.Context, role model.Role) (bool, error) {
	if r.peerCache != nil {
		if online, hit := r.peerCache.Get(ctx, role); hit {
			return online, nil
		}
	}

	online, err := r.store.PeerOnline(ctx, role)
	if err != nil {
		return false, err
	}

	if r.peerCache != nil {
		r.peerCache.Set(ctx, role, online)
	}
	return online, nil
}

// SweepStale marks nodes whose heartbeat predates threshold as Offline.
// Heartbeat loss is what drives failover (§4.2); there is no leader
// election, the protocol is symmetric.
func (r *Registry) SweepStale(ctx context.Context, threshold time.Duration) (int64, error) {
	return r.store.SweepStale(ctx, threshold)
}

// NodeID returns this node's identity string.
func (r *Registry) NodeID() string { return r.nodeID }

// Role returns this node's own role.
func (r *Registry) Role() model.Role { return r.role }
