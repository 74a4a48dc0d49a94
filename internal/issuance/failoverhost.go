package issuance

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/magicliang/distributed-sequence/internal/buffer"
	"github.com/magicliang/distributed-sequence/internal/model"
)

// TakeOverProxy creates a proxy buffer for every (business_type, time_key)
// segment currently on file for peerRole, so this node can keep serving
// that role's traffic while its owner is unreachable (§4.6). Each proxy
// buffer is installed already exhausted: its first Take() forces the
// normal refill protocol, which reads the fresh global max from the store,
// guaranteeing no overlap with whatever interval the lost peer's in-process
// cursor may still have held unissued. Implements failover.BufferHost.
func (e *Engine) TakeOverProxy(ctx context.Context, peerRole model.Role) (int, error) {
	segs, err := e.store.ListRoles(ctx, peerRole)
	if err != nil {
		return 0, fmt.Errorf("issuance: take-over: list peer segments: %w", err)
	}

	created := 0
	for _, seg := range segs {
		key := bufferKey{business: seg.BusinessType, timeKey: seg.TimeKey, role: peerRole}
		if _, ok := e.buffers.get(key); ok {
			continue
		}
		buf := buffer.New(seg.MaxValue+1, seg.MaxValue, peerRole)
		e.buffers.set(key, &bufferEntry{buf: buf, isProxy: true})
		created++
	}

	e.logger.Info("take-over proxy buffers installed",
		zap.String("peer_role", peerRole.String()), zap.Int("count", created))
	return created, nil
}

// Abandon drops every proxy buffer for peerRole and, separately, every
// one of this node's own (non-proxy) buffers, forcing the next request for
// any key this node owns to re-read its segment from the store. Mirrors
// simpleAbandonProxyShards() plus ensureRecoveredNodeGetsNewSegment(): the
// returning peer's own in-memory state is authoritative again, and this
// node's own cached buffers may be stale from having served as a proxy, so
// both are cleared rather than just the proxy half (§4.6 simple-abandon: no
// handoff of unused IDs, wasted ids accepted).
// Implements failover.BufferHost.
func (e *Engine) Abandon(peerRole model.Role) int {
	ownRole := e.registry.Role()
	dropped := 0
	for key, entry := range e.buffers.snapshot() {
		if entry.isProxy && key.role == peerRole {
			e.buffers.delete(key)
			dropped++
			continue
		}
		if !entry.isProxy && key.role == ownRole {
			e.buffers.delete(key)
			dropped++
		}
	}
	return dropped
}

// ProxyBufferCount reports how many proxy buffers are currently held, for
// status reporting.
func (e *Engine) ProxyBufferCount() int {
	n := 0
	for _, entry := range e.buffers.snapshot() {
		if entry.isProxy {
			n++
		}
	}
	return n
}

// InvalidateBuffer drops the cached buffer for (business, timeKey, role)
// so the next request re-reads the segment from the store. Used by the
// step-size change protocol after it applies a change (§4.7), and
// implements stepsize.BufferInvalidator.
func (e *Engine) InvalidateBuffer(business, timeKey string, role model.Role) {
	e.buffers.delete(bufferKey{business: business, timeKey: timeKey, role: role})
}
