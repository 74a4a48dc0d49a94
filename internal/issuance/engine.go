// Package issuance implements the issuance engine (C5): the per-request
// Generate operation, synchronous refill on exhaustion, asynchronous
// prefetch above a utilisation threshold, and the buffer-host side of
// failover take-over/abandon.
//
// Grounded on original_source's IdGeneratorService.generateId /
// refreshSegmentBuffer / asyncRefresh, translated to explicit buffer
// ownership plus a bounded errgroup worker pool for the async path instead
// of a thread-pool Executor.
package issuance

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/magicliang/distributed-sequence/internal/allocator"
	"github.com/magicliang/distributed-sequence/internal/buffer"
	"github.com/magicliang/distributed-sequence/internal/failover"
	"github.com/magicliang/distributed-sequence/internal/model"
	"github.com/magicliang/distributed-sequence/internal/registry"
	"github.com/magicliang/distributed-sequence/internal/routing"
	"github.com/magicliang/distributed-sequence/internal/store"
)

// DefaultStepSize is used for a (business, time) pair's first-ever segment
// when the caller supplies no custom step.
const DefaultStepSize int32 = 1000

// DefaultPrefetchThreshold triggers an async prefetch once a buffer's
// utilisation crosses this fraction (§4.5.2).
const DefaultPrefetchThreshold = 0.1

// DefaultPrefetchDeadline bounds how long an async prefetch may run before
// it is abandoned.
const DefaultPrefetchDeadline = 5 * time.Second

// bufferEntry wraps a buffer with the bookkeeping the engine needs beyond
// what the buffer itself tracks: whether it exists only because this node
// took over the peer role's traffic during a failover (§4.6).
type bufferEntry struct {
	buf     *buffer.Buffer
	isProxy bool
}

type bufferKey struct {
	business string
	timeKey  string
	role     model.Role
}

// Engine is the issuance core. One Engine instance serves one process.
type Engine struct {
	store    store.SegmentStore
	selector *failover.RoleSelector
	registry *registry.Registry
	logger   *zap.Logger

	mu      keyedMutex // guards lazy buffer creation per bufferKey string
	buffers syncBufferMap

	refillLocks keyedMutex // guards refill per bufferKey string

	defaultStepSize   int32
	prefetchGroup     *errgroup.Group
	prefetchThreshold float64
	prefetchDeadline  time.Duration
}

// Config bundles the operator-tunable parameters of the issuance engine
// (§6 Configuration); zero values fall back to the package defaults.
type Config struct {
	DefaultStepSize     int32
	PrefetchThreshold   float64
	PrefetchDeadline    time.Duration
	PrefetchConcurrency int
}

// NewEngine constructs an issuance engine from cfg. cfg.PrefetchConcurrency
// bounds the number of async prefetches that may run at once across all
// buffers.
func NewEngine(st store.SegmentStore, selector *failover.RoleSelector, reg *registry.Registry, logger *zap.Logger, cfg Config) *Engine {
	defaultStepSize := cfg.DefaultStepSize
	if defaultStepSize <= 0 {
		defaultStepSize = DefaultStepSize
	}
	prefetchThreshold := cfg.PrefetchThreshold
	if prefetchThreshold <= 0 {
		prefetchThreshold = DefaultPrefetchThreshold
	}
	prefetchDeadline := cfg.PrefetchDeadline
	if prefetchDeadline <= 0 {
		prefetchDeadline = DefaultPrefetchDeadline
	}
	prefetchConcurrency := cfg.PrefetchConcurrency
	if prefetchConcurrency <= 0 {
		prefetchConcurrency = 1
	}

	g := &errgroup.Group{}
	g.SetLimit(prefetchConcurrency)
	return &Engine{
		store:             st,
		selector:          selector,
		registry:          reg,
		logger:            logger,
		mu:                *newKeyedMutex(),
		buffers:           newSyncBufferMap(),
		refillLocks:       *newKeyedMutex(),
		defaultStepSize:   defaultStepSize,
		prefetchGroup:     g,
		prefetchThreshold: prefetchThreshold,
		prefetchDeadline:  prefetchDeadline,
	}
}

// Generate issues Count sequential IDs for the request, creating and
// refilling buffers as needed (§4.5, §6).
func (e *Engine) Generate(ctx context.Context, req Request) (*Result, error) {
	if err := validate(req); err != nil {
		return nil, err
	}

	timeKey := today()
	if req.TimeKey != nil && *req.TimeKey != "" {
		timeKey = *req.TimeKey
	}

	step := e.defaultStepSize
	if req.CustomStepSize != nil && *req.CustomStepSize > 0 {
		step = *req.CustomStepSize
	}

	role, err := e.selector.SelectRole(ctx, req.BusinessType, timeKey, req.ForcedRole)
	if err != nil {
		return nil, fmt.Errorf("issuance: select role: %w", err)
	}

	entry, err := e.getOrCreateBuffer(ctx, req.BusinessType, timeKey, role, step, false)
	if err != nil {
		return nil, err
	}

	ids := make([]int64, 0, req.Count)
	for len(ids) < req.Count {
		id := entry.buf.Take()
		if id == buffer.Exhausted {
			if err := e.refill(ctx, req.BusinessType, timeKey, role, entry.buf); err != nil {
				return nil, err
			}
			continue
		}
		ids = append(ids, id)

		if entry.buf.Utilisation() >= e.prefetchThreshold {
			e.schedulePrefetch(req.BusinessType, timeKey, role, entry.buf)
		}
	}

	result := &Result{
		IDs:          ids,
		BusinessType: req.BusinessType,
		TimeKey:      timeKey,
		Role:         role,
		NodeID:       e.registry.NodeID(),
		TimestampMs:  time.Now().UnixMilli(),
	}

	if req.IncludeRouting && len(ids) > 0 {
		hint := routing.Compute(ids[0], req.ShardDBCount, req.ShardTableCount)
		result.Routing = &hint
	}

	return result, nil
}

func validate(req Request) error {
	if req.BusinessType == "" {
		return &ValidationError{Msg: "business_type must not be empty"}
	}
	if req.Count < 1 {
		return &ValidationError{Msg: "count must be >= 1"}
	}
	if req.CustomStepSize != nil && *req.CustomStepSize <= 0 {
		return &ValidationError{Msg: "step_size must be > 0"}
	}
	if req.ForcedRole != nil && *req.ForcedRole != model.RoleEven && *req.ForcedRole != model.RoleOdd {
		return &ValidationError{Msg: "forced role must be 0 (even) or 1 (odd)"}
	}
	if req.IncludeRouting && req.ShardDBCount <= 0 {
		return &ValidationError{Msg: "shard_db_count must be > 0 when routing is requested"}
	}
	return nil
}

// getOrCreateBuffer returns the buffer for (business, timeKey, role),
// lazily creating its backing segment if this is the first request ever
// seen for that key. A segment absent before this call yields a buffer
// that issues from the start of its initial interval; a segment already on
// file yields an already exhausted buffer, so its first Take() goes through
// the refill protocol. isProxy marks a buffer created by a take-over rather
// than by normal traffic.
func (e *Engine) getOrCreateBuffer(ctx context.Context, business, timeKey string, role model.Role, step int32, isProxy bool) (*bufferEntry, error) {
	key := bufferKey{business: business, timeKey: timeKey, role: role}

	if entry, ok := e.buffers.get(key); ok {
		return entry, nil
	}

	lock := e.mu.get(keyString(key))
	lock.Lock()
	defer lock.Unlock()

	if entry, ok := e.buffers.get(key); ok {
		return entry, nil
	}

	seg, err := e.store.GetSegment(ctx, business, timeKey, role)
	created := false
	switch {
	case err == store.ErrNotFound:
		created = true
		initialMax := allocator.InitialMaxValue(role, step)
		if cerr := e.store.CreateSegment(ctx, business, timeKey, role, initialMax, step); cerr != nil && cerr != store.ErrAlreadyExists {
			return nil, fmt.Errorf("issuance: create segment: %w", cerr)
		}
		seg, err = e.store.GetSegment(ctx, business, timeKey, role)
		if err != nil {
			return nil, fmt.Errorf("issuance: reload segment after create: %w", err)
		}
	case err != nil:
		return nil, fmt.Errorf("issuance: get segment: %w", err)
	}

	start, serr := allocator.IntervalStart(seg.MaxValue, seg.StepSize, role)
	if serr != nil {
		return nil, serr
	}

	// The interval of a segment already on file may have been issued from
	// before (by this node before a restart or an abandon, or by the peer),
	// so its buffer starts exhausted and the first Take() refills it to a
	// fresh interval above the global max.
	if !created {
		start = seg.MaxValue + 1
	}
	buf := buffer.New(start, seg.MaxValue, role)
	entry := &bufferEntry{buf: buf, isProxy: isProxy}
	e.buffers.set(key, entry)
	return entry, nil
}

// refill executes the synchronous refill protocol (§4.5.1): acquire the
// per-key refill lock, double-check the buffer is still exhausted (another
// goroutine may have beaten us to it), compute and persist the next
// interval from the global max, then install it.
func (e *Engine) refill(ctx context.Context, business, timeKey string, role model.Role, buf *buffer.Buffer) error {
	key := bufferKey{business: business, timeKey: timeKey, role: role}
	lock := e.refillLocks.get(keyString(key))
	lock.Lock()
	defer lock.Unlock()

	if !buf.IsExhausted() {
		return nil
	}

	return e.doRefill(ctx, business, timeKey, role, buf)
}

func (e *Engine) doRefill(ctx context.Context, business, timeKey string, role model.Role, buf *buffer.Buffer) error {
	evenSeg, err := e.store.GetSegment(ctx, business, timeKey, model.RoleEven)
	if err != nil && err != store.ErrNotFound {
		return fmt.Errorf("issuance: refill get even segment: %w", err)
	}
	oddSeg, err := e.store.GetSegment(ctx, business, timeKey, model.RoleOdd)
	if err != nil && err != store.ErrNotFound {
		return fmt.Errorf("issuance: refill get odd segment: %w", err)
	}

	var evenMax int64
	var oddMax int64
	step := DefaultStepSize
	if evenSeg != nil {
		evenMax = evenSeg.MaxValue
		step = evenSeg.StepSize
	}
	if oddSeg != nil {
		oddMax = oddSeg.MaxValue
		step = oddSeg.StepSize
	}

	ownSeg := evenSeg
	if role == model.RoleOdd {
		ownSeg = oddSeg
	}
	if ownSeg == nil {
		return fmt.Errorf("issuance: refill: own segment missing for role %s", role)
	}

	start, newMax := allocator.NextInterval(evenMax, oddMax, step, role)

	rows, err := e.store.SetMaxValue(ctx, business, timeKey, role, newMax)
	if err != nil {
		return fmt.Errorf("issuance: refill set max_value: %w", err)
	}
	if rows == 0 {
		return ErrSegmentRace
	}

	buf.Install(start, newMax)
	e.logger.Debug("buffer refilled",
		zap.String("business_type", business),
		zap.String("time_key", timeKey),
		zap.String("role", role.String()),
		zap.Int64("start", start),
		zap.Int64("end", newMax))
	return nil
}

// schedulePrefetch fires an async refill once a buffer crosses the
// prefetch threshold (§4.5.2), bounded by prefetchDeadline and by the
// engine's bounded worker pool. It never blocks the calling request.
func (e *Engine) schedulePrefetch(business, timeKey string, role model.Role, buf *buffer.Buffer) {
	key := bufferKey{business: business, timeKey: timeKey, role: role}
	if !buf.TryMarkRefresh() {
		return
	}

	go func() {
		e.prefetchGroup.Go(func() error {
			ctx, cancel := context.WithTimeout(context.Background(), e.prefetchDeadline)
			defer cancel()

			lock := e.refillLocks.get(keyString(key))
			lock.Lock()
			defer lock.Unlock()

			if err := e.doRefill(ctx, business, timeKey, role, buf); err != nil {
				e.logger.Warn("async prefetch failed",
					zap.String("business_type", business),
					zap.String("time_key", timeKey),
					zap.String("role", role.String()),
					zap.Error(err))
				buf.ClearRefresh()
			}
			return nil
		})
	}()
}

func keyString(k bufferKey) string {
	return k.business + "|" + k.timeKey + "|" + strconv.Itoa(int(k.role))
}

func today() string {
	return time.Now().Format("2006-01-02")
}
