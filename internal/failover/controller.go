package failover

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/magicliang/distributed-sequence/internal/model"
	"github.com/magicliang/distributed-sequence/internal/registry"
)

// DefaultScanInterval is how often the controller checks peer liveness.
const DefaultScanInterval = 30 * time.Second

// BufferHost is the subset of the issuance engine the failover controller
// drives. Defined here rather than in package issuance so issuance can
// depend on failover for role selection without creating an import cycle;
// *issuance.Engine satisfies this interface structurally.
type BufferHost interface {
	TakeOverProxy(ctx context.Context, peerRole model.Role) (int, error)
	Abandon(peerRole model.Role) int
}

// Controller runs the periodic take-over/abandon loop (§4.6, §4.7). It
// holds no leader-election state: both nodes run an identical controller,
// and the protocol is symmetric.
type Controller struct {
	registry *registry.Registry
	host     BufferHost
	logger   *zap.Logger

	scanInterval time.Duration
	ticker       *time.Ticker
	stop         chan struct{}
	done         chan struct{}

	proxyActive bool
}

// NewController constructs a failover controller bound to this node's
// registry and buffer host. scanInterval <= 0 falls back to
// DefaultScanInterval.
func NewController(reg *registry.Registry, host BufferHost, logger *zap.Logger, scanInterval time.Duration) *Controller {
	if scanInterval <= 0 {
		scanInterval = DefaultScanInterval
	}
	return &Controller{
		registry:     reg,
		host:         host,
		logger:       logger,
		scanInterval: scanInterval,
	}
}

// Start begins the periodic liveness scan.
func (c *Controller) Start() {
	c.ticker = time.NewTicker(c.scanInterval)
	c.stop = make(chan struct{})
	c.done = make(chan struct{})

	go func() {
		defer close(c.done)
		for {
			select {
			case <-c.ticker.C:
				ctx, cancel := context.WithTimeout(context.Background(), c.scanInterval)
				c.tick(ctx)
				cancel()
			case <-c.stop:
				return
			}
		}
	}()
}

// Stop halts the scan loop and waits for it to exit.
func (c *Controller) Stop() {
	if c.ticker == nil {
		return
	}
	c.ticker.Stop()
	close(c.stop)
	<-c.done
}

func (c *Controller) tick(ctx context.Context) {
	peerRole := c.registry.Role().Opposite()
	peerOnline, err := c.registry.RoleOnline(ctx, peerRole)
	if err != nil {
		c.logger.Warn("failover scan: peer liveness check failed", zap.Error(err))
		return
	}

	switch {
	case !peerOnline && !c.proxyActive:
		n, err := c.host.TakeOverProxy(ctx, peerRole)
		if err != nil {
			c.logger.Warn("failover take-over failed", zap.String("peer_role", peerRole.String()), zap.Error(err))
			return
		}
		c.proxyActive = true
		c.logger.Info("failover take-over engaged",
			zap.String("peer_role", peerRole.String()), zap.Int("segments_tracked", n))

	case peerOnline && c.proxyActive:
		n := c.host.Abandon(peerRole)
		c.proxyActive = false
		c.logger.Info("failover abandon: peer returned",
			zap.String("peer_role", peerRole.String()), zap.Int("buffers_dropped", n))
	}
}

// ProxyActive reports whether this node is currently issuing for the peer
// role on its behalf, for status reporting.
func (c *Controller) ProxyActive() bool { return c.proxyActive }
