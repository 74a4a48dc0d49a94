package registry

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/magicliang/distributed-sequence/internal/model"
)

// PeerCache is an optional second-tier cache in front of the node store's
// peer-liveness check (C2.peer_online), shortening the common case to a
// Redis GET before falling back to Postgres. Grounded on the teacher's
// redis_idempotency_store.go client construction, repurposed from
// idempotency keys to liveness keys since this domain has no idempotency
// concept — Generate is not idempotent, retries legitimately mint new IDs.
type PeerCache struct {
	client *redis.Client
	ttl    time.Duration
	logger *zap.Logger
}

// NewPeerCache dials Redis and verifies the connection.
func NewPeerCache(host string, port int, password string, db int, ttl time.Duration, logger *zap.Logger) (*PeerCache, error) {
	addr := fmt.Sprintf("%s:%d", host, port)
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return &PeerCache{client: client, ttl: ttl, logger: logger}, nil
}

// Get returns the cached liveness of role, or (false, false) on a cache
// miss (the caller must then consult the store of record).
func (c *PeerCache) Get(ctx context.Context, role model.Role) (online bool, hit bool) {
	val, err := c.client.Get(ctx, cacheKey(role)).Result()
	if err == redis.Nil {
		return false, false
	}
	if err != nil {
		c.logger.Warn("peer cache get failed, falling back to store", zap.Error(err))
		return false, false
	}
	return val == "1", true
}

// Set caches role's liveness for the configured TTL.
func (c *PeerCache) Set(ctx context.Context, role model.Role, online bool) {
	val := "0"
	if online {
		val = "1"
	}
	if err := c.client.Set(ctx, cacheKey(role), val, c.ttl).Err(); err != nil {
		c.logger.Warn("peer cache set failed", zap.Error(err))
	}
}

// Ping checks the Redis connection, for readiness probes.
func (c *PeerCache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

// Close closes the Redis client.
func (c *PeerCache) Close() error {
	return c.client.Close()
}

func cacheKey(role model.Role) string {
	return "sequenced:peer_online:" + role.String()
}
