package health

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/magicliang/distributed-sequence/internal/store"
)

// HealthChecker provides health check endpoints over the segment/node
// store and the optional peer-liveness cache.
type HealthChecker struct {
	store       store.Store
	peerCache   PeerCachePinger
	logger      *zap.Logger
}

// PeerCachePinger is the ping surface of the optional Redis peer-liveness
// cache (SPEC_FULL.md Ambient Stack); nil when Redis is not configured.
type PeerCachePinger interface {
	Ping(ctx context.Context) error
}

// HealthStatus represents the health check response body.
type HealthStatus struct {
	Status    string            `json:"status"`
	Timestamp int64             `json:"timestamp"`
	Checks    map[string]string `json:"checks,omitempty"`
}

// NewHealthChecker creates a new health checker. peerCache may be nil.
func NewHealthChecker(st store.Store, peerCache PeerCachePinger, logger *zap.Logger) *HealthChecker {
	return &HealthChecker{
		store:     st,
		peerCache: peerCache,
		logger:    logger,
	}
}

// LivenessHandler handles liveness probe requests.
func (h *HealthChecker) LivenessHandler(w http.ResponseWriter, r *http.Request) {
	status := HealthStatus{
		Status:    "alive",
		Timestamp: time.Now().Unix(),
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(status)
}

// ReadinessHandler handles readiness probe requests.
func (h *HealthChecker) ReadinessHandler(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	checks := make(map[string]string)
	allHealthy := true

	if err := h.checkStore(ctx); err != nil {
		h.logger.Error("segment store health check failed", zap.Error(err))
		checks["segment_store"] = "unhealthy: " + err.Error()
		allHealthy = false
	} else {
		checks["segment_store"] = "healthy"
	}

	if err := h.checkPeerCache(ctx); err != nil {
		h.logger.Error("peer cache health check failed", zap.Error(err))
		checks["peer_cache"] = "unhealthy: " + err.Error()
		allHealthy = false
	} else {
		checks["peer_cache"] = "healthy"
	}

	status := HealthStatus{
		Timestamp: time.Now().Unix(),
		Checks:    checks,
	}

	w.Header().Set("Content-Type", "application/json")

	if allHealthy {
		status.Status = "ready"
		w.WriteHeader(http.StatusOK)
	} else {
		status.Status = "not_ready"
		w.WriteHeader(http.StatusServiceUnavailable)
	}

	json.NewEncoder(w).Encode(status)
}

func (h *HealthChecker) checkStore(ctx context.Context) error {
	if h.store == nil {
		return nil
	}
	return h.store.Ping(ctx)
}

func (h *HealthChecker) checkPeerCache(ctx context.Context) error {
	if h.peerCache == nil {
		return nil // Redis is optional; absence is not unhealthy.
	}
	return h.peerCache.Ping(ctx)
}

// StartHealthServer starts the health check HTTP server.
func StartHealthServer(hc *HealthChecker, port int, logger *zap.Logger) error {
	mux := http.NewServeMux()
	mux.HandleFunc("/health/live", hc.LivenessHandler)
	mux.HandleFunc("/health/ready", hc.ReadinessHandler)

	addr := fmt.Sprintf(":%d", port)
	logger.Info("starting health check server", zap.String("address", addr))

	server := &http.Server{
		Addr:         addr,
		Handler:      mux,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	return server.ListenAndServe()
}
