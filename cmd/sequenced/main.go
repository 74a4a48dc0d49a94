package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/magicliang/distributed-sequence/internal/admin"
	"github.com/magicliang/distributed-sequence/internal/config"
	"github.com/magicliang/distributed-sequence/internal/failover"
	"github.com/magicliang/distributed-sequence/internal/health"
	"github.com/magicliang/distributed-sequence/internal/httpapi"
	"github.com/magicliang/distributed-sequence/internal/issuance"
	"github.com/magicliang/distributed-sequence/internal/metrics"
	"github.com/magicliang/distributed-sequence/internal/model"
	"github.com/magicliang/distributed-sequence/internal/registry"
	"github.com/magicliang/distributed-sequence/internal/stepsize"
	"github.com/magicliang/distributed-sequence/internal/store"
)

func main() {
	logger, err := zap.NewProduction()
	if err != nil {
		panic(fmt.Sprintf("failed to initialize logger: %v", err))
	}
	defer logger.Sync()

	logger.Info("starting sequenced")

	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = "./config.yaml"
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		logger.Fatal("failed to load configuration", zap.Error(err))
	}

	role, ok := model.ParseRole(cfg.Issuance.Role)
	if !ok {
		logger.Fatal("invalid issuance.role", zap.String("role", cfg.Issuance.Role))
	}

	logger.Info("configuration loaded",
		zap.String("node_id", cfg.Server.NodeID),
		zap.String("role", role.String()),
		zap.Int("port", cfg.Server.Port),
		zap.String("database_host", cfg.Database.Host),
		zap.String("database_name", cfg.Database.Database))

	m := metrics.NewMetrics()
	logger.Info("metrics initialized")

	ctx := context.Background()

	pgStore, err := store.NewPostgresStore(ctx, store.PostgresConfig{
		Host:            cfg.Database.Host,
		Port:            cfg.Database.Port,
		Database:        cfg.Database.Database,
		User:            cfg.Database.User,
		Password:        cfg.Database.Password,
		MaxConnections:  cfg.Database.MaxConnections,
		MinConnections:  cfg.Database.MinConnections,
		ConnMaxLifetime: cfg.Database.ConnMaxLifetime,
	}, logger)
	if err != nil {
		logger.Fatal("failed to initialize segment store", zap.Error(err))
	}
	logger.Info("segment store initialized")

	nodeID := cfg.Server.NodeID
	reg := registry.New(pgStore, nodeID, role, logger)

	var peerCache *registry.PeerCache
	if cfg.Redis.Host != "" {
		peerCache, err = registry.NewPeerCache(cfg.Redis.Host, cfg.Redis.Port, cfg.Redis.Password, cfg.Redis.DB, cfg.Redis.TTL, logger)
		if err != nil {
			logger.Warn("peer cache unavailable, falling back to store-only liveness", zap.Error(err))
		} else {
			reg = reg.WithPeerCache(peerCache)
			logger.Info("peer liveness cache initialized")
		}
	}

	if err := reg.Register(ctx); err != nil {
		logger.Fatal("failed to register node", zap.Error(err))
	}
	reg.Start(cfg.Issuance.HeartbeatInterval)

	selector := failover.NewRoleSelector(pgStore, reg)
	engine := issuance.NewEngine(pgStore, selector, reg, logger, issuance.Config{
		DefaultStepSize:     cfg.Issuance.DefaultStepSize,
		PrefetchThreshold:   cfg.Issuance.RefreshThreshold,
		PrefetchDeadline:    cfg.Issuance.PrefetchDeadline,
		PrefetchConcurrency: cfg.Issuance.PrefetchConcurrency,
	})

	controller := failover.NewController(reg, engine, logger, cfg.Issuance.FailoverScanInterval)
	controller.Start()

	stepsizeSvc := stepsize.NewService(pgStore, engine, logger)
	adminSvc := admin.NewService(pgStore, reg, engine, controller, logger)

	if cfg.Metrics.Enabled {
		go func() {
			mux := http.NewServeMux()
			mux.Handle(cfg.Metrics.Path, promhttp.Handler())
			addr := fmt.Sprintf(":%d", cfg.Metrics.Port)
			logger.Info("starting metrics server", zap.String("address", addr))
			if err := http.ListenAndServe(addr, mux); err != nil {
				logger.Error("metrics server failed", zap.Error(err))
			}
		}()
	}

	var peerCachePinger health.PeerCachePinger
	if peerCache != nil {
		peerCachePinger = peerCache
	}
	healthChecker := health.NewHealthChecker(pgStore, peerCachePinger, logger)
	go func() {
		if err := health.StartHealthServer(healthChecker, 8081, logger); err != nil {
			logger.Error("health check server failed", zap.Error(err))
		}
	}()

	apiServer := httpapi.NewServer(engine, adminSvc, stepsizeSvc, m, cfg.Issuance.RefreshTimeout, logger)
	apiCtx, cancelAPI := context.WithCancel(context.Background())
	serverErrors := make(chan error, 1)
	go func() {
		addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
		serverErrors <- httpapi.StartServer(apiCtx, apiServer, addr, cfg.Server.ReadTimeout, cfg.Server.WriteTimeout, logger)
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-serverErrors:
		logger.Error("server error", zap.Error(err))
	case sig := <-sigChan:
		logger.Info("received signal", zap.String("signal", sig.String()))
	}

	logger.Info("shutting down gracefully")
	cancelAPI()

	controller.Stop()
	reg.Stop()
	if peerCache != nil {
		peerCache.Close()
	}
	pgStore.Close()

	logger.Info("sequenced stopped")
}
