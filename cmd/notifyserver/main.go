package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"strconv"

	"github.com/gorilla/mux"
	"gorm.io/gorm"

	"github.com/bitechdev/NotifySpec/pkg/config"
	"github.com/bitechdev/NotifySpec/pkg/dbmanager"
	"github.com/bitechdev/NotifySpec/pkg/errortracking"
	"github.com/bitechdev/NotifySpec/pkg/logger"
	"github.com/bitechdev/NotifySpec/pkg/metrics"
	"github.com/bitechdev/NotifySpec/pkg/middleware"
	"github.com/bitechdev/NotifySpec/pkg/server"
	"github.com/bitechdev/NotifySpec/pkg/ssespec"
	"github.com/bitechdev/NotifySpec/pkg/tracing"
)

// headerAuth resolves the user from the X-User-ID header. It stands in for a
// session layer; put a real authenticator here before exposing the server.
type headerAuth struct{}

func (headerAuth) UserID(r *http.Request) (int64, error) {
	raw := r.Header.Get("X-User-ID")
	if raw == "" {
		return 0, fmt.Errorf("missing X-User-ID header")
	}
	return strconv.ParseInt(raw, 10, 64)
}

func main() {
	// Load configuration
	cfgMgr := config.NewManager()
	if err := cfgMgr.Load(); err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	cfg, err := cfgMgr.GetConfig()
	if err != nil {
		log.Fatalf("Failed to get configuration: %v", err)
	}

	// Initialize logger with configuration
	logger.Init(cfg.Logger.Dev)
	if cfg.Logger.Path != "" {
		logger.UpdateLoggerPath(cfg.Logger.Path, cfg.Logger.Dev)
	}
	logger.Info("NotifySpec server starting")

	// Error tracking
	tracker, err := errortracking.NewProviderFromConfig(cfg.ErrorTracking)
	if err != nil {
		logger.Error("Failed to initialize error tracking: %v", err)
		os.Exit(1)
	}
	logger.InitErrorTracking(tracker)

	// Tracing
	shutdownTracer, err := tracing.InitTracer(tracing.Config{
		ServiceName:    cfg.Tracing.ServiceName,
		ServiceVersion: cfg.Tracing.ServiceVersion,
		Endpoint:       cfg.Tracing.Endpoint,
		Enabled:        cfg.Tracing.Enabled,
	})
	if err != nil {
		logger.Error("Failed to initialize tracing: %v", err)
		os.Exit(1)
	}

	// Metrics
	metricsProvider := metrics.NewProviderFromConfig(metrics.Config{
		Enabled:  cfg.Metrics.Enabled,
		Provider: cfg.Metrics.Provider,
	})
	metrics.SetProvider(metricsProvider)

	// Database
	ctx := context.Background()
	dbMgr, db, err := initDB(ctx, cfg)
	if err != nil {
		logger.Error("Failed to initialize database: %+v", err)
		os.Exit(1)
	}

	// Event engine
	registry := ssespec.NewRegistry()
	store := ssespec.NewEventStore(db, registry)
	if err := store.AutoMigrate(); err != nil {
		logger.Error("Failed to migrate event table: %v", err)
		os.Exit(1)
	}

	manager := ssespec.NewEventManager(store, registry, ssespec.Options{
		MaxEventQueueSize:     cfg.SSE.MaxEventQueueSize,
		MaxEventsPerStream:    cfg.SSE.MaxEventsPerStream,
		MaxConnectionsPerUser: cfg.SSE.MaxConnectionsPerUser,
		CleanupInterval:       cfg.SSE.CleanupInterval,
		DistributorPoll:       cfg.SSE.DistributorPoll,
	})
	if err := manager.Start(ctx); err != nil {
		logger.Error("Failed to start event manager: %v", err)
		os.Exit(1)
	}

	// Routes
	r := mux.NewRouter()
	r.Use(middleware.PanicRecovery)
	r.Use(tracing.Middleware)
	r.Use(metricsProvider.Middleware)
	if cfg.Middleware.RateLimitRPS > 0 {
		limiter := middleware.NewRateLimiter(cfg.Middleware.RateLimitRPS, cfg.Middleware.RateLimitBurst)
		r.Use(limiter.Middleware)
	}

	handler := ssespec.NewHandler(manager, headerAuth{}, cfg.SSE.HeartbeatInterval)
	handler.RegisterRoutes(r)
	r.Handle("/metrics", metricsProvider.Handler()).Methods(http.MethodGet)

	srv := server.NewGracefulServer(server.Config{
		Addr:            cfg.Server.Addr,
		Handler:         r,
		ShutdownTimeout: cfg.Server.ShutdownTimeout,
		DrainTimeout:    cfg.Server.DrainTimeout,
		ReadTimeout:     cfg.Server.ReadTimeout,
		WriteTimeout:    cfg.Server.WriteTimeout,
		IdleTimeout:     cfg.Server.IdleTimeout,
	})
	r.HandleFunc("/health", srv.HealthCheckHandler()).Methods(http.MethodGet)
	r.HandleFunc("/ready", srv.ReadinessHandler()).Methods(http.MethodGet)

	// Engine and database teardown run before the HTTP drain: closing the
	// engine ends the open SSE streams so draining can finish.
	server.RegisterShutdownCallback(func(ctx context.Context) error {
		return manager.Shutdown(ctx)
	})
	server.RegisterShutdownCallback(func(context.Context) error {
		return dbMgr.Close()
	})
	server.RegisterShutdownCallback(func(ctx context.Context) error {
		return shutdownTracer(ctx)
	})
	server.RegisterShutdownCallback(func(context.Context) error {
		return logger.CloseErrorTracking()
	})

	logger.Info("Listening on %s", cfg.Server.Addr)
	if err := srv.ListenAndServe(); err != nil {
		logger.Error("Server failed: %v", err)
		os.Exit(1)
	}
}

func initDB(ctx context.Context, cfg *config.Config) (dbmanager.Manager, *gorm.DB, error) {
	mgr, err := dbmanager.NewManager(dbmanager.ManagerConfig{
		Connections: map[string]dbmanager.ConnectionConfig{
			"events": {
				Driver:          cfg.Database.Driver,
				DSN:             cfg.Database.DSN,
				MaxOpenConns:    cfg.Database.MaxOpenConns,
				MaxIdleConns:    cfg.Database.MaxIdleConns,
				ConnMaxLifetime: cfg.Database.ConnMaxLifetime,
			},
		},
	})
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create database manager: %w", err)
	}

	if err := mgr.Connect(ctx); err != nil {
		return nil, nil, fmt.Errorf("failed to connect database: %w", err)
	}

	db, err := mgr.GetDefaultDB()
	if err != nil {
		_ = mgr.Close()
		return nil, nil, fmt.Errorf("failed to get database handle: %w", err)
	}
	return mgr, db, nil
}
