package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"norelock.dev/listenify/bragi/internal/api"
	"norelock.dev/listenify/bragi/internal/auth"
	"norelock.dev/listenify/bragi/internal/config"
	"norelock.dev/listenify/bragi/internal/db/redis"
	"norelock.dev/listenify/bragi/internal/rpc"
	"norelock.dev/listenify/bragi/internal/services/media"
	"norelock.dev/listenify/bragi/internal/services/system"
	"norelock.dev/listenify/bragi/internal/utils"
)

func runServe(parent context.Context, configPath string) error {
	if parent == nil {
		parent = context.Background()
	}
	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	logger := utils.NewLogger(config.LoggerOptions(cfg))
	utils.SetGlobalLogger(logger)
	defer logger.Sync()

	for _, warning := range config.ValidateAndFixConfig(cfg) {
		logger.Warn("Configuration warning", "warning", warning)
	}
	logger.Info("Starting bragi", "version", version, "environment", cfg.Environment)

	var redisClient *redis.Client
	if cfg.Redis.Enabled {
		redisClient, err = redis.NewClient(cfg.Redis, logger)
		if err != nil {
			return fmt.Errorf("failed to connect to redis: %w", err)
		}
		defer func() {
			if err := redisClient.Close(); err != nil {
				logger.Error("Failed to close redis client", err)
			}
		}()
	}

	metrics := system.NewMetricsService(logger)

	stack, err := buildProviders(ctx, cfg, redisClient, metrics, logger)
	if err != nil {
		return err
	}
	// Jars flush after the servers have drained.
	defer stack.Close(logger)

	manager, err := media.NewManager(stack.scrapers, logger,
		media.WithPolicy(media.FanoutPolicy{FailOnEmpty: cfg.Manager.FailOnEmpty}),
		media.WithObserver(metrics),
	)
	if err != nil {
		return err
	}

	var healthPinger system.Pinger
	if redisClient != nil {
		healthPinger = redisClient
	}
	health := system.NewHealthService(healthPinger, manager, logger, system.HealthServiceConfig{
		Version:     version,
		Environment: cfg.Environment,
	})
	health.Start(ctx)

	var verifier *auth.JWTProvider
	if cfg.Auth.Enabled() {
		verifier, err = auth.NewJWTProvider(auth.JWTConfig{Secret: cfg.Auth.JWTSecret, Issuer: cfg.Auth.Issuer}, logger)
		if err != nil {
			return err
		}
	}

	var limiter *utils.RateLimiter
	if cfg.RateLimit.RequestsPerMinute > 0 {
		limiter = utils.NewRateLimiter(time.Minute, cfg.RateLimit.RequestsPerMinute)
		go limiter.CleanupLoop(ctx, 5*time.Minute)
	}

	rpcLogger := logger.Named("rpc")
	dispatcher := rpc.NewDispatcher(manager, rpc.RecoveryMiddleware(rpcLogger), rpc.LoggingMiddleware(rpcLogger))
	rpcOpts := rpc.ServerOptions{
		WebSocket:      cfg.WebSocket,
		AllowedOrigins: cfg.Server.AllowedOrigins,
		Observer:       metrics,
	}
	deps := api.Dependencies{
		Media:          manager,
		Health:         health,
		Metrics:        metrics,
		Limiter:        limiter,
		Dispatcher:     dispatcher,
		AllowedOrigins: cfg.Server.AllowedOrigins,
	}
	// A typed nil would read as a configured verifier.
	if verifier != nil {
		rpcOpts.Verifier = verifier
		deps.Verifier = verifier
	}
	rpcServer := rpc.NewServer(dispatcher, rpcOpts, logger)
	deps.RPC = rpcServer

	router := api.NewRouter(deps, logger)

	server := &http.Server{
		Addr:         cfg.Server.Addr(),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	serveErr := make(chan error, 1)
	go func() {
		logger.Info("Starting HTTP server", "address", server.Addr, "providers", manager.Providers())
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case <-ctx.Done():
		logger.Info("Shutting down server")
	case err := <-serveErr:
		if err != nil {
			logger.Error("HTTP server error", err)
			return err
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	// Hijacked websocket connections are not tracked by http.Server.
	if err := rpcServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("RPC server shutdown error", err)
	}
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("HTTP server shutdown error", err)
	}

	logger.Info("Server shutdown complete")
	return nil
}
