package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/p-blackswan/statusboard/internal/config"
	"github.com/p-blackswan/statusboard/internal/health"
	"github.com/p-blackswan/statusboard/internal/hub"
	"github.com/p-blackswan/statusboard/internal/metrics"
	"github.com/p-blackswan/statusboard/internal/mgmt"
	"github.com/p-blackswan/statusboard/internal/router"
	"github.com/p-blackswan/statusboard/internal/snapshot"
	"github.com/p-blackswan/statusboard/internal/state"
	"github.com/p-blackswan/statusboard/internal/ws"
)

func main() {
	// Setup structured logging
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	logger := zerolog.New(os.Stdout).With().Timestamp().Caller().Logger()

	// Load config
	cfg, err := config.Load()
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to load config")
	}

	if cfg.IsDevelopment() {
		logger = logger.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	}
	log.Logger = logger

	// Set log level
	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err == nil {
		zerolog.SetGlobalLevel(level)
	}

	resolver := cfg.IdentityResolver()
	logger.Info().
		Str("environment", cfg.Environment).
		Int("http_port", cfg.HTTPPort).
		Str("ws_path", cfg.WSPath).
		Str("snapshot_backend", cfg.SnapshotBackend).
		Str("snapshot_path", cfg.SnapshotLocation()).
		Bool("mgmt_enabled", cfg.MgmtEnabled).
		Str("identity_name_field", resolver.NameField).
		Msg("starting statusboard")

	// Context with graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	metricsCollector := metrics.New()

	// Persistence
	gateway, err := snapshot.Open(strings.ToLower(cfg.SnapshotBackend), cfg.SnapshotLocation(), logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to open snapshot backend")
	}
	initial := snapshot.Restore(ctx, gateway, logger)

	// State, broadcaster and the single writer
	sessions := hub.New(metricsCollector, logger)
	store := state.New(initial, gateway, sessions, logger,
		state.WithResolver(resolver),
		state.WithMetrics(metricsCollector),
	)
	actions := router.New(router.Config{QueueSize: cfg.RouterQueueSize}, store, sessions, metricsCollector, logger)
	actions.Start(ctx)

	// Health checker
	checker := health.NewChecker(logger)
	checker.Register("snapshot", health.FromError(gateway.Ping))
	checker.Register("router", health.FromBool(actions.Running))

	// HTTP server for sessions, health and metrics
	mux := http.NewServeMux()
	mux.Handle(cfg.WSPath, ws.NewHandler(ws.Config{
		AllowedOrigins: cfg.AllowedOriginList(),
		SendBuffer:     cfg.WSSendBuffer,
		ReadLimit:      cfg.WSReadLimit,
		PingInterval:   cfg.WSPingInterval,
	}, actions, sessions, logger))
	mux.HandleFunc("/health", health.LivenessHandler())
	mux.HandleFunc("/ready", checker.ReadinessHandler())
	mux.Handle("/metrics", metricsCollector.Handler())

	// No write timeout: websocket connections are long-lived and set their
	// own deadlines.
	server := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.HTTPPort),
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	// WaitGroup for in-flight work
	var wg sync.WaitGroup

	// Start HTTP server
	wg.Add(1)
	go func() {
		defer wg.Done()
		logger.Info().Int("port", cfg.HTTPPort).Msg("HTTP server starting")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("HTTP server error")
		}
	}()

	// Start Management API server
	var mgmtServer *mgmt.Server
	if cfg.MgmtEnabled {
		mgmtServer = mgmt.NewServer(mgmt.ServerConfig{
			ListenAddr:  cfg.MgmtListenAddr,
			CORSOrigins: cfg.MgmtCORSOrigins,
			RateLimit: mgmt.RateLimitConfig{
				RPS:   cfg.MgmtRateLimitRPS,
				Burst: cfg.MgmtRateLimitBurst,
			},
		}, actions, store, sessions, checker, metricsCollector, logger)

		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := mgmtServer.Start(); err != nil {
				logger.Error().Err(err).Msg("management API server error")
			}
		}()
	} else {
		logger.Info().Msg("management API disabled")
	}

	// Wait for shutdown signal
	sig := <-sigCh
	logger.Info().Str("signal", sig.String()).Msg("shutting down gracefully")

	// Shutdown servers
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("HTTP server shutdown error")
	}

	if mgmtServer != nil {
		if err := mgmtServer.Shutdown(); err != nil {
			logger.Error().Err(err).Msg("management API server shutdown error")
		}
	}

	// Hijacked websocket connections are not tracked by server.Shutdown.
	sessions.CloseAll()

	// Applies whatever is still queued, then stops.
	actions.Stop()
	cancel()

	if err := gateway.Close(); err != nil {
		logger.Error().Err(err).Msg("snapshot backend close error")
	}

	// Wait for in-flight work to complete
	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		logger.Info().Msg("all goroutines stopped")
	case <-time.After(15 * time.Second):
		logger.Warn().Msg("forced shutdown after timeout")
	}

	logger.Info().Msg("statusboard stopped")
}
