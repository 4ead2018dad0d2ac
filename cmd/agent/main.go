package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/egysaas25-hub/wppagent-sub000/internal/auth"
	"github.com/egysaas25-hub/wppagent-sub000/internal/config"
	"github.com/egysaas25-hub/wppagent-sub000/internal/credentials"
	"github.com/egysaas25-hub/wppagent-sub000/internal/database"
	"github.com/egysaas25-hub/wppagent-sub000/internal/history"
	"github.com/egysaas25-hub/wppagent-sub000/internal/orchestrator"
	"github.com/egysaas25-hub/wppagent-sub000/internal/presence"
	"github.com/egysaas25-hub/wppagent-sub000/internal/provider"
	"github.com/egysaas25-hub/wppagent-sub000/internal/realtime"
	"github.com/egysaas25-hub/wppagent-sub000/internal/session"
	"github.com/egysaas25-hub/wppagent-sub000/internal/version"
)

func main() {
	configPath := flag.String("config", "configs/agent.local.yaml", "path to config file")
	flag.Parse()

	// Set up structured logging
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelDebug,
	}))
	slog.SetDefault(logger)

	logger.Info("starting agent",
		"version", version.Version,
		"commit", version.Commit,
		"config", *configPath,
	)

	// Load configuration
	cfg, err := config.LoadAndValidate(*configPath)
	if err != nil {
		logger.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logger.Info("configuration loaded",
		"instance_id", cfg.Instance.ID,
		"gateway_url", cfg.Provider.GatewayURL,
	)

	// Create context with cancellation
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Handle shutdown signals
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		logger.Info("received shutdown signal", "signal", sig)
		cancel()
	}()

	// Connect to database
	logger.Info("connecting to database",
		"host", cfg.Database.Host,
		"port", cfg.Database.Port,
		"database", cfg.Database.Name,
	)

	pool, err := database.Connect(ctx, cfg.Database)
	if err != nil {
		logger.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer pool.Close()

	logger.Info("database connected")

	// Stores
	sessionStore := session.NewPostgresStore(pool)
	credStore := credentials.NewPostgresStore(pool)

	// Message history writer
	histCfg := history.DefaultConfig()
	if cfg.History.BatchSize > 0 {
		histCfg.BatchSize = cfg.History.BatchSize
	}
	if cfg.History.FlushInterval > 0 {
		histCfg.FlushInterval = cfg.History.FlushInterval
	}
	histWriter := history.NewWriter(histCfg, pool, logger.With("component", "history"))
	if err := histWriter.Start(ctx); err != nil {
		logger.Error("failed to start history writer", "error", err)
		os.Exit(1)
	}

	// Provider factory
	provCfg := provider.DefaultConfig()
	provCfg.GatewayURL = cfg.Provider.GatewayURL
	provCfg.APIKey = cfg.Provider.APIKey
	if cfg.Provider.PingTimeout > 0 {
		provCfg.PingTimeout = cfg.Provider.PingTimeout
	}
	if cfg.Provider.WriteTimeout > 0 {
		provCfg.WriteTimeout = cfg.Provider.WriteTimeout
	}
	if cfg.Provider.BufferSize > 0 {
		provCfg.BufferSize = cfg.Provider.BufferSize
	}
	factory := provider.NewFactory(provCfg, logger.With("component", "provider"))

	// Session orchestrator
	orchCfg := orchestrator.DefaultConfig()
	orchCfg.ConnectTimeout = cfg.Provider.ConnectTimeout
	orchCfg.ReconnectBaseDelay = cfg.Orchestrator.ReconnectBaseDelay
	orchCfg.ReconnectMaxDelay = cfg.Orchestrator.ReconnectMaxDelay
	orchCfg.ReconnectMaxAttempts = cfg.Orchestrator.ReconnectMaxAttempts
	orchCfg.EventBufferSize = cfg.Orchestrator.EventBufferSize
	orchCfg.BreakerThreshold = cfg.Orchestrator.BreakerThreshold
	orchCfg.BreakerResetTimeout = cfg.Orchestrator.BreakerResetTimeout
	orchCfg.SendRateCapacity = cfg.Orchestrator.SendRateCapacity
	orchCfg.SendRatePerSecond = cfg.Orchestrator.SendRatePerSecond

	manager := orchestrator.NewManager(
		orchCfg,
		factory,
		sessionStore,
		credStore,
		histWriter,
		logger.With("component", "orchestrator"),
	)
	if err := manager.Start(ctx); err != nil {
		logger.Error("failed to start orchestrator", "error", err)
		os.Exit(1)
	}

	// Presence tracker
	presCfg := presence.DefaultConfig()
	if cfg.Presence.SweepInterval > 0 {
		presCfg.SweepInterval = cfg.Presence.SweepInterval
	}
	if cfg.Presence.StaleAfter > 0 {
		presCfg.StaleAfter = cfg.Presence.StaleAfter
	}
	tracker := presence.NewTracker(presCfg, logger.With("component", "presence"))
	if err := tracker.Start(ctx); err != nil {
		logger.Error("failed to start presence tracker", "error", err)
		os.Exit(1)
	}

	// Real-time fan-out
	verifier := auth.NewVerifier([]byte(cfg.Auth.Secret), cfg.Auth.Issuer, cfg.Auth.Audience)

	rtCfg := realtime.DefaultConfig()
	if cfg.Realtime.SendBufferSize > 0 {
		rtCfg.SendBufferSize = cfg.Realtime.SendBufferSize
	}
	if cfg.Realtime.SweepInterval > 0 {
		rtCfg.SweepInterval = cfg.Realtime.SweepInterval
	}
	if cfg.Realtime.WriteTimeout > 0 {
		rtCfg.WriteTimeout = cfg.Realtime.WriteTimeout
	}
	if cfg.Realtime.PingInterval > 0 {
		rtCfg.PingInterval = cfg.Realtime.PingInterval
	}

	rtServer := realtime.NewServer(
		rtCfg,
		verifier,
		tracker,
		manager,
		storeTenants{store: sessionStore},
		logger.With("component", "realtime"),
	)
	if err := rtServer.Start(ctx); err != nil {
		logger.Error("failed to start realtime server", "error", err)
		os.Exit(1)
	}
	rtServer.Consume(manager.Events())
	rtServer.Consume(tracker.Events())

	// HTTP listener
	mux := http.NewServeMux()
	mux.Handle(cfg.Server.WSPath, rtServer)
	mux.Handle("/healthz", healthHandler(pool, manager, rtServer))

	httpServer := &http.Server{
		Addr:    cfg.Server.Addr,
		Handler: mux,
	}

	go func() {
		logger.Info("starting http server", "addr", cfg.Server.Addr, "ws_path", cfg.Server.WSPath)
		if err := httpServer.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server error", "error", err)
			cancel()
		}
	}()

	logger.Info("agent running", "instance_id", cfg.Instance.ID)

	// Wait for shutdown
	<-ctx.Done()

	logger.Info("shutting down...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()

	httpServer.Shutdown(shutdownCtx)

	// Stop event producers first so the fan-out consumers drain and
	// exit, then the fan-out itself, then persistence.
	manager.Stop(shutdownCtx)
	tracker.Stop(shutdownCtx)
	rtServer.Stop(shutdownCtx)
	histWriter.Stop(shutdownCtx)

	logger.Info("agent stopped")
}

// storeTenants resolves a session's owning tenant from the session
// registry.
type storeTenants struct {
	store session.Store
}

func (r storeTenants) TenantOf(ctx context.Context, sessionName string) (string, error) {
	sess, err := r.store.GetByName(ctx, sessionName)
	if err != nil {
		return "", err
	}
	return sess.TenantID, nil
}

// healthHandler reports database, orchestrator, and hub health.
func healthHandler(pool *pgxpool.Pool, manager *orchestrator.Manager, rt *realtime.Server) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
		defer cancel()

		health := struct {
			Status     string         `json:"status"`
			Components map[string]any `json:"components"`
		}{
			Status:     "healthy",
			Components: make(map[string]any),
		}

		if err := pool.Ping(ctx); err != nil {
			health.Status = "unhealthy"
			health.Components["postgres"] = map[string]string{
				"status": "disconnected",
				"error":  err.Error(),
			}
		} else {
			health.Components["postgres"] = "connected"
		}

		stats := manager.Stats()
		health.Components["orchestrator"] = map[string]any{
			"active_sessions": stats.ActiveSessions,
			"events_dropped":  stats.EventsDropped,
		}
		health.Components["realtime"] = map[string]any{
			"subscribers": rt.Hub().SubscriberCount(),
			"rooms":       rt.Hub().RoomCount(),
		}

		w.Header().Set("Content-Type", "application/json")
		if health.Status == "unhealthy" {
			w.WriteHeader(http.StatusServiceUnavailable)
		}
		json.NewEncoder(w).Encode(health)
	})
}
