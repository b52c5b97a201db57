// tutorlive - live voice tutoring server
package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/ashureev/tutorlive/internal/api"
	"github.com/ashureev/tutorlive/internal/config"
	"github.com/ashureev/tutorlive/internal/convlog"
	"github.com/ashureev/tutorlive/internal/credentials"
	"github.com/ashureev/tutorlive/internal/identity"
	"github.com/ashureev/tutorlive/internal/lessonplan"
	"github.com/ashureev/tutorlive/internal/middleware"
	"github.com/ashureev/tutorlive/internal/registry"
	"github.com/ashureev/tutorlive/internal/store"
	"github.com/ashureev/tutorlive/internal/transport"
	"github.com/ashureev/tutorlive/internal/tutor"
	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/joho/godotenv"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	if err := godotenv.Load(); err != nil {
		slog.Info("No .env file found, using environment variables")
	}

	cfg, err := config.Load()
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}

	slog.Info("Starting server",
		"port", cfg.Port,
		"dev", cfg.IsDevelopment(),
		"transport", cfg.Realtime.Transport,
		"lesson_planner", cfg.LessonPlan.Planner,
	)

	// Initialize dependencies.
	repo, err := store.NewSQLite(cfg.DBPath)
	if err != nil {
		slog.Error("Failed to initialize database", "error", err)
		os.Exit(1)
	}
	defer func() {
		if closeErr := repo.Close(); closeErr != nil {
			slog.Error("Failed to close repository", "error", closeErr)
		}
	}()

	if err := repo.Ping(context.Background()); err != nil {
		slog.Error("Database health check failed", "error", err)
		os.Exit(1)
	}
	slog.Info("Database connected")

	conversationLogger, err := convlog.New(convlog.Config{
		Enabled:       cfg.ConversationLog.Enabled,
		Dir:           cfg.ConversationLog.Dir,
		GlobalEnabled: cfg.ConversationLog.GlobalEnabled,
		GlobalPath:    cfg.ConversationLog.GlobalPath,
		QueueSize:     cfg.ConversationLog.QueueSize,
	}, logger)
	if err != nil {
		slog.Error("Failed to initialize conversation logger", "error", err)
		os.Exit(1)
	}
	defer func() {
		if closeErr := conversationLogger.Close(); closeErr != nil {
			slog.Warn("failed to close conversation logger", "error", closeErr)
		}
	}()

	connector := newConnector(cfg, logger)
	issuer := credentials.NewMinter(credentials.Config{
		BaseURL: cfg.Realtime.BaseURL,
		APIKey:  cfg.Realtime.APIKey,
		Model:   cfg.Realtime.Model,
		Voice:   cfg.Realtime.Voice,
	}, repo, logger)

	// Lesson planner (optional).
	var planner tutor.LessonPlanner = lessonplan.None{}
	var plannerHealth api.HealthChecker
	switch cfg.LessonPlan.Planner {
	case config.PlannerGenAI:
		p, err := lessonplan.NewGenAIPlanner(context.Background(), cfg.LessonPlan.GeminiAPIKey, cfg.LessonPlan.Model, logger)
		if err != nil {
			slog.Warn("Failed to initialize Gemini lesson planner, lesson plans disabled", "error", err)
		} else {
			planner = p
		}
	case config.PlannerGRPC:
		slog.Info("Attempting to connect to lesson planner via gRPC", "address", cfg.LessonPlan.GRPCAddr)
		p, err := lessonplan.NewGrpcPlanner(cfg.LessonPlan.GRPCAddr, logger)
		if err != nil {
			slog.Warn("Failed to connect to lesson planner, lesson plans disabled", "error", err)
		} else {
			defer p.Close()
			planner = p
			plannerHealth = p
		}
	default:
		slog.Info("Lesson planner disabled, tutors use generic guidance")
	}

	sessionCfg := tutor.Config{
		MaxDuration:           cfg.Session.MaxDuration,
		RestartWindow:         cfg.Session.RestartWindow,
		BroadcastInterval:     cfg.Session.BroadcastInterval,
		ElapsedTick:           cfg.Session.ElapsedTick,
		ResumeDelay:           cfg.Session.ResumeDelay,
		TopicSelectionDisplay: cfg.Session.TopicSelectionDisplay,
		WarnFar:               cfg.Session.WarnFar,
		WarnNear:              cfg.Session.WarnNear,
		WarnImminent:          cfg.Session.WarnImminent,
		Voice:                 cfg.Realtime.Voice,
		TranscriptionModel:    cfg.Realtime.TranscriptionModel,
	}

	broker := api.NewBroker(api.StreamConfig{
		KeepaliveInterval: cfg.SSE.KeepaliveInterval,
		RetryDelay:        cfg.SSE.RetryDelay,
		ReplayBufferSize:  cfg.SSE.ReplayBufferSize,
	})
	defer broker.Close()

	sessions := registry.New(func(learnerID, tabID string) registry.Session {
		return tutor.New(sessionCfg, tutor.Deps{
			Connector: connector,
			Issuer:    issuer,
			Planner:   planner,
			Recorder:  repo,
			Publisher: broker.Publisher(learnerID, tabID),
			ConvLog:   conversationLogger,
			Logger:    logger.With("learner_id", learnerID, "tab_id", tabID),
		})
	}, cfg.Session.IdleTTL)
	sessions.OnRemove(broker.Forget)

	limiter := api.NewRateLimiter(cfg.RateLimit.RequestsPerWindow, cfg.RateLimit.WindowDuration)
	defer limiter.Stop()

	// Initialize handlers.
	baseHandler := api.NewHandler(repo, sessions)
	healthHandler := api.NewHealthHandler(baseHandler, plannerHealth)
	sessionHandler := api.NewSessionHandler(baseHandler, limiter, broker)

	// Setup router.
	r := chi.NewRouter()

	// Global middleware.
	r.Use(chiMiddleware.RequestID)
	r.Use(chiMiddleware.RealIP)
	r.Use(chiMiddleware.Logger)
	r.Use(chiMiddleware.Recoverer)
	r.Use(chiMiddleware.Heartbeat("/health"))
	r.Use(middleware.CORS(allowedOrigins(cfg.FrontendURL)))

	// Public routes.
	healthHandler.RegisterHealth(r)

	// Learner routes.
	r.Group(func(r chi.Router) {
		r.Use(identity.Middleware(repo, cfg.IsDevelopment()))
		sessionHandler.RegisterRoutes(r)
	})

	// Create server.
	// Note: SSE connections require long timeouts (no WriteTimeout)
	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 0,                 // 0 = no timeout for SSE support
		IdleTimeout:  120 * time.Second, // 2 minutes for idle connections
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store.StartSweeper(ctx, repo, cfg.AbandonedSessionTTL, func(n int64) {
		slog.Info("Abandoned sessions flagged", "count", n)
	})
	slog.Info("Abandoned-session sweeper started", "ttl", cfg.AbandonedSessionTTL)

	sessions.StartPruner(ctx, time.Minute)

	// Start server.
	go func() {
		slog.Info("Server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("Server failed", "error", err)
			os.Exit(1)
		}
	}()

	// Wait for shutdown signal.
	<-ctx.Done()
	stop()

	slog.Info("Shutting down gracefully...")

	// End live sessions first so their artifacts reach the store.
	endCtx, cancelEnd := context.WithTimeout(context.Background(), 30*time.Second)
	sessions.CloseAll(endCtx)
	cancelEnd()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("Server forced to shutdown", "error", err)
		os.Exit(1)
	}

	slog.Info("Server stopped successfully")
}

func newConnector(cfg *config.Config, logger *slog.Logger) transport.Connector {
	base := strings.TrimRight(cfg.Realtime.BaseURL, "/")
	if cfg.Realtime.Transport == config.TransportWebSocket {
		wsURL := strings.Replace(strings.Replace(base, "https://", "wss://", 1), "http://", "ws://", 1)
		return transport.NewWebSocketConnector(transport.WebSocketConfig{
			URL:    wsURL + "/v1/realtime",
			Logger: logger,
		})
	}
	return transport.NewWebRTCConnector(transport.WebRTCConfig{
		SignalingURL: base + "/v1/realtime",
		ICEServers:   []string{"stun:stun.l.google.com:19302"},
		Logger:       logger,
	})
}

func allowedOrigins(frontendURL string) []string {
	if frontendURL == "" {
		return []string{"*"}
	}
	return []string{frontendURL}
}
