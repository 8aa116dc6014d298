package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/ashureev/study-planner/internal/api"
	"github.com/ashureev/study-planner/internal/assistant"
	"github.com/ashureev/study-planner/internal/bulk"
	"github.com/ashureev/study-planner/internal/config"
	"github.com/ashureev/study-planner/internal/identity"
	"github.com/ashureev/study-planner/internal/llm"
	"github.com/ashureev/study-planner/internal/middleware"
	"github.com/ashureev/study-planner/internal/notify"
	"github.com/ashureev/study-planner/internal/store"
	"github.com/ashureev/study-planner/internal/sweeper"
)

const (
	hubBufferSize   = 100
	hubQueueSize    = 50
	shutdownTimeout = 10 * time.Second
)

func newServeCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP, SSE and WebSocket server",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load()
			if err != nil {
				slog.Error("Failed to load configuration", "error", err)
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return serve(ctx, cfg, slog.Default())
		},
	}
}

//nolint:funlen // Startup wiring is intentionally sequential to keep dependency setup explicit.
func serve(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	loc := cfg.Location()
	slog.Info("Starting server", "port", cfg.Port, "dev", cfg.IsDevelopment(), "timezone", loc.String())

	repo, err := store.NewSQLite(cfg.DBPath)
	if err != nil {
		slog.Error("Failed to initialize database", "error", err)
		return err
	}
	defer func() {
		if closeErr := repo.Close(); closeErr != nil {
			slog.Error("Failed to close repository", "error", closeErr)
		}
	}()
	if err := repo.Ping(ctx); err != nil {
		slog.Error("Database health check failed", "error", err)
		return err
	}
	slog.Info("Database connected")

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	gen, closeGen := newGenerator(cfg, reg, logger)
	defer closeGen()

	hub := notify.NewHub(notify.Config{BufferSize: hubBufferSize, QueueSize: hubQueueSize}, logger)
	defer hub.Close()

	convLogger, err := assistant.NewConversationLogger(assistant.ConversationLogConfig{
		Enabled:       cfg.ConversationLog.Enabled,
		Dir:           cfg.ConversationLog.Dir,
		GlobalEnabled: cfg.ConversationLog.GlobalEnabled,
		GlobalPath:    cfg.ConversationLog.GlobalPath,
		QueueSize:     cfg.ConversationLog.QueueSize,
	}, logger)
	if err != nil {
		slog.Error("Failed to initialize conversation logger", "error", err)
		return err
	}
	defer func() {
		if closeErr := convLogger.Close(); closeErr != nil {
			slog.Error("Failed to close conversation logger", "error", closeErr)
		}
	}()

	pipeline, err := newPipeline(cfg)
	if err != nil {
		slog.Error("Failed to load subjects", "error", err, "path", cfg.SubjectsFile)
		return err
	}

	bulkOpts := []bulk.Option{
		bulk.WithDeleteDelay(cfg.Bulk.DeleteDelay),
		bulk.WithCreateDelay(cfg.Bulk.CreateDelay),
		bulk.WithMetrics(bulk.MustNewMetrics(reg)),
	}
	svcCfg := assistant.Config{Location: loc, BulkOptions: bulkOpts}
	svc, err := assistant.NewService(repo, pipeline, gen, svcCfg,
		assistant.WithNotifier(hub),
		assistant.WithConversationLogger(convLogger),
		assistant.WithMetrics(assistant.MustNewMetrics(reg)),
	)
	if err != nil {
		slog.Error("Failed to initialize assistant", "error", err)
		return err
	}

	limiter := assistant.NewRateLimiter(cfg.RateLimit.RequestsPerWindow, cfg.RateLimit.WindowDuration)
	defer limiter.Stop()

	sm := assistant.NewSessionManager()
	stream := notify.NewStreamHandler(hub, cfg.SSE.KeepaliveInterval, cfg.SSE.RetryDelay, logger)
	assistantHandler := assistant.NewHandler(svc, limiter, stream, cfg.SSE.MaxRequestBodySize)
	wsHandler := assistant.NewWebSocketHandler(svc, hub, sm, limiter, cfg.FrontendURL, cfg.IsDevelopment())

	base := api.NewHandler(repo, loc)
	eventsHandler := api.NewEventsHandler(base, api.EventsConfig{
		MaxBodySize: cfg.SSE.MaxRequestBodySize,
		BulkOptions: bulkOpts,
	}, hub)
	healthHandler := api.NewHealthHandler(base, 0)

	sw, err := sweeper.New(repo, sweeper.Config{
		Schedule:         cfg.Sweep.Cron,
		SessionRetention: cfg.Sweep.SessionRetention,
	}, sweeper.WithPruner(hub), sweeper.WithMetrics(sweeper.MustNewMetrics(reg)))
	if err != nil {
		slog.Error("Failed to initialize sweeper", "error", err)
		return err
	}

	r := chi.NewRouter()
	r.Use(chiMiddleware.RequestID)
	r.Use(chiMiddleware.RealIP)
	r.Use(chiMiddleware.Logger)
	r.Use(chiMiddleware.Recoverer)
	r.Use(chiMiddleware.Heartbeat("/health"))
	r.Use(middleware.CORS(middleware.Origins(cfg.FrontendURL, cfg.IsDevelopment())))

	// Public routes.
	r.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))

	r.Group(func(r chi.Router) {
		r.Use(identity.Middleware(repo, cfg.IsDevelopment()))
		healthHandler.RegisterRoutes(r)
		eventsHandler.RegisterRoutes(r)
		assistantHandler.RegisterRoutes(r)
		r.Get("/ws/assistant", wsHandler.ServeHTTP)
	})

	// SSE and WebSocket connections are long lived, so there is no WriteTimeout.
	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 0,
		IdleTimeout:  120 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		slog.Info("Server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("listen: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		sw.Start(gctx)
		<-gctx.Done()

		slog.Info("Shutting down gracefully...")
		sm.CloseAll()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server forced to shutdown: %w", err)
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		slog.Error("Server stopped with error", "error", err)
		return err
	}
	slog.Info("Server stopped successfully")
	return nil
}

// newGenerator connects to the reply provider when LLM_ADDR is set. Without
// one, or when the connection fails, replies that need it report the
// assistant as unavailable.
func newGenerator(cfg *config.Config, reg prometheus.Registerer, logger *slog.Logger) (llm.Generator, func()) {
	metrics := llm.MustNewMetrics(reg)
	if cfg.LLM.Addr == "" {
		slog.Info("Reply provider disabled (LLM_ADDR not set)")
		return llm.Instrument(llm.Unavailable{}, metrics), func() {}
	}

	grpcCfg := llm.DefaultGrpcConfig(cfg.LLM.Addr)
	grpcCfg.Method = cfg.LLM.Method
	grpcCfg.RequestTimeout = cfg.LLM.Timeout
	client, err := llm.NewGrpcGenerator(grpcCfg, logger)
	if err != nil {
		slog.Warn("Failed to connect to reply provider, free-form replies will be disabled", "error", err, "address", cfg.LLM.Addr)
		return llm.Instrument(llm.Unavailable{}, metrics), func() {}
	}
	slog.Info("Reply provider connected", "address", cfg.LLM.Addr)

	cached := llm.NewCachedGenerator(client, llm.CacheConfig{
		MaxSize: cfg.LLM.CacheSize,
		TTL:     cfg.LLM.CacheTTL,
	})
	return llm.Instrument(cached, metrics), client.Close
}
