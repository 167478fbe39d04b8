package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"log/slog"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/roomforge/orchestrator/internal/v1/config"
	"github.com/roomforge/orchestrator/internal/v1/dispatcher"
	"github.com/roomforge/orchestrator/internal/v1/health"
	"github.com/roomforge/orchestrator/internal/v1/middleware"
	"github.com/roomforge/orchestrator/internal/v1/provider"
	"github.com/roomforge/orchestrator/internal/v1/provider/anthropic"
	"github.com/roomforge/orchestrator/internal/v1/provider/openai"
	"github.com/roomforge/orchestrator/internal/v1/registry"
	"github.com/roomforge/orchestrator/internal/v1/service"
	"github.com/roomforge/orchestrator/internal/v1/session"
	"github.com/roomforge/orchestrator/internal/v1/store"
	"github.com/roomforge/orchestrator/internal/v1/store/redisstore"
	"github.com/roomforge/orchestrator/internal/v1/tracing"
)

func main() {
	envPaths := []string{".env", "../../.env", "../.env"}
	for _, path := range envPaths {
		if err := godotenv.Load(path); err == nil {
			slog.Info("loaded environment from", "path", path)
			break
		}
	}

	cfg, err := config.ValidateEnv()
	if err != nil {
		slog.Error("invalid configuration", "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var tracerShutdown func(context.Context) error
	if cfg.OTLPCollectorAddr != "" {
		tp, err := tracing.InitTracer(ctx, "room-orchestrator", cfg.GoEnv, string(cfg.StoreBackend), cfg.OTLPCollectorAddr)
		if err != nil {
			slog.Error("failed to initialize tracer, continuing without tracing", "error", err)
		} else {
			tracerShutdown = tp.Shutdown
		}
	}

	st, closeStore, err := buildStore(ctx, cfg)
	if err != nil {
		slog.Error("failed to initialize store", "error", err)
		os.Exit(1)
	}
	defer closeStore()

	reg := registry.New()

	providers := buildProviders(cfg)
	resolve := func(model string) (provider.ChatProvider, bool) {
		p, ok := resolveProvider(providers, cfg.DefaultModel, model)
		return p, ok
	}
	disp := dispatcher.New(st, reg, resolve)

	allowedOrigins := splitAndTrim(cfg.AllowedOrigins)
	hub := session.NewHub(st, reg, disp, allowedOrigins)
	svc := service.NewHandler(st, reg)

	healthCheckers := make(map[string]health.ProviderChecker, len(providers))
	for id, p := range providers {
		healthCheckers[id] = p.(health.ProviderChecker)
	}
	var redisPinger health.RedisPinger
	if rs, ok := st.(*redisstore.RedisStore); ok {
		redisPinger = rs
	}
	healthHandler := health.NewHandler(redisPinger, healthCheckers)

	if cfg.GoEnv == "production" {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(middleware.CorrelationID())
	router.Use(middleware.RoomContext())

	corsConfig := cors.DefaultConfig()
	if len(allowedOrigins) > 0 {
		corsConfig.AllowOrigins = allowedOrigins
	} else {
		corsConfig.AllowAllOrigins = true
	}
	router.Use(cors.New(corsConfig))

	router.GET("/metrics", gin.WrapH(promhttp.Handler()))
	router.GET("/health/live", healthHandler.Liveness)
	router.GET("/health/ready", healthHandler.Readiness)

	svc.Register(router)
	router.GET("/v1/rooms/:room_id/session", hub.ServeWS)

	srv := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: router,
	}

	go func() {
		slog.Info("room orchestrator starting", "port", cfg.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server failed", "error", err)
		}
	}()

	<-ctx.Done()
	slog.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("server forced to shutdown", "error", err)
	}

	disp.Shutdown()

	if tracerShutdown != nil {
		if err := tracerShutdown(shutdownCtx); err != nil {
			slog.Error("tracer shutdown failed", "error", err)
		}
	}

	slog.Info("shutdown complete")
}

func buildStore(ctx context.Context, cfg *config.Config) (store.Store, func(), error) {
	switch cfg.StoreBackend {
	case config.StoreBackendRedis:
		rs, err := redisstore.New(ctx, cfg.RedisAddr, cfg.RedisPassword)
		if err != nil {
			return nil, nil, err
		}
		return rs, func() { rs.Close() }, nil
	default:
		return store.NewMemoryStore(), func() {}, nil
	}
}

// buildProviders wires one Client per configured Chat Provider credential.
// Both satisfy provider.ChatProvider and health.ProviderChecker.
func buildProviders(cfg *config.Config) map[string]interface {
	provider.ChatProvider
	health.ProviderChecker
} {
	clients := make(map[string]interface {
		provider.ChatProvider
		health.ProviderChecker
	})
	if cfg.OpenAIAPIKey != "" {
		clients["openai"] = openai.New(cfg.OpenAIAPIKey, cfg.OpenAIBaseURL)
	}
	if cfg.AnthropicAPIKey != "" {
		clients["anthropic"] = anthropic.New(cfg.AnthropicAPIKey, cfg.AnthropicBaseURL)
	}
	return clients
}

// resolveProvider picks the Chat Provider backing a model id by name prefix,
// the way the teacher's config layer keys service addresses by name: models
// starting with "gpt" or "o1" go to OpenAI, everything else (including the
// empty model, which falls back to defaultModel) goes to Anthropic.
func resolveProvider(providers map[string]interface {
	provider.ChatProvider
	health.ProviderChecker
}, defaultModel, model string) (provider.ChatProvider, bool) {
	if model == "" {
		model = defaultModel
	}
	if strings.HasPrefix(model, "gpt") || strings.HasPrefix(model, "o1") {
		if p, ok := providers["openai"]; ok {
			return p, true
		}
		return nil, false
	}
	if p, ok := providers["anthropic"]; ok {
		return p, true
	}
	return nil, false
}

func splitAndTrim(csv string) []string {
	if csv == "" {
		return nil
	}
	parts := strings.Split(csv, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
