// Package health exposes liveness and readiness probes. Grounded on the
// teacher's internal/v1/health.Handler, with the Rust SFU gRPC check
// replaced by a Chat Provider reachability check and the Redis check
// retargeted at store.RedisStore.
package health

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/roomforge/orchestrator/internal/v1/logging"
)

// RedisPinger is the subset of store.RedisStore's surface a readiness check
// needs. nil means the deployment is running store.MemoryStore, which has
// nothing to check.
type RedisPinger interface {
	Ping(ctx context.Context) error
}

// ProviderChecker reports whether a configured Chat Provider backend is
// currently reachable, keyed by the same id used when it was registered
// with the Dispatcher's provider resolver.
type ProviderChecker interface {
	Check(ctx context.Context, providerID string) string
}

// Handler serves the liveness and readiness endpoints.
type Handler struct {
	redis     RedisPinger
	providers map[string]ProviderChecker
}

// NewHandler builds a Handler. redis may be nil (single-instance,
// store.MemoryStore deployments skip the Redis check entirely).
func NewHandler(redis RedisPinger, providers map[string]ProviderChecker) *Handler {
	return &Handler{redis: redis, providers: providers}
}

// LivenessResponse is the liveness probe response.
type LivenessResponse struct {
	Status    string `json:"status"`
	Timestamp string `json:"timestamp"`
}

// ReadinessResponse is the readiness probe response.
type ReadinessResponse struct {
	Status    string            `json:"status"`
	Checks    map[string]string `json:"checks"`
	Timestamp string            `json:"timestamp"`
}

// Liveness reports whether the process is alive, with no dependency checks.
// GET /health/live
func (h *Handler) Liveness(c *gin.Context) {
	c.JSON(http.StatusOK, LivenessResponse{
		Status:    "alive",
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	})
}

// Readiness reports whether every configured dependency is reachable.
// GET /health/ready
func (h *Handler) Readiness(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 3*time.Second)
	defer cancel()

	checks := make(map[string]string)
	allHealthy := true

	redisStatus := h.checkRedis(ctx)
	checks["redis"] = redisStatus
	if redisStatus != "healthy" {
		allHealthy = false
	}

	for id, checker := range h.providers {
		status := checker.Check(ctx, id)
		checks["provider:"+id] = status
		if status != "healthy" {
			allHealthy = false
		}
	}

	status := "ready"
	statusCode := http.StatusOK
	if !allHealthy {
		status = "unavailable"
		statusCode = http.StatusServiceUnavailable
	}

	c.JSON(statusCode, ReadinessResponse{
		Status:    status,
		Checks:    checks,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	})
}

func (h *Handler) checkRedis(ctx context.Context) string {
	if h.redis == nil {
		return "healthy"
	}
	if err := h.redis.Ping(ctx); err != nil {
		logging.Error(ctx, "redis health check failed", zap.Error(err))
		return "unhealthy"
	}
	return "healthy"
}

// MarshalJSON gives ReadinessResponse a stable field order in responses.
func (r ReadinessResponse) MarshalJSON() ([]byte, error) {
	type Alias ReadinessResponse
	return json.Marshal(&struct{ *Alias }{Alias: (*Alias)(&r)})
}
