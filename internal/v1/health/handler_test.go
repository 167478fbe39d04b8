package health

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakePinger struct{ err error }

func (p fakePinger) Ping(context.Context) error { return p.err }

type fakeChecker struct{ status string }

func (c fakeChecker) Check(context.Context, string) string { return c.status }

func TestLiveness_AlwaysSucceeds(t *testing.T) {
	gin.SetMode(gin.TestMode)
	handler := NewHandler(nil, nil)

	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request = httptest.NewRequest("GET", "/health/live", nil)

	handler.Liveness(c)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "alive")
	assert.Contains(t, w.Body.String(), "timestamp")
}

func TestReadiness_NilRedisIsHealthy(t *testing.T) {
	gin.SetMode(gin.TestMode)
	handler := NewHandler(nil, nil)

	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request = httptest.NewRequest("GET", "/health/ready", nil)

	handler.Readiness(c)

	assert.Equal(t, http.StatusOK, w.Code)
	body := w.Body.String()
	assert.Contains(t, body, `"status":"ready"`)
	assert.Contains(t, body, `"redis":"healthy"`)
}

func TestReadiness_RedisDown(t *testing.T) {
	gin.SetMode(gin.TestMode)
	handler := NewHandler(fakePinger{err: errors.New("connection refused")}, nil)

	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request = httptest.NewRequest("GET", "/health/ready", nil)

	handler.Readiness(c)

	require.Equal(t, http.StatusServiceUnavailable, w.Code)
	body := w.Body.String()
	assert.Contains(t, body, `"status":"unavailable"`)
	assert.Contains(t, body, `"redis":"unhealthy"`)
}

func TestReadiness_ReportsEachProvider(t *testing.T) {
	gin.SetMode(gin.TestMode)
	providers := map[string]ProviderChecker{
		"claude": fakeChecker{status: "healthy"},
		"gpt":    fakeChecker{status: "unhealthy"},
	}
	handler := NewHandler(nil, providers)

	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request = httptest.NewRequest("GET", "/health/ready", nil)

	handler.Readiness(c)

	require.Equal(t, http.StatusServiceUnavailable, w.Code)
	body := w.Body.String()
	assert.Contains(t, body, `"provider:claude":"healthy"`)
	assert.Contains(t, body, `"provider:gpt":"unhealthy"`)
}
