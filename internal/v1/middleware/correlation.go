// Package middleware contains Gin middleware for the application.
package middleware

import (
	"context"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/roomforge/orchestrator/internal/v1/logging"
)

// HeaderXCorrelationID is the header key for the correlation ID.
const HeaderXCorrelationID = "X-Correlation-ID"

// CorrelationID adds a correlation ID to the request context, both as a gin
// key (for handlers reading it via c.Get) and on c.Request's context.Context
// (for logging.Info/Warn/Error, which read correlation_id off the context
// a handler passes them, not off gin's separate key/value store).
func CorrelationID() gin.HandlerFunc {
	return func(c *gin.Context) {
		correlationID := c.GetHeader(HeaderXCorrelationID)
		if correlationID == "" {
			correlationID = uuid.New().String()
		}

		// Set in header for response
		c.Header(HeaderXCorrelationID, correlationID)

		// Set in gin context for handlers
		c.Set(string(logging.CorrelationIDKey), correlationID)

		// Set on the request's context.Context so logging helpers pick it up
		ctx := context.WithValue(c.Request.Context(), logging.CorrelationIDKey, correlationID)
		c.Request = c.Request.WithContext(ctx)

		// Pass to next handlers
		c.Next()
	}
}

// RoomContext tags the request's context.Context with the :room_id path
// param, so logging calls anywhere downstream in a room-scoped handler
// (get_room, load_history, the session WebSocket upgrade) carry room_id
// without every call site repeating zap.String("room_id", ...).
func RoomContext() gin.HandlerFunc {
	return func(c *gin.Context) {
		if roomID := c.Param("room_id"); roomID != "" {
			c.Request = c.Request.WithContext(logging.WithRoom(c.Request.Context(), roomID))
		}
		c.Next()
	}
}
