// Package session's hub.go implements the WebSocket-upgrade half of the
// Service Surface (§4.6): GET /v1/rooms/:room_id/session. Grounded on the
// teacher's Hub.ServeWs (origin-checked upgrader, per-connection Client
// construction, goroutine startup), stripped of JWT authentication per the
// dropped auth Non-goal and of room-auto-creation (rooms are created only
// through the unary create_room operation now).
package session

import (
	"net/http"
	"net/url"
	"sync"

	"go.uber.org/zap"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/roomforge/orchestrator/internal/v1/dispatcher"
	"github.com/roomforge/orchestrator/internal/v1/logging"
	"github.com/roomforge/orchestrator/internal/v1/registry"
	"github.com/roomforge/orchestrator/internal/v1/store"
)

// Hub upgrades inbound HTTP requests to the Session Handler's WebSocket
// stream. It is stateless beyond its dependencies — room lifecycle lives
// entirely in the Store, presence in the Registry.
type Hub struct {
	store          store.Store
	registry       *registry.Registry
	dispatcher     *dispatcher.Dispatcher
	allowedOrigins []string
}

// NewHub builds a Hub. allowedOrigins empty means "allow every origin",
// matching the teacher's fallback for non-browser clients.
func NewHub(st store.Store, reg *registry.Registry, disp *dispatcher.Dispatcher, allowedOrigins []string) *Hub {
	return &Hub{store: st, registry: reg, dispatcher: disp, allowedOrigins: allowedOrigins}
}

func (h *Hub) validateOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	if len(h.allowedOrigins) == 0 {
		return true
	}
	originURL, err := url.Parse(origin)
	if err != nil {
		return false
	}
	for _, allowed := range h.allowedOrigins {
		allowedURL, err := url.Parse(allowed)
		if err != nil {
			continue
		}
		if originURL.Scheme == allowedURL.Scheme && originURL.Host == allowedURL.Host {
			return true
		}
	}
	return false
}

// ServeWS upgrades the request and runs a Handler for the stream's
// lifetime. The room_id path parameter is advisory only — the binding join
// frame (§4.3) is what actually attaches the stream to a room.
func (h *Hub) ServeWS(c *gin.Context) {
	upgrader := websocket.Upgrader{
		CheckOrigin: h.validateOrigin,
		WriteBufferPool: &sync.Pool{
			New: func() any { return make([]byte, 4096) },
		},
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		logging.Error(c.Request.Context(), "failed to upgrade websocket connection", zap.Error(err))
		return
	}

	handler := NewHandler(conn, h.store, h.registry, h.dispatcher)
	handler.Run()
}
