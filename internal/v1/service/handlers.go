// Package service implements the Service Surface's unary operations (§4.6):
// create_room, get_room, list_rooms, load_history, each as a plain
// gin-gonic/gin JSON handler. Grounded on original_source's RoomService and
// on the teacher's gin route-registration style in cmd/v1/session/main.go.
package service

import (
	"net/http"
	"strconv"

	"go.uber.org/zap"

	"github.com/gin-gonic/gin"

	"github.com/roomforge/orchestrator/internal/v1/logging"
	"github.com/roomforge/orchestrator/internal/v1/registry"
	"github.com/roomforge/orchestrator/internal/v1/store"
)

// defaultListLimit, defaultHistoryLimit and maxPageLimit bound unary pagination requests the
// way the teacher's handlers clamp client-supplied page sizes.
const (
	defaultListLimit    = 20
	defaultHistoryLimit = 50
	maxPageLimit        = 200
)

// Handler serves the unary Service Surface routes. It depends only on the
// Store and Registry — room/session lifecycle is owned elsewhere.
type Handler struct {
	store    store.Store
	registry *registry.Registry
}

// NewHandler builds a Handler.
func NewHandler(st store.Store, reg *registry.Registry) *Handler {
	return &Handler{store: st, registry: reg}
}

// Register attaches the unary routes to a gin router group.
func (h *Handler) Register(r gin.IRouter) {
	r.POST("/v1/rooms", h.CreateRoom)
	r.GET("/v1/rooms/:room_id", h.GetRoom)
	r.GET("/v1/rooms", h.ListRooms)
	r.GET("/v1/rooms/:room_id/history", h.LoadHistory)
}

// errorResponse is the JSON body for every non-2xx unary response.
type errorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func notFound(c *gin.Context, code, message string) {
	c.JSON(http.StatusNotFound, errorResponse{Code: code, Message: message})
}

func invalidArgument(c *gin.Context, code, message string) {
	c.JSON(http.StatusBadRequest, errorResponse{Code: code, Message: message})
}

func internalError(c *gin.Context, code, message string, err error) {
	logging.Error(c.Request.Context(), message, zap.Error(err))
	c.JSON(http.StatusInternalServerError, errorResponse{Code: code, Message: message})
}

// createRoomRequest is the POST /v1/rooms body.
type createRoomRequest struct {
	Name        string                   `json:"name" binding:"required"`
	CreatedBy   string                   `json:"created_by" binding:"required"`
	Description string                   `json:"description"`
	Visibility  string                   `json:"visibility"`
	LLMs        []store.LLMConfiguration `json:"llms"`
}

// CreateRoom handles POST /v1/rooms.
func (h *Handler) CreateRoom(c *gin.Context) {
	var req createRoomRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		invalidArgument(c, "INVALID_ARGUMENT", err.Error())
		return
	}

	visibility := store.VisibilityPublic
	switch store.Visibility(req.Visibility) {
	case store.VisibilityPrivate:
		visibility = store.VisibilityPrivate
	case store.VisibilityPublic, "":
	default:
		invalidArgument(c, "INVALID_ARGUMENT", "visibility must be \"public\" or \"private\"")
		return
	}

	roomID, err := h.store.CreateRoom(c.Request.Context(), req.Name, req.CreatedBy, req.LLMs, req.Description, visibility)
	if err != nil {
		internalError(c, "INTERNAL", "failed to create room", err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"room_id": roomID})
}

// GetRoom handles GET /v1/rooms/:room_id. Per §4.6, it returns the room plus
// only the participants currently online in it.
func (h *Handler) GetRoom(c *gin.Context) {
	roomID := c.Param("room_id")
	room, ok, err := h.store.GetRoom(c.Request.Context(), roomID)
	if err != nil {
		internalError(c, "INTERNAL", "failed to load room", err)
		return
	}
	if !ok {
		notFound(c, "ROOM_NOT_FOUND", "room not found")
		return
	}

	participants, err := h.store.GetParticipants(c.Request.Context(), roomID)
	if err != nil {
		internalError(c, "INTERNAL", "failed to load participants", err)
		return
	}
	online := h.registry.GetOnlineUserIDs(roomID)
	onlineParticipants := make([]store.Participant, 0, len(participants))
	for _, p := range participants {
		if online.Has(p.UserID) {
			p.IsOnline = true
			onlineParticipants = append(onlineParticipants, p)
		}
	}

	c.JSON(http.StatusOK, gin.H{"room": room, "participants": onlineParticipants})
}

// ListRooms handles GET /v1/rooms?user_id=&limit=&cursor=.
func (h *Handler) ListRooms(c *gin.Context) {
	userID := c.Query("user_id")
	limit := parseLimit(c.Query("limit"), defaultListLimit)
	cursor := c.Query("cursor")

	rooms, nextCursor, err := h.store.ListRooms(c.Request.Context(), userID, limit, cursor)
	if err != nil {
		internalError(c, "INTERNAL", "failed to list rooms", err)
		return
	}

	resp := gin.H{"rooms": rooms}
	if nextCursor != "" {
		resp["next_cursor"] = nextCursor
	}
	c.JSON(http.StatusOK, resp)
}

// LoadHistory handles GET /v1/rooms/:room_id/history?limit=&cursor=.
func (h *Handler) LoadHistory(c *gin.Context) {
	roomID := c.Param("room_id")
	if _, ok, err := h.store.GetRoom(c.Request.Context(), roomID); err != nil {
		internalError(c, "INTERNAL", "failed to load room", err)
		return
	} else if !ok {
		notFound(c, "ROOM_NOT_FOUND", "room not found")
		return
	}

	limit := parseLimit(c.Query("limit"), defaultHistoryLimit)
	cursor := c.Query("cursor")

	messages, nextCursor, err := h.store.LoadHistory(c.Request.Context(), roomID, limit, cursor)
	if err != nil {
		internalError(c, "INTERNAL", "failed to load history", err)
		return
	}

	resp := gin.H{"messages": messages}
	if nextCursor != "" {
		resp["next_cursor"] = nextCursor
	}
	c.JSON(http.StatusOK, resp)
}

// parseLimit clamps a client-supplied page-size query param to (0, maxPageLimit],
// falling back to def when absent or invalid.
func parseLimit(raw string, def int) int {
	if raw == "" {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 {
		return def
	}
	if n > maxPageLimit {
		return maxPageLimit
	}
	return n
}
