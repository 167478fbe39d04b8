package service

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roomforge/orchestrator/internal/v1/registry"
	"github.com/roomforge/orchestrator/internal/v1/store"
)

func setup(t *testing.T) (*gin.Engine, *store.MemoryStore, *registry.Registry) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	st := store.NewMemoryStore()
	reg := registry.New()
	h := NewHandler(st, reg)
	r := gin.New()
	h.Register(r)
	return r, st, reg
}

type fakeHandler struct{ userID string }

func (f *fakeHandler) UserID() string   { return f.userID }
func (f *fakeHandler) Enqueue(any) {}

func TestCreateRoom_Succeeds(t *testing.T) {
	r, _, _ := setup(t)

	body := `{"name":"General","created_by":"alice","visibility":"public"}`
	req := httptest.NewRequest(http.MethodPost, "/v1/rooms", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	require.Equal(t, http.StatusCreated, w.Code)
	var resp map[string]string
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.NotEmpty(t, resp["room_id"])
}

func TestCreateRoom_RejectsBadVisibility(t *testing.T) {
	r, _, _ := setup(t)

	body := `{"name":"General","created_by":"alice","visibility":"bogus"}`
	req := httptest.NewRequest(http.MethodPost, "/v1/rooms", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestGetRoom_NotFound(t *testing.T) {
	r, _, _ := setup(t)

	req := httptest.NewRequest(http.MethodGet, "/v1/rooms/missing", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Contains(t, w.Body.String(), "ROOM_NOT_FOUND")
}

func TestGetRoom_OnlyReturnsOnlineParticipants(t *testing.T) {
	r, st, reg := setup(t)
	ctx := context.Background()

	roomID, err := st.CreateRoom(ctx, "General", "alice", nil, "", store.VisibilityPublic)
	require.NoError(t, err)
	_, err = st.AddParticipant(ctx, roomID, "alice", "Alice", store.RoleAdmin, "", "")
	require.NoError(t, err)
	_, err = st.AddParticipant(ctx, roomID, "bob", "Bob", store.RoleMember, "", "")
	require.NoError(t, err)

	reg.Register(roomID, &fakeHandler{userID: "alice"})

	req := httptest.NewRequest(http.MethodGet, "/v1/rooms/"+roomID, nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	var resp struct {
		Participants []store.Participant `json:"participants"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.Len(t, resp.Participants, 1)
	assert.Equal(t, "alice", resp.Participants[0].UserID)
	assert.True(t, resp.Participants[0].IsOnline)
}

func TestListRooms_FiltersPrivateRoomsByCreator(t *testing.T) {
	r, st, _ := setup(t)
	ctx := context.Background()

	_, err := st.CreateRoom(ctx, "Alice's room", "alice", nil, "", store.VisibilityPrivate)
	require.NoError(t, err)
	_, err = st.CreateRoom(ctx, "Public room", "bob", nil, "", store.VisibilityPublic)
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodGet, "/v1/rooms?user_id=bob", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	var resp struct {
		Rooms []store.Room `json:"rooms"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.Len(t, resp.Rooms, 1)
	assert.Equal(t, "Public room", resp.Rooms[0].Name)
}

func TestLoadHistory_NotFoundForUnknownRoom(t *testing.T) {
	r, _, _ := setup(t)

	req := httptest.NewRequest(http.MethodGet, "/v1/rooms/missing/history", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestLoadHistory_ReturnsMessages(t *testing.T) {
	r, st, _ := setup(t)
	ctx := context.Background()

	roomID, err := st.CreateRoom(ctx, "General", "alice", nil, "", store.VisibilityPublic)
	require.NoError(t, err)
	_, err = st.AddMessage(ctx, roomID, store.NewMessageInput{
		SenderID: "alice", SenderName: "Alice", SenderType: store.SenderHuman, Content: "hi",
	})
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodGet, "/v1/rooms/"+roomID+"/history", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	var resp struct {
		Messages []store.Message `json:"messages"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.Len(t, resp.Messages, 1)
	assert.Equal(t, "hi", resp.Messages[0].Content)
}
