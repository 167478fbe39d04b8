package redisstore

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"

	"github.com/roomforge/orchestrator/internal/v1/metrics"
	"github.com/roomforge/orchestrator/internal/v1/store"
)

func newTestStore(t *testing.T) *RedisStore {
	t.Helper()
	mr := miniredis.RunT(t)
	s, err := New(context.Background(), mr.Addr(), "")
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestRedisStore_RoomLifecycle(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	roomID, err := s.CreateRoom(ctx, "room", "alice", nil, "desc", store.VisibilityPublic)
	require.NoError(t, err)

	room, ok, err := s.GetRoom(ctx, roomID)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "room", room.Name)

	err = s.AddLLM(ctx, roomID, store.LLMConfiguration{ID: "claude", DisplayName: "Claude", Model: "claude-3"})
	require.NoError(t, err)

	room, _, err = s.GetRoom(ctx, roomID)
	require.NoError(t, err)
	require.Len(t, room.LLMs, 1)
}

func TestRedisStore_HistoryAndVotes(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	roomID, err := s.CreateRoom(ctx, "room", "alice", nil, "", store.VisibilityPublic)
	require.NoError(t, err)

	for i := 0; i < 5; i++ {
		_, err := s.AddMessage(ctx, roomID, store.NewMessageInput{SenderID: "alice", SenderName: "Alice", SenderType: store.SenderHuman, Content: "hi"})
		require.NoError(t, err)
	}
	page, cursor, err := s.LoadHistory(ctx, roomID, 3, "")
	require.NoError(t, err)
	require.Len(t, page, 3)
	require.NotEmpty(t, cursor)

	poll, err := s.CreatePoll(ctx, roomID, "alice", "Alice", store.SenderHuman, "q", []store.NewPollOption{{Text: "a"}, {Text: "b"}}, false, false, false)
	require.NoError(t, err)

	_, _, _, ok, err := s.AddVote(ctx, roomID, poll.ID, poll.Options[0].ID, "bob", "Bob", "")
	require.NoError(t, err)
	require.True(t, ok)

	_, _, _, ok, err = s.AddVote(ctx, roomID, poll.ID, poll.Options[1].ID, "bob", "Bob", "")
	require.NoError(t, err)
	require.True(t, ok)

	got, _, err := s.GetPoll(ctx, roomID, poll.ID)
	require.NoError(t, err)
	require.Empty(t, got.Options[0].Votes)
	require.Len(t, got.Options[1].Votes, 1)
}

func TestRedisStore_CallRecordsMetrics(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	before := testutil.ToFloat64(metrics.RedisOperationsTotal.WithLabelValues("create_room", "success"))

	_, err := s.CreateRoom(ctx, "room", "alice", nil, "", store.VisibilityPublic)
	require.NoError(t, err)

	after := testutil.ToFloat64(metrics.RedisOperationsTotal.WithLabelValues("create_room", "success"))
	require.Equal(t, before+1, after)
}

func TestRedisStore_BreakerTripSetsCircuitBreakerState(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	for i := 0; i < 10; i++ {
		_, _, _ = s.GetRoom(ctx, "nonexistent")
	}
	_ = s.client.Close()

	for i := 0; i < 10; i++ {
		_, _, _ = s.GetRoom(ctx, "nonexistent")
	}

	require.Equal(t, float64(1), testutil.ToFloat64(metrics.CircuitBreakerState.WithLabelValues("redisstore")))
}
