package dispatcher

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/roomforge/orchestrator/internal/v1/events"
	"github.com/roomforge/orchestrator/internal/v1/provider"
	"github.com/roomforge/orchestrator/internal/v1/provider/fake"
	"github.com/roomforge/orchestrator/internal/v1/registry"
	"github.com/roomforge/orchestrator/internal/v1/store"
)

type fakeHandler struct {
	userID string
	ch     chan any
}

func newFakeHandler(userID string) *fakeHandler {
	return &fakeHandler{userID: userID, ch: make(chan any, 64)}
}
func (f *fakeHandler) UserID() string   { return f.userID }
func (f *fakeHandler) Enqueue(e any)    { f.ch <- e }

func waitForType(t *testing.T, ch <-chan any, want events.Type, timeout time.Duration) any {
	t.Helper()
	deadline := time.After(timeout)
	for {
		select {
		case e := <-ch:
			if typeOf(e) == want {
				return e
			}
		case <-deadline:
			t.Fatalf("timed out waiting for event %s", want)
		}
	}
}

func typeOf(e any) events.Type {
	switch v := e.(type) {
	case events.LLMThinking:
		return v.Type
	case events.LLMChunk:
		return v.Type
	case events.LLMDone:
		return v.Type
	case events.MessageReceived:
		return v.Type
	case events.PollVoted:
		return v.Type
	case events.Error:
		return v.Type
	default:
		return ""
	}
}

func setup(t *testing.T, scripts ...fake.Script) (*Dispatcher, *store.MemoryStore, *registry.Registry, *fakeHandler) {
	t.Helper()
	st := store.NewMemoryStore()
	reg := registry.New()
	fp := fake.New(scripts...)
	resolve := func(model string) (provider.ChatProvider, bool) { return fp, true }
	d := New(st, reg, resolve)

	roomID, err := st.CreateRoom(context.Background(), "Test Room", "alice", []store.LLMConfiguration{
		{ID: "claude", Model: "claude-3-5-sonnet", DisplayName: "Claude"},
	}, "", store.VisibilityPublic)
	require.NoError(t, err)

	h := newFakeHandler("alice")
	reg.Register(roomID, h)

	t.Cleanup(func() {
		d.Shutdown()
	})
	return d, st, reg, h
}

func TestDispatchMentions_StoresMessageAndBroadcastsLifecycle(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	d, st, _, h := setup(t, fake.Script{
		Deltas: []provider.Delta{{Content: "Claude: hi there"}},
	})
	room, _, _ := st.GetRoom(context.Background(), "")
	_ = room

	rooms, _, _ := st.ListRooms(context.Background(), "alice", 10, "")
	require.Len(t, rooms, 1)
	roomID := rooms[0].ID
	roomVal, _, _ := st.GetRoom(context.Background(), roomID)

	d.DispatchMentions(roomID, "@Claude hello", nil, "trigger-1", roomVal)

	waitForType(t, h.ch, events.TypeLLMThinking, time.Second)
	waitForType(t, h.ch, events.TypeLLMChunk, time.Second)
	waitForType(t, h.ch, events.TypeMessageReceived, time.Second)
	waitForType(t, h.ch, events.TypeLLMDone, time.Second)

	history, _, err := st.LoadHistory(context.Background(), roomID, 10, "")
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, "hi there", history[0].Content)
	assert.Equal(t, "claude", history[0].SenderID)
}

func TestDispatchMentions_OptOutDoesNotStore(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	d, st, _, h := setup(t, fake.Script{
		Deltas: []provider.Delta{{OptedOut: true}},
	})
	rooms, _, _ := st.ListRooms(context.Background(), "alice", 10, "")
	roomID := rooms[0].ID
	roomVal, _, _ := st.GetRoom(context.Background(), roomID)

	d.DispatchMentions(roomID, "@Claude hello", nil, "trigger-1", roomVal)

	waitForType(t, h.ch, events.TypeLLMThinking, time.Second)
	done := waitForType(t, h.ch, events.TypeLLMDone, time.Second).(events.LLMDone)
	assert.True(t, done.OptedOut)

	history, _, err := st.LoadHistory(context.Background(), roomID, 10, "")
	require.NoError(t, err)
	assert.Empty(t, history)
}

func TestDispatchPollVoting_AppliesVoteToolCall(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	d, st, _, h := setup(t)
	rooms, _, _ := st.ListRooms(context.Background(), "alice", 10, "")
	roomID := rooms[0].ID

	poll, err := st.CreatePoll(context.Background(), roomID, "alice", "Alice", store.SenderHuman, "Pineapple on pizza?",
		[]store.NewPollOption{{Text: "Yes"}, {Text: "No"}}, false, false, true)
	require.NoError(t, err)

	// reconfigure the dispatcher's fake provider with a vote tool call script
	fp := fake.New(fake.Script{
		Deltas: []provider.Delta{{ToolCalls: []provider.ToolCall{{
			Name:      "vote_on_poll",
			Arguments: `{"poll_id":"` + poll.ID + `","option_ids":["` + poll.Options[0].ID + `"]}`,
			Done:      true,
		}}}},
	})
	d.resolve = func(model string) (provider.ChatProvider, bool) { return fp, true }

	d.DispatchPollVoting(roomID, poll.ID, poll.Question, poll.Options, true, "trigger-2")

	waitForType(t, h.ch, events.TypeLLMThinking, time.Second)
	voted := waitForType(t, h.ch, events.TypePollVoted, time.Second).(events.PollVoted)
	assert.Equal(t, poll.ID, voted.PollID)
	waitForType(t, h.ch, events.TypeLLMDone, time.Second)

	refreshed, ok, err := st.GetPoll(context.Background(), roomID, poll.ID)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Len(t, refreshed.Options[0].Votes, 1)
}

func TestCancelLLMTask_AwaitsCompletionAndBroadcastsDone(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	gate := make(chan struct{})
	d, st, _, h := setup(t, fake.Script{
		Deltas: []provider.Delta{{Content: "partial"}},
		Gate:   gate,
	})
	rooms, _, _ := st.ListRooms(context.Background(), "alice", 10, "")
	roomID := rooms[0].ID
	roomVal, _, _ := st.GetRoom(context.Background(), roomID)

	d.DispatchMentions(roomID, "@Claude hello", nil, "trigger-1", roomVal)
	waitForType(t, h.ch, events.TypeLLMThinking, time.Second)

	cancelled := d.CancelLLMTask(roomID, "claude")
	assert.True(t, cancelled)

	done := waitForType(t, h.ch, events.TypeLLMDone, time.Second).(events.LLMDone)
	assert.Equal(t, "claude", done.LLMID)

	close(gate)
}
