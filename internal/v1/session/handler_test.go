package session

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roomforge/orchestrator/internal/v1/dispatcher"
	"github.com/roomforge/orchestrator/internal/v1/events"
	"github.com/roomforge/orchestrator/internal/v1/provider"
	"github.com/roomforge/orchestrator/internal/v1/provider/fake"
	"github.com/roomforge/orchestrator/internal/v1/registry"
	"github.com/roomforge/orchestrator/internal/v1/store"
)

// fakeConn is a scripted wsConnection double. Grounded on the teacher's
// MockWSConnection (client_test.go): a queue of inbound frames to replay
// plus a recorder of everything written back.
type fakeConn struct {
	mu      sync.Mutex
	inbound [][]byte
	closed  bool
	written [][]byte
	wake    chan struct{}
}

func newFakeConn(frames ...any) *fakeConn {
	c := &fakeConn{wake: make(chan struct{}, 1)}
	for _, f := range frames {
		data, err := json.Marshal(f)
		if err != nil {
			panic(err)
		}
		c.inbound = append(c.inbound, data)
	}
	return c
}

func (c *fakeConn) ReadMessage() (int, []byte, error) {
	c.mu.Lock()
	if len(c.inbound) == 0 {
		closed := c.closed
		c.mu.Unlock()
		if closed {
			return 0, nil, errConnClosed
		}
		<-c.wake
		return c.ReadMessage()
	}
	data := c.inbound[0]
	c.inbound = c.inbound[1:]
	c.mu.Unlock()
	return 1, data, nil
}

func (c *fakeConn) WriteMessage(_ int, data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.written = append(c.written, data)
	return nil
}

func (c *fakeConn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		c.closed = true
		select {
		case c.wake <- struct{}{}:
		default:
		}
	}
	return nil
}

func (c *fakeConn) SetWriteDeadline(time.Time) error { return nil }

func (c *fakeConn) snapshotWritten() []json.RawMessage {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]json.RawMessage, len(c.written))
	for i, w := range c.written {
		out[i] = json.RawMessage(append([]byte(nil), w...))
	}
	return out
}

var errConnClosed = &closedError{}

type closedError struct{}

func (*closedError) Error() string { return "connection closed" }

func setupHandlerTest(t *testing.T) (*store.MemoryStore, *registry.Registry, *dispatcher.Dispatcher) {
	t.Helper()
	st := store.NewMemoryStore()
	reg := registry.New()
	fp := fake.New(fake.Script{})
	resolve := func(model string) (provider.ChatProvider, bool) { return fp, true }
	d := dispatcher.New(st, reg, resolve)
	t.Cleanup(d.Shutdown)
	return st, reg, d
}

func eventType(raw json.RawMessage) string {
	var probe struct {
		Type string `json:"type"`
	}
	_ = json.Unmarshal(raw, &probe)
	return probe.Type
}

func TestHandlerJoin_SendsRoomStateAndBroadcastsUserJoined(t *testing.T) {
	st, reg, d := setupHandlerTest(t)
	roomID, err := st.CreateRoom(context.Background(), "General", "alice", nil, "", store.VisibilityPublic)
	require.NoError(t, err)

	// a second handler already in the room, to observe the user_joined broadcast
	observerConn := newFakeConn()
	observer := NewHandler(observerConn, st, reg, d)
	reg.Register(roomID, observer)
	go observer.Run()
	t.Cleanup(func() { observerConn.Close() })

	joiner := newFakeConn(ClientFrame{Type: FrameJoin, Data: mustJSON(JoinData{
		RoomID: roomID, UserID: "bob", DisplayName: "Bob",
	})})
	h := NewHandler(joiner, st, reg, d)

	done := make(chan struct{})
	go func() { defer close(done); h.Run() }()

	waitFor(t, func() bool { return len(joiner.snapshotWritten()) >= 1 })
	joinerMsgs := joiner.snapshotWritten()
	require.Len(t, joinerMsgs, 1)
	assert.Equal(t, string(events.TypeRoomState), eventType(joinerMsgs[0]))

	waitFor(t, func() bool {
		for _, raw := range observerConn.snapshotWritten() {
			if eventType(raw) == string(events.TypeUserJoined) {
				return true
			}
		}
		return false
	})

	joiner.Close()
	<-done
}

func TestHandlerMessage_StoresAndBroadcasts(t *testing.T) {
	st, reg, d := setupHandlerTest(t)
	roomID, err := st.CreateRoom(context.Background(), "General", "alice", nil, "", store.VisibilityPublic)
	require.NoError(t, err)

	conn := newFakeConn(
		ClientFrame{Type: FrameJoin, Data: mustJSON(JoinData{RoomID: roomID, UserID: "bob", DisplayName: "Bob"})},
		ClientFrame{Type: FrameMessage, Data: mustJSON(MessageData{Content: "hello room"})},
	)
	h := NewHandler(conn, st, reg, d)

	done := make(chan struct{})
	go func() { defer close(done); h.Run() }()

	waitFor(t, func() bool {
		history, _, _ := st.LoadHistory(context.Background(), roomID, 10, "")
		return len(history) == 1
	})

	history, _, err := st.LoadHistory(context.Background(), roomID, 10, "")
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, "hello room", history[0].Content)
	assert.Equal(t, "bob", history[0].SenderID)

	waitFor(t, func() bool {
		for _, raw := range conn.snapshotWritten() {
			if eventType(raw) == string(events.TypeMessageReceived) {
				return true
			}
		}
		return false
	})

	conn.Close()
	<-done
}

func TestHandlerTerminate_BroadcastsUserLeftWhenLastHandler(t *testing.T) {
	st, reg, d := setupHandlerTest(t)
	roomID, err := st.CreateRoom(context.Background(), "General", "alice", nil, "", store.VisibilityPublic)
	require.NoError(t, err)

	// an observer in the room to receive the user_left broadcast
	observerConn := newFakeConn()
	observer := NewHandler(observerConn, st, reg, d)
	reg.Register(roomID, observer)
	go observer.Run()
	t.Cleanup(func() { observerConn.Close() })

	conn := newFakeConn(ClientFrame{Type: FrameJoin, Data: mustJSON(JoinData{RoomID: roomID, UserID: "bob", DisplayName: "Bob"})})
	h := NewHandler(conn, st, reg, d)

	done := make(chan struct{})
	go func() { defer close(done); h.Run() }()
	waitFor(t, func() bool { return len(conn.snapshotWritten()) >= 1 })

	conn.Close()
	<-done

	online := reg.GetOnlineUserIDs(roomID)
	assert.False(t, online.Has("bob"))

	waitFor(t, func() bool {
		for _, raw := range observerConn.snapshotWritten() {
			if eventType(raw) == string(events.TypeUserLeft) {
				return true
			}
		}
		return false
	})
}

func TestHandlerTerminate_CancelsOriginatedLLMTask(t *testing.T) {
	st := store.NewMemoryStore()
	reg := registry.New()
	gate := make(chan struct{}) // never closed: Stream blocks until cancelled
	fp := fake.New(fake.Script{Deltas: []provider.Delta{{Content: "hi"}}, Gate: gate})
	resolve := func(model string) (provider.ChatProvider, bool) { return fp, true }
	d := dispatcher.New(st, reg, resolve)
	t.Cleanup(d.Shutdown)

	roomID, err := st.CreateRoom(context.Background(), "General", "alice", []store.LLMConfiguration{
		{ID: "claude", Model: "claude-3", DisplayName: "Claude"},
	}, "", store.VisibilityPublic)
	require.NoError(t, err)

	// observer stays connected to witness the terminal llm_done broadcast
	observerConn := newFakeConn()
	observer := NewHandler(observerConn, st, reg, d)
	reg.Register(roomID, observer)
	go observer.Run()
	t.Cleanup(func() { observerConn.Close() })

	conn := newFakeConn(
		ClientFrame{Type: FrameJoin, Data: mustJSON(JoinData{RoomID: roomID, UserID: "bob", DisplayName: "Bob"})},
		ClientFrame{Type: FrameMessage, Data: mustJSON(MessageData{Content: "@Claude hello"})},
	)
	h := NewHandler(conn, st, reg, d)

	done := make(chan struct{})
	go func() { defer close(done); h.Run() }()

	waitFor(t, func() bool {
		h.mu.RLock()
		defer h.mu.RUnlock()
		_, ok := h.dispatchedLLMs["claude"]
		return ok
	})

	conn.Close()
	<-done

	waitFor(t, func() bool {
		for _, raw := range observerConn.snapshotWritten() {
			if eventType(raw) == string(events.TypeLLMDone) {
				return true
			}
		}
		return false
	})
}

func mustJSON(v any) json.RawMessage {
	data, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	return data
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met before deadline")
}
