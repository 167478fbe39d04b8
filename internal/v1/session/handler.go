package session

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/roomforge/orchestrator/internal/v1/dispatcher"
	"github.com/roomforge/orchestrator/internal/v1/events"
	"github.com/roomforge/orchestrator/internal/v1/logging"
	"github.com/roomforge/orchestrator/internal/v1/metrics"
	"github.com/roomforge/orchestrator/internal/v1/registry"
	"github.com/roomforge/orchestrator/internal/v1/store"
)

// wsConnection is the subset of *websocket.Conn the Handler depends on.
// Grounded on the teacher's session.wsConnection: the same abstraction,
// kept so tests can swap in a scripted connection double.
type wsConnection interface {
	ReadMessage() (messageType int, p []byte, err error)
	WriteMessage(messageType int, data []byte) error
	Close() error
	SetWriteDeadline(t time.Time) error
}

// Handler owns one bidirectional WebSocket stream (§4.3). It satisfies
// registry.Handler so the Dispatcher and Registry can address it without
// depending on this package.
type Handler struct {
	conn       wsConnection
	outbound   chan any // bounded, block-the-producer (§4.3): never select/default-drop
	store      store.Store
	registry   *registry.Registry
	dispatcher *dispatcher.Dispatcher

	mu             sync.RWMutex
	roomID         string
	userID         string
	displayName    string
	role           store.ParticipantRole
	title          string
	avatar         string
	joined         bool
	dispatchedLLMs map[string]struct{}
}

// outboundCapacity is the minimum bounded queue size §4.3 recommends.
const outboundCapacity = 256

// NewHandler builds a Handler bound to conn, ready to be handed to Run.
func NewHandler(conn wsConnection, st store.Store, reg *registry.Registry, disp *dispatcher.Dispatcher) *Handler {
	return &Handler{
		conn:           conn,
		outbound:       make(chan any, outboundCapacity),
		store:          st,
		registry:       reg,
		dispatcher:     disp,
		dispatchedLLMs: make(map[string]struct{}),
	}
}

// UserID satisfies registry.Handler.
func (h *Handler) UserID() string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.userID
}

// Enqueue satisfies registry.Handler. It blocks the caller (typically a
// Dispatcher goroutine broadcasting an event) when the outbound queue is
// full, applying backpressure rather than dropping — per §4.3's overflow
// policy.
func (h *Handler) Enqueue(event any) {
	h.outbound <- event
}

// Run drives the Handler's reader and writer for the stream's lifetime,
// blocking until either ends. Grounded on the teacher's
// Client.readPump/writePump pair, generalized from binary protobuf frames to
// JSON client/server frames. The run loop terminates when either task ends,
// per §4.3: whichever task exits first closes stop, which unblocks the
// other (the writer's select on stop, the reader's underlying conn.Close).
func (h *Handler) Run() {
	metrics.IncConnection()
	defer metrics.DecConnection()

	stop := make(chan struct{})
	var once sync.Once
	closeStop := func() { once.Do(func() { close(stop) }) }

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		defer closeStop()
		h.writeLoop(stop)
	}()
	go func() {
		defer wg.Done()
		defer closeStop()
		h.readLoop(stop)
	}()
	<-stop
	h.conn.Close()
	wg.Wait()

	h.terminate()
}

func (h *Handler) readLoop(stop <-chan struct{}) {
	for {
		_, data, err := h.conn.ReadMessage()
		if err != nil {
			return
		}

		var frame ClientFrame
		if err := json.Unmarshal(data, &frame); err != nil {
			logging.Warn(context.Background(), "failed to decode client frame", zap.Error(err))
			continue
		}
		// A frame without a nested data object carries its payload fields
		// beside type, so the whole frame is the payload.
		if len(frame.Data) == 0 {
			frame.Data = data
		}

		start := time.Now()
		h.route(context.Background(), frame)
		metrics.MessageProcessingDuration.WithLabelValues(frame.Type).Observe(time.Since(start).Seconds())

		select {
		case <-stop:
			return
		default:
		}
	}
}

func (h *Handler) writeLoop(stop <-chan struct{}) {
	const writeWait = 10 * time.Second
	for {
		select {
		case <-stop:
			return
		case event := <-h.outbound:
			data, err := json.Marshal(event)
			if err != nil {
				logging.Error(context.Background(), "failed to marshal outbound event", zap.Error(err))
				continue
			}
			h.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := h.conn.WriteMessage(1, data); err != nil { // 1 == websocket.TextMessage
				return
			}
		}
	}
}

// recordDispatchedLLMs remembers the ids of LLMs a mention or poll-voting
// dispatch just spawned a task for, so terminate can cancel them on
// disconnect per §4.3 step 1.
func (h *Handler) recordDispatchedLLMs(llmIDs []string) {
	if len(llmIDs) == 0 {
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, id := range llmIDs {
		h.dispatchedLLMs[id] = struct{}{}
	}
}

// terminate runs the §4.3 termination sequence: cancel any LLM tasks this
// handler originated, unregister from the Registry, then broadcast
// `user_left` only if no other handler for this (room, user) remains
// online. Cancellation reuses dispatcher.CancelLLMTask — the same call
// handleInterrupt makes — so a stale cancel for a task already overwritten
// by a newer dispatch (the Dispatcher's documented "latest observer wins"
// overwrite policy) is exactly as safe, or unsafe, as an explicit client
// interrupt already is.
func (h *Handler) terminate() {
	h.mu.RLock()
	roomID, userID, joined := h.roomID, h.userID, h.joined
	llmIDs := make([]string, 0, len(h.dispatchedLLMs))
	for id := range h.dispatchedLLMs {
		llmIDs = append(llmIDs, id)
	}
	h.mu.RUnlock()
	if !joined {
		return
	}

	for _, llmID := range llmIDs {
		h.dispatcher.CancelLLMTask(roomID, llmID)
	}

	h.registry.Unregister(roomID, h)

	online := h.registry.GetOnlineUserIDs(roomID)
	metrics.RoomParticipants.WithLabelValues(roomID).Set(float64(len(online)))
	if !online.Has(userID) {
		h.registry.Broadcast(roomID, events.NewUserLeft(userID))
	}
}
