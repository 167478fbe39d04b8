package session

import (
	"context"
	"encoding/json"

	"go.uber.org/zap"

	"github.com/roomforge/orchestrator/internal/v1/events"
	"github.com/roomforge/orchestrator/internal/v1/logging"
	"github.com/roomforge/orchestrator/internal/v1/metrics"
)

// route dispatches one decoded client frame to its handler. Unknown frame
// types are ignored per §4.3. Every branch except join and ping requires the
// stream to already be joined; un-joined frames are logged and dropped.
func (h *Handler) route(ctx context.Context, frame ClientFrame) {
	if frame.Type == FramePing {
		h.Enqueue(events.NewPong())
		metrics.WebsocketEvents.WithLabelValues(frame.Type, "ok").Inc()
		return
	}

	if frame.Type == FrameJoin {
		h.handleJoin(ctx, frame.Data)
		metrics.WebsocketEvents.WithLabelValues(frame.Type, "ok").Inc()
		return
	}

	if !h.isJoined() {
		logging.Warn(ctx, "frame received before join", zap.String("frame_type", frame.Type))
		metrics.WebsocketEvents.WithLabelValues(frame.Type, "not_joined").Inc()
		return
	}

	var err error
	switch frame.Type {
	case FrameMessage:
		err = h.handleMessage(ctx, frame.Data)
	case FrameTyping:
		err = h.handleTyping(ctx, frame.Data)
	case FrameInterrupt:
		err = h.handleInterrupt(ctx, frame.Data)
	case FrameAddLLM:
		err = h.handleAddLLM(ctx, frame.Data)
	case FrameUpdateLLM:
		err = h.handleUpdateLLM(ctx, frame.Data)
	case FrameRemoveLLM:
		err = h.handleRemoveLLM(ctx, frame.Data)
	case FrameUpdateRoomDescription:
		err = h.handleUpdateRoomDescription(ctx, frame.Data)
	case FrameCreatePoll:
		err = h.handleCreatePoll(ctx, frame.Data)
	case FrameCastVote:
		err = h.handleCastVote(ctx, frame.Data)
	case FrameClosePoll:
		err = h.handleClosePoll(ctx, frame.Data)
	default:
		logging.Warn(ctx, "unknown client frame type", zap.String("frame_type", frame.Type))
		return
	}

	status := "ok"
	if err != nil {
		status = "error"
		logging.Warn(ctx, "client frame handling failed", zap.String("frame_type", frame.Type), zap.Error(err))
	}
	metrics.WebsocketEvents.WithLabelValues(frame.Type, status).Inc()
}

func (h *Handler) isJoined() bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.joined
}

func decode[T any](data json.RawMessage) (T, error) {
	var v T
	err := json.Unmarshal(data, &v)
	return v, err
}
