package session

import (
	"context"
	"encoding/json"
	"fmt"

	"go.uber.org/zap"

	"github.com/roomforge/orchestrator/internal/v1/events"
	"github.com/roomforge/orchestrator/internal/v1/logging"
	"github.com/roomforge/orchestrator/internal/v1/metrics"
	"github.com/roomforge/orchestrator/internal/v1/store"
)

// handleJoin binds the stream to (room, user), persists the participant,
// emits room_state to this handler only, and notifies the rest of the room.
// Grounded on original_source/services/room/src/room/session.py's join
// handling and §4.3's room_state assembly.
func (h *Handler) handleJoin(ctx context.Context, data json.RawMessage) {
	join, err := decode[JoinData](data)
	if err != nil || join.RoomID == "" || join.UserID == "" {
		h.Enqueue(events.NewError(events.CodeInternal, "invalid join frame"))
		return
	}

	room, ok, err := h.store.GetRoom(ctx, join.RoomID)
	if err != nil || !ok {
		h.Enqueue(events.NewError(events.CodeRoomNotFound, fmt.Sprintf("room %q not found", join.RoomID)))
		return
	}

	role := store.ParticipantRole(join.Role)
	switch role {
	case store.RoleAdmin, store.RoleMember, store.RoleViewer:
	default:
		role = store.RoleMember
	}

	if _, err := h.store.AddParticipant(ctx, join.RoomID, join.UserID, join.DisplayName, role, join.Title, join.Avatar); err != nil {
		logging.Error(ctx, "failed to add participant", zap.String("room_id", join.RoomID), zap.Error(err))
		h.Enqueue(events.NewError(events.CodeInternal, "failed to join room"))
		return
	}

	h.mu.Lock()
	h.roomID = join.RoomID
	h.userID = join.UserID
	h.displayName = join.DisplayName
	h.role = role
	h.title = join.Title
	h.avatar = join.Avatar
	h.joined = true
	h.mu.Unlock()

	h.registry.Register(join.RoomID, h)
	metrics.RoomParticipants.WithLabelValues(join.RoomID).Set(float64(len(h.registry.GetOnlineUserIDs(join.RoomID))))

	h.sendRoomState(ctx, room)

	h.registry.BroadcastExcept(join.RoomID, events.NewUserJoined(join.UserID, join.DisplayName), join.UserID)
}

// sendRoomState assembles and enqueues room_state (§4.3) to the joining
// handler alone.
func (h *Handler) sendRoomState(ctx context.Context, room store.Room) {
	participants, err := h.store.GetParticipants(ctx, room.ID)
	if err != nil {
		participants = nil
	}
	online := h.registry.GetOnlineUserIDs(room.ID)
	for i := range participants {
		participants[i].IsOnline = online.Has(participants[i].UserID)
	}

	messages, _, err := h.store.LoadHistory(ctx, room.ID, 50, "")
	if err != nil {
		messages = nil
	}

	polls, err := h.store.ListRoomPolls(ctx, room.ID, true)
	if err != nil {
		polls = nil
	}

	h.Enqueue(events.NewRoomState(room, participants, messages, polls))
}

// handleMessage stores a chat message, broadcasts it, and dispatches
// @mentions to the LLM Dispatcher.
func (h *Handler) handleMessage(ctx context.Context, data json.RawMessage) error {
	msg, err := decode[MessageData](data)
	if err != nil {
		return err
	}

	roomID, userID, displayName := h.identity()
	stored, err := h.store.AddMessage(ctx, roomID, store.NewMessageInput{
		SenderID: userID, SenderName: displayName, SenderType: store.SenderHuman,
		Content: msg.Content, ReplyTo: msg.ReplyTo,
	})
	if err != nil {
		return err
	}
	metrics.MessagesStored.WithLabelValues("human").Inc()
	h.registry.Broadcast(roomID, events.NewMessageReceived(stored))

	room, ok, err := h.store.GetRoom(ctx, roomID)
	if err == nil && ok {
		dispatched := h.dispatcher.DispatchMentions(roomID, msg.Content, msg.Mentions, stored.ID, room)
		h.recordDispatchedLLMs(dispatched)
	}
	return nil
}

func (h *Handler) handleTyping(_ context.Context, data json.RawMessage) error {
	typing, err := decode[TypingData](data)
	if err != nil {
		return err
	}
	roomID, userID, _ := h.identity()
	h.registry.BroadcastExcept(roomID, events.NewUserTyping(userID, typing.IsTyping), userID)
	return nil
}

func (h *Handler) handleInterrupt(_ context.Context, data json.RawMessage) error {
	in, err := decode[InterruptData](data)
	if err != nil {
		return err
	}
	roomID, _, _ := h.identity()
	h.dispatcher.CancelLLMTask(roomID, in.LLMID)
	return nil
}

func (h *Handler) handleAddLLM(ctx context.Context, data json.RawMessage) error {
	in, err := decode[AddLLMData](data)
	if err != nil {
		return err
	}
	roomID, _, _ := h.identity()
	llm := store.LLMConfiguration{
		ID: in.ID, Model: in.Model, Persona: in.Persona, DisplayName: in.DisplayName,
		Title: in.Title, ChatStyle: store.ChatStyle(in.ChatStyle), Avatar: in.Avatar,
	}
	if err := h.store.AddLLM(ctx, roomID, llm); err != nil {
		return err
	}
	h.registry.Broadcast(roomID, events.NewLLMAdded(llm))
	return nil
}

func (h *Handler) handleUpdateLLM(ctx context.Context, data json.RawMessage) error {
	in, err := decode[UpdateLLMData](data)
	if err != nil {
		return err
	}
	roomID, _, _ := h.identity()

	patch := store.LLMPatch{Model: in.Model, Persona: in.Persona, DisplayName: in.DisplayName, Title: in.Title, Avatar: in.Avatar}
	if in.ChatStyle != nil {
		cs := store.ChatStyle(*in.ChatStyle)
		patch.ChatStyle = &cs
	}

	updated, ok, err := h.store.UpdateLLM(ctx, roomID, in.LLMID, patch)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("llm %q not found in room %q", in.LLMID, roomID)
	}
	h.registry.Broadcast(roomID, events.NewLLMUpdated(updated))
	return nil
}

func (h *Handler) handleRemoveLLM(ctx context.Context, data json.RawMessage) error {
	in, err := decode[RemoveLLMData](data)
	if err != nil {
		return err
	}
	roomID, _, _ := h.identity()
	if err := h.store.RemoveLLM(ctx, roomID, in.LLMID); err != nil {
		return err
	}
	h.registry.Broadcast(roomID, events.NewLLMRemoved(in.LLMID))
	return nil
}

func (h *Handler) handleUpdateRoomDescription(ctx context.Context, data json.RawMessage) error {
	in, err := decode[UpdateRoomDescriptionData](data)
	if err != nil {
		return err
	}
	roomID, _, _ := h.identity()
	if err := h.store.UpdateRoomDescription(ctx, roomID, in.Description); err != nil {
		return err
	}
	h.registry.Broadcast(roomID, events.NewRoomUpdated(in.Description))
	return nil
}

// handleCreatePoll creates a poll, appends an anchor message carrying its
// question, and triggers LLM voting. Grounded on
// original_source/services/room/src/room/service.py's create_poll tail,
// which always stores a message so the poll shows up in chat history.
func (h *Handler) handleCreatePoll(ctx context.Context, data json.RawMessage) error {
	in, err := decode[CreatePollData](data)
	if err != nil {
		return err
	}
	if len(in.Options) < 2 {
		h.Enqueue(events.NewError(events.CodeInvalidPoll, "a poll needs at least two options"))
		return nil
	}

	roomID, userID, displayName := h.identity()
	opts := make([]store.NewPollOption, 0, len(in.Options))
	for _, o := range in.Options {
		opts = append(opts, store.NewPollOption{Text: o})
	}

	poll, err := h.store.CreatePoll(ctx, roomID, userID, displayName, store.SenderHuman, in.Question, opts, in.AllowMultiple, in.Anonymous, in.Mandatory)
	if err != nil {
		h.Enqueue(events.NewError(events.CodeInvalidPoll, err.Error()))
		return nil
	}

	anchor, err := h.store.AddMessage(ctx, roomID, store.NewMessageInput{
		SenderID: userID, SenderName: displayName, SenderType: store.SenderHuman,
		Content: in.Question, PollID: poll.ID,
	})
	if err != nil {
		return err
	}
	metrics.MessagesStored.WithLabelValues("human").Inc()

	h.registry.Broadcast(roomID, events.NewMessageReceived(anchor))
	h.registry.Broadcast(roomID, events.NewPollCreated(poll))

	dispatched := h.dispatcher.DispatchPollVoting(roomID, poll.ID, poll.Question, poll.Options, poll.Mandatory, anchor.ID)
	h.recordDispatchedLLMs(dispatched)
	return nil
}

func (h *Handler) handleCastVote(ctx context.Context, data json.RawMessage) error {
	in, err := decode[CastVoteData](data)
	if err != nil {
		return err
	}
	roomID, userID, displayName := h.identity()

	for _, optionID := range in.OptionIDs {
		poll, option, vote, ok, err := h.store.AddVote(ctx, roomID, in.PollID, optionID, userID, displayName, in.Reason)
		if err != nil || !ok {
			h.Enqueue(events.NewError(events.CodeInvalidPoll, "vote rejected"))
			continue
		}
		metrics.PollVotesCast.WithLabelValues("human").Inc()
		h.registry.Broadcast(roomID, events.NewPollVoted(poll.ID, option.ID, vote))
	}
	return nil
}

func (h *Handler) handleClosePoll(ctx context.Context, data json.RawMessage) error {
	in, err := decode[ClosePollData](data)
	if err != nil {
		return err
	}
	roomID, _, _ := h.identity()
	poll, err := h.store.ClosePoll(ctx, roomID, in.PollID)
	if err != nil {
		return err
	}
	h.registry.Broadcast(roomID, events.NewPollClosed(poll))
	return nil
}

// identity snapshots the fields route() needs after join, taken under the
// read lock so handlers never hold h.mu across a Store/Registry call.
func (h *Handler) identity() (roomID, userID, displayName string) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.roomID, h.userID, h.displayName
}
