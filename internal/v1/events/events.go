// Package events defines the server→client event tagged union (wire schema
// §6.2). Both the LLM Dispatcher (producer of llm_* and poll_voted events)
// and the Session Handler (producer of everything else, and the sole
// serializer onto the WebSocket) depend on this package; neither depends on
// the other, which is what keeps the Dispatcher/Registry/Session triangle
// acyclic the way the design notes require.
package events

import "github.com/roomforge/orchestrator/internal/v1/store"

// Type is the wire discriminator carried by every event.
type Type string

const (
	TypeRoomState           Type = "room_state"
	TypeMessageReceived     Type = "message_received"
	TypeUserJoined          Type = "user_joined"
	TypeUserLeft            Type = "user_left"
	TypeUserTyping          Type = "user_typing"
	TypeLLMThinking         Type = "llm_thinking"
	TypeLLMChunk            Type = "llm_chunk"
	TypeLLMDone             Type = "llm_done"
	TypeLLMAdded            Type = "llm_added"
	TypeLLMUpdated          Type = "llm_updated"
	TypeLLMRemoved          Type = "llm_removed"
	TypeRoomUpdated         Type = "room_updated"
	TypePollCreated         Type = "poll_created"
	TypePollVoted           Type = "poll_voted"
	TypePollClosed          Type = "poll_closed"
	TypeError               Type = "error"
	TypePong                Type = "pong"
)

// Error codes carried by the error event (§7).
const (
	CodeRoomNotFound = "ROOM_NOT_FOUND"
	CodeInvalidPoll  = "INVALID_POLL"
	CodeLLMError     = "LLM_ERROR"
	CodeInternal     = "INTERNAL"
)

// RoomState is emitted once per join, to the joining handler only.
type RoomState struct {
	Type         Type                `json:"type"`
	Room         store.Room          `json:"room"`
	Participants []store.Participant `json:"participants"`
	Messages     []store.Message     `json:"messages"`
	Polls        []store.Poll        `json:"polls"`
}

func NewRoomState(room store.Room, participants []store.Participant, messages []store.Message, polls []store.Poll) RoomState {
	return RoomState{Type: TypeRoomState, Room: room, Participants: participants, Messages: messages, Polls: polls}
}

// MessageReceived announces a newly stored message to the room.
type MessageReceived struct {
	Type    Type          `json:"type"`
	Message store.Message `json:"message"`
}

func NewMessageReceived(msg store.Message) MessageReceived {
	return MessageReceived{Type: TypeMessageReceived, Message: msg}
}

// UserJoined/UserLeft announce participant presence changes.
type UserJoined struct {
	Type        Type   `json:"type"`
	UserID      string `json:"user_id"`
	DisplayName string `json:"display_name"`
}

func NewUserJoined(userID, displayName string) UserJoined {
	return UserJoined{Type: TypeUserJoined, UserID: userID, DisplayName: displayName}
}

type UserLeft struct {
	Type   Type   `json:"type"`
	UserID string `json:"user_id"`
}

func NewUserLeft(userID string) UserLeft {
	return UserLeft{Type: TypeUserLeft, UserID: userID}
}

// UserTyping relays a typing indicator.
type UserTyping struct {
	Type     Type   `json:"type"`
	UserID   string `json:"user_id"`
	IsTyping bool   `json:"is_typing"`
}

func NewUserTyping(userID string, isTyping bool) UserTyping {
	return UserTyping{Type: TypeUserTyping, UserID: userID, IsTyping: isTyping}
}

// LLMThinking precedes all LLMChunk events for one call.
type LLMThinking struct {
	Type     Type   `json:"type"`
	LLMID    string `json:"llm_id"`
	ReplyTo  string `json:"reply_to,omitempty"`
}

func NewLLMThinking(llmID, replyTo string) LLMThinking {
	return LLMThinking{Type: TypeLLMThinking, LLMID: llmID, ReplyTo: replyTo}
}

// LLMChunk carries one piece of streamed content. MessageID is stable across
// every chunk of one call and equals the stored message id once finalized.
type LLMChunk struct {
	Type      Type   `json:"type"`
	MessageID string `json:"message_id"`
	LLMID     string `json:"llm_id"`
	Content   string `json:"content"`
	ReplyTo   string `json:"reply_to,omitempty"`
}

func NewLLMChunk(messageID, llmID, content, replyTo string) LLMChunk {
	return LLMChunk{Type: TypeLLMChunk, MessageID: messageID, LLMID: llmID, Content: content, ReplyTo: replyTo}
}

// LLMDone closes out one call: cancelled, opted-out, errored, or completed.
type LLMDone struct {
	Type      Type   `json:"type"`
	MessageID string `json:"message_id,omitempty"`
	LLMID     string `json:"llm_id"`
	OptedOut  bool   `json:"opted_out,omitempty"`
}

func NewLLMDone(messageID, llmID string, optedOut bool) LLMDone {
	return LLMDone{Type: TypeLLMDone, MessageID: messageID, LLMID: llmID, OptedOut: optedOut}
}

// LLMAdded/LLMUpdated/LLMRemoved announce LLMConfiguration changes.
type LLMAdded struct {
	Type Type                   `json:"type"`
	LLM  store.LLMConfiguration `json:"llm"`
}

func NewLLMAdded(llm store.LLMConfiguration) LLMAdded { return LLMAdded{Type: TypeLLMAdded, LLM: llm} }

type LLMUpdated struct {
	Type Type                   `json:"type"`
	LLM  store.LLMConfiguration `json:"llm"`
}

func NewLLMUpdated(llm store.LLMConfiguration) LLMUpdated {
	return LLMUpdated{Type: TypeLLMUpdated, LLM: llm}
}

type LLMRemoved struct {
	Type  Type   `json:"type"`
	LLMID string `json:"llm_id"`
}

func NewLLMRemoved(llmID string) LLMRemoved { return LLMRemoved{Type: TypeLLMRemoved, LLMID: llmID} }

// RoomUpdated announces a description change.
type RoomUpdated struct {
	Type        Type   `json:"type"`
	Description string `json:"description"`
}

func NewRoomUpdated(description string) RoomUpdated {
	return RoomUpdated{Type: TypeRoomUpdated, Description: description}
}

// PollCreated/PollVoted/PollClosed announce poll lifecycle events.
type PollCreated struct {
	Type Type       `json:"type"`
	Poll store.Poll `json:"poll"`
}

func NewPollCreated(poll store.Poll) PollCreated { return PollCreated{Type: TypePollCreated, Poll: poll} }

type PollVoted struct {
	Type      Type        `json:"type"`
	PollID    string      `json:"poll_id"`
	OptionID  string      `json:"option_id"`
	Vote      store.Vote  `json:"vote"`
}

func NewPollVoted(pollID, optionID string, vote store.Vote) PollVoted {
	return PollVoted{Type: TypePollVoted, PollID: pollID, OptionID: optionID, Vote: vote}
}

type PollClosed struct {
	Type Type       `json:"type"`
	Poll store.Poll `json:"poll"`
}

func NewPollClosed(poll store.Poll) PollClosed { return PollClosed{Type: TypePollClosed, Poll: poll} }

// Error carries a taxonomy code (§7) plus a human-readable message.
type Error struct {
	Type    Type   `json:"type"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

func NewError(code, message string) Error {
	return Error{Type: TypeError, Code: code, Message: message}
}

// Pong answers a ping, to the sender only.
type Pong struct {
	Type Type `json:"type"`
}

func NewPong() Pong { return Pong{Type: TypePong} }
