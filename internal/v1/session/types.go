// Package session implements the Session Handler: one goroutine pair per
// WebSocket connection, routing JSON client frames into Store/Dispatcher
// operations and Registry broadcasts back out. Grounded on the teacher's
// session.Client/Room (reader/writer goroutine split, bounded send channel,
// per-handler broadcast idiom, here blocking the producer while a handler's
// queue is full) generalized from WebRTC
// room roles to chat rooms, and on
// original_source/services/room/src/room/session.py for the frame vocabulary
// and per-frame preconditions this package implements.
package session

import "encoding/json"

// ClientFrame is the tagged-union envelope for every inbound client frame
// (§6.1). The payload is read from Data when present; otherwise the reader
// decodes it from the frame's own top-level fields. Unknown Type values are
// ignored by the router.
type ClientFrame struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

const (
	FrameJoin                   = "join"
	FrameMessage                = "message"
	FrameTyping                 = "typing"
	FrameInterrupt              = "interrupt"
	FrameAddLLM                 = "add_llm"
	FrameUpdateLLM              = "update_llm"
	FrameRemoveLLM              = "remove_llm"
	FrameUpdateRoomDescription  = "update_room_description"
	FrameCreatePoll             = "create_poll"
	FrameCastVote               = "cast_vote"
	FrameClosePoll              = "close_poll"
	FramePing                   = "ping"
)

// JoinData binds the stream to (room, user). Must be the first frame.
type JoinData struct {
	RoomID      string `json:"room_id"`
	UserID      string `json:"user_id"`
	DisplayName string `json:"display_name"`
	Role        string `json:"role,omitempty"`
	Title       string `json:"title,omitempty"`
	Avatar      string `json:"avatar,omitempty"`
}

// MessageData stores text and dispatches mentions.
type MessageData struct {
	Content  string   `json:"content"`
	ReplyTo  string    `json:"reply_to,omitempty"`
	Mentions []string `json:"mentions,omitempty"`
}

// TypingData relays a typing indicator.
type TypingData struct {
	IsTyping bool `json:"is_typing"`
}

// InterruptData cancels one of this room's active LLM tasks.
type InterruptData struct {
	LLMID string `json:"llm_id"`
}

// AddLLMData appends a new LLM configuration.
type AddLLMData struct {
	ID          string `json:"id"`
	Model       string `json:"model"`
	Persona     string `json:"persona,omitempty"`
	DisplayName string `json:"display_name"`
	Title       string `json:"title,omitempty"`
	ChatStyle   string `json:"chat_style,omitempty"`
	Avatar      string `json:"avatar,omitempty"`
}

// UpdateLLMData patches an existing LLM configuration; nil-able fields are
// left as pointers so the zero value never silently clobbers real content.
type UpdateLLMData struct {
	LLMID       string  `json:"llm_id"`
	Model       *string `json:"model,omitempty"`
	Persona     *string `json:"persona,omitempty"`
	DisplayName *string `json:"display_name,omitempty"`
	Title       *string `json:"title,omitempty"`
	ChatStyle   *string `json:"chat_style,omitempty"`
	Avatar      *string `json:"avatar,omitempty"`
}

// RemoveLLMData removes an LLM configuration by id.
type RemoveLLMData struct {
	LLMID string `json:"llm_id"`
}

// UpdateRoomDescriptionData replaces the room's description.
type UpdateRoomDescriptionData struct {
	Description string `json:"description"`
}

// CreatePollData creates a poll anchored to a freshly appended message.
type CreatePollData struct {
	Question      string   `json:"question"`
	Options       []string `json:"options"`
	AllowMultiple bool     `json:"allow_multiple,omitempty"`
	Anonymous     bool     `json:"anonymous,omitempty"`
	Mandatory     bool     `json:"mandatory,omitempty"`
}

// CastVoteData applies one or more votes to an open poll.
type CastVoteData struct {
	PollID    string   `json:"poll_id"`
	OptionIDs []string `json:"option_ids"`
	Reason    string   `json:"reason,omitempty"`
}

// ClosePollData closes an open poll.
type ClosePollData struct {
	PollID string `json:"poll_id"`
}
