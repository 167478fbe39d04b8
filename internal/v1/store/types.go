// Package store holds the Orchestrator's authoritative in-memory state: rooms,
// participants, messages, and polls. All mutation goes through the Store
// interface; callers never touch the underlying maps directly.
package store

import "time"

// Visibility controls whether a room is enumerable by non-creators.
type Visibility string

const (
	VisibilityPublic  Visibility = "public"
	VisibilityPrivate Visibility = "private"
)

// ParticipantRole tags a participant's standing within a room.
type ParticipantRole string

const (
	RoleAdmin  ParticipantRole = "admin"
	RoleMember ParticipantRole = "member"
	RoleViewer ParticipantRole = "viewer"
)

// ChatStyle is the directive an LLM's system prompt is built from.
type ChatStyle string

const (
	ChatStyleDefault       ChatStyle = ""
	ChatStyleConversational ChatStyle = "conversational"
	ChatStyleDetailed      ChatStyle = "detailed"
	ChatStyleBullet        ChatStyle = "bullet"
)

// SenderType distinguishes a human participant from an LLM configuration.
type SenderType string

const (
	SenderHuman SenderType = "human"
	SenderLLM   SenderType = "llm"
)

// PollStatus tracks whether a poll still accepts votes.
type PollStatus string

const (
	PollOpen   PollStatus = "open"
	PollClosed PollStatus = "closed"
)

// LLMConfiguration is a room-scoped recipe describing one assistant.
type LLMConfiguration struct {
	ID          string    `json:"id"`
	Model       string    `json:"model"`
	Persona     string    `json:"persona,omitempty"`
	DisplayName string    `json:"display_name"`
	Title       string    `json:"title,omitempty"`
	ChatStyle   ChatStyle `json:"chat_style,omitempty"`
	Avatar      string    `json:"avatar,omitempty"`
}

// LLMPatch is a nullable per-field patch for UpdateLLM; nil fields are left
// unchanged.
type LLMPatch struct {
	Model       *string
	Persona     *string
	DisplayName *string
	Title       *string
	ChatStyle   *ChatStyle
	Avatar      *string
}

// Room is a named container for messages, participants, LLM configurations,
// and polls.
type Room struct {
	ID          string             `json:"id"`
	Name        string             `json:"name"`
	Description string             `json:"description,omitempty"`
	CreatedAt   time.Time          `json:"created_at"`
	CreatedBy   string             `json:"created_by"`
	Visibility  Visibility         `json:"visibility"`
	LLMs        []LLMConfiguration `json:"llms"`
}

// Participant is a human user known to a room, keyed by (room_id, user_id).
type Participant struct {
	RoomID      string          `json:"room_id"`
	UserID      string          `json:"user_id"`
	DisplayName string          `json:"display_name"`
	Role        ParticipantRole `json:"role"`
	JoinedAt    time.Time       `json:"joined_at"`
	Title       string          `json:"title,omitempty"`
	Avatar      string          `json:"avatar,omitempty"`
	// IsOnline is derived (Registry membership), not stored; it is filled in
	// by callers that have a Registry at hand and left false otherwise.
	IsOnline bool `json:"is_online"`
}

// Message is an append-only entry in a room's history.
type Message struct {
	ID         string     `json:"id"`
	RoomID     string     `json:"room_id"`
	SenderID   string     `json:"sender_id"`
	SenderName string     `json:"sender_name"`
	SenderType SenderType `json:"sender_type"`
	Content    string     `json:"content"`
	ReplyTo    string     `json:"reply_to,omitempty"`
	PollID     string     `json:"poll_id,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
	SortKey    string     `json:"-"`
}

// NewMessageInput is the set of caller-supplied fields for AddMessage.
type NewMessageInput struct {
	// ID, if non-empty, is used instead of generating a new id. This is how
	// the LLM Dispatcher unifies the id used in streamed chunks with the id
	// of the final stored message.
	ID         string
	SenderID   string
	SenderName string
	SenderType SenderType
	Content    string
	ReplyTo    string
	PollID     string
}

// Vote is a single ballot cast by a voter on one poll option.
type Vote struct {
	VoterID   string    `json:"voter_id"`
	VoterName string    `json:"voter_name"`
	Reason    string    `json:"reason,omitempty"`
	VotedAt   time.Time `json:"voted_at"`
}

// PollOption is one selectable choice within a poll.
type PollOption struct {
	ID          string `json:"id"`
	Text        string `json:"text"`
	Description string `json:"description,omitempty"`
	Votes       []Vote `json:"votes"`
}

// Poll is a room-scoped interactive vote that LLMs may participate in via
// the vote_on_poll tool call.
type Poll struct {
	ID             string       `json:"id"`
	RoomID         string       `json:"room_id"`
	CreatorID      string       `json:"creator_id"`
	CreatorName    string       `json:"creator_name"`
	CreatorType    SenderType   `json:"creator_type"`
	Question       string       `json:"question"`
	Options        []PollOption `json:"options"`
	AllowMultiple  bool         `json:"allow_multiple"`
	Anonymous      bool         `json:"anonymous"`
	Mandatory      bool         `json:"mandatory"`
	Status         PollStatus   `json:"status"`
	CreatedAt      time.Time    `json:"created_at"`
	ClosedAt       *time.Time   `json:"closed_at,omitempty"`
}

// NewPollOption describes one option at creation time.
type NewPollOption struct {
	Text        string
	Description string
}
