package store

import "context"

// Store is the seam the rest of the Orchestrator programs against. It is
// satisfied by MemoryStore for single-instance deployments and by
// redisstore.RedisStore when STORE_BACKEND=redis asks for a durable,
// still single-owner-process, backend (see DESIGN.md).
type Store interface {
	CreateRoom(ctx context.Context, name, createdBy string, llms []LLMConfiguration, description string, visibility Visibility) (string, error)
	GetRoom(ctx context.Context, roomID string) (Room, bool, error)
	ListRooms(ctx context.Context, userID string, limit int, cursor string) ([]Room, string, error)

	AddParticipant(ctx context.Context, roomID, userID, displayName string, role ParticipantRole, title, avatar string) (Participant, error)
	GetParticipants(ctx context.Context, roomID string) ([]Participant, error)

	AddMessage(ctx context.Context, roomID string, in NewMessageInput) (Message, error)
	LoadHistory(ctx context.Context, roomID string, limit int, cursor string) ([]Message, string, error)

	AddLLM(ctx context.Context, roomID string, llm LLMConfiguration) error
	UpdateLLM(ctx context.Context, roomID, llmID string, patch LLMPatch) (LLMConfiguration, bool, error)
	RemoveLLM(ctx context.Context, roomID, llmID string) error
	UpdateRoomDescription(ctx context.Context, roomID, description string) error

	CreatePoll(ctx context.Context, roomID, creatorID, creatorName string, creatorType SenderType, question string, options []NewPollOption, allowMultiple, anonymous, mandatory bool) (Poll, error)
	GetPoll(ctx context.Context, roomID, pollID string) (Poll, bool, error)
	ListRoomPolls(ctx context.Context, roomID string, activeOnly bool) ([]Poll, error)
	AddVote(ctx context.Context, roomID, pollID, optionID, voterID, voterName, reason string) (Poll, PollOption, Vote, bool, error)
	ClosePoll(ctx context.Context, roomID, pollID string) (Poll, error)
}

// ErrRoomNotFound is returned wherever an operation targets an unknown room.
type ErrRoomNotFound struct{ RoomID string }

func (e ErrRoomNotFound) Error() string { return "room not found: " + e.RoomID }

// ErrInvalidPoll is returned when CreatePoll is called with fewer than two
// options.
type ErrInvalidPoll struct{ Reason string }

func (e ErrInvalidPoll) Error() string { return "invalid poll: " + e.Reason }

// ErrDuplicateMessageID is returned by AddMessage when an externally supplied
// id collides with an existing message in the room (see SPEC_FULL.md's open
// question on unified streaming ids).
type ErrDuplicateMessageID struct{ ID string }

func (e ErrDuplicateMessageID) Error() string { return "duplicate message id: " + e.ID }

// ErrDuplicateLLMID is returned by AddLLM when the room already has an LLM
// configuration with the same id (§3 invariant: LLM ids unique within a room).
type ErrDuplicateLLMID struct{ ID string }

func (e ErrDuplicateLLMID) Error() string { return "duplicate llm id: " + e.ID }
