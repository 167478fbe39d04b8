package store

import (
	"context"
	"sort"
	"sync"
	"time"
)

// roomRecord is the per-room locked bucket of mutable state. Grounded on the
// teacher's session.Room, which guards one room's participants/messages with
// a single mutex; here the same shape holds chat rooms instead of WebRTC
// rooms.
type roomRecord struct {
	mu           sync.RWMutex
	room         Room
	participants map[string]*Participant
	messages     []Message
	polls        map[string]*Poll
	pollOrder    []string
}

// MemoryStore is the default, single-instance Store implementation: a
// top-level map protected by its own lock, with one additional lock per room
// for everything scoped to that room (participants, messages, polls). Cross
// room operations (CreateRoom, ListRooms) never need to hold two room locks
// at once.
type MemoryStore struct {
	mu    sync.RWMutex
	rooms map[string]*roomRecord
}

// NewMemoryStore constructs an empty, ready-to-use MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{rooms: make(map[string]*roomRecord)}
}

func (s *MemoryStore) getRecord(roomID string) (*roomRecord, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.rooms[roomID]
	return rec, ok
}

func (s *MemoryStore) CreateRoom(_ context.Context, name, createdBy string, llms []LLMConfiguration, description string, visibility Visibility) (string, error) {
	id := newRoomID()
	llmsCopy := append([]LLMConfiguration(nil), llms...)
	room := Room{
		ID:          id,
		Name:        name,
		Description: description,
		CreatedAt:   time.Now().UTC(),
		CreatedBy:   createdBy,
		Visibility:  visibility,
		LLMs:        llmsCopy,
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.rooms[id] = &roomRecord{
		room:         room,
		participants: make(map[string]*Participant),
		polls:        make(map[string]*Poll),
	}
	return id, nil
}

func (s *MemoryStore) GetRoom(_ context.Context, roomID string) (Room, bool, error) {
	rec, ok := s.getRecord(roomID)
	if !ok {
		return Room{}, false, nil
	}
	rec.mu.RLock()
	defer rec.mu.RUnlock()
	return copyRoom(rec.room), true, nil
}

func (s *MemoryStore) ListRooms(_ context.Context, userID string, limit int, cursor string) ([]Room, string, error) {
	s.mu.RLock()
	all := make([]Room, 0, len(s.rooms))
	for _, rec := range s.rooms {
		rec.mu.RLock()
		r := rec.room
		rec.mu.RUnlock()
		if r.Visibility == VisibilityPrivate && r.CreatedBy != userID {
			continue
		}
		all = append(all, copyRoom(r))
	}
	s.mu.RUnlock()

	sort.Slice(all, func(i, j int) bool {
		if !all[i].CreatedAt.Equal(all[j].CreatedAt) {
			return all[i].CreatedAt.After(all[j].CreatedAt)
		}
		return all[i].ID < all[j].ID
	})

	start := 0
	if cursor != "" {
		for i, r := range all {
			if r.ID == cursor {
				start = i + 1
				break
			}
		}
	}
	if start > len(all) {
		start = len(all)
	}
	end := start + limit
	if end > len(all) {
		end = len(all)
	}
	page := all[start:end]

	nextCursor := ""
	if len(page) == limit && end < len(all) {
		nextCursor = page[len(page)-1].ID
	}
	return page, nextCursor, nil
}

func (s *MemoryStore) AddParticipant(_ context.Context, roomID, userID, displayName string, role ParticipantRole, title, avatar string) (Participant, error) {
	rec, ok := s.getRecord(roomID)
	if !ok {
		return Participant{}, ErrRoomNotFound{RoomID: roomID}
	}
	rec.mu.Lock()
	defer rec.mu.Unlock()

	existing, found := rec.participants[userID]
	p := Participant{
		RoomID:      roomID,
		UserID:      userID,
		DisplayName: displayName,
		Role:        role,
		Title:       title,
		Avatar:      avatar,
	}
	if found {
		// Upsert: keep the original join timestamp.
		p.JoinedAt = existing.JoinedAt
	} else {
		p.JoinedAt = time.Now().UTC()
	}
	rec.participants[userID] = &p
	return p, nil
}

func (s *MemoryStore) GetParticipants(_ context.Context, roomID string) ([]Participant, error) {
	rec, ok := s.getRecord(roomID)
	if !ok {
		return nil, ErrRoomNotFound{RoomID: roomID}
	}
	rec.mu.RLock()
	defer rec.mu.RUnlock()
	out := make([]Participant, 0, len(rec.participants))
	for _, p := range rec.participants {
		out = append(out, *p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].JoinedAt.Before(out[j].JoinedAt) })
	return out, nil
}

func (s *MemoryStore) AddMessage(_ context.Context, roomID string, in NewMessageInput) (Message, error) {
	rec, ok := s.getRecord(roomID)
	if !ok {
		return Message{}, ErrRoomNotFound{RoomID: roomID}
	}
	rec.mu.Lock()
	defer rec.mu.Unlock()

	id := in.ID
	if id == "" {
		id = newMessageID()
	} else {
		for _, m := range rec.messages {
			if m.ID == id {
				return Message{}, ErrDuplicateMessageID{ID: id}
			}
		}
	}
	now := time.Now().UTC()
	msg := Message{
		ID:         id,
		RoomID:     roomID,
		SenderID:   in.SenderID,
		SenderName: in.SenderName,
		SenderType: in.SenderType,
		Content:    in.Content,
		ReplyTo:    in.ReplyTo,
		PollID:     in.PollID,
		CreatedAt:  now,
		SortKey:    sortKey(now, id),
	}
	rec.messages = append(rec.messages, msg)
	return msg, nil
}

func (s *MemoryStore) LoadHistory(_ context.Context, roomID string, limit int, cursor string) ([]Message, string, error) {
	rec, ok := s.getRecord(roomID)
	if !ok {
		return nil, "", ErrRoomNotFound{RoomID: roomID}
	}
	rec.mu.RLock()
	defer rec.mu.RUnlock()

	// rec.messages is in append order. Sort keys follow it except among
	// messages stamped in the same millisecond, whose keys tie-break on their
	// random id, so a cursor that is a stored message's key is located by
	// exact match; any other cursor ends the page after the last message
	// whose key sorts before it.
	end := len(rec.messages)
	if cursor != "" {
		end = 0
		for i, m := range rec.messages {
			if m.SortKey == cursor {
				end = i
				break
			}
			if m.SortKey < cursor {
				end = i + 1
			}
		}
	}
	start := end - limit
	if start < 0 {
		start = 0
	}
	page := append([]Message(nil), rec.messages[start:end]...)

	nextCursor := ""
	if start > 0 {
		nextCursor = page[0].SortKey
	}
	return page, nextCursor, nil
}

func (s *MemoryStore) AddLLM(_ context.Context, roomID string, llm LLMConfiguration) error {
	rec, ok := s.getRecord(roomID)
	if !ok {
		return ErrRoomNotFound{RoomID: roomID}
	}
	rec.mu.Lock()
	defer rec.mu.Unlock()
	for _, existing := range rec.room.LLMs {
		if existing.ID == llm.ID {
			return ErrDuplicateLLMID{ID: llm.ID}
		}
	}
	rec.room.LLMs = append(rec.room.LLMs, llm)
	return nil
}

func (s *MemoryStore) UpdateLLM(_ context.Context, roomID, llmID string, patch LLMPatch) (LLMConfiguration, bool, error) {
	rec, ok := s.getRecord(roomID)
	if !ok {
		return LLMConfiguration{}, false, ErrRoomNotFound{RoomID: roomID}
	}
	rec.mu.Lock()
	defer rec.mu.Unlock()
	for i := range rec.room.LLMs {
		if rec.room.LLMs[i].ID != llmID {
			continue
		}
		llm := &rec.room.LLMs[i]
		if patch.Model != nil {
			llm.Model = *patch.Model
		}
		if patch.Persona != nil {
			llm.Persona = *patch.Persona
		}
		if patch.DisplayName != nil {
			llm.DisplayName = *patch.DisplayName
		}
		if patch.Title != nil {
			llm.Title = *patch.Title
		}
		if patch.ChatStyle != nil {
			llm.ChatStyle = *patch.ChatStyle
		}
		if patch.Avatar != nil {
			llm.Avatar = *patch.Avatar
		}
		return *llm, true, nil
	}
	return LLMConfiguration{}, false, nil
}

func (s *MemoryStore) RemoveLLM(_ context.Context, roomID, llmID string) error {
	rec, ok := s.getRecord(roomID)
	if !ok {
		return ErrRoomNotFound{RoomID: roomID}
	}
	rec.mu.Lock()
	defer rec.mu.Unlock()
	for i, llm := range rec.room.LLMs {
		if llm.ID == llmID {
			rec.room.LLMs = append(rec.room.LLMs[:i], rec.room.LLMs[i+1:]...)
			return nil
		}
	}
	return nil
}

func (s *MemoryStore) UpdateRoomDescription(_ context.Context, roomID, description string) error {
	rec, ok := s.getRecord(roomID)
	if !ok {
		return ErrRoomNotFound{RoomID: roomID}
	}
	rec.mu.Lock()
	defer rec.mu.Unlock()
	rec.room.Description = description
	return nil
}

func (s *MemoryStore) CreatePoll(_ context.Context, roomID, creatorID, creatorName string, creatorType SenderType, question string, options []NewPollOption, allowMultiple, anonymous, mandatory bool) (Poll, error) {
	if len(options) < 2 {
		return Poll{}, ErrInvalidPoll{Reason: "a poll requires at least 2 options"}
	}
	rec, ok := s.getRecord(roomID)
	if !ok {
		return Poll{}, ErrRoomNotFound{RoomID: roomID}
	}
	rec.mu.Lock()
	defer rec.mu.Unlock()

	opts := make([]PollOption, 0, len(options))
	for _, o := range options {
		opts = append(opts, PollOption{ID: newOptionID(), Text: o.Text, Description: o.Description})
	}
	poll := Poll{
		ID:            newPollID(),
		RoomID:        roomID,
		CreatorID:     creatorID,
		CreatorName:   creatorName,
		CreatorType:   creatorType,
		Question:      question,
		Options:       opts,
		AllowMultiple: allowMultiple,
		Anonymous:     anonymous,
		Mandatory:     mandatory,
		Status:        PollOpen,
		CreatedAt:     time.Now().UTC(),
	}
	rec.polls[poll.ID] = &poll
	rec.pollOrder = append(rec.pollOrder, poll.ID)
	return poll, nil
}

func (s *MemoryStore) GetPoll(_ context.Context, roomID, pollID string) (Poll, bool, error) {
	rec, ok := s.getRecord(roomID)
	if !ok {
		return Poll{}, false, ErrRoomNotFound{RoomID: roomID}
	}
	rec.mu.RLock()
	defer rec.mu.RUnlock()
	poll, ok := rec.polls[pollID]
	if !ok {
		return Poll{}, false, nil
	}
	return copyPoll(*poll), true, nil
}

func (s *MemoryStore) ListRoomPolls(_ context.Context, roomID string, activeOnly bool) ([]Poll, error) {
	rec, ok := s.getRecord(roomID)
	if !ok {
		return nil, ErrRoomNotFound{RoomID: roomID}
	}
	rec.mu.RLock()
	defer rec.mu.RUnlock()
	out := make([]Poll, 0, len(rec.pollOrder))
	for _, id := range rec.pollOrder {
		poll := rec.polls[id]
		if activeOnly && poll.Status != PollOpen {
			continue
		}
		out = append(out, copyPoll(*poll))
	}
	return out, nil
}

func (s *MemoryStore) AddVote(_ context.Context, roomID, pollID, optionID, voterID, voterName, reason string) (Poll, PollOption, Vote, bool, error) {
	rec, ok := s.getRecord(roomID)
	if !ok {
		return Poll{}, PollOption{}, Vote{}, false, ErrRoomNotFound{RoomID: roomID}
	}
	rec.mu.Lock()
	defer rec.mu.Unlock()

	poll, ok := rec.polls[pollID]
	if !ok || poll.Status != PollOpen {
		return Poll{}, PollOption{}, Vote{}, false, nil
	}

	var target *PollOption
	for i := range poll.Options {
		if poll.Options[i].ID == optionID {
			target = &poll.Options[i]
			break
		}
	}
	if target == nil {
		return Poll{}, PollOption{}, Vote{}, false, nil
	}
	for _, v := range target.Votes {
		if v.VoterID == voterID {
			return Poll{}, PollOption{}, Vote{}, false, nil
		}
	}

	if !poll.AllowMultiple {
		for i := range poll.Options {
			kept := poll.Options[i].Votes[:0]
			for _, v := range poll.Options[i].Votes {
				if v.VoterID != voterID {
					kept = append(kept, v)
				}
			}
			poll.Options[i].Votes = kept
		}
		for i := range poll.Options {
			if poll.Options[i].ID == optionID {
				target = &poll.Options[i]
				break
			}
		}
	}

	vote := Vote{VoterID: voterID, VoterName: voterName, Reason: reason, VotedAt: time.Now().UTC()}
	target.Votes = append(target.Votes, vote)
	return copyPoll(*poll), *target, vote, true, nil
}

func (s *MemoryStore) ClosePoll(_ context.Context, roomID, pollID string) (Poll, error) {
	rec, ok := s.getRecord(roomID)
	if !ok {
		return Poll{}, ErrRoomNotFound{RoomID: roomID}
	}
	rec.mu.Lock()
	defer rec.mu.Unlock()
	poll, ok := rec.polls[pollID]
	if !ok {
		return Poll{}, nil
	}
	if poll.Status == PollOpen {
		poll.Status = PollClosed
		now := time.Now().UTC()
		poll.ClosedAt = &now
	}
	return copyPoll(*poll), nil
}

func copyRoom(r Room) Room {
	r.LLMs = append([]LLMConfiguration(nil), r.LLMs...)
	return r
}

func copyPoll(p Poll) Poll {
	opts := make([]PollOption, len(p.Options))
	for i, o := range p.Options {
		o.Votes = append([]Vote(nil), o.Votes...)
		opts[i] = o
	}
	p.Options = opts
	return p
}
