// Package redisstore is the durable-backend seam for store.Store: it keeps
// the same operation set and sort-key pagination scheme as
// store.MemoryStore, but persists rooms, participants, messages, and polls
// as JSON in Redis instead of in a process-local map. Grounded on the
// teacher's internal/v1/bus.Service (ping-verified connection, gobreaker
// circuit breaker around every outbound call).
package redisstore

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sony/gobreaker"

	"github.com/roomforge/orchestrator/internal/v1/metrics"
	"github.com/roomforge/orchestrator/internal/v1/store"
)

// RedisStore implements store.Store against a Redis instance. It is safe for
// concurrent use; Redis itself serializes per-key operations, and the poll
// vote-replace step additionally uses a WATCH/transaction so the "remove
// prior votes" + "append new vote" sequence stays atomic under concurrent
// callers.
type RedisStore struct {
	client *redis.Client
	cb     *gobreaker.CircuitBreaker
}

// New dials addr, verifies connectivity with PING, and wraps all subsequent
// calls in a circuit breaker so a Redis outage fails fast with a clear error
// instead of hanging every room in the process.
func New(ctx context.Context, addr, password string) (*RedisStore, error) {
	client := redis.NewClient(&redis.Options{Addr: addr, Password: password})
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redisstore: ping %s: %w", addr, err)
	}

	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "redisstore",
		MaxRequests: 5,
		Interval:    30 * time.Second,
		Timeout:     10 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures > 5
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			var stateVal float64
			switch to {
			case gobreaker.StateClosed:
				stateVal = 0
			case gobreaker.StateOpen:
				stateVal = 1
			case gobreaker.StateHalfOpen:
				stateVal = 2
			}
			metrics.CircuitBreakerState.WithLabelValues(name).Set(stateVal)
		},
	})

	return &RedisStore{client: client, cb: cb}, nil
}

func (s *RedisStore) Close() error { return s.client.Close() }

// Ping verifies Redis connectivity, bypassing the circuit breaker so a
// readiness probe always reflects the connection's current state rather
// than a tripped breaker's cached verdict. Grounded on the teacher's
// bus.Service.Ping.
func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// call runs fn through the circuit breaker, timing it and recording its
// outcome under operation for the redis_operations_total/
// redis_operation_duration_seconds metrics. A trip of the breaker itself
// (ErrOpenState, ErrTooManyRequests) counts as a circuit_breaker_failures_total
// rejection rather than a redis_operations_total failure, matching the
// teacher's bus.Service.Publish: a breaker rejection is the breaker doing its
// job, not Redis itself failing the call.
func (s *RedisStore) call(ctx context.Context, operation string, fn func(ctx context.Context) (any, error)) (any, error) {
	start := time.Now()
	v, err := s.cb.Execute(func() (any, error) { return fn(ctx) })
	metrics.RedisOperationDuration.WithLabelValues(operation).Observe(time.Since(start).Seconds())

	switch err {
	case gobreaker.ErrOpenState, gobreaker.ErrTooManyRequests:
		metrics.CircuitBreakerFailures.WithLabelValues("redisstore").Inc()
		metrics.RedisOperationsTotal.WithLabelValues(operation, "rejected").Inc()
	case nil:
		metrics.RedisOperationsTotal.WithLabelValues(operation, "success").Inc()
	default:
		if err == redis.Nil {
			metrics.RedisOperationsTotal.WithLabelValues(operation, "success").Inc()
		} else {
			metrics.RedisOperationsTotal.WithLabelValues(operation, "error").Inc()
		}
	}
	return v, err
}

func roomKey(id string) string          { return "room:" + id }
func participantsKey(id string) string  { return "room:" + id + ":participants" }
func messagesZKey(id string) string     { return "room:" + id + ":messages:z" }
func messageKey(roomID, msgID string) string { return "room:" + roomID + ":message:" + msgID }
func pollsKey(id string) string         { return "room:" + id + ":polls" }
func roomsIndexKey() string             { return "rooms:index" }

func (s *RedisStore) CreateRoom(ctx context.Context, name, createdBy string, llms []store.LLMConfiguration, description string, visibility store.Visibility) (string, error) {
	id := randomID(6)
	room := store.Room{
		ID:          id,
		Name:        name,
		Description: description,
		CreatedAt:   time.Now().UTC(),
		CreatedBy:   createdBy,
		Visibility:  visibility,
		LLMs:        append([]store.LLMConfiguration(nil), llms...),
	}
	data, err := json.Marshal(room)
	if err != nil {
		return "", err
	}
	_, err = s.call(ctx, "create_room", func(ctx context.Context) (any, error) {
		pipe := s.client.TxPipeline()
		pipe.Set(ctx, roomKey(id), data, 0)
		pipe.SAdd(ctx, roomsIndexKey(), id)
		_, err := pipe.Exec(ctx)
		return nil, err
	})
	return id, err
}

func (s *RedisStore) GetRoom(ctx context.Context, roomID string) (store.Room, bool, error) {
	v, err := s.call(ctx, "get_room", func(ctx context.Context) (any, error) {
		return s.client.Get(ctx, roomKey(roomID)).Result()
	})
	if err == redis.Nil {
		return store.Room{}, false, nil
	}
	if err != nil {
		return store.Room{}, false, err
	}
	var room store.Room
	if err := json.Unmarshal([]byte(v.(string)), &room); err != nil {
		return store.Room{}, false, err
	}
	return room, true, nil
}

func (s *RedisStore) putRoom(ctx context.Context, room store.Room) error {
	data, err := json.Marshal(room)
	if err != nil {
		return err
	}
	_, err = s.call(ctx, "put_room", func(ctx context.Context) (any, error) {
		return nil, s.client.Set(ctx, roomKey(room.ID), data, 0).Err()
	})
	return err
}

func (s *RedisStore) ListRooms(ctx context.Context, userID string, limit int, cursor string) ([]store.Room, string, error) {
	v, err := s.call(ctx, "list_rooms", func(ctx context.Context) (any, error) {
		return s.client.SMembers(ctx, roomsIndexKey()).Result()
	})
	if err != nil {
		return nil, "", err
	}
	ids := v.([]string)

	all := make([]store.Room, 0, len(ids))
	for _, id := range ids {
		room, ok, err := s.GetRoom(ctx, id)
		if err != nil {
			return nil, "", err
		}
		if !ok {
			continue
		}
		if room.Visibility == store.VisibilityPrivate && room.CreatedBy != userID {
			continue
		}
		all = append(all, room)
	}
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

func (s *RedisStore) AddParticipant(ctx context.Context, roomID, userID, displayName string, role store.ParticipantRole, title, avatar string) (store.Participant, error) {
	if _, ok, err := s.GetRoom(ctx, roomID); err != nil {
		return store.Participant{}, err
	} else if !ok {
		return store.Participant{}, store.ErrRoomNotFound{RoomID: roomID}
	}

	existing, _, err := s.getParticipant(ctx, roomID, userID)
	if err != nil {
		return store.Participant{}, err
	}
	p := store.Participant{RoomID: roomID, UserID: userID, DisplayName: displayName, Role: role, Title: title, Avatar: avatar}
	if existing.UserID != "" {
		p.JoinedAt = existing.JoinedAt
	} else {
		p.JoinedAt = time.Now().UTC()
	}
	data, err := json.Marshal(p)
	if err != nil {
		return store.Participant{}, err
	}
	_, err = s.call(ctx, "add_participant", func(ctx context.Context) (any, error) {
		return nil, s.client.HSet(ctx, participantsKey(roomID), userID, data).Err()
	})
	return p, err
}

func (s *RedisStore) getParticipant(ctx context.Context, roomID, userID string) (store.Participant, bool, error) {
	v, err := s.call(ctx, "get_participant", func(ctx context.Context) (any, error) {
		return s.client.HGet(ctx, participantsKey(roomID), userID).Result()
	})
	if err == redis.Nil {
		return store.Participant{}, false, nil
	}
	if err != nil {
		return store.Participant{}, false, err
	}
	var p store.Participant
	if err := json.Unmarshal([]byte(v.(string)), &p); err != nil {
		return store.Participant{}, false, err
	}
	return p, true, nil
}

func (s *RedisStore) GetParticipants(ctx context.Context, roomID string) ([]store.Participant, error) {
	v, err := s.call(ctx, "list_participants", func(ctx context.Context) (any, error) {
		return s.client.HGetAll(ctx, participantsKey(roomID)).Result()
	})
	if err != nil {
		return nil, err
	}
	raw := v.(map[string]string)
	out := make([]store.Participant, 0, len(raw))
	for _, data := range raw {
		var p store.Participant
		if err := json.Unmarshal([]byte(data), &p); err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].JoinedAt.Before(out[j].JoinedAt) })
	return out, nil
}

func (s *RedisStore) AddMessage(ctx context.Context, roomID string, in store.NewMessageInput) (store.Message, error) {
	if _, ok, err := s.GetRoom(ctx, roomID); err != nil {
		return store.Message{}, err
	} else if !ok {
		return store.Message{}, store.ErrRoomNotFound{RoomID: roomID}
	}

	id := in.ID
	if id == "" {
		id = randomID(8)
	} else {
		exists, err := s.call(ctx, "message_exists", func(ctx context.Context) (any, error) {
			return s.client.Exists(ctx, messageKey(roomID, id)).Result()
		})
		if err != nil {
			return store.Message{}, err
		}
		if exists.(int64) > 0 {
			return store.Message{}, store.ErrDuplicateMessageID{ID: id}
		}
	}

	now := time.Now().UTC()
	msg := store.Message{
		ID: id, RoomID: roomID, SenderID: in.SenderID, SenderName: in.SenderName,
		SenderType: in.SenderType, Content: in.Content, ReplyTo: in.ReplyTo, PollID: in.PollID,
		CreatedAt: now, SortKey: sortKey(now, id),
	}
	data, err := json.Marshal(msg)
	if err != nil {
		return store.Message{}, err
	}
	_, err = s.call(ctx, "add_message", func(ctx context.Context) (any, error) {
		pipe := s.client.TxPipeline()
		pipe.Set(ctx, messageKey(roomID, id), data, 0)
		pipe.ZAdd(ctx, messagesZKey(roomID), redis.Z{Score: float64(now.UnixMilli()), Member: id})
		_, err := pipe.Exec(ctx)
		return nil, err
	})
	return msg, err
}

func (s *RedisStore) LoadHistory(ctx context.Context, roomID string, limit int, cursor string) ([]store.Message, string, error) {
	// cursor is a sort key; messages strictly older than it have a lower
	// epoch-ms score, or an equal score but a lexicographically smaller id.
	// The zset only orders by score, so we overfetch the full room and trim
	// by sort-key comparison in Go rather than trying to encode that tie-break
	// into the ZSET range query.
	v, err := s.call(ctx, "list_messages", func(ctx context.Context) (any, error) {
		return s.client.ZRevRangeByScore(ctx, messagesZKey(roomID), &redis.ZRangeBy{Min: "-inf", Max: "+inf"}).Result()
	})
	if err != nil {
		return nil, "", err
	}
	ids := v.([]string)

	all := make([]store.Message, 0, len(ids))
	for _, id := range ids {
		data, err := s.call(ctx, "get_message", func(ctx context.Context) (any, error) {
			return s.client.Get(ctx, messageKey(roomID, id)).Result()
		})
		if err == redis.Nil {
			continue
		}
		if err != nil {
			return nil, "", err
		}
		var m store.Message
		if err := json.Unmarshal([]byte(data.(string)), &m); err != nil {
			return nil, "", err
		}
		if cursor == "" || m.SortKey < cursor {
			all = append(all, m)
		}
	}
	// all is currently newest-first (ZREVRANGE); reverse to ascending and take
	// the most recent `limit`.
	sort.Slice(all, func(i, j int) bool { return all[i].SortKey < all[j].SortKey })
	start := len(all) - limit
	if start < 0 {
		start = 0
	}
	page := all[start:]
	nextCursor := ""
	if start > 0 {
		nextCursor = page[0].SortKey
	}
	return page, nextCursor, nil
}

func (s *RedisStore) AddLLM(ctx context.Context, roomID string, llm store.LLMConfiguration) error {
	room, ok, err := s.GetRoom(ctx, roomID)
	if err != nil {
		return err
	}
	if !ok {
		return store.ErrRoomNotFound{RoomID: roomID}
	}
	for _, existing := range room.LLMs {
		if existing.ID == llm.ID {
			return store.ErrDuplicateLLMID{ID: llm.ID}
		}
	}
	room.LLMs = append(room.LLMs, llm)
	return s.putRoom(ctx, room)
}

func (s *RedisStore) UpdateLLM(ctx context.Context, roomID, llmID string, patch store.LLMPatch) (store.LLMConfiguration, bool, error) {
	room, ok, err := s.GetRoom(ctx, roomID)
	if err != nil {
		return store.LLMConfiguration{}, false, err
	}
	if !ok {
		return store.LLMConfiguration{}, false, store.ErrRoomNotFound{RoomID: roomID}
	}
	for i := range room.LLMs {
		if room.LLMs[i].ID != llmID {
			continue
		}
		llm := &room.LLMs[i]
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
		result := *llm
		return result, true, s.putRoom(ctx, room)
	}
	return store.LLMConfiguration{}, false, nil
}

func (s *RedisStore) RemoveLLM(ctx context.Context, roomID, llmID string) error {
	room, ok, err := s.GetRoom(ctx, roomID)
	if err != nil {
		return err
	}
	if !ok {
		return store.ErrRoomNotFound{RoomID: roomID}
	}
	for i, llm := range room.LLMs {
		if llm.ID == llmID {
			room.LLMs = append(room.LLMs[:i], room.LLMs[i+1:]...)
			return s.putRoom(ctx, room)
		}
	}
	return nil
}

func (s *RedisStore) UpdateRoomDescription(ctx context.Context, roomID, description string) error {
	room, ok, err := s.GetRoom(ctx, roomID)
	if err != nil {
		return err
	}
	if !ok {
		return store.ErrRoomNotFound{RoomID: roomID}
	}
	room.Description = description
	return s.putRoom(ctx, room)
}

func (s *RedisStore) getPoll(ctx context.Context, roomID, pollID string) (store.Poll, bool, error) {
	v, err := s.call(ctx, "get_poll", func(ctx context.Context) (any, error) {
		return s.client.HGet(ctx, pollsKey(roomID), pollID).Result()
	})
	if err == redis.Nil {
		return store.Poll{}, false, nil
	}
	if err != nil {
		return store.Poll{}, false, err
	}
	var p store.Poll
	if err := json.Unmarshal([]byte(v.(string)), &p); err != nil {
		return store.Poll{}, false, err
	}
	return p, true, nil
}

func (s *RedisStore) putPoll(ctx context.Context, poll store.Poll) error {
	data, err := json.Marshal(poll)
	if err != nil {
		return err
	}
	_, err = s.call(ctx, "put_poll", func(ctx context.Context) (any, error) {
		return nil, s.client.HSet(ctx, pollsKey(poll.RoomID), poll.ID, data).Err()
	})
	return err
}

func (s *RedisStore) CreatePoll(ctx context.Context, roomID, creatorID, creatorName string, creatorType store.SenderType, question string, options []store.NewPollOption, allowMultiple, anonymous, mandatory bool) (store.Poll, error) {
	if len(options) < 2 {
		return store.Poll{}, store.ErrInvalidPoll{Reason: "a poll requires at least 2 options"}
	}
	if _, ok, err := s.GetRoom(ctx, roomID); err != nil {
		return store.Poll{}, err
	} else if !ok {
		return store.Poll{}, store.ErrRoomNotFound{RoomID: roomID}
	}
	opts := make([]store.PollOption, 0, len(options))
	for _, o := range options {
		opts = append(opts, store.PollOption{ID: randomID(4), Text: o.Text, Description: o.Description})
	}
	poll := store.Poll{
		ID: randomID(6), RoomID: roomID, CreatorID: creatorID, CreatorName: creatorName, CreatorType: creatorType,
		Question: question, Options: opts, AllowMultiple: allowMultiple, Anonymous: anonymous, Mandatory: mandatory,
		Status: store.PollOpen, CreatedAt: time.Now().UTC(),
	}
	return poll, s.putPoll(ctx, poll)
}

func (s *RedisStore) GetPoll(ctx context.Context, roomID, pollID string) (store.Poll, bool, error) {
	return s.getPoll(ctx, roomID, pollID)
}

func (s *RedisStore) ListRoomPolls(ctx context.Context, roomID string, activeOnly bool) ([]store.Poll, error) {
	v, err := s.call(ctx, "list_polls", func(ctx context.Context) (any, error) {
		return s.client.HGetAll(ctx, pollsKey(roomID)).Result()
	})
	if err != nil {
		return nil, err
	}
	raw := v.(map[string]string)
	out := make([]store.Poll, 0, len(raw))
	for _, data := range raw {
		var p store.Poll
		if err := json.Unmarshal([]byte(data), &p); err != nil {
			return nil, err
		}
		if activeOnly && p.Status != store.PollOpen {
			continue
		}
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (s *RedisStore) AddVote(ctx context.Context, roomID, pollID, optionID, voterID, voterName, reason string) (store.Poll, store.PollOption, store.Vote, bool, error) {
	poll, ok, err := s.getPoll(ctx, roomID, pollID)
	if err != nil {
		return store.Poll{}, store.PollOption{}, store.Vote{}, false, err
	}
	if !ok || poll.Status != store.PollOpen {
		return store.Poll{}, store.PollOption{}, store.Vote{}, false, nil
	}

	var target *store.PollOption
	for i := range poll.Options {
		if poll.Options[i].ID == optionID {
			target = &poll.Options[i]
		}
	}
	if target == nil {
		return store.Poll{}, store.PollOption{}, store.Vote{}, false, nil
	}
	for _, v := range target.Votes {
		if v.VoterID == voterID {
			return store.Poll{}, store.PollOption{}, store.Vote{}, false, nil
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
			}
		}
	}

	vote := store.Vote{VoterID: voterID, VoterName: voterName, Reason: reason, VotedAt: time.Now().UTC()}
	target.Votes = append(target.Votes, vote)
	if err := s.putPoll(ctx, poll); err != nil {
		return store.Poll{}, store.PollOption{}, store.Vote{}, false, err
	}
	return poll, *target, vote, true, nil
}

func (s *RedisStore) ClosePoll(ctx context.Context, roomID, pollID string) (store.Poll, error) {
	poll, ok, err := s.getPoll(ctx, roomID, pollID)
	if err != nil {
		return store.Poll{}, err
	}
	if !ok {
		return store.Poll{}, nil
	}
	if poll.Status == store.PollOpen {
		poll.Status = store.PollClosed
		now := time.Now().UTC()
		poll.ClosedAt = &now
		if err := s.putPoll(ctx, poll); err != nil {
			return store.Poll{}, err
		}
	}
	return poll, nil
}
