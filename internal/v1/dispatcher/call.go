package dispatcher

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"

	"github.com/roomforge/orchestrator/internal/v1/events"
	"github.com/roomforge/orchestrator/internal/v1/logging"
	"github.com/roomforge/orchestrator/internal/v1/mention"
	"github.com/roomforge/orchestrator/internal/v1/metrics"
	"github.com/roomforge/orchestrator/internal/v1/provider"
	"github.com/roomforge/orchestrator/internal/v1/store"
)

const (
	generalMaxTokens = 1500
	pollMaxTokens    = 500
)

var tracer = otel.Tracer("github.com/roomforge/orchestrator/internal/v1/dispatcher")

func newResponseMessageID() string {
	b := make([]byte, 8)
	if _, err := rand.Read(b); err != nil {
		return fmt.Sprintf("%016x", time.Now().UnixNano())
	}
	return hex.EncodeToString(b)
}

func toolNames(tools []provider.ToolDefinition) []string {
	names := make([]string, 0, len(tools))
	for _, t := range tools {
		names = append(names, t.Name)
	}
	return names
}

// translateHistory turns stored messages into chat turns: own messages
// become "assistant" turns with raw text, everyone else's become "user"
// turns prefixed with the sender's name. Grounded on llm_dispatcher.py's
// call_llm message-building loop.
func translateHistory(history []store.Message, selfLLMID string) []provider.Message {
	out := make([]provider.Message, 0, len(history))
	for _, m := range history {
		if m.SenderType == store.SenderLLM && m.SenderID == selfLLMID {
			out = append(out, provider.Message{Role: "assistant", Content: m.Content})
			continue
		}
		out = append(out, provider.Message{Role: "user", Content: fmt.Sprintf("%s: %s", m.SenderName, m.Content)})
	}
	return out
}

var selfPrefixTrim = func(displayName string) *regexp.Regexp {
	escaped := regexp.QuoteMeta(strings.TrimSpace(displayName))
	return regexp.MustCompile(`(?i)^\s*` + escaped + `\s*[:\-]\s*`)
}

// stripSelfNamePrefix removes up to three repeated leading "<name>:" /
// "<name> -" prefixes from model output. Grounded on
// llm_dispatcher.py's strip_self_name_prefix.
func stripSelfNamePrefix(text, displayName string) string {
	if text == "" || displayName == "" {
		return text
	}
	re := selfPrefixTrim(displayName)
	cleaned := text
	for i := 0; i < 3; i++ {
		updated := re.ReplaceAllString(cleaned, "")
		if updated == cleaned {
			break
		}
		cleaned = updated
	}
	return strings.TrimLeft(cleaned, " \t\n")
}

type voteArgs struct {
	PollID    string   `json:"poll_id"`
	OptionIDs []string `json:"option_ids"`
	Reason    string   `json:"reason"`
}

// handleVoteToolCall parses a vote_on_poll tool call's arguments and applies
// each vote through the Store, broadcasting poll_voted per accepted vote.
// Grounded on llm_dispatcher.py's _handle_llm_vote.
func (d *Dispatcher) handleVoteToolCall(ctx context.Context, roomID string, llm store.LLMConfiguration, argsJSON string) {
	var args voteArgs
	if argsJSON == "" {
		return
	}
	if err := json.Unmarshal([]byte(argsJSON), &args); err != nil {
		logging.Warn(ctx, "invalid vote_on_poll arguments", zap.String("llm_id", llm.ID), zap.Error(err))
		return
	}
	if args.PollID == "" || len(args.OptionIDs) == 0 {
		logging.Warn(ctx, "vote_on_poll call missing required fields", zap.String("llm_id", llm.ID))
		return
	}
	for _, optionID := range args.OptionIDs {
		poll, option, vote, ok, err := d.store.AddVote(ctx, roomID, args.PollID, optionID, llm.ID, llm.DisplayName, args.Reason)
		if err != nil || !ok {
			continue
		}
		metrics.PollVotesCast.WithLabelValues("llm").Inc()
		d.registry.Broadcast(roomID, events.NewPollVoted(poll.ID, option.ID, vote))
	}
}

// storeResponseMessage appends an LLM's response message, regenerating the
// id and retrying exactly once if it collides with an existing message in
// the room. Grounded on the "duplicate id on unified streaming" decision:
// the chunks already broadcast under in.ID, so a regenerated id only
// affects what gets persisted, not what the client already saw streaming.
func (d *Dispatcher) storeResponseMessage(ctx context.Context, roomID string, in store.NewMessageInput) (store.Message, error) {
	stored, err := d.store.AddMessage(ctx, roomID, in)
	var dup store.ErrDuplicateMessageID
	if errors.As(err, &dup) {
		logging.Warn(ctx, "message id collision, regenerating and retrying once",
			zap.String("llm_id", in.SenderID), zap.String("id", in.ID))
		in.ID = newResponseMessageID()
		stored, err = d.store.AddMessage(ctx, roomID, in)
	}
	return stored, err
}

// callResult accumulates the outcome of one streaming loop so finalization
// can be shared between the general call and the poll-voting call.
type callResult struct {
	content        strings.Builder
	optedOut       bool
	cancelled      bool
	providerErr    error
	pendingMentions []string
	voted          bool
}

// runStream opens the Chat Provider stream and drains it, mirroring
// llm_dispatcher.py's async-for loop shared by call_llm and
// call_llm_for_poll. isPollCall narrows tool handling to vote_on_poll/opt_out
// only; general calls additionally collect `mention` tool calls.
func (d *Dispatcher) runStream(ctx context.Context, roomID string, llm store.LLMConfiguration, req *provider.ChatRequest, responseMsgID, triggerMsgID string, isPollCall bool) *callResult {
	ctx = logging.WithLLM(logging.WithRoom(ctx, roomID), llm.ID)
	result := &callResult{}
	output := make(chan provider.Delta, 16)

	cp, ok := d.resolve(req.Model)
	if !ok {
		result.providerErr = fmt.Errorf("no chat provider configured for model %q", req.Model)
		return result
	}

	ctx, span := tracer.Start(ctx, llm.ID+" "+req.Model)
	span.SetAttributes(attribute.String("llm.id", llm.ID), attribute.String("llm.model", req.Model))

	go func() {
		defer span.End()
		if err := cp.Stream(ctx, req, output); err != nil && ctx.Err() == nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			logging.Error(ctx, "chat provider stream error", zap.Error(err))
		}
	}()

	for delta := range output {
		if delta.Err != nil {
			result.providerErr = delta.Err
			continue
		}
		if delta.OptedOut {
			result.optedOut = true
			logging.Info(ctx, "llm opted out of responding")
			continue
		}

		for _, tc := range delta.ToolCalls {
			switch tc.Name {
			case toolOptOut:
				if isPollCall {
					logging.Info(ctx, "llm opted out of poll voting")
					continue
				}
				result.optedOut = true
				logging.Info(ctx, "llm opted out via tool call")
			case toolMention:
				if isPollCall {
					continue
				}
				var args struct {
					Participant string `json:"participant"`
				}
				if tc.Arguments != "" {
					if err := json.Unmarshal([]byte(tc.Arguments), &args); err == nil && args.Participant != "" {
						result.pendingMentions = append(result.pendingMentions, args.Participant)
						logging.Info(ctx, "llm mentioned participant", zap.String("participant", args.Participant))
					}
				}
			case toolVoteOnPoll:
				d.handleVoteToolCall(ctx, roomID, llm, tc.Arguments)
				result.voted = true
			}
		}
		if result.optedOut {
			break
		}

		if delta.Content != "" {
			result.content.WriteString(delta.Content)
			d.registry.Broadcast(roomID, events.NewLLMChunk(responseMsgID, llm.ID, delta.Content, triggerMsgID))
		}
	}

	if ctx.Err() != nil {
		result.cancelled = true
	}
	return result
}

// callLLM runs one general mention-triggered call. Grounded on
// llm_dispatcher.py's call_llm.
func (d *Dispatcher) callLLM(ctx context.Context, roomID string, llm store.LLMConfiguration, triggerMsgID string) {
	room, ok, err := d.store.GetRoom(ctx, roomID)
	if err != nil || !ok {
		return
	}

	d.registry.Broadcast(roomID, events.NewLLMThinking(llm.ID, triggerMsgID))

	history, _, err := d.store.LoadHistory(ctx, roomID, 50, "")
	if err != nil {
		logging.Error(ctx, "failed to load history for llm call", zap.String("llm_id", llm.ID), zap.Error(err))
		return
	}

	onlineHumans := d.onlineHumanNames(ctx, roomID)
	polls, _ := d.store.ListRoomPolls(ctx, roomID, true)
	tools := buildRoomTools(room, polls)
	systemPrompt := buildSystemPrompt(llm, room, onlineHumans, toolNames(tools))

	messages := make([]provider.Message, 0, len(history)+1)
	messages = append(messages, provider.Message{Role: "system", Content: systemPrompt})
	messages = append(messages, translateHistory(history, llm.ID)...)

	responseMsgID := newResponseMessageID()
	req := &provider.ChatRequest{Messages: messages, Model: llm.Model, Tools: tools, MaxTokens: generalMaxTokens}

	metrics.LLMCallsInFlight.WithLabelValues(llm.ID).Inc()
	start := time.Now()
	result := d.runStream(ctx, roomID, llm, req, responseMsgID, triggerMsgID, false)
	metrics.LLMCallsInFlight.WithLabelValues(llm.ID).Dec()

	d.finalizeCall(ctx, roomID, room, llm, result, responseMsgID, triggerMsgID, start)
}

// callLLMForPoll runs one poll-voting call. Grounded on
// llm_dispatcher.py's call_llm_for_poll.
func (d *Dispatcher) callLLMForPoll(ctx context.Context, roomID string, llm store.LLMConfiguration, pollID, question string, options []store.PollOption, mandatory bool, triggerMsgID string) {
	room, ok, err := d.store.GetRoom(ctx, roomID)
	if err != nil || !ok {
		return
	}

	d.registry.Broadcast(roomID, events.NewLLMThinking(llm.ID, triggerMsgID))

	history, _, err := d.store.LoadHistory(ctx, roomID, 50, "")
	if err != nil {
		logging.Error(ctx, "failed to load history for poll call", zap.String("llm_id", llm.ID), zap.Error(err))
		return
	}

	onlineHumans := d.onlineHumanNames(ctx, roomID)
	tools := buildPollTools(pollID, question, options, mandatory)
	systemPrompt := buildSystemPrompt(llm, room, onlineHumans, toolNames(tools)) + pollVotingAddendum(pollID, question, options, mandatory)

	messages := make([]provider.Message, 0, len(history)+1)
	messages = append(messages, provider.Message{Role: "system", Content: systemPrompt})
	messages = append(messages, translateHistory(history, llm.ID)...)

	responseMsgID := newResponseMessageID()
	req := &provider.ChatRequest{Messages: messages, Model: llm.Model, Tools: tools, MaxTokens: pollMaxTokens}

	metrics.LLMCallsInFlight.WithLabelValues(llm.ID).Inc()
	result := d.runStream(ctx, roomID, llm, req, responseMsgID, triggerMsgID, true)
	metrics.LLMCallsInFlight.WithLabelValues(llm.ID).Dec()

	if result.providerErr != nil {
		logging.Error(ctx, "chat provider error during poll call", zap.String("llm_id", llm.ID), zap.Error(result.providerErr))
		d.registry.Broadcast(roomID, events.NewError(events.CodeLLMError, fmt.Sprintf("Error from %s: %s", llm.DisplayName, result.providerErr)))
		return
	}
	if result.cancelled {
		return
	}

	finalContent := stripSelfNamePrefix(result.content.String(), llm.DisplayName)
	if strings.TrimSpace(finalContent) != "" {
		if _, err := d.storeResponseMessage(ctx, roomID, store.NewMessageInput{
			ID: responseMsgID, SenderID: llm.ID, SenderName: llm.DisplayName,
			SenderType: store.SenderLLM, Content: finalContent, ReplyTo: triggerMsgID, PollID: pollID,
		}); err != nil {
			logging.Error(ctx, "failed to store llm poll message", zap.String("llm_id", llm.ID), zap.Error(err))
		} else {
			metrics.MessagesStored.WithLabelValues("llm").Inc()
		}
	}
	d.registry.Broadcast(roomID, events.NewLLMDone(responseMsgID, llm.ID, false))

	if mandatory && !result.voted {
		logging.Warn(ctx, "llm did not vote on mandatory poll", zap.String("llm_id", llm.ID), zap.String("poll_id", pollID))
	}
}

// finalizeCall implements §4.5.4: opted-out / error / cancelled / success
// branching, prefix stripping, storage, llm_done broadcast, and mention
// chaining. Grounded on llm_dispatcher.py's tail of call_llm.
func (d *Dispatcher) finalizeCall(ctx context.Context, roomID string, room store.Room, llm store.LLMConfiguration, result *callResult, responseMsgID, triggerMsgID string, start time.Time) {
	outcome := "ok"
	defer func() { metrics.LLMCallDuration.WithLabelValues(llm.ID, outcome).Observe(time.Since(start).Seconds()) }()

	if result.providerErr != nil {
		outcome = "error"
		logging.Error(ctx, "chat provider error", zap.String("llm_id", llm.ID), zap.Error(result.providerErr))
		d.registry.Broadcast(roomID, events.NewError(events.CodeLLMError, fmt.Sprintf("Error from %s: %s", llm.DisplayName, result.providerErr)))
		return
	}
	if result.cancelled {
		outcome = "cancelled"
		// Partial content is never stored, and the canceller (not this task)
		// broadcasts the terminal llm_done per the interrupt design.
		return
	}
	if result.optedOut {
		outcome = "opted_out"
		d.registry.Broadcast(roomID, events.NewLLMDone(responseMsgID, llm.ID, true))
		return
	}

	finalContent := stripSelfNamePrefix(result.content.String(), llm.DisplayName)
	if strings.TrimSpace(finalContent) == "" {
		d.registry.Broadcast(roomID, events.NewLLMDone(responseMsgID, llm.ID, false))
		return
	}

	stored, err := d.storeResponseMessage(ctx, roomID, store.NewMessageInput{
		ID: responseMsgID, SenderID: llm.ID, SenderName: llm.DisplayName,
		SenderType: store.SenderLLM, Content: finalContent, ReplyTo: triggerMsgID,
	})
	if err != nil {
		outcome = "error"
		logging.Error(ctx, "failed to store llm message after id regeneration retry", zap.String("llm_id", llm.ID), zap.Error(err))
		d.registry.Broadcast(roomID, events.NewLLMDone(responseMsgID, llm.ID, false))
		return
	}
	metrics.MessagesStored.WithLabelValues("llm").Inc()
	d.registry.Broadcast(roomID, events.NewMessageReceived(stored))
	d.registry.Broadcast(roomID, events.NewLLMDone(responseMsgID, llm.ID, false))

	mentions := append([]string(nil), result.pendingMentions...)
	seen := make(map[string]struct{}, len(mentions))
	for _, m := range mentions {
		seen[strings.ToLower(m)] = struct{}{}
	}
	for _, tok := range mention.Extract(finalContent) {
		if _, ok := seen[tok]; ok {
			continue
		}
		seen[tok] = struct{}{}
		mentions = append(mentions, tok)
	}
	if len(mentions) > 0 {
		d.DispatchLLMMentions(roomID, room, mentions, stored.ID, llm.ID)
	}
}

// onlineHumanNames intersects the room's human participants with the
// Registry's online user ids. Grounded on llm_dispatcher.py's use of
// registry.get_online_user_ids + store.get_participants.
func (d *Dispatcher) onlineHumanNames(ctx context.Context, roomID string) []string {
	online := d.registry.GetOnlineUserIDs(roomID)
	participants, err := d.store.GetParticipants(ctx, roomID)
	if err != nil {
		return nil
	}
	var names []string
	for _, p := range participants {
		if online.Has(p.UserID) {
			names = append(names, p.DisplayName)
		}
	}
	return names
}
