// Package dispatcher implements the LLM Dispatcher: it turns @mentions and
// poll-voting requests into streaming Chat Provider calls, and turns the
// resulting deltas into broadcast events and stored messages. Grounded on
// original_source/services/room/src/room/llm_dispatcher.py's LLMDispatcher
// class almost line for line, translated from asyncio tasks + a gRPC Chat
// stub into goroutines + the provider.ChatProvider interface.
package dispatcher

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"github.com/roomforge/orchestrator/internal/v1/events"
	"github.com/roomforge/orchestrator/internal/v1/logging"
	"github.com/roomforge/orchestrator/internal/v1/mention"
	"github.com/roomforge/orchestrator/internal/v1/provider"
	"github.com/roomforge/orchestrator/internal/v1/registry"
	"github.com/roomforge/orchestrator/internal/v1/store"
)

// ProviderResolver picks the Chat Provider backing a given model id, the way
// the teacher's config layer resolves service addresses. Returns false if no
// provider is configured for the model.
type ProviderResolver func(model string) (provider.ChatProvider, bool)

// activeTask is one in-flight LLM call, trackable for interrupt.
type activeTask struct {
	cancel context.CancelFunc
	done   chan struct{}
}

// Dispatcher owns the room_global pending-task set (for graceful shutdown)
// and the per-(room,llm) active-task map (for interrupt support).
type Dispatcher struct {
	store    store.Store
	registry *registry.Registry
	resolve  ProviderResolver

	shutdownCtx context.Context
	shutdownFn  context.CancelFunc
	wg          sync.WaitGroup

	mu     sync.Mutex
	active map[string]*activeTask // key: roomID + "|" + llmID
}

// New builds a Dispatcher. The returned Dispatcher's background tasks are
// all children of an internal context cancelled by Shutdown.
func New(st store.Store, reg *registry.Registry, resolve ProviderResolver) *Dispatcher {
	ctx, cancel := context.WithCancel(context.Background())
	return &Dispatcher{
		store:       st,
		registry:    reg,
		resolve:     resolve,
		shutdownCtx: ctx,
		shutdownFn:  cancel,
		active:      make(map[string]*activeTask),
	}
}

func activeKey(roomID, llmID string) string { return roomID + "|" + llmID }

// spawn tracks a fire-and-forget call the way _track_task does: registered
// in both pending_tasks (via wg, for shutdown) and active_llm_tasks (via the
// active map, for interrupt lookup), with "latest observer wins" overwrite.
// When the call returns it leaves both: the active entry is removed unless a
// newer call has already overwritten it.
func (d *Dispatcher) spawn(roomID, llmID string, fn func(ctx context.Context)) {
	ctx, cancel := context.WithCancel(d.shutdownCtx)
	task := &activeTask{cancel: cancel, done: make(chan struct{})}
	key := activeKey(roomID, llmID)

	d.mu.Lock()
	d.active[key] = task
	d.mu.Unlock()

	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		defer close(task.done)
		defer func() {
			d.mu.Lock()
			if d.active[key] == task {
				delete(d.active, key)
			}
			d.mu.Unlock()
		}()
		fn(ctx)
	}()
}

// DispatchMentions parses @mentions in content and spawns one call per
// matched LLM. Returns the ids of the LLMs it dispatched to, so a Session
// Handler can track tasks it originated for later cancellation on
// disconnect.
func (d *Dispatcher) DispatchMentions(roomID, content string, clientMentions []string, triggerMsgID string, room store.Room) []string {
	matched := mention.Resolve(content, clientMentions, room.LLMs)
	dispatched := make([]string, 0, len(matched))
	for _, llm := range matched {
		llm := llm
		d.spawn(roomID, llm.ID, func(ctx context.Context) {
			d.callLLM(ctx, roomID, llm, triggerMsgID)
		})
		dispatched = append(dispatched, llm.ID)
	}
	return dispatched
}

// DispatchLLMMentions is DispatchMentions triggered by another LLM's output,
// excluding the source LLM from matching to prevent self-re-invocation.
func (d *Dispatcher) DispatchLLMMentions(roomID string, room store.Room, mentions []string, triggerMsgID, sourceLLMID string) {
	for _, m := range mentions {
		llm, ok := mention.MatchLLMFromName(m, room.LLMs, sourceLLMID)
		if !ok {
			continue
		}
		logging.Info(context.Background(), "llm mention chain", zap.String("source_llm_id", sourceLLMID), zap.String("target_llm_id", llm.ID))
		llm := llm
		d.spawn(roomID, llm.ID, func(ctx context.Context) {
			d.callLLM(ctx, roomID, llm, triggerMsgID)
		})
	}
}

// DispatchPollVoting spawns one poll-voting call per LLM in the room.
// Returns the ids of the LLMs it dispatched to, mirroring DispatchMentions.
func (d *Dispatcher) DispatchPollVoting(roomID, pollID, question string, options []store.PollOption, mandatory bool, triggerMsgID string) []string {
	room, ok, err := d.store.GetRoom(d.shutdownCtx, roomID)
	if err != nil || !ok || len(room.LLMs) == 0 {
		return nil
	}
	dispatched := make([]string, 0, len(room.LLMs))
	for _, llm := range room.LLMs {
		llm := llm
		d.spawn(roomID, llm.ID, func(ctx context.Context) {
			d.callLLMForPoll(ctx, roomID, llm, pollID, question, options, mandatory, triggerMsgID)
		})
		dispatched = append(dispatched, llm.ID)
	}
	return dispatched
}

// CancelLLMTask cancels the active task for (llmID, roomID) if present and
// not done, awaits its completion, then broadcasts a terminal llm_done.
// Returns false if there was no active task to cancel.
func (d *Dispatcher) CancelLLMTask(roomID, llmID string) bool {
	d.mu.Lock()
	task, ok := d.active[activeKey(roomID, llmID)]
	d.mu.Unlock()
	if !ok {
		return false
	}

	select {
	case <-task.done:
		return false
	default:
	}

	task.cancel()
	<-task.done
	d.registry.Broadcast(roomID, events.NewLLMDone("", llmID, false))
	return true
}

// Shutdown cancels every pending task and waits for them to finish,
// mirroring cancel_pending_tasks's gather(..., return_exceptions=True).
func (d *Dispatcher) Shutdown() {
	d.shutdownFn()
	d.wg.Wait()
}
