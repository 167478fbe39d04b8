// Package registry maps room_id to the set of live Session Handlers
// currently attached to that room, and fans events out to them. Grounded on
// original_source/services/room/src/room/registry.py for the operation set
// and on the teacher's session.Room.broadcast/broadcastWithOptions for the
// per-handler-queue Go idiom. A broadcast calls each handler's Enqueue in
// turn, so a handler whose queue is full holds up the broadcast until it
// drains.
package registry

import (
	"sync"

	"k8s.io/utils/set"
)

// Handler is anything that can receive a broadcast event. Session Handler
// implements this; the Registry never depends on the session package to
// avoid the cyclic reference SPEC_FULL.md's design notes call out.
type Handler interface {
	UserID() string
	Enqueue(event any)
}

// Registry is safe for concurrent use.
type Registry struct {
	mu       sync.RWMutex
	handlers map[string]map[Handler]struct{}
}

// New returns an empty Registry.
func New() *Registry {
	return &Registry{handlers: make(map[string]map[Handler]struct{})}
}

// Register attaches handler to room_id's live set.
func (r *Registry) Register(roomID string, h Handler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	set := r.handlers[roomID]
	if set == nil {
		set = make(map[Handler]struct{})
		r.handlers[roomID] = set
	}
	set[h] = struct{}{}
}

// Unregister detaches handler from room_id's live set.
func (r *Registry) Unregister(roomID string, h Handler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	set := r.handlers[roomID]
	if set == nil {
		return
	}
	delete(set, h)
	if len(set) == 0 {
		delete(r.handlers, roomID)
	}
}

// Broadcast enqueues event on every handler registered to room_id. Delivery
// is at-most-once per handler and FIFO on that handler's own queue; ordering
// across handlers is not guaranteed.
func (r *Registry) Broadcast(roomID string, event any) {
	for _, h := range r.snapshot(roomID) {
		h.Enqueue(event)
	}
}

// BroadcastExcept is Broadcast, skipping any handler whose UserID equals
// excludeUserID.
func (r *Registry) BroadcastExcept(roomID string, event any, excludeUserID string) {
	for _, h := range r.snapshot(roomID) {
		if h.UserID() == excludeUserID {
			continue
		}
		h.Enqueue(event)
	}
}

// GetOnlineUserIDs returns the set of distinct user ids with at least one
// live handler in room_id.
func (r *Registry) GetOnlineUserIDs(roomID string) set.Set[string] {
	online := set.New[string]()
	for _, h := range r.snapshot(roomID) {
		online.Insert(h.UserID())
	}
	return online
}

func (r *Registry) snapshot(roomID string) []Handler {
	r.mu.RLock()
	defer r.mu.RUnlock()
	handlers := r.handlers[roomID]
	out := make([]Handler, 0, len(handlers))
	for h := range handlers {
		out = append(out, h)
	}
	return out
}
