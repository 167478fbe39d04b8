// Package fake provides a scripted provider.ChatProvider double for
// exercising the LLM Dispatcher without a network call. Grounded on the
// teacher's MockWSConnection pattern in internal/v1/session
// (client_test.go): a recorder of inbound calls plus a canned, queued
// sequence of outbound events to replay.
package fake

import (
	"context"
	"sync"

	"github.com/roomforge/orchestrator/internal/v1/provider"
)

// Script is one scripted Stream invocation's outcome: a sequence of deltas
// to emit in order, and an error to return from Stream after emitting them
// (nil for a clean end-of-stream).
type Script struct {
	Deltas []provider.Delta
	Err    error
	// Gate, if non-nil, must yield a value (or be closed) before each delta
	// is emitted, giving tests interleaving control without a real sleep;
	// Stream returns ctx.Err() if cancelled while waiting on it.
	Gate <-chan struct{}
}

// Provider replays a queue of Scripts, one per call to Stream, and records
// every request it was given for assertions.
type Provider struct {
	mu       sync.Mutex
	scripts  []Script
	requests []provider.ChatRequest
}

// New builds a Provider that replays scripts in the order given, one per
// Stream call. If Stream is called more times than there are scripts, the
// last script is replayed again.
func New(scripts ...Script) *Provider {
	return &Provider{scripts: scripts}
}

// Requests returns every ChatRequest passed to Stream so far, in order.
func (p *Provider) Requests() []provider.ChatRequest {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]provider.ChatRequest(nil), p.requests...)
}

func (p *Provider) next() Script {
	p.mu.Lock()
	defer p.mu.Unlock()
	idx := len(p.requests) - 1
	if idx < 0 {
		idx = 0
	}
	if idx >= len(p.scripts) {
		idx = len(p.scripts) - 1
	}
	if idx < 0 || len(p.scripts) == 0 {
		return Script{}
	}
	return p.scripts[idx]
}

// Stream satisfies provider.ChatProvider.
func (p *Provider) Stream(ctx context.Context, req *provider.ChatRequest, output chan<- provider.Delta) error {
	defer close(output)

	p.mu.Lock()
	p.requests = append(p.requests, *req)
	p.mu.Unlock()

	script := p.next()
	for _, d := range script.Deltas {
		if script.Gate != nil {
			select {
			case <-script.Gate:
			case <-ctx.Done():
				return ctx.Err()
			}
		}
		select {
		case output <- d:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return script.Err
}
