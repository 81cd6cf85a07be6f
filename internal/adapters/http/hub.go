package http

import (
	"context"
	"sync"

	"github.com/dkeye/costudy/internal/app"
	"github.com/dkeye/costudy/internal/app/orch"
	"github.com/rs/zerolog/log"
	"go.uber.org/atomic"
)

type subscriber struct {
	ch     chan orch.Event
	missed int
}

// Hub fans the orchestrator event stream out to UI subscribers. A slow
// subscriber loses events and, past the policy limit, its subscription.
type Hub struct {
	policy app.Policy
	buffer int

	mu   sync.Mutex
	subs map[uint64]*subscriber

	seq     atomic.Uint64
	dropped atomic.Int64
}

func NewHub(policy app.Policy, buffer int) *Hub {
	if buffer <= 0 {
		buffer = 16
	}
	if policy == nil {
		policy = app.SimplePolicy{}
	}
	return &Hub{
		policy: policy,
		buffer: buffer,
		subs:   make(map[uint64]*subscriber),
	}
}

// Subscribe registers a new listener. The channel is closed by the returned
// cancel func or when the hub drops the subscriber.
func (h *Hub) Subscribe() (<-chan orch.Event, func()) {
	id := h.seq.Inc()
	s := &subscriber{ch: make(chan orch.Event, h.buffer)}

	h.mu.Lock()
	h.subs[id] = s
	h.mu.Unlock()
	log.Debug().Str("module", "adapters.http").Uint64("sub", id).Msg("subscriber added")

	return s.ch, func() { h.remove(id) }
}

func (h *Hub) remove(id uint64) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if s, ok := h.subs[id]; ok {
		delete(h.subs, id)
		close(s.ch)
	}
}

func (h *Hub) Count() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs)
}

// Dropped is the number of events lost to slow subscribers.
func (h *Hub) Dropped() int64 { return h.dropped.Load() }

// Run forwards src until it closes or ctx ends, then closes every
// subscriber.
func (h *Hub) Run(ctx context.Context, src <-chan orch.Event) {
	defer h.closeAll()
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-src:
			if !ok {
				return
			}
			h.Broadcast(ev)
		}
	}
}

func (h *Hub) Broadcast(ev orch.Event) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for id, s := range h.subs {
		select {
		case s.ch <- ev:
			s.missed = 0
			continue
		default:
		}
		s.missed++
		h.dropped.Inc()
		switch h.policy.OnBackPressure(s.missed) {
		case app.DropSubscriber:
			log.Warn().Str("module", "adapters.http").Uint64("sub", id).Int("missed", s.missed).Msg("slow subscriber dropped")
			delete(h.subs, id)
			close(s.ch)
		case app.DropEvent:
			log.Debug().Str("module", "adapters.http").Uint64("sub", id).Str("event", ev.Name()).Msg("event dropped")
		}
	}
}

func (h *Hub) closeAll() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for id, s := range h.subs {
		delete(h.subs, id)
		close(s.ch)
	}
}
