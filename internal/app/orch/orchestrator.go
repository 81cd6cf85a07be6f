// Package orch runs the room session state machine. One actor goroutine owns
// every state write; network calls run on the calling goroutine or on
// background tasks and post their results back to the actor.
package orch

import (
	"context"
	"sync"

	"github.com/dkeye/costudy/internal/app"
	"github.com/dkeye/costudy/internal/app/media"
	"github.com/dkeye/costudy/internal/app/roster"
	"github.com/dkeye/costudy/internal/core"
	"github.com/dkeye/costudy/internal/domain"
	"github.com/rs/zerolog/log"
	"github.com/sourcegraph/conc"
)

type Deps struct {
	// Sessions builds a fresh signaling session for each attendance.
	Sessions     func() core.SignalSession
	Device       core.Device
	Routes       core.RouteResolver
	Policy       app.JoinPolicy
	Self         domain.UserInfo
	EventBuffer  int
	MutedHeadset bool
}

type Orchestrator struct {
	sessions func() core.SignalSession
	device   core.Device
	routes   core.RouteResolver
	policy   app.JoinPolicy
	self     domain.UserInfo

	cmds     chan func()
	events   chan Event
	stopped  chan struct{}
	stopOnce sync.Once
	tasks    conc.WaitGroup

	// Written only by the actor, readable anywhere under mu.
	mu      sync.RWMutex
	state   State
	phase   WaitingPhase
	roomID  domain.RoomID
	muted   bool
	gen     uint64
	session core.SignalSession
	neg     *media.Negotiator
	roster  *roster.Roster
	attCtx  context.Context
	cancel  context.CancelFunc

	// Actor only.
	inbox    <-chan core.Event
	busy     bool
	deferred []core.Event
}

func New(d Deps) *Orchestrator {
	size := d.EventBuffer
	if size <= 0 {
		size = 8
	}
	return &Orchestrator{
		sessions: d.Sessions,
		device:   d.Device,
		routes:   d.Routes,
		policy:   d.Policy,
		self:     d.Self,
		cmds:     make(chan func()),
		events:   make(chan Event, size),
		stopped:  make(chan struct{}),
		muted:    d.MutedHeadset,
		roster:   roster.New(d.Self.ID),
		attCtx:   context.Background(),
	}
}

// Run is the actor loop. It returns when ctx is done, after ending any
// attendance and waiting for background tasks.
func (o *Orchestrator) Run(ctx context.Context) {
	log.Info().Str("module", "orch").Str("user", string(o.self.ID)).Msg("actor started")
	defer func() {
		o.stopOnce.Do(func() { close(o.stopped) })
		if o.State().State.Active() {
			o.end(StateDisconnected)
		}
		o.tasks.Wait()
		log.Info().Str("module", "orch").Msg("actor stopped")
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case fn := <-o.cmds:
			fn()
		case ev, ok := <-o.inbox:
			if !ok {
				o.inbox = nil
				continue
			}
			o.dispatch(ev)
		}
	}
}

func (o *Orchestrator) Events() <-chan Event { return o.events }

// State returns a snapshot safe to hand to the UI.
func (o *Orchestrator) State() Snapshot {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return Snapshot{
		State:        o.state,
		Phase:        o.phase,
		RoomID:       o.roomID,
		Self:         o.self,
		MutedHeadset: o.muted,
		Peers:        o.roster.Peers(),
		WaitingRoom:  o.roster.WaitingRoom(),
		Chat:         o.roster.Chat(),
		Timer:        o.roster.Timer(),
	}
}

// exec runs fn on the actor and waits for it.
func (o *Orchestrator) exec(ctx context.Context, fn func()) error {
	done := make(chan struct{})
	select {
	case o.cmds <- func() { defer close(done); fn() }:
	case <-o.stopped:
		return ErrStopped
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case <-done:
		return nil
	case <-o.stopped:
		return ErrStopped
	}
}

// post applies a result. It ignores the caller's context so results of a
// finished network call are never lost.
func (o *Orchestrator) post(fn func()) {
	if err := o.exec(context.Background(), fn); err != nil {
		log.Debug().Err(err).Str("module", "orch").Msg("result dropped")
	}
}

func (o *Orchestrator) dispatch(ev core.Event) {
	if o.busy && ev.Name != core.EvtDisconnect {
		o.deferred = append(o.deferred, ev)
		return
	}
	o.handleEvent(ev)
}

// settle ends an in-flight transition and replays events held meanwhile.
func (o *Orchestrator) settle() {
	o.busy = false
	held := o.deferred
	o.deferred = nil
	for _, ev := range held {
		o.handleEvent(ev)
	}
}

// current reports whether gen is still the live attendance.
func (o *Orchestrator) current(gen uint64) bool {
	return gen == o.gen && o.state.Active()
}

func (o *Orchestrator) setState(s State, p WaitingPhase) {
	o.mu.Lock()
	o.state, o.phase = s, p
	o.mu.Unlock()
	o.publishState()
}

func (o *Orchestrator) setMuted(m bool) {
	o.mu.Lock()
	o.muted = m
	o.mu.Unlock()
}

func (o *Orchestrator) publishState() {
	o.mu.RLock()
	ev := StateChanged{State: o.state, Phase: o.phase}
	o.mu.RUnlock()
	log.Info().Str("module", "orch").Str("state", ev.State.String()).Str("phase", ev.Phase.String()).Msg("state changed")
	o.publish(ev)
}

// end closes the attendance. Teardown, disconnect and the new state are one
// step: no reader sees one without the others.
func (o *Orchestrator) end(next State) {
	o.mu.Lock()
	if o.cancel != nil {
		o.cancel()
		o.cancel = nil
	}
	if o.neg != nil {
		o.neg.Teardown()
	}
	if o.session != nil {
		o.session.Disconnect()
	}
	o.neg, o.session = nil, nil
	o.state = next
	o.mu.Unlock()

	o.inbox = nil
	o.busy = false
	o.deferred = nil
	o.publishState()
}

func (o *Orchestrator) notify(err error) {
	if n, ok := NoticeFor(err); ok {
		log.Warn().Err(err).Str("module", "orch").Str("key", n.DefaultKey).Msg("user notice")
		o.publish(n)
	}
}

// study returns the live study-room collaborators.
func (o *Orchestrator) study() (core.SignalSession, *media.Negotiator, uint64, error) {
	o.mu.RLock()
	defer o.mu.RUnlock()
	if o.state != StateStudyRoom || o.neg == nil {
		return nil, nil, 0, ErrNotInStudyRoom
	}
	return o.session, o.neg, o.gen, nil
}
