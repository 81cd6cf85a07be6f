package orch

import (
	"encoding/json"

	"github.com/dkeye/costudy/internal/core"
	"github.com/dkeye/costudy/internal/domain"
	"github.com/rs/zerolog/log"
)

func decode[T any](ev core.Event) (T, bool) {
	var v T
	if len(ev.Data) == 0 {
		return v, true
	}
	if err := json.Unmarshal(ev.Data, &v); err != nil {
		log.Error().Err(err).Str("module", "orch").Str("event", ev.Name).Msg("bad event payload")
		return v, false
	}
	return v, true
}

// handleEvent applies one server event. It runs on the actor only.
func (o *Orchestrator) handleEvent(ev core.Event) {
	if !o.state.Active() {
		log.Debug().Str("module", "orch").Str("event", ev.Name).Str("state", o.state.String()).Msg("event ignored")
		return
	}

	switch ev.Name {
	case core.EvtDisconnect:
		o.end(StateDisconnected)
		o.publish(Notice{DefaultKey: keyDisconnected})

	case core.EvtOtherPeerJoinedRoom:
		if p, ok := decode[core.PeerPayload](ev); ok {
			o.onPeerJoined(p)
		}
	case core.EvtOtherPeerExitedRoom, core.EvtOtherPeerDisconnected:
		if t, ok := decode[core.UserTarget](ev); ok {
			o.onPeerLeft(t.UserID)
		}
	case core.EvtKickUser:
		if t, ok := decode[core.UserTarget](ev); ok {
			o.onModerated(t, StateKicked, keyKicked)
		}
	case core.EvtBlockUser:
		if t, ok := decode[core.UserTarget](ev); ok {
			o.onModerated(t, StateBlocked, keyBlocked)
		}

	default:
		if o.state != StateStudyRoom {
			log.Debug().Str("module", "orch").Str("event", ev.Name).Msg("study room event outside study room")
			return
		}
		o.handleStudyEvent(ev)
	}
}

func (o *Orchestrator) handleStudyEvent(ev core.Event) {
	switch ev.Name {
	case core.EvtNewProducer:
		p, ok := decode[core.RemoteProducer](ev)
		if !ok || p.UserID == o.self.ID {
			return
		}
		o.consume(o.attCtx, o.gen, o.neg, p.UserID, p.ProducerID)

	case core.EvtProducerClosed:
		p, ok := decode[core.ProducerClosedEvent](ev)
		if !ok {
			return
		}
		id, kind := p.UserID, p.Kind
		if w, found := o.neg.CloseRemoteProducer(p.ProducerID); found {
			id, kind = w.UserID, w.Kind
		}
		if kind.Valid() && o.roster.DetachTrack(id, kind) {
			o.publish(PeersChanged{Peers: o.roster.Peers()})
		}

	case core.EvtPeerStateChanged:
		u, ok := decode[domain.PeerUpdate](ev)
		if !ok {
			return
		}
		if _, changed := o.roster.MergePeerState(u); changed {
			o.publish(PeersChanged{Peers: o.roster.Peers()})
		}

	case core.EvtSendChat:
		m, ok := decode[domain.ChatMessage](ev)
		if !ok {
			return
		}
		o.roster.AppendChat(m)
		o.publish(ChatReceived{Message: m})

	case core.EvtStartTimer:
		o.onTimerPhase(ev, domain.TimerStarted)
	case core.EvtStartShortBreak:
		o.onTimerPhase(ev, domain.TimerShortBreak)
	case core.EvtStartLongBreak:
		o.onTimerPhase(ev, domain.TimerLongBreak)

	case core.EvtEditAndStopTimer:
		prop, ok := decode[domain.TimerProperty](ev)
		if !ok {
			return
		}
		o.roster.SetTimer(domain.Timer{State: domain.TimerStopped, Property: prop})
		o.publish(TimerChanged{Timer: o.roster.Timer()})

	default:
		log.Debug().Str("module", "orch").Str("event", ev.Name).Msg("unhandled event")
	}
}

func (o *Orchestrator) onTimerPhase(ev core.Event, s domain.TimerState) {
	te, ok := decode[core.TimerEvent](ev)
	if !ok {
		return
	}
	t := o.roster.Timer()
	t.State = s
	t.StartedAt = te.StartedAt
	o.roster.SetTimer(t)
	o.publish(TimerChanged{Timer: t})
}

func (o *Orchestrator) onPeerJoined(p core.PeerPayload) {
	if p.UserID == o.self.ID {
		return
	}
	o.roster.AddJoiner(p.Info())
	o.publish(WaitingRoomChanged{WaitingRoom: o.roster.WaitingRoom()})
	if o.state == StateStudyRoom && o.roster.AddPeer(p.Peer()) {
		o.publish(PeersChanged{Peers: o.roster.Peers()})
	}
}

func (o *Orchestrator) onPeerLeft(id domain.UserID) {
	o.roster.RemoveJoiner(id)
	o.publish(WaitingRoomChanged{WaitingRoom: o.roster.WaitingRoom()})
	if o.state != StateStudyRoom {
		return
	}
	o.neg.ClosePeer(id)
	if o.roster.RemovePeer(id) {
		o.publish(PeersChanged{Peers: o.roster.Peers()})
	}
}

// onModerated handles kick-user and block-user. When the target is the
// local user the attendance ends in the same step.
func (o *Orchestrator) onModerated(t core.UserTarget, self State, key string) {
	if t.UserID == o.self.ID {
		log.Warn().Str("module", "orch").Str("state", self.String()).Msg("removed from room")
		o.end(self)
		o.publish(Notice{DefaultKey: key})
		return
	}
	if self == StateBlocked {
		o.roster.AddBlacklist(domain.UserInfo{ID: t.UserID, Name: t.UserName})
	}
	o.onPeerLeft(t.UserID)
}
