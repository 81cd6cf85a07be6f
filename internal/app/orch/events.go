package orch

import (
	"github.com/dkeye/costudy/internal/domain"
	"github.com/rs/zerolog/log"
)

// Event is one change published to the UI.
type Event interface {
	Name() string
}

type StateChanged struct {
	State State        `json:"state"`
	Phase WaitingPhase `json:"phase"`
}

type PeersChanged struct {
	Peers []domain.Peer `json:"peers"`
}

type ConsumerAdded struct {
	Track domain.TrackRef `json:"track"`
}

type ChatReceived struct {
	Message domain.ChatMessage `json:"message"`
}

type TimerChanged struct {
	Timer domain.Timer `json:"timer"`
}

type WaitingRoomChanged struct {
	WaitingRoom domain.WaitingRoom `json:"waitingRoom"`
}

// Notice is a one-shot user message. DefaultKey is always set; Content only
// when the server supplied text.
type Notice struct {
	Content    *string `json:"content,omitempty"`
	DefaultKey string  `json:"defaultKey"`
}

func (StateChanged) Name() string       { return "state" }
func (PeersChanged) Name() string       { return "peers" }
func (ConsumerAdded) Name() string      { return "consumer" }
func (ChatReceived) Name() string       { return "chat" }
func (TimerChanged) Name() string       { return "timer" }
func (WaitingRoomChanged) Name() string { return "waiting_room" }
func (Notice) Name() string             { return "notice" }

// publish never blocks: when the buffer is full the oldest event goes.
func (o *Orchestrator) publish(ev Event) {
	for {
		select {
		case o.events <- ev:
			return
		default:
		}
		select {
		case old := <-o.events:
			log.Warn().Str("module", "orch").Str("dropped", old.Name()).Msg("event buffer full")
		default:
		}
	}
}
