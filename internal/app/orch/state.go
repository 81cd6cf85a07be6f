package orch

import (
	"github.com/dkeye/costudy/internal/domain"
)

type State int

const (
	StateDisconnected State = iota
	StateConnecting
	StateWaitingRoom
	StateStudyRoom
	StateKicked
	StateBlocked
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateWaitingRoom:
		return "waiting_room"
	case StateStudyRoom:
		return "study_room"
	case StateKicked:
		return "kicked"
	case StateBlocked:
		return "blocked"
	default:
		return "disconnected"
	}
}

func (s State) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

// Active reports whether a session is open in this state.
func (s State) Active() bool {
	return s == StateConnecting || s == StateWaitingRoom || s == StateStudyRoom
}

type WaitingPhase int

const (
	PhaseLoading WaitingPhase = iota
	PhaseConnected
	PhaseFailedToConnect
)

func (p WaitingPhase) String() string {
	switch p {
	case PhaseConnected:
		return "connected"
	case PhaseFailedToConnect:
		return "failed_to_connect"
	default:
		return "loading"
	}
}

func (p WaitingPhase) MarshalText() ([]byte, error) { return []byte(p.String()), nil }

// Snapshot is a read-only copy of the room session.
type Snapshot struct {
	State        State                `json:"state"`
	Phase        WaitingPhase         `json:"phase"`
	RoomID       domain.RoomID        `json:"roomId"`
	Self         domain.UserInfo      `json:"self"`
	MutedHeadset bool                 `json:"mutedHeadset"`
	Peers        []domain.Peer        `json:"peers"`
	WaitingRoom  domain.WaitingRoom   `json:"waitingRoom"`
	Chat         []domain.ChatMessage `json:"chat"`
	Timer        domain.Timer         `json:"timer"`
}
