package app

import (
	"fmt"

	"github.com/dkeye/costudy/internal/domain"
)

type Reason int

const (
	ReasonNone Reason = iota
	ReasonAlreadyJoined
	ReasonBlacklisted
	ReasonRoomFull
	ReasonPasswordRequired
)

func (r Reason) String() string {
	switch r {
	case ReasonAlreadyJoined:
		return "already joined"
	case ReasonBlacklisted:
		return "blacklisted"
	case ReasonRoomFull:
		return "room full"
	case ReasonPasswordRequired:
		return "password required"
	default:
		return "none"
	}
}

// DefaultKey is the message key the UI falls back to.
func (r Reason) DefaultKey() string {
	switch r {
	case ReasonAlreadyJoined:
		return "error.join.already_joined"
	case ReasonBlacklisted:
		return "error.join.blacklisted"
	case ReasonRoomFull:
		return "error.join.room_full"
	case ReasonPasswordRequired:
		return "error.join.password_required"
	default:
		return "error.unknown"
	}
}

// PreconditionError is returned before join-room is ever sent.
type PreconditionError struct {
	Reason Reason
}

func (e *PreconditionError) Error() string {
	return fmt.Sprintf("cannot join study room: %s", e.Reason)
}

// JoinPolicy decides whether a join-room request may be sent at all.
// Only the first failing check is reported, in this order: already joined,
// password missing, blacklisted, full. The master never needs a password.
type JoinPolicy struct{}

func (JoinPolicy) CheckJoin(w domain.WaitingRoom, self domain.UserID, password string) error {
	switch {
	case w.HasJoiner(self):
		return &PreconditionError{Reason: ReasonAlreadyJoined}
	case needsPassword(w, self, password):
		return &PreconditionError{Reason: ReasonPasswordRequired}
	case w.IsBlacklisted(self):
		return &PreconditionError{Reason: ReasonBlacklisted}
	case w.IsFull():
		return &PreconditionError{Reason: ReasonRoomFull}
	}
	return nil
}

func needsPassword(w domain.WaitingRoom, self domain.UserID, password string) bool {
	return w.HasPassword && password == "" && w.MasterID != self
}

type BackpressureAction int

const (
	DropEvent BackpressureAction = iota
	DropSubscriber
)

// Policy picks what happens to a UI subscriber that cannot keep up.
type Policy interface {
	OnBackPressure(missed int) BackpressureAction
}

// SimplePolicy tolerates up to Limit missed events in a row.
type SimplePolicy struct {
	Limit int
}

func (p SimplePolicy) OnBackPressure(missed int) BackpressureAction {
	if p.Limit > 0 && missed >= p.Limit {
		return DropSubscriber
	}
	return DropEvent
}
