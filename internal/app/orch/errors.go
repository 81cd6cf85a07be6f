package orch

import (
	"context"
	"errors"
	"fmt"

	"github.com/dkeye/costudy/internal/app"
	"github.com/dkeye/costudy/internal/app/media"
	"github.com/dkeye/costudy/internal/core"
)

var (
	ErrStopped          = errors.New("orchestrator stopped")
	ErrBusy             = errors.New("room operation in progress")
	ErrAlreadyConnected = errors.New("already attending a room")
	ErrNotInWaitingRoom = errors.New("not in the waiting room")
	ErrNotInStudyRoom   = errors.New("not in the study room")
	ErrEmptyMessage     = errors.New("empty chat message")
)

// JoinRejectedError carries the server's reason for refusing join-room.
type JoinRejectedError struct {
	Message string
	Code    string
}

func (e *JoinRejectedError) Error() string {
	return fmt.Sprintf("join rejected: %s", e.Message)
}

const (
	keyConnectionTimeout = "error.connection.timeout"
	keyConnection        = "error.connection"
	keyActionTimeout     = "error.action.timeout"
	keyRateLimited       = "error.rate_limited"
	keyJoinRejected      = "error.join.rejected"
	keyServer            = "error.server"
	keyDisconnected      = "error.disconnected"
	keyKicked            = "notice.kicked"
	keyBlocked           = "notice.blocked"
	keyUnknown           = "error.unknown"
)

// NoticeFor maps err to a user message. Cancellation yields none.
func NoticeFor(err error) (Notice, bool) {
	if err == nil || errors.Is(err, context.Canceled) || errors.Is(err, media.ErrTornDown) {
		return Notice{}, false
	}

	var (
		pre    *app.PreconditionError
		reject *JoinRejectedError
		server *core.ServerError
	)
	switch {
	case errors.As(err, &pre):
		return Notice{DefaultKey: pre.Reason.DefaultKey()}, true
	case errors.As(err, &reject):
		return Notice{Content: text(reject.Message), DefaultKey: keyJoinRejected}, true
	case errors.As(err, &server):
		return Notice{Content: text(server.Message), DefaultKey: keyServer}, true
	case errors.Is(err, core.ErrConnectionTimeout):
		return Notice{DefaultKey: keyConnectionTimeout}, true
	case errors.Is(err, core.ErrConnection):
		return Notice{DefaultKey: keyConnection}, true
	case errors.Is(err, core.ErrActionTimeout), errors.Is(err, context.DeadlineExceeded):
		return Notice{DefaultKey: keyActionTimeout}, true
	case errors.Is(err, core.ErrRateLimited):
		return Notice{DefaultKey: keyRateLimited}, true
	}
	return Notice{DefaultKey: keyUnknown}, true
}

func text(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
