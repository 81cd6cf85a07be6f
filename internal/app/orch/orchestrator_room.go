package orch

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/dkeye/costudy/internal/app/media"
	"github.com/dkeye/costudy/internal/app/roster"
	"github.com/dkeye/costudy/internal/core"
	"github.com/dkeye/costudy/internal/domain"
	"github.com/rs/zerolog/log"
)

// Connect opens a session for roomID and enters the waiting room. Failures
// end in WaitingRoom/FailedToConnect and are also returned.
func (o *Orchestrator) Connect(ctx context.Context, roomID domain.RoomID) error {
	var (
		sess    core.SignalSession
		gen     uint64
		refused error
	)
	err := o.exec(ctx, func() {
		if o.state.Active() {
			refused = ErrAlreadyConnected
			return
		}
		sess = o.sessions()
		attCtx, cancel := context.WithCancel(context.Background())
		o.mu.Lock()
		o.gen++
		gen = o.gen
		o.roomID = roomID
		o.session = sess
		o.neg = nil
		o.roster = roster.New(o.self.ID)
		o.attCtx, o.cancel = attCtx, cancel
		o.mu.Unlock()
		o.busy = true
		o.setState(StateConnecting, PhaseLoading)
	})
	if err != nil {
		return err
	}
	if refused != nil {
		return refused
	}

	wr, err := o.enterWaitingRoom(ctx, gen, sess, roomID)
	if err != nil {
		o.post(func() {
			if o.current(gen) {
				o.failConnect(err)
			}
		})
		return err
	}

	o.post(func() {
		if !o.current(gen) || o.state != StateConnecting {
			return
		}
		o.roster.SetWaitingRoom(wr)
		o.setState(StateWaitingRoom, PhaseConnected)
		o.publish(WaitingRoomChanged{WaitingRoom: wr})
		o.settle()
	})
	log.Info().Str("module", "orch").Str("room", string(roomID)).Int("joiners", len(wr.Joiners)).Msg("entered waiting room")
	return nil
}

func (o *Orchestrator) enterWaitingRoom(ctx context.Context, gen uint64, sess core.SignalSession, roomID domain.RoomID) (domain.WaitingRoom, error) {
	if o.routes == nil {
		return domain.WaitingRoom{}, fmt.Errorf("%w: no route resolver", core.ErrConnection)
	}
	url, err := o.routes.Resolve(ctx, roomID)
	if err != nil {
		return domain.WaitingRoom{}, fmt.Errorf("%w: resolve route: %w", core.ErrConnection, err)
	}
	if err := sess.Connect(ctx, url); err != nil {
		return domain.WaitingRoom{}, err
	}
	o.post(func() {
		if o.current(gen) {
			o.inbox = sess.Events()
		}
	})

	var wr domain.WaitingRoom
	req := core.JoinWaitingRoomRequest{RoomID: roomID, UserID: o.self.ID}
	if err := sess.Request(ctx, core.MsgJoinWaitingRoom, req, &wr); err != nil {
		return domain.WaitingRoom{}, err
	}
	return wr, nil
}

// failConnect drops the half-open session. A cancelled connect goes back
// to Disconnected without a notice.
func (o *Orchestrator) failConnect(err error) {
	next, phase := StateWaitingRoom, PhaseFailedToConnect
	if errors.Is(err, context.Canceled) {
		next, phase = StateDisconnected, PhaseLoading
	}
	o.mu.Lock()
	o.phase = phase
	o.mu.Unlock()
	o.end(next)
	o.notify(err)
}

type JoinOptions struct {
	Password string
	Video    core.LocalTrack
	Audio    core.LocalTrack
}

// JoinStudyRoom moves from the waiting room into the study room. Local
// preconditions are checked first; a server refusal is a *JoinRejectedError.
func (o *Orchestrator) JoinStudyRoom(ctx context.Context, opts JoinOptions) error {
	var (
		sess   core.SignalSession
		gen    uint64
		attCtx context.Context
		req    core.JoinRoomRequest
		deny   error
	)
	err := o.exec(ctx, func() {
		switch {
		case o.state != StateWaitingRoom || o.phase != PhaseConnected:
			deny = ErrNotInWaitingRoom
			return
		case o.busy:
			deny = ErrBusy
			return
		}
		if deny = o.policy.CheckJoin(o.roster.WaitingRoom(), o.self.ID, opts.Password); deny != nil {
			o.notify(deny)
			return
		}
		o.busy = true
		sess, gen, attCtx = o.session, o.gen, o.attCtx
		req = core.JoinRoomRequest{
			RoomID:       o.roomID,
			UserID:       o.self.ID,
			UserName:     o.self.Name,
			MutedHeadset: o.muted,
			Password:     opts.Password,
		}
	})
	if err != nil {
		return err
	}
	if deny != nil {
		return deny
	}

	var resp core.JoinRoomResponse
	if err := sess.Request(ctx, core.MsgJoinRoom, req, &resp); err != nil {
		var server *core.ServerError
		if errors.As(err, &server) {
			err = &JoinRejectedError{Message: server.Message, Code: server.Code}
		}
		o.post(func() {
			if gen == o.gen {
				o.settle()
				o.notify(err)
			}
		})
		return err
	}

	var neg *media.Negotiator
	o.post(func() {
		if !o.current(gen) || o.state != StateWaitingRoom {
			return
		}
		neg = o.enterStudyRoom(sess, resp)
		o.settle()
	})
	if neg == nil {
		return ErrNotInWaitingRoom
	}

	if err := neg.CreateSendTransport(ctx, opts.Video, opts.Audio); err != nil {
		log.Error().Err(err).Str("module", "orch").Msg("send transport")
		o.notify(err)
	}

	var producers []core.RemoteProducer
	if err := sess.Request(ctx, core.MsgGetProducerIDs, nil, &producers); err != nil {
		log.Error().Err(err).Str("module", "orch").Msg("get producer ids")
		o.notify(err)
		return nil
	}
	for _, p := range producers {
		if p.UserID == o.self.ID {
			continue
		}
		o.consume(attCtx, gen, neg, p.UserID, p.ProducerID)
	}
	return nil
}

func (o *Orchestrator) enterStudyRoom(sess core.SignalSession, resp core.JoinRoomResponse) *media.Negotiator {
	neg := media.NewNegotiator(sess, o.device, o.self.ID, o.muted)
	if err := neg.LoadDevice(resp.RTPCapabilities); err != nil {
		log.Error().Err(err).Str("module", "orch").Msg("device load")
		o.notify(err)
	}

	peers := make([]domain.Peer, 0, len(resp.Peers))
	for _, p := range resp.Peers {
		peers = append(peers, p.Peer())
	}
	o.roster.ApplyInitialRoster(peers)
	o.roster.SetChat(resp.Chat)
	if resp.Timer != nil {
		o.roster.SetTimer(*resp.Timer)
	}

	o.mu.Lock()
	o.neg = neg
	o.mu.Unlock()
	o.setState(StateStudyRoom, o.phase)
	o.publish(PeersChanged{Peers: o.roster.Peers()})
	o.publish(TimerChanged{Timer: o.roster.Timer()})
	return neg
}

// Leave ends the attendance on the user's request.
func (o *Orchestrator) Leave(ctx context.Context) error {
	return o.exec(ctx, func() {
		if o.state.Active() {
			o.end(StateDisconnected)
		}
	})
}

func (o *Orchestrator) emit(name string, payload any) error {
	sess, _, _, err := o.study()
	if err != nil {
		return err
	}
	if err := sess.Emit(name, payload); err != nil {
		o.notify(err)
		return err
	}
	return nil
}

func (o *Orchestrator) SendChat(content string) error {
	content = strings.TrimSpace(content)
	if content == "" {
		return ErrEmptyMessage
	}
	return o.emit(core.MsgSendChat, core.ChatRequest{Content: content})
}

func (o *Orchestrator) StartTimer() error {
	return o.emit(core.MsgStartTimer, nil)
}

// UpdateAndStopTimer pushes a new property; the server stops the timer.
func (o *Orchestrator) UpdateAndStopTimer(p domain.TimerProperty) error {
	if err := p.Validate(); err != nil {
		return err
	}
	return o.emit(core.MsgEditAndStopTimer, p)
}

func (o *Orchestrator) KickUser(id domain.UserID) error {
	return o.emit(core.MsgKickUser, core.UserTarget{UserID: id})
}

func (o *Orchestrator) BlockUser(id domain.UserID, name string) error {
	return o.emit(core.MsgBlockUser, core.UserTarget{UserID: id, UserName: name})
}

// UnblockUser waits for the server verdict and updates the blacklist.
func (o *Orchestrator) UnblockUser(ctx context.Context, id domain.UserID) error {
	sess, _, gen, err := o.study()
	if err != nil {
		return err
	}
	if _, err := sess.RequestPrimitive(ctx, core.MsgUnblockUser, core.UserTarget{UserID: id}); err != nil {
		o.notify(err)
		return err
	}
	o.post(func() {
		if !o.current(gen) {
			return
		}
		o.roster.RemoveBlacklist(id)
		o.publish(WaitingRoomChanged{WaitingRoom: o.roster.WaitingRoom()})
	})
	return nil
}
