package orch

import (
	"context"
	"errors"

	"github.com/dkeye/costudy/internal/app/media"
	"github.com/dkeye/costudy/internal/core"
	"github.com/dkeye/costudy/internal/domain"
	"github.com/rs/zerolog/log"
)

// consume runs one remote consume in the background and attaches the
// resulting track on the actor.
func (o *Orchestrator) consume(ctx context.Context, gen uint64, neg *media.Negotiator, userID domain.UserID, producerID string) {
	o.tasks.Go(func() {
		w, err := neg.ConsumeRemoteProducer(ctx, userID, producerID)
		if err != nil {
			if errors.Is(err, media.ErrTornDown) || errors.Is(err, media.ErrPeerGone) ||
				errors.Is(err, media.ErrConsumeInFlight) || errors.Is(err, context.Canceled) {
				log.Debug().Err(err).Str("module", "orch").Str("producer", producerID).Msg("consume abandoned")
				return
			}
			log.Error().Err(err).Str("module", "orch").Str("user", string(userID)).Str("producer", producerID).Msg("consume failed")
			o.notify(err)
			return
		}
		o.post(func() {
			if o.current(gen) {
				o.attach(w)
			}
		})
	})
}

func (o *Orchestrator) attach(w media.Wrapper) {
	track, ok := w.Track()
	if !ok {
		return
	}
	if !o.roster.AttachTrack(w.UserID, track) {
		return
	}
	o.publish(ConsumerAdded{Track: track})
	o.publish(PeersChanged{Peers: o.roster.Peers()})
}

// MuteHeadset stops every inbound audio stream. Outside the study room it
// only records the preference sent with join-room.
func (o *Orchestrator) MuteHeadset(ctx context.Context) error {
	_, neg, gen, err := o.study()
	if err != nil {
		return o.exec(ctx, func() { o.setMuted(true) })
	}
	if err := neg.MuteHeadset(); err != nil {
		o.notify(err)
		return err
	}
	o.post(func() {
		if !o.current(gen) {
			return
		}
		o.setMuted(true)
		o.roster.DetachAudio()
		o.publish(PeersChanged{Peers: o.roster.Peers()})
	})
	return nil
}

func (o *Orchestrator) UnmuteHeadset(ctx context.Context) error {
	_, neg, gen, err := o.study()
	if err != nil {
		return o.exec(ctx, func() { o.setMuted(false) })
	}
	added, err := neg.UnmuteHeadset(ctx)
	o.post(func() {
		if !o.current(gen) {
			return
		}
		o.setMuted(false)
		for _, w := range added {
			o.attach(w)
		}
	})
	if err != nil {
		o.notify(err)
		return err
	}
	return nil
}

// Produce publishes a local camera or microphone track.
func (o *Orchestrator) Produce(ctx context.Context, track core.LocalTrack) error {
	_, neg, _, err := o.study()
	if err != nil {
		return err
	}
	if err := neg.Produce(ctx, track); err != nil {
		o.notify(err)
		return err
	}
	return nil
}

func (o *Orchestrator) CloseProducer(kind domain.MediaKind) error {
	_, neg, _, err := o.study()
	if err != nil {
		return err
	}
	return neg.CloseProducer(kind)
}
