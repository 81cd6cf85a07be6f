package rtc

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/dkeye/costudy/internal/core"
	"github.com/dkeye/costudy/internal/domain"
	"github.com/pion/rtcp"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"
)

// sdpBlob is the pion payload carried in rtpParameters / dtlsParameters.
type sdpBlob struct {
	SDP     string `json:"sdp"`
	TrackID string `json:"trackId,omitempty"`
}

type transport struct {
	id string
	pc *webrtc.PeerConnection

	mu        sync.Mutex
	connected bool
	closed    bool
}

func (t *transport) ID() string { return t.id }

func (t *transport) watch() {
	t.pc.OnICEConnectionStateChange(func(s webrtc.ICEConnectionState) {
		log.Info().Str("module", "rtc").Str("transport", t.id).Str("ice_state", s.String()).Msg("ICE state")
	})
	t.pc.OnConnectionStateChange(func(s webrtc.PeerConnectionState) {
		log.Info().Str("module", "rtc").Str("transport", t.id).Str("peer_connection_state", s.String()).Msg("Peer state")
	})
}

// complete waits for ICE gathering so the SDP carries every candidate.
func (t *transport) complete(desc webrtc.SessionDescription) (string, error) {
	gatherComplete := webrtc.GatheringCompletePromise(t.pc)
	if err := t.pc.SetLocalDescription(desc); err != nil {
		return "", err
	}
	<-gatherComplete
	return t.pc.LocalDescription().SDP, nil
}

// connect fires the connect callback the first time local DTLS info is known.
func (t *transport) connect(ctx context.Context, h core.TransportHandler, localSDP string) error {
	if t.connected {
		return nil
	}
	dtls, err := dtlsParameters(localSDP)
	if err != nil {
		return err
	}
	if err := h.OnConnect(ctx, t.id, dtls); err != nil {
		return fmt.Errorf("connect transport %s: %w", t.id, err)
	}
	t.connected = true
	return nil
}

func (t *transport) Close() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return
	}
	t.closed = true
	if err := t.pc.Close(); err != nil {
		log.Error().Err(err).Str("module", "rtc").Str("transport", t.id).Msg("close error")
		return
	}
	log.Info().Str("module", "rtc").Str("transport", t.id).Msg("closed")
}

// Dispose drops callbacks so nothing fires after the transport is gone.
func (t *transport) Dispose() {
	t.pc.OnICEConnectionStateChange(func(webrtc.ICEConnectionState) {})
	t.pc.OnConnectionStateChange(func(webrtc.PeerConnectionState) {})
	t.pc.OnTrack(func(*webrtc.TrackRemote, *webrtc.RTPReceiver) {})
}

type sendTransport struct {
	transport
	handler core.SendTransportHandler
}

// PionTrack is implemented by local tracks that can be attached to pion.
type PionTrack interface {
	core.LocalTrack
	TrackLocal() webrtc.TrackLocal
}

func (t *sendTransport) Produce(ctx context.Context, track core.LocalTrack) (core.Producer, error) {
	pt, ok := track.(PionTrack)
	if !ok {
		return nil, ErrUnsupportedTrack
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return nil, ErrTransportClosed
	}

	sender, err := t.pc.AddTrack(pt.TrackLocal())
	if err != nil {
		return nil, err
	}
	offer, err := t.pc.CreateOffer(nil)
	if err != nil {
		return nil, err
	}
	local, err := t.complete(offer)
	if err != nil {
		return nil, err
	}
	if err := t.connect(ctx, t.handler, local); err != nil {
		return nil, err
	}

	params, err := json.Marshal(sdpBlob{SDP: local, TrackID: track.ID()})
	if err != nil {
		return nil, err
	}
	ack, err := t.handler.OnProduce(ctx, t.id, track.Kind(), params)
	if err != nil {
		_ = t.pc.RemoveTrack(sender)
		return nil, err
	}
	var answer sdpBlob
	if err := json.Unmarshal(ack.Parameters, &answer); err != nil {
		return nil, fmt.Errorf("produce answer: %w", err)
	}
	if err := t.pc.SetRemoteDescription(webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: answer.SDP}); err != nil {
		return nil, err
	}

	log.Info().Str("module", "rtc").Str("transport", t.id).Str("producer", ack.ProducerID).Str("kind", string(track.Kind())).Msg("producing")
	return &producer{id: ack.ProducerID, kind: track.Kind(), sender: sender, pc: t.pc}, nil
}

type producer struct {
	id     string
	kind   domain.MediaKind
	sender *webrtc.RTPSender
	pc     *webrtc.PeerConnection
	once   sync.Once
}

func (p *producer) ID() string             { return p.id }
func (p *producer) Kind() domain.MediaKind { return p.kind }

func (p *producer) Close() {
	p.once.Do(func() {
		if err := p.pc.RemoveTrack(p.sender); err != nil {
			log.Warn().Err(err).Str("module", "rtc").Str("producer", p.id).Msg("remove track")
		}
	})
}

type recvTransport struct {
	transport
	handler core.TransportHandler

	consumersMu sync.RWMutex
	consumers   map[string]*consumer
}

func (t *recvTransport) Consume(ctx context.Context, opts core.ConsumeOptions) (core.Consumer, error) {
	var offer sdpBlob
	if err := json.Unmarshal(opts.RTPParameters, &offer); err != nil {
		return nil, fmt.Errorf("consume offer: %w", err)
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return nil, ErrTransportClosed
	}

	if err := t.pc.SetRemoteDescription(webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: offer.SDP}); err != nil {
		return nil, err
	}
	answer, err := t.pc.CreateAnswer(nil)
	if err != nil {
		return nil, err
	}
	local, err := t.complete(answer)
	if err != nil {
		return nil, err
	}
	if err := t.connect(ctx, t.handler, local); err != nil {
		return nil, err
	}
	params, err := json.Marshal(sdpBlob{SDP: local})
	if err != nil {
		return nil, err
	}

	c := &consumer{
		id:         opts.ID,
		producerID: opts.ProducerID,
		kind:       opts.Kind,
		peer:       opts.PeerID,
		local:      params,
		transport:  t,
	}
	t.consumersMu.Lock()
	t.consumers[c.id] = c
	t.consumersMu.Unlock()
	return c, nil
}

// handleTrack matches a remote track to its consumer by track id and starts
// a relay for it.
func (t *recvTransport) handleTrack(fn RemoteTrackFunc) func(*webrtc.TrackRemote, *webrtc.RTPReceiver) {
	return func(track *webrtc.TrackRemote, _ *webrtc.RTPReceiver) {
		t.consumersMu.RLock()
		c, ok := t.consumers[track.ID()]
		t.consumersMu.RUnlock()
		if !ok {
			log.Warn().Str("module", "rtc").Str("transport", t.id).Str("track_id", track.ID()).Msg("track without consumer")
			return
		}
		if track.Kind() == webrtc.RTPCodecTypeVideo {
			t.requestKeyframe(track)
		}
		relay := c.startRelay(track)
		if relay != nil && fn != nil {
			fn(c.Track(), relay)
		}
	}
}

// requestKeyframe asks the remote sender for a fresh picture so sinks do
// not wait for the next periodic keyframe.
func (t *recvTransport) requestKeyframe(track *webrtc.TrackRemote) {
	pli := []rtcp.Packet{&rtcp.PictureLossIndication{MediaSSRC: uint32(track.SSRC())}}
	if err := t.pc.WriteRTCP(pli); err != nil {
		log.Warn().Err(err).Str("module", "rtc").Str("transport", t.id).Msg("keyframe request")
	}
}

func (t *recvTransport) forget(id string) {
	t.consumersMu.Lock()
	delete(t.consumers, id)
	t.consumersMu.Unlock()
}

type consumer struct {
	id         string
	producerID string
	kind       domain.MediaKind
	peer       domain.UserID
	local      json.RawMessage
	transport  *recvTransport

	mu     sync.Mutex
	relay  *Relay
	cancel context.CancelFunc
	closed bool
}

func (c *consumer) ID() string                       { return c.id }
func (c *consumer) ProducerID() string               { return c.producerID }
func (c *consumer) Kind() domain.MediaKind           { return c.kind }
func (c *consumer) LocalParameters() json.RawMessage { return c.local }

func (c *consumer) Track() domain.TrackRef {
	return domain.TrackRef{ID: c.id, Kind: c.kind, PeerID: c.peer}
}

func (c *consumer) startRelay(track *webrtc.TrackRemote) *Relay {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	ctx, cancel := context.WithCancel(context.Background())
	c.relay = NewRelay(c.id, track, cancel)
	c.cancel = cancel
	go c.relay.Loop(ctx)
	return c.relay
}

func (c *consumer) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	if c.cancel != nil {
		c.cancel()
	}
	c.transport.forget(c.id)
}
