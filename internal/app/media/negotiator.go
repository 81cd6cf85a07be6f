// Package media maps local and remote tracks onto server transports,
// producers and consumers. It is the only owner of transports.
package media

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/dkeye/costudy/internal/core"
	"github.com/dkeye/costudy/internal/domain"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/singleflight"
)

var (
	ErrTornDown            = errors.New("media session torn down")
	ErrSendTransportExists = errors.New("send transport already created")
	ErrNoSendTransport     = errors.New("send transport not created")
	ErrProducerExists      = errors.New("producer of this kind already exists")
	ErrNoProducer          = errors.New("no producer of this kind")
	ErrPeerGone            = errors.New("peer left while consuming")
	ErrConsumeInFlight     = errors.New("consume of this producer already in flight")
)

type Negotiator struct {
	sig    core.Signaler
	device core.Device
	self   domain.UserID

	mu        sync.Mutex
	send      core.SendTransport
	producers map[domain.MediaKind]core.Producer
	recv      map[domain.UserID]*recvEntry
	wrappers  map[string]Wrapper
	inflight  map[string]struct{}
	epochs    map[domain.UserID]uint64
	muted     bool
	torn      bool

	creating singleflight.Group
}

func NewNegotiator(sig core.Signaler, device core.Device, self domain.UserID, mutedHeadset bool) *Negotiator {
	return &Negotiator{
		sig:       sig,
		device:    device,
		self:      self,
		producers: make(map[domain.MediaKind]core.Producer),
		recv:      make(map[domain.UserID]*recvEntry),
		wrappers:  make(map[string]Wrapper),
		inflight:  make(map[string]struct{}),
		epochs:    make(map[domain.UserID]uint64),
		muted:     mutedHeadset,
	}
}

// LoadDevice feeds the router capabilities from join-room to the engine.
// Capabilities from an earlier attendance are replaced.
func (n *Negotiator) LoadDevice(caps json.RawMessage) error {
	if err := n.device.Load(caps); err != nil {
		return fmt.Errorf("load device: %w", err)
	}
	return nil
}

// CreateSendTransport builds the outbound transport and produces whichever
// of video and audio is non-nil.
func (n *Negotiator) CreateSendTransport(ctx context.Context, video, audio core.LocalTrack) error {
	n.mu.Lock()
	switch {
	case n.torn:
		n.mu.Unlock()
		return ErrTornDown
	case n.send != nil:
		n.mu.Unlock()
		return ErrSendTransportExists
	}
	n.mu.Unlock()

	var params core.TransportParams
	if err := n.sig.Request(ctx, core.MsgCreateTransport, core.CreateTransportRequest{Consumer: false}, &params); err != nil {
		return fmt.Errorf("create send transport: %w", err)
	}
	t, err := n.device.CreateSendTransport(params, sendHandler{sig: n.sig})
	if err != nil {
		return fmt.Errorf("create send transport: %w", err)
	}

	n.mu.Lock()
	if n.torn || n.send != nil {
		torn := n.torn
		n.mu.Unlock()
		t.Close()
		t.Dispose()
		if torn {
			return ErrTornDown
		}
		return ErrSendTransportExists
	}
	n.send = t
	n.mu.Unlock()

	log.Info().Str("module", "media").Str("transport", t.ID()).Msg("send transport created")

	for _, track := range []core.LocalTrack{video, audio} {
		if track == nil {
			continue
		}
		if err := n.Produce(ctx, track); err != nil {
			return err
		}
	}
	return nil
}

func (n *Negotiator) Produce(ctx context.Context, track core.LocalTrack) error {
	kind := track.Kind()
	n.mu.Lock()
	if n.torn {
		n.mu.Unlock()
		return ErrTornDown
	}
	send := n.send
	if send == nil {
		n.mu.Unlock()
		return ErrNoSendTransport
	}
	if _, ok := n.producers[kind]; ok {
		n.mu.Unlock()
		return ErrProducerExists
	}
	n.mu.Unlock()

	p, err := send.Produce(ctx, track)
	if err != nil {
		return fmt.Errorf("produce %s: %w", kind, err)
	}

	n.mu.Lock()
	if n.torn {
		n.mu.Unlock()
		p.Close()
		return ErrTornDown
	}
	n.producers[kind] = p
	n.mu.Unlock()

	log.Info().Str("module", "media").Str("producer", p.ID()).Str("kind", string(kind)).Msg("producer created")
	return nil
}

// CloseProducer stops the local producer of kind and tells the server.
func (n *Negotiator) CloseProducer(kind domain.MediaKind) error {
	n.mu.Lock()
	p, ok := n.producers[kind]
	if ok {
		delete(n.producers, kind)
	}
	n.mu.Unlock()
	if !ok {
		return ErrNoProducer
	}

	p.Close()
	name := core.MsgCloseAudioProducer
	if kind == domain.KindVideo {
		name = core.MsgCloseVideoProducer
	}
	return n.sig.Emit(name, nil)
}

func (n *Negotiator) HasProducer(kind domain.MediaKind) bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	_, ok := n.producers[kind]
	return ok
}

// ConsumeRemoteProducer consumes producerID of userID. All producers of one
// user share a single receive transport, created on first use. A second call
// for a producer still being consumed fails with ErrConsumeInFlight; the
// first caller owns the result.
func (n *Negotiator) ConsumeRemoteProducer(ctx context.Context, userID domain.UserID, producerID string) (Wrapper, error) {
	n.mu.Lock()
	if n.torn {
		n.mu.Unlock()
		return Wrapper{}, ErrTornDown
	}
	if w, ok := n.wrappers[producerID]; ok && w.Live() {
		n.mu.Unlock()
		return w, nil
	}
	if _, ok := n.inflight[producerID]; ok {
		n.mu.Unlock()
		return Wrapper{}, ErrConsumeInFlight
	}
	n.inflight[producerID] = struct{}{}
	n.mu.Unlock()
	defer func() {
		n.mu.Lock()
		delete(n.inflight, producerID)
		n.mu.Unlock()
	}()

	t, err := n.recvTransport(ctx, userID)
	if err != nil {
		return Wrapper{}, err
	}

	var resp core.ConsumeResponse
	req := core.ConsumeRequest{
		TransportID:     t.ID(),
		ProducerID:      producerID,
		RTPCapabilities: n.device.RTPCapabilities(),
	}
	if err := n.sig.Request(ctx, core.MsgConsume, req, &resp); err != nil {
		return Wrapper{}, fmt.Errorf("consume %s: %w", producerID, err)
	}

	w := Wrapper{UserID: userID, TransportID: t.ID(), ProducerID: producerID, Kind: resp.Kind}

	n.mu.Lock()
	skip := resp.Kind == domain.KindAudio && n.muted
	n.mu.Unlock()

	if !skip {
		c, err := t.Consume(ctx, core.ConsumeOptions{
			ID:            resp.ID,
			ProducerID:    producerID,
			Kind:          resp.Kind,
			PeerID:        userID,
			RTPParameters: resp.RTPParameters,
		})
		if err != nil {
			return Wrapper{}, fmt.Errorf("consume %s: %w", producerID, err)
		}
		w.consumer = c
	}

	if err := n.store(w, t); err != nil {
		w.close()
		return Wrapper{}, err
	}

	if w.Live() {
		resume := core.ConsumeResumeRequest{ConsumerID: w.consumer.ID(), RTPParameters: w.consumer.LocalParameters()}
		if err := n.sig.Emit(core.MsgConsumeResume, resume); err != nil {
			log.Warn().Err(err).Str("module", "media").Str("consumer", w.consumer.ID()).Msg("consume-resume")
		}
	}

	log.Info().
		Str("module", "media").
		Str("user", string(userID)).
		Str("producer", producerID).
		Str("kind", string(w.Kind)).
		Bool("live", w.Live()).
		Msg("remote producer consumed")
	return w, nil
}

// store records w unless the attendance or the peer went away meanwhile.
func (n *Negotiator) store(w Wrapper, t core.RecvTransport) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.torn {
		return ErrTornDown
	}
	entry, ok := n.recv[w.UserID]
	if !ok || entry.transport != t {
		return ErrPeerGone
	}
	if old, ok := n.wrappers[w.ProducerID]; ok {
		old.close()
	}
	n.wrappers[w.ProducerID] = w
	entry.producers[w.ProducerID] = struct{}{}
	return nil
}

// recvTransport returns the receive transport of userID, creating it once
// even when several consumes race.
func (n *Negotiator) recvTransport(ctx context.Context, userID domain.UserID) (core.RecvTransport, error) {
	if t, ok := n.lookupRecv(userID); ok {
		return t, nil
	}
	n.mu.Lock()
	epoch := n.epochs[userID]
	n.mu.Unlock()
	v, err, _ := n.creating.Do(string(userID), func() (any, error) {
		if t, ok := n.lookupRecv(userID); ok {
			return t, nil
		}
		var params core.TransportParams
		if err := n.sig.Request(ctx, core.MsgCreateTransport, core.CreateTransportRequest{Consumer: true}, &params); err != nil {
			return nil, fmt.Errorf("create receive transport: %w", err)
		}
		t, err := n.device.CreateRecvTransport(params, recvHandler{sig: n.sig})
		if err != nil {
			return nil, fmt.Errorf("create receive transport: %w", err)
		}

		n.mu.Lock()
		switch {
		case n.torn:
			n.mu.Unlock()
			closeRecv(t)
			return nil, ErrTornDown
		case n.epochs[userID] != epoch:
			n.mu.Unlock()
			closeRecv(t)
			log.Debug().Str("module", "media").Str("user", string(userID)).Str("transport", t.ID()).Msg("peer left during transport creation")
			return nil, ErrPeerGone
		}
		n.recv[userID] = &recvEntry{transport: t, producers: make(map[string]struct{})}
		n.mu.Unlock()

		log.Info().Str("module", "media").Str("user", string(userID)).Str("transport", t.ID()).Msg("receive transport created")
		return t, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(core.RecvTransport), nil
}

func (n *Negotiator) lookupRecv(userID domain.UserID) (core.RecvTransport, bool) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if e, ok := n.recv[userID]; ok {
		return e.transport, true
	}
	return nil, false
}

// CloseRemoteProducer drops the wrapper of a producer closed server side.
func (n *Negotiator) CloseRemoteProducer(producerID string) (Wrapper, bool) {
	n.mu.Lock()
	w, ok := n.wrappers[producerID]
	var idle core.RecvTransport
	if ok {
		idle = n.dropLocked(w)
	}
	n.mu.Unlock()
	if !ok {
		return Wrapper{}, false
	}
	w.close()
	if idle != nil {
		closeRecv(idle)
	}
	return w, true
}

// ClosePeer releases everything consumed from userID. A receive transport
// still being created for userID is closed once it arrives.
func (n *Negotiator) ClosePeer(userID domain.UserID) {
	n.mu.Lock()
	n.epochs[userID]++
	n.creating.Forget(string(userID))
	entry, ok := n.recv[userID]
	if !ok {
		n.mu.Unlock()
		return
	}
	delete(n.recv, userID)
	dropped := make([]Wrapper, 0, len(entry.producers))
	for id := range entry.producers {
		dropped = append(dropped, n.wrappers[id])
		delete(n.wrappers, id)
	}
	n.mu.Unlock()

	for _, w := range dropped {
		w.close()
	}
	closeRecv(entry.transport)
	log.Info().Str("module", "media").Str("user", string(userID)).Int("wrappers", len(dropped)).Msg("peer media released")
}

// dropLocked removes w and returns its transport when nothing else uses it.
func (n *Negotiator) dropLocked(w Wrapper) core.RecvTransport {
	delete(n.wrappers, w.ProducerID)
	entry, ok := n.recv[w.UserID]
	if !ok {
		return nil
	}
	delete(entry.producers, w.ProducerID)
	if len(entry.producers) > 0 {
		return nil
	}
	delete(n.recv, w.UserID)
	return entry.transport
}

// MuteHeadset releases every audio wrapper before the server is told.
func (n *Negotiator) MuteHeadset() error {
	n.mu.Lock()
	if n.torn {
		n.mu.Unlock()
		return ErrTornDown
	}
	n.muted = true
	var (
		dropped []Wrapper
		idle    []core.RecvTransport
	)
	for _, w := range n.wrappers {
		if w.Kind != domain.KindAudio {
			continue
		}
		dropped = append(dropped, w)
		if t := n.dropLocked(w); t != nil {
			idle = append(idle, t)
		}
	}
	n.mu.Unlock()

	for _, w := range dropped {
		w.close()
	}
	for _, t := range idle {
		closeRecv(t)
	}
	log.Info().Str("module", "media").Int("audio_wrappers", len(dropped)).Int("transports", len(idle)).Msg("headset muted")
	return n.sig.Emit(core.MsgMuteHeadset, nil)
}

// UnmuteHeadset tells the server, then consumes every remote audio producer
// that has no live consumer. It stops with ErrTornDown when the attendance
// ends mid-loop.
func (n *Negotiator) UnmuteHeadset(ctx context.Context) ([]Wrapper, error) {
	n.mu.Lock()
	if n.torn {
		n.mu.Unlock()
		return nil, ErrTornDown
	}
	n.muted = false
	n.mu.Unlock()

	if err := n.sig.Emit(core.MsgUnmuteHeadset, nil); err != nil {
		return nil, err
	}
	var producers []core.RemoteProducer
	if err := n.sig.Request(ctx, core.MsgGetProducerIDs, nil, &producers); err != nil {
		return nil, fmt.Errorf("get producer ids: %w", err)
	}

	var added []Wrapper
	for _, p := range producers {
		if !n.Alive() {
			return added, ErrTornDown
		}
		if p.UserID == n.self || (p.Kind != "" && p.Kind != domain.KindAudio) || n.consumed(p.ProducerID) {
			continue
		}
		w, err := n.ConsumeRemoteProducer(ctx, p.UserID, p.ProducerID)
		switch {
		case errors.Is(err, ErrTornDown):
			return added, err
		case errors.Is(err, ErrConsumeInFlight):
			continue
		case err != nil:
			log.Warn().Err(err).Str("module", "media").Str("producer", p.ProducerID).Msg("re-consume failed")
			continue
		}
		added = append(added, w)
	}
	return added, nil
}

func (n *Negotiator) consumed(producerID string) bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	w, ok := n.wrappers[producerID]
	return ok && w.Live()
}

// Alive is false once Teardown ran.
func (n *Negotiator) Alive() bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	return !n.torn
}

func (n *Negotiator) Muted() bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.muted
}

// Wrappers returns a snapshot of every wrapper.
func (n *Negotiator) Wrappers() []Wrapper {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make([]Wrapper, 0, len(n.wrappers))
	for _, w := range n.wrappers {
		out = append(out, w)
	}
	return out
}

func (n *Negotiator) AudioWrappers() []Wrapper {
	var out []Wrapper
	for _, w := range n.Wrappers() {
		if w.Kind == domain.KindAudio {
			out = append(out, w)
		}
	}
	return out
}

func (n *Negotiator) RecvTransportCount() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.recv)
}

// Teardown closes then disposes the send transport, then every receive
// transport. Calling it again is a no-op.
func (n *Negotiator) Teardown() {
	n.mu.Lock()
	if n.torn {
		n.mu.Unlock()
		return
	}
	n.torn = true
	send, producers, recv, wrappers := n.send, n.producers, n.recv, n.wrappers
	n.send = nil
	n.producers = make(map[domain.MediaKind]core.Producer)
	n.recv = make(map[domain.UserID]*recvEntry)
	n.wrappers = make(map[string]Wrapper)
	n.mu.Unlock()

	for _, p := range producers {
		p.Close()
	}
	if send != nil {
		send.Close()
		send.Dispose()
	}
	for _, w := range wrappers {
		w.close()
	}
	for _, e := range recv {
		closeRecv(e.transport)
	}
	log.Info().Str("module", "media").Int("receive_transports", len(recv)).Msg("teardown complete")
}

type recvHandler struct {
	sig core.Signaler
}

func (h recvHandler) OnConnect(ctx context.Context, transportID string, dtls json.RawMessage) error {
	return h.sig.Request(ctx, core.MsgConnectConsumer, core.ConnectTransportRequest{TransportID: transportID, DTLSParameters: dtls}, nil)
}

type sendHandler struct {
	sig core.Signaler
}

func (h sendHandler) OnConnect(ctx context.Context, transportID string, dtls json.RawMessage) error {
	return h.sig.Request(ctx, core.MsgConnectProducer, core.ConnectTransportRequest{TransportID: transportID, DTLSParameters: dtls}, nil)
}

func (h sendHandler) OnProduce(ctx context.Context, transportID string, kind domain.MediaKind, rtp json.RawMessage) (core.ProduceAck, error) {
	var resp core.ProduceResponse
	if err := h.sig.Request(ctx, core.MsgProduce, core.ProduceRequest{TransportID: transportID, Kind: kind, RTPParameters: rtp}, &resp); err != nil {
		return core.ProduceAck{}, err
	}
	return core.ProduceAck{ProducerID: resp.ID, Parameters: resp.RTPParameters}, nil
}
