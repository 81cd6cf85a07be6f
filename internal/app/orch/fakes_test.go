package orch

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/dkeye/costudy/internal/core"
	"github.com/dkeye/costudy/internal/domain"
)

// fakeSession is an in-memory signaling session. Requests are answered by
// per-name handlers; events are pushed by the test.
type fakeSession struct {
	mu           sync.Mutex
	events       chan core.Event
	handlers     map[string]func(payload any) (any, error)
	requests     []string
	emits        []string
	connectErr   error
	url          string
	disconnected bool
	transports   int
}

func newFakeSession() *fakeSession {
	s := &fakeSession{
		events:   make(chan core.Event, 64),
		handlers: make(map[string]func(any) (any, error)),
	}
	s.handle(core.MsgJoinWaitingRoom, func(any) (any, error) {
		return domain.WaitingRoom{
			MasterID: "u1",
			Capacity: 4,
			Joiners:  []domain.UserInfo{{ID: "u1", Name: "Ann"}},
		}, nil
	})
	s.handle(core.MsgJoinRoom, func(any) (any, error) {
		return core.JoinRoomResponse{
			Peers: []core.PeerPayload{
				{UserID: "me", UserName: "Me"},
				{UserID: "u1", UserName: "Ann", EnabledMicrophone: true, EnabledHeadset: true},
			},
			RTPCapabilities: json.RawMessage(`{"codecs":[]}`),
		}, nil
	})
	s.handle(core.MsgCreateTransport, func(any) (any, error) {
		s.mu.Lock()
		s.transports++
		id := fmt.Sprintf("t%d", s.transports)
		s.mu.Unlock()
		return core.TransportParams{ID: id}, nil
	})
	s.handle(core.MsgGetProducerIDs, func(any) (any, error) {
		return []core.RemoteProducer{}, nil
	})
	s.handle(core.MsgConsume, func(p any) (any, error) {
		req := p.(core.ConsumeRequest)
		kind := domain.KindAudio
		if req.ProducerID[0] == 'v' {
			kind = domain.KindVideo
		}
		return core.ConsumeResponse{ID: "c-" + req.ProducerID, ProducerID: req.ProducerID, Kind: kind}, nil
	})
	s.handle(core.MsgProduce, func(p any) (any, error) {
		return core.ProduceResponse{ID: "local-" + string(p.(core.ProduceRequest).Kind)}, nil
	})
	s.handle(core.MsgUnblockUser, func(any) (any, error) {
		return core.Ack{Success: true}, nil
	})
	return s
}

func (s *fakeSession) handle(name string, fn func(any) (any, error)) {
	s.mu.Lock()
	s.handlers[name] = fn
	s.mu.Unlock()
}

func (s *fakeSession) push(name string, payload any) {
	var data json.RawMessage
	if payload != nil {
		data, _ = json.Marshal(payload)
	}
	s.events <- core.Event{Name: name, Data: data}
}

func (s *fakeSession) Connect(_ context.Context, url string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.url = url
	return s.connectErr
}

func (s *fakeSession) Events() <-chan core.Event { return s.events }

func (s *fakeSession) Disconnect() {
	s.mu.Lock()
	s.disconnected = true
	s.mu.Unlock()
}

func (s *fakeSession) Request(_ context.Context, name string, payload, out any) error {
	s.mu.Lock()
	s.requests = append(s.requests, name)
	fn := s.handlers[name]
	s.mu.Unlock()
	if fn == nil {
		return nil
	}
	v, err := fn(payload)
	if err != nil || out == nil {
		return err
	}
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return json.Unmarshal(b, out)
}

func (s *fakeSession) RequestPrimitive(ctx context.Context, name string, payload any) (core.Ack, error) {
	var ack core.Ack
	if err := s.Request(ctx, name, payload, &ack); err != nil {
		return core.Ack{}, err
	}
	if !ack.Success {
		return ack, &core.ServerError{Name: name, Message: ack.Message}
	}
	return ack, nil
}

func (s *fakeSession) Emit(name string, _ any) error {
	s.mu.Lock()
	s.emits = append(s.emits, name)
	s.mu.Unlock()
	return nil
}

func (s *fakeSession) isDisconnected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.disconnected
}

func (s *fakeSession) sent(name string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, r := range s.requests {
		if r == name {
			n++
		}
	}
	for _, e := range s.emits {
		if e == name {
			n++
		}
	}
	return n
}

type fakeDevice struct {
	mu     sync.Mutex
	loaded bool
}

func (d *fakeDevice) Load(json.RawMessage) error {
	d.mu.Lock()
	d.loaded = true
	d.mu.Unlock()
	return nil
}

func (d *fakeDevice) Loaded() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.loaded
}

func (d *fakeDevice) RTPCapabilities() json.RawMessage { return json.RawMessage(`{}`) }

func (d *fakeDevice) CreateSendTransport(p core.TransportParams, h core.SendTransportHandler) (core.SendTransport, error) {
	return &fakeSend{id: p.ID, h: h}, nil
}

func (d *fakeDevice) CreateRecvTransport(p core.TransportParams, _ core.TransportHandler) (core.RecvTransport, error) {
	return &fakeRecv{id: p.ID}, nil
}

type fakeSend struct {
	id string
	h  core.SendTransportHandler
}

func (t *fakeSend) ID() string { return t.id }

func (t *fakeSend) Produce(ctx context.Context, track core.LocalTrack) (core.Producer, error) {
	ack, err := t.h.OnProduce(ctx, t.id, track.Kind(), json.RawMessage(`{}`))
	if err != nil {
		return nil, err
	}
	return &fakeProducer{id: ack.ProducerID, kind: track.Kind()}, nil
}

func (t *fakeSend) Close()   {}
func (t *fakeSend) Dispose() {}

type fakeRecv struct {
	id string
}

func (t *fakeRecv) ID() string { return t.id }

func (t *fakeRecv) Consume(_ context.Context, o core.ConsumeOptions) (core.Consumer, error) {
	return &fakeConsumer{opts: o}, nil
}

func (t *fakeRecv) Close()   {}
func (t *fakeRecv) Dispose() {}

type fakeConsumer struct {
	opts core.ConsumeOptions
}

func (c *fakeConsumer) ID() string                       { return c.opts.ID }
func (c *fakeConsumer) ProducerID() string               { return c.opts.ProducerID }
func (c *fakeConsumer) Kind() domain.MediaKind           { return c.opts.Kind }
func (c *fakeConsumer) LocalParameters() json.RawMessage { return nil }
func (c *fakeConsumer) Close()                           {}

func (c *fakeConsumer) Track() domain.TrackRef {
	return domain.TrackRef{ID: c.opts.ID, Kind: c.opts.Kind, PeerID: c.opts.PeerID}
}

type fakeProducer struct {
	id   string
	kind domain.MediaKind
}

func (p *fakeProducer) ID() string             { return p.id }
func (p *fakeProducer) Kind() domain.MediaKind { return p.kind }
func (p *fakeProducer) Close()                 {}

type fakeTrack struct {
	id   string
	kind domain.MediaKind
}

func (t fakeTrack) ID() string             { return t.id }
func (t fakeTrack) Kind() domain.MediaKind { return t.kind }
