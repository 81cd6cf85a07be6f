package media

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/dkeye/costudy/internal/core"
	"github.com/dkeye/costudy/internal/domain"
)

type call struct {
	Name    string
	Payload any
}

// fakeSignaler answers requests through per-name handlers and records traffic.
type fakeSignaler struct {
	mu       sync.Mutex
	calls    []call
	emits    []call
	handlers map[string]func(payload any) (any, error)
	onEmit   func(name string)
}

func newFakeSignaler() *fakeSignaler {
	s := &fakeSignaler{handlers: make(map[string]func(any) (any, error))}
	var transports int
	s.handle(core.MsgCreateTransport, func(any) (any, error) {
		s.mu.Lock()
		transports++
		id := fmt.Sprintf("t%d", transports)
		s.mu.Unlock()
		return core.TransportParams{ID: id}, nil
	})
	s.handle(core.MsgConsume, func(p any) (any, error) {
		req := p.(core.ConsumeRequest)
		return core.ConsumeResponse{
			ID:            "c-" + req.ProducerID,
			ProducerID:    req.ProducerID,
			Kind:          kindOf(req.ProducerID),
			RTPParameters: json.RawMessage(`{}`),
		}, nil
	})
	s.handle(core.MsgProduce, func(p any) (any, error) {
		req := p.(core.ProduceRequest)
		return core.ProduceResponse{ID: "local-" + string(req.Kind)}, nil
	})
	return s
}

// kindOf derives the media kind from test producer ids like "a1" and "v1".
func kindOf(producerID string) domain.MediaKind {
	if producerID != "" && producerID[0] == 'v' {
		return domain.KindVideo
	}
	return domain.KindAudio
}

func (s *fakeSignaler) handle(name string, fn func(any) (any, error)) {
	s.mu.Lock()
	s.handlers[name] = fn
	s.mu.Unlock()
}

func (s *fakeSignaler) Request(_ context.Context, name string, payload, out any) error {
	s.mu.Lock()
	s.calls = append(s.calls, call{Name: name, Payload: payload})
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

func (s *fakeSignaler) RequestPrimitive(ctx context.Context, name string, payload any) (core.Ack, error) {
	if err := s.Request(ctx, name, payload, nil); err != nil {
		return core.Ack{}, err
	}
	return core.Ack{Success: true}, nil
}

func (s *fakeSignaler) Emit(name string, payload any) error {
	s.mu.Lock()
	s.emits = append(s.emits, call{Name: name, Payload: payload})
	hook := s.onEmit
	s.mu.Unlock()
	if hook != nil {
		hook(name)
	}
	return nil
}

func (s *fakeSignaler) count(name string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, c := range s.calls {
		if c.Name == name {
			n++
		}
	}
	return n
}

func (s *fakeSignaler) requests(name string) []any {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []any
	for _, c := range s.calls {
		if c.Name == name {
			out = append(out, c.Payload)
		}
	}
	return out
}

func (s *fakeSignaler) emitted() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.emits))
	for _, c := range s.emits {
		out = append(out, c.Name)
	}
	return out
}

// fakeDevice records every transport it builds and the order of lifecycle calls.
type fakeDevice struct {
	mu     sync.Mutex
	caps   json.RawMessage
	loads  int
	recv   []*fakeRecvTransport
	send   []*fakeSendTransport
	log    []string
}

func (d *fakeDevice) Load(caps json.RawMessage) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.caps = caps
	d.loads++
	return nil
}

func (d *fakeDevice) Loaded() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.caps != nil
}

func (d *fakeDevice) RTPCapabilities() json.RawMessage {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.caps == nil {
		return json.RawMessage(`{"codecs":[]}`)
	}
	return d.caps
}

func (d *fakeDevice) CreateSendTransport(p core.TransportParams, h core.SendTransportHandler) (core.SendTransport, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	t := &fakeSendTransport{id: p.ID, h: h, dev: d}
	d.send = append(d.send, t)
	return t, nil
}

func (d *fakeDevice) CreateRecvTransport(p core.TransportParams, h core.TransportHandler) (core.RecvTransport, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	t := &fakeRecvTransport{id: p.ID, h: h, dev: d}
	d.recv = append(d.recv, t)
	return t, nil
}

func (d *fakeDevice) record(s string) {
	d.mu.Lock()
	d.log = append(d.log, s)
	d.mu.Unlock()
}

func (d *fakeDevice) history() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]string(nil), d.log...)
}

func (d *fakeDevice) recvCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.recv)
}

type fakeSendTransport struct {
	id  string
	h   core.SendTransportHandler
	dev *fakeDevice
}

func (t *fakeSendTransport) ID() string { return t.id }

func (t *fakeSendTransport) Produce(ctx context.Context, track core.LocalTrack) (core.Producer, error) {
	ack, err := t.h.OnProduce(ctx, t.id, track.Kind(), json.RawMessage(`{}`))
	if err != nil {
		return nil, err
	}
	return &fakeProducer{id: ack.ProducerID, kind: track.Kind()}, nil
}

func (t *fakeSendTransport) Close()   { t.dev.record("close " + t.id) }
func (t *fakeSendTransport) Dispose() { t.dev.record("dispose " + t.id) }

type fakeRecvTransport struct {
	id  string
	h   core.TransportHandler
	dev *fakeDevice

	mu        sync.Mutex
	consumes  []string
	consumers []*fakeConsumer
	closed    bool
}

func (t *fakeRecvTransport) ID() string { return t.id }

func (t *fakeRecvTransport) Consume(_ context.Context, o core.ConsumeOptions) (core.Consumer, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.consumes = append(t.consumes, o.ProducerID)
	c := &fakeConsumer{id: o.ID, producerID: o.ProducerID, kind: o.Kind, peer: o.PeerID}
	t.consumers = append(t.consumers, c)
	return c, nil
}

func (t *fakeRecvTransport) Close() {
	t.mu.Lock()
	t.closed = true
	t.mu.Unlock()
	t.dev.record("close " + t.id)
}

func (t *fakeRecvTransport) Dispose() { t.dev.record("dispose " + t.id) }

func (t *fakeRecvTransport) consumed() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]string(nil), t.consumes...)
}

func (t *fakeRecvTransport) isClosed() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.closed
}

type fakeConsumer struct {
	id         string
	producerID string
	kind       domain.MediaKind
	peer       domain.UserID

	mu     sync.Mutex
	closed bool
}

func (c *fakeConsumer) ID() string                       { return c.id }
func (c *fakeConsumer) ProducerID() string               { return c.producerID }
func (c *fakeConsumer) Kind() domain.MediaKind           { return c.kind }
func (c *fakeConsumer) LocalParameters() json.RawMessage { return json.RawMessage(`{"sdp":"answer"}`) }

func (c *fakeConsumer) Track() domain.TrackRef {
	return domain.TrackRef{ID: c.id, Kind: c.kind, PeerID: c.peer}
}

func (c *fakeConsumer) Close() {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()
}

func (c *fakeConsumer) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

type fakeProducer struct {
	id     string
	kind   domain.MediaKind
	closed bool
}

func (p *fakeProducer) ID() string             { return p.id }
func (p *fakeProducer) Kind() domain.MediaKind { return p.kind }
func (p *fakeProducer) Close()                 { p.closed = true }

type fakeTrack struct {
	id   string
	kind domain.MediaKind
}

func (t fakeTrack) ID() string             { return t.id }
func (t fakeTrack) Kind() domain.MediaKind { return t.kind }
