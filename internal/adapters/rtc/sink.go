package rtc

import (
	"sync/atomic"

	"github.com/pion/rtp"
)

type SinkState int32

const (
	SinkStateOk SinkState = iota
	SinkStateMuted
	SinkStateDelete
)

// RTPWriter is anything that renders or records RTP, e.g. a jitter buffer
// feeding a decoder or a pion TrackLocalStaticRTP.
type RTPWriter interface {
	WriteRTP(p *rtp.Packet) error
}

// Sink is one downstream consumer of a relay.
type Sink struct {
	W     RTPWriter
	state atomic.Int32 // Zero by default (SinkStateOk)
}

func NewSink(w RTPWriter) *Sink {
	return &Sink{W: w}
}

func (s *Sink) GetState() SinkState {
	return SinkState(s.state.Load())
}

func (s *Sink) MarkOk() {
	s.state.Store(int32(SinkStateOk))
}

func (s *Sink) MarkMuted() {
	s.state.Store(int32(SinkStateMuted))
}

func (s *Sink) MarkDelete() {
	s.state.Store(int32(SinkStateDelete))
}
