package rtc

import (
	"context"
	"maps"
	"sync"

	"github.com/pion/interceptor"
	"github.com/pion/rtp"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

type rtpSource interface {
	ReadRTP() (*rtp.Packet, interceptor.Attributes, error)
}

// Relay fans the packets of one consumed track out to local sinks.
type Relay struct {
	id  string
	src rtpSource

	mu    sync.RWMutex
	sinks map[string]*Sink

	cancel context.CancelFunc
}

func NewRelay(id string, src rtpSource, cancel context.CancelFunc) *Relay {
	return &Relay{
		id:     id,
		src:    src,
		sinks:  make(map[string]*Sink),
		cancel: cancel,
	}
}

// Loop reads RTP packets from the source track and forwards them to all sinks.
func (r *Relay) Loop(ctx context.Context) {
	logger := log.With().Str("module", "rtc.relay").Str("consumer", r.id).Logger()
	for {
		select {
		case <-ctx.Done():
			logger.Info().Msg("relay ctx done, marking all sinks for delete")
			r.markAllDelete()
			return
		default:
		}
		pkt, _, err := r.src.ReadRTP()
		if err != nil {
			logger.Info().Err(err).Msg("relay read RTP stopped")
			r.markAllDelete()
			return
		}
		r.forward(pkt, &logger)
	}
}

func (r *Relay) forward(pkt *rtp.Packet, logger *zerolog.Logger) {
	r.mu.RLock()
	snapshot := make(map[string]*Sink, len(r.sinks))
	maps.Copy(snapshot, r.sinks)
	r.mu.RUnlock()

	dirty := make([]string, 0, len(snapshot))
	for id, s := range snapshot {
		switch s.GetState() {
		case SinkStateDelete:
			dirty = append(dirty, id)
		case SinkStateMuted:
		case SinkStateOk:
			if err := s.W.WriteRTP(pkt); err != nil {
				logger.Error().
					Err(err).
					Str("sink", id).
					Msg("relay write RTP error, marking sink as delete")
				s.MarkDelete()
				dirty = append(dirty, id)
			}
		}
	}

	if len(dirty) > 0 {
		r.cleanupDeleted(dirty)
	}
}

func (r *Relay) cleanupDeleted(dirty []string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, id := range dirty {
		delete(r.sinks, id)
	}
}

func (r *Relay) markAllDelete() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, s := range r.sinks {
		s.MarkDelete()
	}
}

func (r *Relay) AddSink(id string, s *Sink) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sinks[id] = s
}

func (r *Relay) SinkCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sinks)
}

func (r *Relay) Stop() {
	if r.cancel != nil {
		r.cancel()
	}
}
