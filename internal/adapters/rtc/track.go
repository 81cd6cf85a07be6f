package rtc

import (
	"github.com/dkeye/costudy/internal/domain"
	"github.com/pion/rtp"
	"github.com/pion/webrtc/v4"
)

// LocalTrack is a capture output the send transport can produce. The
// capture layer writes RTP into it.
type LocalTrack struct {
	kind  domain.MediaKind
	track *webrtc.TrackLocalStaticRTP
}

var _ PionTrack = (*LocalTrack)(nil)

func NewLocalTrack(kind domain.MediaKind, id, streamID string) (*LocalTrack, error) {
	codec := webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeOpus, ClockRate: 48000, Channels: 2}
	if kind == domain.KindVideo {
		codec = webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeVP8, ClockRate: 90000}
	}
	track, err := webrtc.NewTrackLocalStaticRTP(codec, id, streamID)
	if err != nil {
		return nil, err
	}
	return &LocalTrack{kind: kind, track: track}, nil
}

func (t *LocalTrack) ID() string                    { return t.track.ID() }
func (t *LocalTrack) Kind() domain.MediaKind        { return t.kind }
func (t *LocalTrack) TrackLocal() webrtc.TrackLocal { return t.track }

func (t *LocalTrack) WriteRTP(p *rtp.Packet) error { return t.track.WriteRTP(p) }
