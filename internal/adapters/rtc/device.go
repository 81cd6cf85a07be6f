// Package rtc binds the media engine interfaces to pion/webrtc. Every
// transport is one PeerConnection; SDP travels inside the opaque parameter
// blobs exchanged with the signaling server.
package rtc

import (
	"encoding/json"
	"errors"
	"sync"

	"github.com/dkeye/costudy/internal/core"
	"github.com/dkeye/costudy/internal/domain"
	"github.com/pion/interceptor"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"
)

var (
	ErrNotLoaded        = errors.New("device not loaded")
	ErrTransportClosed  = errors.New("transport closed")
	ErrUnsupportedTrack = errors.New("track is not a pion local track")
)

// RemoteTrackFunc is invoked when media of a consumer starts flowing.
type RemoteTrackFunc func(ref domain.TrackRef, relay *Relay)

type Device struct {
	api        *webrtc.API
	iceServers []webrtc.ICEServer

	mu      sync.RWMutex
	caps    json.RawMessage
	onTrack RemoteTrackFunc
}

var _ core.Device = (*Device)(nil)

func DefaultICEServers(urls []string) []webrtc.ICEServer {
	if len(urls) == 0 {
		urls = []string{"stun:stun.l.google.com:19302"}
	}
	return []webrtc.ICEServer{{URLs: urls}}
}

func NewDevice(iceServers []webrtc.ICEServer) (*Device, error) {
	m := &webrtc.MediaEngine{}
	if err := m.RegisterDefaultCodecs(); err != nil {
		return nil, err
	}
	i := &interceptor.Registry{}
	if err := webrtc.RegisterDefaultInterceptors(m, i); err != nil {
		return nil, err
	}
	return &Device{
		api:        webrtc.NewAPI(webrtc.WithMediaEngine(m), webrtc.WithInterceptorRegistry(i)),
		iceServers: iceServers,
	}, nil
}

// OnRemoteTrack sets application-level callback for consumed tracks.
func (d *Device) OnRemoteTrack(fn RemoteTrackFunc) {
	d.mu.Lock()
	d.onTrack = fn
	d.mu.Unlock()
}

func (d *Device) Load(caps json.RawMessage) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.caps = append(json.RawMessage(nil), caps...)
	log.Info().Str("module", "rtc").Int("caps_bytes", len(caps)).Msg("device loaded")
	return nil
}

func (d *Device) Loaded() bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.caps != nil
}

func (d *Device) RTPCapabilities() json.RawMessage {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.caps
}

func (d *Device) CreateSendTransport(params core.TransportParams, h core.SendTransportHandler) (core.SendTransport, error) {
	pc, err := d.peerConnection(params)
	if err != nil {
		return nil, err
	}
	t := &sendTransport{transport: transport{id: params.ID, pc: pc}, handler: h}
	t.watch()
	return t, nil
}

func (d *Device) CreateRecvTransport(params core.TransportParams, h core.TransportHandler) (core.RecvTransport, error) {
	pc, err := d.peerConnection(params)
	if err != nil {
		return nil, err
	}
	t := &recvTransport{
		transport: transport{id: params.ID, pc: pc},
		handler:   h,
		consumers: make(map[string]*consumer),
	}
	t.watch()
	pc.OnTrack(t.handleTrack(d.remoteTrackFunc()))
	return t, nil
}

func (d *Device) remoteTrackFunc() RemoteTrackFunc {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.onTrack
}

func (d *Device) peerConnection(params core.TransportParams) (*webrtc.PeerConnection, error) {
	if !d.Loaded() {
		return nil, ErrNotLoaded
	}
	cfg := webrtc.Configuration{ICEServers: d.iceServers}
	for _, s := range params.ICEServers {
		cfg.ICEServers = append(cfg.ICEServers, webrtc.ICEServer{
			URLs:       s.URLs,
			Username:   s.Username,
			Credential: s.Credential,
		})
	}
	return d.api.NewPeerConnection(cfg)
}
