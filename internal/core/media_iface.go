package core

import (
	"context"
	"encoding/json"

	"github.com/dkeye/costudy/internal/domain"
)

type ICEServer struct {
	URLs       []string `json:"urls"`
	Username   string   `json:"username,omitempty"`
	Credential string   `json:"credential,omitempty"`
}

// TransportParams is the server side description of one media transport.
type TransportParams struct {
	ID             string          `json:"id"`
	ICEParameters  json.RawMessage `json:"iceParameters,omitempty"`
	ICECandidates  json.RawMessage `json:"iceCandidates,omitempty"`
	DTLSParameters json.RawMessage `json:"dtlsParameters,omitempty"`
	ICEServers     []ICEServer     `json:"iceServers,omitempty"`
}

// LocalTrack is an opaque handle yielded by the capture layer.
type LocalTrack interface {
	ID() string
	Kind() domain.MediaKind
}

// ProduceAck is the server answer to a produce callback.
type ProduceAck struct {
	ProducerID string
	Parameters json.RawMessage
}

// TransportHandler receives lifecycle callbacks of a transport.
type TransportHandler interface {
	OnConnect(ctx context.Context, transportID string, dtlsParameters json.RawMessage) error
}

type SendTransportHandler interface {
	TransportHandler
	OnProduce(ctx context.Context, transportID string, kind domain.MediaKind, rtpParameters json.RawMessage) (ProduceAck, error)
}

type ConsumeOptions struct {
	ID            string
	ProducerID    string
	Kind          domain.MediaKind
	PeerID        domain.UserID
	RTPParameters json.RawMessage
}

// Device is the media engine entry point.
type Device interface {
	Load(routerRTPCapabilities json.RawMessage) error
	Loaded() bool
	RTPCapabilities() json.RawMessage
	CreateSendTransport(params TransportParams, h SendTransportHandler) (SendTransport, error)
	CreateRecvTransport(params TransportParams, h TransportHandler) (RecvTransport, error)
}

// SendTransport must be closed before it is disposed.
type SendTransport interface {
	ID() string
	Produce(ctx context.Context, track LocalTrack) (Producer, error)
	Close()
	Dispose()
}

// RecvTransport must be closed before it is disposed.
type RecvTransport interface {
	ID() string
	Consume(ctx context.Context, opts ConsumeOptions) (Consumer, error)
	Close()
	Dispose()
}

type Producer interface {
	ID() string
	Kind() domain.MediaKind
	Close()
}

type Consumer interface {
	ID() string
	ProducerID() string
	Kind() domain.MediaKind
	Track() domain.TrackRef
	// LocalParameters is sent back to the server with consume-resume.
	LocalParameters() json.RawMessage
	Close()
}
