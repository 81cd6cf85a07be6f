package core

import (
	"encoding/json"
	"time"

	"github.com/dkeye/costudy/internal/domain"
)

// Requests and notifications sent by the client.
const (
	MsgJoinWaitingRoom    = "join-waiting-room"
	MsgJoinRoom           = "join-room"
	MsgCreateTransport    = "create-transport"
	MsgConnectProducer    = "connect-producer"
	MsgConnectConsumer    = "connect-consumer"
	MsgProduce            = "produce"
	MsgConsume            = "consume"
	MsgConsumeResume      = "consume-resume"
	MsgCloseVideoProducer = "close-video-producer"
	MsgCloseAudioProducer = "close-audio-producer"
	MsgMuteHeadset        = "mute-headset"
	MsgUnmuteHeadset      = "unmute-headset"
	MsgStartTimer         = "start-timer"
	MsgEditAndStopTimer   = "edit-and-stop-timer"
	MsgSendChat           = "send-chat"
	MsgKickUser           = "kick-user"
	MsgBlockUser          = "block-user"
	MsgUnblockUser        = "unblock-user"
	MsgGetProducerIDs     = "get-producer-ids"
)

// Events pushed by the server. EvtDisconnect is synthesized locally when the
// socket drops.
const (
	EvtConnectionSuccess     = "connection-success"
	EvtOtherPeerJoinedRoom   = "other-peer-joined-room"
	EvtOtherPeerExitedRoom   = "other-peer-exited-room"
	EvtNewProducer           = "new-producer"
	EvtProducerClosed        = "producer-closed"
	EvtPeerStateChanged      = "peer-state-changed"
	EvtSendChat              = "send-chat"
	EvtStartTimer            = "start-timer"
	EvtStartShortBreak       = "start-short-break"
	EvtStartLongBreak        = "start-long-break"
	EvtEditAndStopTimer      = "edit-and-stop-timer"
	EvtOtherPeerDisconnected = "other-peer-disconnected"
	EvtKickUser              = "kick-user"
	EvtBlockUser             = "block-user"
	EvtDisconnect            = "disconnect"
)

// Envelope is the wire frame. Responses carry Ack and the request ID.
type Envelope struct {
	Type  string          `json:"type"`
	ID    string          `json:"id,omitempty"`
	Ack   bool            `json:"ack,omitempty"`
	Data  json.RawMessage `json:"data,omitempty"`
	Error *ErrorPayload   `json:"error,omitempty"`
}

type ErrorPayload struct {
	Message string `json:"message"`
	Code    string `json:"code,omitempty"`
}

type JoinWaitingRoomRequest struct {
	RoomID domain.RoomID `json:"roomId"`
	UserID domain.UserID `json:"userId"`
}

type JoinRoomRequest struct {
	RoomID       domain.RoomID `json:"roomId"`
	UserID       domain.UserID `json:"userId"`
	UserName     string        `json:"userName"`
	MutedHeadset bool          `json:"mutedHeadset"`
	Password     string        `json:"password,omitempty"`
}

// PeerPayload is how the server describes a study-room participant.
type PeerPayload struct {
	UserID            domain.UserID `json:"userId"`
	UserName          string        `json:"userName"`
	EnabledMicrophone bool          `json:"enabledMicrophone"`
	EnabledHeadset    bool          `json:"enabledHeadset"`
}

func (p PeerPayload) Peer() domain.Peer {
	return domain.Peer{
		ID:                p.UserID,
		Name:              p.UserName,
		EnabledMicrophone: p.EnabledMicrophone,
		EnabledHeadset:    p.EnabledHeadset,
	}
}

func (p PeerPayload) Info() domain.UserInfo {
	return domain.UserInfo{ID: p.UserID, Name: p.UserName}
}

type JoinRoomResponse struct {
	Peers           []PeerPayload        `json:"peers"`
	RTPCapabilities json.RawMessage      `json:"rtpCapabilities"`
	Timer           *domain.Timer        `json:"timer,omitempty"`
	Chat            []domain.ChatMessage `json:"chat,omitempty"`
}

type CreateTransportRequest struct {
	Consumer bool `json:"consumer"`
}

type ConnectTransportRequest struct {
	TransportID    string          `json:"transportId"`
	DTLSParameters json.RawMessage `json:"dtlsParameters"`
}

type ProduceRequest struct {
	TransportID   string           `json:"transportId"`
	Kind          domain.MediaKind `json:"kind"`
	RTPParameters json.RawMessage  `json:"rtpParameters"`
}

type ProduceResponse struct {
	ID            string          `json:"id"`
	RTPParameters json.RawMessage `json:"rtpParameters,omitempty"`
}

type ConsumeRequest struct {
	TransportID     string          `json:"transportId"`
	ProducerID      string          `json:"producerId"`
	RTPCapabilities json.RawMessage `json:"rtpCapabilities,omitempty"`
}

type ConsumeResponse struct {
	ID            string           `json:"id"`
	ProducerID    string           `json:"producerId"`
	Kind          domain.MediaKind `json:"kind"`
	RTPParameters json.RawMessage  `json:"rtpParameters"`
}

type ConsumeResumeRequest struct {
	ConsumerID    string          `json:"consumerId"`
	RTPParameters json.RawMessage `json:"rtpParameters,omitempty"`
}

// RemoteProducer is one entry of get-producer-ids and the new-producer payload.
type RemoteProducer struct {
	ProducerID string           `json:"producerId"`
	UserID     domain.UserID    `json:"userId"`
	Kind       domain.MediaKind `json:"kind"`
}

type ProducerClosedEvent struct {
	ProducerID string           `json:"producerId"`
	UserID     domain.UserID    `json:"userId"`
	Kind       domain.MediaKind `json:"kind"`
}

type UserTarget struct {
	UserID   domain.UserID `json:"userId"`
	UserName string        `json:"userName,omitempty"`
}

type ChatRequest struct {
	Content string `json:"content"`
}

type TimerEvent struct {
	StartedAt time.Time `json:"startedAt,omitzero"`
}
