package core

import (
	"context"

	"github.com/pion/webrtc/v4"

	"github.com/thanhcanhit/bond-hub-call/internal/domain"
)

// TransportDirection distinguishes the two media transports of a session.
type TransportDirection string

const (
	DirectionSend TransportDirection = "send"
	DirectionRecv TransportDirection = "recv"
)

type JoinRoomRequest struct {
	RoomID domain.RoomID `json:"roomId"`
	UserID domain.UserID `json:"userId"`
}

// CodecCapability is one entry of the router's capability set, in wire form.
type CodecCapability struct {
	Kind      domain.MediaKind `json:"kind"`
	MimeType  string           `json:"mimeType"`
	ClockRate uint32           `json:"clockRate"`
	Channels  uint16           `json:"channels,omitempty"`
	FmtpLine  string           `json:"fmtpLine,omitempty"`
}

// RouterCapabilities describes the media formats the room's router
// supports. Loaded once per session; immutable after load.
type RouterCapabilities struct {
	Codecs []CodecCapability `json:"codecs"`
}

// ForKind returns the first capability matching kind as a pion codec
// capability, usable to build a local playable track.
func (rc RouterCapabilities) ForKind(kind domain.MediaKind) (webrtc.RTPCodecCapability, bool) {
	for _, c := range rc.Codecs {
		if c.Kind == kind {
			return webrtc.RTPCodecCapability{
				MimeType:    c.MimeType,
				ClockRate:   c.ClockRate,
				Channels:    c.Channels,
				SDPFmtpLine: c.FmtpLine,
			}, true
		}
	}
	return webrtc.RTPCodecCapability{}, false
}

type JoinRoomReply struct {
	RouterCapabilities RouterCapabilities   `json:"routerCapabilities"`
	Participants       []domain.Participant `json:"participants,omitempty"`
}

type TransportInfo struct {
	ID        string             `json:"id"`
	Direction TransportDirection `json:"direction"`
}

type ProduceRequest struct {
	TransportID string           `json:"transportId"`
	Kind        domain.MediaKind `json:"kind"`
}

type ProducerInfo struct {
	ID     string           `json:"id"`
	Kind   domain.MediaKind `json:"kind"`
	UserID domain.UserID    `json:"userId,omitempty"`
}

// SignalClient is one logical connection per call room to the signaling
// server: request/ack RPCs plus a typed inbound event stream.
//
// Every RPC is timeout-guarded by the implementation. On connection loss
// the client reconnects on its own but never rejoins the room; the session
// layer must do that explicitly.
type SignalClient interface {
	Connect(ctx context.Context) error
	Connected() bool

	JoinRoom(ctx context.Context, req JoinRoomRequest) (JoinRoomReply, error)
	CreateTransport(ctx context.Context, roomID domain.RoomID, dir TransportDirection) (TransportInfo, error)
	// ConnectTransport carries the locally negotiated parameters (offer)
	// and returns the router's answer.
	ConnectTransport(ctx context.Context, transportID string, offer webrtc.SessionDescription) (webrtc.SessionDescription, error)
	Produce(ctx context.Context, req ProduceRequest) (ProducerInfo, error)
	// GetProducers is non-critical: on timeout it returns an empty list and
	// no error so a slow router never fails the whole join.
	GetProducers(ctx context.Context, roomID domain.RoomID) ([]ProducerInfo, error)
	ResumeConsumer(ctx context.Context, consumerID string) error
	FinishJoining(ctx context.Context, roomID domain.RoomID) error
	LeaveRoom(ctx context.Context, roomID domain.RoomID) error

	// Events delivers inbound notifications. At-least-once: duplicates are
	// possible and must be tolerated by the consumer.
	Events() <-chan domain.Event
	Close()
}

// SignalDialer builds the signal client for a call room. The orchestrator
// dials lazily so a client exists only while a session needs it.
type SignalDialer func(roomID domain.RoomID) (SignalClient, error)
