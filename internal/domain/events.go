package domain

// Event is the closed set of signaling notifications a call client can
// receive. Concrete event structs implement the marker method; consumers
// dispatch with a type switch. Delivery is at-least-once: every consumer
// must tolerate duplicates.
type Event interface {
	isEvent()
}

type ParticipantJoined struct {
	RoomID      RoomID
	Participant Participant
}

type ParticipantLeft struct {
	RoomID RoomID
	UserID UserID
}

// NewProducer announces a remote outbound track available for consumption.
type NewProducer struct {
	RoomID     RoomID
	ProducerID string
	UserID     UserID
	Kind       MediaKind
}

type ProducerClosed struct {
	RoomID     RoomID
	ProducerID string
}

type CallAccepted struct {
	CallID CallID
	RoomID RoomID
	UserID UserID
}

type CallRejected struct {
	CallID CallID
	RoomID RoomID
	Reason string
}

// SessionEnded is sent when the peer or the server terminates the call.
type SessionEnded struct {
	RoomID RoomID
	Reason string
}

type RoomCreated struct {
	RoomID RoomID
}

type RoomClosed struct {
	RoomID RoomID
}

type RoomJoined struct {
	RoomID RoomID
	UserID UserID
}

// ConnectionError reports a signaling transport problem. The client keeps
// reconnecting on its own; this event only informs the session layer.
type ConnectionError struct {
	Reason string
}

func (ParticipantJoined) isEvent() {}
func (ParticipantLeft) isEvent()   {}
func (NewProducer) isEvent()       {}
func (ProducerClosed) isEvent()    {}
func (CallAccepted) isEvent()      {}
func (CallRejected) isEvent()      {}
func (SessionEnded) isEvent()      {}
func (RoomCreated) isEvent()       {}
func (RoomClosed) isEvent()        {}
func (RoomJoined) isEvent()        {}
func (ConnectionError) isEvent()   {}

// IncomingCall is the inbound call signal handed over by the call-initiation
// collaborator. It moves a receiving context into StateWaiting.
type IncomingCall struct {
	CallID      CallID    `json:"callId"`
	InitiatorID UserID    `json:"initiatorId"`
	MediaKind   MediaKind `json:"mediaKind"`
	RoomID      RoomID    `json:"roomId"`
	IsGroupCall bool      `json:"isGroupCall"`
}
