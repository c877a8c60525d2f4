package domain

import "time"

// BridgeKind is the fixed cross-context message vocabulary. Messages are
// mirrored over two delivery paths (direct link and broadcast topic); both
// carry the same payload and count as one logical event.
type BridgeKind string

const (
	BridgeCallAccepted      BridgeKind = "CALL_ACCEPTED"
	BridgeCallConnected     BridgeKind = "CALL_CONNECTED"
	BridgeParticipantJoined BridgeKind = "CALL_PARTICIPANT_JOINED"
)

type BridgeMessage struct {
	Kind      BridgeKind `json:"kind"`
	RoomID    RoomID     `json:"roomId"`
	UserID    UserID     `json:"userId,omitempty"`
	CallID    CallID     `json:"callId,omitempty"`
	Timestamp int64      `json:"timestamp"`
}

func NewBridgeMessage(kind BridgeKind, roomID RoomID) BridgeMessage {
	return BridgeMessage{
		Kind:      kind,
		RoomID:    roomID,
		Timestamp: time.Now().UnixMilli(),
	}
}
