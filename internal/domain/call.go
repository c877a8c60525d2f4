package domain

import (
	"errors"

	"github.com/google/uuid"
)

type (
	CallID string
	RoomID string
)

// MediaKind is the media profile requested for a call, not a single track
// kind: a video call still carries audio.
type MediaKind string

const (
	MediaAudio MediaKind = "audio"
	MediaVideo MediaKind = "video"
)

type TargetType string

const (
	TargetUser  TargetType = "user"
	TargetGroup TargetType = "group"
)

// CallState is the lifecycle state of a call session.
type CallState string

const (
	StateWaiting    CallState = "waiting"
	StateConnecting CallState = "connecting"
	StateConnected  CallState = "connected"
	StateRejected   CallState = "rejected"
	StateEnded      CallState = "ended"
)

var (
	ErrEmptyRoomID   = errors.New("room id empty")
	ErrEmptyTargetID = errors.New("target id empty")
	ErrBadMediaKind  = errors.New("unknown media kind")
)

// CanTransition reports whether from→to is a legal lifecycle move.
// Ended is reachable from every state, including the terminal ones,
// so a late end-call is never an invalid transition, only a no-op.
func (s CallState) CanTransition(to CallState) bool {
	switch to {
	case StateConnecting:
		return s == StateWaiting
	case StateConnected:
		return s == StateConnecting
	case StateRejected:
		return s == StateWaiting || s == StateConnecting
	case StateEnded:
		return true
	}
	return false
}

// Terminal reports whether no further transitions except Ended are possible.
func (s CallState) Terminal() bool {
	return s == StateRejected || s == StateEnded
}

// CallSession identifies one call attempt. Exactly one session may be
// active per context at a time.
type CallSession struct {
	CallID     CallID
	RoomID     RoomID
	MediaKind  MediaKind
	TargetID   UserID
	TargetType TargetType
	Status     CallState
}

// NewCallSession avoids raw struct literals in the orchestrator and keeps
// validation in one place.
func NewCallSession(roomID RoomID, kind MediaKind, targetID UserID, targetType TargetType) (*CallSession, error) {
	if roomID == "" {
		return nil, ErrEmptyRoomID
	}
	if targetID == "" {
		return nil, ErrEmptyTargetID
	}
	if kind != MediaAudio && kind != MediaVideo {
		return nil, ErrBadMediaKind
	}
	return &CallSession{
		CallID:     CallID(uuid.NewString()),
		RoomID:     roomID,
		MediaKind:  kind,
		TargetID:   targetID,
		TargetType: targetType,
		Status:     StateWaiting,
	}, nil
}
