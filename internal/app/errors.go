package app

import "errors"

var (
	ErrCallActive         = errors.New("app: a call session is already active")
	ErrNoActiveCall       = errors.New("app: no active call session")
	ErrNegotiationAborted = errors.New("app: negotiation queue aborted")
	ErrCapsAlreadyLoaded  = errors.New("app: router capabilities already loaded")
	ErrNoCodec            = errors.New("app: no router codec for kind")
	ErrStaleSession       = errors.New("app: session superseded")
)

// FailureName is the stable identifier handed to the UI layer with every
// hard failure, alongside the human-readable reason.
type FailureName string

const (
	FailureInitialization FailureName = "initializationError"
	FailureRoomJoin       FailureName = "roomJoinFailed"
	FailureConnection     FailureName = "connectionError"
)
