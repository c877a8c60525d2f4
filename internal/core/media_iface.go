package core

import (
	"context"

	"github.com/pion/webrtc/v4"
)

// TransportState mirrors the underlying peer connection lifecycle.
type TransportState string

const (
	TransportNew        TransportState = "new"
	TransportConnecting TransportState = "connecting"
	TransportConnected  TransportState = "connected"
	TransportFailed     TransportState = "failed"
	TransportClosed     TransportState = "closed"
)

// Sender is the writable end of a produced track. *webrtc.RTPSender
// satisfies it.
type Sender interface {
	ReplaceTrack(webrtc.TrackLocal) error
	Stop() error
}

// MediaTransport is one of exactly two per session (send and receive).
// Owned exclusively by the session; never shared across sessions.
type MediaTransport interface {
	ID() string
	Direction() TransportDirection
	State() TransportState
	// OnStateChange sets the single state observer. Must be set before
	// Negotiate.
	OnStateChange(func(TransportState))

	// Negotiate runs one offer/answer round-trip: it builds the local
	// offer and calls connect to exchange it for the router's answer
	// (typically a transport-connect RPC).
	Negotiate(ctx context.Context, connect func(ctx context.Context, offer webrtc.SessionDescription) (webrtc.SessionDescription, error)) error

	AddLocalTrack(track webrtc.TrackLocal) (Sender, error)
	// OnTrack sets the callback invoked for every new remote track on a
	// receive transport.
	OnTrack(func(track *webrtc.TrackRemote))

	Close()
	Closed() bool
}

// TransportFactory builds a fresh local transport object after its
// transport-create RPC succeeded.
type TransportFactory func(id string, dir TransportDirection) (MediaTransport, error)

// DeviceMedia is a set of locally acquired device tracks.
type DeviceMedia interface {
	// AudioTrack and VideoTrack return nil when the kind was not acquired.
	AudioTrack() webrtc.TrackLocal
	VideoTrack() webrtc.TrackLocal
	Stop()
}

// DeviceSource acquires local capture media. Implementations must degrade
// to audio-only when video capture fails; only a fully failed acquisition
// returns an error.
type DeviceSource interface {
	Acquire(ctx context.Context, wantVideo bool) (DeviceMedia, error)
}
