package rtc

import (
	"context"
	"sync"

	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"

	"github.com/thanhcanhit/bond-hub-call/internal/core"
)

// Transport wraps one pion PeerConnection as a unidirectional media
// transport. A send transport carries locally produced tracks; a receive
// transport pre-declares recvonly transceivers and surfaces remote tracks
// through OnTrack.
type Transport struct {
	id  string
	dir core.TransportDirection
	pc  *webrtc.PeerConnection

	mu      sync.Mutex
	state   core.TransportState
	onState func(core.TransportState)
	onTrack func(*webrtc.TrackRemote)

	closeOnce sync.Once
}

func DefaultWebRTCConfig(stunServers []string) webrtc.Configuration {
	urls := stunServers
	if len(urls) == 0 {
		urls = []string{"stun:stun.l.google.com:19302"}
	}
	return webrtc.Configuration{
		ICEServers: []webrtc.ICEServer{{URLs: urls}},
	}
}

// NewFactory returns a core.TransportFactory closed over the ICE config.
func NewFactory(cfg webrtc.Configuration) core.TransportFactory {
	return func(id string, dir core.TransportDirection) (core.MediaTransport, error) {
		return NewTransport(cfg, id, dir)
	}
}

func NewTransport(cfg webrtc.Configuration, id string, dir core.TransportDirection) (*Transport, error) {
	pc, err := webrtc.NewPeerConnection(cfg)
	if err != nil {
		return nil, err
	}

	t := &Transport{id: id, dir: dir, pc: pc, state: core.TransportNew}

	if dir == core.DirectionRecv {
		// A receive transport offers recvonly media sections so the router
		// can attach consumer tracks to them.
		for _, kind := range []webrtc.RTPCodecType{webrtc.RTPCodecTypeAudio, webrtc.RTPCodecTypeVideo} {
			if _, err := pc.AddTransceiverFromKind(kind, webrtc.RTPTransceiverInit{
				Direction: webrtc.RTPTransceiverDirectionRecvonly,
			}); err != nil {
				_ = pc.Close()
				return nil, err
			}
		}
	}

	pc.OnConnectionStateChange(func(s webrtc.PeerConnectionState) {
		log.Info().
			Str("module", "rtc").
			Str("transport_id", id).
			Str("direction", string(dir)).
			Str("peer_connection_state", s.String()).
			Msg("peer state")
		t.setState(mapPeerState(s))
	})

	pc.OnTrack(func(track *webrtc.TrackRemote, _ *webrtc.RTPReceiver) {
		log.Info().
			Str("module", "rtc").
			Str("transport_id", id).
			Str("kind", track.Kind().String()).
			Str("track_id", track.ID()).
			Str("stream_id", track.StreamID()).
			Msg("remote track received")
		t.mu.Lock()
		fn := t.onTrack
		t.mu.Unlock()
		if fn != nil {
			fn(track)
		}
	})

	return t, nil
}

func mapPeerState(s webrtc.PeerConnectionState) core.TransportState {
	switch s {
	case webrtc.PeerConnectionStateConnecting:
		return core.TransportConnecting
	case webrtc.PeerConnectionStateConnected:
		return core.TransportConnected
	case webrtc.PeerConnectionStateFailed:
		return core.TransportFailed
	case webrtc.PeerConnectionStateClosed:
		return core.TransportClosed
	default:
		return core.TransportNew
	}
}

func (t *Transport) setState(s core.TransportState) {
	t.mu.Lock()
	if t.state == core.TransportClosed {
		t.mu.Unlock()
		return
	}
	t.state = s
	fn := t.onState
	t.mu.Unlock()
	if fn != nil {
		fn(s)
	}
}

func (t *Transport) ID() string                         { return t.id }
func (t *Transport) Direction() core.TransportDirection { return t.dir }

func (t *Transport) State() core.TransportState {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

func (t *Transport) OnStateChange(fn func(core.TransportState)) {
	t.mu.Lock()
	t.onState = fn
	t.mu.Unlock()
}

func (t *Transport) OnTrack(fn func(*webrtc.TrackRemote)) {
	t.mu.Lock()
	t.onTrack = fn
	t.mu.Unlock()
}

// Negotiate creates the local offer, waits for ICE gathering, exchanges it
// through connect and applies the answer.
func (t *Transport) Negotiate(ctx context.Context, connect func(ctx context.Context, offer webrtc.SessionDescription) (webrtc.SessionDescription, error)) error {
	offer, err := t.pc.CreateOffer(nil)
	if err != nil {
		return err
	}

	gatherComplete := webrtc.GatheringCompletePromise(t.pc)
	if err := t.pc.SetLocalDescription(offer); err != nil {
		return err
	}
	select {
	case <-gatherComplete:
	case <-ctx.Done():
		return ctx.Err()
	}

	answer, err := connect(ctx, *t.pc.LocalDescription())
	if err != nil {
		return err
	}
	return t.pc.SetRemoteDescription(answer)
}

func (t *Transport) AddLocalTrack(track webrtc.TrackLocal) (core.Sender, error) {
	return t.pc.AddTrack(track)
}

func (t *Transport) Close() {
	t.closeOnce.Do(func() {
		t.mu.Lock()
		t.state = core.TransportClosed
		t.mu.Unlock()
		if err := t.pc.Close(); err != nil {
			log.Error().Err(err).
				Str("module", "rtc").
				Str("transport_id", t.id).
				Msg("close error")
		} else {
			log.Info().
				Str("module", "rtc").
				Str("transport_id", t.id).
				Str("direction", string(t.dir)).
				Msg("transport closed")
		}
	})
}

func (t *Transport) Closed() bool {
	return t.State() == core.TransportClosed
}
