package rtc

import (
	"context"
	"testing"
	"time"

	"github.com/pion/webrtc/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/thanhcanhit/bond-hub-call/internal/core"
)

func TestDefaultWebRTCConfig(t *testing.T) {
	cfg := DefaultWebRTCConfig(nil)
	require.Len(t, cfg.ICEServers, 1)
	assert.Equal(t, []string{"stun:stun.l.google.com:19302"}, cfg.ICEServers[0].URLs)

	cfg = DefaultWebRTCConfig([]string{"stun:example.org:3478"})
	assert.Equal(t, []string{"stun:example.org:3478"}, cfg.ICEServers[0].URLs)
}

func TestMapPeerState(t *testing.T) {
	assert.Equal(t, core.TransportConnecting, mapPeerState(webrtc.PeerConnectionStateConnecting))
	assert.Equal(t, core.TransportConnected, mapPeerState(webrtc.PeerConnectionStateConnected))
	assert.Equal(t, core.TransportFailed, mapPeerState(webrtc.PeerConnectionStateFailed))
	assert.Equal(t, core.TransportClosed, mapPeerState(webrtc.PeerConnectionStateClosed))
	assert.Equal(t, core.TransportNew, mapPeerState(webrtc.PeerConnectionStateNew))
}

func TestNewTransportRecvDeclaresTransceivers(t *testing.T) {
	tr, err := NewTransport(webrtc.Configuration{}, "t-recv", core.DirectionRecv)
	require.NoError(t, err)
	defer tr.Close()

	assert.Equal(t, "t-recv", tr.ID())
	assert.Equal(t, core.DirectionRecv, tr.Direction())
	assert.Len(t, tr.pc.GetTransceivers(), 2, "audio and video recvonly sections")
}

func TestAddLocalTrack(t *testing.T) {
	tr, err := NewTransport(webrtc.Configuration{}, "t-send", core.DirectionSend)
	require.NoError(t, err)
	defer tr.Close()

	track, err := webrtc.NewTrackLocalStaticSample(
		webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeOpus, ClockRate: 48000, Channels: 2},
		"audio", "device",
	)
	require.NoError(t, err)

	sender, err := tr.AddLocalTrack(track)
	require.NoError(t, err)
	require.NotNil(t, sender)
	require.NoError(t, sender.ReplaceTrack(nil))
	require.NoError(t, sender.ReplaceTrack(track))
}

// Negotiate against a loopback answering peer, the shape of the router's
// transport-connect exchange.
func TestNegotiateLoopback(t *testing.T) {
	tr, err := NewTransport(webrtc.Configuration{}, "t-send", core.DirectionSend)
	require.NoError(t, err)
	defer tr.Close()

	track, err := webrtc.NewTrackLocalStaticSample(
		webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeOpus, ClockRate: 48000, Channels: 2},
		"audio", "device",
	)
	require.NoError(t, err)
	_, err = tr.AddLocalTrack(track)
	require.NoError(t, err)

	answerer, err := webrtc.NewPeerConnection(webrtc.Configuration{})
	require.NoError(t, err)
	defer func() { _ = answerer.Close() }()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	err = tr.Negotiate(ctx, func(ctx context.Context, offer webrtc.SessionDescription) (webrtc.SessionDescription, error) {
		if err := answerer.SetRemoteDescription(offer); err != nil {
			return webrtc.SessionDescription{}, err
		}
		answer, err := answerer.CreateAnswer(nil)
		if err != nil {
			return webrtc.SessionDescription{}, err
		}
		gathered := webrtc.GatheringCompletePromise(answerer)
		if err := answerer.SetLocalDescription(answer); err != nil {
			return webrtc.SessionDescription{}, err
		}
		select {
		case <-gathered:
		case <-ctx.Done():
			return webrtc.SessionDescription{}, ctx.Err()
		}
		return *answerer.LocalDescription(), nil
	})
	require.NoError(t, err)
}

func TestCloseIsIdempotentAndFinal(t *testing.T) {
	tr, err := NewTransport(webrtc.Configuration{}, "t-x", core.DirectionSend)
	require.NoError(t, err)

	var states []core.TransportState
	tr.OnStateChange(func(s core.TransportState) { states = append(states, s) })

	tr.Close()
	tr.Close()
	assert.True(t, tr.Closed())

	// Late peer-connection callbacks must not resurrect the state.
	tr.setState(core.TransportConnected)
	assert.Equal(t, core.TransportClosed, tr.State())
	assert.Empty(t, states, "no observer calls after close")
}
