// Package device acquires local capture media through pion/mediadevices.
package device

import (
	"context"
	"fmt"
	"time"

	"github.com/pion/mediadevices"
	"github.com/pion/mediadevices/pkg/codec/opus"
	"github.com/pion/mediadevices/pkg/codec/vpx"
	"github.com/pion/mediadevices/pkg/prop"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"

	_ "github.com/pion/mediadevices/pkg/driver/camera"     // This is required to register camera adapter - DON'T REMOVE
	_ "github.com/pion/mediadevices/pkg/driver/microphone" // This is required to register microphone adapter - DON'T REMOVE

	"github.com/thanhcanhit/bond-hub-call/internal/core"
)

// Source acquires device media with a fixed VP8+Opus codec selector.
type Source struct {
	codecs *mediadevices.CodecSelector
}

func NewSource() (*Source, error) {
	vpxParams, err := vpx.NewVP8Params()
	if err != nil {
		return nil, fmt.Errorf("device: vp8 params: %w", err)
	}
	vpxParams.BitRate = 500_000
	vpxParams.KeyFrameInterval = 15
	vpxParams.Deadline = 200 * time.Millisecond

	opusParams, err := opus.NewParams()
	if err != nil {
		return nil, fmt.Errorf("device: opus params: %w", err)
	}
	opusParams.BitRate = 32_000
	opusParams.Latency = opus.Latency20ms

	return &Source{
		codecs: mediadevices.NewCodecSelector(
			mediadevices.WithVideoEncoders(&vpxParams),
			mediadevices.WithAudioEncoders(&opusParams),
		),
	}, nil
}

// Acquire requests audio (and video when wanted) from local devices.
//
// GetUserMedia fails as a unit if either track can't be opened, so a busy
// or missing camera must not take the microphone down with it: try
// audio+video first, then degrade to audio-only before giving up.
func (s *Source) Acquire(ctx context.Context, wantVideo bool) (core.DeviceMedia, error) {
	type attempt struct {
		video bool
		label string
	}
	attempts := []attempt{{false, "audio-only"}}
	if wantVideo {
		attempts = []attempt{{true, "audio+video"}, {false, "audio-only"}}
	}

	var lastErr error
	for _, a := range attempts {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		constraints := mediadevices.MediaStreamConstraints{
			Codec: s.codecs,
			Audio: func(_ *mediadevices.MediaTrackConstraints) {},
		}
		if a.video {
			constraints.Video = func(c *mediadevices.MediaTrackConstraints) {
				c.Width = prop.IntRanged{Max: 1280}
				c.Height = prop.IntRanged{Max: 720}
			}
		}

		stream, err := mediadevices.GetUserMedia(constraints)
		if err != nil {
			lastErr = err
			log.Warn().Err(err).Str("module", "device").Str("attempt", a.label).Msg("GetUserMedia failed")
			continue
		}
		log.Info().Str("module", "device").Str("attempt", a.label).Msg("local media acquired")
		return &media{stream: stream}, nil
	}
	return nil, fmt.Errorf("device: no usable capture devices: %w", lastErr)
}

type media struct {
	stream mediadevices.MediaStream
}

func (m *media) AudioTrack() webrtc.TrackLocal {
	if tracks := m.stream.GetAudioTracks(); len(tracks) > 0 {
		return tracks[0]
	}
	return nil
}

func (m *media) VideoTrack() webrtc.TrackLocal {
	if tracks := m.stream.GetVideoTracks(); len(tracks) > 0 {
		return tracks[0]
	}
	return nil
}

func (m *media) Stop() {
	for _, t := range m.stream.GetTracks() {
		if err := t.Close(); err != nil {
			log.Warn().Err(err).Str("module", "device").Str("track_id", t.ID()).Msg("track close")
		}
	}
}
