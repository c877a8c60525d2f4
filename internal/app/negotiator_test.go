package app

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/thanhcanhit/bond-hub-call/internal/core"
	"github.com/thanhcanhit/bond-hub-call/internal/domain"
)

func testCaps() core.RouterCapabilities {
	return core.RouterCapabilities{Codecs: []core.CodecCapability{
		{Kind: domain.MediaAudio, MimeType: "audio/opus", ClockRate: 48000, Channels: 2},
		{Kind: domain.MediaVideo, MimeType: "video/VP8", ClockRate: 90000},
	}}
}

func TestNegotiatorLoadsOnce(t *testing.T) {
	n := NewNegotiator()
	assert.False(t, n.Loaded())

	require.NoError(t, n.Load(testCaps()))
	assert.True(t, n.Loaded())
	assert.ErrorIs(t, n.Load(testCaps()), ErrCapsAlreadyLoaded)

	codec, ok := n.ForKind(domain.MediaAudio)
	require.True(t, ok)
	assert.Equal(t, "audio/opus", codec.MimeType)

	_, ok = n.ForKind("screen")
	assert.False(t, ok)
}

func TestNegotiationQueueSerializes(t *testing.T) {
	q := newNegotiationQueue()

	inside := make(chan struct{})
	release := make(chan struct{})
	go func() {
		_ = q.Do(context.Background(), func(context.Context) error {
			close(inside)
			<-release
			return nil
		})
	}()
	<-inside

	// The slot is held: a second operation must wait for it.
	second := make(chan error, 1)
	go func() {
		second <- q.Do(context.Background(), func(context.Context) error { return nil })
	}()
	select {
	case err := <-second:
		t.Fatalf("second op ran while first held the queue: %v", err)
	case <-time.After(20 * time.Millisecond):
	}

	close(release)
	require.NoError(t, <-second)
}

func TestNegotiationQueueAbort(t *testing.T) {
	q := newNegotiationQueue()
	q.Abort()
	q.Abort() // idempotent

	err := q.Do(context.Background(), func(context.Context) error {
		t.Fatal("must not run after abort")
		return nil
	})
	assert.ErrorIs(t, err, ErrNegotiationAborted)
	assert.True(t, q.Aborted())
}

func TestNegotiationQueueAbortUnblocksWaiters(t *testing.T) {
	q := newNegotiationQueue()

	inside := make(chan struct{})
	release := make(chan struct{})
	go func() {
		_ = q.Do(context.Background(), func(context.Context) error {
			close(inside)
			<-release
			return nil
		})
	}()
	<-inside

	waiter := make(chan error, 1)
	go func() {
		waiter <- q.Do(context.Background(), func(context.Context) error { return nil })
	}()

	q.Abort()
	assert.ErrorIs(t, <-waiter, ErrNegotiationAborted)
	close(release)
}

func TestNegotiationQueueContext(t *testing.T) {
	q := newNegotiationQueue()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := q.Do(ctx, func(context.Context) error {
		t.Fatal("must not run with a dead context")
		return nil
	})
	assert.ErrorIs(t, err, context.Canceled)
}
