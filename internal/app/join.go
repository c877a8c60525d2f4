package app

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"

	"github.com/thanhcanhit/bond-hub-call/internal/core"
	"github.com/thanhcanhit/bond-hub-call/internal/domain"
)

// runJoin drives the whole media setup for a session that just entered
// connecting. It runs on its own goroutine; exactly one per session.
func (o *Orchestrator) runJoin(sess *SessionContext) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		<-sess.done
		cancel()
	}()

	err := o.joinRoom(ctx, sess)
	if !o.isActive(sess) {
		return
	}
	switch {
	case err == nil:
		if sess.fsm.Transition(domain.StateConnected) {
			o.publishBridge(sess, domain.BridgeCallConnected)
		}
	case errors.Is(err, ErrNegotiationAborted):
		o.recoverAbortedJoin(sess)
	default:
		o.failSession(sess, FailureRoomJoin, err)
	}
}

// joinRoom is the ordered join protocol. Every step is individually
// retried under the join policy; a step that exhausts its retries fails
// the join as a whole.
func (o *Orchestrator) joinRoom(ctx context.Context, sess *SessionContext) error {
	roomID := sess.call.RoomID
	joinPolicy := policyFromConfig(o.cfg, o.cfg.MaxJoinAttempts)

	if err := withRetry(ctx, "signal.connect", joinPolicy, sess.signal.Connect); err != nil {
		return fmt.Errorf("connect signaling: %w", err)
	}

	if err := withRetry(ctx, "device.acquire", joinPolicy, func(ctx context.Context) error {
		if sess.deviceMedia() != nil {
			return nil
		}
		media, err := o.devices.Acquire(ctx, sess.call.MediaKind == domain.MediaVideo)
		if err != nil {
			return err
		}
		sess.setMedia(media)
		return nil
	}); err != nil {
		return fmt.Errorf("acquire media: %w", err)
	}

	if err := withRetry(ctx, "signal.joinRoom", joinPolicy, func(ctx context.Context) error {
		if sess.negotiator.Loaded() {
			return nil
		}
		reply, err := sess.signal.JoinRoom(ctx, core.JoinRoomRequest{RoomID: roomID, UserID: o.identity.UserID})
		if err != nil {
			return err
		}
		if err := sess.negotiator.Load(reply.RouterCapabilities); err != nil && !errors.Is(err, ErrCapsAlreadyLoaded) {
			return err
		}
		for _, p := range reply.Participants {
			sess.addParticipant(p)
		}
		return nil
	}); err != nil {
		return fmt.Errorf("join room: %w", err)
	}

	if _, err := o.ensureTransport(ctx, sess, core.DirectionSend); err != nil {
		return fmt.Errorf("send transport: %w", err)
	}
	if _, err := o.ensureTransport(ctx, sess, core.DirectionRecv); err != nil {
		return fmt.Errorf("recv transport: %w", err)
	}

	if err := o.produceLocalTracks(ctx, sess); err != nil {
		return err
	}

	o.consumeExisting(ctx, sess)

	// Even after partial failures above were contained, the room must learn
	// the client is live, otherwise the peer waits forever.
	if err := withRetry(ctx, "signal.finishJoining", joinPolicy, func(ctx context.Context) error {
		return sess.signal.FinishJoining(ctx, roomID)
	}); err != nil {
		return fmt.Errorf("finish joining: %w", err)
	}
	return nil
}

// ensureTransport returns the live transport for a direction, creating and
// negotiating it when missing. There is never more than one live transport
// per direction per session.
func (o *Orchestrator) ensureTransport(ctx context.Context, sess *SessionContext, dir core.TransportDirection) (core.MediaTransport, error) {
	if t := sess.transport(dir); t != nil && !t.Closed() {
		return t, nil
	}

	joinPolicy := policyFromConfig(o.cfg, o.cfg.MaxJoinAttempts)
	var info core.TransportInfo
	if err := withRetry(ctx, "signal.createTransport", joinPolicy, func(ctx context.Context) error {
		var err error
		info, err = sess.signal.CreateTransport(ctx, sess.call.RoomID, dir)
		return err
	}); err != nil {
		return nil, err
	}

	t, err := o.transports(info.ID, dir)
	if err != nil {
		return nil, err
	}
	t.OnStateChange(func(state core.TransportState) {
		if state == core.TransportFailed {
			o.scheduleTransportRecovery(sess, dir)
		}
	})
	if dir == core.DirectionRecv {
		t.OnTrack(func(remote *webrtc.TrackRemote) {
			o.handleRemoteTrack(sess, remote)
		})
	}
	sess.setTransport(dir, t)

	if err := withRetry(ctx, "transport.negotiate", joinPolicy, func(ctx context.Context) error {
		return sess.queue.Do(ctx, func(ctx context.Context) error {
			return t.Negotiate(ctx, func(ctx context.Context, offer webrtc.SessionDescription) (webrtc.SessionDescription, error) {
				return sess.signal.ConnectTransport(ctx, t.ID(), offer)
			})
		})
	}); err != nil {
		t.Close()
		return nil, err
	}

	log.Info().
		Str("module", "app").
		Str("transport", t.ID()).
		Str("direction", string(dir)).
		Msg("transport ready")
	return t, nil
}

// produceLocalTracks announces the device tracks, audio first. A failing
// track never aborts the join: it is logged, a single delayed retry of just
// that track is scheduled, and the call proceeds with whatever succeeded.
func (o *Orchestrator) produceLocalTracks(ctx context.Context, sess *SessionContext) error {
	media := sess.deviceMedia()
	if media == nil {
		return fmt.Errorf("no device media acquired")
	}

	tracks := []struct {
		kind  domain.MediaKind
		track webrtc.TrackLocal
	}{
		{domain.MediaAudio, media.AudioTrack()},
		{domain.MediaVideo, media.VideoTrack()},
	}
	for _, lt := range tracks {
		if lt.track == nil {
			continue
		}
		if err := o.produceTrack(ctx, sess, lt.kind, lt.track); err != nil {
			if errors.Is(err, ErrNegotiationAborted) {
				return err
			}
			log.Error().Err(err).
				Str("module", "app").
				Str("kind", string(lt.kind)).
				Msg("track production failed, scheduling one retry")
			o.scheduleTrackRetry(sess, lt.kind, lt.track)
		}
	}
	return nil
}

func (o *Orchestrator) produceTrack(ctx context.Context, sess *SessionContext, kind domain.MediaKind, track webrtc.TrackLocal) error {
	maxAttempts := o.cfg.MaxTrackAttempts
	if kind == domain.MediaAudio {
		maxAttempts = o.cfg.MaxAudioAttempts
	}
	policy := policyFromConfig(o.cfg, maxAttempts)

	return withRetry(ctx, "produce."+string(kind), policy, func(ctx context.Context) error {
		return sess.queue.Do(ctx, func(ctx context.Context) error {
			send := sess.transport(core.DirectionSend)
			if send == nil || send.Closed() {
				return fmt.Errorf("send transport unavailable")
			}
			if p := sess.producerByKind(kind); p != nil {
				return nil
			}
			// Attach locally before announcing: a failed attach must not
			// leave an orphaned producer on the server, and a failed
			// announce can undo the attach.
			sender, err := send.AddLocalTrack(track)
			if err != nil {
				return err
			}
			info, err := sess.signal.Produce(ctx, core.ProduceRequest{TransportID: send.ID(), Kind: kind})
			if err != nil {
				if stopErr := sender.Stop(); stopErr != nil {
					log.Warn().Err(stopErr).Str("module", "app").Str("kind", string(kind)).Msg("stop pending sender")
				}
				return err
			}
			sess.addProducer(&Producer{ID: info.ID, Kind: kind, track: track, sender: sender})
			log.Info().Str("module", "app").Str("producer", info.ID).Str("kind", string(kind)).Msg("track produced")
			return nil
		})
	})
}

// scheduleTrackRetry re-attempts one failed track after the recovery delay.
// Exactly one reschedule; the inner retry is bounded on its own.
func (o *Orchestrator) scheduleTrackRetry(sess *SessionContext, kind domain.MediaKind, track webrtc.TrackLocal) {
	go func() {
		select {
		case <-sess.done:
			return
		case <-o.after(o.cfg.RecoveryDelay):
		}
		if !o.isActive(sess) {
			return
		}
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()
		go func() {
			<-sess.done
			cancel()
		}()
		if err := o.produceTrack(ctx, sess, kind, track); err != nil {
			log.Error().Err(err).Str("module", "app").Str("kind", string(kind)).Msg("track retry failed, giving up")
		}
	}()
}

// consumeExisting pulls the producers that were already live before we
// joined. Best effort per producer; a failing one never blocks the rest.
func (o *Orchestrator) consumeExisting(ctx context.Context, sess *SessionContext) {
	producers, err := sess.signal.GetProducers(ctx, sess.call.RoomID)
	if err != nil {
		log.Warn().Err(err).Str("module", "app").Msg("getProducers failed, continuing without existing streams")
		return
	}
	for _, info := range producers {
		src := domain.NewProducer{
			RoomID:     sess.call.RoomID,
			ProducerID: info.ID,
			UserID:     info.UserID,
			Kind:       info.Kind,
		}
		if err := o.consumeOne(ctx, sess, src); err != nil && !errors.Is(err, ErrNegotiationAborted) {
			log.Warn().Err(err).Str("module", "app").Str("producer", info.ID).Msg("consume failed, skipping")
		}
	}
}

// consumeOne wires one remote producer into a playable local stream.
// Duplicate announcements for the same producer are dropped here.
func (o *Orchestrator) consumeOne(ctx context.Context, sess *SessionContext, src domain.NewProducer) error {
	return sess.queue.Do(ctx, func(ctx context.Context) error {
		if _, ok := sess.consumerForProducer(src.ProducerID); ok {
			return nil
		}
		codec, ok := sess.negotiator.ForKind(src.Kind)
		if !ok {
			return fmt.Errorf("%w: %s", ErrNoCodec, src.Kind)
		}

		// The router tags the remote track's stream id with the producer id;
		// handleRemoteTrack relies on that to route RTP to this consumer.
		consumerID := uuid.NewString()
		local, err := webrtc.NewTrackLocalStaticRTP(codec, consumerID, src.ProducerID)
		if err != nil {
			return fmt.Errorf("local playable track: %w", err)
		}

		consumer := newConsumer(consumerID, src, local, func(c *Consumer) {
			o.consumerEnded(sess, c)
		})
		if !sess.putConsumer(consumer) {
			return nil
		}
		sess.streams.Add(core.RemoteStream{
			ConsumerID: consumerID,
			ProducerID: src.ProducerID,
			UserID:     src.UserID,
			Kind:       src.Kind,
			Local:      local,
		})

		if err := sess.signal.ResumeConsumer(ctx, consumerID); err != nil {
			sess.dropConsumer(src.ProducerID)
			sess.streams.Remove(consumerID)
			consumer.stop()
			return fmt.Errorf("resume consumer: %w", err)
		}
		log.Info().
			Str("module", "app").
			Str("consumer", consumerID).
			Str("producer", src.ProducerID).
			Str("kind", string(src.Kind)).
			Msg("consuming remote producer")
		return nil
	})
}

// handleRemoteTrack routes an inbound remote track to its consumer. The
// stream id carries the producer id, see consumeOne.
func (o *Orchestrator) handleRemoteTrack(sess *SessionContext, remote *webrtc.TrackRemote) {
	if !o.isActive(sess) {
		return
	}
	consumer, ok := sess.consumerForProducer(remote.StreamID())
	if !ok {
		log.Warn().
			Str("module", "app").
			Str("stream", remote.StreamID()).
			Msg("remote track without consumer, ignoring")
		return
	}
	consumer.attach(remote)
}

// consumerEnded fires when a pump stops: remote producer gone or transport
// recycled. The stream leaves the registry so the UI drops the renderer.
func (o *Orchestrator) consumerEnded(sess *SessionContext, c *Consumer) {
	cur, ok := sess.consumerForProducer(c.ProducerID)
	if !ok || cur != c {
		// Already replaced by a recovery re-consume; only the stream of the
		// live consumer may be touched.
		return
	}
	sess.dropConsumer(c.ProducerID)
	sess.streams.Remove(c.ID)
}

// recoverAbortedJoin handles a join torn up mid-flight by a session
// re-initialization: transports are reset, the room is still told we are
// live, and the whole thing is surfaced as recovered, not failed.
func (o *Orchestrator) recoverAbortedJoin(sess *SessionContext) {
	log.Warn().Str("module", "app").Str("room", string(sess.call.RoomID)).Msg("join aborted mid-flight, recovering")

	o.closeTransports(sess)

	ctx, cancel := context.WithTimeout(context.Background(), o.cfg.RPCTimeout)
	defer cancel()
	if err := sess.signal.FinishJoining(ctx, sess.call.RoomID); err != nil {
		log.Warn().Err(err).Str("module", "app").Msg("finishJoining after abort")
	}
	if o.cb.OnRecovered != nil {
		o.cb.OnRecovered("negotiation aborted during setup")
	}
}
