package app

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/thanhcanhit/bond-hub-call/internal/core"
	"github.com/thanhcanhit/bond-hub-call/internal/domain"
)

// scheduleTransportRecovery reacts to a transport entering failed: wait out
// the recovery delay, then tear the transport down and rebuild it. One
// recovery per failure event; state flaps during the rebuild are absorbed.
func (o *Orchestrator) scheduleTransportRecovery(sess *SessionContext, dir core.TransportDirection) {
	if !o.isActive(sess) || sess.queue.Aborted() {
		return
	}
	if !sess.markRecovering(dir) {
		return
	}
	log.Warn().
		Str("module", "app").
		Str("direction", string(dir)).
		Msg("transport failed, scheduling recovery")

	go func() {
		defer sess.clearRecovering(dir)

		select {
		case <-sess.done:
			return
		case <-o.after(o.cfg.RecoveryDelay):
		}
		if !o.isActive(sess) {
			return
		}
		if err := o.recoverTransport(sess, dir); err != nil {
			log.Error().Err(err).
				Str("module", "app").
				Str("direction", string(dir)).
				Msg("transport recovery failed")
			o.notifyFailure(FailureConnection, "transport recovery failed: "+err.Error())
		}
	}()
}

func (o *Orchestrator) recoverTransport(sess *SessionContext, dir core.TransportDirection) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		<-sess.done
		cancel()
	}()

	if old := sess.transport(dir); old != nil {
		old.Close()
	}
	sess.setTransport(dir, nil)

	if _, err := o.ensureTransport(ctx, sess, dir); err != nil {
		return err
	}

	if dir == core.DirectionSend {
		// The new transport carries no senders; every local track must be
		// announced again.
		for _, p := range sess.takeProducers() {
			p.close()
		}
		return o.produceLocalTracks(ctx, sess)
	}

	// Receive side: the pumps died with the old transport. Re-consume every
	// producer we knew about; the router re-sends tracks on the new one.
	known := sess.knownProducerIDs()
	for _, producerID := range known {
		c, ok := sess.dropConsumer(producerID)
		if !ok {
			continue
		}
		c.stop()
		sess.streams.Remove(c.ID)
		src := domain.NewProducer{
			RoomID:     sess.call.RoomID,
			ProducerID: c.ProducerID,
			UserID:     c.UserID,
			Kind:       c.Kind,
		}
		if err := o.consumeOne(ctx, sess, src); err != nil {
			log.Warn().Err(err).
				Str("module", "app").
				Str("producer", producerID).
				Msg("re-consume after recovery failed")
		}
	}
	log.Info().Str("module", "app").Str("direction", string(dir)).Msg("transport recovered")
	return nil
}

// cleanupSession releases everything a session holds, in a fixed order.
// Safe to call any number of times, from any goroutine, at any point of the
// session's life; every step tolerates the work having never happened. The
// context bounds only the graceful leaveRoom; teardown itself runs
// unconditionally.
func (o *Orchestrator) cleanupSession(ctx context.Context, sess *SessionContext) {
	o.cleanupMu.Lock()
	defer o.cleanupMu.Unlock()

	log.Info().Str("module", "app").Str("room", string(sess.call.RoomID)).Msg("cleaning up session")

	// 1. No new negotiation work may start or complete.
	sess.queue.Abort()
	sess.finish()

	// 2. Tell the room we are gone, then drop the signaling connection.
	if sess.signal != nil {
		if sess.signal.Connected() {
			leaveCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
			if err := sess.signal.LeaveRoom(leaveCtx, sess.call.RoomID); err != nil {
				log.Warn().Err(err).Str("module", "app").Msg("leaveRoom on cleanup")
			}
			cancel()
		}
		sess.signal.Close()
	}

	// 3. Stop capture before closing the senders that carry it.
	if media := sess.deviceMedia(); media != nil {
		media.Stop()
		sess.setMedia(nil)
	}

	// 4. Producers, then consumers, then the transports under them.
	for _, p := range sess.takeProducers() {
		p.close()
	}
	for _, c := range sess.takeConsumers() {
		c.stop()
	}
	o.closeTransports(sess)

	// 5. Visible state, then the negotiator: capabilities are re-creatable
	// only through a full teardown and rebuild.
	sess.streams.Clear()
	sess.negotiator.drop()

	o.mu.Lock()
	if o.sess == sess {
		o.sess = nil
	}
	o.mu.Unlock()
}

func (o *Orchestrator) closeTransports(sess *SessionContext) {
	for _, dir := range []core.TransportDirection{core.DirectionSend, core.DirectionRecv} {
		if t := sess.transport(dir); t != nil {
			t.Close()
			sess.setTransport(dir, nil)
		}
	}
}

// failSession surfaces a hard failure and force-ends the session.
func (o *Orchestrator) failSession(sess *SessionContext, name FailureName, err error) {
	log.Error().Err(err).Str("module", "app").Str("failure", string(name)).Msg("session failed")
	o.notifyFailure(name, err.Error())
	sess.fsm.Transition(domain.StateEnded)
	o.cleanupSession(context.Background(), sess)
}

func (o *Orchestrator) notifyFailure(name FailureName, reason string) {
	if o.cb.OnFailure != nil {
		o.cb.OnFailure(name, reason)
	}
}
