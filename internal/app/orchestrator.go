// Package app orchestrates the client side of a call: the lifecycle state
// machine, the room join protocol, media production and consumption, and
// recovery when any of it breaks. One session at a time per context.
package app

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/thanhcanhit/bond-hub-call/internal/config"
	"github.com/thanhcanhit/bond-hub-call/internal/core"
	"github.com/thanhcanhit/bond-hub-call/internal/domain"
)

// Callbacks is the UI-facing surface. All callbacks are optional and must
// be fast; they are invoked from session goroutines.
type Callbacks struct {
	OnState     func(domain.CallState)
	OnFailure   func(name FailureName, reason string)
	OnStreams   func([]core.RemoteStream)
	OnRecovered func(reason string)
}

type Orchestrator struct {
	cfg        *config.Config
	identity   domain.Identity
	dial       core.SignalDialer
	devices    core.DeviceSource
	transports core.TransportFactory
	buses      []core.ContextBus
	cb         Callbacks

	after func(time.Duration) <-chan time.Time

	mu     sync.Mutex
	sess   *SessionContext
	epoch  uint64
	unsubs []func()

	cleanupMu sync.Mutex
}

func New(
	cfg *config.Config,
	identity domain.Identity,
	dial core.SignalDialer,
	devices core.DeviceSource,
	transports core.TransportFactory,
	buses []core.ContextBus,
	cb Callbacks,
) *Orchestrator {
	o := &Orchestrator{
		cfg:        cfg,
		identity:   identity,
		dial:       dial,
		devices:    devices,
		transports: transports,
		buses:      buses,
		cb:         cb,
		after:      time.After,
	}
	for _, b := range buses {
		o.unsubs = append(o.unsubs, b.Subscribe(o.handleBridge))
	}
	return o
}

// StartCall initiates an outgoing call into an already created room and
// waits (via events) for the peer to accept. Fails when a session is
// already active.
func (o *Orchestrator) StartCall(ctx context.Context, roomID domain.RoomID, kind domain.MediaKind, targetID domain.UserID, targetType domain.TargetType) (*domain.CallSession, error) {
	call, err := domain.NewCallSession(roomID, kind, targetID, targetType)
	if err != nil {
		return nil, err
	}
	sess, err := o.openSession(call, true)
	if err != nil {
		return nil, err
	}

	if err := sess.signal.Connect(ctx); err != nil {
		o.notifyFailure(FailureInitialization, err.Error())
		o.cleanupSession(ctx, sess)
		return nil, fmt.Errorf("%s: %w", FailureInitialization, err)
	}

	log.Info().
		Str("module", "app").
		Str("room", string(roomID)).
		Str("target", string(targetID)).
		Str("kind", string(kind)).
		Uint64("epoch", sess.epoch).
		Msg("outgoing call started")
	if o.cb.OnState != nil {
		o.cb.OnState(domain.StateWaiting)
	}
	return sess.call, nil
}

// HandleIncomingCall registers an inbound call in waiting state. The
// session produces no media until Accept.
func (o *Orchestrator) HandleIncomingCall(ctx context.Context, inc domain.IncomingCall) (*domain.CallSession, error) {
	targetType := domain.TargetUser
	if inc.IsGroupCall {
		targetType = domain.TargetGroup
	}
	kind := inc.MediaKind
	if kind == "" {
		kind = domain.MediaAudio
	}
	call, err := domain.NewCallSession(inc.RoomID, kind, inc.InitiatorID, targetType)
	if err != nil {
		return nil, err
	}
	call.CallID = inc.CallID

	sess, err := o.openSession(call, false)
	if err != nil {
		return nil, err
	}
	if err := sess.signal.Connect(ctx); err != nil {
		o.notifyFailure(FailureInitialization, err.Error())
		o.cleanupSession(ctx, sess)
		return nil, fmt.Errorf("%s: %w", FailureInitialization, err)
	}

	log.Info().
		Str("module", "app").
		Str("room", string(inc.RoomID)).
		Str("initiator", string(inc.InitiatorID)).
		Uint64("epoch", sess.epoch).
		Msg("incoming call registered")
	if o.cb.OnState != nil {
		o.cb.OnState(domain.StateWaiting)
	}
	return sess.call, nil
}

// Accept answers the active incoming call: this context takes media
// ownership, the other contexts learn over the bridge.
func (o *Orchestrator) Accept(ctx context.Context) error {
	sess := o.current()
	if sess == nil {
		return ErrNoActiveCall
	}
	sess.setOwner(true)
	o.publishBridge(sess, domain.BridgeCallAccepted)
	o.beginConnecting(sess)
	return nil
}

// Reject declines the active incoming call. No media was ever set up, but
// cleanup runs anyway; it is a no-op for work never done.
func (o *Orchestrator) Reject(ctx context.Context) error {
	sess := o.current()
	if sess == nil {
		return ErrNoActiveCall
	}
	sess.fsm.Transition(domain.StateRejected)
	o.cleanupSession(ctx, sess)
	return nil
}

// End terminates the active call. Idempotent: ending twice, or ending a
// call that never connected, is safe. The context bounds the graceful
// leaveRoom; local teardown always completes.
func (o *Orchestrator) End(ctx context.Context) error {
	sess := o.current()
	if sess == nil {
		return nil
	}
	sess.fsm.Transition(domain.StateEnded)
	o.cleanupSession(ctx, sess)
	return nil
}

// Mute pauses or resumes the local producer of the given kind.
func (o *Orchestrator) Mute(kind domain.MediaKind, muted bool) error {
	sess := o.current()
	if sess == nil {
		return ErrNoActiveCall
	}
	p := sess.producerByKind(kind)
	if p == nil {
		return fmt.Errorf("app: no %s producer", kind)
	}
	return p.SetMuted(muted)
}

// State returns the lifecycle state of the active session, or ended when
// there is none.
func (o *Orchestrator) State() domain.CallState {
	sess := o.current()
	if sess == nil {
		return domain.StateEnded
	}
	return sess.fsm.State()
}

// Streams snapshots the playable remote streams of the active session.
func (o *Orchestrator) Streams() []core.RemoteStream {
	sess := o.current()
	if sess == nil {
		return nil
	}
	return sess.streams.Snapshot()
}

// Participants snapshots the room roster of the active session.
func (o *Orchestrator) Participants() []domain.Participant {
	sess := o.current()
	if sess == nil {
		return nil
	}
	return sess.participantList()
}

// Close ends any active session and detaches from the buses. The buses
// themselves belong to the caller.
func (o *Orchestrator) Close() {
	_ = o.End(context.Background())
	o.mu.Lock()
	unsubs := o.unsubs
	o.unsubs = nil
	o.mu.Unlock()
	for _, fn := range unsubs {
		fn()
	}
}

func (o *Orchestrator) openSession(call *domain.CallSession, owner bool) (*SessionContext, error) {
	sig, err := o.dial(call.RoomID)
	if err != nil {
		return nil, err
	}

	o.mu.Lock()
	if o.sess != nil {
		o.mu.Unlock()
		sig.Close()
		return nil, ErrCallActive
	}
	o.epoch++
	sess := newSessionContext(o.epoch, call, sig)
	sess.owner = owner
	sess.fsm = NewLifecycle(o.stateChanged)
	o.sess = sess
	o.mu.Unlock()

	sess.streams.OnChange(func() {
		if o.cb.OnStreams != nil {
			o.cb.OnStreams(sess.streams.Snapshot())
		}
	})
	go o.consumeEvents(sess)
	return sess, nil
}

func (o *Orchestrator) current() *SessionContext {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.sess
}

// isActive rejects results of a superseded session: only the session the
// orchestrator currently points at may touch shared state.
func (o *Orchestrator) isActive(sess *SessionContext) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.sess == sess
}

func (o *Orchestrator) stateChanged(state domain.CallState) {
	if o.cb.OnState != nil {
		o.cb.OnState(state)
	}
}

// beginConnecting is the single entry into media setup. However many
// duplicate accept signals arrive (signal event, direct bridge, broadcast
// bridge), the transition gates exactly one join.
func (o *Orchestrator) beginConnecting(sess *SessionContext) {
	if !sess.fsm.Transition(domain.StateConnecting) {
		return
	}
	if sess.isOwner() {
		go o.runJoin(sess)
	}
}

func (o *Orchestrator) consumeEvents(sess *SessionContext) {
	ch := sess.signal.Events()
	for {
		select {
		case <-sess.done:
			return
		case ev := <-ch:
			if !o.isActive(sess) {
				return
			}
			o.handleEvent(sess, ev)
		}
	}
}

func (o *Orchestrator) handleEvent(sess *SessionContext, ev domain.Event) {
	switch e := ev.(type) {
	case domain.CallAccepted:
		if e.RoomID != sess.call.RoomID {
			return
		}
		o.publishBridge(sess, domain.BridgeCallAccepted)
		o.beginConnecting(sess)

	case domain.CallRejected:
		if e.RoomID != sess.call.RoomID {
			return
		}
		log.Info().Str("module", "app").Str("reason", e.Reason).Msg("call rejected by peer")
		sess.fsm.Transition(domain.StateRejected)
		o.cleanupSession(context.Background(), sess)

	case domain.ParticipantJoined:
		if e.RoomID != sess.call.RoomID {
			return
		}
		sess.addParticipant(e.Participant)
		o.publishBridge(sess, domain.BridgeParticipantJoined)
		// A participant showing up in the room is the room-level form of an
		// accept for the caller still waiting.
		o.beginConnecting(sess)

	case domain.ParticipantLeft:
		if e.RoomID != sess.call.RoomID {
			return
		}
		sess.removeParticipant(e.UserID)

	case domain.NewProducer:
		if e.RoomID != sess.call.RoomID || sess.fsm.State().Terminal() {
			return
		}
		go func() {
			ctx, cancel := context.WithCancel(context.Background())
			defer cancel()
			go func() {
				<-sess.done
				cancel()
			}()
			if err := o.consumeOne(ctx, sess, e); err != nil {
				log.Warn().Err(err).Str("module", "app").Str("producer", e.ProducerID).Msg("consume announced producer")
			}
		}()

	case domain.ProducerClosed:
		if e.RoomID != sess.call.RoomID {
			return
		}
		if c, ok := sess.dropConsumer(e.ProducerID); ok {
			c.stop()
			sess.streams.Remove(c.ID)
		}

	case domain.SessionEnded:
		if e.RoomID != sess.call.RoomID {
			return
		}
		log.Info().Str("module", "app").Str("reason", e.Reason).Msg("session ended by peer")
		sess.fsm.Transition(domain.StateEnded)
		o.cleanupSession(context.Background(), sess)

	case domain.RoomClosed:
		if e.RoomID != sess.call.RoomID {
			return
		}
		sess.fsm.Transition(domain.StateEnded)
		o.cleanupSession(context.Background(), sess)

	case domain.ConnectionError:
		// The client reconnects on its own; surface the hiccup without
		// touching the lifecycle.
		o.notifyFailure(FailureConnection, e.Reason)

	default:
		log.Debug().Str("module", "app").Msgf("event ignored: %T", ev)
	}
}

// handleBridge applies a cross-context message. The same message may arrive
// over both the direct and the broadcast path; every branch tolerates the
// duplicate.
func (o *Orchestrator) handleBridge(msg domain.BridgeMessage) {
	sess := o.current()
	if sess == nil || msg.RoomID != sess.call.RoomID {
		return
	}
	switch msg.Kind {
	case domain.BridgeCallAccepted:
		o.beginConnecting(sess)

	case domain.BridgeCallConnected:
		// Another context of this user carries the media; mirror the state
		// so this one renders the call as live.
		if sess.isOwner() {
			return
		}
		sess.fsm.Transition(domain.StateConnecting)
		sess.fsm.Transition(domain.StateConnected)

	case domain.BridgeParticipantJoined:
		if msg.UserID != "" {
			sess.addParticipant(domain.Participant{UserID: msg.UserID})
		}
		// Same semantics as the direct participantJoined event: a context
		// that missed the accept still leaves waiting on this delivery.
		o.beginConnecting(sess)
	}
}

func (o *Orchestrator) publishBridge(sess *SessionContext, kind domain.BridgeKind) {
	msg := domain.NewBridgeMessage(kind, sess.call.RoomID)
	msg.CallID = sess.call.CallID
	msg.UserID = o.identity.UserID
	for _, b := range o.buses {
		if err := b.Publish(msg); err != nil {
			log.Warn().Err(err).Str("module", "app").Str("kind", string(kind)).Msg("bridge publish")
		}
	}
}
