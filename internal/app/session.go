package app

import (
	"context"
	"sync"

	"github.com/pion/interceptor"
	"github.com/pion/rtp"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"

	"github.com/thanhcanhit/bond-hub-call/internal/core"
	"github.com/thanhcanhit/bond-hub-call/internal/domain"
)

// Producer is one locally produced track announced to the room.
type Producer struct {
	ID   string
	Kind domain.MediaKind

	mu     sync.Mutex
	track  webrtc.TrackLocal
	sender core.Sender
	muted  bool
	closed bool
}

// SetMuted swaps the outbound track for silence and back. Muting an already
// muted producer is a no-op.
func (p *Producer) SetMuted(muted bool) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed || p.muted == muted {
		return nil
	}
	next := p.track
	if muted {
		next = nil
	}
	if err := p.sender.ReplaceTrack(next); err != nil {
		return err
	}
	p.muted = muted
	return nil
}

func (p *Producer) Muted() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.muted
}

func (p *Producer) close() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	sender := p.sender
	p.mu.Unlock()
	if sender != nil {
		if err := sender.Stop(); err != nil {
			log.Warn().Err(err).Str("module", "app").Str("producer", p.ID).Msg("sender stop")
		}
	}
}

// rtpReader is the read side of a remote track. *webrtc.TrackRemote
// satisfies it; tests substitute their own.
type rtpReader interface {
	ReadRTP() (*rtp.Packet, interceptor.Attributes, error)
}

// Consumer pumps one remote producer's RTP into a locally playable track.
type Consumer struct {
	ID         string
	ProducerID string
	UserID     domain.UserID
	Kind       domain.MediaKind

	local   *webrtc.TrackLocalStaticRTP
	ctx     context.Context
	cancel  context.CancelFunc
	onEnded func(*Consumer)

	mu       sync.Mutex
	attached bool
}

func newConsumer(id string, src domain.NewProducer, local *webrtc.TrackLocalStaticRTP, onEnded func(*Consumer)) *Consumer {
	ctx, cancel := context.WithCancel(context.Background())
	return &Consumer{
		ID:         id,
		ProducerID: src.ProducerID,
		UserID:     src.UserID,
		Kind:       src.Kind,
		local:      local,
		ctx:        ctx,
		cancel:     cancel,
		onEnded:    onEnded,
	}
}

// attach starts the pump for the remote track. Only the first remote track
// wins; duplicates after a transport recovery are ignored.
func (c *Consumer) attach(remote rtpReader) {
	c.mu.Lock()
	if c.attached {
		c.mu.Unlock()
		return
	}
	c.attached = true
	c.mu.Unlock()
	go c.pump(remote)
}

func (c *Consumer) pump(remote rtpReader) {
	defer func() {
		if c.onEnded != nil {
			c.onEnded(c)
		}
	}()
	for {
		select {
		case <-c.ctx.Done():
			return
		default:
		}
		pkt, _, err := remote.ReadRTP()
		if err != nil {
			log.Debug().Err(err).Str("module", "app").Str("consumer", c.ID).Msg("remote track ended")
			return
		}
		if err := c.local.WriteRTP(pkt); err != nil {
			log.Warn().Err(err).Str("module", "app").Str("consumer", c.ID).Msg("local track write")
			return
		}
	}
}

func (c *Consumer) stop() {
	c.cancel()
}

// SessionContext carries everything owned by one call attempt. A new
// attempt always gets a fresh context with a higher epoch; async work
// compares epochs before touching shared state so results of a superseded
// session are dropped.
type SessionContext struct {
	epoch  uint64
	call   *domain.CallSession
	signal core.SignalClient

	fsm        *Lifecycle
	queue      *negotiationQueue
	negotiator *Negotiator
	streams    *core.StreamRegistry

	done     chan struct{}
	doneOnce sync.Once

	mu           sync.Mutex
	owner        bool
	media        core.DeviceMedia
	send         core.MediaTransport
	recv         core.MediaTransport
	producers    map[string]*Producer
	consumers    map[string]*Consumer
	participants map[domain.UserID]domain.Participant
	recovering   map[core.TransportDirection]bool
}

func newSessionContext(epoch uint64, call *domain.CallSession, sig core.SignalClient) *SessionContext {
	return &SessionContext{
		epoch:        epoch,
		call:         call,
		signal:       sig,
		queue:        newNegotiationQueue(),
		negotiator:   NewNegotiator(),
		streams:      core.NewStreamRegistry(),
		done:         make(chan struct{}),
		producers:    make(map[string]*Producer),
		consumers:    make(map[string]*Consumer),
		participants: make(map[domain.UserID]domain.Participant),
		recovering:   make(map[core.TransportDirection]bool),
	}
}

func (s *SessionContext) finish() {
	s.doneOnce.Do(func() { close(s.done) })
}

// setOwner marks this context as the one carrying media for the call.
// Non-owner contexts mirror lifecycle state and never touch devices.
func (s *SessionContext) setOwner(owner bool) {
	s.mu.Lock()
	s.owner = owner
	s.mu.Unlock()
}

func (s *SessionContext) isOwner() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.owner
}

func (s *SessionContext) setMedia(m core.DeviceMedia) {
	s.mu.Lock()
	s.media = m
	s.mu.Unlock()
}

func (s *SessionContext) deviceMedia() core.DeviceMedia {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.media
}

func (s *SessionContext) transport(dir core.TransportDirection) core.MediaTransport {
	s.mu.Lock()
	defer s.mu.Unlock()
	if dir == core.DirectionSend {
		return s.send
	}
	return s.recv
}

func (s *SessionContext) setTransport(dir core.TransportDirection, t core.MediaTransport) {
	s.mu.Lock()
	if dir == core.DirectionSend {
		s.send = t
	} else {
		s.recv = t
	}
	s.mu.Unlock()
}

func (s *SessionContext) addProducer(p *Producer) {
	s.mu.Lock()
	s.producers[p.ID] = p
	s.mu.Unlock()
}

func (s *SessionContext) producerByKind(kind domain.MediaKind) *Producer {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, p := range s.producers {
		if p.Kind == kind {
			return p
		}
	}
	return nil
}

func (s *SessionContext) takeProducers() []*Producer {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*Producer, 0, len(s.producers))
	for _, p := range s.producers {
		out = append(out, p)
	}
	s.producers = make(map[string]*Producer)
	return out
}

// putConsumer registers a consumer for a producer id. Reports false when
// that producer is already being consumed, the dedup for duplicate
// newProducer announcements.
func (s *SessionContext) putConsumer(c *Consumer) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.consumers[c.ProducerID]; ok {
		return false
	}
	s.consumers[c.ProducerID] = c
	return true
}

func (s *SessionContext) consumerForProducer(producerID string) (*Consumer, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.consumers[producerID]
	return c, ok
}

func (s *SessionContext) dropConsumer(producerID string) (*Consumer, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.consumers[producerID]
	if ok {
		delete(s.consumers, producerID)
	}
	return c, ok
}

func (s *SessionContext) takeConsumers() []*Consumer {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*Consumer, 0, len(s.consumers))
	for _, c := range s.consumers {
		out = append(out, c)
	}
	s.consumers = make(map[string]*Consumer)
	return out
}

func (s *SessionContext) knownProducerIDs() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.consumers))
	for id := range s.consumers {
		out = append(out, id)
	}
	return out
}

func (s *SessionContext) addParticipant(p domain.Participant) {
	s.mu.Lock()
	s.participants[p.UserID] = p
	s.mu.Unlock()
}

func (s *SessionContext) removeParticipant(id domain.UserID) {
	s.mu.Lock()
	delete(s.participants, id)
	s.mu.Unlock()
}

func (s *SessionContext) participantList() []domain.Participant {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.Participant, 0, len(s.participants))
	for _, p := range s.participants {
		out = append(out, p)
	}
	return out
}

// markRecovering claims the recovery slot for a direction. One failure
// event triggers exactly one recovery; further state flaps while it runs
// are absorbed.
func (s *SessionContext) markRecovering(dir core.TransportDirection) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.recovering[dir] {
		return false
	}
	s.recovering[dir] = true
	return true
}

func (s *SessionContext) clearRecovering(dir core.TransportDirection) {
	s.mu.Lock()
	delete(s.recovering, dir)
	s.mu.Unlock()
}
