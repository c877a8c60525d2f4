package app

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/pion/webrtc/v4"
	"github.com/stretchr/testify/require"

	"github.com/thanhcanhit/bond-hub-call/internal/config"
	"github.com/thanhcanhit/bond-hub-call/internal/core"
	"github.com/thanhcanhit/bond-hub-call/internal/domain"
)

// fakeSignal is an in-memory core.SignalClient scripted per test.
type fakeSignal struct {
	mu     sync.Mutex
	events chan domain.Event

	connected bool
	closed    bool

	joinReply core.JoinRoomReply
	joinErr   error
	joinCalls int

	connectErr  error
	createCalls int

	produceErr        error
	videoProduceFails int
	produceCalls      int
	nextProducer      int

	producers []core.ProducerInfo

	resumeErr error
	resumed   []string

	finishCalls  int
	leaveCalls   int
	leaveCtxErrs []error
	closeCalls   int
}

func newFakeSignal() *fakeSignal {
	return &fakeSignal{
		events: make(chan domain.Event, 32),
		joinReply: core.JoinRoomReply{
			RouterCapabilities: testCaps(),
		},
	}
}

func (f *fakeSignal) emit(ev domain.Event) { f.events <- ev }

func (f *fakeSignal) Connect(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	err := f.connectErr
	if err == nil {
		f.connected = true
	}
	return err
}

func (f *fakeSignal) Connected() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.connected && !f.closed
}

func (f *fakeSignal) JoinRoom(_ context.Context, req core.JoinRoomRequest) (core.JoinRoomReply, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.joinCalls++
	if f.joinErr != nil {
		return core.JoinRoomReply{}, f.joinErr
	}
	return f.joinReply, nil
}

func (f *fakeSignal) CreateTransport(_ context.Context, _ domain.RoomID, dir core.TransportDirection) (core.TransportInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.createCalls++
	return core.TransportInfo{ID: fmt.Sprintf("t-%s-%d", dir, f.createCalls), Direction: dir}, nil
}

func (f *fakeSignal) ConnectTransport(_ context.Context, transportID string, offer webrtc.SessionDescription) (webrtc.SessionDescription, error) {
	return webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: "v=0 answer " + transportID}, nil
}

func (f *fakeSignal) Produce(_ context.Context, req core.ProduceRequest) (core.ProducerInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.produceCalls++
	if f.produceErr != nil {
		return core.ProducerInfo{}, f.produceErr
	}
	if req.Kind == domain.MediaVideo && f.videoProduceFails > 0 {
		f.videoProduceFails--
		return core.ProducerInfo{}, fmt.Errorf("video produce refused")
	}
	f.nextProducer++
	return core.ProducerInfo{ID: fmt.Sprintf("local-p%d", f.nextProducer), Kind: req.Kind}, nil
}

func (f *fakeSignal) GetProducers(context.Context, domain.RoomID) ([]core.ProducerInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.producers, nil
}

func (f *fakeSignal) ResumeConsumer(_ context.Context, consumerID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.resumeErr != nil {
		return f.resumeErr
	}
	f.resumed = append(f.resumed, consumerID)
	return nil
}

func (f *fakeSignal) FinishJoining(context.Context, domain.RoomID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.finishCalls++
	return nil
}

func (f *fakeSignal) LeaveRoom(ctx context.Context, _ domain.RoomID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.leaveCalls++
	f.leaveCtxErrs = append(f.leaveCtxErrs, ctx.Err())
	return ctx.Err()
}

func (f *fakeSignal) Events() <-chan domain.Event { return f.events }

func (f *fakeSignal) Close() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	f.closeCalls++
}

func (f *fakeSignal) stats(fn func(*fakeSignal)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	fn(f)
}

// fakeSender records track replacement and stop.
type fakeSender struct {
	mu       sync.Mutex
	last     webrtc.TrackLocal
	replaced int
	stops    int
}

func (s *fakeSender) ReplaceTrack(t webrtc.TrackLocal) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.last = t
	s.replaced++
	return nil
}

func (s *fakeSender) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stops++
	return nil
}

func (s *fakeSender) stopCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stops
}

// fakeTransport is an in-memory core.MediaTransport whose state changes
// are driven by the test.
type fakeTransport struct {
	id  string
	dir core.TransportDirection

	mu            sync.Mutex
	state         core.TransportState
	stateFn       func(core.TransportState)
	trackFn       func(*webrtc.TrackRemote)
	closed        bool
	negotiations  int
	senders       []*fakeSender
	addTrackFails int
}

func newFakeTransport(id string, dir core.TransportDirection) *fakeTransport {
	return &fakeTransport{id: id, dir: dir, state: core.TransportNew}
}

func (t *fakeTransport) ID() string                         { return t.id }
func (t *fakeTransport) Direction() core.TransportDirection { return t.dir }

func (t *fakeTransport) State() core.TransportState {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

func (t *fakeTransport) OnStateChange(fn func(core.TransportState)) {
	t.mu.Lock()
	t.stateFn = fn
	t.mu.Unlock()
}

func (t *fakeTransport) OnTrack(fn func(*webrtc.TrackRemote)) {
	t.mu.Lock()
	t.trackFn = fn
	t.mu.Unlock()
}

func (t *fakeTransport) Negotiate(ctx context.Context, connect func(context.Context, webrtc.SessionDescription) (webrtc.SessionDescription, error)) error {
	t.mu.Lock()
	t.negotiations++
	t.mu.Unlock()
	_, err := connect(ctx, webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: "v=0 offer " + t.id})
	if err != nil {
		return err
	}
	t.fire(core.TransportConnected)
	return nil
}

func (t *fakeTransport) AddLocalTrack(webrtc.TrackLocal) (core.Sender, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.addTrackFails > 0 {
		t.addTrackFails--
		return nil, fmt.Errorf("add track refused")
	}
	s := &fakeSender{}
	t.senders = append(t.senders, s)
	return s, nil
}

func (t *fakeTransport) Close() {
	t.mu.Lock()
	t.closed = true
	t.state = core.TransportClosed
	t.mu.Unlock()
}

func (t *fakeTransport) Closed() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.closed
}

func (t *fakeTransport) fire(state core.TransportState) {
	t.mu.Lock()
	t.state = state
	fn := t.stateFn
	t.mu.Unlock()
	if fn != nil {
		fn(state)
	}
}

func (t *fakeTransport) sender(i int) *fakeSender {
	t.mu.Lock()
	defer t.mu.Unlock()
	if i >= len(t.senders) {
		return nil
	}
	return t.senders[i]
}

// fakeMedia / fakeDeviceSource stand in for local capture.
type fakeMedia struct {
	audio webrtc.TrackLocal
	video webrtc.TrackLocal

	mu    sync.Mutex
	stops int
}

func (m *fakeMedia) AudioTrack() webrtc.TrackLocal { return m.audio }
func (m *fakeMedia) VideoTrack() webrtc.TrackLocal { return m.video }

func (m *fakeMedia) Stop() {
	m.mu.Lock()
	m.stops++
	m.mu.Unlock()
}

func (m *fakeMedia) stopCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.stops
}

type fakeDeviceSource struct {
	mu       sync.Mutex
	err      error
	noVideo  bool
	acquires int
	media    *fakeMedia
}

func (d *fakeDeviceSource) Acquire(_ context.Context, wantVideo bool) (core.DeviceMedia, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.acquires++
	if d.err != nil {
		return nil, d.err
	}
	m := &fakeMedia{audio: mustLocalTrack("audio/opus", 48000, "audio")}
	if wantVideo && !d.noVideo {
		m.video = mustLocalTrack("video/VP8", 90000, "video")
	}
	d.media = m
	return m, nil
}

func mustLocalTrack(mime string, clock uint32, id string) webrtc.TrackLocal {
	t, err := webrtc.NewTrackLocalStaticSample(
		webrtc.RTPCodecCapability{MimeType: mime, ClockRate: clock},
		id, "device",
	)
	if err != nil {
		panic(err)
	}
	return t
}

// fakeBus records published messages; tests inject inbound ones.
type fakeBus struct {
	mu        sync.Mutex
	published []domain.BridgeMessage
	handlers  []func(domain.BridgeMessage)
}

func (b *fakeBus) Publish(msg domain.BridgeMessage) error {
	b.mu.Lock()
	b.published = append(b.published, msg)
	b.mu.Unlock()
	return nil
}

func (b *fakeBus) Subscribe(fn func(domain.BridgeMessage)) func() {
	b.mu.Lock()
	b.handlers = append(b.handlers, fn)
	b.mu.Unlock()
	return func() {}
}

func (b *fakeBus) Close() {}

func (b *fakeBus) deliver(msg domain.BridgeMessage) {
	b.mu.Lock()
	fns := append([]func(domain.BridgeMessage){}, b.handlers...)
	b.mu.Unlock()
	for _, fn := range fns {
		fn(msg)
	}
}

func (b *fakeBus) kinds() []domain.BridgeKind {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]domain.BridgeKind, 0, len(b.published))
	for _, m := range b.published {
		out = append(out, m.Kind)
	}
	return out
}

// harness wires an Orchestrator to fakes with a fast retry config.
type harness struct {
	t *testing.T

	orch    *Orchestrator
	sig     *fakeSignal
	devices *fakeDeviceSource
	bus     *fakeBus

	mu          sync.Mutex
	transports  []*fakeTransport
	onTransport func(*fakeTransport)

	states    chan domain.CallState
	failures  chan FailureName
	recovered chan string
}

func testConfig() *config.Config {
	return &config.Config{
		RPCTimeout:       time.Second,
		JoinTimeout:      time.Second,
		MaxJoinAttempts:  5,
		MaxTrackAttempts: 5,
		MaxAudioAttempts: 5,
		RetryInitial:     time.Millisecond,
		RetryMax:         2 * time.Millisecond,
		RetryMultiplier:  1.5,
		RecoveryDelay:    5 * time.Millisecond,
	}
}

func newHarness(t *testing.T) *harness {
	h := &harness{
		t:         t,
		sig:       newFakeSignal(),
		devices:   &fakeDeviceSource{},
		bus:       &fakeBus{},
		states:    make(chan domain.CallState, 32),
		failures:  make(chan FailureName, 8),
		recovered: make(chan string, 8),
	}

	dial := func(roomID domain.RoomID) (core.SignalClient, error) {
		return h.sig, nil
	}
	factory := func(id string, dir core.TransportDirection) (core.MediaTransport, error) {
		ft := newFakeTransport(id, dir)
		h.mu.Lock()
		h.transports = append(h.transports, ft)
		hook := h.onTransport
		h.mu.Unlock()
		if hook != nil {
			hook(ft)
		}
		return ft, nil
	}

	h.orch = New(
		testConfig(),
		domain.Identity{UserID: "u1", Token: "tok"},
		dial,
		h.devices,
		factory,
		[]core.ContextBus{h.bus},
		Callbacks{
			OnState:     func(s domain.CallState) { h.states <- s },
			OnFailure:   func(name FailureName, _ string) { h.failures <- name },
			OnRecovered: func(reason string) { h.recovered <- reason },
		},
	)
	t.Cleanup(h.orch.Close)
	return h
}

func (h *harness) waitState(want domain.CallState) {
	h.t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		select {
		case s := <-h.states:
			if s == want {
				return
			}
		case <-deadline:
			h.t.Fatalf("timed out waiting for state %s", want)
		}
	}
}

func (h *harness) waitFailure(want FailureName) {
	h.t.Helper()
	select {
	case name := <-h.failures:
		require.Equal(h.t, want, name)
	case <-time.After(2 * time.Second):
		h.t.Fatalf("timed out waiting for failure %s", want)
	}
}

func (h *harness) transportByDir(dir core.TransportDirection) *fakeTransport {
	h.mu.Lock()
	defer h.mu.Unlock()
	for i := len(h.transports) - 1; i >= 0; i-- {
		if h.transports[i].dir == dir {
			return h.transports[i]
		}
	}
	return nil
}

func (h *harness) transportCount(dir core.TransportDirection) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	n := 0
	for _, t := range h.transports {
		if t.dir == dir {
			n++
		}
	}
	return n
}
