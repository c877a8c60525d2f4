package app

import (
	"context"
	"sync"

	"github.com/pion/webrtc/v4"

	"github.com/thanhcanhit/bond-hub-call/internal/core"
	"github.com/thanhcanhit/bond-hub-call/internal/domain"
)

// Negotiator holds the router capabilities of one session. Loaded once,
// immutable afterwards; a second load is reported so a re-entrant join can
// keep the existing instance.
type Negotiator struct {
	mu   sync.Mutex
	caps *core.RouterCapabilities
}

func NewNegotiator() *Negotiator {
	return &Negotiator{}
}

func (n *Negotiator) Load(caps core.RouterCapabilities) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.caps != nil {
		return ErrCapsAlreadyLoaded
	}
	n.caps = &caps
	return nil
}

func (n *Negotiator) Loaded() bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.caps != nil
}

// drop clears the loaded capabilities. Only teardown may call it.
func (n *Negotiator) drop() {
	n.mu.Lock()
	n.caps = nil
	n.mu.Unlock()
}

func (n *Negotiator) ForKind(kind domain.MediaKind) (webrtc.RTPCodecCapability, bool) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.caps == nil {
		return webrtc.RTPCodecCapability{}, false
	}
	return n.caps.ForKind(kind)
}

// negotiationQueue serializes every operation that touches the media
// transports: connects, produces and consumes never overlap. Abort drains
// the queue permanently; queued and future operations fail with
// ErrNegotiationAborted instead of running against torn-down transports.
type negotiationQueue struct {
	slot  chan struct{}
	abort chan struct{}
	once  sync.Once
}

func newNegotiationQueue() *negotiationQueue {
	return &negotiationQueue{
		slot:  make(chan struct{}, 1),
		abort: make(chan struct{}),
	}
}

func (q *negotiationQueue) Do(ctx context.Context, fn func(context.Context) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	select {
	case <-q.abort:
		return ErrNegotiationAborted
	case <-ctx.Done():
		return ctx.Err()
	case q.slot <- struct{}{}:
	}
	defer func() { <-q.slot }()

	select {
	case <-q.abort:
		return ErrNegotiationAborted
	default:
	}
	return fn(ctx)
}

// Abort flips the queue into its terminal state. Idempotent.
func (q *negotiationQueue) Abort() {
	q.once.Do(func() { close(q.abort) })
}

func (q *negotiationQueue) Aborted() bool {
	select {
	case <-q.abort:
		return true
	default:
		return false
	}
}
