package core

import (
	"sync"

	"github.com/pion/webrtc/v4"

	"github.com/thanhcanhit/bond-hub-call/internal/domain"
)

// RemoteStream is one playable inbound stream, keyed by consumer id.
// Local is a locally constructed track the UI layer can attach to a
// renderer; the session pumps remote RTP into it.
type RemoteStream struct {
	ConsumerID string
	ProducerID string
	UserID     domain.UserID
	Kind       domain.MediaKind
	Local      *webrtc.TrackLocalStaticRTP
}

// StreamRegistry maps consumer id to its playable stream. This is the only
// session state the UI layer reads directly.
type StreamRegistry struct {
	mu       sync.RWMutex
	streams  map[string]RemoteStream
	onChange func()
}

func NewStreamRegistry() *StreamRegistry {
	return &StreamRegistry{streams: make(map[string]RemoteStream)}
}

// OnChange sets a notification hook fired after every mutation.
func (r *StreamRegistry) OnChange(fn func()) {
	r.mu.Lock()
	r.onChange = fn
	r.mu.Unlock()
}

func (r *StreamRegistry) Add(s RemoteStream) {
	r.mu.Lock()
	r.streams[s.ConsumerID] = s
	fn := r.onChange
	r.mu.Unlock()
	if fn != nil {
		fn()
	}
}

func (r *StreamRegistry) Remove(consumerID string) {
	r.mu.Lock()
	_, ok := r.streams[consumerID]
	delete(r.streams, consumerID)
	fn := r.onChange
	r.mu.Unlock()
	if ok && fn != nil {
		fn()
	}
}

func (r *StreamRegistry) Get(consumerID string) (RemoteStream, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.streams[consumerID]
	return s, ok
}

func (r *StreamRegistry) Snapshot() []RemoteStream {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]RemoteStream, 0, len(r.streams))
	for _, s := range r.streams {
		out = append(out, s)
	}
	return out
}

func (r *StreamRegistry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.streams)
}

func (r *StreamRegistry) Clear() {
	r.mu.Lock()
	r.streams = make(map[string]RemoteStream)
	fn := r.onChange
	r.mu.Unlock()
	if fn != nil {
		fn()
	}
}
