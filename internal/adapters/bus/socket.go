package bus

import (
	"context"
	"encoding/json"
	"errors"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/thanhcanhit/bond-hub-call/internal/core"
	"github.com/thanhcanhit/bond-hub-call/internal/domain"
)

var ErrBackpressure = errors.New("bus: backpressure")

// Socket is a websocket-backed bus endpoint. With a broker URL and the
// shared topic it is the broadcast channel; pointed at a topic scoped to
// one call it behaves as the direct window-to-window link.
type Socket struct {
	conn *websocket.Conn

	mu       sync.Mutex
	handlers map[int]func(domain.BridgeMessage)
	next     int
	closed   bool

	send chan []byte
	once sync.Once
}

var _ core.ContextBus = (*Socket)(nil)

// DialBroadcast attaches to the shared broadcast topic on the broker.
func DialBroadcast(ctx context.Context, brokerURL string) (*Socket, error) {
	return dial(ctx, brokerURL, DefaultTopic)
}

// DialDirect attaches to a call-scoped topic, the analog of direct
// messaging between a window and its opener.
func DialDirect(ctx context.Context, brokerURL string, callID domain.CallID) (*Socket, error) {
	return dial(ctx, brokerURL, "direct:"+string(callID))
}

func dial(ctx context.Context, brokerURL, topic string) (*Socket, error) {
	u, err := url.Parse(brokerURL)
	if err != nil {
		return nil, err
	}
	q := u.Query()
	q.Set("topic", topic)
	u.RawQuery = q.Encode()

	ws, _, err := websocket.DefaultDialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		return nil, err
	}

	s := &Socket{
		conn:     ws,
		handlers: make(map[int]func(domain.BridgeMessage)),
		send:     make(chan []byte, 32),
	}
	go s.writePump()
	go s.readPump()

	log.Info().Str("module", "bus").Str("topic", topic).Msg("bus socket attached")
	return s, nil
}

func (s *Socket) Publish(msg domain.BridgeMessage) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	s.mu.Lock()
	closed := s.closed
	s.mu.Unlock()
	if closed {
		return nil
	}
	select {
	case s.send <- data:
		return nil
	default:
		return ErrBackpressure
	}
}

func (s *Socket) Subscribe(fn func(domain.BridgeMessage)) func() {
	s.mu.Lock()
	id := s.next
	s.next++
	s.handlers[id] = fn
	s.mu.Unlock()
	return func() {
		s.mu.Lock()
		delete(s.handlers, id)
		s.mu.Unlock()
	}
}

func (s *Socket) Close() {
	s.once.Do(func() {
		s.mu.Lock()
		s.closed = true
		s.mu.Unlock()
		close(s.send)
		_ = s.conn.Close()
	})
}

func (s *Socket) writePump() {
	for data := range s.send {
		if err := s.conn.SetWriteDeadline(time.Now().Add(5 * time.Second)); err != nil {
			return
		}
		if err := s.conn.WriteMessage(websocket.TextMessage, data); err != nil {
			log.Error().Err(err).Str("module", "bus").Msg("writePump write error")
			return
		}
	}
}

func (s *Socket) readPump() {
	defer s.Close()
	for {
		_, data, err := s.conn.ReadMessage()
		if err != nil {
			return
		}
		var msg domain.BridgeMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			log.Error().Err(err).Str("module", "bus").Msg("bad bridge payload")
			continue
		}
		s.mu.Lock()
		fns := make([]func(domain.BridgeMessage), 0, len(s.handlers))
		for _, fn := range s.handlers {
			fns = append(fns, fn)
		}
		s.mu.Unlock()
		for _, fn := range fns {
			fn(msg)
		}
	}
}
