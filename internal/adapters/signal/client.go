// Package signal implements the room signaling client: JSON-RPC 2.0 over
// a single websocket connection per call room.
package signal

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/gorilla/websocket"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"
	"github.com/sourcegraph/jsonrpc2"
	wsstream "github.com/sourcegraph/jsonrpc2/websocket"

	"github.com/thanhcanhit/bond-hub-call/internal/config"
	"github.com/thanhcanhit/bond-hub-call/internal/core"
	"github.com/thanhcanhit/bond-hub-call/internal/domain"
)

var ErrNotConnected = errors.New("signal: not connected")

// Client is one logical signaling connection for one call room.
//
// RPCs are wrapped with per-operation timeouts. Lost connections are
// re-dialed with exponential backoff; the room is never rejoined
// automatically — the session layer owns that decision.
type Client struct {
	endpoint    string
	identity    domain.Identity
	roomID      domain.RoomID
	rpcTimeout  time.Duration
	joinTimeout time.Duration

	mu     sync.Mutex
	conn   *jsonrpc2.Conn
	closed bool

	events chan domain.Event
}

// Dialer returns a core.SignalDialer bound to the configured endpoint and
// identity.
func Dialer(cfg *config.Config, id domain.Identity) core.SignalDialer {
	return func(roomID domain.RoomID) (core.SignalClient, error) {
		if roomID == "" {
			return nil, domain.ErrEmptyRoomID
		}
		return NewClient(cfg, id, roomID), nil
	}
}

func NewClient(cfg *config.Config, id domain.Identity, roomID domain.RoomID) *Client {
	return &Client{
		endpoint:    cfg.SignalURL,
		identity:    id,
		roomID:      roomID,
		rpcTimeout:  cfg.RPCTimeout,
		joinTimeout: cfg.JoinTimeout,
		events:      make(chan domain.Event, 64),
	}
}

// Connect dials the signaling endpoint. Reused if already connected.
func (c *Client) Connect(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrNotConnected
	}
	if c.conn != nil {
		return nil
	}
	conn, err := c.dial(ctx)
	if err != nil {
		return err
	}
	c.conn = conn
	go c.watch(conn)
	return nil
}

func (c *Client) dial(ctx context.Context) (*jsonrpc2.Conn, error) {
	u, err := url.Parse(c.endpoint)
	if err != nil {
		return nil, fmt.Errorf("signal: bad endpoint: %w", err)
	}
	q := u.Query()
	q.Set("roomId", string(c.roomID))
	q.Set("userId", string(c.identity.UserID))
	u.RawQuery = q.Encode()

	header := http.Header{}
	header.Set("Authorization", "Bearer "+c.identity.Token)

	ws, _, err := websocket.DefaultDialer.DialContext(ctx, u.String(), header)
	if err != nil {
		return nil, fmt.Errorf("signal: dial: %w", err)
	}

	log.Info().
		Str("module", "signal").
		Str("room", string(c.roomID)).
		Msg("connected to signaling endpoint")

	stream := wsstream.NewObjectStream(ws)
	handler := jsonrpc2.AsyncHandler(jsonrpc2.HandlerWithError(c.handleNotification))
	return jsonrpc2.NewConn(context.Background(), stream, handler), nil
}

// watch re-dials after a disconnect until Close is called. The room is not
// rejoined here.
func (c *Client) watch(conn *jsonrpc2.Conn) {
	<-conn.DisconnectNotify()

	c.mu.Lock()
	if c.closed || c.conn != conn {
		c.mu.Unlock()
		return
	}
	c.conn = nil
	c.mu.Unlock()

	log.Warn().Str("module", "signal").Str("room", string(c.roomID)).Msg("signaling connection lost")
	c.emit(domain.ConnectionError{Reason: "signaling connection lost"})

	ebo := backoff.NewExponentialBackOff()
	ebo.InitialInterval = 500 * time.Millisecond
	ebo.MaxInterval = 10 * time.Second
	ebo.MaxElapsedTime = 0 // keep trying until Close

	op := func() error {
		c.mu.Lock()
		if c.closed {
			c.mu.Unlock()
			return backoff.Permanent(ErrNotConnected)
		}
		c.mu.Unlock()

		ctx, cancel := context.WithTimeout(context.Background(), c.rpcTimeout)
		defer cancel()
		next, err := c.dial(ctx)
		if err != nil {
			return err
		}

		c.mu.Lock()
		if c.closed {
			c.mu.Unlock()
			_ = next.Close()
			return backoff.Permanent(ErrNotConnected)
		}
		c.conn = next
		c.mu.Unlock()
		go c.watch(next)
		return nil
	}

	if err := backoff.Retry(op, ebo); err != nil {
		log.Error().Err(err).Str("module", "signal").Msg("reconnect abandoned")
	}
}

func (c *Client) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn != nil && !c.closed
}

func (c *Client) Events() <-chan domain.Event { return c.events }

func (c *Client) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	conn := c.conn
	c.conn = nil
	c.mu.Unlock()

	if conn != nil {
		_ = conn.Close()
	}
	log.Info().Str("module", "signal").Str("room", string(c.roomID)).Msg("signal client closed")
}

// call wraps one RPC with a timeout so no caller can hang forever.
func (c *Client) call(ctx context.Context, method string, params, result any, timeout time.Duration) error {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		return ErrNotConnected
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	if err := conn.Call(ctx, method, params, result); err != nil {
		return fmt.Errorf("signal: %s: %w", method, err)
	}
	return nil
}

func (c *Client) JoinRoom(ctx context.Context, req core.JoinRoomRequest) (core.JoinRoomReply, error) {
	var reply core.JoinRoomReply
	err := c.call(ctx, "joinRoom", req, &reply, c.joinTimeout)
	return reply, err
}

func (c *Client) CreateTransport(ctx context.Context, roomID domain.RoomID, dir core.TransportDirection) (core.TransportInfo, error) {
	params := struct {
		RoomID    domain.RoomID          `json:"roomId"`
		Direction core.TransportDirection `json:"direction"`
	}{roomID, dir}
	var info core.TransportInfo
	err := c.call(ctx, "createTransport", params, &info, c.rpcTimeout)
	return info, err
}

func (c *Client) ConnectTransport(ctx context.Context, transportID string, offer webrtc.SessionDescription) (webrtc.SessionDescription, error) {
	params := struct {
		TransportID string                    `json:"transportId"`
		Offer       webrtc.SessionDescription `json:"offer"`
	}{transportID, offer}
	var answer webrtc.SessionDescription
	err := c.call(ctx, "connectTransport", params, &answer, c.joinTimeout)
	return answer, err
}

func (c *Client) Produce(ctx context.Context, req core.ProduceRequest) (core.ProducerInfo, error) {
	var info core.ProducerInfo
	err := c.call(ctx, "produce", req, &info, c.rpcTimeout)
	return info, err
}

// GetProducers is non-critical to continuing the call: a timeout resolves
// to an empty list instead of failing the join.
func (c *Client) GetProducers(ctx context.Context, roomID domain.RoomID) ([]core.ProducerInfo, error) {
	params := struct {
		RoomID domain.RoomID `json:"roomId"`
	}{roomID}
	var producers []core.ProducerInfo
	err := c.call(ctx, "getProducers", params, &producers, c.rpcTimeout)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			log.Warn().Str("module", "signal").Str("room", string(roomID)).Msg("getProducers timed out, assuming none")
			return nil, nil
		}
		return nil, err
	}
	return producers, nil
}

func (c *Client) ResumeConsumer(ctx context.Context, consumerID string) error {
	params := struct {
		ConsumerID string `json:"consumerId"`
	}{consumerID}
	var ack struct{}
	return c.call(ctx, "resumeConsumer", params, &ack, c.rpcTimeout)
}

func (c *Client) FinishJoining(ctx context.Context, roomID domain.RoomID) error {
	params := struct {
		RoomID domain.RoomID `json:"roomId"`
	}{roomID}
	var ack struct{}
	return c.call(ctx, "finishJoining", params, &ack, c.rpcTimeout)
}

func (c *Client) LeaveRoom(ctx context.Context, roomID domain.RoomID) error {
	params := struct {
		RoomID domain.RoomID `json:"roomId"`
	}{roomID}
	var ack struct{}
	return c.call(ctx, "leaveRoom", params, &ack, c.rpcTimeout)
}

// emit never blocks; the channel is buffered and consumers tolerate loss
// of duplicates (delivery is at-least-once end to end, the server resends
// state on rejoin).
func (c *Client) emit(ev domain.Event) {
	select {
	case c.events <- ev:
	default:
		log.Warn().Str("module", "signal").Msg("event channel full, dropping")
	}
}
