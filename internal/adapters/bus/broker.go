package bus

import (
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

// DefaultTopic is the shared broadcast channel name every call-capable
// context subscribes to.
const DefaultTopic = "bondhub:call"

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Broker is the broadcast-channel relay: a tiny local websocket fanout
// keyed by topic. Contexts with no opener relationship reach each other
// through it.
type Broker struct {
	mu     sync.RWMutex
	topics map[string]map[*brokerClient]struct{}
}

func NewBroker() *Broker {
	return &Broker{topics: make(map[string]map[*brokerClient]struct{})}
}

// Router builds the gin engine serving the bridge endpoint.
func (b *Broker) Router(mode string) *gin.Engine {
	if mode == "release" {
		gin.SetMode(gin.ReleaseMode)
	}
	r := gin.New()
	if mode == "debug" {
		r.Use(gin.Logger())
	}
	r.Use(gin.Recovery())

	r.GET("/bridge", func(c *gin.Context) {
		topic := c.DefaultQuery("topic", DefaultTopic)
		ws, err := upgrader.Upgrade(c.Writer, c.Request, nil)
		if err != nil {
			log.Error().Err(err).Str("module", "bus.broker").Msg("ws upgrade")
			return
		}
		b.attach(topic, ws)
	})

	return r
}

type brokerClient struct {
	conn *websocket.Conn
	send chan []byte
	once sync.Once
}

func (c *brokerClient) close() {
	c.once.Do(func() {
		close(c.send)
		_ = c.conn.Close()
	})
}

func (b *Broker) attach(topic string, ws *websocket.Conn) {
	client := &brokerClient{conn: ws, send: make(chan []byte, 32)}

	b.mu.Lock()
	if b.topics[topic] == nil {
		b.topics[topic] = make(map[*brokerClient]struct{})
	}
	b.topics[topic][client] = struct{}{}
	b.mu.Unlock()

	log.Info().Str("module", "bus.broker").Str("topic", topic).Msg("context attached")

	go b.writePump(client)
	go b.readPump(topic, client)
}

func (b *Broker) detach(topic string, client *brokerClient) {
	b.mu.Lock()
	if subs, ok := b.topics[topic]; ok {
		delete(subs, client)
		if len(subs) == 0 {
			delete(b.topics, topic)
		}
	}
	b.mu.Unlock()
	client.close()
}

func (b *Broker) readPump(topic string, client *brokerClient) {
	defer b.detach(topic, client)
	for {
		_, data, err := client.conn.ReadMessage()
		if err != nil {
			log.Info().Err(err).Str("module", "bus.broker").Str("topic", topic).Msg("context detached")
			return
		}
		b.fanout(topic, client, data)
	}
}

func (b *Broker) writePump(client *brokerClient) {
	for data := range client.send {
		if err := client.conn.SetWriteDeadline(time.Now().Add(5 * time.Second)); err != nil {
			return
		}
		if err := client.conn.WriteMessage(websocket.TextMessage, data); err != nil {
			return
		}
	}
}

// fanout delivers to every subscriber of the topic except the sender.
func (b *Broker) fanout(topic string, from *brokerClient, data []byte) {
	b.mu.RLock()
	targets := make([]*brokerClient, 0, len(b.topics[topic]))
	for c := range b.topics[topic] {
		if c != from {
			targets = append(targets, c)
		}
	}
	b.mu.RUnlock()

	for _, c := range targets {
		select {
		case c.send <- data:
		default:
			// Slow consumer; the message is a duplicate of a direct-path
			// delivery anyway, dropping is safe.
			log.Warn().Str("module", "bus.broker").Str("topic", topic).Msg("slow context, dropping")
		}
	}
}
