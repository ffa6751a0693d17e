package mqtt

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/rs/zerolog/log"
)

type ClientOptions struct {
	Broker    string
	ClientID  string
	Username  string
	Password  string
	Clean     bool
	KeepAlive int
	// Quiesce is how long Disconnect waits for in-flight work, in milliseconds.
	Quiesce uint
}

// Client wraps a paho client. Subscriptions are remembered and replayed on
// every (re)connect, so the broker session does not need to be persistent.
type Client struct {
	c       mqtt.Client
	opts    *mqtt.ClientOptions
	quiesce uint
	mu      sync.RWMutex
	subs    []subscription
}

type subscription struct {
	topic   string
	qos     byte
	handler Handler
}

// Handler receives one inbound message. It runs on paho's router goroutine.
type Handler func(topic string, payload []byte)

func normalizeBroker(broker string) string {
	if !strings.Contains(broker, "://") {
		return "tcp://" + broker
	}
	return broker
}

func NewClient(o ClientOptions) (*Client, error) {
	if o.Broker == "" {
		return nil, errors.New("broker required")
	}
	broker := normalizeBroker(o.Broker)
	opts := mqtt.NewClientOptions().AddBroker(broker)
	opts.SetClientID(o.ClientID)
	if o.Username != "" {
		opts.SetUsername(o.Username)
	}
	if o.Password != "" {
		opts.SetPassword(o.Password)
	}
	opts.SetCleanSession(o.Clean)
	if o.KeepAlive <= 0 {
		o.KeepAlive = 60
	}
	opts.SetKeepAlive(time.Duration(o.KeepAlive) * time.Second)
	if o.Quiesce == 0 {
		o.Quiesce = 250
	}

	cl := &Client{opts: opts, quiesce: o.Quiesce}

	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetOnConnectHandler(func(mc mqtt.Client) {
		log.Info().Str("broker", broker).Str("client_id", o.ClientID).Msg("mqtt connected")
		cl.resubscribeAll(mc)
	})
	opts.SetConnectionLostHandler(func(mc mqtt.Client, err error) {
		log.Warn().Err(err).Str("broker", broker).Str("client_id", o.ClientID).Msg("mqtt connection lost; will auto-reconnect")
	})

	cl.c = mqtt.NewClient(opts)
	return cl, nil
}

func wait(ctx context.Context, t mqtt.Token) error {
	for {
		if t.WaitTimeout(100 * time.Millisecond) {
			return t.Error()
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
	}
}

// Connect starts paho's background network loop and blocks until the first
// connection succeeds or ctx is done.
func (c *Client) Connect(ctx context.Context) error {
	return wait(ctx, c.c.Connect())
}

// Disconnect stops the background loop and closes the connection.
func (c *Client) Disconnect() error {
	if c.c == nil {
		return nil
	}
	wasOpen := c.c.IsConnectionOpen()
	// Disconnect also stops a pending auto-reconnect.
	c.c.Disconnect(c.quiesce)
	if !wasOpen {
		return errors.New("mqtt connection was not open")
	}
	return nil
}

// Subscribe registers handler for topic. The subscription is re-established
// on every reconnect.
func (c *Client) Subscribe(ctx context.Context, topic string, qos byte, handler Handler) error {
	s := subscription{topic: topic, qos: qos, handler: handler}
	c.mu.Lock()
	c.subs = append(c.subs, s)
	c.mu.Unlock()
	log.Info().Str("topic", topic).Uint8("qos", qos).Msg("mqtt subscribe request")

	if err := wait(ctx, c.c.Subscribe(topic, qos, s.callback)); err != nil {
		log.Error().Err(err).Str("topic", topic).Uint8("qos", qos).Msg("mqtt subscribe failed")
		return err
	}
	log.Info().Str("topic", topic).Uint8("qos", qos).Msg("mqtt subscribe acknowledged")
	return nil
}

func (c *Client) Publish(ctx context.Context, topic string, qos byte, retain bool, payload []byte) error {
	return wait(ctx, c.c.Publish(topic, qos, retain, payload))
}

func (s subscription) callback(_ mqtt.Client, m mqtt.Message) {
	defer func() {
		if r := recover(); r != nil {
			log.Error().Interface("panic", r).Str("topic", m.Topic()).Msg("mqtt handler panicked; message dropped")
		}
	}()
	s.handler(m.Topic(), m.Payload())
}

func (c *Client) resubscribeAll(mc mqtt.Client) {
	c.mu.RLock()
	subs := make([]subscription, len(c.subs))
	copy(subs, c.subs)
	c.mu.RUnlock()
	if len(subs) == 0 {
		return
	}
	log.Info().Int("count", len(subs)).Msg("mqtt resubscribe start")
	for _, s := range subs {
		token := mc.Subscribe(s.topic, s.qos, s.callback)
		if !token.WaitTimeout(5 * time.Second) {
			log.Warn().Str("topic", s.topic).Uint8("qos", s.qos).Msg("mqtt resubscribe timeout; will retry on next reconnect")
			continue
		}
		if err := token.Error(); err != nil {
			log.Error().Err(err).Str("topic", s.topic).Uint8("qos", s.qos).Msg("mqtt resubscribe failed")
			continue
		}
		log.Info().Str("topic", s.topic).Uint8("qos", s.qos).Msg("mqtt resubscribed")
	}
}
