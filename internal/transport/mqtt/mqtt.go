// Package mqtt adapts an MQTT broker to the transport boundary.
package mqtt

import (
	"context"
	"fmt"
	"sync"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
	"go.uber.org/zap"

	"github.com/DoyleJ11/impostor-lol/internal/transport"
)

type Options struct {
	BrokerURL      string
	ClientID       string
	ConnectTimeout time.Duration
	ReconnectEvery time.Duration
	Buffer         int
	Logger         *zap.Logger
}

type Adapter struct {
	opts   Options
	log    *zap.Logger
	client paho.Client

	mu     sync.Mutex
	topics map[string]transport.QoS
	closed bool

	out chan transport.Message
}

var _ transport.Transport = (*Adapter)(nil)

func New(opts Options) *Adapter {
	if opts.ConnectTimeout <= 0 {
		opts.ConnectTimeout = 30 * time.Second
	}
	if opts.ReconnectEvery <= 0 {
		opts.ReconnectEvery = time.Second
	}
	if opts.Buffer <= 0 {
		opts.Buffer = 256
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}

	a := &Adapter{
		opts:   opts,
		log:    opts.Logger.Named("mqtt"),
		topics: make(map[string]transport.QoS),
		out:    make(chan transport.Message, opts.Buffer),
	}
	a.client = paho.NewClient(a.clientOptions())
	return a
}

func (a *Adapter) clientOptions() *paho.ClientOptions {
	return paho.NewClientOptions().
		AddBroker(a.opts.BrokerURL).
		SetClientID(a.opts.ClientID).
		SetCleanSession(true).
		SetConnectTimeout(a.opts.ConnectTimeout).
		SetAutoReconnect(true).
		SetMaxReconnectInterval(a.opts.ReconnectEvery).
		SetOrderMatters(false).
		SetOnConnectHandler(a.onConnect).
		SetConnectionLostHandler(func(_ paho.Client, err error) {
			a.log.Warn("connection lost", zap.Error(err))
		})
}

func (a *Adapter) Connect(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, a.opts.ConnectTimeout)
	defer cancel()

	tok := a.client.Connect()
	select {
	case <-tok.Done():
		if err := tok.Error(); err != nil {
			return fmt.Errorf("mqtt connect %s: %w", a.opts.BrokerURL, err)
		}
		a.log.Info("connected", zap.String("broker", a.opts.BrokerURL), zap.String("client", a.opts.ClientID))
		return nil
	case <-ctx.Done():
		if ctx.Err() == context.DeadlineExceeded {
			return fmt.Errorf("mqtt connect %s: %w", a.opts.BrokerURL, transport.ErrConnectTimeout)
		}
		return ctx.Err()
	}
}

// onConnect restores subscriptions; the session is clean so the broker forgets
// them on every reconnect.
func (a *Adapter) onConnect(c paho.Client) {
	a.mu.Lock()
	topics := make(map[string]transport.QoS, len(a.topics))
	for t, q := range a.topics {
		topics[t] = q
	}
	a.mu.Unlock()

	for topic, qos := range topics {
		tok := c.Subscribe(topic, byte(qos), a.onMessage)
		go func(topic string) {
			<-tok.Done()
			if err := tok.Error(); err != nil {
				a.log.Error("resubscribe failed", zap.String("topic", topic), zap.Error(err))
			}
		}(topic)
	}
}

func (a *Adapter) onMessage(_ paho.Client, m paho.Message) {
	a.mu.Lock()
	closed := a.closed
	a.mu.Unlock()
	if closed {
		return
	}

	msg := transport.Message{Topic: m.Topic(), Payload: m.Payload()}
	select {
	case a.out <- msg:
	default:
		a.log.Warn("inbound buffer full, dropping message", zap.String("topic", m.Topic()))
	}
}

func (a *Adapter) Subscribe(ctx context.Context, topic string) error {
	if !a.client.IsConnected() {
		return transport.ErrNotConnected
	}
	a.mu.Lock()
	a.topics[topic] = transport.AtLeastOnce
	a.mu.Unlock()

	return a.wait(ctx, "subscribe "+topic, a.client.Subscribe(topic, byte(transport.AtLeastOnce), a.onMessage))
}

func (a *Adapter) Publish(ctx context.Context, topic string, qos transport.QoS, payload []byte) error {
	if !a.client.IsConnectionOpen() {
		return transport.ErrNotConnected
	}
	return a.wait(ctx, "publish "+topic, a.client.Publish(topic, byte(qos), false, payload))
}

func (a *Adapter) wait(ctx context.Context, op string, tok paho.Token) error {
	select {
	case <-tok.Done():
		if err := tok.Error(); err != nil {
			return fmt.Errorf("mqtt %s: %w", op, err)
		}
		return nil
	case <-ctx.Done():
		return fmt.Errorf("mqtt %s: %w", op, ctx.Err())
	}
}

func (a *Adapter) Messages() <-chan transport.Message { return a.out }

func (a *Adapter) Connected() bool { return a.client.IsConnectionOpen() }

func (a *Adapter) Close() error {
	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		return nil
	}
	a.closed = true
	a.mu.Unlock()

	a.client.Disconnect(250)
	close(a.out)
	return nil
}
