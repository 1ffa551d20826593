// Package relay connects to the impostor relay server over a websocket.
package relay

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"go.uber.org/zap"

	"github.com/DoyleJ11/impostor-lol/internal/frame"
	"github.com/DoyleJ11/impostor-lol/internal/transport"
)

type Options struct {
	URL            string // ws://host:port/ws
	ConnectTimeout time.Duration
	ReconnectEvery time.Duration
	WriteTimeout   time.Duration
	Buffer         int
	Logger         *zap.Logger
}

type Client struct {
	opts Options
	log  *zap.Logger

	mu      sync.Mutex
	conn    *websocket.Conn
	topics  map[string]struct{}
	started bool
	closed  bool

	connected atomic.Bool
	out       chan transport.Message
	done      chan struct{}
	ctx       context.Context
	cancel    context.CancelFunc
}

var _ transport.Transport = (*Client)(nil)

func New(opts Options) *Client {
	if opts.ConnectTimeout <= 0 {
		opts.ConnectTimeout = 30 * time.Second
	}
	if opts.ReconnectEvery <= 0 {
		opts.ReconnectEvery = time.Second
	}
	if opts.WriteTimeout <= 0 {
		opts.WriteTimeout = 5 * time.Second
	}
	if opts.Buffer <= 0 {
		opts.Buffer = 256
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Client{
		opts:   opts,
		log:    opts.Logger.Named("relay"),
		topics: make(map[string]struct{}),
		out:    make(chan transport.Message, opts.Buffer),
		done:   make(chan struct{}),
		ctx:    ctx,
		cancel: cancel,
	}
}

func (c *Client) Connect(ctx context.Context) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return transport.ErrNotConnected
	}
	if c.started {
		c.mu.Unlock()
		return nil
	}
	c.mu.Unlock()

	conn, err := c.dial(ctx)
	if err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed || c.started {
		conn.Close(websocket.StatusNormalClosure, "bye")
		if c.closed {
			return transport.ErrNotConnected
		}
		return nil
	}
	c.started = true
	c.conn = conn
	c.connected.Store(true)
	c.log.Info("connected", zap.String("url", c.opts.URL))
	go c.run(conn)
	return nil
}

func (c *Client) dial(ctx context.Context) (*websocket.Conn, error) {
	ctx, cancel := context.WithTimeout(ctx, c.opts.ConnectTimeout)
	defer cancel()

	conn, _, err := websocket.Dial(ctx, c.opts.URL, nil)
	if err != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, fmt.Errorf("relay dial %s: %w", c.opts.URL, transport.ErrConnectTimeout)
		}
		return nil, fmt.Errorf("relay dial %s: %w", c.opts.URL, err)
	}
	return conn, nil
}

// run reads until the connection fails, then redials and restores
// subscriptions until the client is closed.
func (c *Client) run(conn *websocket.Conn) {
	defer close(c.done)
	for {
		err := c.read(conn)
		c.connected.Store(false)
		if c.ctx.Err() != nil {
			return
		}
		c.log.Warn("connection lost", zap.Error(err))

		if conn = c.redial(); conn == nil {
			return
		}
	}
}

func (c *Client) read(conn *websocket.Conn) error {
	for {
		var f frame.Frame
		if err := wsjson.Read(c.ctx, conn, &f); err != nil {
			return err
		}
		switch f.Op {
		case frame.OpMsg:
			select {
			case c.out <- transport.Message{Topic: f.Topic, Payload: f.Payload}:
			case <-c.ctx.Done():
				return c.ctx.Err()
			}
		case frame.OpErr:
			c.log.Warn("relay error", zap.String("topic", f.Topic), zap.String("error", f.Error))
		}
	}
}

func (c *Client) redial() *websocket.Conn {
	t := time.NewTicker(c.opts.ReconnectEvery)
	defer t.Stop()
	for {
		select {
		case <-c.ctx.Done():
			return nil
		case <-t.C:
		}

		conn, err := c.dial(c.ctx)
		if err != nil {
			c.log.Debug("redial failed", zap.Error(err))
			continue
		}

		c.mu.Lock()
		c.conn = conn
		topics := make([]string, 0, len(c.topics))
		for topic := range c.topics {
			topics = append(topics, topic)
		}
		c.mu.Unlock()

		ok := true
		for _, topic := range topics {
			if err := c.write(c.ctx, conn, frame.Sub(topic)); err != nil {
				c.log.Debug("resubscribe failed", zap.String("topic", topic), zap.Error(err))
				ok = false
				break
			}
		}
		if !ok {
			conn.Close(websocket.StatusGoingAway, "resubscribe failed")
			continue
		}
		c.connected.Store(true)
		c.log.Info("reconnected", zap.Int("topics", len(topics)))
		return conn
	}
}

func (c *Client) write(ctx context.Context, conn *websocket.Conn, f frame.Frame) error {
	ctx, cancel := context.WithTimeout(ctx, c.opts.WriteTimeout)
	defer cancel()
	return wsjson.Write(ctx, conn, f)
}

func (c *Client) current() (*websocket.Conn, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed || c.conn == nil || !c.connected.Load() {
		return nil, transport.ErrNotConnected
	}
	return c.conn, nil
}

func (c *Client) Subscribe(ctx context.Context, topic string) error {
	conn, err := c.current()
	if err != nil {
		return err
	}
	c.mu.Lock()
	c.topics[topic] = struct{}{}
	c.mu.Unlock()

	if err := c.write(ctx, conn, frame.Sub(topic)); err != nil {
		return fmt.Errorf("relay subscribe %s: %w", topic, err)
	}
	return nil
}

func (c *Client) Publish(ctx context.Context, topic string, qos transport.QoS, payload []byte) error {
	conn, err := c.current()
	if err != nil {
		return err
	}
	if err := c.write(ctx, conn, frame.Pub(topic, int(qos), payload)); err != nil {
		return fmt.Errorf("relay publish %s: %w", topic, err)
	}
	return nil
}

func (c *Client) Messages() <-chan transport.Message { return c.out }

func (c *Client) Connected() bool { return c.connected.Load() }

func (c *Client) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	started := c.started
	conn := c.conn
	c.mu.Unlock()

	c.cancel()
	if conn != nil {
		_ = conn.Close(websocket.StatusNormalClosure, "bye")
	}
	if started {
		<-c.done
	}
	close(c.out)
	c.connected.Store(false)
	return nil
}
