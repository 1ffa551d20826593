// Package memory is an in-process broker for tests and single-machine play.
package memory

import (
	"context"
	"sync"

	"github.com/DoyleJ11/impostor-lol/internal/transport"
)

type Bus struct {
	mu        sync.Mutex
	clients   map[*Client]struct{}
	duplicate bool
}

type Option func(*Bus)

// WithDuplicates delivers every publication twice.
func WithDuplicates() Option {
	return func(b *Bus) { b.duplicate = true }
}

func NewBus(opts ...Option) *Bus {
	b := &Bus{clients: make(map[*Client]struct{})}
	for _, o := range opts {
		o(b)
	}
	return b
}

// Client returns a new, not yet connected participant on the bus.
func (b *Bus) Client() *Client {
	c := &Client{
		bus:    b,
		topics: make(map[string]bool),
		out:    make(chan transport.Message),
		wake:   make(chan struct{}, 1),
		done:   make(chan struct{}),
	}
	go c.pump()
	return c
}

func (b *Bus) publish(msg transport.Message) int {
	b.mu.Lock()
	targets := make([]*Client, 0, len(b.clients))
	for c := range b.clients {
		targets = append(targets, c)
	}
	dup := b.duplicate
	b.mu.Unlock()

	n := 0
	for _, c := range targets {
		if c.deliver(msg) {
			n++
			if dup {
				c.deliver(msg)
			}
		}
	}
	return n
}

type Client struct {
	bus *Bus

	mu        sync.Mutex
	connected bool
	closed    bool
	topics    map[string]bool
	queue     []transport.Message

	out  chan transport.Message
	wake chan struct{}
	done chan struct{}
	once sync.Once
}

var _ transport.Transport = (*Client)(nil)

func (c *Client) Connect(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return transport.ErrNotConnected
	}
	c.connected = true
	c.mu.Unlock()

	c.bus.mu.Lock()
	c.bus.clients[c] = struct{}{}
	c.bus.mu.Unlock()
	return nil
}

func (c *Client) Subscribe(_ context.Context, topic string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.connected {
		return transport.ErrNotConnected
	}
	c.topics[topic] = true
	return nil
}

func (c *Client) Publish(_ context.Context, topic string, _ transport.QoS, payload []byte) error {
	if !c.Connected() {
		return transport.ErrNotConnected
	}
	body := make([]byte, len(payload))
	copy(body, payload)
	c.bus.publish(transport.Message{Topic: topic, Payload: body})
	return nil
}

func (c *Client) Messages() <-chan transport.Message { return c.out }

func (c *Client) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connected
}

// Disconnect drops the client off the bus without closing its message
// stream, like a network partition.
func (c *Client) Disconnect() {
	c.mu.Lock()
	c.connected = false
	c.mu.Unlock()
}

func (c *Client) Close() error {
	c.once.Do(func() {
		c.mu.Lock()
		c.connected = false
		c.closed = true
		c.mu.Unlock()

		c.bus.mu.Lock()
		delete(c.bus.clients, c)
		c.bus.mu.Unlock()

		close(c.done)
	})
	return nil
}

func (c *Client) deliver(msg transport.Message) bool {
	c.mu.Lock()
	if !c.connected || !c.topics[msg.Topic] {
		c.mu.Unlock()
		return false
	}
	c.queue = append(c.queue, msg)
	c.mu.Unlock()

	select {
	case c.wake <- struct{}{}:
	default:
	}
	return true
}

// pump moves queued messages to the consumer so publishers never block on a
// slow reader.
func (c *Client) pump() {
	defer close(c.out)
	for {
		c.mu.Lock()
		var next *transport.Message
		if len(c.queue) > 0 {
			m := c.queue[0]
			c.queue = c.queue[1:]
			next = &m
		}
		c.mu.Unlock()

		if next == nil {
			select {
			case <-c.wake:
				continue
			case <-c.done:
				return
			}
		}

		select {
		case c.out <- *next:
		case <-c.done:
			return
		}
	}
}
