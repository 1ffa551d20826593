// Package ws serves relay clients over websocket connections.
package ws

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/DoyleJ11/impostor-lol/internal/frame"
	"github.com/DoyleJ11/impostor-lol/internal/hub"
	"github.com/DoyleJ11/impostor-lol/internal/journal"
	"github.com/DoyleJ11/impostor-lol/internal/wire"
)

type Options struct {
	Outbox         int // frames buffered per connection
	PingInterval   time.Duration
	WriteTimeout   time.Duration
	OriginPatterns []string
	Journal        journal.Journal
	Logger         *zap.Logger
}

func (o *Options) defaults() {
	if o.Outbox <= 0 {
		o.Outbox = 64
	}
	if o.PingInterval <= 0 {
		o.PingInterval = 20 * time.Second
	}
	if o.WriteTimeout <= 0 {
		o.WriteTimeout = 3 * time.Second
	}
	if o.Journal == nil {
		o.Journal = journal.Nop{}
	}
	if o.Logger == nil {
		o.Logger = zap.NewNop()
	}
}

func Handler(h *hub.Hub, opts Options) http.HandlerFunc {
	opts.defaults()
	log := opts.Logger.Named("ws")

	return func(w http.ResponseWriter, r *http.Request) {
		conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
			OriginPatterns: opts.OriginPatterns,
		})
		if err != nil {
			log.Debug("accept failed", zap.Error(err))
			return
		}
		defer conn.Close(websocket.StatusNormalClosure, "bye")

		ctx, cancel := context.WithCancel(r.Context())
		defer cancel()

		c := &client{
			id:     uuid.NewString(),
			conn:   conn,
			hub:    h,
			opts:   opts,
			send:   make(chan frame.Frame, opts.Outbox),
			subs:   make(map[string]*subscription),
			cancel: cancel,
		}
		c.log = log.With(zap.String("client", c.id))
		c.log.Debug("connected", zap.String("remote", r.RemoteAddr))

		go c.writeLoop(ctx)
		c.readLoop(ctx)
		c.leaveAll()
		c.log.Debug("disconnected")
	}
}

type subscription struct {
	outbox  chan hub.Delivery
	leaving atomic.Bool
}

type client struct {
	id     string
	conn   *websocket.Conn
	hub    *hub.Hub
	opts   Options
	log    *zap.Logger
	send   chan frame.Frame
	subs   map[string]*subscription // owned by the read loop
	cancel context.CancelFunc
}

func (c *client) writeLoop(ctx context.Context) {
	ping := time.NewTicker(c.opts.PingInterval)
	defer ping.Stop()

	for {
		select {
		case <-ctx.Done():
			return

		case f := <-c.send:
			wctx, cancel := context.WithTimeout(ctx, c.opts.WriteTimeout)
			err := wsjson.Write(wctx, c.conn, f)
			cancel()
			if err != nil {
				c.log.Debug("write failed", zap.Error(err))
				c.cancel()
				return
			}

		case <-ping.C:
			pctx, cancel := context.WithTimeout(ctx, c.opts.WriteTimeout)
			err := c.conn.Ping(pctx)
			cancel()
			if err != nil {
				c.log.Debug("ping failed", zap.Error(err))
				c.cancel()
				return
			}
		}
	}
}

func (c *client) readLoop(ctx context.Context) {
	for {
		_, data, err := c.conn.Read(ctx)
		if err != nil {
			switch websocket.CloseStatus(err) {
			case websocket.StatusNormalClosure, websocket.StatusGoingAway:
			default:
				if ctx.Err() == nil {
					c.log.Debug("read failed", zap.Error(err))
				}
			}
			return
		}

		var f frame.Frame
		if err := json.Unmarshal(data, &f); err != nil {
			c.reply(frame.Err("", "bad json"))
			continue
		}
		if err := f.Validate(); err != nil {
			c.reply(frame.Err(f.Topic, err.Error()))
			continue
		}

		switch f.Op {
		case frame.OpSub:
			c.subscribe(ctx, f.Topic)
		case frame.OpUnsub:
			c.unsubscribe(ctx, f.Topic)
		case frame.OpPub:
			c.publish(ctx, f)
		}
	}
}

func (c *client) reply(f frame.Frame) {
	select {
	case c.send <- f:
	default:
		c.drop("outbox full")
	}
}

// drop closes a connection that cannot keep up.
func (c *client) drop(reason string) {
	c.log.Warn("dropping client", zap.String("reason", reason))
	c.conn.Close(websocket.StatusPolicyViolation, reason)
	c.cancel()
}

func (c *client) subscribe(ctx context.Context, topic string) {
	if _, ok := c.subs[topic]; ok {
		return
	}
	sub := &subscription{outbox: make(chan hub.Delivery, c.opts.Outbox)}
	if _, err := c.hub.Subscribe(ctx, topic, c.id, sub.outbox); err != nil {
		c.reply(frame.Err(topic, "subscribe failed"))
		return
	}
	c.subs[topic] = sub
	go c.forward(ctx, sub)
}

func (c *client) forward(ctx context.Context, sub *subscription) {
	for d := range sub.outbox {
		select {
		case c.send <- frame.Msg(d.Topic, d.Payload):
		default:
			c.drop("outbox full")
			return
		}
	}
	// The topic closed our outbox without being asked to.
	if !sub.leaving.Load() && ctx.Err() == nil {
		c.drop("too slow")
	}
}

func (c *client) unsubscribe(ctx context.Context, topic string) {
	sub, ok := c.subs[topic]
	if !ok {
		return
	}
	delete(c.subs, topic)
	sub.leaving.Store(true)
	c.leave(ctx, topic)
}

func (c *client) leave(ctx context.Context, topic string) {
	t, err := c.hub.Get(ctx, topic)
	if err != nil || t == nil {
		return
	}
	if err := t.Unsubscribe(ctx, c.id); err != nil && !errors.Is(err, hub.ErrTopicClosed) {
		c.log.Debug("unsubscribe failed", zap.String("topic", topic), zap.Error(err))
	}
	_ = c.hub.Prune(ctx, topic)
}

func (c *client) leaveAll() {
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	for topic, sub := range c.subs {
		sub.leaving.Store(true)
		c.leave(ctx, topic)
		delete(c.subs, topic)
	}
}

func (c *client) publish(ctx context.Context, f frame.Frame) {
	n, err := c.hub.Publish(ctx, f.Topic, c.id, f.Payload)
	if err != nil {
		c.reply(frame.Err(f.Topic, "publish failed"))
		return
	}
	if n == 0 {
		_ = c.hub.Prune(ctx, f.Topic)
	}

	entry := journal.Entry{
		Topic:    f.Topic,
		Type:     wire.PeekType(f.Payload),
		ClientID: c.id,
		QoS:      f.QoS,
		Size:     len(f.Payload),
		Fanout:   n,
	}
	if err := c.opts.Journal.Record(ctx, entry); err != nil {
		c.log.Warn("journal write failed", zap.Error(err))
	}
}
