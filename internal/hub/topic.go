package hub

import (
	"context"
	"errors"
	"sync/atomic"

	"go.uber.org/zap"
)

var ErrTopicClosed = errors.New("topic closed")

// Delivery is one published payload on its way to a subscriber.
type Delivery struct {
	Topic   string
	From    string
	Payload []byte
}

type TopicMsg interface{ isTopicMsg() }

type Join struct {
	ClientID string
	Outbox   chan Delivery // where this subscriber wants to receive deliveries
	Reply    chan struct{}
}

type Leave struct {
	ClientID string
}

type Publish struct {
	From    string
	Payload []byte
	Reply   chan int // number of subscribers the payload was handed to
}

func (Join) isTopicMsg()    {}
func (Leave) isTopicMsg()   {}
func (Publish) isTopicMsg() {}

type TopicInfo struct {
	Name        string `json:"name"`
	Subscribers int64  `json:"subscribers"`
	Published   int64  `json:"published"`
}

type Topic struct {
	name    string
	inbox   chan TopicMsg
	clients map[string]chan Delivery

	subscribers atomic.Int64
	published   atomic.Int64

	log    *zap.Logger
	ctx    context.Context
	cancel context.CancelFunc
}

func newTopic(parent context.Context, name string, log *zap.Logger) *Topic {
	ctx, cancel := context.WithCancel(parent)
	t := &Topic{
		name:    name,
		inbox:   make(chan TopicMsg, 64),
		clients: make(map[string]chan Delivery),
		log:     log.With(zap.String("topic", name)),
		ctx:     ctx,
		cancel:  cancel,
	}
	go t.loop()
	return t
}

func (t *Topic) Name() string { return t.name }

func (t *Topic) Done() <-chan struct{} { return t.ctx.Done() }

func (t *Topic) Info() TopicInfo {
	return TopicInfo{Name: t.name, Subscribers: t.subscribers.Load(), Published: t.published.Load()}
}

func (t *Topic) loop() {
	for {
		select {
		case <-t.ctx.Done():
			t.shutdown()
			return

		case m := <-t.inbox:
			if t.ctx.Err() != nil {
				t.shutdown()
				return
			}
			switch msg := m.(type) {
			case Join:
				if old, ok := t.clients[msg.ClientID]; ok && old != msg.Outbox {
					close(old)
				}
				t.clients[msg.ClientID] = msg.Outbox
				t.subscribers.Store(int64(len(t.clients)))
				close(msg.Reply)

			case Leave:
				if ch, ok := t.clients[msg.ClientID]; ok {
					close(ch)
					delete(t.clients, msg.ClientID)
					t.subscribers.Store(int64(len(t.clients)))
				}

			case Publish:
				t.published.Add(1)
				msg.Reply <- t.fanout(Delivery{Topic: t.name, From: msg.From, Payload: msg.Payload})
			}
		}
	}
}

func (t *Topic) fanout(d Delivery) int {
	n := 0
	for id, ch := range t.clients {
		select {
		case ch <- d:
			n++
		default:
			// Subscriber is slow/full - drop them.
			t.log.Warn("dropping slow subscriber", zap.String("client", id))
			close(ch)
			delete(t.clients, id)
		}
	}
	t.subscribers.Store(int64(len(t.clients)))
	return n
}

func (t *Topic) shutdown() {
	for id, ch := range t.clients {
		close(ch)
		delete(t.clients, id)
	}
	t.subscribers.Store(0)
	t.cancel()
}

func (t *Topic) send(ctx context.Context, msg TopicMsg) error {
	select {
	case t.inbox <- msg:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-t.ctx.Done():
		return ErrTopicClosed
	}
}

// Subscribe registers outbox and waits until the topic has taken it. A topic
// that stops before that returns ErrTopicClosed and the caller should ask the
// hub for a fresh one.
func (t *Topic) Subscribe(ctx context.Context, clientID string, outbox chan Delivery) error {
	reply := make(chan struct{})
	if err := t.send(ctx, Join{ClientID: clientID, Outbox: outbox, Reply: reply}); err != nil {
		return err
	}
	select {
	case <-reply:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-t.ctx.Done():
		return ErrTopicClosed
	}
}

func (t *Topic) Unsubscribe(ctx context.Context, clientID string) error {
	return t.send(ctx, Leave{ClientID: clientID})
}

func (t *Topic) Publish(ctx context.Context, from string, payload []byte) (int, error) {
	reply := make(chan int, 1)
	if err := t.send(ctx, Publish{From: from, Payload: payload, Reply: reply}); err != nil {
		return 0, err
	}
	select {
	case n := <-reply:
		return n, nil
	case <-ctx.Done():
		return 0, ctx.Err()
	case <-t.ctx.Done():
		return 0, ErrTopicClosed
	}
}
